package execution

import "github.com/rechain/starknet-sequencer/internal/core"

// EntryPointCall names the contract call C1 is asked to run: a selector
// resolved against a CompiledClass's entry point table, plus calldata and
// the gas budget available to the call.
type EntryPointCall struct {
	Selector     string
	CalldataLen  uint64
	InitialGas   uint64
	StorageAddr  core.Address
}

// StateProxy is the narrow slice of execution state C1 needs: recording
// which program counters were visited for fee/gas audit. The rest of
// "state" (storage reads, nonces) belongs to the block builder, which is
// the only caller that needs those; C1 only ever needs to report visited
// PCs back.
type StateProxy interface {
	AddVisitedPcs(class core.ClassHash, pcs map[uint64]struct{})
}

// MapStateProxy is a minimal in-memory StateProxy, used by the builder and
// by tests.
type MapStateProxy struct {
	Visited core.VisitedPcs
}

// NewMapStateProxy returns a StateProxy with an initialized visited-set map.
func NewMapStateProxy() *MapStateProxy {
	return &MapStateProxy{Visited: make(core.VisitedPcs)}
}

func (s *MapStateProxy) AddVisitedPcs(class core.ClassHash, pcs map[uint64]struct{}) {
	for pc := range pcs {
		s.Visited.Add(class, pc)
	}
}
