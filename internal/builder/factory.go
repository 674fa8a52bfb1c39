package builder

import (
	"github.com/rechain/starknet-sequencer/internal/classcache"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/execution"
	"github.com/rechain/starknet-sequencer/internal/mempool"
	"github.com/rechain/starknet-sequencer/internal/storage"
)

// BlockMetadata carries the per-height context a build needs beyond the
// transaction stream itself.
type BlockMetadata struct {
	BlockInfo core.BlockInfo
}

// Factory wires a storage reader and a shared class cache into successive
// block builds, grounded on the teacher's BlockBuilderFactory (which wires a
// StorageReader and a GlobalContractCache into each TransactionExecutor it
// creates).
type Factory struct {
	Reader     storage.Reader
	Classes    *classcache.Cache
	NewRunner  func() execution.CairoRunner
	Constants  execution.VersionedConstants
	TxChunkSize int
	Capacity   core.BouncerWeights
}

// NewFactory builds a Factory. newRunner constructs a fresh CairoRunner for
// each block, since a runner is not safe to reuse across builds.
func NewFactory(reader storage.Reader, classes *classcache.Cache, newRunner func() execution.CairoRunner, constants execution.VersionedConstants, txChunkSize int, capacity core.BouncerWeights) *Factory {
	return &Factory{
		Reader:      reader,
		Classes:     classes,
		NewRunner:   newRunner,
		Constants:   constants,
		TxChunkSize: txChunkSize,
		Capacity:    capacity,
	}
}

// CreateBuilder constructs a Builder plus its abort channel for one block
// build. output may be nil (see NewBuilder).
func (f *Factory) CreateBuilder(metadata BlockMetadata, provider TransactionProvider, output chan<- mempool.Transaction, params ExecutionParams) (*Builder, chan<- struct{}) {
	execCtx := execution.NewExecutionContext(f.Constants)
	executor := NewTransactionExecutor(f.NewRunner(), f.Classes, execCtx, f.Capacity)

	abort := make(chan struct{})
	b := NewBuilder(executor, provider, output, abort, f.TxChunkSize, params)
	return b, abort
}
