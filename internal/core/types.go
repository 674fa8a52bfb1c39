// Package core holds the data-model types shared across the sequencer
// pipeline: execution results, proposal bookkeeping, and the thin state
// diff that flows from the block builder into storage and consensus.
package core

import "fmt"

// BlockNumber is a strictly monotonic block height.
type BlockNumber uint64

// BlockInfo is immutable once set for a height.
type BlockInfo struct {
	BlockNumber BlockNumber
	Timestamp   uint64
	GasPrices   GasPrices
}

// GasPrices carries the per-resource gas prices in effect for a block.
type GasPrices struct {
	L1GasPrice     uint64
	L1DataGasPrice uint64
	L2GasPrice     uint64
}

// ProposalId is a dense integer handle, opaque to callers, unique within a
// process lifetime.
type ProposalId uint64

// Address is an opaque contract/account address.
type Address string

// ClassHash identifies a compiled contract class.
type ClassHash string

// Nonce is a per-address transaction counter.
type Nonce uint64

// TxHash identifies a transaction; hashing itself is out of scope (spec.md
// §1 Non-goals) so this is an opaque envelope.
type TxHash string

// ProposalCommitment is produced exactly once per successful proposal.
type ProposalCommitment struct {
	StateDiffCommitment string
}

// ProposalOutput is produced only on success.
type ProposalOutput struct {
	Commitment ProposalCommitment
	StateDiff  ThinStateDiff
	TxHashes   []TxHash
	Nonces     map[Address]Nonce
}

// ProposalFailureCause enumerates why a proposal did not produce an output.
type ProposalFailureCause int

const (
	CauseNone ProposalFailureCause = iota
	CauseBlockFull
	CauseDeadlineReached
	CauseTransactionFailed
	CauseAborted
)

func (c ProposalFailureCause) String() string {
	switch c {
	case CauseBlockFull:
		return "BlockFull"
	case CauseDeadlineReached:
		return "DeadlineReached"
	case CauseTransactionFailed:
		return "TransactionFailed"
	case CauseAborted:
		return "Aborted"
	default:
		return "None"
	}
}

// ProposalResult is the Ok(ProposalOutput) | Err(Cause) variant of spec.md §3.
type ProposalResult struct {
	Output *ProposalOutput
	Cause  ProposalFailureCause
	Err    error
}

// Ok reports whether the proposal produced an output.
func (r ProposalResult) Ok() bool { return r.Output != nil && r.Err == nil }

// ThinStateDiff preserves insertion order on every map it carries, mirroring
// the teacher's preference for small hand-rolled containers (pkg/merkle,
// pkg/crdt) over a generic ordered-map dependency — see DESIGN.md.
type ThinStateDiff struct {
	storageAddrs []Address
	StorageDiffs map[Address]*OrderedStorage

	nonceAddrs []Address
	Nonces     map[Address]Nonce

	DeclaredClasses  []ClassHash
	DeployedContract map[Address]ClassHash
	deployedAddrs    []Address
}

// NewThinStateDiff returns an empty, ready-to-use diff.
func NewThinStateDiff() *ThinStateDiff {
	return &ThinStateDiff{
		StorageDiffs:     make(map[Address]*OrderedStorage),
		Nonces:           make(map[Address]Nonce),
		DeployedContract: make(map[Address]ClassHash),
	}
}

// SetStorage records a storage write, preserving first-seen address order.
func (d *ThinStateDiff) SetStorage(addr Address, key, value string) {
	storage, ok := d.StorageDiffs[addr]
	if !ok {
		storage = newOrderedStorage()
		d.StorageDiffs[addr] = storage
		d.storageAddrs = append(d.storageAddrs, addr)
	}
	storage.Set(key, value)
}

// SetNonce records a nonce write, preserving first-seen address order.
func (d *ThinStateDiff) SetNonce(addr Address, n Nonce) {
	if _, ok := d.Nonces[addr]; !ok {
		d.nonceAddrs = append(d.nonceAddrs, addr)
	}
	d.Nonces[addr] = n
}

// SetDeployedContract records a new contract deployment.
func (d *ThinStateDiff) SetDeployedContract(addr Address, class ClassHash) {
	if _, ok := d.DeployedContract[addr]; !ok {
		d.deployedAddrs = append(d.deployedAddrs, addr)
	}
	d.DeployedContract[addr] = class
}

// StorageAddresses returns addresses with storage writes, in insertion order.
func (d *ThinStateDiff) StorageAddresses() []Address { return append([]Address(nil), d.storageAddrs...) }

// NonceAddresses returns addresses with nonce writes, in insertion order.
func (d *ThinStateDiff) NonceAddresses() []Address { return append([]Address(nil), d.nonceAddrs...) }

// DeployedAddresses returns newly deployed addresses, in insertion order.
func (d *ThinStateDiff) DeployedAddresses() []Address {
	return append([]Address(nil), d.deployedAddrs...)
}

// Flatten produces a deterministic key/value map of the diff, suitable for
// feeding into a Merkle commitment.
func (d *ThinStateDiff) Flatten() map[string][]byte {
	out := make(map[string][]byte)
	for _, addr := range d.storageAddrs {
		storage := d.StorageDiffs[addr]
		for _, key := range storage.Keys() {
			v, _ := storage.Get(key)
			out[fmt.Sprintf("storage/%s/%s", addr, key)] = []byte(v)
		}
	}
	for _, addr := range d.nonceAddrs {
		out[fmt.Sprintf("nonce/%s", addr)] = []byte(fmt.Sprintf("%d", d.Nonces[addr]))
	}
	for _, addr := range d.deployedAddrs {
		out[fmt.Sprintf("deployed/%s", addr)] = []byte(d.DeployedContract[addr])
	}
	for _, c := range d.DeclaredClasses {
		out[fmt.Sprintf("declared/%s", c)] = []byte{1}
	}
	return out
}

// OrderedStorage is an insertion-ordered key/value map scoped to one address.
type OrderedStorage struct {
	keys   []string
	values map[string]string
}

func newOrderedStorage() *OrderedStorage {
	return &OrderedStorage{values: make(map[string]string)}
}

// Set records a key/value pair, preserving first-seen key order.
func (s *OrderedStorage) Set(key, value string) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Get returns the value for key and whether it was present.
func (s *OrderedStorage) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (s *OrderedStorage) Keys() []string { return append([]string(nil), s.keys...) }

// BouncerWeights is monotonic non-decreasing within a single block build.
type BouncerWeights struct {
	NSteps              uint64
	BuiltinCounts        map[string]uint64
	StateDiffSize        uint64
	MessageSegmentLength uint64
}

// NewBouncerWeights returns a zeroed weights accumulator.
func NewBouncerWeights() BouncerWeights {
	return BouncerWeights{BuiltinCounts: make(map[string]uint64)}
}

// Add accumulates other into w in place, keeping the monotonic invariant.
func (w *BouncerWeights) Add(other BouncerWeights) {
	w.NSteps += other.NSteps
	w.StateDiffSize += other.StateDiffSize
	w.MessageSegmentLength += other.MessageSegmentLength
	if w.BuiltinCounts == nil {
		w.BuiltinCounts = make(map[string]uint64)
	}
	for k, v := range other.BuiltinCounts {
		w.BuiltinCounts[k] += v
	}
}

// ExceedsCapacity reports whether w exceeds cap on any dimension.
func (w BouncerWeights) ExceedsCapacity(cap BouncerWeights) bool {
	if w.NSteps > cap.NSteps || w.StateDiffSize > cap.StateDiffSize || w.MessageSegmentLength > cap.MessageSegmentLength {
		return true
	}
	for k, v := range w.BuiltinCounts {
		if v > cap.BuiltinCounts[k] {
			return true
		}
	}
	return false
}

// BouncerConfig names the per-block capacity ceiling.
type BouncerConfig struct {
	BlockMaxCapacity BouncerWeights
}

// VisitedPcs is the set of program-counter offsets visited per class,
// accumulated across a block.
type VisitedPcs map[ClassHash]map[uint64]struct{}

// Add records pc as visited for class.
func (v VisitedPcs) Add(class ClassHash, pc uint64) {
	set, ok := v[class]
	if !ok {
		set = make(map[uint64]struct{})
		v[class] = set
	}
	set[pc] = struct{}{}
}

// EntryPoint is one callable location in a CompiledClass.
type EntryPoint struct {
	PC       uint64
	Builtins []string
}

// CompiledClass is immutable and shared by reference from the classcache.
type CompiledClass struct {
	ClassHash   ClassHash
	Bytecode    []uint64
	Hints       map[uint64]string
	EntryPoints map[string]EntryPoint
}

// ChargedResources is the per-call resource accounting that C1 produces and
// that sums recursively into a call tree (spec.md §4.6).
type ChargedResources struct {
	VMResources  map[string]uint64
	GasConsumed  uint64
}

// Add accumulates other into c in place.
func (c *ChargedResources) Add(other ChargedResources) {
	if c.VMResources == nil {
		c.VMResources = make(map[string]uint64)
	}
	for k, v := range other.VMResources {
		c.VMResources[k] += v
	}
	c.GasConsumed += other.GasConsumed
}

// CallInfo is the tree-structured output of one entry-point call.
type CallInfo struct {
	Retdata                  []uint64
	Events                   []Event
	L2ToL1Messages           []L2ToL1Message
	Failed                   bool
	GasConsumed              uint64
	InnerCalls               []*CallInfo
	ChargedResources         ChargedResources
	StorageReadValues        []uint64
	AccessedStorageKeys      map[uint64]struct{}
	AccessedContractAddresses map[Address]struct{}
	ReadClassHashValues      []ClassHash
}

// Event is an emitted contract event.
type Event struct {
	Keys []uint64
	Data []uint64
}

// L2ToL1Message is an outgoing message destined for L1.
type L2ToL1Message struct {
	ToAddress Address
	Payload   []uint64
}

// SummarizeChargedResources sums a call's own charged resources with the
// recursively summarized charged resources of every inner call.
func SummarizeChargedResources(call *CallInfo) ChargedResources {
	total := ChargedResources{VMResources: make(map[string]uint64)}
	total.Add(call.ChargedResources)
	for _, inner := range call.InnerCalls {
		total.Add(SummarizeChargedResources(inner))
	}
	return total
}
