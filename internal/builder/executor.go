package builder

import (
	"fmt"

	"github.com/rechain/starknet-sequencer/internal/classcache"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/execution"
	"github.com/rechain/starknet-sequencer/internal/mempool"
)

// TxResult is the outcome of executing one transaction: either a CallInfo or
// an error, matching the teacher's style of returning a result slice rather
// than failing the whole chunk on one bad transaction.
type TxResult struct {
	Info *core.CallInfo
	Err  error
}

// TransactionExecutor runs a chunk of transactions against one CompiledClass
// set and a running BouncerWeights accumulator, grounded on
// original_source/crates/blockifier/src/blockifier/transaction_executor.rs.
type TransactionExecutor struct {
	runner   execution.CairoRunner
	classes  *classcache.Cache
	state    execution.StateProxy
	execCtx  *execution.ExecutionContext
	capacity core.BouncerWeights
	weights  core.BouncerWeights

	stateDiff *core.ThinStateDiff
}

// NewTransactionExecutor constructs an executor bounded by capacity.
func NewTransactionExecutor(runner execution.CairoRunner, classes *classcache.Cache, execCtx *execution.ExecutionContext, capacity core.BouncerWeights) *TransactionExecutor {
	return &TransactionExecutor{
		runner:    runner,
		classes:   classes,
		state:     execution.NewMapStateProxy(),
		execCtx:   execCtx,
		capacity:  capacity,
		weights:   core.NewBouncerWeights(),
		stateDiff: core.NewThinStateDiff(),
	}
}

// defaultInitialGas is the per-call gas budget handed to every transaction's
// entry-point call; real fee estimation is out of scope (spec.md §1
// Non-goals).
const defaultInitialGas = 1_000_000_000

// AddTxsToBlock executes each transaction in chunk in order, stopping and
// returning ErrBlockFull as soon as one transaction's weights would push the
// accumulated bouncer weights over capacity. Transactions already admitted
// before the offending one keep their results.
func (e *TransactionExecutor) AddTxsToBlock(txs []mempool.Transaction) ([]TxResult, error) {
	results := make([]TxResult, 0, len(txs))
	for _, tx := range txs {
		info, txWeights, execErr := e.executeOne(tx)
		if execErr != nil {
			results = append(results, TxResult{Err: execErr})
			continue
		}

		candidate := copyBouncerWeights(e.weights)
		candidate.Add(txWeights)
		if candidate.ExceedsCapacity(e.capacity) {
			return results, ErrBlockFull
		}
		e.weights = candidate
		e.recordStateDiff(tx, info)
		results = append(results, TxResult{Info: info})
	}
	return results, nil
}

func (e *TransactionExecutor) executeOne(tx mempool.Transaction) (*core.CallInfo, core.BouncerWeights, error) {
	class, ok := e.classes.Get(core.ClassHash(tx.Sender))
	if !ok {
		return nil, core.BouncerWeights{}, fmt.Errorf("builder: no class registered for sender %s", tx.Sender)
	}

	call := execution.EntryPointCall{
		Selector:    "__execute__",
		CalldataLen: uint64(len(tx.Data)),
		InitialGas:  defaultInitialGas,
		StorageAddr: tx.Sender,
	}
	info, err := execution.ExecuteEntryPointCall(e.runner, call, class, e.state, e.execCtx)
	if err != nil {
		return nil, core.BouncerWeights{}, err
	}

	resources := core.SummarizeChargedResources(info)
	weights := core.NewBouncerWeights()
	weights.NSteps = resources.VMResources["n_steps"]
	for k, v := range resources.VMResources {
		if k == "n_steps" {
			continue
		}
		weights.BuiltinCounts[k] = v
	}
	return info, weights, nil
}

// copyBouncerWeights deep-copies w so a trial Add() that gets rejected for
// exceeding capacity never mutates the caller's accumulator (BuiltinCounts
// is a map, so a plain struct copy would share it).
func copyBouncerWeights(w core.BouncerWeights) core.BouncerWeights {
	out := w
	out.BuiltinCounts = make(map[string]uint64, len(w.BuiltinCounts))
	for k, v := range w.BuiltinCounts {
		out.BuiltinCounts[k] = v
	}
	return out
}

func (e *TransactionExecutor) recordStateDiff(tx mempool.Transaction, info *core.CallInfo) {
	e.stateDiff.SetNonce(tx.Sender, tx.Nonce+1)
	for i, v := range info.Retdata {
		e.stateDiff.SetStorage(tx.Sender, fmt.Sprintf("slot%d", i), fmt.Sprintf("%d", v))
	}
}

// CloseBlock finalizes the build, returning the accumulated diff, visited
// PCs, and bouncer weights. Grounded on the teacher's close_block, which
// returns (commitment_state_diff, visited_segments_mapping, bouncer_weights).
func (e *TransactionExecutor) CloseBlock() (*core.ThinStateDiff, core.VisitedPcs, core.BouncerWeights, error) {
	proxy, ok := e.state.(*execution.MapStateProxy)
	if !ok {
		return e.stateDiff, nil, e.weights, nil
	}
	return e.stateDiff, proxy.Visited, e.weights, nil
}
