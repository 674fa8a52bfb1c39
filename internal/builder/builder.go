package builder

import (
	"context"
	"time"

	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/mempool"
)

// Builder runs one block build to completion, grounded on
// original_source/crates/starknet_batcher/src/block_builder.rs's
// build_block loop. Abort is delivered over a channel rather than a oneshot,
// matching the teacher's channel-first concurrency idiom.
type Builder struct {
	executor    *TransactionExecutor
	provider    TransactionProvider
	output      chan<- mempool.Transaction
	abort       <-chan struct{}
	txChunkSize int
	params      ExecutionParams

	emptyChunkSleep time.Duration
	executionInfos  map[core.TxHash]*core.CallInfo
}

// NewBuilder constructs a Builder. output may be nil when the caller does
// not need a streamed view of admitted transactions (the propose flow
// streams; the validate flow does not).
func NewBuilder(executor *TransactionExecutor, provider TransactionProvider, output chan<- mempool.Transaction, abort <-chan struct{}, txChunkSize int, params ExecutionParams) *Builder {
	sleep := params.EmptyChunkSleep
	if sleep == 0 {
		sleep = time.Second
	}
	return &Builder{
		executor:        executor,
		provider:        provider,
		output:          output,
		abort:           abort,
		txChunkSize:     txChunkSize,
		params:          params,
		emptyChunkSleep: sleep,
		executionInfos:  make(map[core.TxHash]*core.CallInfo),
	}
}

// Build runs the main loop: check the deadline, check for an abort signal,
// pull up to txChunkSize transactions, execute them, and repeat until the
// provider reports End, the block fills, or the deadline is reached. Exactly
// one CloseBlock call happens on those three paths; an abort, a FailOnErr
// short-circuit, a provider error or an executor error returns without
// calling CloseBlock.
func (b *Builder) Build(ctx context.Context) (*BlockExecutionArtifacts, error) {
	if b.output != nil {
		defer close(b.output)
	}

	for {
		if !b.params.Deadline.IsZero() && !time.Now().Before(b.params.Deadline) {
			if b.params.FailOnErr {
				return nil, &FailOnErrorErr{Cause: FailOnErrorDeadlineReached}
			}
			break
		}

		select {
		case <-b.abort:
			return nil, ErrAborted
		default:
		}

		next, err := b.provider.GetTxs(ctx, b.txChunkSize)
		if err != nil {
			return nil, err
		}
		if next.Kind == NextTxsEnd {
			break
		}
		if len(next.Txs) == 0 {
			select {
			case <-time.After(b.emptyChunkSleep):
			case <-b.abort:
				return nil, ErrAborted
			}
			continue
		}

		results, err := b.executor.AddTxsToBlock(next.Txs)
		blockFull, stopErr := b.collectResults(next.Txs, results, err)
		if stopErr != nil {
			return nil, stopErr
		}
		if blockFull {
			break
		}
	}

	diff, visited, weights, err := b.executor.CloseBlock()
	if err != nil {
		return nil, err
	}
	return &BlockExecutionArtifacts{
		ExecutionInfos: b.executionInfos,
		StateDiff:      diff,
		VisitedPcs:     visited,
		BouncerWeights: weights,
	}, nil
}

// collectResults reports whether the block is now full. execErr, when set,
// is ErrBlockFull from the executor's capacity check; individual per-tx
// failures arrive inside results instead.
func (b *Builder) collectResults(chunk []mempool.Transaction, results []TxResult, execErr error) (blockFull bool, err error) {
	for i, res := range results {
		if res.Err != nil {
			if b.params.FailOnErr {
				return false, &FailOnErrorErr{Cause: FailOnErrorTransactionFailed, Err: res.Err}
			}
			continue
		}
		b.executionInfos[chunk[i].Hash] = res.Info
		if b.output != nil {
			b.output <- chunk[i]
		}
	}

	if execErr == ErrBlockFull {
		if b.params.FailOnErr {
			return false, &FailOnErrorErr{Cause: FailOnErrorBlockFull}
		}
		return true, nil
	}
	if execErr != nil {
		return false, execErr
	}
	return false, nil
}
