// Package builder implements the block builder (C2): the transaction
// execution pipeline that turns a stream of pending transactions into a
// committed ThinStateDiff, bounded by a deadline and a bouncer capacity
// ceiling. Grounded on
// original_source/crates/starknet_batcher/src/block_builder.rs, restructured
// around the teacher's goroutine-and-channel idiom instead of tokio tasks.
package builder

import (
	"errors"
	"time"

	"github.com/rechain/starknet-sequencer/internal/core"
)

// ErrBlockFull is returned by the executor when the bouncer capacity ceiling
// is exceeded and no further transactions can be added.
var ErrBlockFull = errors.New("builder: block is full")

// ErrAborted is returned by Build when the abort channel fires mid-loop.
var ErrAborted = errors.New("builder: aborted")

// FailOnErrorCause names why Build returned early under FailOnErr.
type FailOnErrorCause int

const (
	FailOnErrorNone FailOnErrorCause = iota
	FailOnErrorBlockFull
	FailOnErrorDeadlineReached
	FailOnErrorTransactionFailed
)

// FailOnErrorErr wraps a FailOnErrorCause as an error, returned by Build when
// ExecutionParams.FailOnErr is set and the loop would otherwise have
// tolerated the condition.
type FailOnErrorErr struct {
	Cause FailOnErrorCause
	Err   error
}

func (e *FailOnErrorErr) Error() string {
	switch e.Cause {
	case FailOnErrorBlockFull:
		return "builder: block is full"
	case FailOnErrorDeadlineReached:
		return "builder: deadline reached"
	case FailOnErrorTransactionFailed:
		return "builder: transaction failed: " + e.Err.Error()
	default:
		return "builder: fail-on-error"
	}
}

func (e *FailOnErrorErr) Unwrap() error { return e.Err }

// ExecutionParams configures one build_block run.
type ExecutionParams struct {
	Deadline  time.Time
	FailOnErr bool

	// EmptyChunkSleep overrides how long Build waits before retrying the
	// provider after an empty (but not End) chunk. Defaults to one second,
	// matching the teacher's fixed sleep.
	EmptyChunkSleep time.Duration
}

// BlockExecutionArtifacts is the result of a completed build, handed to the
// proposal manager for commitment and storage.
type BlockExecutionArtifacts struct {
	ExecutionInfos  map[core.TxHash]*core.CallInfo
	StateDiff       *core.ThinStateDiff
	VisitedPcs      core.VisitedPcs
	BouncerWeights  core.BouncerWeights
}
