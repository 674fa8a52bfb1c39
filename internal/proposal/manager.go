// Package proposal implements the proposal manager (C3): it owns exactly
// one in-flight block build at a time and hands its eventual result off to
// whoever asks for it, by ProposalId. Grounded on spec.md §4.3; no close
// teacher analog beyond the "short critical section under mutex, a channel
// for completion signalling instead of a condition variable" idiom already
// used throughout internal/storage and internal/consensus.
package proposal

import (
	"context"
	"errors"
	"sync"

	"github.com/rechain/starknet-sequencer/internal/builder"
	"github.com/rechain/starknet-sequencer/internal/core"
)

// ErrProposalActive is returned by SpawnProposal when another proposal is
// already in flight; at most one active proposal is allowed globally.
var ErrProposalActive = errors.New("proposal: another proposal is already active")

// Build is the narrow capability a spawned proposal runs: anything
// implementing Build(ctx) (*builder.BlockExecutionArtifacts, error), which
// *builder.Builder already satisfies.
type Build interface {
	Build(ctx context.Context) (*builder.BlockExecutionArtifacts, error)
}

// Manager tracks the single active proposal and the results of finished
// ones, per spec.md §4.3's state: active_proposal, completed, active_abort.
type Manager struct {
	mu        sync.Mutex
	active    *core.ProposalId
	done      chan struct{}
	completed map[core.ProposalId]core.ProposalResult
	abort     chan<- struct{}
}

// NewManager returns an idle Manager.
func NewManager() *Manager {
	return &Manager{completed: make(map[core.ProposalId]core.ProposalResult)}
}

// SpawnProposal launches build in a goroutine, driving it to completion and
// recording the result under id in completed. abort, if non-nil, is the
// channel AbortProposal closes to cancel the in-flight build.
func (m *Manager) SpawnProposal(id core.ProposalId, build Build, abort chan<- struct{}) error {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return ErrProposalActive
	}
	active := id
	m.active = &active
	done := make(chan struct{})
	m.done = done
	m.abort = abort
	m.mu.Unlock()

	go func() {
		artifacts, err := build.Build(context.Background())
		result := toProposalResult(artifacts, err)

		m.mu.Lock()
		m.completed[id] = result
		m.active = nil
		m.abort = nil
		m.mu.Unlock()

		close(done)
	}()

	return nil
}

// AwaitActiveProposal blocks until the active proposal (if any) finishes.
// Returns whether a proposal was actually awaited, matching spec.md §4.3's
// "returns whether any proposal was awaited".
func (m *Manager) AwaitActiveProposal() bool {
	m.mu.Lock()
	done := m.done
	hadActive := m.active != nil
	m.mu.Unlock()

	if !hadActive || done == nil {
		return false
	}
	<-done
	return true
}

// PeekProposalResult returns the completed entry for id without consuming
// it, so a caller can poll completion status repeatedly (e.g. across
// several get_proposal_content/send_proposal_content calls) before the one
// call that is meant to consume it (decision_reached, via
// TakeProposalResult) actually does.
func (m *Manager) PeekProposalResult(id core.ProposalId) (core.ProposalResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result, ok := m.completed[id]
	return result, ok
}

// TakeProposalResult removes and returns the completed entry for id.
// Idempotent-after-None: a second call for the same id returns (zero, false).
func (m *Manager) TakeProposalResult(id core.ProposalId) (core.ProposalResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, ok := m.completed[id]
	if ok {
		delete(m.completed, id)
	}
	return result, ok
}

// AbortProposal signals the abort channel of the active proposal if id
// matches it, then waits for it to finish.
func (m *Manager) AbortProposal(id core.ProposalId) {
	m.mu.Lock()
	isActive := m.active != nil && *m.active == id
	abort := m.abort
	m.mu.Unlock()

	if !isActive {
		return
	}
	if abort != nil {
		close(abort)
	}
	m.AwaitActiveProposal()
}

// Reset aborts any active proposal and clears every completed result.
func (m *Manager) Reset() {
	m.mu.Lock()
	active := m.active
	abort := m.abort
	m.mu.Unlock()

	if active != nil {
		if abort != nil {
			close(abort)
		}
		m.AwaitActiveProposal()
	}

	m.mu.Lock()
	m.completed = make(map[core.ProposalId]core.ProposalResult)
	m.mu.Unlock()
}

func toProposalResult(artifacts *builder.BlockExecutionArtifacts, err error) core.ProposalResult {
	if err == nil {
		txHashes := make([]core.TxHash, 0, len(artifacts.ExecutionInfos))
		for hash := range artifacts.ExecutionInfos {
			txHashes = append(txHashes, hash)
		}
		nonces := make(map[core.Address]core.Nonce, len(artifacts.StateDiff.Nonces))
		for addr, n := range artifacts.StateDiff.Nonces {
			nonces[addr] = n
		}
		return core.ProposalResult{Output: &core.ProposalOutput{
			Commitment: core.ProposalCommitment{StateDiffCommitment: core.ComputeDiffCommitment(artifacts.StateDiff)},
			StateDiff:  *artifacts.StateDiff,
			TxHashes:   txHashes,
			Nonces:     nonces,
		}}
	}

	if errors.Is(err, builder.ErrAborted) {
		return core.ProposalResult{Cause: core.CauseAborted, Err: err}
	}

	var failErr *builder.FailOnErrorErr
	if errors.As(err, &failErr) {
		switch failErr.Cause {
		case builder.FailOnErrorBlockFull:
			return core.ProposalResult{Cause: core.CauseBlockFull, Err: err}
		case builder.FailOnErrorDeadlineReached:
			return core.ProposalResult{Cause: core.CauseDeadlineReached, Err: err}
		case builder.FailOnErrorTransactionFailed:
			return core.ProposalResult{Cause: core.CauseTransactionFailed, Err: err}
		}
	}

	return core.ProposalResult{Cause: core.CauseTransactionFailed, Err: err}
}
