package proposal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rechain/starknet-sequencer/internal/builder"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/proposal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuild struct {
	artifacts *builder.BlockExecutionArtifacts
	err       error
	started   chan struct{}
	release   chan struct{}
}

func (f *fakeBuild) Build(ctx context.Context) (*builder.BlockExecutionArtifacts, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.artifacts, f.err
}

func TestManager_SpawnAndTakeResult(t *testing.T) {
	m := proposal.NewManager()
	build := &fakeBuild{artifacts: &builder.BlockExecutionArtifacts{StateDiff: core.NewThinStateDiff()}}

	require.NoError(t, m.SpawnProposal(1, build, nil))
	awaited := m.AwaitActiveProposal()
	assert.True(t, awaited)

	result, ok := m.TakeProposalResult(1)
	require.True(t, ok)
	assert.True(t, result.Ok())

	_, ok = m.TakeProposalResult(1)
	assert.False(t, ok)
}

func TestManager_RejectsSecondActiveProposal(t *testing.T) {
	m := proposal.NewManager()
	started := make(chan struct{})
	release := make(chan struct{})
	build := &fakeBuild{started: started, release: release}

	require.NoError(t, m.SpawnProposal(1, build, nil))
	<-started

	err := m.SpawnProposal(2, &fakeBuild{}, nil)
	require.ErrorIs(t, err, proposal.ErrProposalActive)

	close(release)
	m.AwaitActiveProposal()
}

func TestManager_AbortProposal(t *testing.T) {
	m := proposal.NewManager()
	started := make(chan struct{})
	abort := make(chan struct{})
	build := &fakeBuild{started: started, release: abort, err: builder.ErrAborted}

	require.NoError(t, m.SpawnProposal(1, build, abort))
	<-started

	done := make(chan struct{})
	go func() {
		m.AbortProposal(1)
		close(done)
	}()

	select {
	case <-abort:
	case <-time.After(time.Second):
		t.Fatal("expected abort channel to be closed")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AbortProposal did not return")
	}

	result, ok := m.TakeProposalResult(1)
	require.True(t, ok)
	assert.Equal(t, core.CauseAborted, result.Cause)
}

func TestManager_Reset(t *testing.T) {
	m := proposal.NewManager()
	build := &fakeBuild{artifacts: &builder.BlockExecutionArtifacts{StateDiff: core.NewThinStateDiff()}}
	require.NoError(t, m.SpawnProposal(1, build, nil))
	m.AwaitActiveProposal()

	m.Reset()

	_, ok := m.TakeProposalResult(1)
	assert.False(t, ok)
}

func TestManager_AwaitActiveProposal_NoneActive(t *testing.T) {
	m := proposal.NewManager()
	assert.False(t, m.AwaitActiveProposal())
}

func TestToProposalResult_FailOnErrorCauses(t *testing.T) {
	m := proposal.NewManager()
	build := &fakeBuild{err: &builder.FailOnErrorErr{Cause: builder.FailOnErrorBlockFull}}
	require.NoError(t, m.SpawnProposal(1, build, nil))
	m.AwaitActiveProposal()

	result, ok := m.TakeProposalResult(1)
	require.True(t, ok)
	assert.Equal(t, core.CauseBlockFull, result.Cause)
	require.Error(t, result.Err)
	assert.True(t, errors.As(result.Err, new(*builder.FailOnErrorErr)))
}
