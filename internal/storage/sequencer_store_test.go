package storage_test

import (
	"context"
	"testing"

	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencerStore_CommitAdvancesHeight(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()

	ctx := context.Background()
	store := env.WithSequencerStore()

	h, err := store.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.BlockNumber(0), h)

	diff := core.NewThinStateDiff()
	diff.SetStorage("0xalice", "balance", "100")
	diff.SetNonce("0xalice", 1)

	require.NoError(t, store.CommitProposal(ctx, 1, diff))

	h, err = store.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.BlockNumber(1), h)
	assert.NotEmpty(t, store.StateDiffCommitment())
}

func TestSequencerStore_RejectsNonSuccessorHeight(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()

	ctx := context.Background()
	store := env.WithSequencerStore()

	diff := core.NewThinStateDiff()
	err := store.CommitProposal(ctx, 5, diff)
	require.Error(t, err)
}

func TestSequencerStore_RootChangesWithEachCommit(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()

	ctx := context.Background()
	store := env.WithSequencerStore()

	diff1 := core.NewThinStateDiff()
	diff1.SetStorage("0xalice", "balance", "100")
	require.NoError(t, store.CommitProposal(ctx, 1, diff1))
	root1, err := store.RootAt(ctx, 1)
	require.NoError(t, err)

	diff2 := core.NewThinStateDiff()
	diff2.SetStorage("0xalice", "balance", "200")
	require.NoError(t, store.CommitProposal(ctx, 2, diff2))
	root2, err := store.RootAt(ctx, 2)
	require.NoError(t, err)

	assert.NotEqual(t, root1, root2)
}

func TestSequencerStore_RebuildsFromBaseOnRestart(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()

	ctx := context.Background()
	store := env.WithSequencerStore()

	diff := core.NewThinStateDiff()
	diff.SetStorage("0xalice", "balance", "100")
	require.NoError(t, store.CommitProposal(ctx, 1, diff))

	reopened := env.ReopenSequencerStore(t)
	h, err := reopened.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.BlockNumber(1), h)
}
