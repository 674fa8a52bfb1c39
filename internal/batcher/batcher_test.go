package batcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/rechain/starknet-sequencer/internal/batcher"
	"github.com/rechain/starknet-sequencer/internal/builder"
	"github.com/rechain/starknet-sequencer/internal/classcache"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/execution"
	"github.com/rechain/starknet-sequencer/internal/l1"
	"github.com/rechain/starknet-sequencer/internal/mempool"
	"github.com/rechain/starknet-sequencer/internal/storage"
	"github.com/rechain/starknet-sequencer/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClass(hash core.ClassHash) *core.CompiledClass {
	return &core.CompiledClass{
		ClassHash: hash,
		Bytecode:  make([]uint64, 32),
		EntryPoints: map[string]execution.EntryPoint{
			"__execute__": {PC: 4, Builtins: []string{"range_check96", "pedersen"}},
		},
	}
}

// ampleCapacity is large enough that no realistic test transaction count
// trips the bouncer's BlockFull path.
func ampleCapacity() core.BouncerWeights {
	return core.BouncerWeights{
		NSteps:        1_000_000,
		BuiltinCounts: map[string]uint64{"pedersen": 1_000_000, "range_check96": 1_000_000, "segment_arena": 1_000_000},
	}
}

func newTestBatcher(t *testing.T, store *storage.SequencerStore, capacity core.BouncerWeights) (*batcher.Batcher, mempool.Client) {
	t.Helper()

	classes, err := classcache.New(8)
	require.NoError(t, err)
	classes.Put(testClass("0xalice"))

	factory := builder.NewFactory(
		store, classes,
		func() execution.CairoRunner { return execution.NewFakeRunner(make([]uint64, 32)) },
		execution.DefaultVersionedConstants(),
		3,
		capacity,
	)

	pool := mempool.NewInMemoryPool()
	b := batcher.New(store, store, pool, l1.StaticClient{Hash: "0x0"}, factory, batcher.Config{StreamChunkSize: 3})
	return b, pool
}

// Scenario 1 of spec.md §8: start_height(1); validate_block; send one
// transaction; Finish yields Finished(commitment).
func TestBatcher_ValidateFlow(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()
	store := env.WithSequencerStore()

	b, _ := newTestBatcher(t, store, ampleCapacity())
	ctx := context.Background()

	require.NoError(t, b.StartHeight(ctx, 1))

	id, err := b.ValidateBlock(ctx, batcher.ValidateBlockInput{Height: 1, Deadline: time.Now().Add(5 * time.Second)})
	require.NoError(t, err)

	status, err := b.SendProposalContent(ctx, id, batcher.ProposalContent{
		Kind: batcher.ContentTxs,
		Txs:  []batcher.ProposalTx{{Hash: "0xt1", Sender: "0xalice"}},
	})
	require.NoError(t, err)
	assert.Equal(t, batcher.StatusProcessing, status.Kind)

	status, err = b.SendProposalContent(ctx, id, batcher.ProposalContent{Kind: batcher.ContentFinish})
	require.NoError(t, err)
	assert.Equal(t, batcher.StatusFinished, status.Kind)
	assert.NotEmpty(t, status.Commitment.StateDiffCommitment)
}

// Scenario 2 of spec.md §8: with chunk size 3 and 7 accepted transactions,
// get_proposal_content returns 3,3,1 then Finished, then ProposalNotFound.
func TestBatcher_ProposeStreaming(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()
	store := env.WithSequencerStore()

	b, pool := newTestBatcher(t, store, ampleCapacity())
	ctx := context.Background()

	require.NoError(t, b.StartHeight(ctx, 1))
	for i := 0; i < 7; i++ {
		require.NoError(t, pool.Submit(ctx, mempool.Transaction{Hash: core.TxHash("0xt"), Sender: "0xalice"}))
	}

	id, err := b.ProposeBlock(ctx, batcher.ProposeBlockInput{Height: 1, Deadline: time.Now().Add(5 * time.Second)})
	require.NoError(t, err)

	var counts []int
	var finished bool
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		batch, err := b.GetProposalContent(ctx, id)
		require.NoError(t, err)
		if len(batch.Txs) > 0 {
			counts = append(counts, len(batch.Txs))
			continue
		}
		if batch.Status.Kind == batcher.StatusFinished {
			finished = true
			break
		}
	}
	require.True(t, finished, "proposal did not finish before deadline")
	assert.Equal(t, []int{3, 3, 1}, counts)

	_, err = b.GetProposalContent(ctx, id)
	assert.ErrorIs(t, err, batcher.ErrProposalNotFound)
}

// Scenario 3 of spec.md §8: a builder failing BlockFull marks the proposal
// InvalidProposal on the next status poll, since validate_block runs with
// fail_on_err=true.
func TestBatcher_InvalidProposalOnBlockFull(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()
	store := env.WithSequencerStore()

	tightCapacity := core.BouncerWeights{NSteps: 1, BuiltinCounts: map[string]uint64{}}
	b, _ := newTestBatcher(t, store, tightCapacity)
	ctx := context.Background()

	require.NoError(t, b.StartHeight(ctx, 1))
	id, err := b.ValidateBlock(ctx, batcher.ValidateBlockInput{Height: 1, Deadline: time.Now().Add(5 * time.Second)})
	require.NoError(t, err)

	_, err = b.SendProposalContent(ctx, id, batcher.ProposalContent{
		Kind: batcher.ContentTxs,
		Txs:  []batcher.ProposalTx{{Hash: "0xt1", Sender: "0xalice"}},
	})
	require.NoError(t, err)

	status, err := b.SendProposalContent(ctx, id, batcher.ProposalContent{Kind: batcher.ContentFinish})
	require.NoError(t, err)
	assert.Equal(t, batcher.StatusInvalidProposal, status.Kind)
}

func TestBatcher_StartHeightBoundaries(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	defer env.Close()
	store := env.WithSequencerStore()

	b, _ := newTestBatcher(t, store, ampleCapacity())
	ctx := context.Background()

	require.ErrorIs(t, b.StartHeight(ctx, 0), batcher.ErrHeightAlreadyPassed)
	require.ErrorIs(t, b.StartHeight(ctx, 2), batcher.ErrStorageNotSynced)
	require.NoError(t, b.StartHeight(ctx, 1))
	require.ErrorIs(t, b.StartHeight(ctx, 1), batcher.ErrHeightInProgress)
}
