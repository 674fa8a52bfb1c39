package builder_test

import (
	"context"
	"testing"
	"time"

	"github.com/rechain/starknet-sequencer/internal/builder"
	"github.com/rechain/starknet-sequencer/internal/classcache"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/execution"
	"github.com/rechain/starknet-sequencer/internal/mempool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory(t *testing.T, capacity core.BouncerWeights) *builder.Factory {
	t.Helper()
	classes, err := classcache.New(8)
	require.NoError(t, err)
	classes.Put(testClass("0xalice"))

	return builder.NewFactory(
		nil, classes,
		func() execution.CairoRunner { return execution.NewFakeRunner(make([]uint64, 32)) },
		execution.DefaultVersionedConstants(),
		3, capacity,
	)
}

func TestBuilder_DrainsMempoolUntilEmptyThenDeadline(t *testing.T) {
	factory := newTestFactory(t, core.BouncerWeights{
		NSteps:        1_000_000,
		BuiltinCounts: map[string]uint64{"pedersen": 1_000_000, "range_check96": 1_000_000, "segment_arena": 1_000_000},
	})

	pool := mempool.NewInMemoryPool()
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.Submit(context.Background(), mempool.Transaction{Hash: core.TxHash("0x"), Sender: "0xalice"}))
	}
	provider := &builder.MempoolProvider{Pool: pool}

	b, abort := factory.CreateBuilder(builder.BlockMetadata{}, provider, nil, builder.ExecutionParams{
		Deadline:        time.Now().Add(20 * time.Millisecond),
		EmptyChunkSleep: 5 * time.Millisecond,
	})
	defer close(abort)

	artifacts, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, artifacts.StateDiff)
}

func TestBuilder_AbortSignalStopsBuild(t *testing.T) {
	factory := newTestFactory(t, core.BouncerWeights{NSteps: 1_000_000, BuiltinCounts: map[string]uint64{"pedersen": 1_000_000, "range_check96": 1_000_000, "segment_arena": 1_000_000}})

	pool := mempool.NewInMemoryPool()
	provider := &builder.MempoolProvider{Pool: pool}

	b, abort := factory.CreateBuilder(builder.BlockMetadata{}, provider, nil, builder.ExecutionParams{})

	done := make(chan error, 1)
	go func() {
		_, err := b.Build(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	close(abort)

	select {
	case err := <-done:
		require.ErrorIs(t, err, builder.ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("build did not observe abort signal")
	}
}

func TestBuilder_FailOnErr_BlockFullReturnsError(t *testing.T) {
	factory := newTestFactory(t, core.BouncerWeights{NSteps: 1, BuiltinCounts: map[string]uint64{}})

	pool := mempool.NewInMemoryPool()
	require.NoError(t, pool.Submit(context.Background(), mempool.Transaction{Hash: "0x1", Sender: "0xalice"}))
	provider := &builder.MempoolProvider{Pool: pool}

	b, abort := factory.CreateBuilder(builder.BlockMetadata{}, provider, nil, builder.ExecutionParams{FailOnErr: true})
	defer close(abort)

	_, err := b.Build(context.Background())
	require.Error(t, err)
	var failErr *builder.FailOnErrorErr
	require.ErrorAs(t, err, &failErr)
	assert.Equal(t, builder.FailOnErrorBlockFull, failErr.Cause)
}

func TestBuilder_StreamsAdmittedTransactions(t *testing.T) {
	factory := newTestFactory(t, core.BouncerWeights{
		NSteps:        1_000_000,
		BuiltinCounts: map[string]uint64{"pedersen": 1_000_000, "range_check96": 1_000_000, "segment_arena": 1_000_000},
	})

	pool := mempool.NewInMemoryPool()
	require.NoError(t, pool.Submit(context.Background(), mempool.Transaction{Hash: "0x1", Sender: "0xalice"}))
	provider := &builder.MempoolProvider{Pool: pool}

	output := make(chan mempool.Transaction, 4)
	b, abort := factory.CreateBuilder(builder.BlockMetadata{}, provider, output, builder.ExecutionParams{
		Deadline:        time.Now().Add(20 * time.Millisecond),
		EmptyChunkSleep: 5 * time.Millisecond,
	})
	defer close(abort)

	_, err := b.Build(context.Background())
	require.NoError(t, err)

	select {
	case tx := <-output:
		assert.Equal(t, core.TxHash("0x1"), tx.Hash)
	default:
		t.Fatal("expected the admitted transaction to be streamed")
	}
}
