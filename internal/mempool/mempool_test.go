package mempool_test

import (
	"context"
	"testing"

	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/mempool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPool_SubmitAndDrain(t *testing.T) {
	ctx := context.Background()
	pool := mempool.NewInMemoryPool()

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(ctx, mempool.Transaction{Hash: core.TxHash("t"), Nonce: core.Nonce(i)}))
	}
	assert.Equal(t, 5, pool.Len())

	first, err := pool.GetTxs(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, first, 3)
	assert.Equal(t, 2, pool.Len())

	rest, err := pool.GetTxs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
	assert.Equal(t, 0, pool.Len())
}

func TestInMemoryPool_CommitBlock(t *testing.T) {
	pool := mempool.NewInMemoryPool()
	err := pool.CommitBlock(context.Background(), mempool.CommitBlockNotification{
		AddressToNonce: map[core.Address]core.Nonce{"0x1": 3},
		TxHashes:       []core.TxHash{"0xabc"},
	})
	require.NoError(t, err)
}
