package builder

import (
	"context"

	"github.com/rechain/starknet-sequencer/internal/mempool"
)

// NextTxsKind distinguishes "here are some transactions" from "there will
// never be more" (the validate-flow provider reaches End once the peer's
// proposal content channel closes; the propose-flow provider never ends on
// its own, only via deadline or abort).
type NextTxsKind int

const (
	NextTxsChunk NextTxsKind = iota
	NextTxsEnd
)

// NextTxs is the TransactionProvider.GetTxs result variant.
type NextTxs struct {
	Kind Kind
	Txs  []mempool.Transaction
}

// Kind is an alias kept local to avoid a stutter at call sites
// (builder.NextTxsKind reads oddly as a field type name).
type Kind = NextTxsKind

// TransactionProvider is the source of transactions for one block build,
// grounded on
// original_source/crates/starknet_batcher/src/transaction_provider.rs. The
// propose flow is backed by MempoolProvider; the validate flow is backed by
// a channel fed from incoming proposal-part network messages.
type TransactionProvider interface {
	GetTxs(ctx context.Context, n int) (NextTxs, error)
}

// MempoolProvider pulls transactions directly from the mempool client, used
// when this node is the proposer.
type MempoolProvider struct {
	Pool mempool.Client
}

func (p *MempoolProvider) GetTxs(ctx context.Context, n int) (NextTxs, error) {
	txs, err := p.Pool.GetTxs(ctx, n)
	if err != nil {
		return NextTxs{}, err
	}
	return NextTxs{Kind: NextTxsChunk, Txs: txs}, nil
}

// ChannelProvider relays transactions received over the network (decoded
// proposal parts) to the builder, used when this node is validating someone
// else's proposal. Close Input to signal NextTxsEnd.
type ChannelProvider struct {
	Input <-chan mempool.Transaction
}

func (p *ChannelProvider) GetTxs(ctx context.Context, n int) (NextTxs, error) {
	// Block for the first transaction so the builder doesn't busy-spin, then
	// drain whatever else is immediately available up to n.
	select {
	case tx, ok := <-p.Input:
		if !ok {
			return NextTxs{Kind: NextTxsEnd}, nil
		}
		txs := []mempool.Transaction{tx}
		for len(txs) < n {
			select {
			case tx, ok := <-p.Input:
				if !ok {
					return NextTxs{Kind: NextTxsChunk, Txs: txs}, nil
				}
				txs = append(txs, tx)
			default:
				return NextTxs{Kind: NextTxsChunk, Txs: txs}, nil
			}
		}
		return NextTxs{Kind: NextTxsChunk, Txs: txs}, nil
	case <-ctx.Done():
		return NextTxs{}, ctx.Err()
	}
}
