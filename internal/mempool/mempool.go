// Package mempool generalizes the teacher's in-struct mempool slice
// (internal/consensus/consensus.go's mempool []*Transaction plus
// AddTransaction/GetMempool) into a standalone capability, per spec.md §6's
// "Mempool Client: commit_block({address_to_nonce, tx_hashes})".
package mempool

import (
	"context"
	"sync"

	"github.com/rechain/starknet-sequencer/internal/core"
)

// Transaction is the opaque envelope the batcher and builder move around;
// hashing and the wire format are out of scope per spec.md §1 Non-goals.
type Transaction struct {
	Hash   core.TxHash
	Sender core.Address
	Nonce  core.Nonce
	Data   []byte
}

// CommitBlockNotification is the payload handed to CommitBlock once a
// proposal's decision has been reached and written to storage.
type CommitBlockNotification struct {
	AddressToNonce map[core.Address]core.Nonce
	TxHashes       []core.TxHash
}

// Client is the narrow capability the batcher depends on.
type Client interface {
	// GetTxs returns up to n pending transactions, removing them from the
	// pool's pending set so concurrent proposals don't double-submit.
	GetTxs(ctx context.Context, n int) ([]Transaction, error)

	// CommitBlock notifies the pool that a block committed, so it can drop
	// transactions that are now stale (nonce advanced past them).
	CommitBlock(ctx context.Context, n CommitBlockNotification) error

	// Submit adds a transaction to the pool. Not named in spec.md §6
	// directly, but needed for anything to ever reach GetTxs; grounded on
	// the teacher's AddTransaction.
	Submit(ctx context.Context, tx Transaction) error
}

// InMemoryPool is a mutex-guarded, slice-backed Client, standing in for the
// out-of-scope production mempool (spec.md §1 Non-goals).
type InMemoryPool struct {
	mu      sync.Mutex
	pending []Transaction
}

// NewInMemoryPool returns an empty pool.
func NewInMemoryPool() *InMemoryPool {
	return &InMemoryPool{}
}

func (p *InMemoryPool) Submit(_ context.Context, tx Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, tx)
	return nil
}

func (p *InMemoryPool) GetTxs(_ context.Context, n int) ([]Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n > len(p.pending) {
		n = len(p.pending)
	}
	out := append([]Transaction(nil), p.pending[:n]...)
	p.pending = p.pending[n:]
	return out, nil
}

func (p *InMemoryPool) CommitBlock(_ context.Context, _ CommitBlockNotification) error {
	// Nonce-based stale-transaction eviction is left to the real mempool
	// (out of scope); the in-memory stand-in only needs to accept the
	// notification without error so callers can rely on the contract.
	return nil
}

// Len reports the number of pending transactions, used by tests.
func (p *InMemoryPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
