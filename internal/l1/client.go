// Package l1 is a thin stand-in for the out-of-scope L1 provider
// (spec.md §1 Non-goals). No L1 client library appears anywhere in the
// retrieval pack, so this stays on the standard library deliberately (see
// DESIGN.md) rather than reaching for an unrelated ecosystem dependency.
package l1

import "context"

// Client is the narrow capability the batcher needs from an L1 provider:
// the retrospective block hash required by propose_block once a height
// crosses STORED_BLOCK_HASH_BUFFER (spec.md §4.4).
type Client interface {
	LatestL1BlockHash(ctx context.Context) (string, error)
}

// StaticClient always returns a fixed hash; a stand-in for tests and for
// deployments where L1 finality isn't wired up yet.
type StaticClient struct {
	Hash string
}

func (c StaticClient) LatestL1BlockHash(context.Context) (string, error) {
	return c.Hash, nil
}
