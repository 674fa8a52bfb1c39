package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/pkg/merkle"
)

// Reader is the narrow storage contract of spec.md §6: "height() -> BlockNumber".
type Reader interface {
	Height(ctx context.Context) (core.BlockNumber, error)
}

// Writer is the narrow storage contract of spec.md §6: "commit_proposal(height, state_diff)".
type Writer interface {
	CommitProposal(ctx context.Context, height core.BlockNumber, diff *core.ThinStateDiff) error
}

// ReaderWriter is the combined contract the batcher is constructed with.
type ReaderWriter interface {
	Reader
	Writer
}

// SequencerStore narrows the teacher's general-purpose Store into the
// batcher's Reader/Writer contract and maintains a Merkle tree over
// committed state, recording a verifiable root hash per committed height.
// ProposalCommitment.StateDiffCommitment is not this root: it is
// core.ComputeDiffCommitment's hash of the proposal's own diff. Grounded on
// internal/storage/merkle_store.go's base-store-plus-tree structure,
// restructured around ThinStateDiff commits instead of a raw key scan.
type SequencerStore struct {
	base Store

	mu     sync.RWMutex
	height core.BlockNumber
	tree   *merkle.Tree
}

// NewSequencerStore wraps base. It rebuilds the Merkle tree and the current
// height from whatever state diffs are already present, so a restart picks
// up where the process left off.
func NewSequencerStore(ctx context.Context, base Store) (*SequencerStore, error) {
	tree, err := merkle.NewTree(nil)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create merkle tree: %w", err)
	}

	s := &SequencerStore{base: base, tree: tree}
	if err := s.rebuildFromBase(ctx); err != nil {
		return nil, fmt.Errorf("storage: failed to rebuild from base store: %w", err)
	}
	return s, nil
}

func (s *SequencerStore) rebuildFromBase(ctx context.Context) error {
	raw, err := s.base.Get(ctx, heightKey())
	if err != nil || raw == nil {
		// A fresh store with no recorded height starts at genesis (height 0).
		return nil
	}

	var height core.BlockNumber
	if _, err := fmt.Sscanf(string(raw), "%d", &height); err != nil {
		return fmt.Errorf("parsing stored height %q: %w", raw, err)
	}
	s.height = height

	err = s.base.Iterate(ctx, []byte("diff/"), func(key, value []byte) error {
		s.tree.Update(string(key), value)
		return nil
	})
	return err
}

// Height implements Reader.
func (s *SequencerStore) Height(context.Context) (core.BlockNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, nil
}

// CommitProposal implements Writer: it writes every entry of diff into the
// base store under the "diff/" namespace, folds them into the Merkle tree,
// and advances the height by exactly one.
func (s *SequencerStore) CommitProposal(ctx context.Context, height core.BlockNumber, diff *core.ThinStateDiff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if height != s.height+1 {
		return fmt.Errorf("storage: commit height %d is not successor of current height %d", height, s.height)
	}

	for key, value := range diff.Flatten() {
		diffKey := "diff/" + key
		if err := s.base.Set(ctx, []byte(diffKey), value); err != nil {
			return fmt.Errorf("storage: writing state diff entry %q: %w", diffKey, err)
		}
		s.tree.Update(diffKey, value)
	}

	if err := s.base.Set(ctx, heightKey(), []byte(fmt.Sprintf("%d", height))); err != nil {
		return fmt.Errorf("storage: writing height marker: %w", err)
	}

	root := s.tree.RootHash()
	if err := s.base.Set(ctx, rootKeyFor(height), []byte(root)); err != nil {
		return fmt.Errorf("storage: writing root hash for height %d: %w", height, err)
	}

	s.height = height
	return nil
}

// StateDiffCommitment returns the Merkle root hash over all state committed
// so far. ProposalCommitment does not carry this value (see
// core.ComputeDiffCommitment).
func (s *SequencerStore) StateDiffCommitment() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.RootHash()
}

// RootAt returns the recorded root hash at height, for audit/verification.
func (s *SequencerStore) RootAt(ctx context.Context, height core.BlockNumber) (string, error) {
	v, err := s.base.Get(ctx, rootKeyFor(height))
	if err != nil {
		return "", fmt.Errorf("storage: no recorded root for height %d: %w", height, err)
	}
	return string(v), nil
}

// Close releases the underlying store.
func (s *SequencerStore) Close() error { return s.base.Close() }

func heightKey() []byte { return []byte("_meta/height") }

func rootKeyFor(height core.BlockNumber) []byte {
	return []byte(fmt.Sprintf("_meta/root/%d", height))
}
