package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/storage"
	"github.com/rechain/starknet-sequencer/pkg/config"
)

// TestEnvironment manages the test environment for integration tests
type TestEnvironment struct {
	T       *testing.T
	TempDir string
	Config  *config.Config
	Store   storage.Store
}

// NewTestEnvironment creates a new test environment
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	// Create a temporary directory
	tempDir, err := os.MkdirTemp("", "rechain-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	// Create a test config
	cfg := config.DefaultConfig()
	cfg.Node.DataDir = tempDir
	cfg.Storage.Path = filepath.Join(tempDir, "data")

	// Create a BadgerDB store
	db, err := storage.NewBadgerStore(cfg.Storage.Path, cfg.Storage.CacheSize, cfg.Storage.Sync)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create BadgerDB store: %v", err)
	}

	return &TestEnvironment{
		T:       t,
		TempDir: tempDir,
		Config:  cfg,
		Store:   db,
	}
}

// Close cleans up the test environment
func (env *TestEnvironment) Close() {
	env.T.Helper()

	if env.Store != nil {
		if err := env.Store.Close(); err != nil {
			env.T.Logf("error closing store: %v", err)
		}
	}

	if env.TempDir != "" {
		if err := os.RemoveAll(env.TempDir); err != nil {
			env.T.Logf("error removing temp dir: %v", err)
		}
	}
}

// WithSequencerStore creates a SequencerStore over env.Store for testing.
func (env *TestEnvironment) WithSequencerStore() *storage.SequencerStore {
	env.T.Helper()

	s, err := storage.NewSequencerStore(context.Background(), env.Store)
	if err != nil {
		env.T.Fatalf("failed to create SequencerStore: %v", err)
	}

	return s
}

// ReopenSequencerStore closes the environment's current store and reopens
// the underlying data directory fresh, simulating a process restart.
// Badger holds an exclusive lock on its directory, so the old handle must
// close before the new one opens.
func (env *TestEnvironment) ReopenSequencerStore(t *testing.T) *storage.SequencerStore {
	t.Helper()

	if err := env.Store.Close(); err != nil {
		t.Fatalf("failed to close store before reopen: %v", err)
	}

	db, err := storage.NewBadgerStore(env.Config.Storage.Path, env.Config.Storage.CacheSize, env.Config.Storage.Sync)
	if err != nil {
		t.Fatalf("failed to reopen BadgerDB store: %v", err)
	}
	env.Store = db

	s, err := storage.NewSequencerStore(context.Background(), db)
	if err != nil {
		t.Fatalf("failed to rebuild SequencerStore: %v", err)
	}
	return s
}

// MustSet sets a key-value pair in the store, failing the test on error
func (env *TestEnvironment) MustSet(ctx context.Context, key, value []byte) {
	env.T.Helper()

	if err := env.Store.Set(ctx, key, value); err != nil {
		env.T.Fatalf("failed to set key %q: %v", key, err)
	}
}

// MustGet gets a value from the store, failing the test on error
func (env *TestEnvironment) MustGet(ctx context.Context, key []byte) []byte {
	env.T.Helper()

	value, err := env.Store.Get(ctx, key)
	if err != nil {
		env.T.Fatalf("failed to get key %q: %v", key, err)
	}

	return value
}

// MustNotExist verifies that a key does not exist in the store
func (env *TestEnvironment) MustNotExist(ctx context.Context, key []byte) {
	env.T.Helper()

	has, err := env.Store.Has(ctx, key)
	if err != nil {
		env.T.Fatalf("failed to check key %q: %v", key, err)
	}

	if has {
		env.T.Fatalf("key %q exists but should not", key)
	}
}

// MustCommitProposal commits diff at height, failing the test on error.
func (env *TestEnvironment) MustCommitProposal(s *storage.SequencerStore, height uint64, diff *core.ThinStateDiff) {
	env.T.Helper()

	if err := s.CommitProposal(context.Background(), core.BlockNumber(height), diff); err != nil {
		env.T.Fatalf("failed to commit proposal at height %d: %v", height, err)
	}
}
