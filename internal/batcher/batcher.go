package batcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rechain/starknet-sequencer/internal/builder"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/l1"
	"github.com/rechain/starknet-sequencer/internal/mempool"
	"github.com/rechain/starknet-sequencer/internal/proposal"
	"github.com/rechain/starknet-sequencer/internal/storage"
)

// StoredBlockHashBuffer is the number of blocks back from which a
// retrospective block hash must be supplied once the chain is deep enough
// (spec.md §4.4's "h >= STORED_BLOCK_HASH_BUFFER"). Grounded on the
// original implementation's published default for the equivalent
// constant.
const StoredBlockHashBuffer core.BlockNumber = 10

// streamBufferSize bounds the propose-flow output channel and the
// validate-flow input channel; large enough that the builder and the
// stream consumer rarely block on each other in practice.
const streamBufferSize = 4096

// entry tracks one in-flight or just-finished proposal's streaming
// plumbing, keyed by ProposalId. Grounded on
// original_source/crates/starknet_batcher/src/batcher.rs's
// proposal-bookkeeping map, restructured around Go channels instead of
// tokio mpsc senders/receivers.
type entry struct {
	height core.BlockNumber

	output <-chan mempool.Transaction // set for propose_block proposals
	input  chan mempool.Transaction   // set for validate_block proposals
	abort  chan struct{}

	finishedReturned bool // GetProposalContent/SendProposalContent already surfaced the terminal status once
	inputClosed      bool
}

// Batcher implements the batcher facade (C4) of spec.md §4.4, owning the
// storage reader/writer, mempool client, L1 client, and block-builder
// factory a height's proposals are built and validated against. Grounded
// on original_source/crates/starknet_batcher/src/batcher.rs's Batcher
// struct, restructured around internal/proposal.Manager for the
// single-active-proposal bookkeeping the teacher's codebase handles with a
// bespoke mutex-guarded struct.
type Batcher struct {
	reader  storage.Reader
	writer  storage.Writer
	pool    mempool.Client
	l1      l1.Client
	factory *builder.Factory

	proposals *proposal.Manager

	streamChunkSize int
	gasPrices       core.GasPrices

	mu           sync.Mutex
	activeHeight *core.BlockNumber
	nextID       core.ProposalId
	entries      map[core.ProposalId]*entry
}

// Config configures a Batcher beyond its component dependencies.
type Config struct {
	StreamChunkSize int
	GasPrices       core.GasPrices
}

// New constructs a Batcher in the Idle state.
func New(reader storage.Reader, writer storage.Writer, pool mempool.Client, l1Client l1.Client, factory *builder.Factory, cfg Config) *Batcher {
	chunkSize := cfg.StreamChunkSize
	if chunkSize <= 0 {
		chunkSize = 3
	}
	return &Batcher{
		reader:          reader,
		writer:          writer,
		pool:            pool,
		l1:              l1Client,
		factory:         factory,
		proposals:       proposal.NewManager(),
		streamChunkSize: chunkSize,
		gasPrices:       cfg.GasPrices,
		entries:         make(map[core.ProposalId]*entry),
	}
}

// nextHeight is the height a fresh proposal must target: one past whatever
// storage has already committed. spec.md §4.4's start_height edge cases
// ("storage_height - 1 -> HeightAlreadyPassed", "storage_height + 1 ->
// StorageNotSynced") are phrased around this value, not around
// storage.Height() itself.
func (b *Batcher) nextHeight(ctx context.Context) (core.BlockNumber, error) {
	committed, err := b.reader.Height(ctx)
	if err != nil {
		return 0, fmt.Errorf("batcher: reading storage height: %w", err)
	}
	return committed + 1, nil
}

// StartHeight transitions Idle -> Active(height).
func (b *Batcher) StartHeight(ctx context.Context, height core.BlockNumber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.activeHeight != nil {
		return ErrHeightInProgress
	}

	next, err := b.nextHeight(ctx)
	if err != nil {
		return err
	}
	switch {
	case height < next:
		return ErrHeightAlreadyPassed
	case height > next:
		return ErrStorageNotSynced
	}

	h := height
	b.activeHeight = &h
	return nil
}

// checkActive reports whether height is the current active height,
// returning ErrNoActiveHeight otherwise.
func (b *Batcher) checkActive(height core.BlockNumber) error {
	if b.activeHeight == nil || *b.activeHeight != height {
		return ErrNoActiveHeight
	}
	return nil
}

func (b *Batcher) blockMetadata(height core.BlockNumber) builder.BlockMetadata {
	return builder.BlockMetadata{BlockInfo: core.BlockInfo{
		BlockNumber: height,
		Timestamp:   uint64(time.Now().Unix()),
		GasPrices:   b.gasPrices,
	}}
}

func needsRetrospectiveHash(height core.BlockNumber, hash *RetrospectiveBlockHash) bool {
	return height >= StoredBlockHashBuffer && hash == nil
}

// ProposeBlock starts building a new block as this node's own proposal,
// pulling transactions directly from the mempool. Streaming is available
// immediately through GetProposalContent.
func (b *Batcher) ProposeBlock(ctx context.Context, input ProposeBlockInput) (core.ProposalId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkActive(input.Height); err != nil {
		return 0, err
	}
	if needsRetrospectiveHash(input.Height, input.RetrospectiveBlockHash) {
		return 0, ErrMissingRetrospectiveBlockHash
	}

	id := b.allocateID()
	output := make(chan mempool.Transaction, streamBufferSize)
	provider := &builder.MempoolProvider{Pool: b.pool}

	params := builder.ExecutionParams{Deadline: input.Deadline, FailOnErr: false}
	bld, abort := b.factory.CreateBuilder(b.blockMetadata(input.Height), provider, output, params)

	if err := b.proposals.SpawnProposal(id, bld, abort); err != nil {
		return 0, err
	}

	b.entries[id] = &entry{height: input.Height, output: output, abort: abort}
	return id, nil
}

// ValidateBlock starts validating a proposal streamed in from a peer via
// SendProposalContent.
func (b *Batcher) ValidateBlock(ctx context.Context, input ValidateBlockInput) (core.ProposalId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkActive(input.Height); err != nil {
		return 0, err
	}
	if needsRetrospectiveHash(input.Height, input.RetrospectiveBlockHash) {
		return 0, ErrMissingRetrospectiveBlockHash
	}

	id := b.allocateID()
	inCh := make(chan mempool.Transaction, streamBufferSize)
	provider := &builder.ChannelProvider{Input: inCh}

	params := builder.ExecutionParams{Deadline: input.Deadline, FailOnErr: true}
	bld, abort := b.factory.CreateBuilder(b.blockMetadata(input.Height), provider, nil, params)

	if err := b.proposals.SpawnProposal(id, bld, abort); err != nil {
		return 0, err
	}

	b.entries[id] = &entry{height: input.Height, input: inCh, abort: abort}
	return id, nil
}

func (b *Batcher) allocateID() core.ProposalId {
	b.nextID++
	return b.nextID
}

// AbortProposal cancels id's in-flight build if it is still active,
// freeing the single active-proposal slot for the next round's proposal.
// A no-op if id has already finished or was never active.
func (b *Batcher) AbortProposal(id core.ProposalId) {
	b.proposals.AbortProposal(id)
}

// toMempoolTx converts a wire-level ProposalTx into a mempool.Transaction.
func toMempoolTx(tx ProposalTx) mempool.Transaction {
	return mempool.Transaction{Hash: tx.Hash, Sender: tx.Sender, Nonce: tx.Nonce, Data: tx.Data}
}

// SendProposalContent feeds content into the validate-flow proposal id is
// tracking, or closes its input stream on Finish.
func (b *Batcher) SendProposalContent(ctx context.Context, id core.ProposalId, content ProposalContent) (ProposalStatus, error) {
	b.mu.Lock()
	e, ok := b.entries[id]
	b.mu.Unlock()
	if !ok {
		return ProposalStatus{}, ErrProposalNotFound
	}
	if e.input == nil {
		return ProposalStatus{}, ErrProposalNotFound
	}
	if e.finishedReturned || e.inputClosed {
		return ProposalStatus{}, ErrProposalAlreadyFinished
	}

	switch content.Kind {
	case ContentTxs:
		for _, tx := range content.Txs {
			select {
			case e.input <- toMempoolTx(tx):
			case <-ctx.Done():
				return ProposalStatus{}, ctx.Err()
			}
		}
		return b.pollStatus(id, e)
	case ContentFinish:
		close(e.input)
		e.inputClosed = true
		b.proposals.AwaitActiveProposal()
		return b.pollStatus(id, e)
	default:
		return ProposalStatus{}, fmt.Errorf("batcher: unknown proposal content kind %d", content.Kind)
	}
}

// pollStatus checks whether id's build has concluded, returning Processing
// if not, or the terminal Finished/InvalidProposal status (consumed exactly
// once — a repeat call after a terminal status returns
// ErrProposalAlreadyFinished) if so.
func (b *Batcher) pollStatus(id core.ProposalId, e *entry) (ProposalStatus, error) {
	result, ok := b.proposals.PeekProposalResult(id)
	if !ok {
		return ProposalStatus{Kind: StatusProcessing}, nil
	}

	b.mu.Lock()
	e.finishedReturned = true
	b.mu.Unlock()

	if result.Ok() {
		return ProposalStatus{Kind: StatusFinished, Commitment: result.Output.Commitment}, nil
	}
	return ProposalStatus{Kind: StatusInvalidProposal}, nil
}

// GetProposalContent drains up to the configured streaming chunk size of
// admitted transactions from a propose_block proposal's output. Once the
// builder has finished, the next call returns Finished(commitment); every
// call after that returns ErrProposalNotFound, matching spec.md §8
// scenario 2.
func (b *Batcher) GetProposalContent(ctx context.Context, id core.ProposalId) (ContentBatch, error) {
	b.mu.Lock()
	e, ok := b.entries[id]
	b.mu.Unlock()
	if !ok {
		return ContentBatch{}, ErrProposalNotFound
	}
	if e.finishedReturned {
		b.mu.Lock()
		delete(b.entries, id)
		b.mu.Unlock()
		return ContentBatch{}, ErrProposalNotFound
	}
	if e.output == nil {
		return ContentBatch{}, ErrProposalNotFound
	}

	txs := b.drainOutput(ctx, e)
	if len(txs) > 0 {
		return ContentBatch{Status: ProposalStatus{Kind: StatusProcessing}, Txs: txs}, nil
	}

	status, err := b.pollStatus(id, e)
	if err != nil {
		return ContentBatch{}, err
	}
	return ContentBatch{Status: status}, nil
}

// drainOutput blocks for the first available transaction (or channel
// close), then greedily collects any further transactions already queued
// up, up to streamChunkSize — mirroring builder.ChannelProvider.GetTxs's
// block-then-drain idiom so a slow producer never yields a spurious empty
// batch mid-stream.
func (b *Batcher) drainOutput(ctx context.Context, e *entry) []ProposalTx {
	var out []ProposalTx

	select {
	case tx, ok := <-e.output:
		if !ok {
			return out
		}
		out = append(out, fromMempoolTx(tx))
	case <-ctx.Done():
		return out
	}

	for len(out) < b.streamChunkSize {
		select {
		case tx, ok := <-e.output:
			if !ok {
				return out
			}
			out = append(out, fromMempoolTx(tx))
		default:
			return out
		}
	}
	return out
}

func fromMempoolTx(tx mempool.Transaction) ProposalTx {
	return ProposalTx{Hash: tx.Hash, Sender: tx.Sender, Nonce: tx.Nonce, Data: tx.Data}
}

// DecisionReached commits the decided proposal's state diff to storage and
// notifies the mempool, returning the committed state diff. Also clears
// the active height back to Idle.
func (b *Batcher) DecisionReached(ctx context.Context, id core.ProposalId) (*core.ThinStateDiff, error) {
	result, ok := b.proposals.TakeProposalResult(id)
	if !ok || !result.Ok() {
		return nil, ErrExecutedProposalNotFound
	}

	b.mu.Lock()
	var targetHeight core.BlockNumber
	if e, hasEntry := b.entries[id]; hasEntry {
		targetHeight = e.height
		delete(b.entries, id)
	} else if b.activeHeight != nil {
		targetHeight = *b.activeHeight
	}
	b.activeHeight = nil
	b.mu.Unlock()

	diff := &result.Output.StateDiff
	if err := b.writer.CommitProposal(ctx, targetHeight, diff); err != nil {
		return nil, fmt.Errorf("batcher: committing proposal for height %d: %w", targetHeight, err)
	}

	notification := mempool.CommitBlockNotification{
		AddressToNonce: result.Output.Nonces,
		TxHashes:       result.Output.TxHashes,
	}
	if err := b.pool.CommitBlock(ctx, notification); err != nil {
		return nil, fmt.Errorf("batcher: notifying mempool of commit: %w", err)
	}

	return diff, nil
}

// AddSyncBlock commits an externally-synced block directly, bypassing local
// execution entirely — used when this node is catching up via state sync
// rather than building or validating the block itself.
func (b *Batcher) AddSyncBlock(ctx context.Context, block SyncBlock) error {
	b.mu.Lock()
	b.activeHeight = nil
	b.mu.Unlock()

	if err := b.writer.CommitProposal(ctx, block.Height, block.StateDiff); err != nil {
		return fmt.Errorf("batcher: committing synced block %d: %w", block.Height, err)
	}

	// A synced diff carries no transaction hashes of its own; only the
	// nonce advances are recoverable, which is all CommitBlock needs to
	// evict now-stale pending transactions.
	notification := mempool.CommitBlockNotification{AddressToNonce: block.StateDiff.Nonces}
	return b.pool.CommitBlock(ctx, notification)
}
