// Package batcher implements the batcher facade (C4): the operations
// start_height, propose_block, validate_block, send_proposal_content,
// get_proposal_content, decision_reached, add_sync_block described in
// spec.md §4.4, wired over internal/storage, internal/mempool, internal/l1,
// internal/builder, and internal/proposal.
package batcher

import (
	"errors"
	"time"

	"github.com/rechain/starknet-sequencer/internal/core"
)

// State-machine errors (spec.md §4.4's error taxonomy).
var (
	ErrNoActiveHeight              = errors.New("batcher: no active height")
	ErrHeightAlreadyPassed         = errors.New("batcher: height already passed")
	ErrStorageNotSynced            = errors.New("batcher: storage not synced to requested height")
	ErrHeightInProgress            = errors.New("batcher: a height is already in progress")
	ErrProposalNotFound            = errors.New("batcher: proposal not found")
	ErrProposalAlreadyFinished     = errors.New("batcher: proposal already finished")
	ErrMissingRetrospectiveBlockHash = errors.New("batcher: missing retrospective block hash")
	ErrExecutedProposalNotFound    = errors.New("batcher: executed proposal not found")
)

// RetrospectiveBlockHash names the prior block referenced once the chain is
// deep enough that genesis/early blocks are no longer in the recent-hash
// window (spec.md §8's STORED_BLOCK_HASH_BUFFER boundary test).
type RetrospectiveBlockHash struct {
	Height core.BlockNumber
	Hash   string
}

// ProposeBlockInput starts building a new block as this node's proposal.
type ProposeBlockInput struct {
	Height                  core.BlockNumber
	Deadline                time.Time
	RetrospectiveBlockHash  *RetrospectiveBlockHash
}

// ValidateBlockInput starts validating someone else's proposal, streamed in
// via SendProposalContent.
type ValidateBlockInput struct {
	Height                 core.BlockNumber
	Deadline               time.Time
	RetrospectiveBlockHash *RetrospectiveBlockHash
}

// ProposalContentKind tags what SendProposalContent is delivering.
type ProposalContentKind int

const (
	ContentTxs ProposalContentKind = iota
	ContentFinish
)

// ProposalContent is the payload of one send_proposal_content call.
type ProposalContent struct {
	Kind ProposalContentKind
	Txs  []ProposalTx
}

// ProposalTx is the wire-level transaction shape content carries; the
// batcher converts it to a mempool.Transaction before feeding the provider.
type ProposalTx struct {
	Hash   core.TxHash
	Sender core.Address
	Nonce  core.Nonce
	Data   []byte
}

// ProposalStatusKind is the SendProposalContent/GetProposalContent result
// variant (spec.md §4.4: Processing, Finished(commitment), InvalidProposal).
type ProposalStatusKind int

const (
	StatusProcessing ProposalStatusKind = iota
	StatusFinished
	StatusInvalidProposal
)

// ProposalStatus is returned by SendProposalContent and (its Finished case)
// by GetProposalContent.
type ProposalStatus struct {
	Kind       ProposalStatusKind
	Commitment core.ProposalCommitment
}

// ContentBatch is one GetProposalContent result: either a batch of
// transactions still streaming, or the terminal Finished status.
type ContentBatch struct {
	Status ProposalStatus
	Txs    []ProposalTx
}

// SyncBlock commits an externally-synced block directly, bypassing local
// execution (spec.md §4.4's add_sync_block).
type SyncBlock struct {
	Height    core.BlockNumber
	StateDiff *core.ThinStateDiff
}
