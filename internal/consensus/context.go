package consensus

import (
	"context"
	"time"

	"github.com/rechain/starknet-sequencer/internal/core"
)

// ProposalResult is what BuildProposal/ValidateProposal resolve to: the
// proposal content id that becomes the vote target, plus (for the
// proposer's own build only) the serialized parts to fan out to peers.
// Grounded on spec.md §6's "build_proposal(init, timeout) -> oneshot
// content_id" / "validate_proposal(...) -> oneshot (content_id, fin)".
type ProposalResult struct {
	ContentId string
	Parts     [][]byte
	Err       error
}

// Context is the ConsensusContext capability of spec.md §4.5/§6: the
// narrow surface C5 calls into C4 through. internal/batcher implements
// this by driving propose_block/validate_block/send_proposal_content
// under the hood; nothing in this package ever imports internal/batcher
// directly, per DESIGN.md's "capability records, never mutual ownership".
type Context interface {
	// BuildProposal asks the batcher to build a new block as this node's
	// proposal. The returned channel resolves exactly once, with either a
	// content id and its wire-ready parts, or an error if the build failed
	// or the proposal timeout elapsed first.
	BuildProposal(ctx context.Context, height core.BlockNumber, round uint32, timeout time.Duration) (<-chan ProposalResult, error)

	// ValidateProposal asks the batcher to validate a proposal streamed in
	// from proposer over parts. The returned channel resolves once the
	// batcher has a verdict: a content id on success, or an error
	// (InvalidProposal, deadline, etc.) on failure.
	ValidateProposal(ctx context.Context, height core.BlockNumber, round uint32, proposer core.ValidatorId, timeout time.Duration, parts <-chan []byte) (<-chan ProposalResult, error)

	// Repropose re-broadcasts a previously built/validated proposal's
	// content id under a new round, used when a round times out but the
	// locked/valid value from an earlier round is still eligible.
	Repropose(height core.BlockNumber, round uint32, contentId string) error

	// Validators returns the validator set for height h.
	Validators(h core.BlockNumber) []core.ValidatorId

	// Proposer returns the deterministic proposer for (h, r).
	Proposer(h core.BlockNumber, r uint32) core.ValidatorId

	// Broadcast sends msg (a vote, in practice — proposal parts travel over
	// the bus's dedicated PartsTopic instead, see internal/network) to
	// every validator.
	Broadcast(ctx context.Context, msg core.ConsensusMessage) error

	// DecisionReached commits the decided proposal, keyed by contentId,
	// carrying the precommit set that justified the decision.
	DecisionReached(ctx context.Context, height core.BlockNumber, contentId string, precommits []core.ConsensusMessage) error

	// SetHeightAndRound notifies the batcher of a round advance, so any
	// height/round-scoped bookkeeping it keeps (metrics, logs) stays
	// current even when C5 alone drives the state transition.
	SetHeightAndRound(h core.BlockNumber, r uint32)
}
