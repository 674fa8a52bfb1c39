package batcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rechain/starknet-sequencer/internal/consensus"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/network"
)

// ValidatorSet is a static, deterministic round-robin validator list. It
// grounds Context's Validators/Proposer methods without a dynamic
// membership module, which spec.md's scope never asks for.
type ValidatorSet struct {
	ids []core.ValidatorId
}

// NewValidatorSet returns a ValidatorSet over ids, in the fixed order
// given. Proposer selection is (height+round) mod len(ids).
func NewValidatorSet(ids []core.ValidatorId) ValidatorSet {
	return ValidatorSet{ids: ids}
}

func (vs ValidatorSet) Validators(core.BlockNumber) []core.ValidatorId { return vs.ids }

func (vs ValidatorSet) Proposer(h core.BlockNumber, r uint32) core.ValidatorId {
	idx := (uint64(h) + uint64(r)) % uint64(len(vs.ids))
	return vs.ids[idx]
}

// BatcherContext adapts a Batcher (C4) into the consensus.Context
// capability the quorum machine (C5) drives block building and validation
// through. This is the only place internal/batcher and internal/consensus
// are wired together — internal/consensus itself never imports
// internal/batcher, per spec.md §6's C4/C5 boundary.
type BatcherContext struct {
	b          *Batcher
	bus        network.Bus
	self       core.ValidatorId
	validators ValidatorSet

	mu            sync.Mutex
	startedHeight *core.BlockNumber
	byContent     map[string]core.ProposalId
}

// NewBatcherContext constructs a BatcherContext driving b, broadcasting
// votes over bus, for the validator identified by self.
func NewBatcherContext(b *Batcher, bus network.Bus, self core.ValidatorId, validators ValidatorSet) *BatcherContext {
	return &BatcherContext{
		b:          b,
		bus:        bus,
		self:       self,
		validators: validators,
		byContent:  make(map[string]core.ProposalId),
	}
}

func (c *BatcherContext) Validators(h core.BlockNumber) []core.ValidatorId {
	return c.validators.Validators(h)
}

func (c *BatcherContext) Proposer(h core.BlockNumber, r uint32) core.ValidatorId {
	return c.validators.Proposer(h, r)
}

func (c *BatcherContext) Broadcast(ctx context.Context, msg core.ConsensusMessage) error {
	return c.bus.Broadcast(ctx, msg)
}

// SetHeightAndRound starts the batcher's bookkeeping for h the first time
// it is seen; it is a no-op on every subsequent round of the same height,
// matching the teacher's "same height, new round" retry loop.
func (c *BatcherContext) SetHeightAndRound(h core.BlockNumber, _ uint32) {
	c.ensureHeight(h)
}

func (c *BatcherContext) ensureHeight(h core.BlockNumber) {
	c.mu.Lock()
	already := c.startedHeight != nil && *c.startedHeight == h
	c.mu.Unlock()
	if already {
		return
	}

	if err := c.b.StartHeight(context.Background(), h); err != nil && err != ErrHeightInProgress {
		log.Printf("batcher: start_height(%d) failed: %v", h, err)
		return
	}

	c.mu.Lock()
	started := h
	c.startedHeight = &started
	c.byContent = make(map[string]core.ProposalId)
	c.mu.Unlock()
}

// BuildProposal asks the batcher to build height/round's block as this
// node's own proposal, streaming admitted transactions off GetProposalContent
// and re-encoding each batch as one wire part.
func (c *BatcherContext) BuildProposal(ctx context.Context, height core.BlockNumber, round uint32, timeout time.Duration) (<-chan consensus.ProposalResult, error) {
	c.ensureHeight(height)

	out := make(chan consensus.ProposalResult, 1)
	id, err := c.b.ProposeBlock(ctx, ProposeBlockInput{Height: height, Deadline: time.Now().Add(timeout)})
	if err != nil {
		out <- consensus.ProposalResult{Err: err}
		return out, nil
	}

	go c.watchAbort(ctx, id)
	go c.streamBuild(ctx, id, out)
	return out, nil
}

// watchAbort frees id's active-proposal slot as soon as ctx (this round's
// context) is cancelled, so a timed-out round's build never blocks the
// next round's.
func (c *BatcherContext) watchAbort(ctx context.Context, id core.ProposalId) {
	<-ctx.Done()
	c.b.AbortProposal(id)
}

func (c *BatcherContext) streamBuild(ctx context.Context, id core.ProposalId, out chan<- consensus.ProposalResult) {
	var parts [][]byte
	for {
		batch, err := c.b.GetProposalContent(ctx, id)
		if err != nil {
			out <- consensus.ProposalResult{Err: err}
			return
		}
		if len(batch.Txs) > 0 {
			data, merr := json.Marshal(batch.Txs)
			if merr != nil {
				out <- consensus.ProposalResult{Err: fmt.Errorf("batcher: encoding proposal part: %w", merr)}
				return
			}
			parts = append(parts, data)
			continue
		}

		switch batch.Status.Kind {
		case StatusFinished:
			contentId := batch.Status.Commitment.StateDiffCommitment
			c.mu.Lock()
			c.byContent[contentId] = id
			c.mu.Unlock()
			out <- consensus.ProposalResult{ContentId: contentId, Parts: parts}
			return
		case StatusInvalidProposal:
			out <- consensus.ProposalResult{Err: fmt.Errorf("batcher: own proposal %d failed to build", id)}
			return
		default:
			select {
			case <-time.After(time.Millisecond):
			case <-ctx.Done():
				out <- consensus.ProposalResult{Err: ctx.Err()}
				return
			}
		}
	}
}

// ValidateProposal asks the batcher to validate a peer's proposal, feeding
// each wire part in from parts as it arrives and finishing the stream when
// parts closes (the round's runValidator closes it once ProposalFin
// arrives or the proposal topic itself closes).
func (c *BatcherContext) ValidateProposal(ctx context.Context, height core.BlockNumber, round uint32, proposer core.ValidatorId, timeout time.Duration, parts <-chan []byte) (<-chan consensus.ProposalResult, error) {
	c.ensureHeight(height)

	out := make(chan consensus.ProposalResult, 1)
	id, err := c.b.ValidateBlock(ctx, ValidateBlockInput{Height: height, Deadline: time.Now().Add(timeout)})
	if err != nil {
		out <- consensus.ProposalResult{Err: err}
		return out, nil
	}

	go c.watchAbort(ctx, id)
	go c.feedValidation(ctx, id, parts, out)
	return out, nil
}

func (c *BatcherContext) feedValidation(ctx context.Context, id core.ProposalId, parts <-chan []byte, out chan<- consensus.ProposalResult) {
	for {
		select {
		case data, ok := <-parts:
			if !ok {
				c.finishValidation(ctx, id, out)
				return
			}
			var txs []ProposalTx
			if err := json.Unmarshal(data, &txs); err != nil {
				out <- consensus.ProposalResult{Err: fmt.Errorf("batcher: decoding proposal part: %w", err)}
				return
			}
			if _, err := c.b.SendProposalContent(ctx, id, ProposalContent{Kind: ContentTxs, Txs: txs}); err != nil {
				out <- consensus.ProposalResult{Err: err}
				return
			}
		case <-ctx.Done():
			out <- consensus.ProposalResult{Err: ctx.Err()}
			return
		}
	}
}

func (c *BatcherContext) finishValidation(ctx context.Context, id core.ProposalId, out chan<- consensus.ProposalResult) {
	status, err := c.b.SendProposalContent(ctx, id, ProposalContent{Kind: ContentFinish})
	if err != nil {
		out <- consensus.ProposalResult{Err: err}
		return
	}
	if status.Kind != StatusFinished {
		out <- consensus.ProposalResult{Err: fmt.Errorf("batcher: proposal %d rejected on validation", id)}
		return
	}

	contentId := status.Commitment.StateDiffCommitment
	c.mu.Lock()
	c.byContent[contentId] = id
	c.mu.Unlock()
	out <- consensus.ProposalResult{ContentId: contentId}
}

// Repropose re-announces a locked/valid proposal's content id under a new
// round, for peers that missed the original ProposalFin.
func (c *BatcherContext) Repropose(height core.BlockNumber, round uint32, contentId string) error {
	c.mu.Lock()
	_, known := c.byContent[contentId]
	c.mu.Unlock()
	if !known {
		return fmt.Errorf("batcher: cannot repropose unknown content id %s", contentId)
	}

	return c.bus.Broadcast(context.Background(), core.ConsensusMessage{
		Kind: core.MsgProposalFin, Height: height, Round: round, Voter: c.self, Proposer: c.self, ProposalContentId: contentId,
	})
}

// DecisionReached commits the decided proposal (looked up by content id
// against whichever proposal — built or validated — produced it) and
// clears this height's bookkeeping.
func (c *BatcherContext) DecisionReached(ctx context.Context, height core.BlockNumber, contentId string, _ []core.ConsensusMessage) error {
	c.mu.Lock()
	id, ok := c.byContent[contentId]
	delete(c.byContent, contentId)
	c.startedHeight = nil
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("batcher: decision_reached for unknown content id %q at height %d", contentId, height)
	}
	_, err := c.b.DecisionReached(ctx, id)
	return err
}
