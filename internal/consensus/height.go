package consensus

import (
	"context"
	"log"
	"time"

	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/network"
)

// roundVotes tallies prevotes and precommits for one round, keyed by voter
// so a repeat message from the same validator does not double-count.
// Grounded on the teacher's `voted map[uint32]bool` / `votes []*Vote`
// pair, generalized to track per-block-id counts instead of a single
// round-wide yes/no.
type roundVotes struct {
	prevotes   map[core.ValidatorId]core.ConsensusMessage
	precommits map[core.ValidatorId]core.ConsensusMessage
}

func newRoundVotes() *roundVotes {
	return &roundVotes{
		prevotes:   make(map[core.ValidatorId]core.ConsensusMessage),
		precommits: make(map[core.ValidatorId]core.ConsensusMessage),
	}
}

// record stores msg, keeping only the first vote seen from each voter.
func (rv *roundVotes) record(msg core.ConsensusMessage) {
	switch msg.Kind {
	case core.MsgPrevote:
		if _, ok := rv.prevotes[msg.Voter]; !ok {
			rv.prevotes[msg.Voter] = msg
		}
	case core.MsgPrecommit:
		if _, ok := rv.precommits[msg.Voter]; !ok {
			rv.precommits[msg.Voter] = msg
		}
	}
}

// tally counts votes for blockId ("" means the None vote) among the given
// vote set.
func tally(votes map[core.ValidatorId]core.ConsensusMessage, blockId string) int {
	n := 0
	for _, v := range votes {
		if v.BlockId == blockId {
			n++
		}
	}
	return n
}

// leadingBlockId returns a blockId with at least q votes among non-None
// votes, if one exists. Each call looks at a single vote set; no caller
// weighs precommits against prevotes in the same pass.
func leadingBlockId(votes map[core.ValidatorId]core.ConsensusMessage, q int) (string, bool) {
	counts := make(map[string]int)
	for _, v := range votes {
		if v.BlockId == "" {
			continue
		}
		counts[v.BlockId]++
	}
	for id, n := range counts {
		if n >= q {
			return id, true
		}
	}
	return "", false
}

// runner drives one height's propose/prevote/precommit loop to a decision.
// Grounded on the teacher's startNewHeight/advanceToNextStep pair, replaced
// with an explicit round loop that implements real 2f+1 quorum aggregation
// instead of the teacher's single-vote-per-step simplification.
type runner struct {
	cfg    Config
	ctx    Context
	bus    network.Bus
	height core.BlockNumber

	round      uint32
	step       Step
	lockedId   *string
	lockedRd   *uint32
	validId    *string
	validRd    *uint32
	rounds     map[uint32]*roundVotes
	validators []core.ValidatorId
	quorumN    int
}

func newRunner(cfg Config, cctx Context, bus network.Bus, height core.BlockNumber) *runner {
	validators := cctx.Validators(height)
	return &runner{
		cfg:        cfg,
		ctx:        cctx,
		bus:        bus,
		height:     height,
		step:       StepNewRound,
		rounds:     make(map[uint32]*roundVotes),
		validators: validators,
		quorumN:    quorum(len(validators)),
	}
}

func (r *runner) roundState(round uint32) *roundVotes {
	rv, ok := r.rounds[round]
	if !ok {
		rv = newRoundVotes()
		r.rounds[round] = rv
	}
	return rv
}

// run drives rounds until a decision is reached or ctx is cancelled.
func (r *runner) run(ctx context.Context, incoming <-chan core.ConsensusMessage) (*Decision, error) {
	for {
		decision, err := r.runRound(ctx, incoming)
		if err != nil {
			return nil, err
		}
		if decision != nil {
			return decision, nil
		}
		r.round++
		r.ctx.SetHeightAndRound(r.height, r.round)
	}
}

// runRound executes NewRound->Propose->Prevote->Precommit for the current
// round, returning a non-nil Decision on success or (nil, nil) when the
// round timed out and the caller should advance to round+1.
func (r *runner) runRound(ctx context.Context, incoming <-chan core.ConsensusMessage) (*Decision, error) {
	round := r.round
	rv := r.roundState(round)
	proposer := r.ctx.Proposer(r.height, round)
	r.step = StepNewRound

	// roundCtx is cancelled when this round concludes for any reason
	// (decided, timed out, or the parent was cancelled), so a build or
	// validation this round kicked off never outlives it into the next
	// round — without this, a round that times out would leave its
	// BuildProposal/ValidateProposal goroutine running forever, and the
	// batcher's single active-proposal slot would never free up for the
	// next round's proposal.
	roundCtx, cancelRound := context.WithCancel(ctx)
	defer cancelRound()

	contentId, proposalOK, err := r.proposePhase(roundCtx, incoming, rv, round, proposer)
	if err != nil {
		return nil, err
	}

	voteId := r.prevoteChoice(contentId, proposalOK, round)
	ownPrevote := core.ConsensusMessage{
		Kind: core.MsgPrevote, Height: r.height, Round: round, Voter: r.cfg.ValidatorID, BlockId: voteId,
	}
	rv.record(ownPrevote)
	if err := r.ctx.Broadcast(ctx, ownPrevote); err != nil {
		log.Printf("consensus: broadcast prevote failed at height %d round %d: %v", r.height, round, err)
	}
	r.step = StepPrevote

	prevoteId, prevoteOK, err := r.collectVotes(ctx, incoming, rv, round, r.cfg.Timeouts.PrevoteTimeout, votePrevote)
	if err != nil {
		return nil, err
	}

	precommitId := ""
	if prevoteOK && prevoteId != "" {
		r.lockedId, r.lockedRd = &prevoteId, &round
		r.validId, r.validRd = &prevoteId, &round
		precommitId = prevoteId
	}
	ownPrecommit := core.ConsensusMessage{
		Kind: core.MsgPrecommit, Height: r.height, Round: round, Voter: r.cfg.ValidatorID, BlockId: precommitId,
	}
	rv.record(ownPrecommit)
	if err := r.ctx.Broadcast(ctx, ownPrecommit); err != nil {
		log.Printf("consensus: broadcast precommit failed at height %d round %d: %v", r.height, round, err)
	}
	r.step = StepPrecommit

	decidedId, decided, err := r.collectVotes(ctx, incoming, rv, round, r.cfg.Timeouts.PrecommitTimeout, voteDecide)
	if err != nil {
		return nil, err
	}
	if decided && decidedId != "" {
		precommits := make([]core.ConsensusMessage, 0, len(rv.precommits))
		for _, v := range rv.precommits {
			if v.BlockId == decidedId {
				precommits = append(precommits, v)
			}
		}
		if err := r.ctx.DecisionReached(ctx, r.height, decidedId, precommits); err != nil {
			return nil, err
		}
		r.step = StepCommitted
		return &Decision{Height: r.height, ContentId: decidedId, Precommits: precommits}, nil
	}

	return nil, nil
}

// proposePhase runs the Propose step: build-and-broadcast if self is
// proposer, else receive-and-validate. Returns the content id observed (if
// any) and whether it resolved before the proposal timeout.
func (r *runner) proposePhase(ctx context.Context, incoming <-chan core.ConsensusMessage, rv *roundVotes, round uint32, proposer core.ValidatorId) (string, bool, error) {
	r.step = StepPropose
	timeout := r.cfg.Timeouts.ProposalTimeout
	deadline := time.After(timeout)

	done := make(chan outcome, 1)

	if proposer == r.cfg.ValidatorID {
		go r.runProposer(ctx, round, done)
	} else {
		go r.runValidator(ctx, round, proposer, done)
	}

	for {
		select {
		case out := <-done:
			r.drainVotesNonBlocking(incoming, rv)
			return out.id, out.ok, nil
		case <-deadline:
			return "", false, nil
		case msg, ok := <-incoming:
			if !ok {
				return "", false, ErrHeightCancelled
			}
			rv.record(msg)
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

func (r *runner) drainVotesNonBlocking(incoming <-chan core.ConsensusMessage, rv *roundVotes) {
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			rv.record(msg)
		default:
			return
		}
	}
}

func (r *runner) runProposer(ctx context.Context, round uint32, done chan<- outcome) {
	result, err := r.buildAndBroadcast(ctx, round)
	if err != nil {
		done <- outcome{}
		return
	}
	done <- outcome{id: result, ok: true}
}

type outcome struct {
	id string
	ok bool
}

func (r *runner) buildAndBroadcast(ctx context.Context, round uint32) (string, error) {
	resultCh, err := r.ctx.BuildProposal(ctx, r.height, round, r.cfg.Timeouts.ProposalTimeout)
	if err != nil {
		return "", err
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return "", res.Err
		}
		key := proposalKey(r.height, round)
		topic := r.bus.PartsTopic(key)
		defer topic.Close()

		if err := topic.Send(ctx, core.ConsensusMessage{
			Kind: core.MsgProposalInit, Height: r.height, Round: round, Voter: r.cfg.ValidatorID, Proposer: r.cfg.ValidatorID,
		}); err != nil {
			return "", err
		}
		for i, part := range res.Parts {
			if err := topic.Send(ctx, core.ConsensusMessage{
				Kind: core.MsgProposalPart, Height: r.height, Round: round, Voter: r.cfg.ValidatorID, PartIndex: i, PartData: part,
			}); err != nil {
				return "", err
			}
		}
		if err := topic.Send(ctx, core.ConsensusMessage{
			Kind: core.MsgProposalFin, Height: r.height, Round: round, Voter: r.cfg.ValidatorID, ProposalContentId: res.ContentId,
		}); err != nil {
			return "", err
		}
		return res.ContentId, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *runner) runValidator(ctx context.Context, round uint32, proposer core.ValidatorId, done chan<- outcome) {
	key := proposalKey(r.height, round)
	topic := r.bus.PartsTopic(key)
	defer topic.Close()

	parts := make(chan []byte, 64)
	fin := make(chan string, 1)
	stop := make(chan struct{})
	go func() {
		defer close(parts)
		for {
			select {
			case msg, ok := <-topic.Receive():
				if !ok {
					return
				}
				switch msg.Kind {
				case core.MsgProposalPart:
					select {
					case parts <- msg.PartData:
					case <-stop:
						return
					}
				case core.MsgProposalFin:
					select {
					case fin <- msg.ProposalContentId:
					default:
					}
					return
				}
			case <-stop:
				return
			}
		}
	}()
	defer close(stop)

	resultCh, err := r.ctx.ValidateProposal(ctx, r.height, round, proposer, r.cfg.Timeouts.ProposalTimeout, parts)
	if err != nil {
		done <- outcome{}
		return
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			done <- outcome{}
			return
		}
		done <- outcome{id: res.ContentId, ok: true}
	case <-ctx.Done():
		done <- outcome{}
	}
}

type voteGoal int

const (
	votePrevote voteGoal = iota
	voteDecide
)

// collectVotes waits, up to timeout, for either vote quorum under goal's
// rule or the timeout itself, meanwhile recording every incoming vote
// regardless of kind (a precommit arriving during the prevote wait is not
// lost — it is simply re-checked once the precommit phase begins).
func (r *runner) collectVotes(ctx context.Context, incoming <-chan core.ConsensusMessage, rv *roundVotes, round uint32, timeout time.Duration, goal voteGoal) (string, bool, error) {
	if id, ok := r.checkQuorum(rv, goal); ok {
		return id, true, nil
	}

	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return "", false, ErrHeightCancelled
			}
			rv.record(msg)
			if id, ok := r.checkQuorum(rv, goal); ok {
				return id, true, nil
			}
		case <-deadline:
			return "", false, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// checkQuorum checks only the vote kind that goal names: voteDecide looks
// at precommits alone, votePrevote at prevotes alone (a prevote-None
// quorum yields blockId=""). There is no precedence between the two kinds:
// a precommit quorum that forms during the prevote wait is not acted on
// until the precommit phase checks it.
func (r *runner) checkQuorum(rv *roundVotes, goal voteGoal) (string, bool) {
	switch goal {
	case voteDecide:
		if id, ok := leadingBlockId(rv.precommits, r.quorumN); ok {
			return id, true
		}
		return "", false
	default: // votePrevote
		if id, ok := leadingBlockId(rv.prevotes, r.quorumN); ok {
			return id, true
		}
		if tally(rv.prevotes, "") >= r.quorumN {
			return "", true
		}
		return "", false
	}
}

// prevoteChoice implements spec.md §4.5 step 2's locked-value rule.
func (r *runner) prevoteChoice(contentId string, proposalOK bool, round uint32) string {
	if !proposalOK || contentId == "" {
		return ""
	}
	if r.lockedId == nil {
		return contentId
	}
	if *r.lockedId == contentId {
		return contentId
	}
	if r.lockedRd != nil && r.validRd != nil && *r.lockedRd <= *r.validRd {
		return contentId
	}
	return ""
}

func proposalKey(height core.BlockNumber, round uint32) string {
	return core.ProposalPartsKey(height, round)
}
