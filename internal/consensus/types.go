// Package consensus implements the multi-height consensus manager (C5): a
// Tendermint-style propose/prevote/precommit state machine per block
// height, coordinated across heights by MultiHeightManager. Grounded on
// internal/consensus/consensus.go's original Step enum, round-robin
// isProposer, per-step goroutine timeouts, and votingMutex-guarded state —
// the teacher's single simplified per-height loop is expanded here into
// the full quorum machine spec.md §4.5 describes.
package consensus

import (
	"errors"
	"time"

	"github.com/rechain/starknet-sequencer/internal/core"
)

// Step is the per-round state spec.md §3's HeightState.step carries.
type Step int

const (
	StepNewRound Step = iota
	StepPropose
	StepPrevote
	StepPrecommit
	StepCommitted
)

func (s Step) String() string {
	switch s {
	case StepNewRound:
		return "NewRound"
	case StepPropose:
		return "Propose"
	case StepPrevote:
		return "Prevote"
	case StepPrecommit:
		return "Precommit"
	case StepCommitted:
		return "Committed"
	default:
		return "Unknown"
	}
}

// TimeoutsConfig carries the three per-step timeouts, grounded on
// pkg/config's ConsensusConfig.Timeouts (itself renamed from the teacher's
// flat timeoutPrevote/timeoutPrecommit/timeoutCommit fields).
type TimeoutsConfig struct {
	ProposalTimeout  time.Duration
	PrevoteTimeout   time.Duration
	PrecommitTimeout time.Duration
}

// Config configures one MultiHeightManager / per-height Runner.
type Config struct {
	ValidatorID core.ValidatorId
	StartHeight core.BlockNumber
	Timeouts    TimeoutsConfig
}

// Decision is the terminal outcome of one height: the decided content id
// and the precommit set that justified it.
type Decision struct {
	Height     core.BlockNumber
	ContentId  string
	Precommits []core.ConsensusMessage
}

// ErrHeightCancelled is returned by a height's Run when its incoming
// message channel is closed mid-flight. A cancelled context (a sync skip,
// or the manager shutting down) surfaces as ctx.Err() instead.
var ErrHeightCancelled = errors.New("consensus: height cancelled")

// quorum returns 2f+1 for n validators, f = floor((n-1)/3).
func quorum(n int) int {
	if n <= 0 {
		return 1
	}
	f := (n - 1) / 3
	return 2*f + 1
}
