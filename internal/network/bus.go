// Package network realizes the wire contract of spec.md §6: a broadcast bus
// of ConsensusMessage for votes, and a dedicated per-proposal channel for
// proposal init/parts/fin so a slow part stream can never
// head-of-line block a vote. Grounded on internal/gossip/gossip.go's host
// construction and peer-map idiom, generalized from a bespoke stream
// protocol to a pubsub-topic broadcaster.
package network

import (
	"context"

	"github.com/rechain/starknet-sequencer/internal/core"
)

// Bus is the capability internal/consensus depends on. Votes travel
// through Broadcast/Messages; a proposal's ProposalInit, ProposalPart and
// ProposalFin messages travel through their own PartsTopic, obtained
// once per proposal and discarded when the proposal concludes.
type Bus interface {
	// Broadcast sends msg to every participant on the shared consensus
	// topic.
	Broadcast(ctx context.Context, msg core.ConsensusMessage) error

	// Messages returns the channel of messages received on the shared
	// consensus topic.
	Messages() <-chan core.ConsensusMessage

	// PartsTopic returns a dedicated send/receive pair for one proposal's
	// messages, keyed by the proposal's height and round
	// (core.ProposalPartsKey).
	PartsTopic(proposalKey string) PartsTopic

	// Close releases the bus's resources.
	Close() error
}

// PartsTopic is a proposal-scoped channel pair for ProposalInit,
// ProposalPart and ProposalFin messages.
type PartsTopic interface {
	Send(ctx context.Context, msg core.ConsensusMessage) error
	Receive() <-chan core.ConsensusMessage
	Close() error
}
