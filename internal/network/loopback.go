package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/rechain/starknet-sequencer/internal/core"
)

// LoopbackBus is a pure-channel, dependency-free Bus for single-process
// tests, mirroring how the teacher's own testutil avoids standing up real
// peers for storage tests. Every bus returned by the same
// NewLoopbackNetwork call sees every other bus's broadcasts.
type LoopbackBus struct {
	self chan core.ConsensusMessage
	hub  *loopbackHub

	partsMu sync.Mutex
	parts   map[string]*loopbackParts
}

// NewLoopbackNetwork returns n independently-subscribed buses that all
// share the same broadcast fabric, for driving a MultiHeightManager
// end-to-end without real peers.
func NewLoopbackNetwork(n int) []*LoopbackBus {
	shared := &loopbackHub{}
	buses := make([]*LoopbackBus, n)
	for i := range buses {
		b := &LoopbackBus{self: make(chan core.ConsensusMessage, 256), parts: make(map[string]*loopbackParts)}
		shared.register(b)
		buses[i] = b
	}
	return buses
}

type loopbackHub struct {
	mu   sync.Mutex
	buses []*LoopbackBus
}

func (h *loopbackHub) register(b *LoopbackBus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buses = append(h.buses, b)
	b.hub = h
}

// NewStandaloneLoopbackBus returns a bus with no peers, useful for unit
// tests of a single participant that only needs to not panic on Broadcast.
func NewStandaloneLoopbackBus() *LoopbackBus {
	return &LoopbackBus{self: make(chan core.ConsensusMessage, 256), parts: make(map[string]*loopbackParts)}
}

func (b *LoopbackBus) Broadcast(_ context.Context, msg core.ConsensusMessage) error {
	if b.hub == nil {
		return nil
	}
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	for _, peerBus := range b.hub.buses {
		if peerBus == b {
			continue
		}
		select {
		case peerBus.self <- msg:
		default:
		}
	}
	return nil
}

func (b *LoopbackBus) Messages() <-chan core.ConsensusMessage { return b.self }

func (b *LoopbackBus) PartsTopic(key string) PartsTopic {
	b.partsMu.Lock()
	defer b.partsMu.Unlock()
	if p, ok := b.parts[key]; ok {
		return p
	}
	p := &loopbackParts{bus: b, key: key, ch: make(chan core.ConsensusMessage, 256)}
	b.parts[key] = p
	return p
}

func (b *LoopbackBus) Close() error { return nil }

type loopbackParts struct {
	bus *LoopbackBus
	key string
	ch  chan core.ConsensusMessage
}

func (p *loopbackParts) Send(_ context.Context, msg core.ConsensusMessage) error {
	if p.bus.hub == nil {
		return fmt.Errorf("network: loopback bus has no peers")
	}
	p.bus.hub.mu.Lock()
	defer p.bus.hub.mu.Unlock()
	for _, peerBus := range p.bus.hub.buses {
		if peerBus == p.bus {
			continue
		}
		peerTopic := peerBus.PartsTopic(p.key).(*loopbackParts)
		select {
		case peerTopic.ch <- msg:
		default:
		}
	}
	return nil
}

func (p *loopbackParts) Receive() <-chan core.ConsensusMessage { return p.ch }

func (p *loopbackParts) Close() error {
	p.bus.partsMu.Lock()
	defer p.bus.partsMu.Unlock()
	delete(p.bus.parts, p.key)
	return nil
}
