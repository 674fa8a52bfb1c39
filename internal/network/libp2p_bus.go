package network

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	multiaddr "github.com/multiformats/go-multiaddr"

	"github.com/rechain/starknet-sequencer/internal/core"
)

const votesTopicName = "/sequencer/consensus/1.0.0"

// LibP2PBus is the production Bus, built on github.com/libp2p/go-libp2p and
// github.com/libp2p/go-libp2p-pubsub. Grounded on internal/gossip/gossip.go's
// host construction, generalized from a bespoke stream protocol to topic
// broadcast so peer fan-out is handled by the pubsub mesh instead of a
// hand-rolled peer list.
type LibP2PBus struct {
	host host.Host
	ps   *pubsub.PubSub

	votesTopic *pubsub.Topic
	votesSub   *pubsub.Subscription
	votesCh    chan core.ConsensusMessage

	mu    sync.Mutex
	parts map[string]*libp2pParts

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLibP2PBus starts a libp2p host listening on listenAddr, dials every
// address in bootstrap (best-effort — a peer that is not yet up is logged
// and skipped, not fatal), and joins the shared consensus topic.
func NewLibP2PBus(listenAddr string, bootstrap []string) (*LibP2PBus, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("network: failed to create libp2p host: %w", err)
	}

	dialBootstrapPeers(h, bootstrap)

	ps, err := pubsub.NewGossipSub(context.Background(), h)
	if err != nil {
		return nil, fmt.Errorf("network: failed to create pubsub: %w", err)
	}

	topic, err := ps.Join(votesTopicName)
	if err != nil {
		return nil, fmt.Errorf("network: failed to join votes topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("network: failed to subscribe to votes topic: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &LibP2PBus{
		host:       h,
		ps:         ps,
		votesTopic: topic,
		votesSub:   sub,
		votesCh:    make(chan core.ConsensusMessage, 1024),
		parts:      make(map[string]*libp2pParts),
		ctx:        ctx,
		cancel:     cancel,
	}

	go bus.readLoop()
	log.Printf("network: libp2p bus started on %s, id=%s", listenAddr, h.ID())
	return bus, nil
}

// dialBootstrapPeers connects the host to every bootstrap multiaddr,
// extracting each peer's ID via its trailing /p2p/ component. A dial
// failure is logged and does not prevent the bus from starting — the
// pubsub mesh heals as peers come online and rediscover each other.
func dialBootstrapPeers(h host.Host, bootstrap []string) {
	for _, addr := range bootstrap {
		maddr, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			log.Printf("network: invalid bootstrap address %q: %v", addr, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			log.Printf("network: bootstrap address %q missing /p2p/ peer id: %v", addr, err)
			continue
		}
		if err := h.Connect(context.Background(), *info); err != nil {
			log.Printf("network: failed to dial bootstrap peer %s: %v", info.ID, err)
			continue
		}
		log.Printf("network: connected to bootstrap peer %s", info.ID)
	}
}

func (b *LibP2PBus) readLoop() {
	for {
		m, err := b.votesSub.Next(b.ctx)
		if err != nil {
			return // context cancelled on Close
		}
		if m.ReceivedFrom == b.host.ID() {
			continue
		}
		var msg core.ConsensusMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Printf("network: dropping malformed consensus message: %v", err)
			continue
		}
		select {
		case b.votesCh <- msg:
		default:
			log.Printf("network: votes channel full, dropping message kind=%s", msg.Kind)
		}
	}
}

func (b *LibP2PBus) Broadcast(ctx context.Context, msg core.ConsensusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("network: marshal consensus message: %w", err)
	}
	if err := b.votesTopic.Publish(ctx, data); err != nil {
		return fmt.Errorf("network: publish consensus message: %w", err)
	}
	return nil
}

func (b *LibP2PBus) Messages() <-chan core.ConsensusMessage { return b.votesCh }

func (b *LibP2PBus) PartsTopic(key string) PartsTopic {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.parts[key]; ok {
		return p
	}

	topicName := fmt.Sprintf("/sequencer/proposal-parts/1.0.0/%s", key)
	topic, err := b.ps.Join(topicName)
	if err != nil {
		log.Printf("network: failed to join parts topic %s: %v", topicName, err)
		return &libp2pParts{bus: b, key: key, ch: make(chan core.ConsensusMessage)}
	}
	sub, err := topic.Subscribe()
	if err != nil {
		log.Printf("network: failed to subscribe to parts topic %s: %v", topicName, err)
	}

	p := &libp2pParts{bus: b, key: key, topic: topic, sub: sub, ch: make(chan core.ConsensusMessage, 256)}
	b.parts[key] = p
	if sub != nil {
		go p.readLoop(b.ctx)
	}
	return p
}

func (b *LibP2PBus) Close() error {
	b.cancel()
	b.votesSub.Cancel()
	if err := b.votesTopic.Close(); err != nil {
		return err
	}
	return b.host.Close()
}

type libp2pParts struct {
	bus   *LibP2PBus
	key   string
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	ch    chan core.ConsensusMessage
}

func (p *libp2pParts) readLoop(ctx context.Context) {
	for {
		m, err := p.sub.Next(ctx)
		if err != nil {
			return
		}
		if m.ReceivedFrom == p.bus.host.ID() {
			continue
		}
		var msg core.ConsensusMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			continue
		}
		select {
		case p.ch <- msg:
		default:
		}
	}
}

func (p *libp2pParts) Send(ctx context.Context, msg core.ConsensusMessage) error {
	if p.topic == nil {
		return fmt.Errorf("network: parts topic %s unavailable", p.key)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("network: marshal proposal part: %w", err)
	}
	return p.topic.Publish(ctx, data)
}

func (p *libp2pParts) Receive() <-chan core.ConsensusMessage { return p.ch }

func (p *libp2pParts) Close() error {
	p.bus.mu.Lock()
	delete(p.bus.parts, p.key)
	p.bus.mu.Unlock()

	if p.sub != nil {
		p.sub.Cancel()
	}
	if p.topic != nil {
		return p.topic.Close()
	}
	return nil
}
