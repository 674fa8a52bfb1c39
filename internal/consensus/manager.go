package consensus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/network"
)

// MultiHeightManager drives consecutive heights to decision, one at a
// time, starting from cfg.StartHeight. Grounded on the teacher's
// Consensus.Run loop (a single goroutine looping startNewHeight ->
// advanceToNextStep until shutdown), replaced here with a loop that hands
// each height off to a fresh runner and a background pump that keeps vote
// messages flowing in height order regardless of arrival order, per
// spec.md §8 scenario 4.
type MultiHeightManager struct {
	cfg Config
	ctx Context
	bus network.Bus

	mu      sync.Mutex
	pending map[core.BlockNumber][]core.ConsensusMessage
	current core.BlockNumber
	sink    chan core.ConsensusMessage

	syncMu     sync.Mutex
	syncHeight core.BlockNumber
	syncSet    bool
}

// NewMultiHeightManager constructs a manager. Run must be called to start
// driving heights.
func NewMultiHeightManager(cfg Config, cctx Context, bus network.Bus) *MultiHeightManager {
	return &MultiHeightManager{
		cfg:     cfg,
		ctx:     cctx,
		bus:     bus,
		pending: make(map[core.BlockNumber][]core.ConsensusMessage),
		current: cfg.StartHeight,
	}
}

// CurrentHeight reports the height the manager is actively driving, for
// status surfaces (see internal/api).
func (m *MultiHeightManager) CurrentHeight() core.BlockNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// NotifySynced reports that storage has just caught up to height h via an
// out-of-band sync (state sync, snapshot restore). Run picks this up before
// starting its next height's runner, and abandons the current height's
// runner if it is already behind.
func (m *MultiHeightManager) NotifySynced(h core.BlockNumber) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	if !m.syncSet || h > m.syncHeight {
		m.syncHeight = h
		m.syncSet = true
	}
}

// checkSync reports a height to skip to, if sync has moved us past
// m.current. Deliberately a plain method call, never a select case: per
// spec.md §5, the skip-ahead check must happen outside any select branch
// so a height transition is never racing a channel read for the same
// decision (this is the property that makes the sync path
// cancellation-safe).
func (m *MultiHeightManager) checkSync(at core.BlockNumber) (core.BlockNumber, bool) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	if m.syncSet && m.syncHeight >= at {
		return m.syncHeight + 1, true
	}
	return 0, false
}

// pump reads the shared bus and routes each message to the height-scoped
// channel runRound is reading from, buffering messages for heights that
// have not started yet so an out-of-order arrival is never dropped.
func (m *MultiHeightManager) pump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-m.bus.Messages():
			if !ok {
				return
			}
			m.route(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (m *MultiHeightManager) route(msg core.ConsensusMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Height < m.current {
		return
	}
	if msg.Height == m.current && m.sink != nil {
		select {
		case m.sink <- msg:
		default:
			m.pending[msg.Height] = append(m.pending[msg.Height], msg)
		}
		return
	}
	m.pending[msg.Height] = append(m.pending[msg.Height], msg)
}

// startHeight prepares the incoming channel for height h, replaying any
// messages pump buffered for it before the runner existed.
func (m *MultiHeightManager) startHeight(h core.BlockNumber) <-chan core.ConsensusMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = h
	buffered := m.pending[h]
	delete(m.pending, h)
	ch := make(chan core.ConsensusMessage, 256+len(buffered))
	for _, msg := range buffered {
		ch <- msg
	}
	m.sink = ch
	return ch
}

// Run drives heights starting at cfg.StartHeight until ctx is cancelled.
func (m *MultiHeightManager) Run(ctx context.Context) error {
	go m.pump(ctx)

	h := m.cfg.StartHeight
	for {
		if skipTo, ok := m.checkSync(h); ok {
			h = skipTo
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m.ctx.SetHeightAndRound(h, 0)
		incoming := m.startHeight(h)

		heightCtx, cancelHeight := context.WithCancel(ctx)
		stop := make(chan struct{})
		go m.watchSync(h, cancelHeight, stop)

		r := newRunner(m.cfg, m.ctx, m.bus, h)
		decision, err := r.run(heightCtx, incoming)
		close(stop)
		cancelHeight()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == ErrHeightCancelled || heightCtx.Err() != nil {
				// A sync skip cancelled this height's runner; checkSync
				// above will move h past it on the next iteration.
				continue
			}
			log.Printf("consensus: height %d failed: %v", h, err)
			return err
		}
		_ = decision
		h++
	}
}

// watchSync periodically checks, via a plain function call outside any
// select statement racing the runner's own decision channels, whether an
// out-of-band sync has moved past height h — and if so cancels that
// height's runner so the manager can resume from the synced height. The
// select below only ever arbitrates between "time to check" and "stop
// watching"; it never competes with a vote or decision arriving, which is
// what keeps the skip-ahead cancellation-safe.
func (m *MultiHeightManager) watchSync(h core.BlockNumber, cancel context.CancelFunc, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-time.After(5 * time.Millisecond):
		}
		if _, ok := m.checkSync(h); ok {
			cancel()
			return
		}
	}
}
