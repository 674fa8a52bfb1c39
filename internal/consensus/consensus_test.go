package consensus_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/starknet-sequencer/internal/consensus"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/network"
)

// fakeContext is a minimal consensus.Context for driving the quorum
// machine end-to-end without a real batcher, mirroring the teacher's own
// test doubles for its narrow capability interfaces.
type fakeContext struct {
	validatorID core.ValidatorId
	validators  []core.ValidatorId
	bus         network.Bus

	mu         sync.Mutex
	decisions  []consensus.Decision
	dropRound0 bool // when true, round 0 proposals never resolve (simulate silence -> timeout)
}

func (f *fakeContext) Validators(core.BlockNumber) []core.ValidatorId { return f.validators }

func (f *fakeContext) Proposer(h core.BlockNumber, r uint32) core.ValidatorId {
	idx := (uint64(h) + uint64(r)) % uint64(len(f.validators))
	return f.validators[idx]
}

func (f *fakeContext) BuildProposal(ctx context.Context, height core.BlockNumber, round uint32, timeout time.Duration) (<-chan consensus.ProposalResult, error) {
	out := make(chan consensus.ProposalResult, 1)
	if f.dropRound0 && round == 0 {
		// Never resolve within the proposal timeout; runner must time out
		// and advance to round 1.
		go func() {
			<-ctx.Done()
		}()
		return out, nil
	}
	go func() {
		out <- consensus.ProposalResult{
			ContentId: fmt.Sprintf("block-%d-%d", height, round),
			Parts:     [][]byte{[]byte("part0")},
		}
	}()
	return out, nil
}

func (f *fakeContext) ValidateProposal(ctx context.Context, height core.BlockNumber, round uint32, proposer core.ValidatorId, timeout time.Duration, parts <-chan []byte) (<-chan consensus.ProposalResult, error) {
	out := make(chan consensus.ProposalResult, 1)
	go func() {
		var gotAny bool
		deadline := time.After(timeout)
		for {
			select {
			case _, ok := <-parts:
				if !ok {
					if !gotAny && round == 0 && f.dropRound0 {
						return
					}
					out <- consensus.ProposalResult{ContentId: fmt.Sprintf("block-%d-%d", height, round)}
					return
				}
				gotAny = true
			case <-deadline:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeContext) Repropose(core.BlockNumber, uint32, string) error { return nil }

func (f *fakeContext) Broadcast(ctx context.Context, msg core.ConsensusMessage) error {
	return f.bus.Broadcast(ctx, msg)
}

func (f *fakeContext) DecisionReached(_ context.Context, height core.BlockNumber, contentId string, precommits []core.ConsensusMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, consensus.Decision{Height: height, ContentId: contentId, Precommits: precommits})
	return nil
}

func (f *fakeContext) SetHeightAndRound(core.BlockNumber, uint32) {}

func TestMultiHeightManager_DecidesInHeightOrder(t *testing.T) {
	// Scenario 4: out-of-order vote arrival across heights must not
	// prevent heights from deciding strictly in order.
	n := 4
	buses := network.NewLoopbackNetwork(n)
	validators := []core.ValidatorId{"v0", "v1", "v2", "v3"}

	cfg := consensus.Config{
		StartHeight: 0,
		Timeouts: consensus.TimeoutsConfig{
			ProposalTimeout:  50 * time.Millisecond,
			PrevoteTimeout:   50 * time.Millisecond,
			PrecommitTimeout: 50 * time.Millisecond,
		},
	}

	managers := make([]*consensus.MultiHeightManager, n)
	ctxs := make([]*fakeContext, n)
	for i, id := range validators {
		fc := &fakeContext{validatorID: id, validators: validators}
		fc.bus = buses[i]
		ctxs[i] = fc
		c := cfg
		c.ValidatorID = id
		managers[i] = consensus.NewMultiHeightManager(c, fc, buses[i])
	}

	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func(m *consensus.MultiHeightManager) {
			defer wg.Done()
			_ = m.Run(runCtx)
		}(m)
	}

	deadline := time.After(1500 * time.Millisecond)
	for {
		allDecidedTwo := true
		for _, fc := range ctxs {
			fc.mu.Lock()
			n := len(fc.decisions)
			fc.mu.Unlock()
			if n < 2 {
				allDecidedTwo = false
			}
		}
		if allDecidedTwo {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for heights 0 and 1 to decide on all participants")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	wg.Wait()

	for _, fc := range ctxs {
		require.GreaterOrEqual(t, len(fc.decisions), 2)
		assert.Equal(t, core.BlockNumber(0), fc.decisions[0].Height)
		assert.Equal(t, core.BlockNumber(1), fc.decisions[1].Height)
	}
}

func TestMultiHeightManager_TimeoutAdvancesRound(t *testing.T) {
	// Scenario 5: a round that never gets a proposal (network silence)
	// times out and round 1 decides instead.
	n := 4
	buses := network.NewLoopbackNetwork(n)
	validators := []core.ValidatorId{"v0", "v1", "v2", "v3"}

	cfg := consensus.Config{
		StartHeight: 0,
		Timeouts: consensus.TimeoutsConfig{
			ProposalTimeout:  30 * time.Millisecond,
			PrevoteTimeout:   30 * time.Millisecond,
			PrecommitTimeout: 30 * time.Millisecond,
		},
	}

	managers := make([]*consensus.MultiHeightManager, n)
	ctxs := make([]*fakeContext, n)
	for i, id := range validators {
		fc := &fakeContext{validatorID: id, validators: validators, dropRound0: true}
		fc.bus = buses[i]
		ctxs[i] = fc
		c := cfg
		c.ValidatorID = id
		managers[i] = consensus.NewMultiHeightManager(c, fc, buses[i])
	}

	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func(m *consensus.MultiHeightManager) {
			defer wg.Done()
			_ = m.Run(runCtx)
		}(m)
	}

	deadline := time.After(1800 * time.Millisecond)
	for {
		ready := true
		for _, fc := range ctxs {
			fc.mu.Lock()
			n := len(fc.decisions)
			fc.mu.Unlock()
			if n < 1 {
				ready = false
			}
		}
		if ready {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for height 0 to decide after a round timeout")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	wg.Wait()

	for _, fc := range ctxs {
		require.GreaterOrEqual(t, len(fc.decisions), 1)
		assert.Equal(t, core.BlockNumber(0), fc.decisions[0].Height)
		assert.NotEqual(t, "block-0-0", fc.decisions[0].ContentId)
	}
}

func TestMultiHeightManager_SyncSkipsAheadSafely(t *testing.T) {
	// Scenario 6: an out-of-band sync to a future height must cause the
	// manager to abandon its current height's runner and resume from
	// height+1 without racing a concurrent decision for the old height.
	// Four validators are declared (quorum 3) but only one is actually
	// running, so this participant can never reach quorum on its own —
	// height 0 is guaranteed to still be in flight when sync arrives.
	validators := []core.ValidatorId{"v0", "v1", "v2", "v3"}
	bus := network.NewStandaloneLoopbackBus()

	fc := &fakeContext{validatorID: "v0", validators: validators}
	fc.bus = bus

	cfg := consensus.Config{
		ValidatorID: "v0",
		StartHeight: 0,
		Timeouts: consensus.TimeoutsConfig{
			ProposalTimeout:  200 * time.Millisecond,
			PrevoteTimeout:   200 * time.Millisecond,
			PrecommitTimeout: 200 * time.Millisecond,
		},
	}
	m := consensus.NewMultiHeightManager(cfg, fc, bus)

	runCtx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx) }()

	time.Sleep(20 * time.Millisecond)
	m.NotifySynced(5)

	<-done

	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, d := range fc.decisions {
		assert.NotEqual(t, core.BlockNumber(0), d.Height, "height 0 must not decide after sync moved past it")
	}
}
