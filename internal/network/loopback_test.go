package network_test

import (
	"context"
	"testing"
	"time"

	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackBus_BroadcastFanout(t *testing.T) {
	buses := network.NewLoopbackNetwork(3)
	ctx := context.Background()

	msg := core.ConsensusMessage{Kind: core.MsgPrevote, Height: 1, Round: 0, Voter: "v0", BlockId: "b1"}
	require.NoError(t, buses[0].Broadcast(ctx, msg))

	for i := 1; i < 3; i++ {
		select {
		case got := <-buses[i].Messages():
			assert.Equal(t, msg, got)
		case <-time.After(time.Second):
			t.Fatalf("bus %d did not receive broadcast", i)
		}
	}

	select {
	case <-buses[0].Messages():
		t.Fatal("sender should not receive its own broadcast")
	default:
	}
}

func TestLoopbackBus_PartsTopicIsolated(t *testing.T) {
	buses := network.NewLoopbackNetwork(2)
	ctx := context.Background()

	part := core.ConsensusMessage{Kind: core.MsgProposalPart, Height: 1, PartIndex: 0, PartData: []byte("chunk")}
	require.NoError(t, buses[0].PartsTopic("p1").Send(ctx, part))

	select {
	case got := <-buses[1].PartsTopic("p1").Receive():
		assert.Equal(t, part, got)
	case <-time.After(time.Second):
		t.Fatal("expected proposal part on matching topic")
	}

	select {
	case <-buses[1].PartsTopic("other").Receive():
		t.Fatal("unrelated parts topic should not see the message")
	default:
	}
}
