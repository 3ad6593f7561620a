package detector

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/ringkv/ringkv/internal/metrics"
	"github.com/ringkv/ringkv/internal/peer"
	"github.com/ringkv/ringkv/internal/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// alwaysReplyHandler answers every request type with a minimally valid
// reply, used where the detector only cares that heartbeat succeeds.
type alwaysReplyHandler struct{ nodeID string }

func (h alwaysReplyHandler) HandleRequest(ctx context.Context, from *peer.Link, msgType peer.MsgType, payload json.RawMessage) (json.RawMessage, error) {
	switch msgType {
	case peer.MsgIdentify:
		b, _ := json.Marshal(peer.IdentifyReply{NodeID: h.nodeID})
		return b, nil
	case peer.MsgHeartbeat:
		b, _ := json.Marshal(peer.HeartbeatReply{NodeID: h.nodeID})
		return b, nil
	}
	return nil, nil
}

func newLiveLink(t *testing.T, localID, remoteID string) (*peer.Link, *peer.Link) {
	t.Helper()
	c1, c2 := net.Pipe()
	logger := zap.NewNop()
	client := peer.NewLink(c1, localID, alwaysReplyHandler{nodeID: localID}, logger)
	server := peer.NewLink(c2, remoteID, alwaysReplyHandler{nodeID: remoteID}, logger)
	_, err := client.Identify(context.Background(), "addr")
	require.NoError(t, err)
	client.MarkLive()
	return client, server
}

func newTestDetector(t *testing.T, nodeID string, nowMs func() int64) (*Detector, *peer.Table, *ring.Ring) {
	t.Helper()
	table := peer.NewTable()
	r := ring.New(10)
	m := metrics.New(nodeID)
	d := New("local-"+nodeID, table, r, m, zap.NewNop(), nowMs)
	return d, table, r
}

func TestDetector_TickHeartbeatsLiveLinks(t *testing.T) {
	clock := int64(1000)
	nowMs := func() int64 { return clock }
	d, table, r := newTestDetector(t, "a", nowMs)

	client, server := newLiveLink(t, "local-a", "peer-1")
	defer client.Close()
	defer server.Close()
	table.Set("peer-1", client)
	r.AddNode("peer-1")

	d.tick()

	d.mu.Lock()
	st, ok := d.states["peer-1"]
	d.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, clock, st.lastHeartbeatMs)
}

func TestDetector_DeclaresFailureAfterThreshold(t *testing.T) {
	clock := int64(0)
	nowMs := func() int64 { return clock }
	d, table, r := newTestDetector(t, "b", nowMs)

	client, server := newLiveLink(t, "local-b", "peer-2")
	defer server.Close()
	table.Set("peer-2", client)
	r.AddNode("peer-2")

	d.tick() // records heartbeat at clock=0

	// advance clock past the close link so heartbeats start failing, then
	// past the failure threshold
	_ = client.Close()
	clock = FailureThreshold.Milliseconds() + 1
	d.tick()

	assert.Equal(t, 0, r.Size(), "failed peer must be removed from the ring")
	_, ok := table.Get("peer-2")
	assert.False(t, ok, "failed peer's link must be removed from the table")
}

func TestDetector_GossipHalvesThreshold(t *testing.T) {
	clock := int64(0)
	nowMs := func() int64 { return clock }
	d, table, r := newTestDetector(t, "c", nowMs)

	client, server := newLiveLink(t, "local-c", "peer-3")
	defer server.Close()
	table.Set("peer-3", client)
	r.AddNode("peer-3")

	d.tick() // lastHeartbeatMs = 0
	_ = client.Close()

	d.NotifyGossipedFailure("peer-3")

	// halfway to the full threshold, but past the halved one
	clock = FailureThreshold.Milliseconds()/2 + 1
	d.tick()

	assert.Equal(t, 0, r.Size(), "gossip-shortened threshold should have been exceeded")
}

func TestDetector_GossipAloneNeverRemoves(t *testing.T) {
	clock := int64(0)
	nowMs := func() int64 { return clock }
	d, table, r := newTestDetector(t, "d", nowMs)

	client, server := newLiveLink(t, "local-d", "peer-4")
	defer client.Close()
	defer server.Close()
	table.Set("peer-4", client)
	r.AddNode("peer-4")

	d.tick() // peer-4 heartbeats fine, lastHeartbeatMs = 0

	d.NotifyGossipedFailure("peer-4")
	clock = 1 // barely any time has passed; link is still healthy
	d.tick()

	assert.Equal(t, 1, r.Size(), "a healthy peer must not be removed just because of gossip")
}

func TestDetector_StartStop(t *testing.T) {
	d, _, _ := newTestDetector(t, "e", nil)
	d.Start()
	time.Sleep(10 * time.Millisecond)
	d.Stop()
}
