package peer

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/ringkv/ringkv/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoHandler answers identify with its own identity and every other
// message type with a canned reply, recording what it saw.
type echoHandler struct {
	nodeID  string
	address string
	seen    chan MsgType
}

func newEchoHandler(nodeID, address string) *echoHandler {
	return &echoHandler{nodeID: nodeID, address: address, seen: make(chan MsgType, 16)}
}

func (h *echoHandler) HandleRequest(ctx context.Context, from *Link, msgType MsgType, payload json.RawMessage) (json.RawMessage, error) {
	h.seen <- msgType
	switch msgType {
	case MsgIdentify:
		return encodePayload(IdentifyReply{NodeID: h.nodeID, Address: h.address}), nil
	case MsgHeartbeat:
		return encodePayload(HeartbeatReply{NodeID: h.nodeID}), nil
	case MsgReplicate:
		return encodePayload(ReplicateReply{Outcome: "written"}), nil
	case MsgRead:
		return encodePayload(ReadReply{Found: false}), nil
	case MsgWrite:
		return encodePayload(WriteReply{Outcome: "written"}), nil
	case MsgNodeFailure:
		return nil, nil
	}
	return nil, nil
}

func pipeLinks(t *testing.T, clientHandler, serverHandler Handler) (client, server *Link) {
	t.Helper()
	c1, c2 := net.Pipe()
	logger := zap.NewNop()
	client = NewLink(c1, "client-node", clientHandler, logger)
	server = NewLink(c2, "server-node", serverHandler, logger)
	return client, server
}

func TestLink_IdentifyTransitionsState(t *testing.T) {
	serverH := newEchoHandler("server-node", "127.0.0.1:9001")
	client, server := pipeLinks(t, newEchoHandler("client-node", "127.0.0.1:9000"), serverH)
	defer client.Close()
	defer server.Close()

	assert.Equal(t, StateConnecting, client.State())

	reply, err := client.Identify(context.Background(), "127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "server-node", reply.NodeID)
	assert.Equal(t, StateIdentified, client.State())
	assert.Equal(t, "server-node", client.RemoteNodeID())

	client.MarkLive()
	assert.Equal(t, StateLive, client.State())
}

func TestLink_HeartbeatRoundTrip(t *testing.T) {
	client, server := pipeLinks(t, newEchoHandler("client-node", ""), newEchoHandler("server-node", ""))
	defer client.Close()
	defer server.Close()

	_, err := client.Identify(context.Background(), "addr")
	require.NoError(t, err)

	reply, err := client.Heartbeat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "server-node", reply.NodeID)
}

func TestLink_ReplicateRoundTrip(t *testing.T) {
	client, server := pipeLinks(t, newEchoHandler("client-node", ""), newEchoHandler("server-node", ""))
	defer client.Close()
	defer server.Close()

	_, err := client.Identify(context.Background(), "addr")
	require.NoError(t, err)

	rec := model.Record{Value: []byte("v"), Metadata: model.Metadata{Timestamp: 1, Version: 1}}
	reply, err := client.Replicate(context.Background(), "k1", rec)
	require.NoError(t, err)
	assert.Equal(t, "written", reply.Outcome)
}

func TestLink_RequestTimesOutWhenPeerNeverReplies(t *testing.T) {
	silent := &blackHoleHandler{}
	client, server := pipeLinks(t, newEchoHandler("client-node", ""), silent)
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Heartbeat(ctx)
	assert.Error(t, err)
}

// blackHoleHandler never responds, used to exercise the per-request
// timeout path.
type blackHoleHandler struct{}

func (blackHoleHandler) HandleRequest(ctx context.Context, from *Link, msgType MsgType, payload json.RawMessage) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLink_CloseWakesPendingCallers(t *testing.T) {
	client, server := pipeLinks(t, newEchoHandler("client-node", ""), &blackHoleHandler{})
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		_, err := client.Heartbeat(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake pending caller")
	}
}
