package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ringkv/ringkv/internal/peer"
)

// PeerHandler dispatches inbound peer-link requests to the node's local
// components. It is stateless beyond the *Node it wraps, so the listener
// and each outbound dial use their own instance.
type PeerHandler struct {
	node *Node
}

// HandleRequest implements peer.Handler.
func (h *PeerHandler) HandleRequest(ctx context.Context, from *peer.Link, msgType peer.MsgType, payload json.RawMessage) (json.RawMessage, error) {
	switch msgType {
	case peer.MsgIdentify:
		return h.handleIdentify(payload)
	case peer.MsgHeartbeat:
		return h.handleHeartbeat(payload)
	case peer.MsgReplicate:
		return h.handleReplicate(payload)
	case peer.MsgRead:
		return h.handleRead(payload)
	case peer.MsgWrite:
		return h.handleWrite(payload)
	case peer.MsgNodeFailure:
		return h.handleNodeFailure(payload)
	default:
		return nil, fmt.Errorf("node: unknown message type %q", msgType)
	}
}

func (h *PeerHandler) handleIdentify(payload json.RawMessage) (json.RawMessage, error) {
	var req peer.IdentifyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}

	h.node.rememberAddress(req.NodeID, req.Address)
	h.node.Ring.AddNode(req.NodeID)
	h.node.Detector.Reidentify(req.NodeID)

	reply := peer.IdentifyReply{
		NodeID:  h.node.id,
		Address: h.node.address,
		Members: h.node.Members(),
	}
	return json.Marshal(reply)
}

func (h *PeerHandler) handleHeartbeat(payload json.RawMessage) (json.RawMessage, error) {
	var req peer.HeartbeatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return json.Marshal(peer.HeartbeatReply{NodeID: h.node.id})
}

func (h *PeerHandler) handleReplicate(payload json.RawMessage) (json.RawMessage, error) {
	var req peer.ReplicateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	outcome := h.node.Store.Put(req.Key, req.Record)
	return json.Marshal(peer.ReplicateReply{Outcome: outcome.String()})
}

func (h *PeerHandler) handleRead(payload json.RawMessage) (json.RawMessage, error) {
	var req peer.ReadRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	rec, found := h.node.Store.Get(req.Key)
	return json.Marshal(peer.ReadReply{Record: rec, Found: found})
}

func (h *PeerHandler) handleWrite(payload json.RawMessage) (json.RawMessage, error) {
	var req peer.WriteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	outcome := h.node.Store.Put(req.Key, req.Record)
	return json.Marshal(peer.WriteReply{Outcome: outcome.String(), NodeID: h.node.id})
}

func (h *PeerHandler) handleNodeFailure(payload json.RawMessage) (json.RawMessage, error) {
	var notice peer.NodeFailureNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		return nil, err
	}
	h.node.Detector.NotifyGossipedFailure(notice.NodeID)
	return nil, nil
}
