package peer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ringkv/ringkv/internal/model"
)

// MsgType tags each frame on a link with which of the six messages it is.
type MsgType string

const (
	MsgIdentify    MsgType = "identify"
	MsgHeartbeat   MsgType = "heartbeat"
	MsgReplicate   MsgType = "replicate"
	MsgRead        MsgType = "read"
	MsgWrite       MsgType = "write"
	MsgNodeFailure MsgType = "node_failure"
)

// frame is the unit exchanged over a link: a length-prefixed JSON document.
// isReply distinguishes a request frame from the reply correlated to it by
// id; node_failure is sent as a request with no reply expected.
type frame struct {
	ID      uint64          `json:"id"`
	Type    MsgType         `json:"type"`
	IsReply bool            `json:"isReply"`
	Err     string          `json:"err,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const maxFrameSize = 16 << 20 // 16MiB, generous for a single replicated record

// writeFrame writes a length-prefixed JSON frame: a 4-byte big-endian
// length header followed by the JSON body. Callers must serialize writes to
// a given connection themselves (link.go does so with its writeMu).
func writeFrame(w io.Writer, f frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("peer: marshal frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("peer: frame of %d bytes exceeds max %d", len(body), maxFrameSize)
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// readFrame reads one length-prefixed JSON frame from r.
func readFrame(r io.Reader) (frame, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return frame{}, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxFrameSize {
		return frame{}, fmt.Errorf("peer: incoming frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return frame{}, err
	}
	var f frame
	if err := json.Unmarshal(body, &f); err != nil {
		return frame{}, fmt.Errorf("peer: unmarshal frame: %w", err)
	}
	return f, nil
}

// Message payloads. One request/reply pair per message type in the table,
// except node_failure which is request-only (best-effort gossip).

type IdentifyRequest struct {
	NodeID  string `json:"nodeId"`
	Address string `json:"address"`
}

type IdentifyReply struct {
	NodeID  string                 `json:"nodeId"`
	Address string                 `json:"address"`
	Members []model.NodeDescriptor `json:"members,omitempty"`
}

type HeartbeatRequest struct {
	NodeID string `json:"nodeId"`
}

type HeartbeatReply struct {
	NodeID string `json:"nodeId"`
}

type ReplicateRequest struct {
	Key    string       `json:"key"`
	Record model.Record `json:"record"`
}

type ReplicateReply struct {
	Outcome string `json:"outcome"`
}

type ReadRequest struct {
	Key string `json:"key"`
}

type ReadReply struct {
	Record model.Record `json:"record"`
	Found  bool         `json:"found"`
}

type WriteRequest struct {
	Key    string       `json:"key"`
	Record model.Record `json:"record"`
}

type WriteReply struct {
	Outcome string `json:"outcome"`
	NodeID  string `json:"node_id"`
}

// NodeFailureNotice is gossiped best-effort; it has no reply.
type NodeFailureNotice struct {
	NodeID string `json:"nodeId"`
}

func encodePayload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func decodePayload(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
