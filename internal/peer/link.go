package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ringkv/ringkv/internal/model"
	"github.com/ringkv/ringkv/internal/ringerr"
	"go.uber.org/zap"
)

// DefaultRequestTimeout is the per-request deadline applied to any Link
// call that does not carry its own context deadline.
const DefaultRequestTimeout = 3 * time.Second

// State is a Link's lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateIdentified
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler processes an inbound request frame and returns the reply payload.
// The link invokes it synchronously from its single read-dispatch goroutine,
// so a handler implementation must not block for long: one slow handler
// call stalls every other message queued on that link.
type Handler interface {
	HandleRequest(ctx context.Context, from *Link, msgType MsgType, payload json.RawMessage) (json.RawMessage, error)
}

// Link is one persistent connection to a peer, carrying typed
// request/reply traffic for five of the six message kinds plus the
// best-effort, reply-less node_failure gossip. A single goroutine reads frames off the wire and
// dispatches them: replies are routed to the waiting caller, requests are
// handed to Handler and their result written back.
type Link struct {
	conn          net.Conn
	localNodeID   string
	remoteNodeID  atomic.Value // string
	remoteAddress atomic.Value // string
	state         atomic.Int32
	handler       Handler
	logger        *zap.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan frame

	nextID   atomic.Uint64
	closeMu  sync.Mutex
	closed   bool
	closeErr error
	done     chan struct{}

	// onIdentified, if set, fires once after an inbound identify request
	// has populated RemoteNodeID/RemoteAddress. Used by Listener to
	// register the link into the peer table and mark it live.
	onIdentified atomic.Value // func(*Link)
}

// NewLink wraps an established connection and starts its read-dispatch
// loop. The link begins in StateConnecting; Identify (outbound) or an
// inbound identify request (handled via Handler) advances it.
func NewLink(conn net.Conn, localNodeID string, handler Handler, logger *zap.Logger) *Link {
	l := &Link{
		conn:        conn,
		localNodeID: localNodeID,
		handler:     handler,
		logger:      logger,
		pending:     make(map[uint64]chan frame),
		done:        make(chan struct{}),
	}
	l.state.Store(int32(StateConnecting))
	go l.readLoop()
	return l
}

// OnIdentified registers a callback fired once an inbound identify request
// has populated this link's remote identity. Must be called before any
// frame arrives, i.e. immediately after NewLink for an accepted connection.
func (l *Link) OnIdentified(fn func(*Link)) {
	l.onIdentified.Store(fn)
}

// State reports the link's current lifecycle stage.
func (l *Link) State() State { return State(l.state.Load()) }

// RemoteNodeID returns the peer's node ID, set once identify completes in
// either direction. Empty until then.
func (l *Link) RemoteNodeID() string {
	v, _ := l.remoteNodeID.Load().(string)
	return v
}

// RemoteAddress returns the peer's advertised bind address, if known.
func (l *Link) RemoteAddress() string {
	v, _ := l.remoteAddress.Load().(string)
	return v
}

// MarkLive transitions an identified link to live, making it eligible for
// ordinary traffic (heartbeat/replicate/read/write). Called by the owner
// once it has registered the link in its peer table.
func (l *Link) MarkLive() {
	l.state.CompareAndSwap(int32(StateIdentified), int32(StateLive))
}

// Identify sends our identity to the peer and waits for its reply,
// advancing the link to StateIdentified on success.
func (l *Link) Identify(ctx context.Context, address string) (IdentifyReply, error) {
	var reply IdentifyReply
	raw, err := l.send(ctx, MsgIdentify, IdentifyRequest{NodeID: l.localNodeID, Address: address})
	if err != nil {
		return reply, err
	}
	if err := decodePayload(raw, &reply); err != nil {
		return reply, err
	}
	l.remoteNodeID.Store(reply.NodeID)
	l.remoteAddress.Store(reply.Address)
	l.state.Store(int32(StateIdentified))
	return reply, nil
}

// Heartbeat pings the peer; spec timeout applies unless ctx already carries
// a deadline.
func (l *Link) Heartbeat(ctx context.Context) (HeartbeatReply, error) {
	var reply HeartbeatReply
	raw, err := l.send(ctx, MsgHeartbeat, HeartbeatRequest{NodeID: l.localNodeID})
	if err != nil {
		return reply, err
	}
	return reply, decodePayload(raw, &reply)
}

// Replicate asks the peer to store rec under key, LWW-adjudicated locally
// by the peer's own Local Store.
func (l *Link) Replicate(ctx context.Context, key string, rec model.Record) (ReplicateReply, error) {
	var reply ReplicateReply
	raw, err := l.send(ctx, MsgReplicate, ReplicateRequest{Key: key, Record: rec})
	if err != nil {
		return reply, err
	}
	return reply, decodePayload(raw, &reply)
}

// ReadRemote asks the peer for its copy of key.
func (l *Link) ReadRemote(ctx context.Context, key string) (ReadReply, error) {
	var reply ReadReply
	raw, err := l.send(ctx, MsgRead, ReadRequest{Key: key})
	if err != nil {
		return reply, err
	}
	return reply, decodePayload(raw, &reply)
}

// WriteRemote asks the peer to accept a coordinator-originated write.
func (l *Link) WriteRemote(ctx context.Context, key string, rec model.Record) (WriteReply, error) {
	var reply WriteReply
	raw, err := l.send(ctx, MsgWrite, WriteRequest{Key: key, Record: rec})
	if err != nil {
		return reply, err
	}
	return reply, decodePayload(raw, &reply)
}

// NotifyFailure gossips that nodeID has been declared failed. Best-effort:
// it does not wait for any reply.
func (l *Link) NotifyFailure(nodeID string) error {
	return l.sendNoReply(MsgNodeFailure, NodeFailureNotice{NodeID: nodeID})
}

// send issues a request and blocks for its correlated reply or ctx/timeout.
func (l *Link) send(ctx context.Context, msgType MsgType, payload any) (json.RawMessage, error) {
	if l.State() == StateClosed {
		return nil, ringerr.New(ringerr.PeerNotConnected, "link is closed")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	id := l.nextID.Add(1)
	ch := make(chan frame, 1)
	l.pendingMu.Lock()
	l.pending[id] = ch
	l.pendingMu.Unlock()
	defer func() {
		l.pendingMu.Lock()
		delete(l.pending, id)
		l.pendingMu.Unlock()
	}()

	f := frame{ID: id, Type: msgType, Payload: encodePayload(payload)}
	if err := l.writeFrameLocked(f); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if reply.Err != "" {
			return nil, ringerr.New(ringerr.PeerTimeout, reply.Err)
		}
		return reply.Payload, nil
	case <-ctx.Done():
		return nil, ringerr.Wrap(ringerr.PeerTimeout, fmt.Sprintf("%s request timed out", msgType), ctx.Err())
	case <-l.done:
		return nil, ringerr.New(ringerr.PeerNotConnected, "link closed while awaiting reply")
	}
}

func (l *Link) sendNoReply(msgType MsgType, payload any) error {
	if l.State() == StateClosed {
		return ringerr.New(ringerr.PeerNotConnected, "link is closed")
	}
	f := frame{ID: l.nextID.Add(1), Type: msgType, Payload: encodePayload(payload)}
	return l.writeFrameLocked(f)
}

func (l *Link) writeFrameLocked(f frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return writeFrame(l.conn, f)
}

// readLoop is the link's single reader/dispatcher. It runs until the
// connection errors or Close is called.
func (l *Link) readLoop() {
	defer l.Close()
	for {
		f, err := readFrame(l.conn)
		if err != nil {
			return
		}

		if f.IsReply {
			l.pendingMu.Lock()
			ch, ok := l.pending[f.ID]
			l.pendingMu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}

		l.dispatchRequest(f)
	}
}

func (l *Link) dispatchRequest(f frame) {
	if f.Type == MsgIdentify {
		var req IdentifyRequest
		if err := decodePayload(f.Payload, &req); err == nil {
			l.remoteNodeID.Store(req.NodeID)
			l.remoteAddress.Store(req.Address)
			l.state.Store(int32(StateIdentified))
			if fn, ok := l.onIdentified.Load().(func(*Link)); ok && fn != nil {
				fn(l)
			}
		}
	} else if l.State() == StateConnecting {
		// until identification, anything but identify is ignored.
		return
	}
	if f.Type == MsgNodeFailure {
		// one-way gossip: invoke the handler but never write a reply.
		ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
		_, _ = l.handler.HandleRequest(ctx, l, f.Type, f.Payload)
		cancel()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	result, err := l.handler.HandleRequest(ctx, l, f.Type, f.Payload)
	cancel()

	reply := frame{ID: f.ID, Type: f.Type, IsReply: true, Payload: result}
	if err != nil {
		reply.Err = err.Error()
	}
	if writeErr := l.writeFrameLocked(reply); writeErr != nil {
		l.logger.Debug("failed to write reply", zap.Error(writeErr), zap.String("remote", l.RemoteNodeID()))
	}
}

// Close tears the link down, waking every pending caller with an error.
func (l *Link) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return l.closeErr
	}
	l.closed = true
	l.state.Store(int32(StateClosed))
	close(l.done)
	l.closeErr = l.conn.Close()
	return l.closeErr
}
