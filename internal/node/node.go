// Package node wires the five core components (Local Store, Hash Ring, Peer
// Link, Failure Detector, Coordinator) into one running process: it owns the
// peer listener, the address book used to dial newly discovered peers, and
// the membership bootstrap (join) sequence.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/ringkv/ringkv/internal/coordinator"
	"github.com/ringkv/ringkv/internal/detector"
	"github.com/ringkv/ringkv/internal/metrics"
	"github.com/ringkv/ringkv/internal/model"
	"github.com/ringkv/ringkv/internal/peer"
	"github.com/ringkv/ringkv/internal/ring"
	"github.com/ringkv/ringkv/internal/store"
	"go.uber.org/zap"
)

// Config holds the values a Node needs at construction. Defaults for
// ReplicationFactor/VirtualNodes are applied by internal/config before this
// is built; Node itself does not second-guess them.
type Config struct {
	NodeID            string
	BindAddress       string
	ReplicationFactor int
	VirtualNodes      int
}

// Node owns every long-lived component for one cluster member.
type Node struct {
	id      string
	address string

	Store      store.Engine
	Ring       *ring.Ring
	Table      *peer.Table
	Detector   *detector.Detector
	Coord      *coordinator.Coordinator
	Metrics    *metrics.Registry
	Logger     *zap.Logger
	listener   *peer.Listener

	booksMu     sync.RWMutex
	addressBook map[string]string // nodeID -> dial address, including self

	serveErrCh chan error
}

// New constructs a Node and binds its peer listener, but does not start
// serving or heartbeating; call Start for that.
func New(cfg Config, logger *zap.Logger) (*Node, error) {
	r := ring.New(cfg.VirtualNodes)
	eng := store.NewInMemoryEngine()
	table := peer.NewTable()
	m := metrics.New(cfg.NodeID)

	n := &Node{
		id:          cfg.NodeID,
		Store:       eng,
		Ring:        r,
		Table:       table,
		Metrics:     m,
		Logger:      logger,
		addressBook: make(map[string]string),
	}

	n.Coord = coordinator.New(cfg.NodeID, eng, r, table, cfg.ReplicationFactor, m, logger)
	n.Detector = detector.New(cfg.NodeID, table, r, m, logger, nil)

	handler := &PeerHandler{node: n}
	ln, err := peer.NewListener(cfg.BindAddress, cfg.NodeID, handler, table, logger)
	if err != nil {
		return nil, fmt.Errorf("node: bind peer listener: %w", err)
	}
	n.listener = ln
	n.address = ln.Addr().String()
	n.rememberAddress(cfg.NodeID, n.address)

	r.AddNode(cfg.NodeID)

	return n, nil
}

// ID returns this node's ID.
func (n *Node) ID() string { return n.id }

// Address returns this node's bound peer-link address.
func (n *Node) Address() string { return n.address }

func (n *Node) rememberAddress(nodeID, address string) {
	n.booksMu.Lock()
	defer n.booksMu.Unlock()
	n.addressBook[nodeID] = address
}

func (n *Node) knownAddress(nodeID string) (string, bool) {
	n.booksMu.RLock()
	defer n.booksMu.RUnlock()
	addr, ok := n.addressBook[nodeID]
	return addr, ok
}

// Start begins serving inbound peer connections and running the failure
// detector loop. The peer listener's accept loop runs in its own goroutine;
// the error it returns when it stops is not reported.
func (n *Node) Start() {
	n.serveErrCh = make(chan error, 1)
	go func() {
		n.serveErrCh <- n.listener.Serve()
	}()
	n.Detector.Start()
}

// Stop closes the peer listener and every live link, and halts the failure
// detector. It is safe to call even if Start was never called.
func (n *Node) Stop() {
	if n.Detector != nil {
		n.Detector.Stop()
	}
	if n.listener != nil {
		_ = n.listener.Close()
	}
	for _, nodeID := range n.Table.Nodes() {
		n.Table.Remove(nodeID)
	}
}

// AddNode admits nodeID at address directly, without dialing it. Used when a
// node is told about a peer out of band (e.g. via the HTTP
// `POST /cluster/nodes` endpoint) rather than discovering it through join.
func (n *Node) AddNode(nodeID, address string) {
	n.rememberAddress(nodeID, address)
	n.Ring.AddNode(nodeID)
}

// Members returns every node this Node currently knows an address for,
// including itself.
func (n *Node) Members() []model.NodeDescriptor {
	n.booksMu.RLock()
	defer n.booksMu.RUnlock()
	out := make([]model.NodeDescriptor, 0, len(n.addressBook))
	ringMembers := make(map[string]bool)
	for _, id := range n.Ring.Members() {
		ringMembers[id] = true
	}
	for id, addr := range n.addressBook {
		liveness := model.Failed
		if ringMembers[id] {
			liveness = model.Alive
		}
		out = append(out, model.NodeDescriptor{NodeID: id, Address: addr, Liveness: liveness})
	}
	return out
}

// dialAndRegister opens a link to address, identifies as this node, and on
// success registers the link live in the peer table and the peer on the
// ring. It returns the peer's reported identity and the members it told us
// about, so the caller can continue an epidemic join.
func (n *Node) dialAndRegister(ctx context.Context, address string) (peer.IdentifyReply, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return peer.IdentifyReply{}, err
	}
	handler := &PeerHandler{node: n}
	link := peer.NewLink(conn, n.id, handler, n.Logger)
	reply, err := link.Identify(ctx, n.address)
	if err != nil {
		_ = link.Close()
		return peer.IdentifyReply{}, err
	}
	link.MarkLive()
	n.Table.Set(reply.NodeID, link)

	n.rememberAddress(reply.NodeID, reply.Address)
	n.Ring.AddNode(reply.NodeID)
	n.Detector.Reidentify(reply.NodeID)
	return reply, nil
}
