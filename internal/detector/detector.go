// Package detector implements the Failure Detector: a fixed-interval
// heartbeat/threshold state machine that declares a peer failed once it has
// been silent past the failure threshold, removes it from the ring, closes
// its link, and gossips the failure best-effort to the rest of the cluster.
package detector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ringkv/ringkv/internal/metrics"
	"github.com/ringkv/ringkv/internal/peer"
	"github.com/ringkv/ringkv/internal/ring"
	"go.uber.org/zap"
)

// HeartbeatInterval is how often every live link is heartbeated.
const HeartbeatInterval = 2000 * time.Millisecond

// FailureThreshold is how long a peer may stay silent before it is
// declared failed.
const FailureThreshold = 10000 * time.Millisecond

// peerState tracks one peer's liveness bookkeeping.
type peerState struct {
	lastHeartbeatMs int64
	// gossiped is set when a node_failure gossip about this peer arrives;
	// it halves the effective threshold for this peer on the detector's
	// next tick rather than removing it on gossip alone. gossipedFailureAt
	// records when that gossip arrived.
	gossiped          bool
	gossipedFailureAt int64
	failed            bool
}

// Detector runs the heartbeat/threshold loop for every node currently in
// the peer link table. It is the only writer of ring membership removals triggered by
// liveness, and the only sender of outbound heartbeats.
type Detector struct {
	localNodeID string
	table       *peer.Table
	ring        *ring.Ring
	metrics     *metrics.Registry
	logger      *zap.Logger
	nowMs       func() int64

	mu     sync.Mutex
	states map[string]*peerState

	stop chan struct{}
	done chan struct{}

	started  atomic.Bool
	stopOnce sync.Once
}

// New constructs a Detector. nowMs defaults to wall-clock milliseconds if
// nil; tests may override it for deterministic timing.
func New(localNodeID string, table *peer.Table, r *ring.Ring, m *metrics.Registry, logger *zap.Logger, nowMs func() int64) *Detector {
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Detector{
		localNodeID: localNodeID,
		table:       table,
		ring:        r,
		metrics:     m,
		logger:      logger,
		nowMs:       nowMs,
		states:      make(map[string]*peerState),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start runs the heartbeat/threshold ticker until Stop is called.
func (d *Detector) Start() {
	d.started.Store(true)
	go d.run()
}

// Stop halts the ticker and waits for its goroutine to exit. It may be
// called more than once, and returns at once if Start was never called.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	if d.started.Load() {
		<-d.done
	}
}

func (d *Detector) run() {
	defer close(d.done)
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick heartbeats every live peer and evaluates each tracked peer against
// its (possibly gossip-shortened) failure threshold.
func (d *Detector) tick() {
	for _, nodeID := range d.table.Nodes() {
		link, ok := d.table.Get(nodeID)
		if !ok {
			continue
		}
		d.ensureTracked(nodeID)

		ctx, cancel := context.WithTimeout(context.Background(), peer.DefaultRequestTimeout)
		_, err := link.Heartbeat(ctx)
		cancel()

		now := d.nowMs()
		if err != nil {
			d.metrics.FailureDetectorHeartbeatFailed.Inc()
			d.logger.Debug("heartbeat failed", zap.String("node_id", nodeID), zap.Error(err))
		} else {
			d.recordHeartbeat(nodeID, now)
		}
	}

	for nodeID := range d.snapshotStates() {
		d.evaluate(nodeID)
	}
}

func (d *Detector) ensureTracked(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.states[nodeID]; !ok {
		d.states[nodeID] = &peerState{lastHeartbeatMs: d.nowMs()}
	}
}

func (d *Detector) recordHeartbeat(nodeID string, atMs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[nodeID]
	if !ok {
		st = &peerState{}
		d.states[nodeID] = st
	}
	st.lastHeartbeatMs = atMs
}

func (d *Detector) snapshotStates() map[string]peerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]peerState, len(d.states))
	for id, st := range d.states {
		if !st.failed {
			out[id] = *st
		}
	}
	return out
}

// evaluate checks nodeID's silence duration against its threshold and
// declares failure if it has been exceeded.
func (d *Detector) evaluate(nodeID string) {
	d.mu.Lock()
	st, ok := d.states[nodeID]
	if !ok || st.failed {
		d.mu.Unlock()
		return
	}
	now := d.nowMs()
	threshold := FailureThreshold.Milliseconds()
	if st.gossiped {
		threshold /= 2
	}
	silentFor := now - st.lastHeartbeatMs
	exceeded := silentFor > threshold
	if exceeded {
		st.failed = true
	}
	d.mu.Unlock()

	if !exceeded {
		return
	}
	d.declareFailed(nodeID)
}

// declareFailed removes nodeID from the ring, closes its link, and gossips
// the failure best-effort to every other currently-live peer.
func (d *Detector) declareFailed(nodeID string) {
	d.logger.Warn("declaring peer failed", zap.String("node_id", nodeID))
	d.metrics.FailureDetectorFailuresDeclared.Inc()

	d.ring.RemoveNode(nodeID)
	d.table.Remove(nodeID)

	for _, peerID := range d.table.Nodes() {
		if peerID == nodeID {
			continue
		}
		link, ok := d.table.Get(peerID)
		if !ok {
			continue
		}
		if err := link.NotifyFailure(nodeID); err != nil {
			d.logger.Debug("failed to gossip node_failure", zap.String("about", nodeID), zap.String("to", peerID), zap.Error(err))
		}
	}
}

// NotifyGossipedFailure records that another node gossiped a failure about
// nodeID. It never removes nodeID from the ring by itself; it only halves
// this detector's own threshold for nodeID so a genuine failure is
// confirmed sooner, per the design's partition-safety rule (gossip alone
// never proves a failure, only a local timeout does).
func (d *Detector) NotifyGossipedFailure(nodeID string) {
	d.metrics.FailureDetectorGossipReceived.Inc()

	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[nodeID]
	if !ok || st.failed {
		return
	}
	st.gossiped = true
	st.gossipedFailureAt = d.nowMs()
}

// Reidentify clears sticky failure state for nodeID after a fresh identify
// has been observed, allowing it to be tracked again from a clean slate.
func (d *Detector) Reidentify(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, nodeID)
}
