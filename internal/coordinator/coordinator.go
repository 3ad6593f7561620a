// Package coordinator implements the Coordinator: replica selection,
// quorum-based PUT/GET, and opportunistic read repair. Any node can
// coordinate any key. Ring membership operations (join, add_node) live in
// package node.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/ringkv/ringkv/internal/metrics"
	"github.com/ringkv/ringkv/internal/model"
	"github.com/ringkv/ringkv/internal/peer"
	"github.com/ringkv/ringkv/internal/ring"
	"github.com/ringkv/ringkv/internal/ringerr"
	"github.com/ringkv/ringkv/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome tags one replica's result within a fan-out.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeNotConnected Outcome = "not_connected"
)

// ReplicaResult is one replica's tagged outcome from a fan-out.
type ReplicaResult struct {
	NodeID  string
	Outcome Outcome
	Record  model.Record
	Found   bool
	Err     error
}

// PutResult reports the outcome of a coordinated write.
type PutResult struct {
	Key             string
	Replicas        []ReplicaResult
	Required        int
	Achieved        int
	QuorumAchieved  bool
}

// GetOptions configures a single Get call.
type GetOptions struct {
	// StrictQuorum requires Required successful replies before answering,
	// instead of the default any-single-reply behavior. See Open
	// Question 2.
	StrictQuorum bool
}

// GetResult reports the outcome of a coordinated read.
type GetResult struct {
	Key            string
	Record         model.Record
	Found          bool
	Replicas       []ReplicaResult
	Required       int
	Achieved       int
	QuorumAchieved bool
}

// Coordinator ties the ring, the peer link table, and the Local Store
// together to answer PUT/GET for any key, including keys this node does
// not itself replicate.
type Coordinator struct {
	localNodeID       string
	store             store.Engine
	ring              *ring.Ring
	table             *peer.Table
	replicationFactor int
	metrics           *metrics.Registry
	logger            *zap.Logger
}

// New constructs a Coordinator. replicationFactor is R from the design
// (default 3).
func New(localNodeID string, eng store.Engine, r *ring.Ring, table *peer.Table, replicationFactor int, m *metrics.Registry, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		localNodeID:       localNodeID,
		store:             eng,
		ring:              r,
		table:             table,
		replicationFactor: replicationFactor,
		metrics:           m,
		logger:            logger,
	}
}

// Quorum returns Q = floor(R/2) + 1 for a replica set of size r.
func Quorum(r int) int {
	return r/2 + 1
}

// ReplicationFactor returns the configured R this coordinator replicates
// every key to.
func (c *Coordinator) ReplicationFactor() int {
	return c.replicationFactor
}

// Put writes value under key to all replicas in parallel and reports
// success once Q of them have acknowledged. There is no rollback if
// quorum is not achieved: whatever replicas did accept the write keep it.
func (c *Coordinator) Put(ctx context.Context, key string, value []byte) (PutResult, error) {
	c.metrics.PutRequestsTotal.Inc()

	replicas := c.ring.Replicas(key, c.replicationFactor)
	if len(replicas) == 0 {
		return PutResult{}, ringerr.New(ringerr.RingEmpty, "no nodes on the ring")
	}

	rec := model.Record{
		Key: key,
		Value: value,
		Metadata: model.Metadata{
			Timestamp:    time.Now().UnixMilli(),
			Version:      1,
			OriginNodeID: c.localNodeID,
		},
	}

	start := time.Now()
	results := c.fanOut(ctx, replicas, func(ctx context.Context, nodeID string) ReplicaResult {
		return c.writeOne(ctx, nodeID, key, rec)
	})
	c.metrics.ReplicaFanOutDuration.Observe(time.Since(start).Seconds())

	for _, r := range results {
		c.metrics.RecordReplicaOutcome("put", string(r.Outcome))
	}

	required := Quorum(c.replicationFactor)
	achieved := countSuccess(results)
	quorumAchieved := achieved >= required

	if quorumAchieved {
		c.metrics.PutQuorumAchievedTotal.Inc()
	} else {
		c.metrics.PutQuorumFailedTotal.Inc()
	}

	result := PutResult{
		Key:            key,
		Replicas:       results,
		Required:       required,
		Achieved:       achieved,
		QuorumAchieved: quorumAchieved,
	}

	if !quorumAchieved {
		return result, ringerr.New(ringerr.QuorumNotAchieved, "fewer than quorum replicas acknowledged the write")
	}
	return result, nil
}

// Get reads key from all replicas in parallel. By default any single
// replica that has the key is enough to answer (quorum_achieved is reported
// but not enforced); pass GetOptions.StrictQuorum to require Q replicas to
// have returned the record before answering. A divergence between replies
// triggers an asynchronous, opportunistic read repair of the stale
// replicas.
func (c *Coordinator) Get(ctx context.Context, key string, opts GetOptions) (GetResult, error) {
	c.metrics.GetRequestsTotal.Inc()

	replicas := c.ring.Replicas(key, c.replicationFactor)
	if len(replicas) == 0 {
		return GetResult{}, ringerr.New(ringerr.RingEmpty, "no nodes on the ring")
	}

	start := time.Now()
	results := c.fanOut(ctx, replicas, func(ctx context.Context, nodeID string) ReplicaResult {
		return c.readOne(ctx, nodeID, key)
	})
	c.metrics.ReplicaFanOutDuration.Observe(time.Since(start).Seconds())

	for _, r := range results {
		c.metrics.RecordReplicaOutcome("get", string(r.Outcome))
	}

	required := Quorum(c.replicationFactor)
	achieved := countFound(results)
	quorumAchieved := achieved >= required
	if quorumAchieved {
		c.metrics.GetQuorumAchievedTotal.Inc()
	}

	newest, hasAny := newestOf(results)

	if opts.StrictQuorum && !quorumAchieved {
		return GetResult{Key: key, Replicas: results, Required: required, Achieved: achieved}, ringerr.New(ringerr.QuorumNotAchieved, "fewer than quorum replicas replied")
	}

	if !hasAny {
		return GetResult{Key: key, Replicas: results, Required: required, Achieved: achieved}, ringerr.New(ringerr.NotFound, "key not found on any replica")
	}

	c.maybeRepair(key, newest, results)

	return GetResult{
		Key:            key,
		Record:         newest,
		Found:          true,
		Replicas:       results,
		Required:       required,
		Achieved:       achieved,
		QuorumAchieved: quorumAchieved,
	}, nil
}

// fanOut runs fn against every replica in parallel via an errgroup, never
// returning an error itself — failures are captured per-replica in the
// returned ReplicaResult slice so a partial outcome can still be reported.
func (c *Coordinator) fanOut(ctx context.Context, replicas []string, fn func(context.Context, string) ReplicaResult) []ReplicaResult {
	results := make([]ReplicaResult, len(replicas))
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	for i, nodeID := range replicas {
		i, nodeID := i, nodeID
		g.Go(func() error {
			results[i] = fn(gctx, nodeID)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Coordinator) writeOne(ctx context.Context, nodeID string, key string, rec model.Record) ReplicaResult {
	if nodeID == c.localNodeID {
		c.store.Put(key, rec)
		return ReplicaResult{NodeID: nodeID, Outcome: OutcomeSuccess, Record: rec, Found: true}
	}

	link, ok := c.table.Get(nodeID)
	if !ok {
		return ReplicaResult{NodeID: nodeID, Outcome: OutcomeNotConnected, Err: ringerr.New(ringerr.PeerNotConnected, nodeID)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, peer.DefaultRequestTimeout)
	defer cancel()
	_, err := link.Replicate(reqCtx, key, rec)
	if err != nil {
		return ReplicaResult{NodeID: nodeID, Outcome: OutcomeTimeout, Err: err}
	}
	return ReplicaResult{NodeID: nodeID, Outcome: OutcomeSuccess, Record: rec, Found: true}
}

func (c *Coordinator) readOne(ctx context.Context, nodeID string, key string) ReplicaResult {
	if nodeID == c.localNodeID {
		rec, found := c.store.Get(key)
		return ReplicaResult{NodeID: nodeID, Outcome: OutcomeSuccess, Record: rec, Found: found}
	}

	link, ok := c.table.Get(nodeID)
	if !ok {
		return ReplicaResult{NodeID: nodeID, Outcome: OutcomeNotConnected, Err: ringerr.New(ringerr.PeerNotConnected, nodeID)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, peer.DefaultRequestTimeout)
	defer cancel()
	reply, err := link.ReadRemote(reqCtx, key)
	if err != nil {
		return ReplicaResult{NodeID: nodeID, Outcome: OutcomeTimeout, Err: err}
	}
	return ReplicaResult{NodeID: nodeID, Outcome: OutcomeSuccess, Record: reply.Record, Found: reply.Found}
}

func countSuccess(results []ReplicaResult) int {
	n := 0
	for _, r := range results {
		if r.Outcome == OutcomeSuccess {
			n++
		}
	}
	return n
}

// countFound counts replicas that both responded and returned a record,
// i.e. the collected-record count the GET quorum rule is defined over.
func countFound(results []ReplicaResult) int {
	n := 0
	for _, r := range results {
		if r.Outcome == OutcomeSuccess && r.Found {
			n++
		}
	}
	return n
}

// newestOf returns the winning record among successful, found replies:
// largest metadata.timestamp wins, ties broken by origin lexicographic
// order. This is the read-side selection rule; it is deliberately distinct
// from Record.Newer, which governs the store's own insertion-order-stable
// overwrite rule.
func newestOf(results []ReplicaResult) (model.Record, bool) {
	var best model.Record
	found := false
	for _, r := range results {
		if r.Outcome != OutcomeSuccess || !r.Found {
			continue
		}
		if !found || winsOver(r.Record, best) {
			best = r.Record
			found = true
		}
	}
	return best, found
}

// winsOver reports whether a should replace b as the selected record: a
// strictly greater timestamp wins outright; on a tie, the lexicographically
// greater origin node ID wins.
func winsOver(a, b model.Record) bool {
	if a.Metadata.Timestamp != b.Metadata.Timestamp {
		return a.Metadata.Timestamp > b.Metadata.Timestamp
	}
	return a.Metadata.OriginNodeID > b.Metadata.OriginNodeID
}

// maybeRepair asynchronously re-replicates newest to any replica that
// answered with a stale or absent record. It is opportunistic: it is
// triggered by this read, runs in the background, and its outcome is never
// surfaced to the caller.
func (c *Coordinator) maybeRepair(key string, newest model.Record, results []ReplicaResult) {
	var stale []string
	for _, r := range results {
		if r.Outcome != OutcomeSuccess {
			continue
		}
		if !r.Found || newest.Newer(r.Record) {
			stale = append(stale, r.NodeID)
		}
	}
	if len(stale) == 0 {
		return
	}

	c.metrics.ReadRepairTriggeredTotal.Inc()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), peer.DefaultRequestTimeout)
		defer cancel()
		var wg sync.WaitGroup
		for _, nodeID := range stale {
			nodeID := nodeID
			if nodeID == c.localNodeID {
				c.store.Put(key, newest)
				continue
			}
			link, ok := c.table.Get(nodeID)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := link.Replicate(ctx, key, newest); err != nil {
					c.logger.Debug("read repair replicate failed", zap.String("node_id", nodeID), zap.String("key", key), zap.Error(err))
				}
			}()
		}
		wg.Wait()
	}()
}
