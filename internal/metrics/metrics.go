// Package metrics holds the Prometheus instrumentation for the data plane:
// writes, reads, quorum outcomes, replica fan-out latency, ring size,
// peer-link state, and failure-detector events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric this node registers. The coordinator and the
// failure detector update theirs; RingSize and PeerLinksLive are registered
// but nothing in this repository sets them, so they stay at zero.
type Registry struct {
	PutRequestsTotal      prometheus.Counter
	GetRequestsTotal      prometheus.Counter
	PutQuorumAchievedTotal prometheus.Counter
	PutQuorumFailedTotal  prometheus.Counter
	GetQuorumAchievedTotal prometheus.Counter
	ReadRepairTriggeredTotal prometheus.Counter

	ReplicaFanOutDuration prometheus.Histogram
	ReplicaOutcomesTotal  *prometheus.CounterVec // labels: op={put,get}, outcome={success,timeout,not_connected}

	RingSize prometheus.Gauge

	PeerLinksLive prometheus.Gauge

	FailureDetectorHeartbeatFailed  prometheus.Counter
	FailureDetectorFailuresDeclared prometheus.Counter
	FailureDetectorGossipReceived   prometheus.Counter
}

// New creates and registers every metric under the ringkv namespace with
// the default Prometheus registerer, labelled with this node's ID so the
// series of different nodes stay distinct. No HTTP handler in this
// repository serves them.
func New(nodeID string) *Registry {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Registry{
		PutRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringkv",
			Subsystem:   "coordinator",
			Name:        "put_requests_total",
			Help:        "Total number of PUT requests coordinated by this node",
			ConstLabels: labels,
		}),
		GetRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringkv",
			Subsystem:   "coordinator",
			Name:        "get_requests_total",
			Help:        "Total number of GET requests coordinated by this node",
			ConstLabels: labels,
		}),
		PutQuorumAchievedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringkv",
			Subsystem:   "coordinator",
			Name:        "put_quorum_achieved_total",
			Help:        "Total number of PUT requests that reached write quorum",
			ConstLabels: labels,
		}),
		PutQuorumFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringkv",
			Subsystem:   "coordinator",
			Name:        "put_quorum_failed_total",
			Help:        "Total number of PUT requests that failed to reach write quorum",
			ConstLabels: labels,
		}),
		GetQuorumAchievedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringkv",
			Subsystem:   "coordinator",
			Name:        "get_quorum_achieved_total",
			Help:        "Total number of GET requests where a full quorum of replicas replied",
			ConstLabels: labels,
		}),
		ReadRepairTriggeredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringkv",
			Subsystem:   "coordinator",
			Name:        "read_repair_triggered_total",
			Help:        "Total number of opportunistic read repairs triggered by a divergent GET",
			ConstLabels: labels,
		}),
		ReplicaFanOutDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "ringkv",
			Subsystem:   "coordinator",
			Name:        "replica_fanout_duration_seconds",
			Help:        "Histogram of PUT/GET replica fan-out durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		ReplicaOutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ringkv",
			Subsystem:   "coordinator",
			Name:        "replica_outcomes_total",
			Help:        "Total per-replica outcomes by operation and outcome kind",
			ConstLabels: labels,
		}, []string{"op", "outcome"}),
		RingSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ringkv",
			Subsystem:   "ring",
			Name:        "size",
			Help:        "Current number of physical nodes on the hash ring",
			ConstLabels: labels,
		}),
		PeerLinksLive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ringkv",
			Subsystem:   "peer",
			Name:        "links_live",
			Help:        "Current number of live peer links",
			ConstLabels: labels,
		}),
		FailureDetectorHeartbeatFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringkv",
			Subsystem:   "detector",
			Name:        "heartbeat_failed_total",
			Help:        "Total number of heartbeats that did not get a reply",
			ConstLabels: labels,
		}),
		FailureDetectorFailuresDeclared: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringkv",
			Subsystem:   "detector",
			Name:        "failures_declared_total",
			Help:        "Total number of peers this node has declared failed",
			ConstLabels: labels,
		}),
		FailureDetectorGossipReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringkv",
			Subsystem:   "detector",
			Name:        "gossip_received_total",
			Help:        "Total number of node_failure gossip messages received",
			ConstLabels: labels,
		}),
	}
}

// RecordReplicaOutcome increments the per-replica outcome counter for op
// ("put" or "get") and outcome ("success", "timeout", or "not_connected").
func (r *Registry) RecordReplicaOutcome(op, outcome string) {
	r.ReplicaOutcomesTotal.WithLabelValues(op, outcome).Inc()
}
