// Package model holds the data types shared across the data plane: the
// record a replica stores, the metadata attached to it, and the descriptor
// a node keeps for each peer it knows about.
package model

import "fmt"

// Metadata is attached to every stored value.
type Metadata struct {
	// Timestamp is the monotonically increasing per-coordinator wall-clock
	// millisecond at the moment the write was accepted.
	Timestamp int64 `json:"timestamp"`
	// Version is currently always 1; see DESIGN.md for why it was not
	// upgraded to a vector clock.
	Version int64 `json:"version"`
	// OriginNodeID is the coordinator that accepted the write.
	OriginNodeID string `json:"originNodeId"`
}

// Record is the (key, value, metadata) triple stored in the Local Store.
type Record struct {
	Key      string   `json:"key"`
	Value    []byte   `json:"value"`
	Metadata Metadata `json:"metadata"`
}

// Newer reports whether r's metadata should win over other's under the
// last-writer-wins rule: strictly greater timestamp wins; on a tie the
// existing record is kept (stable under equal timestamp).
func (r Record) Newer(other Record) bool {
	return r.Metadata.Timestamp > other.Metadata.Timestamp
}

// Liveness is a node's observed state from the local node's point of view.
type Liveness string

const (
	Alive  Liveness = "alive"
	Failed Liveness = "failed"
)

// NodeDescriptor identifies one node in the cluster.
type NodeDescriptor struct {
	NodeID   string   `json:"nodeId"`
	Address  string   `json:"address"`
	Liveness Liveness `json:"liveness"`
}

func (n NodeDescriptor) String() string {
	return fmt.Sprintf("%s@%s[%s]", n.NodeID, n.Address, n.Liveness)
}
