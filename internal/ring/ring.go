// Package ring implements the Hash Ring: consistent hashing with virtual
// nodes used to pick which physical nodes own a key.
package ring

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// DefaultVirtualNodes is the default number of virtual nodes per physical
// node placed on the ring.
const DefaultVirtualNodes = 150

// vnode is one virtual node's position on the ring.
type vnode struct {
	hash   uint32
	nodeID string
}

// snapshot is an immutable view of the ring: a hash-sorted slice of virtual
// nodes. Every mutation builds a new snapshot and swaps it in under a single
// write lock, so readers never observe a half-updated ring.
type snapshot struct {
	sorted []vnode
}

// Ring is the Hash Ring. All reads (Primary, Replicas) take the read lock
// only long enough to copy the current snapshot pointer; Add/Remove rebuild
// the full snapshot while holding the write lock and swap it in with one
// pointer assignment.
type Ring struct {
	mu            sync.RWMutex
	current       *snapshot
	virtualNodes  int
	physicalNodes map[string]int // nodeID -> count of vnodes (membership set)
}

// New constructs an empty ring using virtualNodes per physical node. A
// virtualNodes of 0 uses DefaultVirtualNodes.
func New(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{
		current:       &snapshot{},
		virtualNodes:  virtualNodes,
		physicalNodes: make(map[string]int),
	}
}

func hashKey(key string) uint32 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint32(sum[:4])
}

// AddNode places virtualNodes vnodes for nodeID onto the ring. Safe to call
// again for a nodeID already present (e.g. re-join after a failure); the
// ring is simply rebuilt from the current membership set.
func (r *Ring) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.physicalNodes[nodeID] = r.virtualNodes
	r.rebuildLocked()
}

// RemoveNode removes nodeID and all of its vnodes from the ring.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.physicalNodes[nodeID]; !ok {
		return
	}
	delete(r.physicalNodes, nodeID)
	r.rebuildLocked()
}

// rebuildLocked recomputes the full sorted vnode slice from the current
// membership set and swaps it in. Must be called with mu held for writing.
func (r *Ring) rebuildLocked() {
	total := 0
	for _, count := range r.physicalNodes {
		total += count
	}

	sorted := make([]vnode, 0, total)
	for nodeID, count := range r.physicalNodes {
		for i := 0; i < count; i++ {
			id := fmt.Sprintf("%s:%d", nodeID, i)
			sorted = append(sorted, vnode{hash: hashKey(id), nodeID: nodeID})
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].hash < sorted[j].hash })

	r.current = &snapshot{sorted: sorted}
}

func (r *Ring) snapshotRef() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Primary returns the node that owns key: the first vnode clockwise from
// key's ring position. Empty string and false if the ring has no members.
func (r *Ring) Primary(key string) (string, bool) {
	nodes := r.Replicas(key, 1)
	if len(nodes) == 0 {
		return "", false
	}
	return nodes[0], true
}

// Replicas returns up to count distinct physical nodes starting at key's
// ring position and walking clockwise, skipping vnodes belonging to a
// physical node already collected. An empty ring returns nil.
func (r *Ring) Replicas(key string, count int) []string {
	snap := r.snapshotRef()
	if len(snap.sorted) == 0 || count <= 0 {
		return nil
	}

	h := hashKey(key)
	idx := sort.Search(len(snap.sorted), func(i int) bool { return snap.sorted[i].hash >= h })
	if idx >= len(snap.sorted) {
		idx = 0
	}

	seen := make(map[string]bool, count)
	result := make([]string, 0, count)
	for i := 0; i < len(snap.sorted) && len(result) < count; i++ {
		v := snap.sorted[(idx+i)%len(snap.sorted)]
		if seen[v.nodeID] {
			continue
		}
		seen[v.nodeID] = true
		result = append(result, v.nodeID)
	}
	return result
}

// VirtualNodes returns the number of vnodes placed per physical node.
func (r *Ring) VirtualNodes() int {
	return r.virtualNodes
}

// Size returns the number of distinct physical nodes currently on the ring.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.physicalNodes)
}

// Members returns the physical node IDs currently on the ring, unordered.
func (r *Ring) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.physicalNodes))
	for id := range r.physicalNodes {
		ids = append(ids, id)
	}
	return ids
}
