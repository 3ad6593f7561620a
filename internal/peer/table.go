package peer

import "sync"

// Table is the local node's view of its links to other nodes: a map from
// node ID to the live Link, if any. A node ID absent from the table — or
// present with a non-live link — means peer_not_connected to callers.
type Table struct {
	mu    sync.RWMutex
	links map[string]*Link
}

// NewTable constructs an empty link table.
func NewTable() *Table {
	return &Table{links: make(map[string]*Link)}
}

// Get returns the link for nodeID and whether it is present and live.
func (t *Table) Get(nodeID string) (*Link, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.links[nodeID]
	if !ok || l.State() != StateLive {
		return nil, false
	}
	return l, true
}

// Set registers l under nodeID, replacing and closing any link already
// registered for that node.
func (t *Table) Set(nodeID string, l *Link) {
	t.mu.Lock()
	old := t.links[nodeID]
	t.links[nodeID] = l
	t.mu.Unlock()
	if old != nil && old != l {
		_ = old.Close()
	}
}

// Remove drops nodeID from the table, closing its link if present.
func (t *Table) Remove(nodeID string) {
	t.mu.Lock()
	l, ok := t.links[nodeID]
	delete(t.links, nodeID)
	t.mu.Unlock()
	if ok {
		_ = l.Close()
	}
}

// Nodes returns the node IDs currently present in the table, live or not.
func (t *Table) Nodes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.links))
	for id := range t.links {
		ids = append(ids, id)
	}
	return ids
}

// All returns a snapshot copy of the table's links, keyed by node ID.
func (t *Table) All() map[string]*Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*Link, len(t.links))
	for id, l := range t.links {
		out[id] = l
	}
	return out
}
