// Package store implements the Local Store: the per-node record table that
// backs every replica. It never fails a call and makes no cross-key ordering
// guarantee, only per-key linearizability.
package store

import (
	"sort"
	"sync"

	"github.com/ringkv/ringkv/internal/model"
)

// PutOutcome reports whether a put actually replaced the stored record.
type PutOutcome int

const (
	// Written means the incoming record's timestamp was strictly greater
	// than what was stored (or nothing was stored yet).
	Written PutOutcome = iota
	// SkippedOlder means the record already held was kept because its
	// timestamp was greater than or equal to the incoming one.
	SkippedOlder
)

func (o PutOutcome) String() string {
	if o == Written {
		return "written"
	}
	return "skipped_older"
}

// Engine is the Local Store contract. Implementations must be safe for
// concurrent use and must never return an error: a put always succeeds,
// either by writing or by being discarded under last-writer-wins.
type Engine interface {
	Put(key string, rec model.Record) PutOutcome
	Get(key string) (model.Record, bool)
	Keys() []string
	Len() int
}

// InMemoryEngine is the only Engine this repository ships: an ordered
// skip-list map guarded by a single mutex. The spec treats durable storage
// as an external collaborator outside the core, so no second engine is
// required here.
type InMemoryEngine struct {
	mu   sync.Mutex
	list *skipList
}

// NewInMemoryEngine constructs an empty Local Store.
func NewInMemoryEngine() *InMemoryEngine {
	return &InMemoryEngine{list: newSkipList()}
}

// Put applies last-writer-wins: rec replaces the stored record only if its
// timestamp is strictly greater. Equal timestamps keep the existing record
// (stable under ties). The call always succeeds.
func (e *InMemoryEngine) Put(key string, rec model.Record) PutOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existingAny, ok := e.list.search(key); ok {
		existing := existingAny.(model.Record)
		if !rec.Newer(existing) {
			return SkippedOlder
		}
	}
	e.list.insert(key, rec)
	return Written
}

// Get returns the record stored for key, if any.
func (e *InMemoryEngine) Get(key string) (model.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.list.search(key)
	if !ok {
		return model.Record{}, false
	}
	return v.(model.Record), true
}

// Keys returns every key currently held, in ascending order.
func (e *InMemoryEngine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := e.list.keysInOrder()
	// keysInOrder already walks the list in order; sort.Strings is a no-op
	// safety net if that invariant is ever broken by a future backing change.
	sort.Strings(keys)
	return keys
}

// Len reports how many keys are currently stored.
func (e *InMemoryEngine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list.len()
}
