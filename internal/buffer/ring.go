package buffer

import (
	"sync"

	"liqstream/internal/models"
)

// DefaultCapacity is both the default and the largest allowed capacity.
const DefaultCapacity = 50

// Ring keeps the most recent liquidation records, newest first. It is safe
// for concurrent use by any number of writers and readers.
type Ring struct {
	mu    sync.RWMutex
	items []models.LiquidationRecord
	head  int // index of the newest record
	size  int
}

// NewRing builds an empty ring. Capacities outside 1..50 become 50.
func NewRing(capacity int) *Ring {
	if capacity <= 0 || capacity > DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &Ring{
		items: make([]models.LiquidationRecord, capacity),
		head:  -1,
	}
}

// Push stores rec as the newest entry, evicting the oldest one when full.
func (r *Ring) Push(rec models.LiquidationRecord) {
	r.mu.Lock()
	r.head = (r.head + 1) % len(r.items)
	r.items[r.head] = rec
	if r.size < len(r.items) {
		r.size++
	}
	r.mu.Unlock()
}

// Snapshot returns an independent newest-first copy. It never returns nil.
func (r *Ring) Snapshot() []models.LiquidationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.LiquidationRecord, r.size)
	n := len(r.items)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head-i+n)%n]
	}
	return out
}

// Len reports how many records are held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap reports the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.items)
}
