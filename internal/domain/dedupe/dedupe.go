// Package dedupe tracks idempotency keys so a retried event submission is
// scored at most once.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 50000

// Deduper records seen keys.
type Deduper interface {
	// SeenAndRecord reports whether key was already recorded and records it
	// if not, atomically.
	SeenAndRecord(ctx context.Context, key string) bool
	// Unrecord forgets key so a failed submission can be retried.
	Unrecord(ctx context.Context, key string)
	// Size returns the number of remembered keys.
	Size() int64
}

// Key scopes an idempotency key to one account so two accounts may reuse
// the same client-generated key.
func Key(accountID, idempotencyKey string) string {
	return accountID + "\x00" + idempotencyKey
}

// ringDeduper remembers up to maxSize keys in a ring buffer with FIFO eviction.
type ringDeduper struct {
	mu      sync.Mutex
	maxSize int
	ring    []string
	next    int
	seen    map[string]int // key -> ring slot
}

// NewInMemoryDeduper returns a bounded in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &ringDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.ring = make([]string, d.maxSize)
	d.seen = make(map[string]int, d.maxSize)
	return d
}

func (d *ringDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true
	}
	slot := d.next
	if old := d.ring[slot]; old != "" {
		if s, ok := d.seen[old]; ok && s == slot {
			delete(d.seen, old)
		}
	}
	d.ring[slot] = key
	d.seen[key] = slot
	d.next = (d.next + 1) % d.maxSize
	return false
}

func (d *ringDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	slot, ok := d.seen[key]
	if !ok {
		return
	}
	delete(d.seen, key)
	d.ring[slot] = ""
}

func (d *ringDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
