// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"sync"
	"time"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
)

// DefaultWindow is how far back the recent-duplicate scan looks.
const DefaultWindow = 5 * time.Second

// Guard is the reservation table of in-flight order submissions, keyed by OrderHash.
// A zero Guard is ready to use.
type Guard struct {
	mu       sync.Mutex
	reserved map[string]string // hash -> local id of the holder
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{reserved: make(map[string]string)}
}

// TryReserve records localID as the holder of hash unless another submission
// already holds it. Check and insert happen under one lock.
func (g *Guard) TryReserve(hash, localID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reserved == nil {
		g.reserved = make(map[string]string)
	}
	if _, taken := g.reserved[hash]; taken {
		return false
	}
	g.reserved[hash] = localID
	return true
}

// Release drops the reservation for hash. Releasing an unknown hash is a no-op.
func (g *Guard) Release(hash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reserved, hash)
}

// IsReserved reports whether hash is held by an in-flight submission.
func (g *Guard) IsReserved(hash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.reserved[hash]
	return ok
}

// Holder returns the local id holding hash.
func (g *Guard) Holder(hash string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.reserved[hash]
	return id, ok
}

// SetHolder rebinds an existing reservation to localID, e.g. once the record id is known.
func (g *Guard) SetHolder(hash, localID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.reserved[hash]; !ok {
		return false
	}
	g.reserved[hash] = localID
	return true
}

// Len returns the number of live reservations.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reserved)
}

// FindRecentDuplicate returns the first visible record created within window of now
// whose OrderHash equals hash. Records that cannot be hashed are ignored.
func FindRecentDuplicate(records []*record.Record, hash string, now time.Time, window time.Duration) (*record.Record, bool) {
	cutoff := now.Add(-window)
	for _, r := range records {
		if r.IsDeleted || r.CreatedAt.Before(cutoff) {
			continue
		}
		h, err := HashRecord(r)
		if err != nil {
			continue
		}
		if h == hash {
			return r, true
		}
	}
	return nil, false
}
