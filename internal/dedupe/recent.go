package dedupe

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Recent keeps a fixed-size, ttl-bounded set of recently processed accession IDs.
type Recent struct {
	lru *expirable.LRU[string, struct{}]
}

// NewRecent creates a cache with the provided capacity and ttl.
func NewRecent(capacity int, ttl time.Duration) *Recent {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Recent{lru: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// IsSeen returns true when the key has already been observed inside the ttl window.
// It does not mark the key as seen; use MarkSeen() to record a key.
func (r *Recent) IsSeen(key string) bool {
	_, ok := r.lru.Peek(key)
	return ok
}

// MarkSeen records that a key has been processed.
func (r *Recent) MarkSeen(key string) {
	r.lru.Add(key, struct{}{})
}
