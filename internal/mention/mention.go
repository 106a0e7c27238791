// Package mention implements the MentionTracker: a bounded, TTL-reaped set
// of thread_ts values that the direct-mention path is currently handling,
// so the channel observer knows to collect but never react to them.
package mention

import (
	"time"

	"github.com/oksoyo/slackbroker/lru"
)

const capacity = 4096

// Tracker marks threads as "being handled via direct mention" for a TTL
// window. Expired entries are reaped lazily, on next access, per the
// design note's "simple coarse GC" guidance — the scale is O(active
// threads), typically dozens.
type Tracker struct {
	cache *lru.Cache[string, struct{}]
	ttl   time.Duration
}

// New constructs a Tracker with the given TTL per marked thread.
func New(ttl time.Duration) *Tracker {
	return &Tracker{
		cache: lru.New[string, struct{}](capacity),
		ttl:   ttl,
	}
}

// Mark records that threadTS is being handled by the direct-mention path.
func (t *Tracker) Mark(threadTS string) {
	t.cache.PutWithTTL(threadTS, struct{}{}, t.ttl)
}

// IsMarked reports whether threadTS is currently within its mention TTL
// window. A thread marked and then expired behaves identically to one
// never marked at all.
func (t *Tracker) IsMarked(threadTS string) bool {
	_, ok := t.cache.Get(threadTS)
	return ok
}

// Unmark removes a thread from tracking immediately, without waiting for
// its TTL to elapse — used once the mention-path turn has fully completed.
func (t *Tracker) Unmark(threadTS string) {
	t.cache.Delete(threadTS)
}

// Len returns the number of tracked threads, including ones that have
// expired but not yet been reaped by access.
func (t *Tracker) Len() int {
	return t.cache.Len()
}
