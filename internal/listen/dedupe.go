// ABOUTME: TTL cache suppressing duplicate event delivery across sync passes
// ABOUTME: Bounded size with oldest-first eviction

package listen

import (
	"container/list"
	"sync"
	"time"

	"maunium.net/go/mautrix/id"
)

// seenEntry stores the timestamp and list element for a cached event id.
type seenEntry struct {
	timestamp time.Time
	element   *list.Element
}

// seenCache tracks recently dispatched event ids so overlapping sync and
// pagination passes do not render the same event twice. Insertion order is
// kept in a linked list for O(1) eviction.
type seenCache struct {
	mu      sync.Mutex
	seen    map[id.EventID]*seenEntry
	order   *list.List
	ttl     time.Duration
	maxSize int
}

// newSeenCache creates a cache with the given TTL and size bound.
func newSeenCache(ttl time.Duration, maxSize int) *seenCache {
	return &seenCache{
		seen:    make(map[id.EventID]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CheckAndMark atomically reports whether the event was already seen and
// marks it if not. True means duplicate.
func (c *seenCache) CheckAndMark(eventID id.EventID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[eventID]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	now := time.Now()
	if entry, exists := c.seen[eventID]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return false
	}
	if len(c.seen) >= c.maxSize {
		front := c.order.Front()
		if front != nil {
			old, _ := front.Value.(id.EventID)
			c.order.Remove(front)
			delete(c.seen, old)
		}
	}
	elem := c.order.PushBack(eventID)
	c.seen[eventID] = &seenEntry{timestamp: now, element: elem}
	return false
}
