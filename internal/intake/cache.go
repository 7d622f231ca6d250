package intake

import (
	"context"
	"sync"

	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// CachedLedger wraps a Ledger with an in-memory LRU of completed event IDs so
// replays of recent events are answered without a store round trip.
type CachedLedger struct {
	inner   Ledger
	cache   *lruSet
	metrics *observability.Metrics
}

// NewCachedLedger creates a cache decorator around a ledger.
func NewCachedLedger(inner Ledger, maxEntries int, metrics *observability.Metrics) *CachedLedger {
	return &CachedLedger{
		inner:   inner,
		cache:   newLRUSet(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedLedger) IsCompleted(ctx context.Context, eventID string) (bool, error) {
	if c.cache.contains(eventID) {
		c.metrics.DedupCache.WithLabelValues("hit").Inc()
		return true, nil
	}
	c.metrics.DedupCache.WithLabelValues("miss").Inc()

	done, err := c.inner.IsCompleted(ctx, eventID)
	if err != nil {
		return false, err
	}
	// Only completions are cached; an incomplete event may finish at any time.
	if done {
		c.cache.add(eventID)
	}
	return done, nil
}

func (c *CachedLedger) MarkCompleted(ctx context.Context, eventID string) error {
	if err := c.inner.MarkCompleted(ctx, eventID); err != nil {
		return err
	}
	c.cache.add(eventID)
	return nil
}

// lruSet is a thread-safe bounded set that evicts the least recently used key.
type lruSet struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*node
	head       *node // most recently used
	tail       *node // least recently used
}

type node struct {
	key  string
	prev *node
	next *node
}

func newLRUSet(maxEntries int) *lruSet {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruSet{
		maxEntries: maxEntries,
		entries:    make(map[string]*node, maxEntries),
	}
}

func (s *lruSet) contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.entries[key]
	if ok {
		s.moveToFront(n)
	}
	return ok
}

func (s *lruSet) add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.entries[key]; ok {
		s.moveToFront(n)
		return
	}

	n := &node{key: key}
	s.entries[key] = n
	s.pushFront(n)

	if len(s.entries) > s.maxEntries {
		s.evictTail()
	}
}

func (s *lruSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *lruSet) moveToFront(n *node) {
	if n == s.head {
		return
	}
	s.unlink(n)
	s.pushFront(n)
}

func (s *lruSet) pushFront(n *node) {
	n.next = s.head
	n.prev = nil
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *lruSet) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		s.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		s.tail = n.prev
	}
}

func (s *lruSet) evictTail() {
	if s.tail == nil {
		return
	}
	delete(s.entries, s.tail.key)
	s.unlink(s.tail)
}
