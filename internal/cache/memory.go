package cache

import (
	"container/list"
	"sync"
	"time"
)

// Memory is an in-memory LRU cache with per-entry TTL.
type Memory[V any] struct {
	maxSize    int
	defaultTTL time.Duration
	items      map[string]*list.Element
	lru        *list.List
	stats      Stats
	now        func() time.Time
	mu         sync.Mutex
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Stats counts cache activity since creation.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Items     int   `json:"items"`
}

// NewMemory creates a cache holding at most maxSize entries.
func NewMemory[V any](maxSize int, defaultTTL time.Duration) *Memory[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Memory[V]{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		now:        time.Now,
	}
}

// Get returns the value stored under key if present and not expired.
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	el, ok := m.items[key]
	if !ok {
		m.stats.Misses++
		return zero, false
	}

	e := el.Value.(*entry[V])
	if m.now().After(e.expiresAt) {
		m.remove(el)
		m.stats.Misses++
		return zero, false
	}

	m.lru.MoveToFront(el)
	m.stats.Hits++
	return e.value, true
}

// Set stores value under key. A zero ttl uses the cache default.
func (m *Memory[V]) Set(key string, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	e := &entry[V]{key: key, value: value, expiresAt: m.now().Add(ttl)}

	if el, ok := m.items[key]; ok {
		el.Value = e
		m.lru.MoveToFront(el)
		return
	}

	m.items[key] = m.lru.PushFront(e)
	for len(m.items) > m.maxSize {
		if oldest := m.lru.Back(); oldest != nil {
			m.remove(oldest)
			m.stats.Evictions++
		}
	}
}

// Clean drops every expired entry.
func (m *Memory[V]) Clean() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for el := m.lru.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry[V]).expiresAt) {
			m.remove(el)
		}
		el = prev
	}
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Stats returns a snapshot of the hit/miss counters.
func (m *Memory[V]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.Items = len(m.items)
	return s
}

// Must be called with mu held.
func (m *Memory[V]) remove(el *list.Element) {
	delete(m.items, el.Value.(*entry[V]).key)
	m.lru.Remove(el)
}

// BuildKey joins key parts with "|".
func BuildKey(parts ...string) string {
	key := ""
	for i, part := range parts {
		if i > 0 {
			key += "|"
		}
		key += part
	}
	return key
}

// SellerKey is the cache key of a shop's canonical seller id.
func SellerKey(shopID string) string {
	return BuildKey("seller", shopID)
}
