// Package groupcache holds recently decompressed bytecode groups.
package groupcache

// node is an entry of the recency list. It carries its key so eviction
// can delete from the index without a search.
type node[K comparable, V any] struct {
	key   K
	value V
	prev  *node[K, V]
	next  *node[K, V]
}

// LRU is a fixed-capacity cache with strict least-recently-used eviction.
//
// LRU is not safe for concurrent use; callers must handle synchronization.
// The head of the list is the most recently used entry, the tail the least.
type LRU[K comparable, V any] struct {
	capacity int
	index    map[K]*node[K, V]
	head     *node[K, V]
	tail     *node[K, V]

	hits      uint64
	misses    uint64
	evictions uint64
	inserts   uint64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Len       int    `json:"len"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Inserts   uint64 `json:"inserts"`
}

// New returns an empty cache holding at most capacity entries.
// A capacity of zero or less disables caching.
func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 0 {
		capacity = 0
	}
	return &LRU[K, V]{
		capacity: capacity,
		index:    make(map[K]*node[K, V], capacity),
	}
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	n, ok := c.index[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.moveToFront(n)
	return n.value, true
}

// Peek returns the value for key without touching recency or counters.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	n, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return n.value, true
}

// Contains reports whether key is cached, without touching recency.
func (c *LRU[K, V]) Contains(key K) bool {
	_, ok := c.index[key]
	return ok
}

// Add stores value under key as the most recently used entry.
// An existing key is overwritten in place. When the cache is full the
// least recently used entry is dropped and Add reports true.
func (c *LRU[K, V]) Add(key K, value V) (evicted bool) {
	if c.capacity == 0 {
		return false
	}
	if n, ok := c.index[key]; ok {
		n.value = value
		c.moveToFront(n)
		return false
	}

	if len(c.index) >= c.capacity {
		c.removeOldest()
		evicted = true
	}
	n := &node[K, V]{key: key, value: value}
	c.pushFront(n)
	c.index[key] = n
	c.inserts++
	return evicted
}

// Remove drops key. It reports whether the key was present.
func (c *LRU[K, V]) Remove(key K) bool {
	n, ok := c.index[key]
	if !ok {
		return false
	}
	c.unlink(n)
	delete(c.index, key)
	return true
}

// Keys returns the cached keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.index))
	for n := c.head; n != nil; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

func (c *LRU[K, V]) Len() int {
	return len(c.index)
}

func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// Clear drops every entry and resets the counters.
func (c *LRU[K, V]) Clear() {
	clear(c.index)
	c.head = nil
	c.tail = nil
	c.hits, c.misses, c.evictions, c.inserts = 0, 0, 0, 0
}

func (c *LRU[K, V]) Stats() Stats {
	return Stats{
		Len:       len(c.index),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Inserts:   c.inserts,
	}
}

func (c *LRU[K, V]) removeOldest() {
	n := c.tail
	if n == nil {
		return
	}
	c.unlink(n)
	delete(c.index, n.key)
	c.evictions++
}

func (c *LRU[K, V]) pushFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *LRU[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}

// unlink removes n from the list and clears its links.
func (c *LRU[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}
