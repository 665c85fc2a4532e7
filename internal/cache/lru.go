package cache

// LRU is a fixed-capacity map that evicts the least recently used entry when a
// new key is inserted at capacity. Entries live in a slice arena linked into a
// recency list by index; freed slots are reused.
type LRU[K comparable, V any] struct {
	capacity int
	index    map[K]int
	entries  []entry[K, V]
	free     []int
	head     int // most recently used, -1 when empty
	tail     int // least recently used, -1 when empty
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	prev, next int
}

// NewLRU creates an LRU holding at most capacity entries (minimum 1).
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		index:    make(map[K]int, capacity),
		entries:  make([]entry[K, V], 0, capacity),
		head:     -1,
		tail:     -1,
	}
}

// Cap returns the fixed capacity.
func (l *LRU[K, V]) Cap() int { return l.capacity }

// Len returns the number of entries held.
func (l *LRU[K, V]) Len() int { return len(l.index) }

// Get returns the value for k and marks it most recently used.
func (l *LRU[K, V]) Get(k K) (V, bool) {
	i, ok := l.index[k]
	if !ok {
		var zero V
		return zero, false
	}
	l.unlink(i)
	l.pushFront(i)
	return l.entries[i].value, true
}

// Contains reports whether k is present without touching its recency.
func (l *LRU[K, V]) Contains(k K) bool {
	_, ok := l.index[k]
	return ok
}

// Put inserts or replaces the value for k and marks it most recently used.
// When a new key is inserted at capacity, the least recently used entry is
// evicted and its key returned.
func (l *LRU[K, V]) Put(k K, v V) (evicted K, didEvict bool) {
	if i, ok := l.index[k]; ok {
		l.entries[i].value = v
		l.unlink(i)
		l.pushFront(i)
		return evicted, false
	}

	if len(l.index) >= l.capacity {
		evicted = l.entries[l.tail].key
		l.remove(l.tail)
		didEvict = true
	}

	var i int
	if n := len(l.free); n > 0 {
		i = l.free[n-1]
		l.free = l.free[:n-1]
		l.entries[i] = entry[K, V]{key: k, value: v}
	} else {
		i = len(l.entries)
		l.entries = append(l.entries, entry[K, V]{key: k, value: v})
	}
	l.index[k] = i
	l.pushFront(i)
	return evicted, didEvict
}

// Remove deletes k and reports whether it was present.
func (l *LRU[K, V]) Remove(k K) bool {
	i, ok := l.index[k]
	if !ok {
		return false
	}
	l.remove(i)
	return true
}

// Keys returns the keys from most to least recently used.
func (l *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, len(l.index))
	for i := l.head; i >= 0; i = l.entries[i].next {
		keys = append(keys, l.entries[i].key)
	}
	return keys
}

// Clear drops every entry.
func (l *LRU[K, V]) Clear() {
	clear(l.index)
	l.entries = l.entries[:0]
	l.free = l.free[:0]
	l.head, l.tail = -1, -1
}

func (l *LRU[K, V]) remove(i int) {
	l.unlink(i)
	delete(l.index, l.entries[i].key)
	l.entries[i] = entry[K, V]{}
	l.free = append(l.free, i)
}

func (l *LRU[K, V]) unlink(i int) {
	e := &l.entries[i]
	if e.prev >= 0 {
		l.entries[e.prev].next = e.next
	} else {
		l.head = e.next
	}
	if e.next >= 0 {
		l.entries[e.next].prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = -1, -1
}

func (l *LRU[K, V]) pushFront(i int) {
	e := &l.entries[i]
	e.prev = -1
	e.next = l.head
	if l.head >= 0 {
		l.entries[l.head].prev = i
	}
	l.head = i
	if l.tail < 0 {
		l.tail = i
	}
}
