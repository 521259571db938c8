// Package lru implements a bounded, sharded associative table with
// least-recently-seen eviction.
//
// Each shard owns a map and an intrusive recency list guarded by its own
// mutex. A global atomic counter bounds the total number of entries, so the
// capacity is exact while unrelated keys never contend on the same lock.
// Eviction scans the shard tails one lock at a time and removes the entry
// with the smallest last-seen timestamp.
package lru

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
)

const (
	DefaultShards = 64
	maxShards     = 1 << 16
)

// Config sizes a Table.
type Config struct {
	Capacity int // maximum number of entries, at least 1
	Shards   int // rounded up to a power of two; 0 = DefaultShards
}

type node[K comparable, V any] struct {
	key        K
	value      V
	lastSeen   int64 // unix nano
	prev, next *node[K, V]
}

type shard[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]*node[K, V]
	head  *node[K, V] // most recently seen
	tail  *node[K, V] // least recently seen
}

// Table is a concurrent LRU keyed by K. The zero value is not usable;
// create tables with New.
type Table[K comparable, V any] struct {
	shards   []shard[K, V]
	mask     uint64
	hash     func(K) uint64
	capacity int64

	size      atomic.Int64
	evictions atomic.Uint64
}

// New creates a table using hash to spread keys over shards.
func New[K comparable, V any](cfg Config, hash func(K) uint64) *Table[K, V] {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	n := cfg.Shards
	if n <= 0 {
		n = DefaultShards
	}
	if n > maxShards {
		n = maxShards
	}
	n = nextPowerOfTwo(n)

	t := &Table[K, V]{
		shards:   make([]shard[K, V], n),
		mask:     uint64(n - 1),
		hash:     hash,
		capacity: int64(cfg.Capacity),
	}
	hint := cfg.Capacity / n
	for i := range t.shards {
		t.shards[i].items = make(map[K]*node[K, V], hint)
	}
	return t
}

// HashAddr hashes an address for shard selection. IPv4 and IPv4-mapped
// IPv6 forms of the same address hash identically.
func HashAddr(a netip.Addr) uint64 {
	b := a.Unmap().As16()
	return xxh3.Hash(b[:])
}

func (t *Table[K, V]) shardFor(key K) *shard[K, V] {
	return &t.shards[t.hash(key)&t.mask]
}

// Update runs fn on the entry for key, creating it when absent, and marks it
// seen at now. fn runs with the shard lock held and must not call back into
// the table; inserted reports whether the entry was just created.
//
// When the table is full the entry with the oldest last-seen time is evicted
// first. If no slot can be obtained because every entry is being inserted
// concurrently, fn runs on a scratch value that is not stored and Update
// returns false.
func (t *Table[K, V]) Update(key K, now time.Time, fn func(v *V, inserted bool)) bool {
	ts := now.UnixNano()
	s := t.shardFor(key)

	s.mu.Lock()
	if n, ok := s.items[key]; ok {
		s.touch(n, ts)
		fn(&n.value, false)
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	if !t.reserve() {
		var scratch V
		fn(&scratch, true)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.items[key]; ok {
		// Lost the insert race; give the slot back.
		t.size.Add(-1)
		s.touch(n, ts)
		fn(&n.value, false)
		return true
	}
	n := &node[K, V]{key: key, lastSeen: ts}
	s.items[key] = n
	s.pushFront(n)
	fn(&n.value, true)
	return true
}

// Lookup runs fn on the entry for key if present and marks it seen at now.
func (t *Table[K, V]) Lookup(key K, now time.Time, fn func(v *V)) bool {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[key]
	if !ok {
		return false
	}
	s.touch(n, now.UnixNano())
	fn(&n.value)
	return true
}

// Peek returns a copy of the value for key without changing its recency.
func (t *Table[K, V]) Peek(key K) (V, bool) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.items[key]; ok {
		return n.value, true
	}
	var zero V
	return zero, false
}

// Delete removes key and reports whether it was present.
func (t *Table[K, V]) Delete(key K) bool {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[key]
	if !ok {
		return false
	}
	s.remove(n)
	t.size.Add(-1)
	return true
}

// DeleteFunc removes every entry for which pred returns true and returns the
// number removed. Shards are visited one at a time.
func (t *Table[K, V]) DeleteFunc(pred func(key K, v V) bool) int {
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for n := s.tail; n != nil; {
			prev := n.prev
			if pred(n.key, n.value) {
				s.remove(n)
				t.size.Add(-1)
				removed++
			}
			n = prev
		}
		s.mu.Unlock()
	}
	return removed
}

// Range calls fn for every entry until fn returns false. The view is
// consistent per shard only; fn must not call back into the table.
func (t *Table[K, V]) Range(fn func(key K, v V, lastSeen time.Time) bool) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for n := s.head; n != nil; n = n.next {
			if !fn(n.key, n.value, time.Unix(0, n.lastSeen)) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
	}
}

// Len returns the number of entries, including slots reserved by inserts in
// progress.
func (t *Table[K, V]) Len() int { return int(t.size.Load()) }

// Capacity returns the configured maximum number of entries.
func (t *Table[K, V]) Capacity() int { return int(t.capacity) }

// Evictions returns the number of entries removed to make room.
func (t *Table[K, V]) Evictions() uint64 { return t.evictions.Load() }

// reserve claims one slot of the global capacity, evicting as needed.
func (t *Table[K, V]) reserve() bool {
	misses := 0
	for {
		n := t.size.Load()
		if n < t.capacity {
			if t.size.CompareAndSwap(n, n+1) {
				return true
			}
			continue
		}
		if t.evictOldest() {
			continue
		}
		// Every slot is held by an insert that has not linked its node yet.
		misses++
		if misses > len(t.shards) {
			return false
		}
	}
}

// evictOldest removes the entry with the smallest last-seen time across all
// shard tails. Ties go to the first shard in index order.
func (t *Table[K, V]) evictOldest() bool {
	for attempt := 0; attempt < 4; attempt++ {
		var (
			victim   *node[K, V]
			victimAt = -1
			oldest   int64
		)
		for i := range t.shards {
			s := &t.shards[i]
			s.mu.Lock()
			if s.tail != nil && (victim == nil || s.tail.lastSeen < oldest) {
				victim, victimAt, oldest = s.tail, i, s.tail.lastSeen
			}
			s.mu.Unlock()
		}
		if victim == nil {
			return false
		}

		s := &t.shards[victimAt]
		s.mu.Lock()
		// The candidate may have been touched or removed since the scan.
		if n, ok := s.items[victim.key]; ok && n == victim && n.lastSeen == oldest && s.tail == n {
			s.remove(n)
			s.mu.Unlock()
			t.size.Add(-1)
			t.evictions.Add(1)
			return true
		}
		s.mu.Unlock()
	}
	return false
}

func (s *shard[K, V]) touch(n *node[K, V], ts int64) {
	if ts > n.lastSeen {
		n.lastSeen = ts
	}
	if s.head == n {
		return
	}
	s.unlink(n)
	s.pushFront(n)
}

func (s *shard[K, V]) pushFront(n *node[K, V]) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *shard[K, V]) unlink(n *node[K, V]) {
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
	n.prev, n.next = nil, nil
}

func (s *shard[K, V]) remove(n *node[K, V]) {
	s.unlink(n)
	delete(s.items, n.key)
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
