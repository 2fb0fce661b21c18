// Package cache implements the generic reference-counted slot cache used
// by the Pager (and, in principle, any other resource addressable by a
// 64-bit-ish key). It is adapted from the teacher's page-keyed LRU cache
// and latch manager: a container/list LRU for victim selection, plus a
// per-key refcount so a resource pinned by a live holder is never evicted
// out from under it.
package cache

import (
	"container/list"
	"sync"

	"github.com/intellect4all/durastore/common"
)

// Loader fetches the resource for key when it is not already resident.
type Loader[K comparable, V any] func(key K) (V, error)

// Evictor writes a resource back (if dirty) when it leaves the cache,
// whether by eviction or by Close draining every remaining slot.
type Evictor[K comparable, V any] func(key K, value V) error

type entry[K comparable, V any] struct {
	key   K
	value V
	ref   int
	elem  *list.Element
}

// inflight coordinates concurrent Gets for the same absent key so the
// loader runs once and every caller shares its result.
type inflight[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Cache is a bounded, reference-counted, LRU-ish cache mapping K to V.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*entry[K, V]
	lru      *list.List // front = most recently released-to-zero-ref
	inflight map[K]*inflight[V]
	load     Loader[K, V]
	evict    Evictor[K, V]
	evictErr error // most recent write-back failure from evictOneLocked

	onHit, onMiss, onEvict func()
}

// SetHooks wires optional observers for hit/miss/eviction events, e.g. to
// feed a Prometheus counter. Any of them may be nil.
func (c *Cache[K, V]) SetHooks(onHit, onMiss, onEvict func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHit, c.onMiss, c.onEvict = onHit, onMiss, onEvict
}

// New creates a cache of the given capacity (max resident resources).
func New[K comparable, V any](capacity int, load Loader[K, V], evict Evictor[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*entry[K, V]),
		lru:      list.New(),
		inflight: make(map[K]*inflight[V]),
		load:     load,
		evict:    evict,
	}
}

// Get returns the resource for key, pinning it (ref++). The caller MUST
// call Release exactly once per successful Get. If the key is absent and
// the cache is full with every resident resource pinned, Get fails with
// a CacheFull error rather than blocking forever.
func (c *Cache[K, V]) Get(key K) (V, error) {
	c.mu.Lock()

	if e, ok := c.items[key]; ok {
		e.ref++
		if e.elem != nil {
			// Pinned resources are not LRU candidates; detach.
			c.lru.Remove(e.elem)
			e.elem = nil
		}
		hit := c.onHit
		c.mu.Unlock()
		if hit != nil {
			hit()
		}
		return e.value, nil
	}

	if fl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-fl.done
		if fl.err != nil {
			var zero V
			return zero, fl.err
		}
		return c.Get(key) // now resident; re-enter to pin it ourselves
	}

	if len(c.items) >= c.capacity {
		if !c.evictOneLocked() {
			c.mu.Unlock()
			var zero V
			return zero, common.New("cache.Get", common.KindCacheFull)
		}
	}

	fl := &inflight[V]{done: make(chan struct{})}
	c.inflight[key] = fl
	miss := c.onMiss
	c.mu.Unlock()
	if miss != nil {
		miss()
	}

	value, err := c.load(key)

	c.mu.Lock()
	delete(c.inflight, key)
	fl.value, fl.err = value, err
	close(fl.done)
	if err != nil {
		c.mu.Unlock()
		var zero V
		return zero, err
	}
	c.items[key] = &entry[K, V]{key: key, value: value, ref: 1}
	c.mu.Unlock()
	return value, nil
}

// Release decrements key's refcount. At zero it becomes an eviction
// candidate; it is not written back until actually evicted or the cache
// is closed.
func (c *Cache[K, V]) Release(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || e.ref == 0 {
		return
	}
	e.ref--
	if e.ref == 0 {
		e.elem = c.lru.PushFront(e)
	}
}

// evictOneLocked evicts the least-recently-released zero-ref resource.
// Caller must hold c.mu. A write-back failure here is a real, silent
// loss of that resource's last in-memory copy (the entry is gone from
// the cache either way, since evicting nothing is not an option once a
// slot is needed) — it is recorded so TakeLastEvictError can surface it
// to whoever drives the cache (e.g. Pager, which checks it right after
// every Get).
func (c *Cache[K, V]) evictOneLocked() bool {
	elem := c.lru.Back()
	if elem == nil {
		return false
	}
	e := elem.Value.(*entry[K, V])
	c.lru.Remove(elem)
	delete(c.items, e.key)
	if c.evict != nil {
		if err := c.evict(e.key, e.value); err != nil {
			c.evictErr = err
		}
	}
	if c.onEvict != nil {
		c.onEvict()
	}
	return true
}

// TakeLastEvictError returns the most recent write-back error observed
// during an eviction triggered by Get, clearing it, or nil if none
// occurred. Close reports its own write-back errors directly instead.
func (c *Cache[K, V]) TakeLastEvictError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.evictErr
	c.evictErr = nil
	return err
}

// Close drains the cache, writing back every resident resource
// regardless of refcount.
func (c *Cache[K, V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, e := range c.items {
		if c.evict != nil {
			if err := c.evict(key, e.value); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if e.elem != nil {
			c.lru.Remove(e.elem)
		}
		delete(c.items, key)
	}
	return firstErr
}

// Len returns the number of resident resources, for tests and metrics.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
