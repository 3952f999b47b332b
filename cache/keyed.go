// Package cache holds fetched results keyed by a comparable key. Entries are
// weak by default: a value collected elsewhere, or one that no longer passes
// the validity check, reads as a miss.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"golang.org/x/sync/singleflight"
)

// DefaultCapacity bounds a cache built without WithCapacity.
const DefaultCapacity = 512

type options[K comparable, V any] struct {
	capacity int
	ttl      time.Duration
	retain   bool
	valid    func(*V) bool
	keyFn    func(K) string
	now      func() time.Time
}

type Option[K comparable, V any] func(*options[K, V])

// WithCapacity bounds the number of entries; the least recently used entry is
// evicted first. Zero or less means unbounded.
func WithCapacity[K comparable, V any](n int) Option[K, V] {
	return func(o *options[K, V]) { o.capacity = n }
}

// WithTTL expires entries older than d. Zero disables expiry.
func WithTTL[K comparable, V any](d time.Duration) Option[K, V] {
	return func(o *options[K, V]) { o.ttl = d }
}

// WithRetain keeps cached values reachable until they are evicted or expire.
func WithRetain[K comparable, V any]() Option[K, V] {
	return func(o *options[K, V]) { o.retain = true }
}

// WithValidity treats values failing fn as misses.
func WithValidity[K comparable, V any](fn func(*V) bool) Option[K, V] {
	return func(o *options[K, V]) { o.valid = fn }
}

// WithKeyString sets the key encoding used to coalesce loads. Defaults to fmt.Sprint.
func WithKeyString[K comparable, V any](fn func(K) string) Option[K, V] {
	return func(o *options[K, V]) { o.keyFn = fn }
}

func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(o *options[K, V]) { o.now = now }
}

type entry[K comparable, V any] struct {
	key    K
	ptr    weak.Pointer[V]
	strong *V
	stored time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
	Stale     uint64 `json:"stale"`
	Entries   int    `json:"entries"`
}

// Keyed is safe for concurrent use. There is at most one entry per key.
type Keyed[K comparable, V any] struct {
	opts  options[K, V]
	mu    sync.Mutex
	items map[K]*list.Element
	order *list.List
	sf    singleflight.Group

	hits, misses, evictions, expired, stale atomic.Uint64
}

func New[K comparable, V any](opts ...Option[K, V]) *Keyed[K, V] {
	o := options[K, V]{
		capacity: DefaultCapacity,
		keyFn:    func(k K) string { return fmt.Sprint(k) },
		now:      time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &Keyed[K, V]{opts: o, items: make(map[K]*list.Element), order: list.New()}
}

// Get returns the live value for k.
func (c *Keyed[K, V]) Get(k K) (*V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[k]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := el.Value.(*entry[K, V])
	if c.opts.ttl > 0 && c.opts.now().Sub(e.stored) > c.opts.ttl {
		c.removeElement(el)
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, false
	}
	v := e.ptr.Value()
	if v == nil || (c.opts.valid != nil && !c.opts.valid(v)) {
		c.removeElement(el)
		c.stale.Add(1)
		c.misses.Add(1)
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits.Add(1)
	return v, true
}

// Put stores v under k, replacing any previous entry. A nil v deletes k.
func (c *Keyed[K, V]) Put(k K, v *V) {
	if v == nil {
		c.Delete(k)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &entry[K, V]{key: k, ptr: weak.Make(v), stored: c.opts.now()}
	if c.opts.retain {
		e.strong = v
	}
	if el, ok := c.items[k]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return
	}
	c.items[k] = c.order.PushFront(e)
	for c.opts.capacity > 0 && c.order.Len() > c.opts.capacity {
		c.removeElement(c.order.Back())
		c.evictions.Add(1)
	}
}

func (c *Keyed[K, V]) Delete(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok {
		c.removeElement(el)
	}
}

// Len counts entries, including ones that would read as stale.
func (c *Keyed[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Keyed[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		Stale:     c.stale.Load(),
		Entries:   c.Len(),
	}
}

// Do returns the cached value for k or calls load once for all concurrent
// callers of the same key, caching a successful result.
func (c *Keyed[K, V]) Do(k K, load func() (*V, error)) (*V, error) {
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	res, err, _ := c.sf.Do(c.opts.keyFn(k), func() (any, error) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Put(k, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*V), nil
}

func (c *Keyed[K, V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[K, V])
	delete(c.items, e.key)
}
