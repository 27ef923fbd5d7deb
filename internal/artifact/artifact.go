// Package artifact memoizes derived results (search hits, symbol matches)
// keyed by an opaque byte key plus the generation of the data they were
// computed from.
//
// An artifact is reused only while its generation matches the caller's
// current one. Concurrent requests for the same (key, generation) share one
// creator call. Artifacts idle for longer than their eviction threshold are
// dropped by Sweep, which GetOrCreate also runs on the shard it touches.
package artifact

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/IvanBrykalov/dicache/internal/singleflight"
	"github.com/IvanBrykalov/dicache/internal/util"
)

// Clock provides time in UnixNano; tests substitute a fake.
type Clock interface{ NowUnixNano() int64 }

type wallClock struct{}

func (wallClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// CreateFunc builds an artifact. It should poll ctx and return ctx.Err() when
// cancelled. Setting retry asks the cache not to memoize the value, because
// it was computed from data that was still loading.
type CreateFunc[V any] func(ctx context.Context) (v V, retry bool, err error)

// Options configures a Cache. Zero values are safe.
type Options struct {
	// Shards <= 0 picks 2*GOMAXPROCS rounded up to a power of two.
	Shards int
	// Clock nil => wall clock.
	Clock Clock
}

// Request is one GetOrCreate call.
type Request[V any] struct {
	Key        []byte
	Generation uint64
	// EvictAfter is how long the artifact may sit unused before Sweep drops
	// it. Zero keeps it until a newer generation replaces it.
	EvictAfter time.Duration
	Create     CreateFunc[V]
	// Destroy, if set, is called once the artifact leaves the cache.
	Destroy func(V)
}

// Stats counts cache activity since construction.
type Stats struct {
	Hits, Misses, Retries, Evictions int64
	Entries                          int
	Building                         int // creator calls in flight
}

type flightKey struct {
	key string
	gen uint64
}

type result[V any] struct {
	val   V
	retry bool
}

// Cache is a sharded generation-aware memo table. Safe for concurrent use.
type Cache[V any] struct {
	shards []*shard[V]
	clock  Clock
	sf     singleflight.Group[flightKey, result[V]]

	_       util.CacheLinePad
	hits    util.PaddedAtomicInt64
	misses  util.PaddedAtomicInt64
	retries util.PaddedAtomicInt64
	evicts  util.PaddedAtomicInt64
}

// New constructs a Cache.
func New[V any](opt Options) *Cache[V] {
	n := opt.Shards
	if n <= 0 {
		n = 2 * runtime.GOMAXPROCS(0)
	}
	n = int(util.NextPow2(uint64(n)))
	c := &Cache[V]{
		shards: make([]*shard[V], n),
		clock:  opt.Clock,
	}
	if c.clock == nil {
		c.clock = wallClock{}
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{m: make(map[string]*entry[V])}
	}
	return c
}

// ErrNoCreate is returned when a Request has no Create function.
var ErrNoCreate = errors.New("artifact: no create function")

// GetOrCreate returns the artifact for (r.Key, r.Generation), building it
// with r.Create on a miss. The retry flag reports a value that was returned
// but not memoized.
func (c *Cache[V]) GetOrCreate(ctx context.Context, r Request[V]) (v V, retry bool, err error) {
	if r.Create == nil {
		return v, false, ErrNoCreate
	}
	key := string(r.Key)
	s := c.shardFor(key)

	for {
		now := c.clock.NowUnixNano()
		if v, ok := c.lookup(s, key, r.Generation, now); ok {
			c.hits.Add(1)
			return v, false, nil
		}
		c.misses.Add(1)

		res, _, err := c.sf.Do(ctx, flightKey{key, r.Generation}, func() (result[V], error) {
			// Another flight may have finished between lookup and Do.
			if v, ok := c.lookup(s, key, r.Generation, c.clock.NowUnixNano()); ok {
				return result[V]{val: v}, nil
			}
			v, retry, err := r.Create(ctx)
			if err != nil {
				return result[V]{}, err
			}
			if retry {
				c.retries.Add(1)
				return result[V]{val: v, retry: true}, nil
			}
			c.store(s, &entry[V]{
				key:        key,
				gen:        r.Generation,
				val:        v,
				evictAfter: int64(r.EvictAfter),
				lastUse:    c.clock.NowUnixNano(),
				destroy:    r.Destroy,
			})
			return result[V]{val: v}, nil
		})
		if err != nil {
			// The leader was cancelled but we were not: build it ourselves.
			if isCancel(err) && ctx.Err() == nil {
				continue
			}
			return v, false, err
		}
		return res.val, res.retry, nil
	}
}

// Sweep drops artifacts idle past their threshold and returns how many went.
func (c *Cache[V]) Sweep() int {
	now := c.clock.NowUnixNano()
	n := 0
	for _, s := range c.shards {
		n += c.sweepShard(s, now)
	}
	return n
}

// Purge drops every artifact.
func (c *Cache[V]) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		var dead []*entry[V]
		for e := s.head; e != nil; e = e.next {
			dead = append(dead, e)
		}
		s.m = make(map[string]*entry[V])
		s.head, s.tail = nil, nil
		s.mu.Unlock()
		c.destroyAll(dead)
	}
}

// Len returns the number of memoized artifacts.
func (c *Cache[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.m)
		s.mu.Unlock()
	}
	return total
}

func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Retries:   c.retries.Load(),
		Evictions: c.evicts.Load(),
		Entries:   c.Len(),
		Building:  c.sf.InFlight(),
	}
}

func (c *Cache[V]) shardFor(key string) *shard[V] {
	return c.shards[util.HashString(key)&uint64(len(c.shards)-1)]
}

// lookup returns a live entry for (key, gen), promoting it. A stale
// generation is unlinked on the spot.
func (c *Cache[V]) lookup(s *shard[V], key string, gen uint64, now int64) (V, bool) {
	s.mu.Lock()
	e, ok := s.m[key]
	if ok && e.gen == gen {
		e.lastUse = now
		s.moveToFront(e)
		v := e.val
		s.mu.Unlock()
		c.sweepShard(s, now)
		return v, true
	}
	var dead *entry[V]
	if ok && e.gen < gen {
		s.unlink(e)
		dead = e
	}
	s.mu.Unlock()
	if dead != nil {
		c.evicts.Add(1)
		dead.release()
	}
	var zero V
	return zero, false
}

func (c *Cache[V]) store(s *shard[V], e *entry[V]) {
	s.mu.Lock()
	old, ok := s.m[e.key]
	if ok && old.gen > e.gen {
		// A newer generation landed while we were building; ours is moot.
		s.mu.Unlock()
		e.release()
		return
	}
	if ok {
		s.unlink(old)
	}
	s.m[e.key] = e
	s.pushFront(e)
	s.mu.Unlock()
	if ok {
		c.evicts.Add(1)
		old.release()
	}
	c.sweepShard(s, e.lastUse)
}

func (c *Cache[V]) sweepShard(s *shard[V], now int64) int {
	s.mu.Lock()
	var dead []*entry[V]
	for e := s.tail; e != nil; {
		prev := e.prev
		if e.expired(now) {
			s.unlink(e)
			dead = append(dead, e)
		}
		e = prev
	}
	s.mu.Unlock()
	c.evicts.Add(int64(len(dead)))
	c.destroyAll(dead)
	return len(dead)
}

func (c *Cache[V]) destroyAll(dead []*entry[V]) {
	for _, e := range dead {
		e.release()
	}
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
