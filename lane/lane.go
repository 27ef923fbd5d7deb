// Package lane runs a function across a fixed group of goroutines ("lanes")
// that rendezvous at explicit barrier points.
//
// Every lane must call the same sequence of Sync/Broadcast operations;
// lane 0 is conventionally the only lane that mutates shared scheduler state
// between barriers.
package lane

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Lane is one participant of a group.
type Lane struct {
	idx int
	g   *group
}

type group struct {
	n int

	mu    sync.Mutex
	cond  *sync.Cond
	count int
	gen   uint64

	slot any // broadcast payload, valid between the two barriers of Broadcast
}

// Run executes fn on n lanes and waits for all of them.
// n <= 0 uses GOMAXPROCS. The first non-nil error is returned; lanes must
// still reach every barrier, so fn should not return early on one lane only.
func Run(ctx context.Context, n int, fn func(ctx context.Context, l *Lane) error) error {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if n == 1 {
		return fn(ctx, solo())
	}
	g := &group{n: n}
	g.cond = sync.NewCond(&g.mu)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		l := &Lane{idx: i, g: g}
		eg.Go(func() error { return fn(ctx, l) })
	}
	return eg.Wait()
}

// solo returns a one-lane group; its barriers are no-ops.
func solo() *Lane {
	g := &group{n: 1}
	g.cond = sync.NewCond(&g.mu)
	return &Lane{g: g}
}

// Index returns this lane's rank in [0, Count).
func (l *Lane) Index() int { return l.idx }

// Count returns the number of lanes in the group.
func (l *Lane) Count() int { return l.g.n }

// IsZero reports whether this is lane 0.
func (l *Lane) IsZero() bool { return l.idx == 0 }

// Sync blocks until every lane of the group has called Sync.
func (l *Lane) Sync() {
	g := l.g
	if g.n == 1 {
		return
	}
	g.mu.Lock()
	gen := g.gen
	g.count++
	if g.count == g.n {
		g.count = 0
		g.gen++
		g.cond.Broadcast()
		g.mu.Unlock()
		return
	}
	for gen == g.gen {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// Range splits [0, n) evenly across lanes and returns this lane's half-open
// share. Earlier lanes take the remainder.
func (l *Lane) Range(n int) (lo, hi int) {
	return Split(n, l.g.n, l.idx)
}

// Split returns the share of [0, n) owned by lane idx of count lanes.
func Split(n, count, idx int) (lo, hi int) {
	if count <= 1 {
		return 0, n
	}
	per := n / count
	rem := n % count
	lo = idx*per + min(idx, rem)
	hi = lo + per
	if idx < rem {
		hi++
	}
	return lo, hi
}

// Broadcast publishes lane 0's v to every lane. Non-zero lanes' v is ignored.
// It costs two barriers.
func Broadcast[T any](l *Lane, v T) T {
	g := l.g
	if g.n == 1 {
		return v
	}
	if l.idx == 0 {
		g.slot = v
	}
	l.Sync()
	out := g.slot.(T)
	l.Sync()
	if l.idx == 0 {
		g.slot = nil
	}
	return out
}
