package dbgi

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/dicache/convert"
	"github.com/IvanBrykalov/dicache/lane"
	"github.com/IvanBrykalov/dicache/notify"
)

// requestBatch is a mutex-guarded queue of keys, drained wholesale per tick.
// It is independent of the record stripes.
type requestBatch struct {
	mu   sync.Mutex
	keys []Key
}

func (b *requestBatch) push(k Key) {
	b.mu.Lock()
	b.keys = append(b.keys, k)
	b.mu.Unlock()
}

func (b *requestBatch) take() []Key {
	b.mu.Lock()
	ks := b.keys
	b.keys = nil
	b.mu.Unlock()
	return ks
}

type taskStatus uint8

const (
	taskNull taskStatus = iota
	taskActive
	taskDone
)

// loadTask tracks one key's load from request to ready-to-parse.
// Only lane 0 of a tick touches tasks.
type loadTask struct {
	key    Key
	prio   priority
	status taskStatus

	// source analysis, computed on first visit
	analyzed  bool
	srcPath   string
	minStamp  uint64
	srcNative bool
	srcSize   uint64

	// target staleness, computed on first visit
	staleChecked bool
	dstPath      string
	stale        bool

	threads int
	proc    convert.Process
	token   notify.Token
}

type readyItem struct {
	key  Key
	path string
}

type scheduler struct {
	requests [prioCount]requestBatch

	compMu      sync.Mutex
	completions []notify.Token

	wake chan struct{}

	// lane 0 state
	tickMu         sync.Mutex
	tasks          [prioCount][]*loadTask
	free           []*loadTask
	runningThreads int
	nextTag        uint32

	ready     []readyItem
	readyNext atomic.Int64

	// mirrors for Stats
	statProcs   atomic.Int64
	statThreads atomic.Int64
	statTasks   atomic.Int64
}

func newScheduler() *scheduler {
	return &scheduler{wake: make(chan struct{}, 1)}
}

func (s *scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (c *cache) requestLoad(p priority, key Key) {
	c.sched.requests[p].push(key)
	c.metrics.Request(p == prioHigh)
	c.sched.notify()
}

func (s *scheduler) pushCompletions(toks []notify.Token) {
	s.compMu.Lock()
	s.completions = append(s.completions, toks...)
	s.compMu.Unlock()
	s.notify()
}

func (s *scheduler) takeCompletions() map[notify.Token]struct{} {
	s.compMu.Lock()
	toks := s.completions
	s.completions = nil
	s.compMu.Unlock()
	if len(toks) == 0 {
		return nil
	}
	set := make(map[notify.Token]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

func (s *scheduler) newTask(key Key, p priority) *loadTask {
	var t *loadTask
	if n := len(s.free); n > 0 {
		t = s.free[n-1]
		s.free = s.free[:n-1]
		*t = loadTask{}
	} else {
		t = new(loadTask)
	}
	t.key, t.prio = key, p
	return t
}

// Tick implements Cache.
func (c *cache) Tick(ctx context.Context) {
	_ = lane.Run(ctx, c.opt.Lanes, func(ctx context.Context, l *lane.Lane) error {
		c.TickLane(ctx, l)
		return nil
	})
}

// TickLane implements Cache. Lane 0 advances the task state machine; all
// lanes then parse and commit the ready list.
func (c *cache) TickLane(ctx context.Context, l *lane.Lane) {
	s := c.sched
	var ready []readyItem
	if l.IsZero() {
		s.tickMu.Lock()
		ready = c.advance(ctx)
		s.ready = ready
		s.readyNext.Store(0)
	}
	ready = lane.Broadcast(l, ready)

	for {
		i := s.readyNext.Add(1) - 1
		if i >= int64(len(ready)) {
			break
		}
		c.commit(ready[i])
	}
	l.Sync()

	if l.IsZero() {
		s.ready = nil
		s.tickMu.Unlock()
	}
}

// advance is lane 0's part of a tick: drain, dedupe, step every task, and
// return the files ready to parse.
func (c *cache) advance(ctx context.Context) []readyItem {
	s := c.sched

	var drained [prioCount][]Key
	for p := range drained {
		drained[p] = s.requests[p].take()
	}
	done := s.takeCompletions()

	// High before low: a key requested at both priorities becomes a
	// high-priority task and the low request is dropped as a duplicate.
	for p := prioHigh; p < prioCount; p++ {
		for _, k := range drained[p] {
			if c.claim(k) {
				s.tasks[p] = append(s.tasks[p], s.newTask(k, p))
			}
		}
	}

	var ready []readyItem
	for p := prioHigh; p < prioCount; p++ {
		kept := s.tasks[p][:0]
		for _, t := range s.tasks[p] {
			c.step(ctx, t, done)
			if t.status != taskDone {
				kept = append(kept, t)
				continue
			}
			ready = append(ready, readyItem{key: t.key, path: t.dstPath})
			s.free = append(s.free, t)
		}
		clear(s.tasks[p][len(kept):])
		s.tasks[p] = kept
	}
	s.statTasks.Store(int64(len(s.tasks[prioHigh]) + len(s.tasks[prioLow])))
	return ready
}

// claim takes the single-flight slot for key. It fails when the record is
// gone, already loaded, or a task already owns it.
func (c *cache) claim(key Key) bool {
	slot, st := c.records.slotOf(key)
	st.RLock()
	defer st.RUnlock()
	r := c.records.find(slot, key)
	if r == nil || r.completed.Load() > 0 {
		return false
	}
	return r.working.CompareAndSwap(0, 1)
}
