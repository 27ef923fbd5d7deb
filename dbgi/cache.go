package dbgi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"fortio.org/safecast"

	"github.com/IvanBrykalov/dicache/internal/util"
	"github.com/IvanBrykalov/dicache/notify"
	"github.com/IvanBrykalov/dicache/rdi"
)

const defaultSlots = 1024

type cache struct {
	opt     Options
	log     *slog.Logger
	metrics Metrics

	paths   *pathKeys
	records *recordTable
	sched   *scheduler

	_         util.CacheLinePad
	loadCount util.PaddedAtomicInt64
	loadGen   util.PaddedAtomicUint64

	stopRecv context.CancelFunc
	recvDone chan struct{}
	shutdown sync.Once
}

// New constructs a Cache. When opt.Signal is set, a receiver goroutine runs
// until Shutdown.
func New(opt Options) Cache {
	if opt.Slots <= 0 {
		opt.Slots = defaultSlots
	}
	if opt.Stripes <= 0 {
		opt.Stripes = util.ReasonableStripeCount()
	}
	if opt.Lanes <= 0 {
		opt.Lanes = runtime.GOMAXPROCS(0)
	}
	if opt.ThreadBudget <= 0 {
		opt.ThreadBudget = max(1, runtime.NumCPU()/2)
	}
	if opt.NativeExt == "" {
		opt.NativeExt = ".rdi"
	}
	if opt.Parser == nil {
		opt.Parser = rdi.Reader{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.SignalPID == 0 {
		if pid, err := safecast.Conv[uint32](os.Getpid()); err == nil {
			opt.SignalPID = pid
		}
	}

	c := &cache{
		opt:     opt,
		log:     opt.Logger.With("component", "dbgi"),
		metrics: opt.Metrics,
		paths:   newPathKeys(opt.Slots, opt.Stripes),
		records: newRecordTable(opt.Slots, opt.Stripes),
		sched:   newScheduler(),
	}
	if opt.Signal != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.stopRecv = cancel
		c.recvDone = make(chan struct{})
		go c.receive(ctx)
	}
	return c
}

// receive turns completion signals into completion records for the next tick.
func (c *cache) receive(ctx context.Context) {
	defer close(c.recvDone)
	for {
		toks, err := c.opt.Signal.Receive(ctx)
		if err != nil {
			if !errors.Is(err, notify.ErrClosed) && ctx.Err() == nil {
				c.log.Error("completion receiver stopped", "err", err)
			}
			return
		}
		c.sched.pushCompletions(toks)
	}
}

// KeyFromPath implements Cache.
func (c *cache) KeyFromPath(path string, minStamp uint64) Key {
	return c.paths.keyFor(path, minStamp)
}

// Keys implements Cache.
func (c *cache) Keys() []Key {
	ents := c.paths.scan(nil)
	keys := make([]Key, len(ents))
	for i, e := range ents {
		keys[i] = e.key
	}
	return keys
}

// LoadGen implements Cache.
func (c *cache) LoadGen() uint64 { return c.loadGen.Load() }

// Run implements Cache.
func (c *cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.sched.wake:
		case <-tk.C:
		}
		c.Tick(ctx)
	}
}

// Stats implements Cache.
func (c *cache) Stats() Stats {
	return Stats{
		Loaded:         c.loadCount.Load(),
		Generation:     c.loadGen.Load(),
		Conversions:    c.sched.statProcs.Load(),
		RunningThreads: c.sched.statThreads.Load(),
		Tasks:          c.sched.statTasks.Load(),
		ThreadBudget:   c.opt.ThreadBudget,
		KeysDerived:    c.paths.derived.Load(),
	}
}

// Shutdown implements Cache.
func (c *cache) Shutdown() error {
	var err error
	c.shutdown.Do(func() {
		if c.opt.Signal == nil {
			return
		}
		c.stopRecv()
		err = c.opt.Signal.Close()
		<-c.recvDone
	})
	return err
}
