// Package match resolves a symbol name to its best definition across every
// loaded debug-info table.
package match

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/IvanBrykalov/dicache/dbgi"
	"github.com/IvanBrykalov/dicache/internal/artifact"
	"github.com/IvanBrykalov/dicache/lane"
	"github.com/IvanBrykalov/dicache/rdi"
)

// Eviction thresholds. Scans over many modules are costly, so their results
// are kept longer.
const (
	DefaultEvictAfter = 10 * time.Second
	WideEvictAfter    = 60 * time.Second
	WideKeyCount      = 256
)

// order is the name-map probe order per table. The last hit wins.
var order = [...]rdi.NameMap{
	rdi.NameMapGlobals,
	rdi.NameMapThreadLocals,
	rdi.NameMapConstants,
	rdi.NameMapProcedures,
	rdi.NameMapTypes,
}

// Result is the best definition found for a name.
type Result struct {
	Key     dbgi.Key
	Section rdi.Section
	Index   uint32
	Found   bool
	// Loading is set when some table was still loading during the scan.
	Loading bool
}

// Options configures a Matcher. Zero values are safe.
type Options struct {
	Lanes  int // <= 0: GOMAXPROCS
	Clock  artifact.Clock
	Logger *slog.Logger
}

// Matcher answers name lookups against one dbgi.Cache.
type Matcher struct {
	c   dbgi.Cache
	opt Options
	log *slog.Logger
	art *artifact.Cache[Result]
}

// New returns a Matcher over c.
func New(c dbgi.Cache, opt Options) *Matcher {
	if opt.Lanes <= 0 {
		opt.Lanes = runtime.GOMAXPROCS(0)
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Matcher{
		c:   c,
		opt: opt,
		log: log.With("component", "match"),
		art: artifact.New[Result](artifact.Options{Clock: opt.Clock}),
	}
}

type queryKey struct {
	_msgpack struct{} `msgpack:",as_array"`

	Name      string
	Preferred dbgi.Key
}

// Match finds name in the loaded tables. A hit inside preferred wins over
// hits elsewhere; pass the zero Key for no preference.
func (m *Matcher) Match(ctx context.Context, name string, preferred dbgi.Key) (Result, error) {
	key, err := msgpack.Marshal(&queryKey{Name: name, Preferred: preferred})
	if err != nil {
		return Result{}, fmt.Errorf("match: encode query: %w", err)
	}
	evict := DefaultEvictAfter
	if m.c.Stats().Loaded > WideKeyCount {
		evict = WideEvictAfter
	}
	res, _, err := m.art.GetOrCreate(ctx, artifact.Request[Result]{
		Key:        key,
		Generation: m.c.LoadGen(),
		EvictAfter: evict,
		Create: func(ctx context.Context) (Result, bool, error) {
			r, err := m.scan(ctx, name, preferred)
			return r, r.Loading, err
		},
	})
	return res, err
}

// Sweep drops results idle past their eviction threshold.
func (m *Matcher) Sweep() int { return m.art.Sweep() }

// Purge drops every memoized result.
func (m *Matcher) Purge() { m.art.Purge() }

// Stats reports memoization counters.
func (m *Matcher) Stats() artifact.Stats { return m.art.Stats() }

type laneHits struct {
	last      Result
	preferred Result
}

type wide struct {
	keys    []dbgi.Key
	hits    []laneHits
	loading atomic.Bool
}

func (m *Matcher) scan(ctx context.Context, name string, preferred dbgi.Key) (Result, error) {
	acc := m.c.OpenAccess()
	defer acc.Close()

	var out Result
	err := lane.Run(ctx, m.opt.Lanes, func(ctx context.Context, l *lane.Lane) error {
		var w *wide
		if l.IsZero() {
			w = &wide{keys: m.c.Keys(), hits: make([]laneHits, l.Count())}
		}
		w = lane.Broadcast(l, w)

		h := &w.hits[l.Index()]
		lo, hi := l.Range(len(w.keys))
		for i := lo; i < hi && ctx.Err() == nil; i++ {
			k := w.keys[i]
			t := m.c.Lookup(acc, k, false, time.Time{})
			if t.IsNil() {
				if m.c.Status(k) == dbgi.StatusLoading {
					w.loading.Store(true)
				}
				continue
			}
			for _, nm := range order {
				idx, ok := t.FindName(nm, name)
				if !ok {
					continue
				}
				h.last = Result{Key: k, Section: nm.Section(), Index: idx, Found: true}
				if k == preferred {
					h.preferred = h.last
				}
			}
		}
		l.Sync()
		if err := ctx.Err(); err != nil {
			return err
		}

		if l.IsZero() {
			out = reduce(w.hits)
			out.Loading = w.loading.Load()
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	m.log.Debug("match done", "name", name, "found", out.Found, "key", out.Key, "loading", out.Loading)
	return out, nil
}

// reduce prefers a hit in the preferred key, then the first lane's hit.
func reduce(hits []laneHits) Result {
	for _, h := range hits {
		if h.preferred.Found {
			return h.preferred
		}
	}
	for _, h := range hits {
		if h.last.Found {
			return h.last
		}
	}
	return Result{}
}
