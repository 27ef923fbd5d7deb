// Package search runs ranked fuzzy searches over every table the debug-info
// cache has loaded, memoizing results until the cache's load generation moves.
package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"fortio.org/safecast"
	"github.com/sahilm/fuzzy"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/IvanBrykalov/dicache/dbgi"
	"github.com/IvanBrykalov/dicache/internal/artifact"
	"github.com/IvanBrykalov/dicache/internal/radix"
	"github.com/IvanBrykalov/dicache/internal/util"
	"github.com/IvanBrykalov/dicache/lane"
	"github.com/IvanBrykalov/dicache/rdi"
)

// DefaultEvictAfter is how long an unused result stays memoized.
const DefaultEvictAfter = 10 * time.Second

// batchSize is how many names are matched between cancellation polls.
const batchSize = 4096

// maxPathDepth bounds parent-chain walks over file path nodes.
const maxPathDepth = 256

// Range is a half-open byte range of Item.Name that matched the query.
type Range struct{ Lo, Hi int }

// Item is one hit.
type Item struct {
	Key     dbgi.Key
	Section rdi.Section
	Index   int    // element index within the section
	Name    string // display name
	Missed  int    // name bytes not consumed by the query
	Ranges  []Range
}

// Result is a ranked hit list: fewest missed bytes first, ties in a
// query-seeded pseudo-random order.
type Result struct {
	Items      []Item
	Generation uint64
	// Loading is set when some table was still loading during the scan; the
	// result is then not memoized and a later call will scan again.
	Loading bool
}

// Options configures a Searcher. Zero values are safe.
type Options struct {
	Lanes      int           // <= 0: GOMAXPROCS
	EvictAfter time.Duration // 0: DefaultEvictAfter
	Clock      artifact.Clock
	Logger     *slog.Logger
}

// Searcher answers searches against one dbgi.Cache.
type Searcher struct {
	c   dbgi.Cache
	opt Options
	log *slog.Logger
	art *artifact.Cache[*Result]
}

// New returns a Searcher over c.
func New(c dbgi.Cache, opt Options) *Searcher {
	if opt.Lanes <= 0 {
		opt.Lanes = runtime.GOMAXPROCS(0)
	}
	if opt.EvictAfter <= 0 {
		opt.EvictAfter = DefaultEvictAfter
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Searcher{
		c:   c,
		opt: opt,
		log: log.With("component", "search"),
		art: artifact.New[*Result](artifact.Options{Clock: opt.Clock}),
	}
}

type queryKey struct {
	_msgpack struct{} `msgpack:",as_array"`

	Section rdi.Section
	Query   string
}

// Search returns the ranked hits for query among section's elements of every
// loaded table. An empty query matches everything. Cancelling ctx abandons
// the scan and returns ctx.Err().
func (s *Searcher) Search(ctx context.Context, section rdi.Section, query string) (*Result, error) {
	key, err := msgpack.Marshal(&queryKey{Section: section, Query: query})
	if err != nil {
		return nil, fmt.Errorf("search: encode query: %w", err)
	}
	gen := s.c.LoadGen()
	res, _, err := s.art.GetOrCreate(ctx, artifact.Request[*Result]{
		Key:        key,
		Generation: gen,
		EvictAfter: s.opt.EvictAfter,
		Create: func(ctx context.Context) (*Result, bool, error) {
			r, err := s.scan(ctx, section, query)
			if err != nil {
				return nil, false, err
			}
			r.Generation = gen
			return r, r.Loading, nil
		},
	})
	return res, err
}

// Sweep drops results idle past their eviction threshold.
func (s *Searcher) Sweep() int { return s.art.Sweep() }

// Purge drops every memoized result.
func (s *Searcher) Purge() { s.art.Purge() }

// Stats reports memoization counters.
func (s *Searcher) Stats() artifact.Stats { return s.art.Stats() }

// wide is the state shared by the lanes of one scan.
type wide struct {
	keys   []dbgi.Key
	tables []rdi.Table
	base   []int // base[i] = first global element index of tables[i]
	lists  [][]Item

	loading   atomic.Bool
	cancelled atomic.Bool

	items   []Item
	tooMany error
	recs    []radix.Record
	tmp     []radix.Record
}

func (s *Searcher) scan(ctx context.Context, section rdi.Section, query string) (*Result, error) {
	start := time.Now()
	acc := s.c.OpenAccess()
	defer acc.Close()

	var out *Result
	err := lane.Run(ctx, s.opt.Lanes, func(ctx context.Context, l *lane.Lane) error {
		var w *wide
		if l.IsZero() {
			keys := s.c.Keys()
			w = &wide{
				keys:   keys,
				tables: make([]rdi.Table, len(keys)),
				base:   make([]int, len(keys)+1),
				lists:  make([][]Item, l.Count()),
			}
		}
		w = lane.Broadcast(l, w)
		if len(w.keys) == 0 {
			if l.IsZero() {
				out = &Result{}
			}
			return nil
		}

		lo, hi := l.Range(len(w.keys))
		for i := lo; i < hi; i++ {
			w.tables[i] = s.c.Lookup(acc, w.keys[i], false, time.Time{})
			if s.c.Status(w.keys[i]) == dbgi.StatusLoading {
				w.loading.Store(true)
			}
		}
		l.Sync()

		if l.IsZero() {
			for i, t := range w.tables {
				w.base[i+1] = w.base[i] + t.Count(section)
			}
		}
		l.Sync()

		w.lists[l.Index()] = s.match(ctx, w, l, section, query)
		l.Sync()
		if w.cancelled.Load() {
			return ctx.Err()
		}

		if l.IsZero() {
			n := 0
			for _, list := range w.lists {
				n += len(list)
			}
			if _, err := safecast.Conv[uint32](n); err != nil {
				w.tooMany = fmt.Errorf("search: %d hits: %w", n, err)
			} else {
				w.items = make([]Item, 0, n)
				for _, list := range w.lists {
					w.items = append(w.items, list...)
				}
				w.recs = make([]radix.Record, n)
				w.tmp = make([]radix.Record, n)
			}
		}
		l.Sync()
		if w.tooMany != nil {
			return w.tooMany
		}

		seed := util.HashString(query)
		lo, hi = l.Range(len(w.items))
		for i := lo; i < hi; i++ {
			it := &w.items[i]
			// Mixing in the module key keeps equal-quality hits from
			// different modules out of one shared pseudo-random order.
			tie := util.SeededUint64(seed^it.Key.Lo, uint64(it.Index)) & 0xffffffff
			w.recs[i] = radix.Record{
				Key: uint64(it.Missed)<<32 | tie,
				Val: uint32(i), // len(items) fits, checked above
			}
		}
		l.Sync()
		radix.Sort(l, w.recs, w.tmp)

		if l.IsZero() {
			sorted := make([]Item, len(w.items))
			for i, r := range w.recs {
				sorted[i] = w.items[r.Val]
			}
			out = &Result{Items: sorted, Loading: w.loading.Load()}
		}
		return nil
	})
	if err != nil {
		s.log.Debug("search abandoned", "query", query, "err", err)
		return nil, err
	}
	s.log.Debug("search done",
		"section", section, "query", query, "hits", len(out.Items),
		"loading", out.Loading, "took", time.Since(start))
	return out, nil
}

// match scans this lane's share of the global element range.
func (s *Searcher) match(ctx context.Context, w *wide, l *lane.Lane, section rdi.Section, query string) []Item {
	lo, hi := l.Range(w.base[len(w.base)-1])
	var out []Item
	names := make(batch, 0, batchSize)
	refs := make([]elemRef, 0, batchSize)

	t := tableOf(w.base, lo)
	for g := lo; g < hi; {
		if ctx.Err() != nil || w.cancelled.Load() {
			w.cancelled.Store(true)
			return nil
		}
		names, refs = names[:0], refs[:0]
		for ; g < hi && len(names) < batchSize; g++ {
			for g >= w.base[t+1] {
				t++
			}
			i := g - w.base[t]
			names = append(names, displayName(w.tables[t], section, i))
			refs = append(refs, elemRef{table: t, index: i})
		}
		if query == "" {
			for j, name := range names {
				out = append(out, Item{
					Key: w.keys[refs[j].table], Section: section, Index: refs[j].index,
					Name: name, Missed: len(name),
				})
			}
			continue
		}
		for _, m := range fuzzy.FindFromNoSort(query, names) {
			ref := refs[m.Index]
			out = append(out, Item{
				Key: w.keys[ref.table], Section: section, Index: ref.index,
				Name:   m.Str,
				Missed: len(m.Str) - len(m.MatchedIndexes),
				Ranges: ranges(m.MatchedIndexes),
			})
		}
	}
	return out
}

type elemRef struct{ table, index int }

// batch adapts a name slice to fuzzy.Source.
type batch []string

func (b batch) String(i int) string { return b[i] }
func (b batch) Len() int            { return len(b) }

// tableOf returns the table holding global element g.
func tableOf(base []int, g int) int {
	lo, hi := 0, len(base)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if base[mid] <= g {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// displayName is the searchable name of element i.
func displayName(t rdi.Table, section rdi.Section, i int) string {
	e := t.Element(section, i)
	switch section {
	case rdi.SectionFilePathNodes:
		parts := []string{t.String(e.Name)}
		for depth := 0; e.Parent != 0 && depth < maxPathDepth; depth++ {
			e = t.Element(section, int(e.Parent-1))
			parts = append(parts, t.String(e.Name))
		}
		for a, b := 0, len(parts)-1; a < b; a, b = a+1, b-1 {
			parts[a], parts[b] = parts[b], parts[a]
		}
		return strings.Join(parts, "/")
	case rdi.SectionUDTs:
		return t.String(t.Element(rdi.SectionTypes, int(e.Type)).Name)
	default:
		return t.String(e.Name)
	}
}

// ranges folds sorted matched byte offsets into runs.
func ranges(idx []int) []Range {
	var out []Range
	for _, i := range idx {
		if n := len(out); n > 0 && out[n-1].Hi == i {
			out[n-1].Hi++
			continue
		}
		out = append(out, Range{Lo: i, Hi: i + 1})
	}
	return out
}
