package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/IvanBrykalov/dicache/dbgi"
	"github.com/IvanBrykalov/dicache/rdi"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

type module func(b *rdi.Builder)

func procs(names ...string) module {
	return func(b *rdi.Builder) {
		for _, n := range names {
			b.Add(rdi.SectionProcedures, n)
		}
	}
}

func newCache(t *testing.T) dbgi.Cache {
	t.Helper()
	c := dbgi.New(dbgi.Options{Lanes: 2})
	t.Cleanup(func() { _ = c.Shutdown() })
	return c
}

// load writes each module as a converted table and loads it into c.
func load(t *testing.T, c dbgi.Cache, mods ...module) []dbgi.Key {
	t.Helper()
	dir := t.TempDir()
	past := dbgi.Stamp(time.Now().Add(-time.Hour))
	var keys []dbgi.Key
	for i, m := range mods {
		b := rdi.NewBuilder()
		m(b)
		data, err := b.Bytes(i%2 == 1)
		require.NoError(t, err)
		path := filepath.Join(dir, fmt.Sprintf("mod%d.rdi", i))
		require.NoError(t, os.WriteFile(path, data, 0o644))
		k := c.KeyFromPath(path, past)
		c.Open(k)
		keys = append(keys, k)
	}
	deadline := time.Now().Add(5 * time.Second)
	for _, k := range keys {
		for c.Status(k) != dbgi.StatusLoaded {
			require.True(t, time.Now().Before(deadline), "load timed out")
			c.Tick(context.Background())
		}
	}
	return keys
}

func names(r *Result) []string {
	out := make([]string, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Name
	}
	return out
}

func TestSearch_NoKeysReturnsEmpty(t *testing.T) {
	t.Parallel()

	s := New(newCache(t), Options{Lanes: 4})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := s.Search(ctx, rdi.SectionProcedures, "main")
	require.NoError(t, err)
	require.Empty(t, r.Items)
	require.False(t, r.Loading)
}

func TestSearch_RanksByMissedCharacters(t *testing.T) {
	t.Parallel()

	c := newCache(t)
	keys := load(t, c,
		procs("domain_manager", "unrelated"),
		procs("main_loop", "main"),
	)
	s := New(c, Options{Lanes: 3})

	r, err := s.Search(context.Background(), rdi.SectionProcedures, "main")
	require.NoError(t, err)
	require.Equal(t, []string{"main", "main_loop", "domain_manager"}, names(r))

	top := r.Items[0]
	require.Equal(t, keys[1], top.Key)
	require.Equal(t, 1, top.Index)
	require.Zero(t, top.Missed)
	require.Equal(t, []Range{{Lo: 0, Hi: 4}}, top.Ranges)
	require.Equal(t, 5, r.Items[1].Missed)
}

func TestSearch_EmptyQueryMatchesEverything(t *testing.T) {
	t.Parallel()

	c := newCache(t)
	load(t, c, procs("a", "bb"), procs("ccc"))
	r, err := New(c, Options{Lanes: 2}).Search(context.Background(), rdi.SectionProcedures, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "bb", "ccc"}, names(r))
}

func TestSearch_DisplayNames(t *testing.T) {
	t.Parallel()

	c := newCache(t)
	load(t, c, func(b *rdi.Builder) {
		b.AddUDT("Widget")
		root := b.AddPath(0, "src")
		b.AddPath(root+1, "main.c")
	})
	s := New(c, Options{Lanes: 2})

	r, err := s.Search(context.Background(), rdi.SectionUDTs, "Widg")
	require.NoError(t, err)
	require.Equal(t, []string{"Widget"}, names(r))

	r, err = s.Search(context.Background(), rdi.SectionFilePathNodes, "srcmain")
	require.NoError(t, err)
	require.Equal(t, []string{"src/main.c"}, names(r))
}

// Same-quality hits come back in the same order whatever the lane count.
func TestSearch_DeterministicAcrossLaneCounts(t *testing.T) {
	t.Parallel()

	c := newCache(t)
	var a, b []string
	for i := 0; i < 300; i++ {
		a = append(a, fmt.Sprintf("fn_a%03d", i))
		b = append(b, fmt.Sprintf("fn_b%03d", i))
	}
	load(t, c, procs(a...), procs(b...))

	var want []Item
	for _, lanes := range []int{1, 2, 4, 7} {
		r, err := New(c, Options{Lanes: lanes}).Search(context.Background(), rdi.SectionProcedures, "fn")
		require.NoError(t, err)
		require.Len(t, r.Items, 600)
		if want == nil {
			want = r.Items
			continue
		}
		require.Equal(t, want, r.Items, "lanes=%d", lanes)
	}
}

func TestSearch_MemoizedPerGeneration(t *testing.T) {
	t.Parallel()

	c := newCache(t)
	load(t, c, procs("alpha"))
	s := New(c, Options{Lanes: 2})
	ctx := context.Background()

	r1, err := s.Search(ctx, rdi.SectionProcedures, "al")
	require.NoError(t, err)
	r2, err := s.Search(ctx, rdi.SectionProcedures, "al")
	require.NoError(t, err)
	require.Same(t, r1, r2)

	load(t, c, procs("alpine"))
	r3, err := s.Search(ctx, rdi.SectionProcedures, "al")
	require.NoError(t, err)
	require.NotSame(t, r1, r3)
	require.Greater(t, r3.Generation, r1.Generation)
	require.ElementsMatch(t, []string{"alpha", "alpine"}, names(r3))

	s.Purge()
	require.Zero(t, s.Stats().Entries)
	r4, err := s.Search(ctx, rdi.SectionProcedures, "al")
	require.NoError(t, err)
	require.NotSame(t, r3, r4, "purged results are rebuilt")
}

func TestSearch_LoadingIsNotMemoized(t *testing.T) {
	t.Parallel()

	c := newCache(t)
	load(t, c, procs("ready"))
	pending := c.KeyFromPath(filepath.Join(t.TempDir(), "pending.rdi"), 0)
	c.Open(pending) // never ticked

	s := New(c, Options{Lanes: 2})
	r1, err := s.Search(context.Background(), rdi.SectionProcedures, "ready")
	require.NoError(t, err)
	require.True(t, r1.Loading)
	require.Equal(t, []string{"ready"}, names(r1))

	r2, err := s.Search(context.Background(), rdi.SectionProcedures, "ready")
	require.NoError(t, err)
	require.NotSame(t, r1, r2)
	require.Equal(t, int64(2), s.Stats().Retries)
}

func TestSearch_Cancelled(t *testing.T) {
	t.Parallel()

	c := newCache(t)
	load(t, c, procs("x", "y"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(c, Options{Lanes: 3}).Search(ctx, rdi.SectionProcedures, "x")
	require.True(t, errors.Is(err, context.Canceled), "err=%v", err)
}

func TestRanges(t *testing.T) {
	t.Parallel()

	require.Nil(t, ranges(nil))
	require.Equal(t, []Range{{0, 2}, {4, 5}, {7, 9}}, ranges([]int{0, 1, 4, 7, 8}))
}

func TestTableOf_SkipsEmptyTables(t *testing.T) {
	t.Parallel()

	base := []int{0, 0, 3, 3, 5}
	require.Equal(t, 1, tableOf(base, 0))
	require.Equal(t, 1, tableOf(base, 2))
	require.Equal(t, 3, tableOf(base, 3))
	require.Equal(t, 3, tableOf(base, 4))
}
