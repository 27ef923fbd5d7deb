package dbgi

import (
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"github.com/IvanBrykalov/dicache/rdi"
	"github.com/stretchr/testify/require"
)

func TestLookup_DeadlineReturnsNil(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{})
	k := Key{Lo: 3}
	c.Open(k)

	start := time.Now()
	tbl := c.Lookup(nil, k, true, start.Add(30*time.Millisecond))
	require.True(t, tbl.IsNil())
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// The high-priority request is queued once, however often we ask.
	c.Lookup(nil, k, true, time.Time{})
	require.Equal(t, []Key{k}, c.sched.requests[prioHigh].take())

	require.True(t, c.Lookup(nil, Key{Lo: 4}, false, soon()).IsNil(), "unknown keys never wait")
}

func TestLookup_WakesOnCommit(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{})
	dir := t.TempDir()
	src := filepath.Join(dir, "wake.pdb")
	writeFile(t, src, "x")
	names := []string{"wake_main"}
	for i := 0; i < 200; i++ {
		names = append(names, "wake_padding_helper")
	}
	writeTable(t, filepath.Join(dir, "wake.rdi"), true, names...)
	k := c.KeyFromPath(src, past())
	c.Open(k)

	got := make(chan rdi.Table, 1)
	go func() {
		acc := c.OpenAccess()
		defer acc.Close()
		got <- c.Lookup(acc, k, false, soon())
	}()
	time.Sleep(10 * time.Millisecond)
	tickUntil(t, c, func() bool { return c.Status(k) == StatusLoaded })

	select {
	case tbl := <-got:
		require.False(t, tbl.IsNil())
		_, ok := tbl.FindName(rdi.NameMapProcedures, "wake_main")
		require.True(t, ok, "compressed table must be decompressed before commit")
	case <-time.After(5 * time.Second):
		t.Fatal("lookup was not woken by the commit")
	}
}

func TestLookup_FailedParseCommitsNil(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{})
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.rdi")
	writeFile(t, src, "definitely not a table")
	k := c.KeyFromPath(src, past())
	c.Open(k)
	tickUntil(t, c, func() bool { return c.Status(k) == StatusLoaded })

	require.True(t, c.Lookup(nil, k, false, time.Time{}).IsNil())
	require.Equal(t, int64(1), c.Stats().Loaded)
	require.Zero(t, c.LoadGen(), "nil tables do not advance the generation")
}

// A compressed header that claims an absurd decompressed size must commit a
// nil table rather than allocate for it.
func TestLookup_OversizedHeaderCommitsNil(t *testing.T) {
	t.Parallel()

	hostile := make([]byte, 64)
	binary.LittleEndian.PutUint64(hostile[0:8], rdi.Magic)
	binary.LittleEndian.PutUint32(hostile[8:12], rdi.Version)
	binary.LittleEndian.PutUint32(hostile[12:16], 1) // compressed
	binary.LittleEndian.PutUint64(hostile[16:24], 1<<62)

	c := newTestCache(t, Options{})
	src := filepath.Join(t.TempDir(), "hostile.rdi")
	writeFile(t, src, string(hostile))
	k := c.KeyFromPath(src, past())
	c.Open(k)
	tickUntil(t, c, func() bool { return c.Status(k) == StatusLoaded })

	require.True(t, c.Lookup(nil, k, false, time.Time{}).IsNil())
	require.Zero(t, c.LoadGen())
}
