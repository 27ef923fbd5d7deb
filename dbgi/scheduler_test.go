package dbgi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/IvanBrykalov/dicache/convert"
	"github.com/IvanBrykalov/dicache/notify"
	"github.com/IvanBrykalov/dicache/rdi"
	"github.com/stretchr/testify/require"
)

var errUnexpectedLaunch = errors.New("unexpected launch")

func TestThreadsFor_Tiers(t *testing.T) {
	t.Parallel()

	const budget = 16
	cases := []struct {
		size uint64
		prio priority
		want int
	}{
		{1 << 20, prioHigh, 1},
		{1 << 20, prioLow, 1},
		{100 << 20, prioHigh, 4},
		{100 << 20, prioLow, 2},
		{512 << 20, prioHigh, 8},
		{4 << 30, prioHigh, 16},
		{4 << 30, prioLow, 8},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, threadsFor(tc.size, tc.prio, budget), "size=%d prio=%d", tc.size, tc.prio)
	}
	require.Equal(t, 1, threadsFor(100<<20, prioLow, 2), "floor is one thread")
}

func TestTargetPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/x/app.rdi", targetPath("/x/app.pdb", ".rdi", false))
	require.Equal(t, "/x/app.rdi", targetPath("/x/app", ".rdi", false))
	require.Equal(t, "/x/app.pdb", targetPath("/x/app.pdb", ".rdi", true))
}

func TestIsStale_TruthTable(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{})
	dir := t.TempDir()
	now := time.Now()

	good := filepath.Join(dir, "good.rdi")
	writeTable(t, good, false, "f")
	require.False(t, c.isStale(good, Stamp(now.Add(-time.Hour))), "present, newer, matching version")

	require.True(t, c.isStale(filepath.Join(dir, "missing.rdi"), 0), "missing")

	old := filepath.Join(dir, "old.rdi")
	writeTable(t, old, false, "f")
	require.NoError(t, os.Chtimes(old, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.True(t, c.isStale(old, Stamp(now.Add(-time.Hour))), "older than min timestamp")

	other := filepath.Join(dir, "other.rdi")
	data, err := rdi.NewBuilder().Bytes(false)
	require.NoError(t, err)
	data[8]++ // encoding version field
	require.NoError(t, os.WriteFile(other, data, 0o644))
	require.True(t, c.isStale(other, 0), "mismatched encoding version")
}

// An up-to-date converted sibling is used directly: one tick, no subprocess.
func TestTick_FreshSiblingNeedsNoConversion(t *testing.T) {
	t.Parallel()

	rec := &recorder{Next: convert.Func(func(context.Context, convert.Request) error {
		return errUnexpectedLaunch
	})}
	c := newTestCache(t, Options{Launcher: rec})
	dir := t.TempDir()
	src := filepath.Join(dir, "game.pdb")
	writeFile(t, src, string(msfMagic70))
	writeTable(t, filepath.Join(dir, "game.rdi"), false, "game_main")

	k := c.KeyFromPath(src, past())
	c.Open(k)
	c.Tick(context.Background())

	acc := c.OpenAccess()
	defer acc.Close()
	tbl := c.Lookup(acc, k, false, soon())
	require.False(t, tbl.IsNil())
	require.Equal(t, 1, tbl.Count(rdi.SectionProcedures))
	require.Empty(t, rec.Requests())
}

// A stale target is regenerated by the converter, whose completion arrives
// over the signal channel.
func TestTick_ConvertsStaleSource(t *testing.T) {
	t.Parallel()

	sig := notify.NewLocal()
	release := make(chan struct{})
	rec := &recorder{Next: convert.Func(func(_ context.Context, r convert.Request) error {
		<-release
		b := rdi.NewBuilder()
		b.Add(rdi.SectionProcedures, "converted_main")
		data, err := b.Bytes(true)
		if err != nil {
			return err
		}
		if err := os.WriteFile(r.Output, data, 0o644); err != nil {
			return err
		}
		return sig.Send(r.Token)
	})}
	c := newTestCache(t, Options{Launcher: rec, Signal: sig, ThreadBudget: 4})

	dir := t.TempDir()
	src := filepath.Join(dir, "lib.so")
	writeFile(t, src, "\x7fELF")
	k := c.KeyFromPath(src, past())
	c.Open(k)

	c.Tick(context.Background())
	require.Len(t, rec.Requests(), 1)
	req := rec.Requests()[0]
	require.Equal(t, filepath.Join(dir, "lib.rdi"), req.Output)
	require.Equal(t, 1, req.Threads)
	require.Equal(t, int64(1), c.Stats().Conversions)
	require.Equal(t, StatusLoading, c.Status(k))

	// Repeated requests while converting do not spawn again.
	c.Lookup(nil, k, true, time.Time{})
	c.Tick(context.Background())
	require.Len(t, rec.Requests(), 1)

	close(release)
	tickUntil(t, c, func() bool { return c.Status(k) == StatusLoaded })
	require.Zero(t, c.Stats().Conversions)
	require.Zero(t, c.Stats().RunningThreads)

	tbl := c.Lookup(nil, k, false, time.Time{})
	_, ok := tbl.FindName(rdi.NameMapProcedures, "converted_main")
	require.True(t, ok)
}

// Conversions are admitted only while their thread budgets fit.
func TestTick_AdmissionControl(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	gates := map[string]chan struct{}{}
	gate := func(out string) chan struct{} {
		mu.Lock()
		defer mu.Unlock()
		if gates[out] == nil {
			gates[out] = make(chan struct{})
		}
		return gates[out]
	}
	rec := &recorder{Next: convert.Func(func(_ context.Context, r convert.Request) error {
		<-gate(r.Output)
		return nil
	})}
	c := newTestCache(t, Options{Launcher: rec, ThreadBudget: 1})

	dir := t.TempDir()
	var keys []Key
	for _, name := range []string{"one.so", "two.so"} {
		src := filepath.Join(dir, name)
		writeFile(t, src, "x")
		k := c.KeyFromPath(src, past())
		c.Open(k)
		keys = append(keys, k)
	}

	c.Tick(context.Background())
	c.Tick(context.Background())
	require.Len(t, rec.Requests(), 1, "budget of one thread admits one conversion")
	require.Equal(t, int64(2), c.Stats().Tasks)

	close(gate(rec.Requests()[0].Output))
	tickUntil(t, c, func() bool { return len(rec.Requests()) == 2 })
	close(gate(rec.Requests()[1].Output))

	// The converter wrote nothing: both keys complete with the nil table.
	tickUntil(t, c, func() bool {
		return c.Status(keys[0]) == StatusLoaded && c.Status(keys[1]) == StatusLoaded
	})
	require.True(t, c.Lookup(nil, keys[0], false, time.Time{}).IsNil())
	require.Zero(t, c.Stats().Tasks)
}

// Before a conversion overwrites a target, other keys served from that
// target are force-closed.
func TestTick_EvictsSiblingsBeforeOverwrite(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	rec := &recorder{Next: convert.Func(func(context.Context, convert.Request) error {
		<-hold
		return nil
	})}
	c := newTestCache(t, Options{Launcher: rec})

	dir := t.TempDir()
	src := filepath.Join(dir, "tool.pdb")
	writeFile(t, src, "x")
	writeTable(t, filepath.Join(dir, "tool.rdi"), false, "tool_main")

	oldKey := c.KeyFromPath(src, past())
	c.Open(oldKey)
	tickUntil(t, c, func() bool { return c.Status(oldKey) == StatusLoaded })

	// A bound in the future makes the existing target stale.
	newKey := c.KeyFromPath(src, Stamp(time.Now().Add(time.Hour)))
	require.NotEqual(t, oldKey, newKey)
	c.Open(newKey)
	c.Tick(context.Background())

	require.Len(t, rec.Requests(), 1)
	require.Equal(t, StatusAbsent, c.Status(oldKey))
	require.Equal(t, StatusLoading, c.Status(newKey))
}

// A stale source that is itself in the native format cannot be
// regenerated; it is served as is.
func TestTick_StaleNativeSourceServedAsIs(t *testing.T) {
	t.Parallel()

	rec := &recorder{Next: convert.Func(func(context.Context, convert.Request) error {
		return errUnexpectedLaunch
	})}
	c := newTestCache(t, Options{Launcher: rec})
	src := filepath.Join(t.TempDir(), "native.rdi")
	writeTable(t, src, false, "native_main")

	k := c.KeyFromPath(src, Stamp(time.Now().Add(time.Hour)))
	c.Open(k)
	c.Tick(context.Background())
	require.Empty(t, rec.Requests())
	require.False(t, c.Lookup(nil, k, false, soon()).IsNil())
}

func TestTick_LaunchFailureCompletesWithNil(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Launcher: &convert.Exec{}})
	src := filepath.Join(t.TempDir(), "x.so")
	writeFile(t, src, "x")
	k := c.KeyFromPath(src, past())
	c.Open(k)
	c.Tick(context.Background())
	require.Equal(t, StatusLoaded, c.Status(k))
	require.True(t, c.Lookup(nil, k, false, time.Time{}).IsNil())
}
