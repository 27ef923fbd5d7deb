package dbgi

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fortio.org/safecast"

	"github.com/IvanBrykalov/dicache/convert"
	"github.com/IvanBrykalov/dicache/notify"
)

// Size tiers for converter thread budgets.
const (
	tierSmall  = 64 << 20
	tierMedium = 256 << 20
	tierLarge  = 1 << 30
)

// threadsFor picks a converter thread count for a source of size bytes.
func threadsFor(size uint64, p priority, budget int) int {
	var n int
	switch {
	case size <= tierSmall:
		n = 1
	case size <= tierMedium:
		n = budget / 4
	case size <= tierLarge:
		n = budget / 2
	default:
		n = budget
	}
	if p == prioLow {
		n /= 2
	}
	return max(n, 1)
}

// targetPath is where the converted form of src lives.
func targetPath(src, ext string, srcNative bool) string {
	if srcNative {
		return src
	}
	return strings.TrimSuffix(src, filepath.Ext(src)) + ext
}

// step advances one task as far as it can go this tick.
func (c *cache) step(ctx context.Context, t *loadTask, done map[notify.Token]struct{}) {
	if t.status == taskDone {
		return
	}
	if !t.analyzed {
		c.analyze(t)
	}
	if !t.staleChecked {
		t.dstPath = targetPath(t.srcPath, c.opt.NativeExt, t.srcNative)
		t.stale = c.isStale(t.dstPath, t.minStamp)
		t.staleChecked = true
	}

	if t.status == taskNull {
		switch {
		case t.srcPath == "":
			// Key was never derived here; nothing to convert or parse.
			t.status = taskDone
		case !t.stale:
			t.status = taskDone
		case t.srcNative:
			// A stale native source has no converter to regenerate it; the
			// file is served as is.
			t.status = taskDone
		case c.opt.Launcher == nil:
			t.status = taskDone
		default:
			c.launch(ctx, t)
		}
	}

	if t.status == taskActive {
		_, signaled := done[t.token]
		if signaled || t.proc.Exited() {
			c.finishConversion(t)
		}
	}
}

// analyze recovers the source path and sniffs the source file.
func (c *cache) analyze(t *loadTask) {
	t.analyzed = true
	path, stamp, ok := c.paths.pathFor(t.key)
	if !ok {
		return
	}
	t.srcPath, t.minStamp = path, stamp

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil {
		if n, err := safecast.Conv[uint64](st.Size()); err == nil {
			t.srcSize = n
		}
	}
	hdr := make([]byte, c.opt.Parser.HeaderSize())
	if _, err := io.ReadFull(f, hdr); err == nil {
		_, t.srcNative = c.opt.Parser.Identify(hdr)
	}
}

// isStale reports whether the converted file at path must be regenerated:
// it is missing, older than minStamp, or of another encoding version.
func (c *cache) isStale(path string, minStamp uint64) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || Stamp(st.ModTime()) < minStamp {
		return true
	}
	hdr := make([]byte, c.opt.Parser.HeaderSize())
	if _, err := io.ReadFull(f, hdr); err != nil {
		return true
	}
	v, ok := c.opt.Parser.Identify(hdr)
	return !ok || v != c.opt.Parser.EncodingVersion()
}

// launch starts a conversion if the thread budget admits it; otherwise the
// task stays Null and is retried next tick.
func (c *cache) launch(ctx context.Context, t *loadTask) {
	s := c.sched
	if t.threads == 0 {
		t.threads = threadsFor(t.srcSize, t.prio, c.opt.ThreadBudget)
	}
	if s.runningThreads+t.threads > c.opt.ThreadBudget {
		return
	}

	if _, err := os.Stat(t.dstPath); err == nil {
		c.evictSiblings(t)
	}

	s.nextTag++
	t.token = notify.NewToken(c.opt.SignalPID, s.nextTag)
	proc, err := c.opt.Launcher.Launch(ctx, convert.Request{
		Source:  t.srcPath,
		Output:  t.dstPath,
		Threads: t.threads,
		Token:   t.token,
	})
	if err != nil {
		c.log.Warn("conversion launch failed", "key", t.key, "source", t.srcPath, "err", err)
		t.status = taskDone
		return
	}
	t.proc = proc
	t.status = taskActive
	s.runningThreads += t.threads
	s.statThreads.Store(int64(s.runningThreads))
	s.statProcs.Add(1)
	c.metrics.ConversionStart(t.threads)
	c.log.Info("conversion started",
		"key", t.key, "source", t.srcPath, "output", t.dstPath,
		"threads", t.threads, "size", t.srcSize)
}

func (c *cache) finishConversion(t *loadTask) {
	s := c.sched
	t.status = taskDone
	s.runningThreads -= t.threads
	s.statThreads.Store(int64(s.runningThreads))
	s.statProcs.Add(-1)
	c.metrics.ConversionDone(t.threads)
	c.log.Info("conversion finished", "key", t.key, "output", t.dstPath)
}

// evictSiblings force-closes every other key derived from the same source,
// newest first, so no table is served from a file about to be rewritten.
func (c *cache) evictSiblings(t *loadTask) {
	for _, k := range c.paths.keysForPath(t.srcPath) {
		if k != t.key {
			c.Close(k, true)
		}
	}
}
