//go:build linux || darwin || freebsd

package notify

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Page layout: count u32 at 0, tokens u64 from offset 8.
const (
	pageSize  = 4096
	slotBase  = 8
	pageSlots = (pageSize - slotBase) / 8

	pollInterval = 250 * time.Millisecond
)

// Shared is the cross-process Channel: a memory-mapped page guarded by an
// advisory file lock, plus a named pipe used as the doorbell. One byte is
// written to the doorbell per Send.
type Shared struct {
	owner     bool
	pagePath  string
	bellPath  string
	page      *os.File
	bell      *os.File
	data      []byte
	mu        sync.RWMutex // held shared while touching data; exclusively by Close
	pageMu    sync.Mutex   // flock only excludes other processes
	closed    bool
	closeOnce sync.Once
}

var _ Channel = (*Shared)(nil)

func paths(dir string, pid int) (page, bell string) {
	if dir == "" {
		dir = os.TempDir()
	}
	base := filepath.Join(dir, "dicache-signal-"+strconv.Itoa(pid))
	return base + ".page", base + ".bell"
}

// Create establishes the channel for process pid (normally os.Getpid())
// in dir ("" = os.TempDir()). The creator owns the files and removes them
// on Close.
func Create(dir string, pid int) (*Shared, error) {
	pagePath, bellPath := paths(dir, pid)
	_ = os.Remove(pagePath)
	_ = os.Remove(bellPath)

	page, err := os.OpenFile(pagePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("notify: create page: %w", err)
	}
	if err := page.Truncate(pageSize); err != nil {
		_ = page.Close()
		_ = os.Remove(pagePath)
		return nil, fmt.Errorf("notify: size page: %w", err)
	}
	if err := unix.Mkfifo(bellPath, 0o600); err != nil {
		_ = page.Close()
		_ = os.Remove(pagePath)
		return nil, fmt.Errorf("notify: create doorbell: %w", err)
	}
	s, err := attach(page, pagePath, bellPath)
	if err != nil {
		_ = os.Remove(pagePath)
		_ = os.Remove(bellPath)
		return nil, err
	}
	s.owner = true
	return s, nil
}

// Open attaches to a channel created by process pid. It never creates files.
func Open(dir string, pid int) (*Shared, error) {
	pagePath, bellPath := paths(dir, pid)
	page, err := os.OpenFile(pagePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("notify: open page: %w", err)
	}
	return attach(page, pagePath, bellPath)
}

func attach(page *os.File, pagePath, bellPath string) (*Shared, error) {
	data, err := unix.Mmap(int(page.Fd()), 0, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("notify: map page: %w", err)
	}
	// O_RDWR keeps the pipe open for reading without a peer and never blocks
	// in open(2).
	bell, err := os.OpenFile(bellPath, os.O_RDWR, 0)
	if err != nil {
		_ = unix.Munmap(data)
		_ = page.Close()
		return nil, fmt.Errorf("notify: open doorbell: %w", err)
	}
	return &Shared{pagePath: pagePath, bellPath: bellPath, page: page, bell: bell, data: data}, nil
}

// lock takes pageMu, then the file lock. Goroutines sharing one *Shared
// share the same open file, so the file lock alone does not order them.
func (s *Shared) lock() error {
	s.pageMu.Lock()
	if err := unix.Flock(int(s.page.Fd()), unix.LOCK_EX); err != nil {
		s.pageMu.Unlock()
		return err
	}
	return nil
}

func (s *Shared) unlock() error {
	defer s.pageMu.Unlock()
	return unix.Flock(int(s.page.Fd()), unix.LOCK_UN)
}

// Send appends t to the page under the file lock and rings the doorbell.
func (s *Shared) Send(t Token) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.lock(); err != nil {
		return fmt.Errorf("notify: lock: %w", err)
	}
	n := binary.LittleEndian.Uint32(s.data[0:4])
	if n >= pageSlots {
		_ = s.unlock()
		return ErrFull
	}
	off := slotBase + 8*int(n)
	binary.LittleEndian.PutUint64(s.data[off:off+8], uint64(t))
	binary.LittleEndian.PutUint32(s.data[0:4], n+1)
	if err := s.unlock(); err != nil {
		return fmt.Errorf("notify: unlock: %w", err)
	}
	if _, err := s.bell.Write([]byte{1}); err != nil {
		return fmt.Errorf("notify: ring: %w", err)
	}
	return nil
}

// Receive waits on the doorbell, then drains the page under the lock.
func (s *Shared) Receive(ctx context.Context) ([]Token, error) {
	var buf [64]byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = s.bell.SetReadDeadline(time.Now().Add(pollInterval))
		_, err := s.bell.Read(buf[:])
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			continue
		case errors.Is(err, os.ErrClosed):
			return nil, ErrClosed
		default:
			return nil, fmt.Errorf("notify: doorbell: %w", err)
		}

		toks, err := s.drain()
		if err != nil || len(toks) > 0 {
			return toks, err
		}
		// An earlier drain already took the tokens this ring announced.
	}
}

func (s *Shared) drain() ([]Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.lock(); err != nil {
		return nil, fmt.Errorf("notify: lock: %w", err)
	}
	n := binary.LittleEndian.Uint32(s.data[0:4])
	n = min(n, pageSlots)
	out := make([]Token, 0, n)
	for i := 0; i < int(n); i++ {
		off := slotBase + 8*i
		out = append(out, Token(binary.LittleEndian.Uint64(s.data[off:off+8])))
	}
	binary.LittleEndian.PutUint32(s.data[0:4], 0)
	if err := s.unlock(); err != nil {
		return out, fmt.Errorf("notify: unlock: %w", err)
	}
	return out, nil
}

// Close detaches from the channel; the owner also removes its files.
func (s *Shared) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.bell.Close() // unblocks a pending Receive
		s.mu.Lock()
		s.closed = true
		err = errors.Join(unix.Munmap(s.data), s.page.Close())
		s.data = nil
		s.mu.Unlock()
		if s.owner {
			_ = os.Remove(s.pagePath)
			_ = os.Remove(s.bellPath)
		}
	})
	return err
}
