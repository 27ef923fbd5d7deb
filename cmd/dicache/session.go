package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/IvanBrykalov/dicache/convert"
	"github.com/IvanBrykalov/dicache/dbgi"
	"github.com/IvanBrykalov/dicache/notify"
)

// session is a cache with a set of opened modules and a running tick loop.
type session struct {
	cache dbgi.Cache
	paths []string
	keys  []dbgi.Key
	log   *slog.Logger

	cancel context.CancelFunc
	done   chan error
}

// openSession expands patterns, opens every match and starts ticking.
func openSession(cfg Config, log *slog.Logger, metrics dbgi.Metrics, patterns []string) (*session, error) {
	paths, err := expand(patterns)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files match %v", patterns)
	}

	opt := dbgi.Options{
		Slots:        cfg.Slots,
		Stripes:      cfg.Stripes,
		Lanes:        cfg.Lanes,
		ThreadBudget: cfg.ThreadBudget,
		NativeExt:    cfg.NativeExt,
		Logger:       log,
		Metrics:      metrics,
	}
	switch cfg.Converter {
	case "":
	case "self":
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate converter: %w", err)
		}
		opt.Launcher = &convert.Exec{Path: exe, SignalDir: cfg.SignalDir}
	default:
		opt.Launcher = &convert.Exec{Path: cfg.Converter, SignalDir: cfg.SignalDir}
	}
	if opt.Launcher != nil {
		ch, err := notify.Create(cfg.SignalDir, os.Getpid())
		switch {
		case err == nil:
			opt.Signal = ch
		case errors.Is(err, errors.ErrUnsupported):
			log.Debug("completion channel unavailable, polling converter exits")
		default:
			return nil, err
		}
	}

	c := dbgi.New(opt)
	minStamp := dbgi.Stamp(time.Now().Add(-cfg.MaxAge.Duration))
	s := &session{cache: c, paths: paths, log: log, done: make(chan error, 1)}
	for _, p := range paths {
		k := c.KeyFromPath(p, minStamp)
		c.Open(k)
		s.keys = append(s.keys, k)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { s.done <- c.Run(ctx, 100*time.Millisecond) }()
	return s, nil
}

// wait blocks until every opened module is loaded or d elapses.
func (s *session) wait(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	for i, k := range s.keys {
		acc := s.cache.OpenAccess()
		t := s.cache.Lookup(acc, k, true, deadline)
		acc.Close()
		if t.IsNil() && s.cache.Status(k) != dbgi.StatusLoaded {
			s.log.Warn("module not loaded in time", "path", s.paths[i], "key", k)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) close() error {
	s.cancel()
	err := <-s.done
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	for _, k := range s.keys {
		s.cache.Close(k, true)
	}
	return errors.Join(err, s.cache.Shutdown())
}

// expand resolves doublestar patterns; plain paths pass through.
func expand(patterns []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, pat := range patterns {
		matches, err := doublestar.FilepathGlob(pat)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pat, err)
		}
		if len(matches) == 0 && !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("pattern %q: %w", pat, doublestar.ErrBadPattern)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *session) moduleNames() map[dbgi.Key]string {
	m := make(map[dbgi.Key]string, len(s.keys))
	for i, k := range s.keys {
		m[k] = s.paths[i]
	}
	return m
}
