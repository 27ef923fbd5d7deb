// Package notify carries conversion-completion signals from converter
// subprocesses back to the process that launched them.
//
// A Token correlates one launch: the parent's pid in the high half and a
// caller-chosen tag in the low half. A subprocess Sends its token when it is
// done; the parent Receives batches of tokens on a dedicated goroutine and
// matches them against in-flight conversions, so it does not have to poll
// every child.
package notify

import (
	"context"
	"errors"
	"sync"
)

// Token identifies one conversion launch.
type Token uint64

// NewToken packs a parent pid and a launch tag.
func NewToken(pid, tag uint32) Token { return Token(uint64(pid)<<32 | uint64(tag)) }

// PID returns the parent process id half.
func (t Token) PID() uint32 { return uint32(t >> 32) }

// Tag returns the launch tag half.
func (t Token) Tag() uint32 { return uint32(t) }

var (
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("notify: channel closed")
	// ErrFull is returned by Send when the shared page has no free slot.
	ErrFull = errors.New("notify: channel full")
)

// Channel is a completion-signal transport.
type Channel interface {
	// Send posts t and rings the receiver.
	Send(t Token) error
	// Receive blocks until at least one token is available, ctx is done,
	// or the channel is closed, and returns every pending token.
	Receive(ctx context.Context) ([]Token, error)
	Close() error
}

// Local is an in-process Channel, used when converters run in-process and
// in tests.
type Local struct {
	mu     sync.Mutex
	toks   []Token
	bell   chan struct{}
	done   chan struct{}
	closer sync.Once
}

var _ Channel = (*Local)(nil)

// NewLocal returns an open in-process channel.
func NewLocal() *Local {
	return &Local{bell: make(chan struct{}, 1), done: make(chan struct{})}
}

func (l *Local) Send(t Token) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	l.mu.Lock()
	l.toks = append(l.toks, t)
	l.mu.Unlock()
	select {
	case l.bell <- struct{}{}:
	default:
	}
	return nil
}

func (l *Local) Receive(ctx context.Context) ([]Token, error) {
	for {
		l.mu.Lock()
		if len(l.toks) > 0 {
			out := l.toks
			l.toks = nil
			l.mu.Unlock()
			return out, nil
		}
		l.mu.Unlock()

		select {
		case <-l.bell:
		case <-l.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Local) Close() error {
	l.closer.Do(func() { close(l.done) })
	return nil
}
