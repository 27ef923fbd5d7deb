// Package convert launches debug-info converters as subprocesses.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/IvanBrykalov/dicache/notify"
)

// Request describes one conversion.
type Request struct {
	Source  string       // PDB/DWARF/ELF/PE input
	Output  string       // native-format output path
	Threads int          // worker budget granted by the scheduler
	Token   notify.Token // echoed back over the completion channel
}

// Process is a running conversion.
type Process interface {
	// Exited reports, without blocking, whether the process has finished.
	Exited() bool
	// Wait blocks until the process finishes and returns its exit error.
	Wait() error
}

// Launcher starts conversions.
type Launcher interface {
	Launch(ctx context.Context, r Request) (Process, error)
}

// ErrNoBinary is returned when Exec has no converter path configured.
var ErrNoBinary = errors.New("convert: no converter binary configured")

// Exec launches an external converter binary:
//
//	<Path> <Args...> convert --out <output> --threads <n> --signal-pid <pid> --signal-code <tag> <source>
type Exec struct {
	Path string
	Args []string
	// SignalDir is forwarded as --signal-dir when non-empty.
	SignalDir string
}

var _ Launcher = (*Exec)(nil)

// Launch starts the converter. The returned Process reaps the child on a
// background goroutine so Exited never blocks.
func (e *Exec) Launch(ctx context.Context, r Request) (Process, error) {
	if e.Path == "" {
		return nil, ErrNoBinary
	}
	args := append([]string(nil), e.Args...)
	args = append(args,
		"convert",
		"--out", r.Output,
		"--threads", strconv.Itoa(max(r.Threads, 1)),
		"--signal-pid", strconv.FormatUint(uint64(r.Token.PID()), 10),
		"--signal-code", strconv.FormatUint(uint64(r.Token.Tag()), 10),
	)
	if e.SignalDir != "" {
		args = append(args, "--signal-dir", e.SignalDir)
	}
	args = append(args, r.Source)

	// Conversions outlive the launching tick; ctx only gates the start.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(e.Path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("convert: start %s: %w", e.Path, err)
	}
	p := &proc{done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type proc struct {
	done chan struct{}
	err  error
}

func (p *proc) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *proc) Wait() error {
	<-p.done
	return p.err
}

// Func adapts a function to Launcher, running it in-process on its own
// goroutine. Handy for embedding a converter and for tests.
type Func func(ctx context.Context, r Request) error

// Launch runs f asynchronously.
func (f Func) Launch(ctx context.Context, r Request) (Process, error) {
	p := &proc{done: make(chan struct{})}
	go func() {
		p.err = f(ctx, r)
		close(p.done)
	}()
	return p, nil
}
