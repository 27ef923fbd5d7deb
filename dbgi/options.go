package dbgi

import (
	"log/slog"

	"github.com/IvanBrykalov/dicache/convert"
	"github.com/IvanBrykalov/dicache/notify"
	"github.com/IvanBrykalov/dicache/rdi"
)

// Options configures a Cache. Zero values are safe; New applies defaults:
//   - Slots <= 0        => 1024 slots per table
//   - Stripes <= 0      => auto (≈ 2*GOMAXPROCS, power of two)
//   - Lanes <= 0        => GOMAXPROCS lanes per Tick
//   - ThreadBudget <= 0 => max(1, NumCPU/2)
//   - NativeExt == ""   => ".rdi"
//   - nil Parser        => rdi.Reader
//   - nil Logger        => discard
//   - nil Metrics       => NoopMetrics
type Options struct {
	// Slots is the hash slot count of each of the three tables.
	Slots int
	// Stripes is the lock stripe count shared by each table's slots.
	Stripes int

	// Lanes is the lane count Tick runs with. TickLane ignores it.
	Lanes int

	// ThreadBudget caps the summed thread counts of running conversions.
	ThreadBudget int

	// NativeExt replaces the source extension to form the converted path.
	NativeExt string

	// Parser reads converted files.
	Parser rdi.Parser

	// Launcher starts conversions. Nil disables conversion: stale keys
	// complete with whatever the target file holds.
	Launcher convert.Launcher

	// Signal receives completion tokens from converters. Nil means running
	// conversions are joined by polling their exit status only.
	Signal notify.Channel

	// SignalPID is the pid packed into completion tokens (0 = os.Getpid()).
	SignalPID uint32

	Logger  *slog.Logger
	Metrics Metrics
}
