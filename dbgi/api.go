package dbgi

import (
	"context"
	"time"

	"github.com/IvanBrykalov/dicache/lane"
	"github.com/IvanBrykalov/dicache/rdi"
)

// Cache is the debug-info cache and conversion scheduler.
//
// Open/Close/Lookup and KeyFromPath are safe for concurrent use from any
// goroutine. Tick must be driven by one host loop at a time; TickLane must be
// called by every lane of the group.
type Cache interface {
	// KeyFromPath returns a stable key for path, valid for any later
	// min-timestamp bound it was derived with.
	KeyFromPath(path string, minStamp uint64) Key

	// Open takes a reference on key's record, creating it and queueing a
	// low-priority load on first use.
	Open(key Key)
	// Close drops a reference (all of them with force). The record is
	// removed once unreferenced and no Access still touches it. Records whose
	// load has not completed are left alone.
	Close(key Key, force bool)

	// OpenAccess starts a read scope for Lookup.
	OpenAccess() *Access
	// Lookup returns key's parsed table, waiting until deadline for a pending
	// load (zero deadline: no wait). It returns rdi.Nil when nothing is
	// available. highPriority bumps the key's load ahead of background work.
	Lookup(acc *Access, key Key, highPriority bool, deadline time.Time) rdi.Table
	// Status reports whether key has a record and whether it is loaded.
	Status(key Key) Status

	// Keys lists every derived key, most recently derived first.
	Keys() []Key
	// LoadGen advances whenever the set of loaded tables changes.
	LoadGen() uint64

	// Tick runs one scheduler step on Options.Lanes lanes.
	Tick(ctx context.Context)
	// TickLane runs one scheduler step as one lane of l's group.
	TickLane(ctx context.Context, l *lane.Lane)
	// Run ticks whenever work arrives or every interval until ctx is done.
	Run(ctx context.Context, interval time.Duration) error

	Stats() Stats
	// Shutdown stops the completion receiver and closes the signal channel.
	Shutdown() error
}

// Status is the load state of a key.
type Status uint8

const (
	StatusAbsent  Status = iota // no record
	StatusLoading               // record exists, load not committed
	StatusLoaded                // table committed (possibly rdi.Nil on failure)
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	default:
		return "absent"
	}
}

// Stats is a point-in-time summary.
type Stats struct {
	Loaded         int64  // committed records
	Generation     uint64 // LoadGen
	Conversions    int64  // running converter processes
	RunningThreads int64  // summed budgets of running conversions
	Tasks          int64  // in-flight load tasks
	ThreadBudget   int
	KeysDerived    uint64 // KeyFromPath misses that read file content
}
