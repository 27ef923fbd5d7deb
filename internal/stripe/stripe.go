// Package stripe implements the lock striping shared by the debug-info hash
// tables: a fixed array of slots maps onto far fewer RW-locked stripes.
//
// Each stripe carries a wake channel, which is the timed condition variable
// used by blocking lookups and evictions, and the tables keep a per-stripe
// free list so node memory is recycled within the stripe.
package stripe

import (
	"sync"
	"time"

	"github.com/IvanBrykalov/dicache/internal/util"
)

// Stripe is one lock unit shared by many slots.
type Stripe struct {
	sync.RWMutex

	wakeMu sync.Mutex
	wake   chan struct{} // closed and replaced by Broadcast

	_ util.CacheLinePad
}

// Waiter returns a channel that is closed by the next Broadcast.
//
// To avoid lost wakeups, obtain the waiter before checking the condition
// being waited on, then release the stripe lock and block on the channel.
func (s *Stripe) Waiter() <-chan struct{} {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()
	if s.wake == nil {
		s.wake = make(chan struct{})
	}
	return s.wake
}

// Broadcast wakes every goroutine blocked on a previously obtained Waiter.
// It may be called with or without the stripe lock held.
func (s *Stripe) Broadcast() {
	s.wakeMu.Lock()
	if s.wake != nil {
		close(s.wake)
		s.wake = nil
	}
	s.wakeMu.Unlock()
}

// WaitR releases a read lock, waits for w or the deadline, then re-acquires
// the read lock. A zero deadline waits on w alone. It reports whether the
// wait ended by wakeup rather than by the deadline.
func (s *Stripe) WaitR(w <-chan struct{}, deadline time.Time) bool {
	s.RUnlock()
	defer s.RLock()
	return wait(w, deadline)
}

// WaitW is WaitR for a write lock holder.
func (s *Stripe) WaitW(w <-chan struct{}, deadline time.Time) bool {
	s.Unlock()
	defer s.Lock()
	return wait(w, deadline)
}

func wait(w <-chan struct{}, deadline time.Time) bool {
	if deadline.IsZero() {
		<-w
		return true
	}
	d := time.Until(deadline)
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w:
		return true
	case <-t.C:
		return false
	}
}

// Set is a fixed slot array striped over a smaller number of Stripes.
type Set struct {
	slots   int
	stripes []Stripe
}

// New builds a Set. slots and stripes are clamped to at least 1, and
// stripes never exceeds slots.
func New(slots, stripes int) *Set {
	if slots < 1 {
		slots = 1
	}
	if stripes < 1 {
		stripes = 1
	}
	if stripes > slots {
		stripes = slots
	}
	return &Set{slots: slots, stripes: make([]Stripe, stripes)}
}

// Slots returns the slot count.
func (s *Set) Slots() int { return s.slots }

// Stripes returns the stripe count.
func (s *Set) Stripes() int { return len(s.stripes) }

// Slot maps a hash to a slot index.
func (s *Set) Slot(hash uint64) int { return util.SlotIndex(hash, s.slots) }

// StripeIdx returns the stripe index owning slot.
func (s *Set) StripeIdx(slot int) int { return util.StripeIndex(slot, len(s.stripes)) }

// For returns the stripe owning slot. The pointer is stable for the Set's life.
func (s *Set) For(slot int) *Stripe { return &s.stripes[s.StripeIdx(slot)] }

// FreeList recycles nodes within one stripe. It is not synchronized; guard
// it with the owning stripe's write lock.
type FreeList[T any] struct {
	items []*T
}

// Get pops a recycled node or allocates a fresh zero one.
func (f *FreeList[T]) Get() *T {
	n := len(f.items)
	if n == 0 {
		return new(T)
	}
	x := f.items[n-1]
	f.items[n-1] = nil
	f.items = f.items[:n-1]
	return x
}

// Put keeps x for reuse. Callers reset x before putting or after getting;
// nodes holding atomics cannot be zeroed by assignment.
func (f *FreeList[T]) Put(x *T) {
	f.items = append(f.items, x)
}

// Len returns the number of recycled nodes held.
func (f *FreeList[T]) Len() int { return len(f.items) }
