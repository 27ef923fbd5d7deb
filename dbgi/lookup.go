package dbgi

import (
	"time"

	"github.com/IvanBrykalov/dicache/rdi"
)

// Lookup implements Cache.
//
// A nil acc registers no touch; the table is then only safe while the caller
// holds an Open reference and nobody force-closes the key.
func (c *cache) Lookup(acc *Access, key Key, highPriority bool, deadline time.Time) rdi.Table {
	slot, st := c.records.slotOf(key)
	st.RLock()
	defer st.RUnlock()

	for {
		w := st.Waiter()
		r := c.records.find(slot, key)
		if r == nil {
			c.metrics.Lookup(false)
			return rdi.Nil
		}
		if highPriority && r.requested[prioHigh].CompareAndSwap(0, 1) {
			c.requestLoad(prioHigh, key)
		}
		if r.completed.Load() > 0 {
			if acc != nil {
				acc.touch(r)
			}
			c.metrics.Lookup(!r.data.table.IsNil())
			return r.data.table
		}
		if deadline.IsZero() || !time.Now().Before(deadline) {
			c.metrics.Lookup(false)
			return rdi.Nil
		}
		st.WaitR(w, deadline)
	}
}

// Status implements Cache.
func (c *cache) Status(key Key) Status {
	slot, st := c.records.slotOf(key)
	st.RLock()
	defer st.RUnlock()
	r := c.records.find(slot, key)
	switch {
	case r == nil:
		return StatusAbsent
	case r.completed.Load() == 0:
		return StatusLoading
	default:
		return StatusLoaded
	}
}
