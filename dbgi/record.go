package dbgi

import (
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/dicache/internal/mapfile"
	"github.com/IvanBrykalov/dicache/internal/stripe"
	"github.com/IvanBrykalov/dicache/rdi"
)

type priority int

const (
	prioHigh priority = iota
	prioLow
	prioCount
)

// record is the cache entry for one key.
//
// refcount and the payload are guarded by the stripe lock: payload fields are
// written exactly once, under the write lock, before completed is
// incremented. Readers that observe completed > 0 under a read lock may use
// the payload until their access touch is released.
type record struct {
	next *record
	key  Key
	st   *stripe.Stripe

	refcount  uint64
	working   atomic.Uint32 // > 0: a load task owns this key
	completed atomic.Uint32 // > 0: data is committed
	requested [prioCount]atomic.Uint32
	touches   atomic.Int64

	data *loaded
}

func (r *record) reset() {
	r.next = nil
	r.key = Key{}
	r.st = nil
	r.refcount = 0
	r.working.Store(0)
	r.completed.Store(0)
	for i := range r.requested {
		r.requested[i].Store(0)
	}
	r.touches.Store(0)
	r.data = nil
}

// loaded owns the resources behind one committed table.
type loaded struct {
	view  *mapfile.View
	owned []byte // decompressed image, when the file was compressed
	table rdi.Table
}

func (l *loaded) release() error {
	if l == nil {
		return nil
	}
	l.table = rdi.Nil
	l.owned = nil
	return l.view.Close()
}

type recordTable struct {
	set   *stripe.Set
	heads []*record
	free  []stripe.FreeList[record]
}

func newRecordTable(slots, stripes int) *recordTable {
	set := stripe.New(slots, stripes)
	return &recordTable{
		set:   set,
		heads: make([]*record, set.Slots()),
		free:  make([]stripe.FreeList[record], set.Stripes()),
	}
}

func (t *recordTable) slotOf(k Key) (int, *stripe.Stripe) {
	slot := t.set.Slot(k.hash())
	return slot, t.set.For(slot)
}

// find requires the slot's stripe lock (read or write).
func (t *recordTable) find(slot int, k Key) *record {
	for r := t.heads[slot]; r != nil; r = r.next {
		if r.key == k {
			return r
		}
	}
	return nil
}

// insert requires the write lock.
func (t *recordTable) insert(slot int, k Key) *record {
	r := t.free[t.set.StripeIdx(slot)].Get()
	r.reset()
	r.key = k
	r.st = t.set.For(slot)
	r.next = t.heads[slot]
	t.heads[slot] = r
	return r
}

// remove unlinks r and recycles it; requires the write lock.
func (t *recordTable) remove(slot int, r *record) {
	for pp := &t.heads[slot]; *pp != nil; pp = &(*pp).next {
		if *pp == r {
			*pp = r.next
			break
		}
	}
	r.reset()
	t.free[t.set.StripeIdx(slot)].Put(r)
}

// Open implements Cache.
func (c *cache) Open(key Key) {
	slot, st := c.records.slotOf(key)
	st.Lock()
	r := c.records.find(slot, key)
	created := r == nil
	if created {
		r = c.records.insert(slot, key)
		r.requested[prioLow].Store(1)
	}
	r.refcount++
	st.Unlock()

	if created {
		c.requestLoad(prioLow, key)
	}
}

// Close implements Cache.
func (c *cache) Close(key Key, force bool) {
	slot, st := c.records.slotOf(key)
	st.Lock()
	r := c.records.find(slot, key)
	if r == nil || r.completed.Load() == 0 {
		st.Unlock()
		return
	}
	if force {
		r.refcount = 0
	} else if r.refcount > 0 {
		r.refcount--
	}
	if r.refcount > 0 {
		st.Unlock()
		return
	}

	// Wait out readers. The waiter is taken before the check so a touch
	// released in between still wakes us.
	for {
		w := st.Waiter()
		if r.touches.Load() == 0 {
			break
		}
		st.WaitW(w, time.Time{})
		if c.records.find(slot, key) != r || r.refcount > 0 {
			// Reopened or already evicted by a concurrent Close.
			st.Unlock()
			return
		}
	}

	data := r.data
	c.records.remove(slot, r)
	st.Unlock()

	c.loadCount.Add(-1)
	c.loadGen.Add(1)
	c.metrics.Evict()
	if err := data.release(); err != nil {
		c.log.Debug("release table", "key", key, "err", err)
	}
	c.log.Debug("evicted", "key", key)
}
