package dbgi

import "sync"

// Access is a read scope. Every table returned by Lookup through an Access
// stays valid, and its record resident, until Close.
//
// An Access may be shared by goroutines but is usually owned by one.
type Access struct {
	mu   sync.Mutex
	recs []*record
}

// OpenAccess implements Cache.
func (c *cache) OpenAccess() *Access { return &Access{} }

func (a *Access) touch(r *record) {
	r.touches.Add(1)
	a.mu.Lock()
	a.recs = append(a.recs, r)
	a.mu.Unlock()
}

// Close releases every touch taken through a. Evictions blocked on those
// records are woken. Tables obtained through a must not be used afterwards.
func (a *Access) Close() {
	a.mu.Lock()
	recs := a.recs
	a.recs = nil
	a.mu.Unlock()
	for _, r := range recs {
		// Read the stripe first: once the count drops, r may be recycled.
		st := r.st
		if r.touches.Add(-1) == 0 {
			st.Broadcast()
		}
	}
}
