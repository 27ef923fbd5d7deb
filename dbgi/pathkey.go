package dbgi

import (
	"slices"
	"sync/atomic"

	"github.com/IvanBrykalov/dicache/internal/stripe"
	"github.com/IvanBrykalov/dicache/internal/util"
)

// pathKeyNode is one (path, min-timestamp, key) association. Nodes are
// never deleted; their count is bounded by the distinct generations seen.
type pathKeyNode struct {
	next     *pathKeyNode
	path     string
	minStamp uint64
	key      Key
	seq      uint64 // insertion order, used for newest-first scans
}

// pathKeyTable is a stripe-backed chained hash table of pathKeyNodes.
type pathKeyTable struct {
	set   *stripe.Set
	heads []*pathKeyNode
}

func newPathKeyTable(slots, stripes int) *pathKeyTable {
	set := stripe.New(slots, stripes)
	return &pathKeyTable{
		set:   set,
		heads: make([]*pathKeyNode, set.Slots()),
	}
}

func (t *pathKeyTable) slotOf(hash uint64) (int, *stripe.Stripe) {
	slot := t.set.Slot(hash)
	return slot, t.set.For(slot)
}

// push links a new node at the head of slot; the stripe must be write-locked.
func (t *pathKeyTable) push(slot int, path string, minStamp uint64, key Key, seq uint64) {
	t.heads[slot] = &pathKeyNode{next: t.heads[slot], path: path, minStamp: minStamp, key: key, seq: seq}
}

// pathKeys holds both directions of the path ↔ key mapping.
type pathKeys struct {
	byPath  *pathKeyTable
	byKey   *pathKeyTable
	seq     atomic.Uint64
	derived atomic.Uint64 // keys derived from file content
}

func newPathKeys(slots, stripes int) *pathKeys {
	return &pathKeys{
		byPath: newPathKeyTable(slots, stripes),
		byKey:  newPathKeyTable(slots, stripes),
	}
}

// reusable reports whether a node derived with bound n.minStamp can answer a
// query for minStamp: the stored bound must be at least as strict.
func reusable(n *pathKeyNode, path string, minStamp uint64) bool {
	return n.path == path && minStamp <= n.minStamp
}

// keyFor returns the key for (path, minStamp), deriving and recording it on
// a miss. File I/O happens outside every lock.
func (p *pathKeys) keyFor(path string, minStamp uint64) Key {
	t := p.byPath
	slot, st := t.slotOf(util.HashString(path))

	st.RLock()
	for n := t.heads[slot]; n != nil; n = n.next {
		if reusable(n, path, minStamp) {
			k := n.key
			st.RUnlock()
			return k
		}
	}
	st.RUnlock()

	p.derived.Add(1)
	key := deriveKey(path, minStamp)

	st.Lock()
	found := false
	for n := t.heads[slot]; n != nil; n = n.next {
		if reusable(n, path, minStamp) {
			key, found = n.key, true
			break
		}
	}
	if !found {
		t.push(slot, path, minStamp, key, 0)
	}
	st.Unlock()

	p.remember(key, path, minStamp)
	return key
}

// remember records key → (path, minStamp) unless key is already known.
func (p *pathKeys) remember(key Key, path string, minStamp uint64) {
	t := p.byKey
	slot, st := t.slotOf(key.hash())
	st.Lock()
	defer st.Unlock()
	for n := t.heads[slot]; n != nil; n = n.next {
		if n.key == key {
			return
		}
	}
	t.push(slot, path, minStamp, key, p.seq.Add(1))
}

// pathFor recovers the path and bound a key was derived from.
func (p *pathKeys) pathFor(key Key) (path string, minStamp uint64, ok bool) {
	t := p.byKey
	slot, st := t.slotOf(key.hash())
	st.RLock()
	defer st.RUnlock()
	for n := t.heads[slot]; n != nil; n = n.next {
		if n.key == key {
			return n.path, n.minStamp, true
		}
	}
	return "", 0, false
}

type keyEntry struct {
	key  Key
	path string
	seq  uint64
}

// scan walks the reverse table one slot at a time and returns the entries
// accepted by keep, newest first.
func (p *pathKeys) scan(keep func(n *pathKeyNode) bool) []keyEntry {
	t := p.byKey
	var out []keyEntry
	for slot := range t.heads {
		st := t.set.For(slot)
		st.RLock()
		for n := t.heads[slot]; n != nil; n = n.next {
			if keep == nil || keep(n) {
				out = append(out, keyEntry{key: n.key, path: n.path, seq: n.seq})
			}
		}
		st.RUnlock()
	}
	slices.SortFunc(out, func(a, b keyEntry) int {
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})
	return out
}

// keysForPath lists every key derived from path, most recently derived first.
func (p *pathKeys) keysForPath(path string) []Key {
	ents := p.scan(func(n *pathKeyNode) bool { return n.path == path })
	keys := make([]Key, len(ents))
	for i, e := range ents {
		keys[i] = e.key
	}
	return keys
}
