package artifact

import "sync"

// shard holds a map plus an intrusive list ordered by last use
// (head = most recent).
type shard[V any] struct {
	mu   sync.Mutex
	m    map[string]*entry[V]
	head *entry[V]
	tail *entry[V]
}

type entry[V any] struct {
	key        string
	gen        uint64
	val        V
	evictAfter int64 // ns; 0 = never idle-evicted
	lastUse    int64 // UnixNano
	destroy    func(V)

	prev, next *entry[V]
}

func (e *entry[V]) expired(now int64) bool {
	return e.evictAfter > 0 && now-e.lastUse > e.evictAfter
}

func (e *entry[V]) release() {
	if e.destroy != nil {
		e.destroy(e.val)
	}
}

func (s *shard[V]) pushFront(e *entry[V]) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *shard[V]) moveToFront(e *entry[V]) {
	if s.head == e {
		return
	}
	s.detach(e)
	s.pushFront(e)
}

// unlink removes e from both the list and the map.
func (s *shard[V]) unlink(e *entry[V]) {
	s.detach(e)
	if s.m[e.key] == e {
		delete(s.m, e.key)
	}
}

func (s *shard[V]) detach(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.head == e {
		s.head = e.next
	}
	if s.tail == e {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
