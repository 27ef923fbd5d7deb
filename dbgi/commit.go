package dbgi

import (
	"github.com/IvanBrykalov/dicache/internal/mapfile"
	"github.com/IvanBrykalov/dicache/rdi"
)

// load maps and parses path. It never fails: any problem yields a loaded
// value holding rdi.Nil.
func (c *cache) load(path string) *loaded {
	l := &loaded{table: rdi.Nil}
	if path == "" {
		return l
	}
	v, err := mapfile.Open(path)
	if err != nil {
		c.log.Debug("open converted file", "path", path, "err", err)
		return l
	}
	l.view = v

	p := c.opt.Parser
	data := v.Bytes()
	st, t := p.Parse(data)
	if st != rdi.StatusGood {
		c.log.Warn("parse failed", "path", path, "status", st)
		return l
	}
	if t.DecompressedSize() > uint64(len(data)) {
		raw, err := p.Decompress(t, data)
		if err != nil {
			c.log.Warn("decompress failed", "path", path, "err", err)
			return l
		}
		if st, t = p.Parse(raw); st != rdi.StatusGood {
			c.log.Warn("parse failed after decompression", "path", path, "status", st)
			return l
		}
		l.owned = raw
	}
	l.table = t
	return l
}

// commit parses one ready file and publishes it into the key's record,
// waking blocked lookups. Data for a record that disappeared is dropped.
func (c *cache) commit(it readyItem) {
	data := c.load(it.path)
	ok := !data.table.IsNil()

	slot, st := c.records.slotOf(it.key)
	st.Lock()
	r := c.records.find(slot, it.key)
	if r == nil || r.completed.Load() > 0 {
		st.Unlock()
		_ = data.release()
		return
	}
	r.data = data
	r.completed.Add(1)
	r.working.Store(0)
	if ok {
		c.loadGen.Add(1)
	}
	c.loadCount.Add(1)
	st.Broadcast()
	st.Unlock()

	c.metrics.Commit(ok)
}
