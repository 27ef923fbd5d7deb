package rdi

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Builder assembles a reference-format table.
type Builder struct {
	p    payload
	strs map[string]uint32
}

// NewBuilder returns an empty builder. String index 0 is the empty string.
func NewBuilder() *Builder {
	b := &Builder{
		p: payload{
			Strings:  []string{""},
			Sections: make([][]Element, sectionCount),
			NameMaps: make([]map[string]uint32, nameMapCount),
		},
		strs: map[string]uint32{"": 0},
	}
	for i := range b.p.NameMaps {
		b.p.NameMaps[i] = make(map[string]uint32)
	}
	return b
}

func (b *Builder) intern(s string) uint32 {
	if i, ok := b.strs[s]; ok {
		return i
	}
	i := uint32(len(b.p.Strings))
	b.p.Strings = append(b.p.Strings, s)
	b.strs[s] = i
	return i
}

func (b *Builder) push(s Section, e Element) uint32 {
	idx := uint32(len(b.p.Sections[s]))
	b.p.Sections[s] = append(b.p.Sections[s], e)
	return idx
}

func (b *Builder) index(m NameMap, name string, idx uint32) {
	if _, dup := b.p.NameMaps[m][name]; !dup {
		b.p.NameMaps[m][name] = idx
	}
}

// Add appends a named element to s and registers it in the matching name
// map. Use AddUDT and AddPath for those sections.
func (b *Builder) Add(s Section, name string) uint32 {
	idx := b.push(s, Element{Name: b.intern(name)})
	switch s {
	case SectionProcedures:
		b.index(NameMapProcedures, name, idx)
	case SectionGlobalVariables:
		b.index(NameMapGlobals, name, idx)
	case SectionThreadVariables:
		b.index(NameMapThreadLocals, name, idx)
	case SectionConstants:
		b.index(NameMapConstants, name, idx)
	case SectionTypes:
		b.index(NameMapTypes, name, idx)
	}
	return idx
}

// AddUDT adds a named type plus a UDT entry referring to it.
func (b *Builder) AddUDT(name string) uint32 {
	ti := b.Add(SectionTypes, name)
	return b.push(SectionUDTs, Element{Type: ti})
}

// AddPath adds a file path node under parent (parent index + 1; 0 = root).
func (b *Builder) AddPath(parent uint32, name string) uint32 {
	return b.push(SectionFilePathNodes, Element{Name: b.intern(name), Parent: parent})
}

// Bytes encodes the table. With compress set the payload is zstd compressed,
// unless compression would not shrink it.
func (b *Builder) Bytes(compress bool) ([]byte, error) {
	raw, err := msgpack.Marshal(&b.p)
	if err != nil {
		return nil, err
	}
	dsize := uint64(headerSize + len(raw))
	h := header{magic: Magic, version: Version, dsize: dsize}
	body := raw
	if compress {
		if z := encoder().EncodeAll(raw, nil); len(z) < len(raw) {
			body = z
			h.flags |= flagCompressed
		}
	}
	out := make([]byte, headerSize+len(body))
	putHeader(out, h)
	copy(out[headerSize:], body)
	return out, nil
}

// Encode writes Bytes(compress) to w.
func (b *Builder) Encode(w io.Writer, compress bool) error {
	data, err := b.Bytes(compress)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
