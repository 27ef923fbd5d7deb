package rdi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Reference format header (little endian):
//
//	0  magic            u64
//	8  version          u32
//	12 flags            u32
//	16 decompressed sz  u64
//
// followed by a msgpack payload, zstd compressed when flagCompressed is set.
const (
	Magic      uint64 = 0x004C425449474244 // "DBGITBL\x00"
	Version    uint32 = 3
	headerSize        = 24

	flagCompressed uint32 = 1 << 0

	// MaxDecompressedSize bounds the image a compressed header may claim.
	MaxDecompressedSize = 1 << 31
	// decompressHint caps the up-front allocation; DecodeAll grows past it.
	decompressHint = 64 << 20
)

// ErrNotCompressed is returned by Decompress for tables stored raw.
var ErrNotCompressed = errors.New("rdi: table is not compressed")

var (
	zdecOnce sync.Once
	zdec     *zstd.Decoder
	zencOnce sync.Once
	zenc     *zstd.Encoder
)

// zstd encoders/decoders are safe for concurrent EncodeAll/DecodeAll.
func decoder() *zstd.Decoder {
	zdecOnce.Do(func() {
		d, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
		if err != nil {
			panic(fmt.Sprintf("rdi: zstd decoder: %v", err))
		}
		zdec = d
	})
	return zdec
}

func encoder() *zstd.Encoder {
	zencOnce.Do(func() {
		e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("rdi: zstd encoder: %v", err))
		}
		zenc = e
	})
	return zenc
}

type payload struct {
	Strings  []string            `msgpack:"s"`
	Sections [][]Element         `msgpack:"e"`
	NameMaps []map[string]uint32 `msgpack:"n"`
}

type header struct {
	magic   uint64
	version uint32
	flags   uint32
	dsize   uint64
}

func readHeader(b []byte) (header, bool) {
	if len(b) < headerSize {
		return header{}, false
	}
	return header{
		magic:   binary.LittleEndian.Uint64(b[0:8]),
		version: binary.LittleEndian.Uint32(b[8:12]),
		flags:   binary.LittleEndian.Uint32(b[12:16]),
		dsize:   binary.LittleEndian.Uint64(b[16:24]),
	}, true
}

func putHeader(b []byte, h header) {
	binary.LittleEndian.PutUint64(b[0:8], h.magic)
	binary.LittleEndian.PutUint32(b[8:12], h.version)
	binary.LittleEndian.PutUint32(b[12:16], h.flags)
	binary.LittleEndian.PutUint64(b[16:24], h.dsize)
}

// Reader is the Parser for the reference format.
type Reader struct{}

var _ Parser = Reader{}

func (Reader) HeaderSize() int         { return headerSize }
func (Reader) EncodingVersion() uint32 { return Version }

func (Reader) Identify(prefix []byte) (uint32, bool) {
	h, ok := readHeader(prefix)
	if !ok || h.magic != Magic {
		return 0, false
	}
	return h.version, true
}

// Parse decodes data. A compressed file parses to a table that only reports
// its DecompressedSize; callers decompress and parse again. A compressed
// header whose size is not larger than the file itself, or is outside
// [headerSize, MaxDecompressedSize], is malformed.
func (Reader) Parse(data []byte) (Status, Table) {
	h, ok := readHeader(data)
	if !ok || h.magic != Magic {
		return StatusHeaderMismatch, Nil
	}
	if h.version != Version {
		return StatusUnsupportedVersion, Nil
	}
	t := &table{dsize: uint64(len(data))}
	if h.flags&flagCompressed != 0 {
		if h.dsize < headerSize || h.dsize > MaxDecompressedSize || h.dsize <= uint64(len(data)) {
			return StatusMalformed, Nil
		}
		t.dsize = h.dsize
		return StatusGood, t
	}
	var p payload
	if err := msgpack.Unmarshal(data[headerSize:], &p); err != nil {
		return StatusMalformed, Nil
	}
	if !p.valid() {
		return StatusMalformed, Nil
	}
	t.p = p
	return StatusGood, t
}

// Decompress returns the raw (uncompressed) file image for a compressed table.
func (Reader) Decompress(t Table, data []byte) ([]byte, error) {
	h, ok := readHeader(data)
	if !ok || h.magic != Magic {
		return nil, fmt.Errorf("rdi: decompress: bad header")
	}
	if h.flags&flagCompressed == 0 {
		return nil, ErrNotCompressed
	}
	want := t.DecompressedSize()
	if want < headerSize || want > MaxDecompressedSize {
		return nil, fmt.Errorf("rdi: decompress: size %d out of range", want)
	}
	out := make([]byte, headerSize, min(want, decompressHint))
	out, err := decoder().DecodeAll(data[headerSize:], out)
	if err != nil {
		return nil, fmt.Errorf("rdi: decompress: %w", err)
	}
	if uint64(len(out)) != want {
		return nil, fmt.Errorf("rdi: decompress: got %d bytes, header says %d", len(out), want)
	}
	h.flags &^= flagCompressed
	h.dsize = uint64(len(out))
	putHeader(out, h)
	return out, nil
}

func (p *payload) valid() bool {
	if len(p.Sections) > int(sectionCount) || len(p.NameMaps) > int(nameMapCount) {
		return false
	}
	n := uint32(len(p.Strings))
	for _, sec := range p.Sections {
		for _, e := range sec {
			if e.Name >= n && !(e.Name == 0 && n == 0) {
				return false
			}
		}
	}
	return true
}

type table struct {
	p     payload
	dsize uint64
}

func (t *table) Count(s Section) int {
	if int(s) >= len(t.p.Sections) {
		return 0
	}
	return len(t.p.Sections[s])
}

func (t *table) Element(s Section, i int) Element {
	if int(s) >= len(t.p.Sections) || i < 0 || i >= len(t.p.Sections[s]) {
		return Element{}
	}
	return t.p.Sections[s][i]
}

func (t *table) String(i uint32) string {
	if int(i) >= len(t.p.Strings) {
		return ""
	}
	return t.p.Strings[i]
}

func (t *table) FindName(m NameMap, name string) (uint32, bool) {
	if int(m) >= len(t.p.NameMaps) {
		return 0, false
	}
	idx, ok := t.p.NameMaps[m][name]
	return idx, ok
}

func (t *table) DecompressedSize() uint64 { return t.dsize }
func (t *table) IsNil() bool              { return false }
