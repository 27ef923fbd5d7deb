package dbgi

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/IvanBrykalov/dicache/internal/util"
)

// Key is the 128-bit identity of one piece of debug information.
type Key struct {
	Lo, Hi uint64
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool { return k.Lo == 0 && k.Hi == 0 }

func (k Key) String() string { return fmt.Sprintf("%016x%016x", k.Hi, k.Lo) }

func (k Key) hash() uint64 { return util.HashPair(k.Lo, k.Hi) }

// Stamp converts t to the timestamp unit used throughout the package
// (Unix nanoseconds). Times before the epoch map to 0.
func Stamp(t time.Time) uint64 {
	ns := t.UnixNano()
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}

// MSF container headers. A file starting with either is a PDB.
var (
	msfMagic20 = []byte("Microsoft C/C++ program database 2.00\r\n\x1aJG\x00\x00")
	msfMagic70 = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")
)

const keySeed = 0x9e3779b97f4a7c15

// deriveKey computes the key for (path, minStamp). It is deterministic for
// identical inputs and unchanged file contents.
func deriveKey(path string, minStamp uint64) Key {
	if k, ok := keyFromContent(path, minStamp); ok {
		return k
	}
	return hashKey(path, minStamp)
}

// keyFromContent looks for a content identity inside recognized containers.
// Only files at least as new as minStamp are consulted.
func keyFromContent(path string, minStamp uint64) (Key, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Key{}, false
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || Stamp(st.ModTime()) < minStamp {
		return Key{}, false
	}
	var buf [64]byte
	n, _ := io.ReadFull(f, buf[:])
	if isMSF(buf[:n]) {
		return keyFromPDB(f)
	}
	return Key{}, false
}

func isMSF(prefix []byte) bool {
	return bytes.HasPrefix(prefix, msfMagic20) || bytes.HasPrefix(prefix, msfMagic70)
}

// keyFromPDB would read the GUID/age pair from the PDB info stream. PDB
// identity is not extracted; PDBs are keyed by the path hash like every
// other file, which keeps keys stable across converter versions.
func keyFromPDB(io.ReaderAt) (Key, bool) { return Key{}, false }

func hashKey(path string, minStamp uint64) Key {
	lo := util.SeededString(minStamp, path)
	hi := util.SeededString(lo^keySeed, path)
	return Key{Lo: lo, Hi: util.SeededUint64(hi, minStamp)}
}
