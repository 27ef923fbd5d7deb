// Package rdi defines the boundary between the debug-info cache and the
// parser of the converted ("native") debug-info format, and ships a small
// reference implementation of that format.
//
// The cache only relies on the Parser and Table interfaces; any parser that
// can identify a header, report its encoding version and decompress a
// compressed payload can be plugged in through dbgi.Options.
package rdi

// Section selects one element array of a parsed table.
type Section uint8

const (
	SectionProcedures Section = iota
	SectionGlobalVariables
	SectionThreadVariables
	SectionConstants
	SectionUDTs
	SectionTypes
	SectionFilePathNodes

	sectionCount
)

// String returns a stable name for the section.
func (s Section) String() string {
	switch s {
	case SectionProcedures:
		return "procedures"
	case SectionGlobalVariables:
		return "global_variables"
	case SectionThreadVariables:
		return "thread_variables"
	case SectionConstants:
		return "constants"
	case SectionUDTs:
		return "udts"
	case SectionTypes:
		return "types"
	case SectionFilePathNodes:
		return "file_path_nodes"
	default:
		return "unknown"
	}
}

// NameMap selects one name → element index map of a parsed table.
type NameMap uint8

const (
	NameMapGlobals NameMap = iota
	NameMapThreadLocals
	NameMapConstants
	NameMapProcedures
	NameMapTypes

	nameMapCount
)

// Section returns the section whose element indices the map yields.
func (m NameMap) Section() Section {
	switch m {
	case NameMapGlobals:
		return SectionGlobalVariables
	case NameMapThreadLocals:
		return SectionThreadVariables
	case NameMapConstants:
		return SectionConstants
	case NameMapProcedures:
		return SectionProcedures
	default:
		return SectionTypes
	}
}

// Element is one entry of a section.
//
//   - Name is a string index (0 is the empty string).
//   - Parent links file path nodes: parent element index + 1, 0 for roots.
//   - Type points UDTs at their entry in SectionTypes.
type Element struct {
	_msgpack struct{} `msgpack:",as_array"`

	Name   uint32
	Parent uint32
	Type   uint32
}

// Status is the outcome of Parse.
type Status int

const (
	StatusGood Status = iota
	StatusHeaderMismatch
	StatusUnsupportedVersion
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusHeaderMismatch:
		return "header_mismatch"
	case StatusUnsupportedVersion:
		return "unsupported_version"
	default:
		return "malformed"
	}
}

// Table is a parsed, read-only debug-info table.
// Implementations must be safe for concurrent readers.
type Table interface {
	Count(s Section) int
	Element(s Section, i int) Element
	String(i uint32) string
	FindName(m NameMap, name string) (idx uint32, ok bool)

	// DecompressedSize is the size the backing buffer would have with its
	// payload decompressed. A value larger than the parsed buffer means the
	// table must be decompressed and reparsed before use.
	DecompressedSize() uint64

	// IsNil reports whether this is the empty sentinel.
	IsNil() bool
}

// Parser turns bytes into Tables.
type Parser interface {
	Parse(data []byte) (Status, Table)
	Decompress(t Table, data []byte) ([]byte, error)

	// Identify checks prefix (at least HeaderSize bytes) for the format's
	// magic and returns the header's encoding version.
	Identify(prefix []byte) (version uint32, ok bool)
	EncodingVersion() uint32
	HeaderSize() int
}

// Nil is the empty sentinel table returned in place of missing data.
var Nil Table = nilTable{}

type nilTable struct{}

func (nilTable) Count(Section) int                       { return 0 }
func (nilTable) Element(Section, int) Element            { return Element{} }
func (nilTable) String(uint32) string                    { return "" }
func (nilTable) FindName(NameMap, string) (uint32, bool) { return 0, false }
func (nilTable) DecompressedSize() uint64                { return 0 }
func (nilTable) IsNil() bool                             { return true }
