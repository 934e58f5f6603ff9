// Package backplane implements the Hermes shared-memory segment: a named,
// fixed-layout region holding a header, a signal directory, a string
// table, and a contiguous value region. All other core components read
// and write signal values through it.
package backplane

// Wire format constants for the segment header, per spec §4.1.
const (
	// Magic is the segment's magic constant, "HERM" little-endian.
	Magic uint32 = 0x4845524D
	// Version is the current segment layout version.
	Version uint32 = 3

	headerSize   = 64
	dirEntrySize = 12
	// valueSlotStride is the fixed byte stride between value-region slots.
	// Every slot reserves a full 8-byte stride regardless of its native
	// width, so slot offsets are always 8-byte aligned as required, even
	// though narrower types (F32, I32, BOOL) only occupy a prefix of it.
	valueSlotStride = 8
	// valueRegionAlign is the alignment of the value region's start offset.
	valueRegionAlign = 64
)

// Header field byte offsets within the fixed 64-byte header.
const (
	offMagic        = 0
	offVersion      = 4
	offFrame        = 8
	offTimeNs       = 16
	offSignalCount  = 24
	offReserved     = 28
	reservedPadding = headerSize - offReserved
)

// DataType identifies a signal's scalar storage type.
type DataType uint8

// The enumerated scalar signal types, per spec §3.1.
const (
	F64 DataType = iota
	F32
	I64
	I32
	Bool // stored as a single byte, per spec "BOOL-as-u8"
)

// String returns a human-readable name for the data type.
func (t DataType) String() string {
	switch t {
	case F64:
		return "f64"
	case F32:
		return "f32"
	case I64:
		return "i64"
	case I32:
		return "i32"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// Size returns the native byte width of the type.
func (t DataType) Size() int {
	switch t {
	case F64, I64:
		return 8
	case F32, I32:
		return 4
	case Bool:
		return 1
	default:
		return 0
	}
}

// Flag bits for a signal, per spec §3.1.
const (
	// Writable marks a signal as settable by callers other than its
	// owning module (e.g. a wire destination, a test driver).
	Writable uint8 = 1 << iota
	// Published marks a signal as eligible for telemetry subscription.
	Published
)

// SignalSpec describes one signal to be materialized into a segment at
// construction time. It is the unit the registry and segment builder
// consume.
type SignalSpec struct {
	// Name is the qualified name ("<module>.<local>").
	Name string
	// Type is the signal's declared scalar type.
	Type DataType
	// Flags is a bitwise-OR of Writable/Published.
	Flags uint8
	// Unit is an optional unit string (e.g. "m/s"), informational only.
	Unit string
	// Description is an optional human-readable description.
	Description string
}

// dirEntry mirrors the on-wire directory entry layout:
// (name_offset: u32, data_offset: u32, data_type: u8, flags: u8, pad: u16).
type dirEntry struct {
	nameOffset uint32
	dataOffset uint32
	dataType   DataType
	flags      uint8
}

// slot describes a resolved signal slot after attach: its directory
// metadata plus its name, cached for O(1) lookups.
type slot struct {
	name       string
	dataOffset int
	dataType   DataType
	flags      uint8
}
