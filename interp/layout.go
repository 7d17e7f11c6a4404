package interp

import (
	"encoding/binary"
	"math/bits"
)

// Endian identifies the byte order of a target.
type Endian uint8

const (
	LittleEndian Endian = iota
	BigEndian
)

// String returns the conventional name of the byte order.
func (e Endian) String() string {
	switch e {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return "unknown"
	}
}

// byteOrder maps an Endian onto the encoding/binary order that realizes it.
func (e Endian) byteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// DataLayout describes the properties of a compilation target that pointer
// arithmetic depends on. Address arithmetic is modular in the target's
// address space: all results are reduced to PointerSize*8 bits.
type DataLayout struct {
	// PointerSize is the width of a target address in bytes (2, 4, or 8).
	PointerSize uint8
	// Endian is the byte order constants are materialized in.
	Endian Endian
}

// HasDataLayout is the capability interface through which value operations
// reach target layout facts. DataLayout implements it directly, so a bare
// layout can be passed wherever the capability is required.
type HasDataLayout interface {
	DataLayout() DataLayout
}

// DataLayout returns dl itself, satisfying HasDataLayout.
func (dl DataLayout) DataLayout() DataLayout {
	return dl
}

// addressMask returns the all-ones pattern for the target address width.
func (dl DataLayout) addressMask() uint64 {
	b := uint(dl.PointerSize) * 8
	if b >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << b) - 1
}

// MaxAddress returns the largest representable target address.
func (dl DataLayout) MaxAddress() uint64 {
	return dl.addressMask()
}

// TruncateToPointer reduces v into the target address space.
func (dl DataLayout) TruncateToPointer(v uint64) uint64 {
	return v & dl.addressMask()
}

// ---------------------------------------------------------------------------
// Address arithmetic
//
// All forms compute in the target address space. The inputs must already be
// valid target addresses; the overflowing forms report whether the exact
// mathematical result left [0, MaxAddress].
// ---------------------------------------------------------------------------

// OverflowingOffset adds an unsigned byte count to an address, wrapping in
// the target address space. The second result reports overflow.
func (dl DataLayout) OverflowingOffset(val, add uint64) (uint64, bool) {
	sum, carry := bits.Add64(val, add, 0)
	wrapped := sum & dl.addressMask()
	return wrapped, carry != 0 || wrapped != sum
}

// OverflowingSignedOffset adds a signed byte count to an address, wrapping
// in the target address space. The second result reports overflow in either
// direction.
func (dl DataLayout) OverflowingSignedOffset(val uint64, i int64) (uint64, bool) {
	if i >= 0 {
		return dl.OverflowingOffset(val, uint64(i))
	}
	mag := uint64(-(i + 1)) + 1
	wrapped := (val - mag) & dl.addressMask()
	return wrapped, mag > val
}

// Offset adds an unsigned byte count to an address, failing with
// ErrPointerArithmeticOverflow if the result leaves the address space.
func (dl DataLayout) Offset(val, add uint64) (uint64, error) {
	res, over := dl.OverflowingOffset(val, add)
	if over {
		return 0, ErrPointerArithmeticOverflow
	}
	return res, nil
}

// SignedOffset adds a signed byte count to an address, failing with
// ErrPointerArithmeticOverflow if the result leaves the address space.
func (dl DataLayout) SignedOffset(val uint64, i int64) (uint64, error) {
	res, over := dl.OverflowingSignedOffset(val, i)
	if over {
		return 0, ErrPointerArithmeticOverflow
	}
	return res, nil
}

// WrappingOffset adds an unsigned byte count to an address modulo the
// target address space.
func (dl DataLayout) WrappingOffset(val, add uint64) uint64 {
	res, _ := dl.OverflowingOffset(val, add)
	return res
}

// WrappingSignedOffset adds a signed byte count to an address modulo the
// target address space.
func (dl DataLayout) WrappingSignedOffset(val uint64, i int64) uint64 {
	res, _ := dl.OverflowingSignedOffset(val, i)
	return res
}
