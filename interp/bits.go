package interp

import (
	"lukechampine.com/uint128"
)

// MaxScalarSize is the widest bit pattern a scalar can carry, in bytes.
// 128 bits covers every primitive the evaluator produces, including
// 128-bit integer constants.
const MaxScalarSize = 16

// Truncate zeroes every bit of v above the given width. A width of zero
// yields zero; widths of MaxScalarSize or more return v unchanged.
func Truncate(v uint128.Uint128, size uint8) uint128.Uint128 {
	if size >= MaxScalarSize {
		return v
	}
	shift := uint(128) - uint(size)*8
	return v.Lsh(shift).Rsh(shift)
}

// SignExtend interprets the low size*8 bits of v as a two's-complement
// integer and extends its sign bit through the full 128-bit pattern.
// A width of zero yields zero; widths of MaxScalarSize or more return v
// unchanged.
func SignExtend(v uint128.Uint128, size uint8) uint128.Uint128 {
	if size == 0 {
		return uint128.Zero
	}
	if size >= MaxScalarSize {
		return v
	}
	bits := uint(size) * 8
	t := Truncate(v, size)
	if t.Rsh(bits-1).Lo&1 == 0 {
		return t
	}
	return t.Or(uint128.Max.Lsh(bits))
}

// fromInt64 widens n to a 128-bit two's-complement pattern.
func fromInt64(n int64) uint128.Uint128 {
	if n < 0 {
		return uint128.New(uint64(n), ^uint64(0))
	}
	return uint128.From64(uint64(n))
}

// fitsUnsigned reports whether v survives truncation to the given width.
func fitsUnsigned(v uint128.Uint128, size uint8) bool {
	return Truncate(v, size).Equals(v)
}

// fitsSigned reports whether the signed value encoded in v survives a
// truncate-then-extend round trip at the given width.
func fitsSigned(v uint128.Uint128, size uint8) bool {
	return SignExtend(Truncate(v, size), size).Equals(v)
}
