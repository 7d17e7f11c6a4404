package interp

import (
	"fmt"
	"math"
	"unicode/utf8"

	"lukechampine.com/uint128"
)

// Scalar represents a constant that fits in at most two machine registers:
// either a raw bit pattern with an explicit byte width, or a relocatable
// pointer into some allocation.
//
// Representation:
//   - Bits: a 128-bit pattern plus a width tag of 0 to 16 bytes. Every bit
//     above the tagged width is zero; a width of 0 is the zero-sized scalar
//     and its pattern is all zeroes.
//   - Pointer: an allocation identity plus byte offset. The pattern store
//     is unused; the scalar's width is the target pointer width.
//
// The zero Scalar is the zero-sized scalar. Scalars are values: they are
// copied, compared with ==, and never mutated in place.
type Scalar struct {
	bits  uint128.Uint128
	ptr   Pointer[AllocID]
	size  uint8
	isPtr bool
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// ZeroSized returns the zero-sized scalar, the value of every ZST constant.
func ZeroSized() Scalar {
	return Scalar{}
}

// FromPointer wraps a relocatable pointer as a scalar.
func FromPointer(p Pointer[AllocID]) Scalar {
	return Scalar{ptr: p, isPtr: true}
}

// FromBits builds a scalar directly from a bit pattern and a width tag.
// Panics if the pattern has bits set above the width, or if the width
// exceeds MaxScalarSize.
func FromBits(bits uint128.Uint128, size uint8) Scalar {
	if size > MaxScalarSize {
		panic(fmt.Sprintf("interp.FromBits: width %d exceeds %d bytes", size, MaxScalarSize))
	}
	if !fitsUnsigned(bits, size) {
		panic(fmt.Sprintf("interp.FromBits: pattern %s has bits above width %d", bits, size))
	}
	return Scalar{bits: bits, size: size}
}

// FromUint builds a scalar of the given width from an unsigned value.
// Panics if the value does not fit in the width.
func FromUint(v uint64, size uint8) Scalar {
	return FromUint128(uint128.From64(v), size)
}

// FromUint128 builds a scalar of the given width from an unsigned 128-bit
// value. Panics if the value does not fit in the width.
func FromUint128(v uint128.Uint128, size uint8) Scalar {
	if size > MaxScalarSize {
		panic(fmt.Sprintf("interp.FromUint128: width %d exceeds %d bytes", size, MaxScalarSize))
	}
	if !fitsUnsigned(v, size) {
		panic(fmt.Sprintf("interp.FromUint128: %s does not fit in %d bytes", v, size))
	}
	return Scalar{bits: v, size: size}
}

// FromInt builds a scalar of the given width from a signed value, storing
// its truncated two's-complement pattern. Panics if the value does not fit
// in the width.
func FromInt(v int64, size uint8) Scalar {
	if size > MaxScalarSize {
		panic(fmt.Sprintf("interp.FromInt: width %d exceeds %d bytes", size, MaxScalarSize))
	}
	wide := fromInt64(v)
	if !fitsSigned(wide, size) {
		panic(fmt.Sprintf("interp.FromInt: %d does not fit in %d bytes", v, size))
	}
	return Scalar{bits: Truncate(wide, size), size: size}
}

// FromBool builds a one-byte scalar holding 0 or 1.
func FromBool(b bool) Scalar {
	if b {
		return Scalar{bits: uint128.From64(1), size: 1}
	}
	return Scalar{size: 1}
}

// FromChar builds a four-byte scalar from a Unicode scalar value.
// Panics if r is not one (surrogates and out-of-range runes).
func FromChar(r rune) Scalar {
	if !utf8.ValidRune(r) {
		panic(fmt.Sprintf("interp.FromChar: %#x is not a Unicode scalar value", uint32(r)))
	}
	return Scalar{bits: uint128.From64(uint64(uint32(r))), size: 4}
}

// FromFloat32 builds a four-byte scalar holding the IEEE 754 bits of f.
func FromFloat32(f float32) Scalar {
	return Scalar{bits: uint128.From64(uint64(math.Float32bits(f))), size: 4}
}

// FromFloat64 builds an eight-byte scalar holding the IEEE 754 bits of f.
func FromFloat64(f float64) Scalar {
	return Scalar{bits: uint128.From64(math.Float64bits(f)), size: 8}
}

// NullPointer returns the all-zero pattern at the target pointer width.
// It is a bits scalar, not a pointer: the null address has no allocation.
func NullPointer(cx HasDataLayout) Scalar {
	return Scalar{size: cx.DataLayout().PointerSize}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsBits returns true if the scalar is a raw bit pattern.
func (s Scalar) IsBits() bool {
	return !s.isPtr
}

// IsPointer returns true if the scalar is a relocatable pointer.
func (s Scalar) IsPointer() bool {
	return s.isPtr
}

// IsNull returns true if the scalar is an all-zero bit pattern. Pointers
// are never null: they always refer into a live allocation. The width is
// not consulted; use IsNullPointer to test against a target pointer width.
func (s Scalar) IsNull() bool {
	return !s.isPtr && s.bits.IsZero()
}

// IsNullPointer returns true if the scalar is the null address of the given
// target. Panics if the scalar is a bit pattern of a non-pointer width.
// Relocatable pointers are never null.
func (s Scalar) IsNullPointer(cx HasDataLayout) bool {
	if s.isPtr {
		return false
	}
	ptrSize := cx.DataLayout().PointerSize
	if s.size != ptrSize {
		panic(fmt.Sprintf("Scalar.IsNullPointer: size mismatch: have %d, want %d", s.size, ptrSize))
	}
	return s.bits.IsZero()
}

// ---------------------------------------------------------------------------
// Pattern accessors
// ---------------------------------------------------------------------------

// AsBits returns the bit pattern and width, with ok=false for pointers.
func (s Scalar) AsBits() (bits uint128.Uint128, size uint8, ok bool) {
	if s.isPtr {
		return uint128.Zero, 0, false
	}
	return s.bits, s.size, true
}

// AsPointer returns the relocatable pointer, with ok=false for bit patterns.
func (s Scalar) AsPointer() (Pointer[AllocID], bool) {
	if !s.isPtr {
		return Pointer[AllocID]{}, false
	}
	return s.ptr, true
}

// ToBits returns the bit pattern of a scalar whose width is already known
// to the caller. Pointers fail with ErrReadPointerAsBytes. A width
// disagreement is a bug in the caller's type computation and panics; the
// zero-sized scalar reads back as zero at width 0.
func (s Scalar) ToBits(size uint8) (uint128.Uint128, error) {
	if s.isPtr {
		return uint128.Zero, ErrReadPointerAsBytes
	}
	if s.size != size {
		panic(fmt.Sprintf("Scalar.ToBits: size mismatch: have %d, want %d", s.size, size))
	}
	return s.bits, nil
}

// ToPointer returns the relocatable pointer. All-zero bit patterns fail
// with ErrNullPointerUsage, other bit patterns with ErrReadBytesAsPointer.
func (s Scalar) ToPointer() (Pointer[AllocID], error) {
	if !s.isPtr {
		if s.bits.IsZero() {
			return Pointer[AllocID]{}, ErrNullPointerUsage
		}
		return Pointer[AllocID]{}, ErrReadBytesAsPointer
	}
	return s.ptr, nil
}

// ---------------------------------------------------------------------------
// Typed views
//
// Each view fixes the width the caller's type computation promised and
// decodes the pattern. Pointers surface ErrReadPointerAsBytes; width
// disagreements panic.
// ---------------------------------------------------------------------------

// ToBool decodes a one-byte scalar as a boolean. Patterns other than 0 and
// 1, and pointers, fail with ErrInvalidBool.
func (s Scalar) ToBool() (bool, error) {
	if s.isPtr || s.size != 1 {
		return false, ErrInvalidBool
	}
	switch s.bits.Lo {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBool
	}
}

// ToChar decodes a four-byte scalar as a Unicode scalar value. Patterns
// outside the Unicode scalar range fail with an InvalidCharError.
func (s Scalar) ToChar() (rune, error) {
	v, err := s.ToUint32()
	if err != nil {
		return 0, err
	}
	r := rune(v)
	if !utf8.ValidRune(r) {
		return 0, &InvalidCharError{Bits: v}
	}
	return r, nil
}

// ToUint8 decodes a one-byte scalar as an unsigned integer.
func (s Scalar) ToUint8() (uint8, error) {
	b, err := s.ToBits(1)
	if err != nil {
		return 0, err
	}
	return uint8(b.Lo), nil
}

// ToUint32 decodes a four-byte scalar as an unsigned integer.
func (s Scalar) ToUint32() (uint32, error) {
	b, err := s.ToBits(4)
	if err != nil {
		return 0, err
	}
	return uint32(b.Lo), nil
}

// ToUint64 decodes an eight-byte scalar as an unsigned integer.
func (s Scalar) ToUint64() (uint64, error) {
	b, err := s.ToBits(8)
	if err != nil {
		return 0, err
	}
	return b.Lo, nil
}

// ToUsize decodes a pointer-width scalar as an unsigned integer.
func (s Scalar) ToUsize(cx HasDataLayout) (uint64, error) {
	b, err := s.ToBits(cx.DataLayout().PointerSize)
	if err != nil {
		return 0, err
	}
	return b.Lo, nil
}

// ToInt8 decodes a one-byte scalar as a signed integer.
func (s Scalar) ToInt8() (int8, error) {
	b, err := s.ToBits(1)
	if err != nil {
		return 0, err
	}
	return int8(b.Lo), nil
}

// ToInt32 decodes a four-byte scalar as a signed integer.
func (s Scalar) ToInt32() (int32, error) {
	b, err := s.ToBits(4)
	if err != nil {
		return 0, err
	}
	return int32(b.Lo), nil
}

// ToInt64 decodes an eight-byte scalar as a signed integer.
func (s Scalar) ToInt64() (int64, error) {
	b, err := s.ToBits(8)
	if err != nil {
		return 0, err
	}
	return int64(b.Lo), nil
}

// ToIsize decodes a pointer-width scalar as a signed integer.
func (s Scalar) ToIsize(cx HasDataLayout) (int64, error) {
	size := cx.DataLayout().PointerSize
	b, err := s.ToBits(size)
	if err != nil {
		return 0, err
	}
	return int64(SignExtend(b, size).Lo), nil
}

// ToFloat32 decodes a four-byte scalar as an IEEE 754 single float.
func (s Scalar) ToFloat32() (float32, error) {
	b, err := s.ToBits(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(b.Lo)), nil
}

// ToFloat64 decodes an eight-byte scalar as an IEEE 754 double float.
func (s Scalar) ToFloat64() (float64, error) {
	b, err := s.ToBits(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(b.Lo), nil
}

// ---------------------------------------------------------------------------
// Pointer arithmetic
//
// Bit patterns must already be addresses (pointer width); the result keeps
// their width. Relocatable pointers keep their allocation identity. An
// integer scalar never becomes a relocatable pointer through arithmetic.
// ---------------------------------------------------------------------------

// PtrOffset moves the scalar forward by an unsigned byte count, failing
// with ErrPointerArithmeticOverflow if the result leaves the target address
// space. Panics if a bit pattern is not pointer width.
func (s Scalar) PtrOffset(add uint64, cx HasDataLayout) (Scalar, error) {
	if s.isPtr {
		p, err := s.ptr.Offset(add, cx)
		if err != nil {
			return Scalar{}, err
		}
		return FromPointer(p), nil
	}
	s.assertPtrSize(cx, "Scalar.PtrOffset")
	res, err := cx.DataLayout().Offset(s.bits.Lo, add)
	if err != nil {
		return Scalar{}, err
	}
	return Scalar{bits: uint128.From64(res), size: s.size}, nil
}

// PtrSignedOffset moves the scalar by a signed byte count, failing with
// ErrPointerArithmeticOverflow if the result leaves the target address
// space. Panics if a bit pattern is not pointer width.
func (s Scalar) PtrSignedOffset(i int64, cx HasDataLayout) (Scalar, error) {
	if s.isPtr {
		p, err := s.ptr.SignedOffset(i, cx)
		if err != nil {
			return Scalar{}, err
		}
		return FromPointer(p), nil
	}
	s.assertPtrSize(cx, "Scalar.PtrSignedOffset")
	res, err := cx.DataLayout().SignedOffset(s.bits.Lo, i)
	if err != nil {
		return Scalar{}, err
	}
	return Scalar{bits: uint128.From64(res), size: s.size}, nil
}

// PtrWrappingOffset moves the scalar forward by an unsigned byte count
// modulo the target address space. Panics if a bit pattern is not pointer
// width.
func (s Scalar) PtrWrappingOffset(add uint64, cx HasDataLayout) Scalar {
	if s.isPtr {
		return FromPointer(s.ptr.WrappingOffset(add, cx))
	}
	s.assertPtrSize(cx, "Scalar.PtrWrappingOffset")
	res := cx.DataLayout().WrappingOffset(s.bits.Lo, add)
	return Scalar{bits: uint128.From64(res), size: s.size}
}

// PtrWrappingSignedOffset moves the scalar by a signed byte count modulo
// the target address space. Panics if a bit pattern is not pointer width.
func (s Scalar) PtrWrappingSignedOffset(i int64, cx HasDataLayout) Scalar {
	if s.isPtr {
		return FromPointer(s.ptr.WrappingSignedOffset(i, cx))
	}
	s.assertPtrSize(cx, "Scalar.PtrWrappingSignedOffset")
	res := cx.DataLayout().WrappingSignedOffset(s.bits.Lo, i)
	return Scalar{bits: uint128.From64(res), size: s.size}
}

func (s Scalar) assertPtrSize(cx HasDataLayout, op string) {
	ptrSize := cx.DataLayout().PointerSize
	if s.size != ptrSize {
		panic(fmt.Sprintf("%s: size mismatch: have %d, want %d", op, s.size, ptrSize))
	}
}

// String formats the scalar for constant dumps: pointers by allocation,
// patterns as width-padded hex, the zero-sized scalar as <zst>.
func (s Scalar) String() string {
	if s.isPtr {
		return s.ptr.String()
	}
	if s.size == 0 {
		return "<zst>"
	}
	if s.size <= 8 {
		return fmt.Sprintf("0x%0*x", int(s.size)*2, s.bits.Lo)
	}
	return fmt.Sprintf("0x%0*x%016x", (int(s.size)-8)*2, s.bits.Hi, s.bits.Lo)
}
