package interp

import (
	"fmt"
)

// AllocID is an opaque handle naming one allocation in the evaluator's
// memory. Handles are issued by the allocation interner; the value layer
// only compares and transports them.
type AllocID uint64

// String formats the handle the way constant dumps spell allocations.
func (id AllocID) String() string {
	return fmt.Sprintf("alloc%d", uint64(id))
}

// Pointer is a relocatable address: an allocation identity plus a byte
// offset into it. The identity type is a parameter so that pipeline stages
// which name allocations differently (or not yet at all) can reuse the
// arithmetic; AllocID is the canonical instantiation.
//
// Arithmetic only ever touches the offset. A pointer never changes which
// allocation it refers to, and plain integers never acquire one.
type Pointer[ID comparable] struct {
	alloc  ID
	offset uint64
}

// NewPointer returns a pointer to the given byte offset of an allocation.
func NewPointer[ID comparable](alloc ID, offset uint64) Pointer[ID] {
	return Pointer[ID]{alloc: alloc, offset: offset}
}

// Alloc returns the allocation identity.
func (p Pointer[ID]) Alloc() ID {
	return p.alloc
}

// ByteOffset returns the byte offset into the allocation.
func (p Pointer[ID]) ByteOffset() uint64 {
	return p.offset
}

// String formats the pointer as the allocation identity plus a hex offset.
func (p Pointer[ID]) String() string {
	if p.offset == 0 {
		return fmt.Sprintf("%v", p.alloc)
	}
	return fmt.Sprintf("%v+%#x", p.alloc, p.offset)
}

// ---------------------------------------------------------------------------
// Offset arithmetic
// ---------------------------------------------------------------------------

// Offset moves the pointer forward by an unsigned byte count, failing with
// ErrPointerArithmeticOverflow if the result leaves the target address space.
func (p Pointer[ID]) Offset(add uint64, cx HasDataLayout) (Pointer[ID], error) {
	off, err := cx.DataLayout().Offset(p.offset, add)
	if err != nil {
		return Pointer[ID]{}, err
	}
	return Pointer[ID]{alloc: p.alloc, offset: off}, nil
}

// SignedOffset moves the pointer by a signed byte count, failing with
// ErrPointerArithmeticOverflow if the result leaves the target address space.
func (p Pointer[ID]) SignedOffset(i int64, cx HasDataLayout) (Pointer[ID], error) {
	off, err := cx.DataLayout().SignedOffset(p.offset, i)
	if err != nil {
		return Pointer[ID]{}, err
	}
	return Pointer[ID]{alloc: p.alloc, offset: off}, nil
}

// OverflowingOffset moves the pointer forward by an unsigned byte count,
// wrapping in the target address space and reporting overflow.
func (p Pointer[ID]) OverflowingOffset(add uint64, cx HasDataLayout) (Pointer[ID], bool) {
	off, over := cx.DataLayout().OverflowingOffset(p.offset, add)
	return Pointer[ID]{alloc: p.alloc, offset: off}, over
}

// OverflowingSignedOffset moves the pointer by a signed byte count, wrapping
// in the target address space and reporting overflow.
func (p Pointer[ID]) OverflowingSignedOffset(i int64, cx HasDataLayout) (Pointer[ID], bool) {
	off, over := cx.DataLayout().OverflowingSignedOffset(p.offset, i)
	return Pointer[ID]{alloc: p.alloc, offset: off}, over
}

// WrappingOffset moves the pointer forward by an unsigned byte count modulo
// the target address space.
func (p Pointer[ID]) WrappingOffset(add uint64, cx HasDataLayout) Pointer[ID] {
	res, _ := p.OverflowingOffset(add, cx)
	return res
}

// WrappingSignedOffset moves the pointer by a signed byte count modulo the
// target address space.
func (p Pointer[ID]) WrappingSignedOffset(i int64, cx HasDataLayout) Pointer[ID] {
	res, _ := p.OverflowingSignedOffset(i, cx)
	return res
}
