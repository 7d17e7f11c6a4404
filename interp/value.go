package interp

import (
	"fmt"

	"lukechampine.com/uint128"
)

// DefID is an opaque handle naming the definition a constant belongs to.
// Handles are interned by the type-resolution layer; the value layer only
// transports them.
type DefID uint64

// SubstsRef is an opaque handle naming an interned list of generic
// arguments.
type SubstsRef uint64

// ValueKind discriminates the representations a ConstValue can take.
type ValueKind uint8

const (
	// KindScalar is a single immediate value.
	KindScalar ValueKind = iota
	// KindScalarPair is two immediates, used for fat pointers.
	KindScalarPair
	// KindByRef is a value materialized in an allocation.
	KindByRef
	// KindUnevaluated is a named constant whose evaluation is deferred.
	KindUnevaluated
)

// String returns the lowercase name of the kind.
func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindScalarPair:
		return "scalar-pair"
	case KindByRef:
		return "by-ref"
	case KindUnevaluated:
		return "unevaluated"
	default:
		return fmt.Sprintf("valuekind(%d)", uint8(k))
	}
}

// ConstValue is the result of constant evaluation: an immediate scalar, a
// pair of immediates, a reference into materialized constant memory, or a
// deferred evaluation of a named constant.
//
// The zero ConstValue is the zero-sized scalar.
type ConstValue struct {
	kind ValueKind

	// KindScalar uses a; KindScalarPair uses a and b.
	a, b Scalar

	// KindUnevaluated.
	def    DefID
	substs SubstsRef

	// KindByRef. The identity names alloc in the evaluator's interner;
	// callers keep the two consistent.
	allocID AllocID
	alloc   *Allocation
	offset  uint64
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// ScalarValue wraps a single immediate.
func ScalarValue(s Scalar) ConstValue {
	return ConstValue{kind: KindScalar, a: s}
}

// ScalarPairValue wraps two immediates.
func ScalarPairValue(a, b Scalar) ConstValue {
	return ConstValue{kind: KindScalarPair, a: a, b: b}
}

// ByRefValue wraps a value materialized at a byte offset of an allocation.
// The id must be the interned identity of alloc.
func ByRefValue(id AllocID, alloc *Allocation, offset uint64) ConstValue {
	return ConstValue{kind: KindByRef, allocID: id, alloc: alloc, offset: offset}
}

// UnevaluatedValue defers evaluation of the named constant with the given
// generic arguments.
func UnevaluatedValue(def DefID, substs SubstsRef) ConstValue {
	return ConstValue{kind: KindUnevaluated, def: def, substs: substs}
}

// NewSlice builds the fat pointer for a slice: the data scalar paired with
// a pointer-width length.
func NewSlice(data Scalar, length uint64, cx HasDataLayout) ConstValue {
	return ScalarPairValue(data, FromUint(length, cx.DataLayout().PointerSize))
}

// NewDynTrait builds the fat pointer for a trait object: the data scalar
// paired with its vtable pointer.
func NewDynTrait(data Scalar, vtable Pointer[AllocID]) ConstValue {
	return ScalarPairValue(data, FromPointer(vtable))
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the representation of the value.
func (v ConstValue) Kind() ValueKind {
	return v.kind
}

// TryScalar returns the immediate of a scalar-kind value, with ok=false for
// every other kind.
func (v ConstValue) TryScalar() (Scalar, bool) {
	if v.kind != KindScalar {
		return Scalar{}, false
	}
	return v.a, true
}

// TryBits returns the bit pattern of a scalar-kind value at the given
// width. ok=false for other kinds and for pointer scalars; a width
// disagreement on a bits scalar panics, as in Scalar.ToBits.
func (v ConstValue) TryBits(size uint8) (uint128.Uint128, bool) {
	s, ok := v.TryScalar()
	if !ok {
		return uint128.Zero, false
	}
	b, err := s.ToBits(size)
	if err != nil {
		return uint128.Zero, false
	}
	return b, true
}

// TryPointer returns the relocatable pointer of a scalar-kind value, with
// ok=false for other kinds and for bit patterns.
func (v ConstValue) TryPointer() (Pointer[AllocID], bool) {
	s, ok := v.TryScalar()
	if !ok {
		return Pointer[AllocID]{}, false
	}
	p, err := s.ToPointer()
	if err != nil {
		return Pointer[AllocID]{}, false
	}
	return p, true
}

// Pair returns the two immediates of a scalar-pair value.
// Panics for every other kind.
func (v ConstValue) Pair() (Scalar, Scalar) {
	if v.kind != KindScalarPair {
		panic("ConstValue.Pair: not a scalar pair")
	}
	return v.a, v.b
}

// ByRef returns the allocation identity, allocation, and byte offset of a
// by-ref value. Panics for every other kind.
func (v ConstValue) ByRef() (AllocID, *Allocation, uint64) {
	if v.kind != KindByRef {
		panic("ConstValue.ByRef: not a by-ref value")
	}
	return v.allocID, v.alloc, v.offset
}

// Unevaluated returns the definition and generic arguments of a deferred
// value. Panics for every other kind.
func (v ConstValue) Unevaluated() (DefID, SubstsRef) {
	if v.kind != KindUnevaluated {
		panic("ConstValue.Unevaluated: not an unevaluated value")
	}
	return v.def, v.substs
}

// String formats the value for constant dumps.
func (v ConstValue) String() string {
	switch v.kind {
	case KindScalar:
		return v.a.String()
	case KindScalarPair:
		return fmt.Sprintf("(%s, %s)", v.a, v.b)
	case KindByRef:
		if v.offset == 0 {
			return fmt.Sprintf("&%s", v.allocID)
		}
		return fmt.Sprintf("&%s+%#x", v.allocID, v.offset)
	case KindUnevaluated:
		return fmt.Sprintf("unevaluated(def%d, substs%d)", uint64(v.def), uint64(v.substs))
	default:
		return fmt.Sprintf("constvalue(%d)", uint8(v.kind))
	}
}
