package interp

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ---------------------------------------------------------------------------
// Deterministic content addressing for constant values.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Tag byte per node
//   - Integers: big-endian fixed-width
//   - Byte strings: uint64 big-endian length + bytes
//   - Relocations: count then (offset, id) pairs in ascending offset order
//
// The tags are FROZEN. Once assigned, a tag byte must never change meaning;
// changing one silently invalidates every previously computed content hash.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping it invalidates all existing content hashes.
const HashVersion byte = 1

// Node tags of the serialized byte stream.
const (
	tagReservedZero byte = 0x00 // version prefix / reserved

	// Scalar shapes
	tagZeroSized byte = 0x01
	tagBits      byte = 0x02
	tagPointer   byte = 0x03

	// Value shapes
	tagScalar      byte = 0x10
	tagScalarPair  byte = 0x11
	tagByRef       byte = 0x12
	tagUnevaluated byte = 0x13

	// Memory
	tagAllocation byte = 0x20
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	tagReservedZero,
	tagZeroSized, tagBits, tagPointer,
	tagScalar, tagScalarPair, tagByRef, tagUnevaluated,
	tagAllocation,
}

// ContentHash addresses a serialized constant by its SHA-256 digest.
type ContentHash [sha256.Size]byte

// String returns the lowercase hex form of the hash.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseContentHash decodes the lowercase hex form of a hash.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("interp: malformed content hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("interp: content hash %q has %d bytes, want %d", s, len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// SerializeScalar produces the deterministic byte serialization of a
// scalar, suitable for hashing.
func SerializeScalar(s Scalar) []byte {
	h := &hashSerializer{buf: make([]byte, 0, 64)}
	h.writeByte(HashVersion)
	h.scalar(s)
	return h.buf
}

// SerializeConstValue produces the deterministic byte serialization of a
// const value. By-ref values embed their full allocation content, so the
// serialization of a by-ref value changes whenever its memory does.
func SerializeConstValue(v ConstValue) []byte {
	h := &hashSerializer{buf: make([]byte, 0, 256)}
	h.writeByte(HashVersion)
	h.value(v)
	return h.buf
}

// SerializeAllocation produces the deterministic byte serialization of an
// allocation.
func SerializeAllocation(a *Allocation) []byte {
	h := &hashSerializer{buf: make([]byte, 0, 64+len(a.Bytes))}
	h.writeByte(HashVersion)
	h.allocation(a)
	return h.buf
}

// HashScalar returns the content hash of a scalar.
func HashScalar(s Scalar) ContentHash {
	return sha256.Sum256(SerializeScalar(s))
}

// HashConstValue returns the content hash of a const value.
func HashConstValue(v ConstValue) ContentHash {
	return sha256.Sum256(SerializeConstValue(v))
}

// HashAllocation returns the content hash of an allocation.
func HashAllocation(a *Allocation) ContentHash {
	return sha256.Sum256(SerializeAllocation(a))
}

type hashSerializer struct {
	buf []byte
}

func (h *hashSerializer) writeByte(b byte) {
	h.buf = append(h.buf, b)
}

func (h *hashSerializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	h.buf = append(h.buf, b[:]...)
}

func (h *hashSerializer) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	h.buf = append(h.buf, b[:]...)
}

func (h *hashSerializer) writeBytes(b []byte) {
	h.writeUint64(uint64(len(b)))
	h.buf = append(h.buf, b...)
}

func (h *hashSerializer) scalar(s Scalar) {
	if p, ok := s.AsPointer(); ok {
		h.writeByte(tagPointer)
		h.writeUint64(uint64(p.Alloc()))
		h.writeUint64(p.ByteOffset())
		return
	}
	bits, size, _ := s.AsBits()
	if size == 0 {
		h.writeByte(tagZeroSized)
		return
	}
	h.writeByte(tagBits)
	h.writeByte(size)
	h.writeUint64(bits.Hi)
	h.writeUint64(bits.Lo)
}

func (h *hashSerializer) value(v ConstValue) {
	switch v.Kind() {
	case KindScalar:
		h.writeByte(tagScalar)
		s, _ := v.TryScalar()
		h.scalar(s)

	case KindScalarPair:
		h.writeByte(tagScalarPair)
		a, b := v.Pair()
		h.scalar(a)
		h.scalar(b)

	case KindByRef:
		id, alloc, offset := v.ByRef()
		if alloc == nil {
			panic("interp.SerializeConstValue: by-ref value without allocation")
		}
		h.writeByte(tagByRef)
		h.writeUint64(uint64(id))
		h.writeUint64(offset)
		h.allocation(alloc)

	case KindUnevaluated:
		h.writeByte(tagUnevaluated)
		def, substs := v.Unevaluated()
		h.writeUint64(uint64(def))
		h.writeUint64(uint64(substs))
	}
}

func (h *hashSerializer) allocation(a *Allocation) {
	h.writeByte(tagAllocation)
	h.writeUint64(a.Align)
	h.writeBytes(a.Bytes)
	h.writeUint32(uint32(len(a.Relocs)))
	for _, off := range a.RelocOffsets() {
		h.writeUint64(off)
		h.writeUint64(uint64(a.Relocs[off]))
	}
}
