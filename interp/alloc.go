package interp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"lukechampine.com/uint128"
)

// Allocation is a block of materialized constant memory: raw bytes, the
// alignment the target requires of it, and a relocation table naming the
// allocations embedded pointers refer to.
//
// At an offset covered by a relocation, the bytes hold the embedded
// pointer's byte offset into its target allocation; the relocation supplies
// the allocation identity. Offsets not covered by a relocation are plain
// data.
type Allocation struct {
	Bytes  []byte
	Align  uint64
	Relocs map[uint64]AllocID
}

// NewAllocation returns an allocation owning a copy of data.
func NewAllocation(data []byte, align uint64) *Allocation {
	return &Allocation{
		Bytes: append([]byte(nil), data...),
		Align: align,
	}
}

// Size returns the allocation's length in bytes.
func (a *Allocation) Size() uint64 {
	return uint64(len(a.Bytes))
}

// AddReloc records that the pointer-width bytes at off belong to a pointer
// into the named allocation.
func (a *Allocation) AddReloc(off uint64, id AllocID) {
	if a.Relocs == nil {
		a.Relocs = make(map[uint64]AllocID)
	}
	a.Relocs[off] = id
}

// RelocAt returns the relocation recorded at exactly the given offset.
func (a *Allocation) RelocAt(off uint64) (AllocID, bool) {
	id, ok := a.Relocs[off]
	return id, ok
}

// RelocOffsets returns the relocation offsets in ascending order.
func (a *Allocation) RelocOffsets() []uint64 {
	offs := make([]uint64, 0, len(a.Relocs))
	for off := range a.Relocs {
		offs = append(offs, off)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	return offs
}

// relocsOverlap reports whether any relocation's pointer-width bytes
// intersect [from, to).
func (a *Allocation) relocsOverlap(from, to uint64, ptrSize uint8) bool {
	if from == to {
		return false
	}
	for off := range a.Relocs {
		if off < to && off+uint64(ptrSize) > from {
			return true
		}
	}
	return false
}

// ReadScalar decodes the scalar stored at a byte offset. A relocation
// covering exactly the read at pointer width yields a pointer scalar; a
// relocation partially overlapping the read fails with
// ErrReadPointerAsBytes; plain data yields a bits scalar of the requested
// width. Reads beyond the allocation fail with ErrOutOfBounds.
func (a *Allocation) ReadScalar(cx HasDataLayout, off uint64, size uint8) (Scalar, error) {
	if size > MaxScalarSize {
		return Scalar{}, ErrOutOfBounds
	}
	end := off + uint64(size)
	if end < off || end > a.Size() {
		return Scalar{}, ErrOutOfBounds
	}
	layout := cx.DataLayout()
	if id, ok := a.RelocAt(off); ok && size == layout.PointerSize {
		target := readBits(a.Bytes[off:end], layout.Endian)
		return FromPointer(NewPointer(id, target.Lo)), nil
	}
	if a.relocsOverlap(off, end, layout.PointerSize) {
		return Scalar{}, ErrReadPointerAsBytes
	}
	return FromUint128(readBits(a.Bytes[off:end], layout.Endian), size), nil
}

// WriteScalar encodes a scalar at a byte offset. Bits scalars are written
// at their tagged width, pointers at the target pointer width with a
// relocation recorded at off. Relocations whose bytes overlap the written
// range are dropped. Writes beyond the allocation fail with ErrOutOfBounds.
func (a *Allocation) WriteScalar(cx HasDataLayout, off uint64, s Scalar) error {
	layout := cx.DataLayout()
	var pattern uint128.Uint128
	var size uint8
	if p, ok := s.AsPointer(); ok {
		pattern = uint128.From64(p.ByteOffset())
		size = layout.PointerSize
	} else {
		pattern, size, _ = s.AsBits()
	}
	end := off + uint64(size)
	if end < off || end > a.Size() {
		return ErrOutOfBounds
	}
	if size == 0 {
		return nil
	}
	for ro := range a.Relocs {
		if ro < end && ro+uint64(layout.PointerSize) > off {
			delete(a.Relocs, ro)
		}
	}
	writeBits(a.Bytes[off:end], pattern, layout.Endian)
	if p, ok := s.AsPointer(); ok {
		a.AddReloc(off, p.Alloc())
	}
	return nil
}

// Dump renders the allocation as a hex dump, sixteen bytes per row with
// a printable-ASCII gutter, followed by the relocation table.
func (a *Allocation) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d bytes, align %d\n", a.Size(), a.Align)

	for row := uint64(0); row < a.Size(); row += 16 {
		end := row + 16
		if end > a.Size() {
			end = a.Size()
		}
		fmt.Fprintf(&sb, "%08x  ", row)
		for i := row; i < row+16; i++ {
			if i < end {
				fmt.Fprintf(&sb, "%02x ", a.Bytes[i])
			} else {
				sb.WriteString("   ")
			}
			if i == row+7 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(" |")
		for i := row; i < end; i++ {
			if b := a.Bytes[i]; b >= 0x20 && b < 0x7f {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}

	for _, off := range a.RelocOffsets() {
		fmt.Fprintf(&sb, "reloc +0x%x -> %s\n", off, a.Relocs[off])
	}
	return sb.String()
}

// Equal reports structural equality: same bytes, alignment, and
// relocations.
func (a *Allocation) Equal(b *Allocation) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Align != b.Align || !bytes.Equal(a.Bytes, b.Bytes) {
		return false
	}
	if len(a.Relocs) != len(b.Relocs) {
		return false
	}
	for off, id := range a.Relocs {
		other, ok := b.Relocs[off]
		if !ok || other != id {
			return false
		}
	}
	return true
}

// readBits decodes up to MaxScalarSize bytes at the given byte order.
func readBits(b []byte, e Endian) uint128.Uint128 {
	var buf [MaxScalarSize]byte
	if e == LittleEndian {
		copy(buf[:], b)
	} else {
		for i, by := range b {
			buf[len(b)-1-i] = by
		}
	}
	lo := binary.LittleEndian.Uint64(buf[0:8])
	hi := binary.LittleEndian.Uint64(buf[8:16])
	return uint128.New(lo, hi)
}

// writeBits encodes the low len(dst) bytes of v at the given byte order.
func writeBits(dst []byte, v uint128.Uint128, e Endian) {
	var buf [MaxScalarSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], v.Lo)
	binary.LittleEndian.PutUint64(buf[8:16], v.Hi)
	if e == LittleEndian {
		copy(dst, buf[:len(dst)])
		return
	}
	for i := range dst {
		dst[i] = buf[len(dst)-1-i]
	}
}
