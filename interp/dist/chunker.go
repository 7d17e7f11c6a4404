package dist

import (
	"fmt"
	"sort"

	"lukechampine.com/uint128"

	"github.com/chazu/mira/interp"
)

// AllocSource resolves local allocation IDs while building chunks.
type AllocSource interface {
	Allocation(id interp.AllocID) (*interp.Allocation, bool)
}

// AllocBinder maps dependency hashes to local allocations while decoding
// chunk payloads on the receiving side. BindAlloc returns the local ID
// for the allocation named by h, ingesting it first if necessary. The
// returned allocation must be non-nil on success.
type AllocBinder interface {
	BindAlloc(h interp.ContentHash) (interp.AllocID, *interp.Allocation, error)
}

// ChunkStore is the view of a local chunk store needed by dependency
// verification and closure walks.
type ChunkStore interface {
	HasChunk(h interp.ContentHash) bool
	ChunkDependencies(h interp.ContentHash) []interp.ContentHash
}

// depSet assigns dense indices to dependency hashes in first-use order.
type depSet struct {
	hashes []interp.ContentHash
	index  map[interp.ContentHash]uint64
}

func newDepSet() *depSet {
	return &depSet{index: make(map[interp.ContentHash]uint64)}
}

func (d *depSet) add(h interp.ContentHash) uint64 {
	if i, ok := d.index[h]; ok {
		return i
	}
	i := uint64(len(d.hashes))
	d.hashes = append(d.hashes, h)
	d.index[h] = i
	return i
}

// chunkBuilder walks allocation graphs and emits allocation chunks leaf
// first, memoizing the hash assigned to each local allocation ID.
type chunkBuilder struct {
	src    AllocSource
	extra  map[interp.AllocID]*interp.Allocation
	hashes map[interp.AllocID]interp.ContentHash
	inWalk map[interp.AllocID]bool
	chunks []*Chunk
}

func newChunkBuilder(src AllocSource) *chunkBuilder {
	return &chunkBuilder{
		src:    src,
		extra:  make(map[interp.AllocID]*interp.Allocation),
		hashes: make(map[interp.AllocID]interp.ContentHash),
		inWalk: make(map[interp.AllocID]bool),
	}
}

func (b *chunkBuilder) lookup(id interp.AllocID) (*interp.Allocation, bool) {
	if a, ok := b.extra[id]; ok {
		return a, true
	}
	if b.src != nil {
		return b.src.Allocation(id)
	}
	return nil, false
}

// allocHash builds the chunk for an allocation and everything it points
// to, returning the allocation's content hash. Relocation targets are
// chunked first so the emitted order is safe to ingest directly.
func (b *chunkBuilder) allocHash(id interp.AllocID) (interp.ContentHash, error) {
	if h, ok := b.hashes[id]; ok {
		return h, nil
	}
	if b.inWalk[id] {
		return interp.ContentHash{}, fmt.Errorf("dist: allocation cycle through %s", id)
	}
	a, ok := b.lookup(id)
	if !ok {
		return interp.ContentHash{}, fmt.Errorf("dist: unknown allocation %s", id)
	}
	b.inWalk[id] = true
	defer delete(b.inWalk, id)

	deps := newDepSet()
	var relocs []wireReloc
	for _, off := range a.RelocOffsets() {
		h, err := b.allocHash(a.Relocs[off])
		if err != nil {
			return interp.ContentHash{}, err
		}
		relocs = append(relocs, wireReloc{Offset: off, Alloc: deps.add(h)})
	}
	payload, err := cborEncMode.Marshal(&wireAlloc{Bytes: a.Bytes, Align: a.Align, Relocs: relocs})
	if err != nil {
		return interp.ContentHash{}, fmt.Errorf("dist: marshal alloc payload: %w", err)
	}
	h := ComputeChunkHash(ChunkAlloc, "", payload, deps.hashes)
	b.hashes[id] = h
	b.chunks = append(b.chunks, &Chunk{
		Hash:         h,
		Type:         ChunkAlloc,
		Payload:      payload,
		Dependencies: deps.hashes,
	})
	return h, nil
}

func (b *chunkBuilder) encodeScalar(s interp.Scalar, deps *depSet) (*wireScalar, error) {
	if p, ok := s.AsPointer(); ok {
		h, err := b.allocHash(p.Alloc())
		if err != nil {
			return nil, err
		}
		return &wireScalar{Kind: wireScalarPointer, Alloc: deps.add(h), Offset: p.ByteOffset()}, nil
	}
	bits, size, _ := s.AsBits()
	return &wireScalar{Kind: wireScalarBits, Size: size, Hi: bits.Hi, Lo: bits.Lo}, nil
}

// BuildConstChunks converts an evaluated constant into a const chunk
// plus the allocation chunks it depends on, leaf first. The source
// resolves pointer targets and may be nil when the value references no
// allocations. Unevaluated constants have no content identity and are
// rejected.
func BuildConstChunks(v interp.ConstValue, target string, src AllocSource) (*Chunk, []*Chunk, error) {
	b := newChunkBuilder(src)
	deps := newDepSet()
	w := &wireConst{}

	switch v.Kind() {
	case interp.KindScalar:
		s, _ := v.TryScalar()
		ws, err := b.encodeScalar(s, deps)
		if err != nil {
			return nil, nil, err
		}
		w.Kind = wireConstScalar
		w.A = ws
	case interp.KindScalarPair:
		first, second := v.Pair()
		wa, err := b.encodeScalar(first, deps)
		if err != nil {
			return nil, nil, err
		}
		wb, err := b.encodeScalar(second, deps)
		if err != nil {
			return nil, nil, err
		}
		w.Kind = wireConstScalarPair
		w.A = wa
		w.B = wb
	case interp.KindByRef:
		id, alloc, off := v.ByRef()
		if alloc != nil {
			b.extra[id] = alloc
		}
		h, err := b.allocHash(id)
		if err != nil {
			return nil, nil, err
		}
		w.Kind = wireConstByRef
		w.Alloc = deps.add(h)
		w.Offset = off
	case interp.KindUnevaluated:
		return nil, nil, fmt.Errorf("dist: cannot chunk an unevaluated constant")
	default:
		return nil, nil, fmt.Errorf("dist: unknown value kind %d", uint8(v.Kind()))
	}

	payload, err := cborEncMode.Marshal(w)
	if err != nil {
		return nil, nil, fmt.Errorf("dist: marshal const payload: %w", err)
	}
	c := &Chunk{
		Hash:         ComputeChunkHash(ChunkConst, target, payload, deps.hashes),
		Type:         ChunkConst,
		Payload:      payload,
		Target:       target,
		Dependencies: deps.hashes,
	}
	return c, b.chunks, nil
}

// BuildAllocChunks converts an allocation and everything it points to
// into chunks, leaf first with the root allocation last.
func BuildAllocChunks(id interp.AllocID, src AllocSource) ([]*Chunk, error) {
	b := newChunkBuilder(src)
	if _, err := b.allocHash(id); err != nil {
		return nil, err
	}
	return b.chunks, nil
}

// DecodeConstPayload decodes a const chunk payload back into a constant
// value. Allocation references resolve through the chunk's dependency
// list via the binder.
func DecodeConstPayload(payload []byte, deps []interp.ContentHash, bind AllocBinder) (interp.ConstValue, error) {
	w, err := unmarshalWireConst(payload)
	if err != nil {
		return interp.ConstValue{}, err
	}
	if err := validateWireConst(w, len(deps)); err != nil {
		return interp.ConstValue{}, err
	}

	switch w.Kind {
	case wireConstScalar:
		s, err := decodeScalar(w.A, deps, bind)
		if err != nil {
			return interp.ConstValue{}, err
		}
		return interp.ScalarValue(s), nil
	case wireConstScalarPair:
		first, err := decodeScalar(w.A, deps, bind)
		if err != nil {
			return interp.ConstValue{}, err
		}
		second, err := decodeScalar(w.B, deps, bind)
		if err != nil {
			return interp.ConstValue{}, err
		}
		return interp.ScalarPairValue(first, second), nil
	case wireConstByRef:
		h := deps[w.Alloc]
		id, alloc, err := bind.BindAlloc(h)
		if err != nil {
			return interp.ConstValue{}, fmt.Errorf("dist: bind allocation %s: %w", h, err)
		}
		if alloc == nil {
			return interp.ConstValue{}, fmt.Errorf("dist: binder returned no allocation for %s", h)
		}
		if w.Offset > alloc.Size() {
			return interp.ConstValue{}, fmt.Errorf("dist: by-ref offset %d outside %d-byte allocation", w.Offset, alloc.Size())
		}
		return interp.ByRefValue(id, alloc, w.Offset), nil
	default:
		return interp.ConstValue{}, fmt.Errorf("dist: unknown const kind %d", w.Kind)
	}
}

// DecodeAllocPayload decodes an allocation chunk payload, binding each
// relocation target to a local allocation ID.
func DecodeAllocPayload(payload []byte, deps []interp.ContentHash, bind AllocBinder) (*interp.Allocation, error) {
	w, err := unmarshalWireAlloc(payload)
	if err != nil {
		return nil, err
	}
	if err := validateWireAlloc(w, len(deps)); err != nil {
		return nil, err
	}
	a := interp.NewAllocation(w.Bytes, w.Align)
	for _, r := range w.Relocs {
		id, _, err := bind.BindAlloc(deps[r.Alloc])
		if err != nil {
			return nil, fmt.Errorf("dist: bind allocation %s: %w", deps[r.Alloc], err)
		}
		a.AddReloc(r.Offset, id)
	}
	return a, nil
}

func decodeScalar(w *wireScalar, deps []interp.ContentHash, bind AllocBinder) (interp.Scalar, error) {
	if w.Kind == wireScalarPointer {
		h := deps[w.Alloc]
		id, _, err := bind.BindAlloc(h)
		if err != nil {
			return interp.Scalar{}, fmt.Errorf("dist: bind allocation %s: %w", h, err)
		}
		return interp.FromPointer(interp.NewPointer(id, w.Offset)), nil
	}
	return interp.FromBits(uint128.New(w.Lo, w.Hi), w.Size), nil
}

// TransitiveClosure computes all hashes reachable from a root hash by
// following dependency links through the chunk store. The root comes
// first, which is the order announcements want.
func TransitiveClosure(root interp.ContentHash, store ChunkStore) []interp.ContentHash {
	seen := make(map[interp.ContentHash]bool)
	var result []interp.ContentHash
	var walk func(interp.ContentHash)

	walk = func(h interp.ContentHash) {
		if seen[h] {
			return
		}
		seen[h] = true
		result = append(result, h)
		for _, dep := range store.ChunkDependencies(h) {
			walk(dep)
		}
	}

	walk(root)
	return result
}

// ClosureLeafFirst computes the closure of a root hash ordered so every
// chunk appears after all of its dependencies. Receivers can ingest the
// result in order without ever missing a dependency.
func ClosureLeafFirst(root interp.ContentHash, store ChunkStore) []interp.ContentHash {
	return OrderLeafFirst([]interp.ContentHash{root}, store)
}

// OrderLeafFirst expands a set of hashes to include their dependencies
// and orders the result so every chunk follows everything it depends
// on. Duplicates collapse to their first position.
func OrderLeafFirst(hashes []interp.ContentHash, store ChunkStore) []interp.ContentHash {
	seen := make(map[interp.ContentHash]bool)
	var result []interp.ContentHash
	var walk func(interp.ContentHash)

	walk = func(h interp.ContentHash) {
		if seen[h] {
			return
		}
		seen[h] = true
		for _, dep := range store.ChunkDependencies(h) {
			walk(dep)
		}
		result = append(result, h)
	}

	for _, h := range hashes {
		walk(h)
	}
	return result
}

// BuildTargetManifest gathers the unique target names declared by a set
// of chunks. Returns nil when no chunk names a target.
func BuildTargetManifest(chunks []*Chunk) *TargetManifest {
	set := make(map[string]bool)
	for _, c := range chunks {
		if c.Target != "" {
			set[c.Target] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	targets := make([]string, 0, len(set))
	for t := range set {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return &TargetManifest{Targets: targets}
}
