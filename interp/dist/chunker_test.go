package dist

import (
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/mira/interp"
)

var testLayout = interp.DataLayout{PointerSize: 8, Endian: interp.LittleEndian}

// allocSource is a map-backed AllocSource for tests.
type allocSource map[interp.AllocID]*interp.Allocation

func (m allocSource) Allocation(id interp.AllocID) (*interp.Allocation, bool) {
	a, ok := m[id]
	return a, ok
}

// testBinder assigns fresh local IDs as chunks are ingested, so decoded
// values never share numbering with the sending side.
type testBinder struct {
	next   uint64
	ids    map[interp.ContentHash]interp.AllocID
	allocs map[interp.ContentHash]*interp.Allocation
}

func newTestBinder() *testBinder {
	return &testBinder{
		next:   100,
		ids:    make(map[interp.ContentHash]interp.AllocID),
		allocs: make(map[interp.ContentHash]*interp.Allocation),
	}
}

func (b *testBinder) BindAlloc(h interp.ContentHash) (interp.AllocID, *interp.Allocation, error) {
	a, ok := b.allocs[h]
	if !ok {
		return 0, nil, fmt.Errorf("no allocation for %s", h)
	}
	return b.ids[h], a, nil
}

func (b *testBinder) ingest(t *testing.T, chunks []*Chunk) {
	t.Helper()
	for _, c := range chunks {
		if err := VerifyAllocChunk(c); err != nil {
			t.Fatalf("ingest: %v", err)
		}
		a, err := DecodeAllocPayload(c.Payload, c.Dependencies, b)
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		b.next++
		b.ids[c.Hash] = interp.AllocID(b.next)
		b.allocs[c.Hash] = a
	}
}

func TestBuildConstChunks_ScalarNoAllocations(t *testing.T) {
	v := interp.ScalarValue(interp.FromUint(0xDEAD, 4))

	c, allocs, err := BuildConstChunks(v, "x86_64", nil)
	if err != nil {
		t.Fatalf("BuildConstChunks: %v", err)
	}
	if len(allocs) != 0 {
		t.Errorf("alloc chunks: got %d, want 0", len(allocs))
	}
	if len(c.Dependencies) != 0 {
		t.Errorf("dependencies: got %d, want 0", len(c.Dependencies))
	}
	if c.Target != "x86_64" {
		t.Errorf("Target: got %q", c.Target)
	}
	if err := VerifyConstChunk(c); err != nil {
		t.Errorf("VerifyConstChunk: %v", err)
	}
}

func TestBuildConstChunks_SliceWithAllocation(t *testing.T) {
	data := interp.NewAllocation([]byte("hello"), 1)
	src := allocSource{7: data}

	v := interp.NewSlice(interp.FromPointer(interp.NewPointer(interp.AllocID(7), 0)), 5, testLayout)

	c, allocs, err := BuildConstChunks(v, "x86_64", src)
	if err != nil {
		t.Fatalf("BuildConstChunks: %v", err)
	}
	if len(allocs) != 1 {
		t.Fatalf("alloc chunks: got %d, want 1", len(allocs))
	}
	if len(c.Dependencies) != 1 || c.Dependencies[0] != allocs[0].Hash {
		t.Error("const chunk should depend on the data allocation")
	}
	if err := VerifyConstChunk(c); err != nil {
		t.Errorf("VerifyConstChunk: %v", err)
	}
	if err := VerifyAllocChunk(allocs[0]); err != nil {
		t.Errorf("VerifyAllocChunk: %v", err)
	}
}

func TestBuildConstChunks_NestedAllocationsLeafFirst(t *testing.T) {
	inner := interp.NewAllocation([]byte("inner"), 1)
	outer := interp.NewAllocation(make([]byte, 8), 8)
	outer.AddReloc(0, 1)
	src := allocSource{1: inner, 2: outer}

	v := interp.ByRefValue(2, outer, 0)

	c, allocs, err := BuildConstChunks(v, "aarch64", src)
	if err != nil {
		t.Fatalf("BuildConstChunks: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("alloc chunks: got %d, want 2", len(allocs))
	}

	// Leaf first: the inner allocation has no dependencies, the outer
	// one depends on it, and the const chunk depends on the outer.
	if len(allocs[0].Dependencies) != 0 {
		t.Error("first chunk should be the leaf")
	}
	if len(allocs[1].Dependencies) != 1 || allocs[1].Dependencies[0] != allocs[0].Hash {
		t.Error("second chunk should depend on the leaf")
	}
	if len(c.Dependencies) != 1 || c.Dependencies[0] != allocs[1].Hash {
		t.Error("const chunk should depend on the outer allocation")
	}
}

func TestBuildConstChunks_HashIndependentOfLocalIDs(t *testing.T) {
	build := func(innerID, outerID interp.AllocID) (*Chunk, []*Chunk) {
		inner := interp.NewAllocation([]byte("shared"), 1)
		outer := interp.NewAllocation(make([]byte, 8), 8)
		outer.AddReloc(0, innerID)
		src := allocSource{innerID: inner, outerID: outer}

		c, allocs, err := BuildConstChunks(interp.ByRefValue(outerID, outer, 0), "x86_64", src)
		if err != nil {
			t.Fatalf("BuildConstChunks: %v", err)
		}
		return c, allocs
	}

	c1, allocs1 := build(1, 2)
	c2, allocs2 := build(40, 77)

	if c1.Hash != c2.Hash {
		t.Error("const hash should not depend on local allocation numbering")
	}
	for i := range allocs1 {
		if allocs1[i].Hash != allocs2[i].Hash {
			t.Errorf("alloc chunk %d hash differs across numberings", i)
		}
	}
}

func TestBuildConstChunks_SharedAllocationDeduped(t *testing.T) {
	data := interp.NewAllocation([]byte("once"), 1)
	src := allocSource{9: data}

	p := interp.FromPointer(interp.NewPointer(interp.AllocID(9), 0))
	q := interp.FromPointer(interp.NewPointer(interp.AllocID(9), 2))
	v := interp.ScalarPairValue(p, q)

	c, allocs, err := BuildConstChunks(v, "x86_64", src)
	if err != nil {
		t.Fatalf("BuildConstChunks: %v", err)
	}
	if len(allocs) != 1 {
		t.Errorf("alloc chunks: got %d, want 1", len(allocs))
	}
	if len(c.Dependencies) != 1 {
		t.Errorf("dependencies: got %d, want 1", len(c.Dependencies))
	}
}

func TestBuildConstChunks_CycleRejected(t *testing.T) {
	a1 := interp.NewAllocation(make([]byte, 8), 8)
	a2 := interp.NewAllocation(make([]byte, 8), 8)
	a1.AddReloc(0, 2)
	a2.AddReloc(0, 1)
	src := allocSource{1: a1, 2: a2}

	_, _, err := BuildConstChunks(interp.ByRefValue(1, a1, 0), "x86_64", src)
	if err == nil {
		t.Fatal("cyclic allocations should be rejected")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error should name the cycle: %v", err)
	}
}

func TestBuildConstChunks_UnevaluatedRejected(t *testing.T) {
	v := interp.UnevaluatedValue(10, 0)
	if _, _, err := BuildConstChunks(v, "x86_64", nil); err == nil {
		t.Error("unevaluated constants should be rejected")
	}
}

func TestBuildConstChunks_UnknownAllocation(t *testing.T) {
	v := interp.ScalarValue(interp.FromPointer(interp.NewPointer(interp.AllocID(9), 0)))
	_, _, err := BuildConstChunks(v, "x86_64", nil)
	if err == nil {
		t.Fatal("dangling pointer should be rejected")
	}
	if !strings.Contains(err.Error(), "unknown allocation") {
		t.Errorf("error should name the allocation: %v", err)
	}
}

func TestConstRoundTrip_Slice(t *testing.T) {
	data := interp.NewAllocation([]byte("hello"), 1)
	src := allocSource{7: data}
	v := interp.NewSlice(interp.FromPointer(interp.NewPointer(interp.AllocID(7), 0)), 5, testLayout)

	c, allocs, err := BuildConstChunks(v, "x86_64", src)
	if err != nil {
		t.Fatalf("BuildConstChunks: %v", err)
	}

	b := newTestBinder()
	b.ingest(t, allocs)

	got, err := DecodeConstPayload(c.Payload, c.Dependencies, b)
	if err != nil {
		t.Fatalf("DecodeConstPayload: %v", err)
	}
	if got.Kind() != interp.KindScalarPair {
		t.Fatalf("Kind: got %s, want pair", got.Kind())
	}

	first, second := got.Pair()
	p, err := first.ToPointer()
	if err != nil {
		t.Fatalf("ToPointer: %v", err)
	}
	if p.ByteOffset() != 0 {
		t.Errorf("pointer offset: got %d, want 0", p.ByteOffset())
	}
	bound, _, err := b.BindAlloc(allocs[0].Hash)
	if err != nil {
		t.Fatalf("BindAlloc: %v", err)
	}
	if p.Alloc() != bound {
		t.Errorf("pointer should use the receiver's allocation ID: got %s, want %s", p.Alloc(), bound)
	}

	n, err := second.ToUsize(testLayout)
	if err != nil {
		t.Fatalf("ToUsize: %v", err)
	}
	if n != 5 {
		t.Errorf("length: got %d, want 5", n)
	}

	_, a, err := b.BindAlloc(allocs[0].Hash)
	if err != nil {
		t.Fatalf("BindAlloc: %v", err)
	}
	if !a.Equal(data) {
		t.Error("decoded allocation should match the original")
	}
}

func TestConstRoundTrip_ByRef(t *testing.T) {
	data := interp.NewAllocation([]byte{0x2A, 0, 0, 0}, 4)
	src := allocSource{3: data}
	v := interp.ByRefValue(3, data, 0)

	c, allocs, err := BuildConstChunks(v, "i686", src)
	if err != nil {
		t.Fatalf("BuildConstChunks: %v", err)
	}

	b := newTestBinder()
	b.ingest(t, allocs)

	got, err := DecodeConstPayload(c.Payload, c.Dependencies, b)
	if err != nil {
		t.Fatalf("DecodeConstPayload: %v", err)
	}
	id, a, off := got.ByRef()
	if off != 0 {
		t.Errorf("offset: got %d, want 0", off)
	}
	if a == nil || !a.Equal(data) {
		t.Error("by-ref allocation should match the original")
	}
	if id != b.ids[allocs[0].Hash] {
		t.Errorf("by-ref should use the receiver's allocation ID: got %s", id)
	}
}

func TestBuildAllocChunks_RootLast(t *testing.T) {
	inner := interp.NewAllocation([]byte("leaf"), 1)
	outer := interp.NewAllocation(make([]byte, 16), 8)
	outer.AddReloc(0, 1)
	outer.AddReloc(8, 1)
	src := allocSource{1: inner, 2: outer}

	chunks, err := BuildAllocChunks(2, src)
	if err != nil {
		t.Fatalf("BuildAllocChunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks: got %d, want 2", len(chunks))
	}
	root := chunks[len(chunks)-1]
	if len(root.Dependencies) != 1 {
		t.Errorf("two relocations to one target should share a dependency entry: got %d", len(root.Dependencies))
	}
}

func TestTransitiveClosure(t *testing.T) {
	inner := interp.NewAllocation([]byte("leaf"), 1)
	outer := interp.NewAllocation(make([]byte, 8), 8)
	outer.AddReloc(0, 1)
	src := allocSource{1: inner, 2: outer}

	c, allocs, err := BuildConstChunks(interp.ByRefValue(2, outer, 0), "x86_64", src)
	if err != nil {
		t.Fatalf("BuildConstChunks: %v", err)
	}

	store := &fakeStore{chunks: map[interp.ContentHash]*Chunk{c.Hash: c}}
	for _, a := range allocs {
		store.chunks[a.Hash] = a
	}

	closure := TransitiveClosure(c.Hash, store)
	if len(closure) != 3 {
		t.Errorf("closure: got %d hashes, want 3", len(closure))
	}
	if closure[0] != c.Hash {
		t.Error("closure should start at the root")
	}
}

func TestClosureLeafFirst(t *testing.T) {
	inner := interp.NewAllocation([]byte("leaf"), 1)
	outer := interp.NewAllocation(make([]byte, 8), 8)
	outer.AddReloc(0, 1)
	src := allocSource{1: inner, 2: outer}

	c, allocs, err := BuildConstChunks(interp.ByRefValue(2, outer, 0), "x86_64", src)
	if err != nil {
		t.Fatalf("BuildConstChunks: %v", err)
	}

	store := &fakeStore{chunks: map[interp.ContentHash]*Chunk{c.Hash: c}}
	for _, a := range allocs {
		store.chunks[a.Hash] = a
	}

	closure := ClosureLeafFirst(c.Hash, store)
	if len(closure) != 3 {
		t.Fatalf("closure: got %d hashes, want 3", len(closure))
	}
	if closure[len(closure)-1] != c.Hash {
		t.Error("root should come last")
	}

	// Every chunk must appear after all of its dependencies.
	pos := make(map[interp.ContentHash]int)
	for i, h := range closure {
		pos[h] = i
	}
	for _, h := range closure {
		for _, dep := range store.ChunkDependencies(h) {
			if pos[dep] >= pos[h] {
				t.Errorf("dependency %s ordered after dependent %s", dep, h)
			}
		}
	}
}

func TestOrderLeafFirst(t *testing.T) {
	inner := interp.NewAllocation([]byte("leaf"), 1)
	outer := interp.NewAllocation(make([]byte, 8), 8)
	outer.AddReloc(0, 1)
	src := allocSource{1: inner, 2: outer}

	c, allocs, err := BuildConstChunks(interp.ByRefValue(2, outer, 0), "x86_64", src)
	if err != nil {
		t.Fatalf("BuildConstChunks: %v", err)
	}
	plain, _, err := BuildConstChunks(interp.ScalarValue(interp.FromUint(1, 4)), "", nil)
	if err != nil {
		t.Fatalf("BuildConstChunks: %v", err)
	}

	store := &fakeStore{chunks: map[interp.ContentHash]*Chunk{c.Hash: c, plain.Hash: plain}}
	for _, a := range allocs {
		store.chunks[a.Hash] = a
	}

	// Root-first input, duplicates included.
	in := []interp.ContentHash{c.Hash, plain.Hash, c.Hash}
	out := OrderLeafFirst(in, store)
	if len(out) != 4 {
		t.Fatalf("ordered: got %d hashes, want 4", len(out))
	}

	pos := make(map[interp.ContentHash]int)
	for i, h := range out {
		pos[h] = i
	}
	for _, h := range out {
		for _, dep := range store.ChunkDependencies(h) {
			if pos[dep] >= pos[h] {
				t.Errorf("dependency %s ordered after dependent %s", dep, h)
			}
		}
	}
}

func TestBuildTargetManifest(t *testing.T) {
	chunks := []*Chunk{
		{Type: ChunkConst, Target: "x86_64"},
		{Type: ChunkAlloc},
		{Type: ChunkConst, Target: "wasm32"},
		{Type: ChunkConst, Target: "x86_64"},
	}

	m := BuildTargetManifest(chunks)
	if m == nil {
		t.Fatal("manifest should not be nil")
	}
	if len(m.Targets) != 2 || m.Targets[0] != "wasm32" || m.Targets[1] != "x86_64" {
		t.Errorf("Targets: got %v", m.Targets)
	}

	if BuildTargetManifest([]*Chunk{{Type: ChunkAlloc}}) != nil {
		t.Error("target-free chunk set should produce a nil manifest")
	}
}

func TestDecodeAllocPayload_RelocOutOfBounds(t *testing.T) {
	payload, err := cborEncMode.Marshal(&wireAlloc{
		Bytes:  []byte{1, 2},
		Align:  1,
		Relocs: []wireReloc{{Offset: 5, Alloc: 0}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	deps := []interp.ContentHash{{}}
	if _, err := DecodeAllocPayload(payload, deps, newTestBinder()); err == nil {
		t.Error("relocation outside the allocation should be rejected")
	}
}

func TestDecodeConstPayload_DepIndexOutOfRange(t *testing.T) {
	payload, err := cborEncMode.Marshal(&wireConst{Kind: wireConstByRef, Alloc: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if _, err := DecodeConstPayload(payload, nil, newTestBinder()); err == nil {
		t.Error("dependency index out of range should be rejected")
	}
}

func TestDecodeConstPayload_OversizedScalarRejected(t *testing.T) {
	payload, err := cborEncMode.Marshal(&wireConst{
		Kind: wireConstScalar,
		A:    &wireScalar{Kind: wireScalarBits, Size: 1, Lo: 0x1FF},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if _, err := DecodeConstPayload(payload, nil, newTestBinder()); err == nil {
		t.Error("bits exceeding the declared size should be rejected")
	}
}
