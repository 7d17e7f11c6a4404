package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/mira/interp"
	"github.com/chazu/mira/interp/dist"
)

var testLayout = interp.DataLayout{PointerSize: 8, Endian: interp.LittleEndian}

// allocSource is a plain map of local allocations for building chunks.
type allocSource map[interp.AllocID]*interp.Allocation

func (m allocSource) Allocation(id interp.AllocID) (*interp.Allocation, bool) {
	a, ok := m[id]
	return a, ok
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// scalarChunk builds a const chunk with no dependencies.
func scalarChunk(t *testing.T, v int64, target string) *dist.Chunk {
	t.Helper()
	c, allocs, err := dist.BuildConstChunks(interp.ScalarValue(interp.FromInt(v, 8)), target, nil)
	require.NoError(t, err)
	require.Empty(t, allocs)
	return c
}

// byrefChunks builds a const chunk referencing a two-level allocation
// graph. Returns the const chunk and its allocation chunks leaf first.
func byrefChunks(t *testing.T, target string) (*dist.Chunk, []*dist.Chunk) {
	t.Helper()
	inner := interp.NewAllocation([]byte("leaf"), 1)
	outer := interp.NewAllocation(make([]byte, 8), 8)
	outer.AddReloc(0, 1)
	src := allocSource{1: inner, 2: outer}

	c, allocs, err := dist.BuildConstChunks(interp.ByRefValue(2, outer, 0), target, src)
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	return c, allocs
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dirs", "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, path, s.Path())
	assert.Len(t, s.Session(), 36)
}

func TestPutAndGetChunk(t *testing.T) {
	s := newTestStore(t)
	c := scalarChunk(t, 42, "x86_64")

	require.NoError(t, s.PutChunk(c))
	assert.True(t, s.HasChunk(c.Hash))

	got, err := s.GetChunk(c.Hash)
	require.NoError(t, err)
	assert.Equal(t, c.Hash, got.Hash)
	assert.Equal(t, dist.ChunkConst, got.Type)
	assert.Equal(t, "x86_64", got.Target)
	assert.Equal(t, c.Payload, got.Payload)
	assert.Empty(t, got.Dependencies)
}

func TestGetChunkNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetChunk(interp.ContentHash{})
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestPutChunkRejectsTampered(t *testing.T) {
	s := newTestStore(t)
	c := scalarChunk(t, 42, "x86_64")
	c.Target = "aarch64"

	err := s.PutChunk(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
	assert.False(t, s.HasChunk(c.Hash))
}

func TestPutChunkMissingDependency(t *testing.T) {
	s := newTestStore(t)
	c, _ := byrefChunks(t, "x86_64")

	err := s.PutChunk(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing dependency")
	assert.False(t, s.HasChunk(c.Hash))
}

func TestPutChunkLeafFirst(t *testing.T) {
	s := newTestStore(t)
	c, allocs := byrefChunks(t, "x86_64")

	for _, a := range allocs {
		require.NoError(t, s.PutChunk(a))
	}
	require.NoError(t, s.PutChunk(c))

	assert.Equal(t, c.Dependencies, s.ChunkDependencies(c.Hash))

	consts, asum, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, int64(1), consts)
	assert.Equal(t, int64(2), asum)
}

func TestPutChunkIdempotent(t *testing.T) {
	s := newTestStore(t)
	c := scalarChunk(t, 7, "")

	require.NoError(t, s.PutChunk(c))
	require.NoError(t, s.PutChunk(c))

	consts, _, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, int64(1), consts)
}

func TestAllHashesAndMissingFrom(t *testing.T) {
	s := newTestStore(t)
	a := scalarChunk(t, 1, "")
	b := scalarChunk(t, 2, "")

	require.NoError(t, s.PutChunk(a))

	all, err := s.AllHashes()
	require.NoError(t, err)
	assert.Equal(t, []interp.ContentHash{a.Hash}, all)

	missing := s.MissingFrom([]interp.ContentHash{a.Hash, b.Hash})
	assert.Equal(t, []interp.ContentHash{b.Hash}, missing)
}

func TestListConsts(t *testing.T) {
	s := newTestStore(t)
	c1 := scalarChunk(t, 1, "x86_64")
	c2 := scalarChunk(t, 2, "wasm32")
	require.NoError(t, s.PutChunk(c1))
	require.NoError(t, s.PutChunk(c2))

	entries, err := s.ListConsts()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	targets := map[interp.ContentHash]string{}
	for _, e := range entries {
		targets[e.Hash] = e.Target
		assert.False(t, e.StoredAt.IsZero())
	}
	assert.Equal(t, "x86_64", targets[c1.Hash])
	assert.Equal(t, "wasm32", targets[c2.Hash])
}

func TestGCRemovesUnreachableAllocs(t *testing.T) {
	s := newTestStore(t)
	c, allocs := byrefChunks(t, "x86_64")
	for _, a := range allocs {
		require.NoError(t, s.PutChunk(a))
	}
	require.NoError(t, s.PutChunk(c))

	// Everything is reachable, nothing to collect.
	removed, err := s.GC()
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Dropping the constant orphans both allocations.
	require.NoError(t, s.DeleteChunk(c.Hash))
	removed, err = s.GC()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	consts, asum, err := s.Counts()
	require.NoError(t, err)
	assert.Zero(t, consts)
	assert.Zero(t, asum)
}

func TestGCKeepsSharedAllocs(t *testing.T) {
	s := newTestStore(t)

	// Two constants sharing one allocation graph.
	inner := interp.NewAllocation([]byte("shared"), 1)
	src := allocSource{1: inner}
	h1, err := s.PutValue(interp.ByRefValue(1, inner, 0), "x86_64", src)
	require.NoError(t, err)
	_, err = s.PutValue(interp.ByRefValue(1, inner, 1), "x86_64", src)
	require.NoError(t, err)

	require.NoError(t, s.DeleteChunk(h1))

	// The second constant still reaches the allocation.
	removed, err := s.GC()
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, asum, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, int64(1), asum)
}

func TestReopenSeesChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c := scalarChunk(t, 42, "riscv64")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutChunk(c))
	firstSession := s.Session()
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.HasChunk(c.Hash))
	assert.NotEqual(t, firstSession, s.Session())
}
