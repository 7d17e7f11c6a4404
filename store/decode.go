package store

import (
	"fmt"

	"github.com/chazu/mira/interp"
	"github.com/chazu/mira/interp/dist"
)

// Memory holds allocations materialized from the store, keyed by the
// local IDs assigned as they were decoded. Decoding several constants
// through one Memory lets them share allocations, the same way shared
// chunks are stored once.
type Memory struct {
	allocs map[interp.AllocID]*interp.Allocation
	ids    map[interp.ContentHash]interp.AllocID
	hashes map[interp.AllocID]interp.ContentHash
	next   interp.AllocID
}

// Memory is an allocation source, so decoded values can be chunked
// right back.
var _ dist.AllocSource = (*Memory)(nil)

// NewMemory creates an empty Memory. Local IDs start at 1.
func NewMemory() *Memory {
	return &Memory{
		allocs: make(map[interp.AllocID]*interp.Allocation),
		ids:    make(map[interp.ContentHash]interp.AllocID),
		hashes: make(map[interp.AllocID]interp.ContentHash),
		next:   1,
	}
}

// Allocation returns the allocation bound to a local ID.
func (m *Memory) Allocation(id interp.AllocID) (*interp.Allocation, bool) {
	a, ok := m.allocs[id]
	return a, ok
}

// HashOf returns the content hash a local ID was decoded from.
func (m *Memory) HashOf(id interp.AllocID) (interp.ContentHash, bool) {
	h, ok := m.hashes[id]
	return h, ok
}

// Len returns the number of bound allocations.
func (m *Memory) Len() int {
	return len(m.allocs)
}

func (m *Memory) bind(h interp.ContentHash, a *interp.Allocation) interp.AllocID {
	id := m.next
	m.next++
	m.allocs[id] = a
	m.ids[h] = id
	m.hashes[id] = h
	return id
}

// binder materializes allocation chunks from the store into a Memory.
// Already-bound hashes resolve to their existing local ID, so shared
// dependencies decode once.
type binder struct {
	s   *Store
	mem *Memory
}

var _ dist.AllocBinder = (*binder)(nil)

func (b *binder) BindAlloc(h interp.ContentHash) (interp.AllocID, *interp.Allocation, error) {
	if id, ok := b.mem.ids[h]; ok {
		return id, b.mem.allocs[id], nil
	}

	c, err := b.s.GetChunk(h)
	if err != nil {
		return 0, nil, err
	}
	if c.Type != dist.ChunkAlloc {
		return 0, nil, fmt.Errorf("chunk %s is not an allocation", h)
	}

	a, err := dist.DecodeAllocPayload(c.Payload, c.Dependencies, b)
	if err != nil {
		return 0, nil, err
	}

	id := b.mem.bind(h, a)
	return id, a, nil
}

// DecodeConst materializes a stored constant chunk as a value. The
// allocations it references are decoded into mem, and the returned
// value's pointers carry mem's local IDs.
func (s *Store) DecodeConst(h interp.ContentHash, mem *Memory) (interp.ConstValue, error) {
	c, err := s.GetChunk(h)
	if err != nil {
		return interp.ConstValue{}, err
	}
	if c.Type != dist.ChunkConst {
		return interp.ConstValue{}, fmt.Errorf("chunk %s is not a constant", h)
	}
	return dist.DecodeConstPayload(c.Payload, c.Dependencies, &binder{s: s, mem: mem})
}

// DecodeAlloc materializes a stored allocation chunk into mem and
// returns its local ID.
func (s *Store) DecodeAlloc(h interp.ContentHash, mem *Memory) (interp.AllocID, *interp.Allocation, error) {
	return (&binder{s: s, mem: mem}).BindAlloc(h)
}

// PutValue chunks an evaluated constant and stores the result,
// allocations first so the store's dependency invariant holds at every
// step. Returns the constant's chunk hash. Storing the same value for
// the same target twice yields the same hash and writes nothing new.
func (s *Store) PutValue(v interp.ConstValue, target string, src dist.AllocSource) (interp.ContentHash, error) {
	root, allocs, err := dist.BuildConstChunks(v, target, src)
	if err != nil {
		return interp.ContentHash{}, err
	}
	for _, a := range allocs {
		if err := s.PutChunk(a); err != nil {
			return interp.ContentHash{}, err
		}
	}
	if err := s.PutChunk(root); err != nil {
		return interp.ContentHash{}, err
	}
	return root.Hash, nil
}
