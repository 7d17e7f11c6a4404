package dist

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"lukechampine.com/uint128"

	"github.com/chazu/mira/interp"
)

// cborEncMode holds CBOR encoding options with canonical mode for
// deterministic encoding. Chunk hashes cover the payload bytes, so the
// encoder must be deterministic.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalChunk serializes a Chunk to CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dist: unmarshal chunk: %w", err)
	}
	return &c, nil
}

// MarshalAnnouncement serializes a SyncAnnouncement to CBOR bytes.
func MarshalAnnouncement(a *SyncAnnouncement) ([]byte, error) {
	return cborEncMode.Marshal(a)
}

// UnmarshalAnnouncement deserializes a SyncAnnouncement from CBOR bytes.
func UnmarshalAnnouncement(data []byte) (*SyncAnnouncement, error) {
	var a SyncAnnouncement
	if err := cbor.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("dist: unmarshal announcement: %w", err)
	}
	return &a, nil
}

// MarshalSyncRequest serializes a SyncRequest to CBOR bytes.
func MarshalSyncRequest(r *SyncRequest) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalSyncRequest deserializes a SyncRequest from CBOR bytes.
func UnmarshalSyncRequest(data []byte) (*SyncRequest, error) {
	var r SyncRequest
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("dist: unmarshal sync request: %w", err)
	}
	return &r, nil
}

// MarshalSyncResponse serializes a SyncResponse to CBOR bytes.
func MarshalSyncResponse(r *SyncResponse) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalSyncResponse deserializes a SyncResponse from CBOR bytes.
func UnmarshalSyncResponse(data []byte) (*SyncResponse, error) {
	var r SyncResponse
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("dist: unmarshal sync response: %w", err)
	}
	return &r, nil
}

// MarshalAnnounceResponse serializes an AnnounceResponse to CBOR bytes.
func MarshalAnnounceResponse(r *AnnounceResponse) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalAnnounceResponse deserializes an AnnounceResponse from CBOR bytes.
func UnmarshalAnnounceResponse(data []byte) (*AnnounceResponse, error) {
	var r AnnounceResponse
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("dist: unmarshal announce response: %w", err)
	}
	return &r, nil
}

// MarshalTargetManifest serializes a TargetManifest to CBOR bytes.
func MarshalTargetManifest(m *TargetManifest) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

// UnmarshalTargetManifest deserializes a TargetManifest from CBOR bytes.
func UnmarshalTargetManifest(data []byte) (*TargetManifest, error) {
	var m TargetManifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dist: unmarshal target manifest: %w", err)
	}
	return &m, nil
}

// MarshalMessage serializes any sync protocol message with the canonical
// encoder. Transport codecs use this so every message on the wire shares
// one deterministic encoding.
func MarshalMessage(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// UnmarshalMessage deserializes a sync protocol message.
func UnmarshalMessage(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("dist: unmarshal message: %w", err)
	}
	return nil
}

// Payload wire forms. Allocation references are dependency-list indices,
// never sender-local allocation IDs. The field tags are part of the
// chunk hash and must not be reassigned.

const (
	wireScalarBits    = 0
	wireScalarPointer = 1
)

type wireScalar struct {
	Kind   uint8  `cbor:"1,keyasint"`
	Size   uint8  `cbor:"2,keyasint,omitempty"`
	Hi     uint64 `cbor:"3,keyasint,omitempty"`
	Lo     uint64 `cbor:"4,keyasint,omitempty"`
	Alloc  uint64 `cbor:"5,keyasint,omitempty"` // dependency index
	Offset uint64 `cbor:"6,keyasint,omitempty"`
}

const (
	wireConstScalar     = 0
	wireConstScalarPair = 1
	wireConstByRef      = 2
)

type wireConst struct {
	Kind   uint8       `cbor:"1,keyasint"`
	A      *wireScalar `cbor:"2,keyasint,omitempty"`
	B      *wireScalar `cbor:"3,keyasint,omitempty"`
	Alloc  uint64      `cbor:"4,keyasint,omitempty"` // dependency index
	Offset uint64      `cbor:"5,keyasint,omitempty"`
}

type wireReloc struct {
	Offset uint64 `cbor:"1,keyasint"`
	Alloc  uint64 `cbor:"2,keyasint"` // dependency index
}

type wireAlloc struct {
	Bytes  []byte      `cbor:"1,keyasint,omitempty"`
	Align  uint64      `cbor:"2,keyasint"`
	Relocs []wireReloc `cbor:"3,keyasint,omitempty"`
}

func unmarshalWireConst(payload []byte) (*wireConst, error) {
	var w wireConst
	if err := cbor.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("dist: unmarshal const payload: %w", err)
	}
	return &w, nil
}

func unmarshalWireAlloc(payload []byte) (*wireAlloc, error) {
	var w wireAlloc
	if err := cbor.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("dist: unmarshal alloc payload: %w", err)
	}
	return &w, nil
}

func validateWireScalar(w *wireScalar, ndeps int) error {
	switch w.Kind {
	case wireScalarBits:
		if w.Size > interp.MaxScalarSize {
			return fmt.Errorf("dist: scalar size %d out of range", w.Size)
		}
		bits := uint128.New(w.Lo, w.Hi)
		if !interp.Truncate(bits, w.Size).Equals(bits) {
			return fmt.Errorf("dist: scalar bits exceed declared size %d", w.Size)
		}
		return nil
	case wireScalarPointer:
		if w.Alloc >= uint64(ndeps) {
			return fmt.Errorf("dist: dependency index %d out of range", w.Alloc)
		}
		return nil
	default:
		return fmt.Errorf("dist: unknown scalar kind %d", w.Kind)
	}
}

func validateWireConst(w *wireConst, ndeps int) error {
	switch w.Kind {
	case wireConstScalar:
		if w.A == nil {
			return fmt.Errorf("dist: const payload missing scalar")
		}
		return validateWireScalar(w.A, ndeps)
	case wireConstScalarPair:
		if w.A == nil || w.B == nil {
			return fmt.Errorf("dist: const payload missing pair component")
		}
		if err := validateWireScalar(w.A, ndeps); err != nil {
			return err
		}
		return validateWireScalar(w.B, ndeps)
	case wireConstByRef:
		if w.Alloc >= uint64(ndeps) {
			return fmt.Errorf("dist: dependency index %d out of range", w.Alloc)
		}
		return nil
	default:
		return fmt.Errorf("dist: unknown const kind %d", w.Kind)
	}
}

func validateWireAlloc(w *wireAlloc, ndeps int) error {
	size := uint64(len(w.Bytes))
	for _, r := range w.Relocs {
		if r.Alloc >= uint64(ndeps) {
			return fmt.Errorf("dist: dependency index %d out of range", r.Alloc)
		}
		if r.Offset >= size {
			return fmt.Errorf("dist: relocation offset %d outside %d-byte allocation", r.Offset, size)
		}
	}
	return nil
}

// VerifyConstChunk checks that a const chunk's payload is well formed
// and that its declared hash matches the hash recomputed from the
// payload, target, and dependency list.
func VerifyConstChunk(c *Chunk) error {
	if c.Type != ChunkConst {
		return fmt.Errorf("dist: cannot verify non-const chunk (type=%s)", c.Type)
	}
	w, err := unmarshalWireConst(c.Payload)
	if err != nil {
		return err
	}
	if err := validateWireConst(w, len(c.Dependencies)); err != nil {
		return err
	}
	computed := ComputeChunkHash(ChunkConst, c.Target, c.Payload, c.Dependencies)
	if computed != c.Hash {
		return fmt.Errorf("dist: hash mismatch: declared %s, computed %s", c.Hash, computed)
	}
	return nil
}

// VerifyAllocChunk checks that an allocation chunk's payload is well
// formed and that its declared hash matches the recomputed hash.
func VerifyAllocChunk(c *Chunk) error {
	if c.Type != ChunkAlloc {
		return fmt.Errorf("dist: cannot verify non-alloc chunk (type=%s)", c.Type)
	}
	w, err := unmarshalWireAlloc(c.Payload)
	if err != nil {
		return err
	}
	if err := validateWireAlloc(w, len(c.Dependencies)); err != nil {
		return err
	}
	computed := ComputeChunkHash(ChunkAlloc, c.Target, c.Payload, c.Dependencies)
	if computed != c.Hash {
		return fmt.Errorf("dist: hash mismatch: declared %s, computed %s", c.Hash, computed)
	}
	return nil
}

// VerifyChunk dispatches to the verifier for the chunk's type.
func VerifyChunk(c *Chunk) error {
	switch c.Type {
	case ChunkConst:
		return VerifyConstChunk(c)
	case ChunkAlloc:
		return VerifyAllocChunk(c)
	default:
		return fmt.Errorf("dist: unknown chunk type %d", uint8(c.Type))
	}
}

// VerifyDependencies checks that every dependency hash declared by a
// chunk is already present in the store. This ensures allocations are
// ingested leaf first, so a pointer never dangles.
func VerifyDependencies(c *Chunk, store ChunkStore) error {
	for _, dep := range c.Dependencies {
		if !store.HasChunk(dep) {
			return fmt.Errorf("dist: %s chunk missing dependency %s", c.Type, dep)
		}
	}
	return nil
}
