// Package dist implements the content-addressed constant distribution
// protocol for Mira. Two evaluator nodes can exchange evaluated constants
// and their backing allocations as content-addressed chunks over HTTP
// using CBOR encoding.
package dist

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/chazu/mira/interp"
)

// ChunkType identifies the kind of content in a Chunk.
type ChunkType uint8

const (
	ChunkConst ChunkType = 1
	ChunkAlloc ChunkType = 2
)

func (t ChunkType) String() string {
	switch t {
	case ChunkConst:
		return "const"
	case ChunkAlloc:
		return "alloc"
	default:
		return "unknown"
	}
}

// Chunk is the atomic unit of constant distribution. The payload is the
// canonical CBOR encoding of a constant value or an allocation, with
// every allocation reference rewritten to an index into Dependencies.
// That makes the payload independent of the sender's local allocation
// numbering, so the same constant hashes identically on every node. The
// receiver decodes the payload and verifies that the recomputed hash
// matches.
//
// Target is set on const chunks and names the data layout the constant
// was evaluated for. Allocation chunks are raw bytes plus relocations
// and carry no target.
type Chunk struct {
	Hash         interp.ContentHash   `cbor:"1,keyasint"`
	Type         ChunkType            `cbor:"2,keyasint"`
	Payload      []byte               `cbor:"3,keyasint"`
	Target       string               `cbor:"4,keyasint,omitempty"`
	Dependencies []interp.ContentHash `cbor:"5,keyasint,omitempty"`
}

// ChunkHashVersion is mixed into every chunk hash. Bump it whenever the
// payload wire format or the hash layout changes. Peers announcing a
// different version cannot interoperate and are rejected.
const ChunkHashVersion byte = 1

// ComputeChunkHash computes the content identity of a chunk. The hash
// covers the chunk type, the target name, the payload bytes, and the
// dependency hashes in order, so two chunks built from the same value
// have the same identity regardless of which node built them.
func ComputeChunkHash(typ ChunkType, target string, payload []byte, deps []interp.ContentHash) interp.ContentHash {
	buf := make([]byte, 0, 2+8+len(target)+8+len(payload)+4+len(deps)*sha256.Size)
	buf = append(buf, ChunkHashVersion, byte(typ))
	buf = appendLenPrefixed(buf, []byte(target))
	buf = appendLenPrefixed(buf, payload)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(deps)))
	for _, d := range deps {
		buf = append(buf, d[:]...)
	}
	return sha256.Sum256(buf)
}

func appendLenPrefixed(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(b)))
	return append(buf, b...)
}

// SyncAnnouncement is sent by a peer to advertise what it has available.
type SyncAnnouncement struct {
	RootHash    interp.ContentHash   `cbor:"1,keyasint"`
	AllHashes   []interp.ContentHash `cbor:"2,keyasint"`
	Targets     *TargetManifest      `cbor:"3,keyasint,omitempty"`
	HashVersion byte                 `cbor:"4,keyasint"`
}

// SyncRequest is the have/want negotiation message.
type SyncRequest struct {
	Have []interp.ContentHash `cbor:"1,keyasint"`
	Want []interp.ContentHash `cbor:"2,keyasint"`
}

// SyncResponse carries the requested chunks.
type SyncResponse struct {
	Chunks []Chunk `cbor:"1,keyasint"`
}

// TargetManifest declares which targets a set of const chunks was
// evaluated for. A receiver only accepts constants for targets it
// recognizes.
type TargetManifest struct {
	Targets []string `cbor:"1,keyasint"` // e.g., "x86_64", "wasm32"
}

// AnnounceStatus indicates the result of an announcement.
type AnnounceStatus uint8

const (
	AnnounceAccepted    AnnounceStatus = 0
	AnnounceRejected    AnnounceStatus = 1
	AnnounceAlreadyHave AnnounceStatus = 2
)

// AnnounceResponse is the reply to a SyncAnnouncement.
type AnnounceResponse struct {
	Status       AnnounceStatus       `cbor:"1,keyasint"`
	Want         []interp.ContentHash `cbor:"2,keyasint,omitempty"`
	RejectReason string               `cbor:"3,keyasint,omitempty"`
}

// TransferRequest pushes chunks to a peer, ordered so dependencies
// precede their dependents.
type TransferRequest struct {
	Chunks []Chunk `cbor:"1,keyasint"`
}

// TransferResult summarizes the outcome of a chunk transfer.
type TransferResult struct {
	Accepted     int                  `cbor:"1,keyasint"`
	Rejected     int                  `cbor:"2,keyasint"`
	FailedHashes []interp.ContentHash `cbor:"3,keyasint,omitempty"`
}

// FetchRequest asks a peer for chunks. An explicit want list fetches
// those chunks plus their dependencies; a root hash fetches its whole
// closure; a zero request fetches everything the peer has.
type FetchRequest struct {
	Root interp.ContentHash   `cbor:"1,keyasint,omitempty"`
	Want []interp.ContentHash `cbor:"2,keyasint,omitempty"`
}

// PingRequest probes a peer.
type PingRequest struct{}

// PingResponse reports what a peer is holding.
type PingResponse struct {
	Consts int64  `cbor:"1,keyasint"`
	Allocs int64  `cbor:"2,keyasint"`
	PeerID string `cbor:"3,keyasint,omitempty"`
}
