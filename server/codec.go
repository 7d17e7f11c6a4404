package server

import (
	"github.com/chazu/mira/interp/dist"
)

// cborCodec lets connect speak the sync protocol's canonical CBOR
// encoding instead of protobuf. Clients and handlers must both register
// it, so the wire format stays symmetric.
type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Marshal(v any) ([]byte, error) {
	return dist.MarshalMessage(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return dist.UnmarshalMessage(data, v)
}
