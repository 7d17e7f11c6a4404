package server

import (
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/mira/interp"
	"github.com/chazu/mira/interp/dist"
)

// SyncClient talks to a remote sync server.
type SyncClient struct {
	announce *connect.Client[dist.SyncAnnouncement, dist.AnnounceResponse]
	transfer *connect.Client[dist.TransferRequest, dist.TransferResult]
	fetch    *connect.Client[dist.FetchRequest, dist.SyncResponse]
	ping     *connect.Client[dist.PingRequest, dist.PingResponse]
	peerID   string
}

// NewSyncClient creates a client for the sync server at baseURL, e.g.
// "http://localhost:7744". The peer ID is sent with every request so
// the remote side can track reputation.
func NewSyncClient(httpClient connect.HTTPClient, baseURL, peerID string) *SyncClient {
	codec := connect.WithCodec(cborCodec{})
	return &SyncClient{
		announce: connect.NewClient[dist.SyncAnnouncement, dist.AnnounceResponse](httpClient, baseURL+AnnounceProcedure, codec),
		transfer: connect.NewClient[dist.TransferRequest, dist.TransferResult](httpClient, baseURL+TransferProcedure, codec),
		fetch:    connect.NewClient[dist.FetchRequest, dist.SyncResponse](httpClient, baseURL+FetchProcedure, codec),
		ping:     connect.NewClient[dist.PingRequest, dist.PingResponse](httpClient, baseURL+PingProcedure, codec),
		peerID:   peerID,
	}
}

// PeerID returns the identity this client presents to servers.
func (c *SyncClient) PeerID() string {
	return c.peerID
}

// Announce offers a set of hashes to the remote peer.
func (c *SyncClient) Announce(ctx context.Context, a *dist.SyncAnnouncement) (*dist.AnnounceResponse, error) {
	resp, err := c.announce.CallUnary(ctx, newRequest(c.peerID, a))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Transfer pushes chunks to the remote peer.
func (c *SyncClient) Transfer(ctx context.Context, r *dist.TransferRequest) (*dist.TransferResult, error) {
	resp, err := c.transfer.CallUnary(ctx, newRequest(c.peerID, r))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Fetch pulls chunks from the remote peer.
func (c *SyncClient) Fetch(ctx context.Context, r *dist.FetchRequest) (*dist.SyncResponse, error) {
	resp, err := c.fetch.CallUnary(ctx, newRequest(c.peerID, r))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Ping asks the remote peer what it is holding.
func (c *SyncClient) Ping(ctx context.Context) (*dist.PingResponse, error) {
	resp, err := c.ping.CallUnary(ctx, newRequest(c.peerID, &dist.PingRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// newRequest stamps the caller's peer ID on an outgoing request.
func newRequest[T any](peerID string, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set(PeerIDHeader, peerID)
	return req
}

// Push announces the closure of root to the remote peer and transfers
// whatever it is missing. Returns a zero result when the peer already
// has everything.
func (c *SyncClient) Push(ctx context.Context, st Store, root interp.ContentHash) (*dist.TransferResult, error) {
	rootChunk, err := st.GetChunk(root)
	if err != nil {
		return nil, fmt.Errorf("loading root chunk: %w", err)
	}

	ann := &dist.SyncAnnouncement{
		RootHash:    root,
		AllHashes:   dist.TransitiveClosure(root, st),
		Targets:     dist.BuildTargetManifest([]*dist.Chunk{rootChunk}),
		HashVersion: dist.ChunkHashVersion,
	}
	resp, err := c.Announce(ctx, ann)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case dist.AnnounceRejected:
		return nil, fmt.Errorf("peer rejected announcement: %s", resp.RejectReason)
	case dist.AnnounceAlreadyHave:
		return &dist.TransferResult{}, nil
	}

	var chunks []dist.Chunk
	for _, h := range dist.OrderLeafFirst(resp.Want, st) {
		ch, err := st.GetChunk(h)
		if err != nil {
			continue
		}
		chunks = append(chunks, *ch)
	}

	return c.Transfer(ctx, &dist.TransferRequest{Chunks: chunks})
}

// Pull fetches the closure of root from the remote peer and stores it,
// verifying every chunk locally. A zero root pulls everything the peer
// has. Returns the number of chunks newly stored.
func (c *SyncClient) Pull(ctx context.Context, st Store, root interp.ContentHash) (int, error) {
	resp, err := c.Fetch(ctx, &dist.FetchRequest{Root: root})
	if err != nil {
		return 0, err
	}

	stored := 0
	for i := range resp.Chunks {
		ch := &resp.Chunks[i]
		if st.HasChunk(ch.Hash) {
			continue
		}
		if err := st.PutChunk(ch); err != nil {
			return stored, fmt.Errorf("storing fetched chunk %s: %w", ch.Hash, err)
		}
		stored++
	}
	return stored, nil
}
