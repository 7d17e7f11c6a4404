package server

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/mira/interp"
	"github.com/chazu/mira/interp/dist"
)

// Store is the chunk storage a sync service runs against.
type Store interface {
	dist.ChunkStore
	GetChunk(h interp.ContentHash) (*dist.Chunk, error)
	PutChunk(c *dist.Chunk) error
	AllHashes() ([]interp.ContentHash, error)
	MissingFrom(hashes []interp.ContentHash) []interp.ContentHash
	Counts() (consts, allocs int64, err error)
}

// SyncService implements the Connect handlers for content-addressed
// constant distribution.
type SyncService struct {
	store  Store
	peers  *dist.PeerStore
	policy *dist.TargetPolicy
	peerID string
	log    commonlog.Logger
}

// NewSyncService creates a SyncService. peerID identifies this node to
// peers that ping it.
func NewSyncService(store Store, peers *dist.PeerStore, policy *dist.TargetPolicy, peerID string) *SyncService {
	return &SyncService{
		store:  store,
		peers:  peers,
		policy: policy,
		peerID: peerID,
		log:    commonlog.GetLogger("mira.server"),
	}
}

// Announce handles an incoming announcement from a peer. It checks the
// hash version and target manifest against local policy, determines
// which hashes the local store is missing, and returns a want list.
func (s *SyncService) Announce(
	ctx context.Context,
	req *connect.Request[dist.SyncAnnouncement],
) (*connect.Response[dist.AnnounceResponse], error) {
	msg := req.Msg
	peerID := peerFromRequest(req)

	if s.peers.IsBanned(peerID) {
		return nil, connect.NewError(connect.CodePermissionDenied, fmt.Errorf("peer %s is banned", peerID))
	}

	if msg.HashVersion != dist.ChunkHashVersion {
		return connect.NewResponse(&dist.AnnounceResponse{
			Status:       dist.AnnounceRejected,
			RejectReason: fmt.Sprintf("hash version %d not supported, this node speaks %d", msg.HashVersion, dist.ChunkHashVersion),
		}), nil
	}

	if err := s.policy.Check(msg.Targets); err != nil {
		s.log.Noticef("rejected announcement from %s: %v", peerID, err)
		return connect.NewResponse(&dist.AnnounceResponse{
			Status:       dist.AnnounceRejected,
			RejectReason: err.Error(),
		}), nil
	}

	want := s.store.MissingFrom(msg.AllHashes)
	if len(want) == 0 {
		return connect.NewResponse(&dist.AnnounceResponse{
			Status: dist.AnnounceAlreadyHave,
		}), nil
	}

	s.log.Debugf("announce from %s: root %s, want %d of %d", peerID, msg.RootHash, len(want), len(msg.AllHashes))
	return connect.NewResponse(&dist.AnnounceResponse{
		Status: dist.AnnounceAccepted,
		Want:   want,
	}), nil
}

// Transfer receives chunks from a peer, verifies each one, and stores
// the survivors. Chunks whose hash does not match their content count
// against the sender's reputation.
func (s *SyncService) Transfer(
	ctx context.Context,
	req *connect.Request[dist.TransferRequest],
) (*connect.Response[dist.TransferResult], error) {
	peerID := peerFromRequest(req)

	if s.peers.IsBanned(peerID) {
		return nil, connect.NewError(connect.CodePermissionDenied, fmt.Errorf("peer %s is banned", peerID))
	}

	var accepted, rejected int
	var failed []interp.ContentHash

	for i := range req.Msg.Chunks {
		c := &req.Msg.Chunks[i]

		if err := dist.VerifyChunk(c); err != nil {
			rejected++
			failed = append(failed, c.Hash)
			s.peers.RecordHashMismatch(peerID)
			s.log.Noticef("rejected chunk %s from %s: %v", c.Hash, peerID, err)
			continue
		}
		if err := s.policy.CheckChunk(c); err != nil {
			rejected++
			failed = append(failed, c.Hash)
			continue
		}
		if err := s.store.PutChunk(c); err != nil {
			rejected++
			failed = append(failed, c.Hash)
			s.log.Errorf("storing chunk %s from %s: %v", c.Hash, peerID, err)
			continue
		}
		accepted++
	}

	s.peers.RecordChunks(peerID, accepted)
	if rejected > 0 {
		s.peers.RecordFailure(peerID)
	} else {
		s.peers.RecordSuccess(peerID)
	}

	return connect.NewResponse(&dist.TransferResult{
		Accepted:     accepted,
		Rejected:     rejected,
		FailedHashes: failed,
	}), nil
}

// Fetch serves chunks to a peer. An explicit want list returns exactly
// those chunks plus their dependencies; a root hash returns its whole
// closure; an empty request returns everything. Chunks are always
// ordered so dependencies come first.
func (s *SyncService) Fetch(
	ctx context.Context,
	req *connect.Request[dist.FetchRequest],
) (*connect.Response[dist.SyncResponse], error) {
	msg := req.Msg
	peerID := peerFromRequest(req)

	if s.peers.IsBanned(peerID) {
		return nil, connect.NewError(connect.CodePermissionDenied, fmt.Errorf("peer %s is banned", peerID))
	}

	var hashes []interp.ContentHash
	switch {
	case len(msg.Want) > 0:
		hashes = dist.OrderLeafFirst(msg.Want, s.store)
	case msg.Root != (interp.ContentHash{}):
		if !s.store.HasChunk(msg.Root) {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("unknown root %s", msg.Root))
		}
		hashes = dist.ClosureLeafFirst(msg.Root, s.store)
	default:
		all, err := s.store.AllHashes()
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		hashes = dist.OrderLeafFirst(all, s.store)
	}

	var chunks []dist.Chunk
	for _, h := range hashes {
		c, err := s.store.GetChunk(h)
		if err != nil {
			// Want lists may name chunks this node never had.
			continue
		}
		chunks = append(chunks, *c)
	}

	s.log.Debugf("fetch from %s: serving %d chunks", peerID, len(chunks))
	return connect.NewResponse(&dist.SyncResponse{Chunks: chunks}), nil
}

// Ping reports what this node is holding.
func (s *SyncService) Ping(
	ctx context.Context,
	req *connect.Request[dist.PingRequest],
) (*connect.Response[dist.PingResponse], error) {
	consts, allocs, err := s.store.Counts()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&dist.PingResponse{
		Consts: consts,
		Allocs: allocs,
		PeerID: s.peerID,
	}), nil
}

// peerFromRequest extracts the caller's peer identifier. Peers state
// their identity in a header; callers without one are keyed by remote
// address so reputation still accumulates somewhere.
func peerFromRequest(req connect.AnyRequest) string {
	if id := req.Header().Get(PeerIDHeader); id != "" {
		return id
	}
	if addr := req.Peer().Addr; addr != "" {
		return addr
	}
	return "unknown"
}
