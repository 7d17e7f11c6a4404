// Package server exposes a chunk store to peers over Connect.
//
// The sync protocol has four procedures. Announce offers a closure of
// chunk hashes and learns which ones the receiver wants. Transfer
// pushes chunks, dependencies first. Fetch pulls chunks by want list,
// by root closure, or wholesale. Ping reports store counts. Messages
// travel as canonical CBOR rather than protobuf, the same encoding the
// chunk payloads themselves use.
package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/mira/interp/dist"
)

// Procedure paths served by the sync server.
const (
	AnnounceProcedure = "/mira.v1.SyncService/Announce"
	TransferProcedure = "/mira.v1.SyncService/Transfer"
	FetchProcedure    = "/mira.v1.SyncService/Fetch"
	PingProcedure     = "/mira.v1.SyncService/Ping"
)

// PeerIDHeader carries the caller's peer identifier on every request.
const PeerIDHeader = "Mira-Peer-Id"

// Server serves the sync protocol over HTTP for one chunk store.
type Server struct {
	svc *SyncService
	mux *http.ServeMux
	log commonlog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	policy *dist.TargetPolicy
	peers  *dist.PeerStore
	peerID string
}

// WithPolicy sets the target policy for incoming chunks. If not set, a
// permissive policy (allow all) is used.
func WithPolicy(policy *dist.TargetPolicy) ServerOption {
	return func(c *serverConfig) { c.policy = policy }
}

// WithPeerStore sets the reputation store, letting several servers or a
// server and its client share one view of peer behavior.
func WithPeerStore(peers *dist.PeerStore) ServerOption {
	return func(c *serverConfig) { c.peers = peers }
}

// WithPeerID sets the identity this node reports to peers. If not set,
// a fresh one is generated.
func WithPeerID(id string) ServerOption {
	return func(c *serverConfig) { c.peerID = id }
}

// New creates a Server wrapping the given chunk store.
func New(store Store, opts ...ServerOption) *Server {
	cfg := &serverConfig{
		policy: dist.NewPermissivePolicy(),
		peers:  dist.NewPeerStore(),
		peerID: dist.NewPeerID(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	svc := NewSyncService(store, cfg.peers, cfg.policy, cfg.peerID)

	codec := connect.WithCodec(cborCodec{})
	mux := http.NewServeMux()
	mux.Handle(AnnounceProcedure, connect.NewUnaryHandler(AnnounceProcedure, svc.Announce, codec))
	mux.Handle(TransferProcedure, connect.NewUnaryHandler(TransferProcedure, svc.Transfer, codec))
	mux.Handle(FetchProcedure, connect.NewUnaryHandler(FetchProcedure, svc.Fetch, codec))
	mux.Handle(PingProcedure, connect.NewUnaryHandler(PingProcedure, svc.Ping, codec))

	return &Server{
		svc: svc,
		mux: mux,
		log: commonlog.GetLogger("mira.server"),
	}
}

// PeerID returns the identity this node reports to peers.
func (s *Server) PeerID() string {
	return s.svc.peerID
}

// Peers returns the reputation store tracking this server's callers.
func (s *Server) Peers() *dist.PeerStore {
	return s.svc.peers
}

// Handler returns the HTTP handler serving all sync procedures.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address. The
// address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	s.log.Noticef("sync server %s listening on %s", s.svc.peerID, addr)
	return http.ListenAndServe(addr, s.mux)
}
