package dist

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultBanThreshold = 3

// NewPeerID generates the identity a node announces itself under.
func NewPeerID() string {
	return uuid.NewString()
}

// PeerReputation tracks the trust level of a single peer.
type PeerReputation struct {
	PeerID          string
	SuccessfulSyncs int
	FailedSyncs     int
	HashMismatches  int
	ChunksReceived  int
	LastSeen        time.Time
	Banned          bool
}

// PeerStore maintains reputation data for all known peers.
type PeerStore struct {
	mu           sync.RWMutex
	peers        map[string]*PeerReputation
	banThreshold int
}

// NewPeerStore creates a new peer store with default settings.
func NewPeerStore() *PeerStore {
	return &PeerStore{
		peers:        make(map[string]*PeerReputation),
		banThreshold: defaultBanThreshold,
	}
}

// getOrCreate returns the reputation for a peer, creating it if needed.
// Caller must hold the write lock.
func (ps *PeerStore) getOrCreate(peerID string) *PeerReputation {
	p, ok := ps.peers[peerID]
	if !ok {
		p = &PeerReputation{PeerID: peerID}
		ps.peers[peerID] = p
	}
	p.LastSeen = time.Now()
	return p
}

// RecordSuccess records a successful sync with a peer.
func (ps *PeerStore) RecordSuccess(peerID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p := ps.getOrCreate(peerID)
	p.SuccessfulSyncs++
}

// RecordFailure records a failed sync with a peer.
func (ps *PeerStore) RecordFailure(peerID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p := ps.getOrCreate(peerID)
	p.FailedSyncs++
}

// RecordChunks records how many chunks a peer delivered in a sync.
func (ps *PeerStore) RecordChunks(peerID string, n int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p := ps.getOrCreate(peerID)
	p.ChunksReceived += n
}

// RecordHashMismatch records a chunk verification failure. The peer is
// automatically banned after reaching the threshold (default: 3).
func (ps *PeerStore) RecordHashMismatch(peerID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p := ps.getOrCreate(peerID)
	p.HashMismatches++
	if p.HashMismatches >= ps.banThreshold {
		p.Banned = true
	}
}

// IsBanned returns true if the peer has been banned.
func (ps *PeerStore) IsBanned(peerID string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.peers[peerID]
	if !ok {
		return false
	}
	return p.Banned
}

// GetReputation returns a copy of the peer's reputation data.
// Returns nil if the peer is unknown.
func (ps *PeerStore) GetReputation(peerID string) *PeerReputation {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.peers[peerID]
	if !ok {
		return nil
	}
	copy := *p
	return &copy
}

// PeerCount returns the number of known peers.
func (ps *PeerStore) PeerCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

// Snapshot returns a copy of every peer's reputation, sorted by peer ID
// for stable display.
func (ps *PeerStore) Snapshot() []PeerReputation {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]PeerReputation, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}
