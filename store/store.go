// Package store persists constant chunks in a local SQLite database.
//
// The store is content addressed: chunks are keyed by their hash, and
// every chunk is verified before it is written, so a database only ever
// holds chunks whose payloads match their declared hashes. Dependencies
// must already be present when a chunk arrives, which keeps the store
// closed under dependency links at all times.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"

	"github.com/chazu/mira/interp"
	"github.com/chazu/mira/interp/dist"
)

// ErrChunkNotFound indicates the requested chunk doesn't exist
var ErrChunkNotFound = errors.New("chunk not found")

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	hash TEXT PRIMARY KEY,
	type INTEGER NOT NULL,
	target TEXT NOT NULL DEFAULT '',
	payload BLOB NOT NULL,
	session TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chunk_deps (
	hash TEXT NOT NULL,
	idx INTEGER NOT NULL,
	dep TEXT NOT NULL,
	PRIMARY KEY (hash, idx)
);
CREATE INDEX IF NOT EXISTS idx_chunk_deps_dep ON chunk_deps (dep);
`

// Store handles SQLite storage for verified chunks
type Store struct {
	db      *sql.DB
	dbPath  string
	session string
	log     commonlog.Logger
	mu      sync.Mutex
}

// Store satisfies dist.ChunkStore so closure walks and dependency
// verification can run directly against the database.
var _ dist.ChunkStore = (*Store)(nil)

// Open opens the chunk database at dbPath, creating it and its parent
// directory if needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	s := &Store{
		dbPath:  dbPath,
		session: uuid.NewString(),
		log:     commonlog.GetLogger("mira.store"),
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.dbPath
}

// Session returns the identifier recorded on chunks stored by this
// process. Each Open generates a fresh one.
func (s *Store) Session() string {
	return s.session
}

// PutChunk verifies a chunk and writes it to the database. The chunk's
// dependencies must already be stored. Storing a chunk that is already
// present is a no-op.
func (s *Store) PutChunk(c *dist.Chunk) error {
	if err := dist.VerifyChunk(c); err != nil {
		return err
	}
	if s.HasChunk(c.Hash) {
		return nil
	}
	if err := dist.VerifyDependencies(c, s); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT OR IGNORE INTO chunks (hash, type, target, payload, session) VALUES (?, ?, ?, ?, ?)",
		c.Hash.String(), int(c.Type), c.Target, c.Payload, s.session,
	)
	if err != nil {
		return fmt.Errorf("saving chunk: %w", err)
	}

	for i, dep := range c.Dependencies {
		_, err = tx.Exec(
			"INSERT OR IGNORE INTO chunk_deps (hash, idx, dep) VALUES (?, ?, ?)",
			c.Hash.String(), i, dep.String(),
		)
		if err != nil {
			return fmt.Errorf("saving chunk dependency: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunk: %w", err)
	}

	s.log.Debugf("stored %s chunk %s", c.Type, c.Hash)
	return nil
}

// GetChunk retrieves a chunk from the database
func (s *Store) GetChunk(h interp.ContentHash) (*dist.Chunk, error) {
	var (
		typ     int
		target  string
		payload []byte
	)
	err := s.db.QueryRow(
		"SELECT type, target, payload FROM chunks WHERE hash = ?", h.String(),
	).Scan(&typ, &target, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChunkNotFound
		}
		return nil, fmt.Errorf("querying chunk: %w", err)
	}

	deps, err := s.dependencies(h)
	if err != nil {
		return nil, err
	}

	return &dist.Chunk{
		Hash:         h,
		Type:         dist.ChunkType(typ),
		Payload:      payload,
		Target:       target,
		Dependencies: deps,
	}, nil
}

// HasChunk reports whether the chunk is stored.
func (s *Store) HasChunk(h interp.ContentHash) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM chunks WHERE hash = ?", h.String()).Scan(&one)
	return err == nil
}

// ChunkDependencies returns a chunk's dependency hashes in payload
// index order. Unknown chunks have no dependencies.
func (s *Store) ChunkDependencies(h interp.ContentHash) []interp.ContentHash {
	deps, err := s.dependencies(h)
	if err != nil {
		s.log.Errorf("reading dependencies of %s: %v", h, err)
		return nil
	}
	return deps
}

func (s *Store) dependencies(h interp.ContentHash) ([]interp.ContentHash, error) {
	rows, err := s.db.Query(
		"SELECT dep FROM chunk_deps WHERE hash = ? ORDER BY idx", h.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying chunk dependencies: %w", err)
	}
	defer rows.Close()

	var deps []interp.ContentHash
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("scanning dependency: %w", err)
		}
		parsed, err := interp.ParseContentHash(dep)
		if err != nil {
			return nil, fmt.Errorf("corrupt dependency row for %s: %w", h, err)
		}
		deps = append(deps, parsed)
	}
	return deps, rows.Err()
}

// AllHashes returns every stored chunk hash in lexical order.
func (s *Store) AllHashes() ([]interp.ContentHash, error) {
	return s.queryHashes("SELECT hash FROM chunks ORDER BY hash")
}

// MissingFrom reports which of the given hashes the store does not
// hold, preserving their order. Used to build want lists from
// announcements.
func (s *Store) MissingFrom(hashes []interp.ContentHash) []interp.ContentHash {
	var missing []interp.ContentHash
	for _, h := range hashes {
		if !s.HasChunk(h) {
			missing = append(missing, h)
		}
	}
	return missing
}

// ConstEntry describes one stored constant chunk.
type ConstEntry struct {
	Hash     interp.ContentHash
	Target   string
	StoredAt time.Time
}

// ListConsts returns all stored constant chunks, oldest first.
func (s *Store) ListConsts() ([]ConstEntry, error) {
	rows, err := s.db.Query(
		"SELECT hash, target, created_at FROM chunks WHERE type = ? ORDER BY created_at, hash",
		int(dist.ChunkConst),
	)
	if err != nil {
		return nil, fmt.Errorf("querying consts: %w", err)
	}
	defer rows.Close()

	var entries []ConstEntry
	for rows.Next() {
		var (
			e    ConstEntry
			hash string
		)
		if err := rows.Scan(&hash, &e.Target, &e.StoredAt); err != nil {
			return nil, fmt.Errorf("scanning const entry: %w", err)
		}
		e.Hash, err = interp.ParseContentHash(hash)
		if err != nil {
			return nil, fmt.Errorf("corrupt chunk row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts reports how many constant and allocation chunks are stored.
func (s *Store) Counts() (consts, allocs int64, err error) {
	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM chunks WHERE type = ?", int(dist.ChunkConst),
	).Scan(&consts)
	if err != nil {
		return 0, 0, fmt.Errorf("counting consts: %w", err)
	}
	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM chunks WHERE type = ?", int(dist.ChunkAlloc),
	).Scan(&allocs)
	if err != nil {
		return 0, 0, fmt.Errorf("counting allocs: %w", err)
	}
	return consts, allocs, nil
}

func (s *Store) hashesByType(typ dist.ChunkType) ([]interp.ContentHash, error) {
	return s.queryHashes("SELECT hash FROM chunks WHERE type = ? ORDER BY hash", int(typ))
}

func (s *Store) queryHashes(query string, args ...any) ([]interp.ContentHash, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying hashes: %w", err)
	}
	defer rows.Close()

	var hashes []interp.ContentHash
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scanning hash: %w", err)
		}
		parsed, err := interp.ParseContentHash(hash)
		if err != nil {
			return nil, fmt.Errorf("corrupt chunk row: %w", err)
		}
		hashes = append(hashes, parsed)
	}
	return hashes, rows.Err()
}

// GC deletes allocation chunks no constant chunk reaches. Constant
// chunks are the roots; an allocation survives only while some stored
// constant still depends on it. Returns the number of chunks removed.
func (s *Store) GC() (int, error) {
	roots, err := s.hashesByType(dist.ChunkConst)
	if err != nil {
		return 0, err
	}

	live := make(map[interp.ContentHash]bool)
	for _, root := range roots {
		for _, h := range dist.TransitiveClosure(root, s) {
			live[h] = true
		}
	}

	allocs, err := s.hashesByType(dist.ChunkAlloc)
	if err != nil {
		return 0, err
	}

	var dead []interp.ContentHash
	for _, h := range allocs {
		if !live[h] {
			dead = append(dead, h)
		}
	}
	if len(dead) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, h := range dead {
		if _, err := tx.Exec("DELETE FROM chunks WHERE hash = ?", h.String()); err != nil {
			return 0, fmt.Errorf("deleting chunk: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM chunk_deps WHERE hash = ?", h.String()); err != nil {
			return 0, fmt.Errorf("deleting chunk dependencies: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing gc: %w", err)
	}

	s.log.Infof("gc removed %d unreachable allocation chunks", len(dead))
	return len(dead), nil
}

// DeleteChunk removes a chunk and its dependency rows. Chunks that
// depend on it are not touched, so callers should only delete roots or
// run GC afterwards.
func (s *Store) DeleteChunk(h interp.ContentHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM chunks WHERE hash = ?", h.String()); err != nil {
		return fmt.Errorf("deleting chunk: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM chunk_deps WHERE hash = ?", h.String()); err != nil {
		return fmt.Errorf("deleting chunk dependencies: %w", err)
	}
	return nil
}
