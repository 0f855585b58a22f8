// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// STORE
// =============================================================================

// Store is a namespaced key/value store over a single SQLite table. A nil
// database handle means persistence is unavailable and every operation is
// a no-op; the rest of the application behaves identically either way.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	namespace string
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
`

// Open opens (or creates) the store at path. The namespace prefixes every
// key. Open never returns an error: when the database cannot be prepared
// the returned store silently drops writes and misses reads.
func Open(path, namespace string) *Store {
	s := &Store{namespace: namespace}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		log.Printf("Store: unavailable (mkdir: %v)", err)
		return s
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		log.Printf("Store: unavailable (open: %v)", err)
		return s
	}

	// Probe availability up front so a broken database file degrades at
	// startup instead of on first use.
	if _, err := db.Exec(schema); err != nil {
		log.Printf("Store: unavailable (schema: %v)", err)
		db.Close()
		return s
	}

	// Write/delete self-test; a read-only database degrades here.
	probe := namespace + ":__probe__"
	if _, err := db.Exec(`INSERT OR REPLACE INTO kv (key, value, expires_at) VALUES (?, 'null', 0)`, probe); err != nil {
		log.Printf("Store: unavailable (probe: %v)", err)
		db.Close()
		return s
	}
	db.Exec(`DELETE FROM kv WHERE key = ?`, probe)

	s.db = db
	return s
}

// Available reports whether persistence is active.
func (s *Store) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

// Close releases the database handle. Safe on a degraded store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Set stores value under key, JSON-encoded. Failures are logged and
// swallowed.
func (s *Store) Set(key string, value any) {
	s.SetTTL(key, value, 0)
}

// SetTTL stores value under key with an expiry. ttl <= 0 means no expiry.
func (s *Store) SetTTL(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		log.Printf("Store: failed to encode %q: %v", key, err)
		return
	}

	var expires int64
	if ttl > 0 {
		expires = time.Now().Add(ttl).Unix()
	}

	_, err = s.db.Exec(
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		s.namespaced(key), string(encoded), expires,
	)
	if err != nil {
		log.Printf("Store: failed to write %q: %v", key, err)
		s.degrade()
	}
}

// Get loads the value stored under key into out and reports whether a
// valid value was found. A miss, an expired entry, a corrupt entry or an
// unavailable store all report false; out is untouched in those cases.
func (s *Store) Get(key string, out any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false
	}

	var value string
	var expires int64
	err := s.db.QueryRow(
		`SELECT value, expires_at FROM kv WHERE key = ?`,
		s.namespaced(key),
	).Scan(&value, &expires)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		log.Printf("Store: failed to read %q: %v", key, err)
		s.degrade()
		return false
	}

	if expires > 0 && time.Now().Unix() >= expires {
		s.db.Exec(`DELETE FROM kv WHERE key = ?`, s.namespaced(key))
		return false
	}

	if err := json.Unmarshal([]byte(value), out); err != nil {
		// A corrupt entry is as good as absent. Drop it so the next read
		// does not decode it again.
		log.Printf("Store: corrupt entry %q: %v", key, err)
		s.db.Exec(`DELETE FROM kv WHERE key = ?`, s.namespaced(key))
		return false
	}
	return true
}

// Remove deletes the entry under key. Removing an absent key is a no-op.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, s.namespaced(key)); err != nil {
		log.Printf("Store: failed to remove %q: %v", key, err)
		s.degrade()
	}
}

// Clear deletes every entry in this store's namespace. Entries under
// other namespaces in the same database are untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key LIKE ?`, s.namespace+":%"); err != nil {
		log.Printf("Store: failed to clear: %v", err)
		s.degrade()
	}
}

// namespaced returns the physical key for a logical key.
func (s *Store) namespaced(key string) string {
	return s.namespace + ":" + key
}

// degrade drops the database handle after an operational failure. All
// subsequent operations no-op. Caller must hold s.mu.
func (s *Store) degrade() {
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
}
