package dbstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AlexAkulov/releasewatch"
	"github.com/AlexAkulov/releasewatch/helpers"

	sync "github.com/sasha-s/go-deadlock"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	schema = `
	CREATE TABLE IF NOT EXISTS repo_state (
		repo_key TEXT PRIMARY KEY,
		last_tag_name TEXT NOT NULL DEFAULT '',
		last_commit_sha TEXT NOT NULL DEFAULT '',
		last_release_id INTEGER NOT NULL DEFAULT 0,
		etag TEXT NOT NULL DEFAULT '',
		last_checked TEXT NOT NULL
	)`
	upsert = `
	INSERT INTO repo_state (repo_key, last_tag_name, last_commit_sha, last_release_id, etag, last_checked)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(repo_key) DO UPDATE SET
		last_tag_name = excluded.last_tag_name,
		last_commit_sha = excluded.last_commit_sha,
		last_release_id = excluded.last_release_id,
		etag = excluded.etag,
		last_checked = excluded.last_checked`
)

// StateManager stores repository state in a SQLite database. Reads are served
// from an in-memory copy that is loaded on open and refreshed after every
// committed update.
type StateManager struct {
	Location string

	db      *sql.DB
	mu      sync.RWMutex
	state   map[string]releasewatch.RepoState
	warning string
	now     func() time.Time
}

func Open(location string) (*StateManager, error) {
	s := &StateManager{
		Location: location,
		now:      time.Now,
	}
	err := s.open()
	if err != nil && isCorrupted(err) {
		s.warning = s.moveAside(err)
		err = s.open()
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func isCorrupted(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	// extended codes carry the primary code in the low byte
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
		return true
	}
	return false
}

func (s *StateManager) open() error {
	db, err := sql.Open("sqlite", s.Location)
	if err != nil {
		return fmt.Errorf("can't open state database with: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("can't initialize state database with: %w", err)
	}
	state, err := loadAll(db)
	if err != nil {
		db.Close()
		return err
	}
	s.db = db
	s.state = state
	return nil
}

func loadAll(db *sql.DB) (map[string]releasewatch.RepoState, error) {
	rows, err := db.Query("SELECT repo_key, last_tag_name, last_commit_sha, last_release_id, etag, last_checked FROM repo_state")
	if err != nil {
		return nil, fmt.Errorf("can't query state with: %w", err)
	}
	defer rows.Close()
	result := map[string]releasewatch.RepoState{}
	for rows.Next() {
		var (
			key         string
			r           releasewatch.RepoState
			lastChecked string
		)
		if err := rows.Scan(&key, &r.LastTagName, &r.LastCommitSHA, &r.LastReleaseID, &r.ETag, &lastChecked); err != nil {
			return nil, fmt.Errorf("can't scan state with: %w", err)
		}
		if r.LastChecked, err = time.Parse(time.RFC3339Nano, lastChecked); err != nil {
			return nil, fmt.Errorf("can't parse last_checked of %s with: %w", key, err)
		}
		result[key] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("can't iterate state with: %w", err)
	}
	return result, nil
}

func (s *StateManager) moveAside(openErr error) string {
	corruptPath, err := helpers.MoveAside(s.Location, s.now())
	if err != nil {
		return fmt.Sprintf("state database %s is corrupted (%v) and can't be moved aside (%v)", s.Location, openErr, err)
	}
	return fmt.Sprintf("state database %s is corrupted (%v), moved to %s, starting with empty state", s.Location, openErr, corruptPath)
}

func (s *StateManager) Warning() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warning
}

func (s *StateManager) Get(key string) (releasewatch.RepoState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state[key]
	return r, ok
}

func (s *StateManager) GetETag(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state[key].ETag
}

func (s *StateManager) IsFirstRun(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state[key]
	return !ok
}

func (s *StateManager) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.state))
	for key := range s.state {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *StateManager) Update(key string, patch releasewatch.RepoStatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := patch.Apply(s.state[key])
	record.LastChecked = s.now().UTC()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("can't begin transaction with: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert,
		key, record.LastTagName, record.LastCommitSHA, record.LastReleaseID, record.ETag,
		record.LastChecked.Format(time.RFC3339Nano),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("can't save state of %s with: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("can't commit state of %s with: %w", key, err)
	}
	s.state[key] = record
	return nil
}

func (s *StateManager) Close() error {
	return s.db.Close()
}
