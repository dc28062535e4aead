package filestate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/AlexAkulov/releasewatch"
	"github.com/AlexAkulov/releasewatch/helpers"

	"github.com/google/renameio/v2"
	sync "github.com/sasha-s/go-deadlock"
)

// StateManager keeps the last observed version of every watched repository
// in a JSON file. The file is rewritten as a whole on every update through a
// temp file and an atomic rename.
type StateManager struct {
	Location string

	mu      sync.RWMutex
	state   map[string]releasewatch.RepoState
	warning string
	now     func() time.Time
}

// Load reads the state file. A missing file starts an empty state, an
// unreadable one is moved aside and reported through Warning.
func Load(location string) (*StateManager, error) {
	s := &StateManager{
		Location: location,
		now:      time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StateManager) load() error {
	stateRaw, err := os.ReadFile(s.Location)
	if os.IsNotExist(err) {
		s.state = map[string]releasewatch.RepoState{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("can't open state file with: %w", err)
	}
	state, err := convertFromRawData(stateRaw)
	if err == nil {
		s.state = state
		return nil
	}
	s.state = map[string]releasewatch.RepoState{}
	s.warning = s.moveAside(err)
	return nil
}

func (s *StateManager) moveAside(parseErr error) string {
	corruptPath, err := helpers.MoveAside(s.Location, s.now())
	if err != nil {
		return fmt.Sprintf("state file %s is corrupted (%v) and can't be moved aside (%v), starting with empty state", s.Location, parseErr, err)
	}
	return fmt.Sprintf("state file %s is corrupted (%v), moved to %s, starting with empty state", s.Location, parseErr, corruptPath)
}

// Warning describes a recovered corruption, empty when the state loaded cleanly.
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

// Update merges patch into the record of key, stamps LastChecked and
// persists the whole state. The in-memory state only changes when the file
// was written.
func (s *StateManager) Update(key string, patch releasewatch.RepoStatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := patch.Apply(s.state[key])
	record.LastChecked = s.now().UTC()

	next := make(map[string]releasewatch.RepoState, len(s.state)+1)
	for k, v := range s.state {
		next[k] = v
	}
	next[key] = record

	if err := s.saveToFile(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *StateManager) Close() error {
	return nil
}

func (s *StateManager) saveToFile(state map[string]releasewatch.RepoState) error {
	rawData, err := convertToRawData(state)
	if err != nil {
		return fmt.Errorf("can't encode state with: %w", err)
	}
	return writeFileAtomic(s.Location, rawData, 0644)
}

// writeFileAtomic keeps the temp file next to the target so the final rename
// never crosses filesystems.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := renameio.WriteFile(path, data, perm, renameio.WithTempDir(dir)); err != nil {
		return fmt.Errorf("can't replace state file with: %w", err)
	}
	return nil
}
