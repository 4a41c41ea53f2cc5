package syncstate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Store is the in-memory FileSyncState map. Every mutation is written
// through to the persister before it returns, so a crash never loses a
// completed transfer's state.
type Store struct {
	mu       sync.RWMutex
	states   map[string]FileSyncState
	lastSync *int64
	scopes   []Scope

	persist Persister
	logger  *slog.Logger
}

// NewMemoryStore returns a Store with no persistence. Used by tests and by
// callers that persist state themselves.
func NewMemoryStore() *Store {
	return &Store{
		states: make(map[string]FileSyncState),
		logger: slog.Default(),
	}
}

// Open loads the persisted document and returns a write-through Store.
func Open(ctx context.Context, p Persister, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	doc, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncstate: loading: %w", err)
	}

	if doc.FileStates == nil {
		doc.FileStates = make(map[string]FileSyncState)
	}

	logger.Debug("sync state loaded",
		slog.Int("entries", len(doc.FileStates)),
		slog.Int("scopes", len(doc.Scopes)),
	)

	return &Store{
		states:   doc.FileStates,
		lastSync: doc.LastSyncTime,
		scopes:   doc.Scopes,
		persist:  p,
		logger:   logger,
	}, nil
}

// Get returns the state for path, or the all-absent zero value.
func (s *Store) Get(path string) FileSyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.states[path]
}

// Set merges patch into the entry for path, creating it if absent, and
// persists the merged entry. The in-memory entry is only updated once the
// persister accepted it.
func (s *Store) Set(ctx context.Context, path string, patch FileSyncState) (FileSyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.states[path].Merge(patch)

	if s.persist != nil {
		if err := s.persist.PutState(ctx, path, merged); err != nil {
			return s.states[path], fmt.Errorf("syncstate: persisting %s: %w", path, err)
		}
	}

	s.states[path] = merged

	return merged, nil
}

// Clear removes every file state entry and the last sync time. Scopes are
// configuration and survive.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Clear(ctx); err != nil {
			return fmt.Errorf("syncstate: clearing: %w", err)
		}
	}

	n := len(s.states)
	s.states = make(map[string]FileSyncState)
	s.lastSync = nil

	s.logger.Info("sync state cleared", slog.Int("entries", n))

	return nil
}

// Len returns the number of tracked paths.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.states)
}

// Paths returns all tracked paths, sorted.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.states))
	for p := range s.states {
		out = append(out, p)
	}

	slices.Sort(out)

	return out
}

// LastSync returns the completion time of the last completed pass.
func (s *Store) LastSync() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastSync == nil {
		return time.Time{}, false
	}

	return time.UnixMilli(*s.lastSync), true
}

// SetLastSync records the completion time of a pass.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := t.UnixMilli()

	if s.persist != nil {
		if err := s.persist.PutLastSync(ctx, ms); err != nil {
			return fmt.Errorf("syncstate: persisting last sync time: %w", err)
		}
	}

	s.lastSync = &ms

	return nil
}

// Scopes returns a copy of the selected scopes.
func (s *Store) Scopes() []Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.scopes)
}

// SetScopes replaces the selected scopes.
func (s *Store) SetScopes(ctx context.Context, scopes []Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.PutScopes(ctx, scopes); err != nil {
			return fmt.Errorf("syncstate: persisting scopes: %w", err)
		}
	}

	s.scopes = slices.Clone(scopes)

	return nil
}

// Close releases the persister.
func (s *Store) Close() error {
	if s.persist == nil {
		return nil
	}

	return s.persist.Close()
}
