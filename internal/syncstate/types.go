// Package syncstate holds the persisted per-path sync state: what each file
// looked like, on both sides, the last time it was transferred. The Store is
// an in-memory map that writes through to a Persister on every mutation.
package syncstate

import (
	"context"
	"time"
)

// FileSyncState is the last-known sync state for one vault path. Absent
// fields are nil pointers or empty strings. All timestamps are Unix
// milliseconds.
type FileSyncState struct {
	LocalModTime  *int64 `json:"localModTime,omitempty"`
	RemoteHash    string `json:"remoteHash,omitempty"`
	RemoteModTime *int64 `json:"remoteModTime,omitempty"`
	LastSyncTime  *int64 `json:"lastSyncTime,omitempty"`
	RemoteVersion string `json:"remoteVersionTag,omitempty"`
}

// Merge returns s with every non-absent field of patch copied over it.
func (s FileSyncState) Merge(patch FileSyncState) FileSyncState {
	if patch.LocalModTime != nil {
		s.LocalModTime = Int64Ptr(*patch.LocalModTime)
	}

	if patch.RemoteHash != "" {
		s.RemoteHash = patch.RemoteHash
	}

	if patch.RemoteModTime != nil {
		s.RemoteModTime = Int64Ptr(*patch.RemoteModTime)
	}

	if patch.LastSyncTime != nil {
		s.LastSyncTime = Int64Ptr(*patch.LastSyncTime)
	}

	if patch.RemoteVersion != "" {
		s.RemoteVersion = patch.RemoteVersion
	}

	return s
}

// IsZero reports whether no field is set.
func (s FileSyncState) IsZero() bool {
	return s.LocalModTime == nil && s.RemoteHash == "" && s.RemoteModTime == nil &&
		s.LastSyncTime == nil && s.RemoteVersion == ""
}

// Scope is a user-selected folder pairing: a remote folder ID and the vault
// folder it is synced with.
type Scope struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Document is the full persisted state.
type Document struct {
	FileStates   map[string]FileSyncState `json:"fileStateCache"`
	LastSyncTime *int64                   `json:"lastSyncTime,omitempty"`
	Scopes       []Scope                  `json:"selectedScopes"`
}

func newDocument() *Document {
	return &Document{FileStates: make(map[string]FileSyncState)}
}

// Persister stores the Document durably. The Store calls it once per
// mutation; implementations decide how much to rewrite.
type Persister interface {
	Load(ctx context.Context) (*Document, error)
	PutState(ctx context.Context, path string, st FileSyncState) error
	PutLastSync(ctx context.Context, ms int64) error
	PutScopes(ctx context.Context, scopes []Scope) error
	Clear(ctx context.Context) error
	Close() error
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// ToMillis converts t to Unix milliseconds. The zero time maps to 0.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}
