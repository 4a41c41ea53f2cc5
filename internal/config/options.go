package config

import (
	"errors"
	"strings"

	"github.com/tonimelisma/vaultsync/internal/sync"
	"github.com/tonimelisma/vaultsync/internal/syncstate"
	"github.com/tonimelisma/vaultsync/internal/watch"
)

// ErrNoRemoteRoot is returned when no remote folder is configured.
var ErrNoRemoteRoot = errors.New("config: no remote folder configured (set remote.root_folder_id or add a [[scope]])")

// SyncOptions builds the pass options. Callbacks are left for the caller.
func (r *Resolved) SyncOptions() (sync.Options, error) {
	policy, err := sync.ParseConflictPolicy(r.Sync.ConflictPolicy)
	if err != nil {
		return sync.Options{}, err
	}

	filter, err := sync.NewFilter(r.Filter.SkipPatterns)
	if err != nil {
		return sync.Options{}, err
	}

	return sync.Options{
		ConflictPolicy:    policy,
		Tolerance:         r.Tolerance,
		IncludeSubfolders: r.Sync.IncludeSubfolders,
		AutoCreateFolders: r.Sync.AutoCreateFolders,
		MaxDepth:          r.Sync.MaxDepth,
		Pace:              r.Pace,
		InlineUploadLimit: r.InlineUploadLimit,
		BandwidthLimit:    r.BandwidthLimit,
		Filter:            filter,
	}, nil
}

// Direction maps the configured direction name.
func (r *Resolved) Direction() sync.Direction {
	return ParseDirection(r.Sync.Direction)
}

// ParseDirection maps a validated direction name to a sync.Direction.
func ParseDirection(s string) sync.Direction {
	switch s {
	case "upload":
		return sync.UploadOnly
	case "download":
		return sync.DownloadOnly
	default:
		return sync.Bidirectional
	}
}

// Targets returns one sync target per configured scope, or a single
// whole-vault target on the remote root folder when no scopes are set.
func (r *Resolved) Targets() ([]sync.Target, error) {
	if len(r.Scopes) == 0 {
		if r.Remote.RootFolderID == "" {
			return nil, ErrNoRemoteRoot
		}

		return []sync.Target{{RootID: r.Remote.RootFolderID}}, nil
	}

	targets := make([]sync.Target, 0, len(r.Scopes))
	for _, sc := range r.Scopes {
		targets = append(targets, sync.Target{RootID: sc.ID, BasePath: strings.Trim(sc.Path, "/")})
	}

	return targets, nil
}

// StateScopes converts the configured scopes for the state store.
func (r *Resolved) StateScopes() []syncstate.Scope {
	out := make([]syncstate.Scope, 0, len(r.Scopes))
	for _, sc := range r.Scopes {
		out = append(out, syncstate.Scope{ID: sc.ID, Name: sc.Name, Path: strings.Trim(sc.Path, "/")})
	}

	return out
}

// WatchConfig builds the scheduler settings for the vault.
func (r *Resolved) WatchConfig() (watch.Config, error) {
	if r.VaultDir == "" {
		return watch.Config{}, errors.New("config: vault_dir is required for watch")
	}

	return watch.Config{
		Root:         r.VaultDir,
		PollInterval: r.PollInterval,
		Debounce:     r.Debounce,
	}, nil
}
