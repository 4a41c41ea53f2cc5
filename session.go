package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/vaultsync/internal/config"
	"github.com/tonimelisma/vaultsync/internal/gdrive"
	"github.com/tonimelisma/vaultsync/internal/sync"
	"github.com/tonimelisma/vaultsync/internal/syncstate"
)

// errNotSignedIn replaces gdrive.ErrAuthRequired at the CLI boundary.
var errNotSignedIn = errors.New("not signed in; run 'vaultsync login' first")

// openPersister picks the state backend named by state.format.
func openPersister(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (syncstate.Persister, error) {
	path := cfg.StatePath()

	if cfg.State.Format == config.StateFormatJSON {
		return syncstate.NewDocumentPersister(path), nil
	}

	db, err := syncstate.OpenSQLite(ctx, path, logger)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// openStateStore opens the persister and loads the store from it.
func openStateStore(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (*syncstate.Store, error) {
	p, err := openPersister(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := syncstate.Open(ctx, p, logger)
	if err != nil {
		p.Close()
		return nil, err
	}

	return store, nil
}

// newDriveClient loads the saved token and builds the Drive client.
func newDriveClient(cfg *config.Resolved, logger *slog.Logger) (*gdrive.Client, error) {
	tokens, err := gdrive.TokensFromPath(cfg.TokenPath(), credentials(cfg), logger)
	if err != nil {
		if errors.Is(err, gdrive.ErrAuthRequired) {
			return nil, errNotSignedIn
		}

		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	return gdrive.NewClient(httpClient, tokens, logger, gdrive.WithUserAgent(cfg.Network.UserAgent)), nil
}

func credentials(cfg *config.Resolved) gdrive.Credentials {
	return gdrive.Credentials{
		ClientID:     cfg.Remote.ClientID,
		ClientSecret: cfg.Remote.ClientSecret,
	}
}

// SyncSession holds the process lock, state store and reconciler for one
// command. Close releases them in reverse order.
type SyncSession struct {
	Reconciler *sync.Reconciler
	State      *syncstate.Store
	Targets    []sync.Target
	Options    sync.Options
	Direction  sync.Direction

	lock *processLock
}

// openSyncSession locks the state directory and wires the engine against
// the vault and Drive. remote may be nil for commands that never reach the
// network.
func openSyncSession(ctx context.Context, cfg *config.Resolved, remote sync.RemoteStore, logger *slog.Logger) (*SyncSession, error) {
	if cfg.VaultDir == "" {
		return nil, errors.New("vault_dir not configured; set it in the config file or pass --vault")
	}

	targets, err := cfg.Targets()
	if err != nil {
		return nil, err
	}

	opts, err := cfg.SyncOptions()
	if err != nil {
		return nil, err
	}

	lock, err := acquireLock(cfg.LockPath())
	if err != nil {
		return nil, err
	}

	store, err := openStateStore(ctx, cfg, logger)
	if err != nil {
		lock.Release()
		return nil, err
	}

	if err := store.SetScopes(ctx, cfg.StateScopes()); err != nil {
		store.Close()
		lock.Release()

		return nil, fmt.Errorf("recording scopes: %w", err)
	}

	local := sync.NewDirStore(cfg.VaultDir, logger)

	logger.Debug("sync session ready",
		slog.String("vault_dir", cfg.VaultDir),
		slog.String("state_path", cfg.StatePath()),
		slog.Int("targets", len(targets)),
	)

	return &SyncSession{
		Reconciler: sync.NewReconciler(local, remote, store, logger),
		State:      store,
		Targets:    targets,
		Options:    opts,
		Direction:  cfg.Direction(),
		lock:       lock,
	}, nil
}

// Close closes the state store and releases the lock.
func (s *SyncSession) Close() error {
	return errors.Join(s.State.Close(), s.lock.Release())
}
