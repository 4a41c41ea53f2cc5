package syncstate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const metaLastSync = "last_sync_time"

const (
	sqlLoadStates = `SELECT path, local_mtime, remote_hash, remote_mtime, last_sync, remote_version
		FROM file_state`

	sqlUpsertState = `INSERT INTO file_state
		(path, local_mtime, remote_hash, remote_mtime, last_sync, remote_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		 local_mtime = excluded.local_mtime,
		 remote_hash = excluded.remote_hash,
		 remote_mtime = excluded.remote_mtime,
		 last_sync = excluded.last_sync,
		 remote_version = excluded.remote_version`

	sqlGetMeta    = `SELECT value FROM sync_meta WHERE key = ?`
	sqlUpsertMeta = `INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	sqlLoadScopes  = `SELECT id, name, path FROM scopes ORDER BY position`
	sqlInsertScope = `INSERT INTO scopes (position, id, name, path) VALUES (?, ?, ?, ?)`
)

// SQLitePersister keeps sync state in a SQLite database. It is the default
// persister; each Set is a single-row upsert.
type SQLitePersister struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// pending migrations. The database uses WAL mode with synchronous=FULL.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLitePersister, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("syncstate: opening database %s: %w", dbPath, err)
	}

	// Sole writer.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("state database ready", slog.String("db_path", dbPath))

	return &SQLitePersister{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations with the goose
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("syncstate: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("syncstate: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("syncstate: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Load reads every table into a Document.
func (p *SQLitePersister) Load(ctx context.Context) (*Document, error) {
	doc := newDocument()

	rows, err := p.db.QueryContext(ctx, sqlLoadStates)
	if err != nil {
		return nil, fmt.Errorf("syncstate: loading file states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			path          string
			localMtime    sql.NullInt64
			remoteHash    sql.NullString
			remoteMtime   sql.NullInt64
			lastSync      sql.NullInt64
			remoteVersion sql.NullString
		)

		if err := rows.Scan(&path, &localMtime, &remoteHash, &remoteMtime, &lastSync, &remoteVersion); err != nil {
			return nil, fmt.Errorf("syncstate: scanning file state row: %w", err)
		}

		doc.FileStates[path] = FileSyncState{
			LocalModTime:  fromNullInt64(localMtime),
			RemoteHash:    remoteHash.String,
			RemoteModTime: fromNullInt64(remoteMtime),
			LastSyncTime:  fromNullInt64(lastSync),
			RemoteVersion: remoteVersion.String,
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("syncstate: iterating file state rows: %w", err)
	}

	var last int64

	err = p.db.QueryRowContext(ctx, sqlGetMeta, metaLastSync).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("syncstate: loading last sync time: %w", err)
	default:
		doc.LastSyncTime = &last
	}

	scopes, err := p.loadScopes(ctx)
	if err != nil {
		return nil, err
	}

	doc.Scopes = scopes

	return doc, nil
}

func (p *SQLitePersister) loadScopes(ctx context.Context) ([]Scope, error) {
	rows, err := p.db.QueryContext(ctx, sqlLoadScopes)
	if err != nil {
		return nil, fmt.Errorf("syncstate: loading scopes: %w", err)
	}
	defer rows.Close()

	var scopes []Scope

	for rows.Next() {
		var sc Scope
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Path); err != nil {
			return nil, fmt.Errorf("syncstate: scanning scope row: %w", err)
		}

		scopes = append(scopes, sc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("syncstate: iterating scope rows: %w", err)
	}

	return scopes, nil
}

// PutState upserts the row for path.
func (p *SQLitePersister) PutState(ctx context.Context, path string, st FileSyncState) error {
	_, err := p.db.ExecContext(ctx, sqlUpsertState,
		path,
		nullInt64(st.LocalModTime),
		nullString(st.RemoteHash),
		nullInt64(st.RemoteModTime),
		nullInt64(st.LastSyncTime),
		nullString(st.RemoteVersion),
	)
	if err != nil {
		return fmt.Errorf("syncstate: upserting state for %s: %w", path, err)
	}

	return nil
}

// PutLastSync stores the last completed pass time.
func (p *SQLitePersister) PutLastSync(ctx context.Context, ms int64) error {
	if _, err := p.db.ExecContext(ctx, sqlUpsertMeta, metaLastSync, ms); err != nil {
		return fmt.Errorf("syncstate: saving last sync time: %w", err)
	}

	return nil
}

// PutScopes replaces the scopes table in one transaction.
func (p *SQLitePersister) PutScopes(ctx context.Context, scopes []Scope) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("syncstate: beginning scopes transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scopes`); err != nil {
		return fmt.Errorf("syncstate: clearing scopes: %w", err)
	}

	for i, sc := range scopes {
		if _, err := tx.ExecContext(ctx, sqlInsertScope, i, sc.ID, sc.Name, sc.Path); err != nil {
			return fmt.Errorf("syncstate: inserting scope %s: %w", sc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("syncstate: committing scopes: %w", err)
	}

	return nil
}

// Clear deletes all file states and the last sync time.
func (p *SQLitePersister) Clear(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("syncstate: beginning clear transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_state`); err != nil {
		return fmt.Errorf("syncstate: clearing file states: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_meta WHERE key = ?`, metaLastSync); err != nil {
		return fmt.Errorf("syncstate: clearing last sync time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("syncstate: committing clear: %w", err)
	}

	return nil
}

// Close closes the database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

// Nullable helpers: empty string / nil pointer -> NULL.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: *n, Valid: true}
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}

	return Int64Ptr(n.Int64)
}
