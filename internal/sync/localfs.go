package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/vaultsync/internal/pathmap"
)

// Permissions for files and folders created in the vault.
const (
	vaultDirPerms  = 0o755
	vaultFilePerms = 0o644
)

// partialPrefix marks in-progress downloads; the filter's dot-segment rule
// keeps them out of listings.
const partialPrefix = ".vaultsync-"

// DirStore is the LocalStore backed by a directory on disk.
type DirStore struct {
	root   string
	logger *slog.Logger
}

// NewDirStore returns a LocalStore rooted at root.
func NewDirStore(root string, logger *slog.Logger) *DirStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &DirStore{root: root, logger: logger}
}

// Root returns the vault directory.
func (s *DirStore) Root() string {
	return s.root
}

func (s *DirStore) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// List walks base and returns every file and folder beneath it. A missing
// base yields an empty listing.
func (s *DirStore) List(ctx context.Context, base string) ([]LocalEntry, error) {
	start := s.abs(base)

	var out []LocalEntry

	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if walkErr != nil {
			if p == start && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}

			s.logger.Warn("skipping unreadable path",
				slog.String("path", p),
				slog.String("error", walkErr.Error()),
			)

			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if p == start {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}

		rel = pathmap.Normalize(filepath.ToSlash(rel))

		// Hidden folders (.git, .obsidian, .trash) are never synced.
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		entry := LocalEntry{Kind: KindFile, Path: rel, ModTime: info.ModTime().UnixMilli(), Size: info.Size()}
		if d.IsDir() {
			entry.Kind = KindFolder
			entry.Size = 0
		} else if !info.Mode().IsRegular() {
			return nil
		}

		out = append(out, entry)

		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sync: local scan canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("sync: walking %s: %w", start, err)
	}

	return out, nil
}

// Stat describes path, or returns (nil, nil) if nothing is there.
func (s *DirStore) Stat(_ context.Context, path string) (*LocalEntry, error) {
	info, err := os.Stat(s.abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // absent path is not an error
	}

	if err != nil {
		return nil, fmt.Errorf("sync: stat %s: %w", path, err)
	}

	entry := &LocalEntry{Kind: KindFile, Path: path, ModTime: info.ModTime().UnixMilli(), Size: info.Size()}
	if info.IsDir() {
		entry.Kind = KindFolder
		entry.Size = 0
	}

	return entry, nil
}

// Open opens path for reading.
func (s *DirStore) Open(_ context.Context, path string) (io.ReadSeekCloser, error) {
	f, err := os.Open(s.abs(path))
	if err != nil {
		return nil, fmt.Errorf("sync: opening %s: %w", path, err)
	}

	return f, nil
}

// Write streams fill into a temp file next to path, syncs it, and renames
// it into place. The parent folder must exist.
func (s *DirStore) Write(_ context.Context, path string, fill func(io.Writer) error) error {
	dst := s.abs(path)

	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s is a folder", ErrLocalWrite, path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), partialPrefix+"*.partial")
	if err != nil {
		return fmt.Errorf("%w: creating temp file for %s: %w", ErrLocalWrite, path, err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing %s: %w", ErrLocalWrite, path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrLocalWrite, path, err)
	}

	if err := os.Chmod(tmpPath, vaultFilePerms); err != nil {
		return fmt.Errorf("%w: setting permissions on %s: %w", ErrLocalWrite, path, err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("%w: renaming into %s: %w", ErrLocalWrite, path, err)
	}

	success = true

	return nil
}

// CreateFolder creates path and any missing parents.
func (s *DirStore) CreateFolder(_ context.Context, path string) error {
	if err := os.MkdirAll(s.abs(path), vaultDirPerms); err != nil {
		return fmt.Errorf("%w: creating folder %s: %w", ErrLocalWrite, path, err)
	}

	return nil
}

// SetModTime sets both the access and modification time of path.
func (s *DirStore) SetModTime(_ context.Context, path string, mtime time.Time) error {
	if err := os.Chtimes(s.abs(path), mtime, mtime); err != nil {
		return fmt.Errorf("sync: setting mtime of %s: %w", path, err)
	}

	return nil
}
