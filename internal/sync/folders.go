package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	gosync "sync"

	"github.com/tonimelisma/vaultsync/internal/pathmap"
)

// createdFolder records a folder created during the current pass.
type createdFolder struct {
	rootID string
	path   string
}

// FolderResolver maps folder paths under a remote root to Drive folder IDs,
// creating missing folders on demand. Lookups are memoized for the life of
// the resolver and pruned against each remote listing; a prefix that failed
// is not retried until BeginPass.
type FolderResolver struct {
	remote RemoteStore
	logger *slog.Logger

	mu      gosync.Mutex
	cache   map[string]string
	failed  map[string]error
	created []createdFolder
}

// NewFolderResolver returns an empty resolver.
func NewFolderResolver(remote RemoteStore, logger *slog.Logger) *FolderResolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &FolderResolver{
		remote: remote,
		logger: logger,
		cache:  make(map[string]string),
		failed: make(map[string]error),
	}
}

func cacheKey(rootID, relFolder string) string {
	return rootID + ":" + relFolder
}

// Resolve returns the ID of the folder at relFolder under rootID, creating
// it and any missing ancestors. An empty relFolder resolves to rootID.
func (r *FolderResolver) Resolve(ctx context.Context, relFolder, rootID string) (string, error) {
	relFolder = pathmap.Normalize(relFolder)
	if relFolder == "" {
		return rootID, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.cache[cacheKey(rootID, relFolder)]; ok {
		return id, nil
	}

	parentID := rootID
	segments := pathmap.FolderChain(relFolder)

	for i, prefix := range pathmap.Prefixes(relFolder) {
		key := cacheKey(rootID, prefix)

		if id, ok := r.cache[key]; ok {
			parentID = id
			continue
		}

		if err, ok := r.failed[key]; ok {
			return "", fmt.Errorf("%w: %s: %w", ErrNoParentFolder, prefix, err)
		}

		id, err := r.lookupOrCreate(ctx, segments[i], parentID, rootID, prefix)
		if err != nil {
			r.failed[key] = err

			return "", fmt.Errorf("%w: %s: %w", ErrNoParentFolder, prefix, err)
		}

		r.cache[key] = id
		parentID = id
	}

	return parentID, nil
}

func (r *FolderResolver) lookupOrCreate(ctx context.Context, name, parentID, rootID, prefix string) (string, error) {
	existing, err := r.remote.FindChild(ctx, name, parentID, true)
	if err != nil {
		return "", fmt.Errorf("looking up folder: %w", err)
	}

	if existing != nil {
		return existing.ID, nil
	}

	created, err := r.remote.CreateFolder(ctx, name, parentID)
	if err != nil {
		return "", fmt.Errorf("creating folder: %w", err)
	}

	r.created = append(r.created, createdFolder{rootID: rootID, path: prefix})

	r.logger.Info("created remote folder",
		slog.String("path", prefix),
		slog.String("id", created.ID),
	)

	return created.ID, nil
}

// PreCreateAll resolves the parent folder of every path in relPaths, once
// per distinct prefix, shallowest first. Failures are remembered so the
// owning transfers fail fast; the joined failures are returned.
func (r *FolderResolver) PreCreateAll(ctx context.Context, relPaths []string, rootID string) error {
	seen := make(map[string]struct{})

	var folders []string

	for _, p := range relPaths {
		for _, prefix := range pathmap.Prefixes(pathmap.Dir(pathmap.Normalize(p))) {
			if _, ok := seen[prefix]; ok {
				continue
			}

			seen[prefix] = struct{}{}
			folders = append(folders, prefix)
		}
	}

	slices.SortFunc(folders, func(a, b string) int {
		if c := cmp.Compare(pathmap.Depth(a), pathmap.Depth(b)); c != 0 {
			return c
		}

		return cmp.Compare(a, b)
	})

	var errs []error

	for _, f := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := r.Resolve(ctx, f, rootID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Seed records a folder ID learned from a listing.
func (r *FolderResolver) Seed(rootID, relFolder, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache[cacheKey(rootID, pathmap.Normalize(relFolder))] = id
}

// Prune drops cached folders under rootID, down to depth levels, that a
// listing of the root did not return, together with everything beneath
// them. It returns the number of entries removed.
func (r *FolderResolver) Prune(rootID string, listed map[string]struct{}, depth int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := cacheKey(rootID, "")

	var stale []string

	for key := range r.cache {
		rel, ok := strings.CutPrefix(key, prefix)
		if !ok || pathmap.Depth(rel) > depth {
			continue
		}

		if _, ok := listed[rel]; !ok {
			stale = append(stale, rel)
		}
	}

	if len(stale) == 0 {
		return 0
	}

	removed := 0

	for key := range r.cache {
		rel, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}

		for _, gone := range stale {
			if rel == gone || strings.HasPrefix(rel, gone+"/") {
				delete(r.cache, key)
				removed++

				break
			}
		}
	}

	r.logger.Debug("pruned stale folder IDs",
		slog.String("root", rootID),
		slog.Int("removed", removed),
	)

	return removed
}

// BeginPass forgets per-pass failures and created folders. The ID cache
// survives.
func (r *FolderResolver) BeginPass() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failed = make(map[string]error)
	r.created = nil
}

// DrainCreated returns the folders created under rootID since the last
// call and forgets them.
func (r *FolderResolver) DrainCreated(rootID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		out  []string
		keep []createdFolder
	)

	for _, c := range r.created {
		if c.rootID == rootID {
			out = append(out, c.path)
		} else {
			keep = append(keep, c)
		}
	}

	r.created = keep

	return out
}

// Reset empties the cache.
func (r *FolderResolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]string)
	r.failed = make(map[string]error)
	r.created = nil
}
