package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/vaultsync/internal/pathmap"
)

// walkRemote lists the files under rootID breadth-first, descending at most
// maxDepth folder levels when recursive is set. Folder IDs found on the way
// are seeded into the resolver, and cached folders the listing no longer
// shows are pruned from it. Paths are relative to rootID.
func (r *Reconciler) walkRemote(ctx context.Context, rootID string, recursive bool, maxDepth int) ([]RemoteFile, error) {
	type folder struct {
		id  string
		rel string
	}

	queue := []folder{{id: rootID}}
	seen := make(map[string]struct{})
	listed := make(map[string]struct{})

	var files []RemoteFile

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sync: remote listing canceled: %w", err)
		}

		cur := queue[0]
		queue = queue[1:]

		children, err := r.remote.ListChildren(ctx, cur.id)
		if err != nil {
			return nil, fmt.Errorf("sync: listing remote folder %q: %w", cur.rel, err)
		}

		for i := range children {
			child := &children[i]

			if strings.Contains(child.Name, "/") {
				r.logger.Warn("skipping remote name containing a slash",
					slog.String("folder", cur.rel),
					slog.String("name", child.Name),
				)

				continue
			}

			rel := pathmap.Join(cur.rel, pathmap.Normalize(child.Name))

			if _, dup := seen[rel]; dup {
				r.logger.Warn("duplicate remote name, keeping first",
					slog.String("path", rel),
					slog.String("id", child.ID),
				)

				continue
			}

			seen[rel] = struct{}{}

			if !child.IsFolder() {
				files = append(files, remoteFileFrom(child, rel))
				continue
			}

			r.folders.Seed(rootID, rel, child.ID)
			listed[rel] = struct{}{}

			if !recursive {
				continue
			}

			if pathmap.Depth(rel) >= maxDepth {
				r.logger.Warn("remote folder deeper than max depth, not descending",
					slog.String("path", rel),
					slog.Int("max_depth", maxDepth),
				)

				continue
			}

			queue = append(queue, folder{id: child.ID, rel: rel})
		}
	}

	depth := 1
	if recursive {
		depth = maxDepth
	}

	r.folders.Prune(rootID, listed, depth)

	return files, nil
}
