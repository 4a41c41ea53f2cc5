package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/tonimelisma/vaultsync/internal/gdrive"
	"github.com/tonimelisma/vaultsync/internal/pathmap"
	"github.com/tonimelisma/vaultsync/internal/syncstate"
)

// TransferEngine moves one file in one direction and records the resulting
// sync state. Each call is independent; the reconciler decides which call to
// make.
type TransferEngine struct {
	local   LocalStore
	remote  RemoteStore
	folders *FolderResolver
	state   *syncstate.Store
	logger  *slog.Logger

	inlineLimit int64
	autoCreate  bool
	limiter     *BandwidthLimiter
	notify      func(LogEvent)
	nowFunc     func() time.Time
}

// TransferConfig holds the per-pass knobs of a TransferEngine.
type TransferConfig struct {
	InlineUploadLimit int64
	AutoCreateFolders bool
	// Limiter throttles file content in both directions; nil is unlimited.
	Limiter *BandwidthLimiter
	// Log receives user-facing warnings such as failed mtime stamping.
	Log func(LogEvent)
}

// NewTransferEngine wires a TransferEngine.
func NewTransferEngine(
	local LocalStore,
	remote RemoteStore,
	folders *FolderResolver,
	state *syncstate.Store,
	cfg TransferConfig,
	logger *slog.Logger,
) *TransferEngine {
	if logger == nil {
		logger = slog.Default()
	}

	limit := cfg.InlineUploadLimit
	if limit <= 0 {
		limit = DefaultInlineUploadLimit
	}

	return &TransferEngine{
		local:       local,
		remote:      remote,
		folders:     folders,
		state:       state,
		logger:      logger,
		inlineLimit: limit,
		autoCreate:  cfg.AutoCreateFolders,
		limiter:     cfg.Limiter,
		notify:      cfg.Log,
		nowFunc:     time.Now,
	}
}

// Upload sends local to the remote folder matching its path under target.
// remote is the existing remote file to overwrite, or nil to create one.
func (e *TransferEngine) Upload(ctx context.Context, target Target, local LocalEntry, remote *RemoteFile) error {
	rel := pathmap.Relative(local.Path, target.BasePath)

	parentID, err := e.folders.Resolve(ctx, pathmap.Dir(rel), target.RootID)
	if err != nil {
		return err
	}

	content, closeFn, err := e.readContent(ctx, local)
	if err != nil {
		return err
	}
	defer closeFn()

	mtime := time.UnixMilli(local.ModTime).UTC()

	var f *gdrive.File

	if remote == nil {
		f, err = e.remote.CreateFile(ctx, gdrive.Metadata{
			Name:         path.Base(rel),
			MimeType:     content.MimeType,
			Parents:      []string{parentID},
			ModifiedTime: &mtime,
		}, content)
	} else {
		f, err = e.remote.UpdateFile(ctx, remote.ID, gdrive.Metadata{ModifiedTime: &mtime}, content)
	}

	if err != nil {
		return fmt.Errorf("sync: uploading %s: %w", local.Path, err)
	}

	if _, err := e.state.Set(ctx, local.Path, syncstate.FileSyncState{
		LocalModTime:  syncstate.Int64Ptr(local.ModTime),
		RemoteHash:    f.MD5Checksum,
		RemoteModTime: syncstate.Int64Ptr(f.ModTimeMillis()),
		RemoteVersion: f.Version,
		LastSyncTime:  syncstate.Int64Ptr(e.nowFunc().UnixMilli()),
	}); err != nil {
		return fmt.Errorf("sync: recording state for %s: %w", local.Path, err)
	}

	e.logger.Info("uploaded",
		slog.String("path", local.Path),
		slog.String("encoding", content.Encoding.String()),
		slog.Bool("created", remote == nil),
		slog.Int64("size", local.Size),
	)

	return nil
}

// readContent prepares the upload body: text as UTF-8, small binaries
// base64-encoded inline, larger binaries as a seekable stream.
func (e *TransferEngine) readContent(ctx context.Context, local LocalEntry) (gdrive.Content, func(), error) {
	noop := func() {}

	content := gdrive.Content{MimeType: MimeType(local.Path)}

	rc, err := e.local.Open(ctx, local.Path)
	if err != nil {
		return content, noop, fmt.Errorf("sync: opening %s: %w", local.Path, err)
	}

	src := e.limiter.WrapReadSeeker(ctx, rc)

	if !IsText(local.Path) && local.Size >= e.inlineLimit {
		content.Encoding = gdrive.EncodingMedia
		content.Stream = src
		content.Size = local.Size

		return content, func() { rc.Close() }, nil
	}

	defer rc.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return content, noop, fmt.Errorf("sync: reading %s: %w", local.Path, err)
	}

	content.Data = data
	content.Size = int64(len(data))
	content.Encoding = gdrive.EncodingText

	if !IsText(local.Path) {
		content.Encoding = gdrive.EncodingBase64
	}

	return content, noop, nil
}

// Download writes remote into the vault at its path under target and stamps
// the local modification time to match the remote one when possible.
func (e *TransferEngine) Download(ctx context.Context, target Target, remote RemoteFile) error {
	localPath := pathmap.Join(target.BasePath, remote.RelativePath)

	if dir := pathmap.Dir(localPath); dir != "" && e.autoCreate {
		if err := e.local.CreateFolder(ctx, dir); err != nil {
			return fmt.Errorf("sync: creating folder %s: %w", dir, err)
		}
	}

	var n int64

	err := e.local.Write(ctx, localPath, func(w io.Writer) error {
		var dlErr error
		n, dlErr = e.remote.Download(ctx, remote.ID, e.limiter.WrapWriter(ctx, w))

		return dlErr
	})
	if err != nil {
		return fmt.Errorf("sync: downloading %s: %w", localPath, err)
	}

	if remote.ModTime > 0 {
		if err := e.local.SetModTime(ctx, localPath, time.UnixMilli(remote.ModTime)); err != nil {
			e.logger.Warn("could not set local modification time",
				slog.String("path", localPath),
				slog.String("error", err.Error()),
			)

			if e.notify != nil {
				e.notify(LogEvent{
					Level:   slog.LevelWarn,
					Message: "modification time not updated",
					Path:    localPath,
					Err:     err,
				})
			}
		}
	}

	st, err := e.local.Stat(ctx, localPath)
	if err != nil {
		return fmt.Errorf("sync: stat after download of %s: %w", localPath, err)
	}

	if st == nil {
		return fmt.Errorf("sync: %s missing after download: %w", localPath, ErrLocalWrite)
	}

	if _, err := e.state.Set(ctx, localPath, syncstate.FileSyncState{
		LocalModTime:  syncstate.Int64Ptr(st.ModTime),
		RemoteHash:    remote.ContentHash,
		RemoteModTime: syncstate.Int64Ptr(remote.ModTime),
		RemoteVersion: remote.Version,
		LastSyncTime:  syncstate.Int64Ptr(e.nowFunc().UnixMilli()),
	}); err != nil {
		return fmt.Errorf("sync: recording state for %s: %w", localPath, err)
	}

	e.logger.Info("downloaded",
		slog.String("path", localPath),
		slog.Int64("bytes", n),
	)

	return nil
}

// isAuthError reports whether err means the user must sign in again.
func isAuthError(err error) bool {
	return errors.Is(err, gdrive.ErrAuthRequired)
}
