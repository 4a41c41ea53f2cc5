// Package sync implements the vault reconciliation engine: it enumerates a
// local vault and its remote Drive folders, classifies every path against the
// persisted sync state, and uploads, downloads, skips, or resolves conflicts
// one path at a time.
package sync

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/tonimelisma/vaultsync/internal/gdrive"
)

// EntryKind tags a listing entry as a file or a folder.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindFolder
)

func (k EntryKind) String() string {
	if k == KindFolder {
		return "folder"
	}

	return "file"
}

// LocalEntry is one entry of a local listing. Path is vault-relative with
// forward slashes; ModTime is Unix milliseconds.
type LocalEntry struct {
	Kind    EntryKind
	Path    string
	ModTime int64
	Size    int64
}

// RemoteFile is a remote descriptor re-fetched every pass. RelativePath is
// relative to the target's remote root folder.
type RemoteFile struct {
	ID           string
	Name         string
	RelativePath string
	MimeType     string
	ModTime      int64 // Unix milliseconds
	Size         int64
	ContentHash  string
	Version      string
	ParentIDs    []string
	Kind         EntryKind
}

func remoteFileFrom(f *gdrive.File, rel string) RemoteFile {
	kind := KindFile
	if f.IsFolder() {
		kind = KindFolder
	}

	return RemoteFile{
		ID:           f.ID,
		Name:         f.Name,
		RelativePath: rel,
		MimeType:     f.MimeType,
		ModTime:      f.ModTimeMillis(),
		Size:         f.Size,
		ContentHash:  f.MD5Checksum,
		Version:      f.Version,
		ParentIDs:    f.Parents,
		Kind:         kind,
	}
}

// Target pairs a remote root folder with a vault sub-path. An empty BasePath
// means the whole vault.
type Target struct {
	RootID   string
	BasePath string
}

// Direction restricts which way a pass may transfer.
type Direction int

const (
	Bidirectional Direction = iota
	UploadOnly
	DownloadOnly
)

func (d Direction) String() string {
	switch d {
	case UploadOnly:
		return "upload"
	case DownloadOnly:
		return "download"
	default:
		return "bidirectional"
	}
}

// ChangeKind is the ChangeDetector's verdict for one path.
type ChangeKind int

const (
	NewLocal ChangeKind = iota
	NewRemote
	Unchanged
	LocalChanged
	RemoteChanged
	BothChanged
)

func (c ChangeKind) String() string {
	switch c {
	case NewLocal:
		return "new_local"
	case NewRemote:
		return "new_remote"
	case Unchanged:
		return "unchanged"
	case LocalChanged:
		return "local_changed"
	case RemoteChanged:
		return "remote_changed"
	case BothChanged:
		return "both_changed"
	default:
		return "unknown"
	}
}

// Phase is the state of a pass.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseCollecting
	PhaseProcessing
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCollecting:
		return "collecting"
	case PhaseProcessing:
		return "processing"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome aggregates the results of a pass. Counters only grow within a
// pass; each processed path increments exactly one of them.
type Outcome struct {
	PassID             string
	Phase              Phase
	Uploaded           int
	Downloaded         int
	Skipped            int
	ConflictsResolved  int
	Errors             int
	CreatedFolderPaths []string
	Started            time.Time
	Finished           time.Time
}

// Processed returns the number of paths that reached a verdict.
func (o *Outcome) Processed() int {
	return o.Uploaded + o.Downloaded + o.Skipped + o.ConflictsResolved + o.Errors
}

// ProgressEvent is reported after each path.
type ProgressEvent struct {
	Processed int
	Total     int
	Label     string
}

// LogEvent is a user-facing message about a path.
type LogEvent struct {
	Level   slog.Level
	Message string
	Path    string
	Err     error
}

// Options configure one pass.
type Options struct {
	ConflictPolicy ConflictPolicy
	// Tolerance absorbs timestamp noise between the two stores when both
	// sides changed. Zero compares modification times exactly; DefaultOptions
	// sets DefaultTolerance.
	Tolerance         time.Duration
	IncludeSubfolders bool
	AutoCreateFolders bool
	// MaxDepth bounds the recursive remote walk. Zero means DefaultMaxDepth.
	MaxDepth int
	// Pace is a delay between paths; zero disables it.
	Pace time.Duration
	// InlineUploadLimit is the size below which binary content travels
	// base64-encoded inside a single multipart request.
	InlineUploadLimit int64
	// BandwidthLimit caps transfer throughput in bytes per second; zero
	// is unlimited.
	BandwidthLimit int64
	Filter         *Filter

	Progress func(ProgressEvent)
	Log      func(LogEvent)
}

// Defaults for zero-valued Options fields.
const (
	DefaultTolerance         = time.Second
	DefaultMaxDepth          = 32
	DefaultInlineUploadLimit = 100 * 1024
)

// DefaultOptions returns Options with every default applied.
func DefaultOptions() Options {
	return Options{
		ConflictPolicy:    PolicyNewer,
		Tolerance:         DefaultTolerance,
		IncludeSubfolders: true,
		AutoCreateFolders: true,
		MaxDepth:          DefaultMaxDepth,
		InlineUploadLimit: DefaultInlineUploadLimit,
	}
}

func (o Options) withDefaults() Options {
	if o.ConflictPolicy == "" {
		o.ConflictPolicy = PolicyNewer
	}

	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}

	if o.InlineUploadLimit <= 0 {
		o.InlineUploadLimit = DefaultInlineUploadLimit
	}

	if o.Filter == nil {
		o.Filter = DefaultFilter()
	}

	return o
}

// LocalStore is the vault file tree. Paths are vault-relative with forward
// slashes.
type LocalStore interface {
	// List returns every file and folder under base, recursively.
	List(ctx context.Context, base string) ([]LocalEntry, error)
	// Stat returns (nil, nil) when nothing exists at path.
	Stat(ctx context.Context, path string) (*LocalEntry, error)
	Open(ctx context.Context, path string) (io.ReadSeekCloser, error)
	// Write replaces path atomically with whatever fill writes.
	Write(ctx context.Context, path string, fill func(io.Writer) error) error
	// CreateFolder creates path and its missing parents. An existing folder
	// is not an error; a file in the way is ErrLocalWrite.
	CreateFolder(ctx context.Context, path string) error
	SetModTime(ctx context.Context, path string, mtime time.Time) error
}

// RemoteStore is the Drive API surface the engine needs. *gdrive.Client
// satisfies it.
type RemoteStore interface {
	ListChildren(ctx context.Context, folderID string) ([]gdrive.File, error)
	Download(ctx context.Context, fileID string, w io.Writer) (int64, error)
	CreateFile(ctx context.Context, meta gdrive.Metadata, content gdrive.Content) (*gdrive.File, error)
	UpdateFile(ctx context.Context, fileID string, meta gdrive.Metadata, content gdrive.Content) (*gdrive.File, error)
	CreateFolder(ctx context.Context, name, parentID string) (*gdrive.File, error)
	FindChild(ctx context.Context, name, parentID string, folder bool) (*gdrive.File, error)
	DeleteFile(ctx context.Context, fileID string) error
}
