package sync

import "errors"

// Sentinel errors returned by the engine.
var (
	// ErrSyncInProgress is returned when RunSync is called while another
	// pass is running. The call is rejected, not queued.
	ErrSyncInProgress = errors.New("sync: a pass is already in progress")
	// ErrLocalWrite marks a failed local filesystem mutation: a folder path
	// blocked by a file, or a permission problem.
	ErrLocalWrite = errors.New("sync: local write failed")
	// ErrNoParentFolder is returned when a remote destination folder could
	// not be resolved or created.
	ErrNoParentFolder = errors.New("sync: remote parent folder unavailable")
)
