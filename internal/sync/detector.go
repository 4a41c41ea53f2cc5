package sync

import "github.com/tonimelisma/vaultsync/internal/syncstate"

// Classify compares the current local and remote entries for one path with
// the state recorded at its last transfer. Either entry may be nil, not both.
func Classify(local *LocalEntry, remote *RemoteFile, prior syncstate.FileSyncState) ChangeKind {
	switch {
	case remote == nil:
		return NewLocal
	case local == nil:
		return NewRemote
	}

	lc := localChanged(local, prior)
	rc := remoteChanged(remote, prior)

	switch {
	case lc && rc:
		return BothChanged
	case lc:
		return LocalChanged
	case rc:
		return RemoteChanged
	default:
		return Unchanged
	}
}

// NeedsDownload reports whether remote content should replace local
// content. A missing remote hash always downloads; a path changed on both
// sides never downloads silently.
func NeedsDownload(localChanged, remoteChanged bool, remoteHash string) bool {
	if remoteHash == "" {
		return true
	}

	return remoteChanged && !localChanged
}

// NeedsUpload mirrors NeedsDownload for the other direction.
func NeedsUpload(localChanged, remoteChanged, remotePresent bool) bool {
	if !remotePresent {
		return true
	}

	return localChanged && !remoteChanged
}

func localChanged(local *LocalEntry, prior syncstate.FileSyncState) bool {
	return prior.LocalModTime == nil || *prior.LocalModTime != local.ModTime
}

func remoteChanged(remote *RemoteFile, prior syncstate.FileSyncState) bool {
	if remote.ContentHash != prior.RemoteHash {
		return true
	}

	return prior.RemoteModTime == nil || *prior.RemoteModTime != remote.ModTime
}
