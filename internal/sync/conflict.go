package sync

import (
	"fmt"
	"time"
)

// ConflictPolicy picks the winner when both sides changed.
type ConflictPolicy string

const (
	PolicyLocal  ConflictPolicy = "local"
	PolicyRemote ConflictPolicy = "remote"
	PolicyNewer  ConflictPolicy = "newer"
	// PolicyAsk behaves like PolicyNewer; there is no interactive prompt
	// inside a pass.
	PolicyAsk ConflictPolicy = "ask"
)

// ParseConflictPolicy validates s.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(s); p {
	case PolicyLocal, PolicyRemote, PolicyNewer, PolicyAsk:
		return p, nil
	default:
		return "", fmt.Errorf("sync: unknown conflict policy %q (want local, remote, newer or ask)", s)
	}
}

// Winner is the side whose content survives a conflict.
type Winner int

const (
	WinnerLocal Winner = iota
	WinnerRemote
)

func (w Winner) String() string {
	if w == WinnerRemote {
		return "remote"
	}

	return "local"
}

// ResolveConflict picks the winning side from the two modification times
// (Unix milliseconds). Under newer (and ask) a tie goes to local.
func ResolveConflict(localMod, remoteMod int64, policy ConflictPolicy) Winner {
	switch policy {
	case PolicyLocal:
		return WinnerLocal
	case PolicyRemote:
		return WinnerRemote
	default:
		if remoteMod > localMod {
			return WinnerRemote
		}

		return WinnerLocal
	}
}

// WithinTolerance reports whether the two modification times are close
// enough to treat a both-changed path as already in sync.
func WithinTolerance(localMod, remoteMod int64, tolerance time.Duration) bool {
	diff := localMod - remoteMod
	if diff < 0 {
		diff = -diff
	}

	return diff <= tolerance.Milliseconds()
}
