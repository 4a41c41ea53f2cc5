package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "vaultsync"

// File names inside the config and state directories.
const (
	configFileName = "config.toml"
	tokenFileName  = "token.json"
	dbFileName     = "state.db"
	docFileName    = "data.json"
	lockFileName   = "vaultsync.lock"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/vaultsync).
// On macOS, uses ~/Library/Application Support/vaultsync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".config", appName)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for the state
// database and token file.
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/vaultsync).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".local", "share", appName)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// TokenPath returns the OAuth token file path inside stateDir.
func TokenPath(stateDir string) string {
	return filepath.Join(stateDir, tokenFileName)
}

// StatePath returns the state file for the given persister format.
func StatePath(stateDir, format string) string {
	if format == StateFormatJSON {
		return filepath.Join(stateDir, docFileName)
	}

	return filepath.Join(stateDir, dbFileName)
}

// LockPath returns the process lock file inside stateDir.
func LockPath(stateDir string) string {
	return filepath.Join(stateDir, lockFileName)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
