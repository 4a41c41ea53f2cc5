// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for vaultsync. Values are layered:
// defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	VaultDir  string          `toml:"vault_dir"`
	StateDir  string          `toml:"state_dir"`
	Remote    RemoteConfig    `toml:"remote"`
	Scopes    []ScopeConfig   `toml:"scope"`
	Sync      SyncConfig      `toml:"sync"`
	Transfers TransfersConfig `toml:"transfers"`
	Filter    FilterConfig    `toml:"filter"`
	State     StateConfig     `toml:"state"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// RemoteConfig identifies the Drive folder the vault maps to and the OAuth
// client used to sign in.
type RemoteConfig struct {
	RootFolderID string `toml:"root_folder_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// ScopeConfig pairs one remote folder with a vault sub-path. With no scopes
// the whole vault syncs against the remote root folder.
type ScopeConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// SyncConfig controls reconciliation behavior.
type SyncConfig struct {
	Direction         string `toml:"direction"`
	ConflictPolicy    string `toml:"conflict_policy"`
	Tolerance         string `toml:"tolerance"`
	IncludeSubfolders bool   `toml:"include_subfolders"`
	AutoCreateFolders bool   `toml:"auto_create_folders"`
	MaxDepth          int    `toml:"max_depth"`
	Pace              string `toml:"pace"`
	PollInterval      string `toml:"poll_interval"`
	Debounce          string `toml:"debounce"`
}

// TransfersConfig controls upload encoding and throughput.
type TransfersConfig struct {
	InlineUploadLimit string `toml:"inline_upload_limit"`
	BandwidthLimit    string `toml:"bandwidth_limit"`
}

// FilterConfig holds user exclusions on top of the built-in type filter.
type FilterConfig struct {
	SkipPatterns []string `toml:"skip_patterns"`
}

// StateConfig selects the sync state persister.
type StateConfig struct {
	Format string `toml:"format"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the HTTP client.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from an explicit value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	VaultDir   *string // --vault flag
	Direction  *string // --direction flag
}
