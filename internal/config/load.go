package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" hints.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is the fully layered, parsed configuration a command runs with.
type Resolved struct {
	ConfigPath string

	VaultDir string
	StateDir string
	Remote   RemoteConfig
	Scopes   []ScopeConfig

	Sync      SyncConfig
	Filter    FilterConfig
	State     StateConfig
	Logging   LoggingConfig
	Network   NetworkConfig
	Transfers TransfersConfig

	Tolerance         time.Duration
	Pace              time.Duration
	PollInterval      time.Duration
	Debounce          time.Duration
	InlineUploadLimit int64
	BandwidthLimit    int64
	Timeout           time.Duration
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	env.apply(cfg)

	if cli.VaultDir != nil {
		cfg.VaultDir = *cli.VaultDir
	}

	if cli.Direction != nil {
		cfg.Sync.Direction = *cli.Direction
	}

	// Overrides may have introduced invalid values.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return build(cfg, cfgPath)
}

func build(cfg *Config, cfgPath string) (*Resolved, error) {
	r := &Resolved{
		ConfigPath: cfgPath,
		VaultDir:   expandTilde(cfg.VaultDir),
		StateDir:   expandTilde(cfg.StateDir),
		Remote:     cfg.Remote,
		Scopes:     cfg.Scopes,
		Sync:       cfg.Sync,
		Filter:     cfg.Filter,
		State:      cfg.State,
		Logging:    cfg.Logging,
		Network:    cfg.Network,
		Transfers:  cfg.Transfers,
	}

	if r.StateDir == "" {
		r.StateDir = DefaultDataDir()
	}

	var errs []error

	if r.VaultDir != "" && !filepath.IsAbs(r.VaultDir) {
		errs = append(errs, fmt.Errorf("vault_dir: must be absolute after expansion, got %q", r.VaultDir))
	}

	if r.StateDir != "" && !filepath.IsAbs(r.StateDir) {
		errs = append(errs, fmt.Errorf("state_dir: must be absolute after expansion, got %q", r.StateDir))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation: %w", errors.Join(errs...))
	}

	// Validate already vetted every value below.
	r.Tolerance, _ = time.ParseDuration(cfg.Sync.Tolerance)
	r.Pace = parseDurationOrZero(cfg.Sync.Pace)
	r.PollInterval = parseDurationOrZero(cfg.Sync.PollInterval)
	r.Debounce = parseDurationOrZero(cfg.Sync.Debounce)
	r.Timeout = parseDurationOrZero(cfg.Network.Timeout)
	r.InlineUploadLimit, _ = ParseSize(cfg.Transfers.InlineUploadLimit)
	r.BandwidthLimit, _ = ParseRate(cfg.Transfers.BandwidthLimit)

	return r, nil
}

func parseDurationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// TokenPath returns the OAuth token file for this configuration.
func (r *Resolved) TokenPath() string {
	return TokenPath(r.StateDir)
}

// StatePath returns the sync state file for this configuration.
func (r *Resolved) StatePath() string {
	return StatePath(r.StateDir, r.State.Format)
}

// LockPath returns the process lock file for this configuration.
func (r *Resolved) LockPath() string {
	return LockPath(r.StateDir)
}
