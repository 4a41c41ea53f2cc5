package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides holds values read from VAULTSYNC_* environment variables.
type EnvOverrides struct {
	ConfigPath   string `env:"VAULTSYNC_CONFIG"`
	VaultDir     string `env:"VAULTSYNC_VAULT_DIR"`
	StateDir     string `env:"VAULTSYNC_STATE_DIR"`
	LogLevel     string `env:"VAULTSYNC_LOG_LEVEL"`
	ClientID     string `env:"VAULTSYNC_CLIENT_ID"`
	ClientSecret string `env:"VAULTSYNC_CLIENT_SECRET"` //nolint:gosec // field name, not a credential
}

// ReadEnvOverrides reads the process environment.
func ReadEnvOverrides() (EnvOverrides, error) {
	var e EnvOverrides
	if err := env.Parse(&e); err != nil {
		return EnvOverrides{}, fmt.Errorf("reading environment: %w", err)
	}

	return e, nil
}

// apply copies every non-empty override into cfg.
func (e EnvOverrides) apply(cfg *Config) {
	if e.VaultDir != "" {
		cfg.VaultDir = e.VaultDir
	}

	if e.StateDir != "" {
		cfg.StateDir = e.StateDir
	}

	if e.LogLevel != "" {
		cfg.Logging.LogLevel = e.LogLevel
	}

	if e.ClientID != "" {
		cfg.Remote.ClientID = e.ClientID
	}

	if e.ClientSecret != "" {
		cfg.Remote.ClientSecret = e.ClientSecret
	}
}
