package config

// Default values for configuration options.
const (
	defaultDirection         = "bidirectional"
	defaultConflictPolicy    = "newer"
	defaultTolerance         = "1s"
	defaultMaxDepth          = 32
	defaultPace              = "0"
	defaultPollInterval      = "5m"
	defaultDebounce          = "2s"
	defaultInlineUploadLimit = "100KiB"
	defaultBandwidthLimit    = "0"
	defaultStateFormat       = StateFormatSQLite
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultTimeout           = "60s"
	defaultUserAgent         = "vaultsync/dev"
)

// State persister formats.
const (
	StateFormatSQLite = "sqlite"
	StateFormatJSON   = "json"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Direction:         defaultDirection,
			ConflictPolicy:    defaultConflictPolicy,
			Tolerance:         defaultTolerance,
			IncludeSubfolders: true,
			AutoCreateFolders: true,
			MaxDepth:          defaultMaxDepth,
			Pace:              defaultPace,
			PollInterval:      defaultPollInterval,
			Debounce:          defaultDebounce,
		},
		Transfers: TransfersConfig{
			InlineUploadLimit: defaultInlineUploadLimit,
			BandwidthLimit:    defaultBandwidthLimit,
		},
		State: StateConfig{Format: defaultStateFormat},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			Timeout:   defaultTimeout,
			UserAgent: defaultUserAgent,
		},
	}
}
