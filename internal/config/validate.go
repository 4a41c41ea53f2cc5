package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Validation range constants.
const (
	minMaxDepth     = 1
	maxMaxDepth     = 256
	minPollInterval = 30 * time.Second
	minTimeout      = time.Second
	maxTolerance    = time.Hour
)

var (
	validDirections      = []string{"bidirectional", "upload", "download"}
	validConflictPolicy  = []string{"local", "remote", "newer", "ask"}
	validStateFormats    = []string{StateFormatSQLite, StateFormatJSON}
	validLogFormats      = []string{"auto", "text", "json"}
	validLogLevelStrings = []string{"debug", "info", "warn", "error"}
)

// Validate checks all configuration values and returns every error found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateScopes(cfg.Scopes)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateFilter(&cfg.Filter)...)
	errs = append(errs, validateState(&cfg.State)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateScopes(scopes []ScopeConfig) []error {
	var errs []error

	seen := make(map[string]int)

	for i, sc := range scopes {
		if sc.ID == "" {
			errs = append(errs, fmt.Errorf("scope[%d].id: must not be empty", i))
		}

		p := strings.Trim(sc.Path, "/")
		if p == "" {
			errs = append(errs, fmt.Errorf("scope[%d].path: must not be empty", i))
			continue
		}

		if path.Clean(p) != p || strings.HasPrefix(p, "..") {
			errs = append(errs, fmt.Errorf("scope[%d].path: %q must be a clean vault-relative path", i, sc.Path))
			continue
		}

		if j, dup := seen[p]; dup {
			errs = append(errs, fmt.Errorf("scope[%d].path: %q already used by scope[%d]", i, sc.Path, j))
		}

		seen[p] = i
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, checkOneOf("sync.direction", s.Direction, validDirections)...)
	errs = append(errs, checkOneOf("sync.conflict_policy", s.ConflictPolicy, validConflictPolicy)...)

	if d, err := time.ParseDuration(s.Tolerance); err != nil {
		errs = append(errs, fmt.Errorf("sync.tolerance: %w", err))
	} else if d < 0 || d > maxTolerance {
		errs = append(errs, fmt.Errorf("sync.tolerance: must be between 0 and %s, got %s", maxTolerance, d))
	}

	if s.MaxDepth < minMaxDepth || s.MaxDepth > maxMaxDepth {
		errs = append(errs, fmt.Errorf("sync.max_depth: must be between %d and %d, got %d",
			minMaxDepth, maxMaxDepth, s.MaxDepth))
	}

	errs = append(errs, checkDuration("sync.pace", s.Pace, 0)...)
	errs = append(errs, checkDuration("sync.debounce", s.Debounce, 0)...)

	if s.PollInterval != "0" {
		errs = append(errs, checkDuration("sync.poll_interval", s.PollInterval, minPollInterval)...)
	}

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	n, err := ParseSize(t.InlineUploadLimit)
	if err != nil {
		return []error{fmt.Errorf("transfers.inline_upload_limit: %w", err)}
	}

	var errs []error

	if n == 0 {
		errs = append(errs, errors.New("transfers.inline_upload_limit: must be greater than zero"))
	}

	if _, err := ParseRate(t.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("transfers.bandwidth_limit: %w", err))
	}

	return errs
}

func validateFilter(f *FilterConfig) []error {
	var errs []error

	for _, p := range f.SkipPatterns {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("filter.skip_patterns: invalid pattern %q", p))
		}
	}

	return errs
}

func validateState(s *StateConfig) []error {
	return checkOneOf("state.format", s.Format, validStateFormats)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, checkOneOf("logging.log_level", l.LogLevel, validLogLevelStrings)...)
	errs = append(errs, checkOneOf("logging.log_format", l.LogFormat, validLogFormats)...)

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, checkDuration("network.timeout", n.Timeout, minTimeout)...)

	if strings.TrimSpace(n.UserAgent) == "" {
		errs = append(errs, errors.New("network.user_agent: must not be empty"))
	}

	return errs
}

func checkOneOf(field, value string, valid []string) []error {
	if slices.Contains(valid, value) {
		return nil
	}

	return []error{fmt.Errorf("%s: must be one of %s, got %q", field, strings.Join(valid, ", "), value)}
}

func checkDuration(field, value string, minimum time.Duration) []error {
	if value == "0" {
		if minimum > 0 {
			return []error{fmt.Errorf("%s: must be at least %s", field, minimum)}
		}

		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, minimum, d)}
	}

	return nil
}

// ParseLogLevel maps a validated level name to a slog.Level.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
