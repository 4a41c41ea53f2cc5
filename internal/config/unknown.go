package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each section. The empty section is the
// top level.
var knownKeys = map[string][]string{
	"": {
		"filter", "logging", "network", "remote", "scope", "state", "state_dir",
		"sync", "transfers", "vault_dir",
	},
	"remote":    {"client_id", "client_secret", "root_folder_id"},
	"scope":     {"id", "name", "path"},
	"sync":      {"auto_create_folders", "conflict_policy", "debounce", "direction", "include_subfolders", "max_depth", "pace", "poll_interval", "tolerance"},
	"transfers": {"inline_upload_limit", "bandwidth_limit"},
	"filter":    {"skip_patterns"},
	"state":     {"format"},
	"logging":   {"log_format", "log_level"},
	"network":   {"timeout", "user_agent"},
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with suggestions for each one.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	section, field := "", key[0]

	if len(key) > 1 {
		if _, ok := knownKeys[key[0]]; ok {
			section, field = key[0], key[1]
		}
	}

	full := key.String()

	suggestion := closestMatch(field, knownKeys[section])
	if suggestion == "" {
		return fmt.Errorf("unknown config key %q", full)
	}

	if section != "" {
		suggestion = section + "." + suggestion
	}

	return fmt.Errorf("unknown config key %q (did you mean %q?)", full, suggestion)
}

// closestMatch finds the closest known key by Levenshtein distance. Ties go
// to the alphabetically first key. Returns empty string if no match is
// within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	sorted := slices.Sorted(slices.Values(known))

	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range sorted {
		d := levenshtein(strings.ToLower(unknown), k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
