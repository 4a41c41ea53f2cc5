package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated TOML-like
// summary to w. The OAuth client secret is masked.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%s)\n\n", r.ConfigPath)

	ew.printf("vault_dir = %q\n", r.VaultDir)
	ew.printf("state_dir = %q\n\n", r.StateDir)

	ew.printf("[remote]\n")
	ew.printf("  root_folder_id = %q\n", r.Remote.RootFolderID)
	ew.printf("  client_id      = %q\n", r.Remote.ClientID)
	ew.printf("  client_secret  = %q\n\n", mask(r.Remote.ClientSecret))

	for _, sc := range r.Scopes {
		ew.printf("[[scope]]\n")
		ew.printf("  id   = %q\n", sc.ID)
		ew.printf("  name = %q\n", sc.Name)
		ew.printf("  path = %q\n\n", sc.Path)
	}

	ew.printf("[sync]\n")
	ew.printf("  direction           = %q\n", r.Sync.Direction)
	ew.printf("  conflict_policy     = %q\n", r.Sync.ConflictPolicy)
	ew.printf("  tolerance           = %q\n", r.Tolerance)
	ew.printf("  include_subfolders  = %t\n", r.Sync.IncludeSubfolders)
	ew.printf("  auto_create_folders = %t\n", r.Sync.AutoCreateFolders)
	ew.printf("  max_depth           = %d\n", r.Sync.MaxDepth)
	ew.printf("  pace                = %q\n", r.Pace)
	ew.printf("  poll_interval       = %q\n", r.PollInterval)
	ew.printf("  debounce            = %q\n\n", r.Debounce)

	ew.printf("[transfers]\n")
	ew.printf("  inline_upload_limit = %q  # %d bytes\n", r.Transfers.InlineUploadLimit, r.InlineUploadLimit)

	if r.BandwidthLimit > 0 {
		ew.printf("  bandwidth_limit     = %q  # %d bytes/s\n\n", r.Transfers.BandwidthLimit, r.BandwidthLimit)
	} else {
		ew.printf("  bandwidth_limit     = %q  # unlimited\n\n", r.Transfers.BandwidthLimit)
	}

	ew.printf("[filter]\n")
	ew.printf("  skip_patterns = [%s]\n\n", joinQuoted(r.Filter.SkipPatterns))

	ew.printf("[state]\n")
	ew.printf("  format = %q  # %s\n\n", r.State.Format, r.StatePath())

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", r.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  timeout    = %q\n", r.Timeout)
	ew.printf("  user_agent = %q\n", r.Network.UserAgent)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}

	return "********"
}
