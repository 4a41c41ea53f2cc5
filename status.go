package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/vaultsync/internal/config"
	"github.com/tonimelisma/vaultsync/internal/syncstate"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStatePresent = "present"
)

const notSet = "(not set)"

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sign-in state, last sync and selected folders",
		Long: `Display the vault directory, whether a Drive token is saved, when the last
complete sync pass finished, how many files are tracked, and the selected
Drive folders. Reads local state only; no network access.`,
		RunE: runStatus,
	}
}

// statusReport is the JSON schema for `status --json`.
type statusReport struct {
	VaultDir     string        `json:"vault_dir"`
	StatePath    string        `json:"state_path"`
	StateSize    int64         `json:"state_size_bytes"`
	Token        string        `json:"token"`
	LastSync     *time.Time    `json:"last_sync,omitempty"`
	TrackedFiles int           `json:"tracked_files"`
	Direction    string        `json:"direction"`
	Scopes       []statusScope `json:"scopes"`
}

type statusScope struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	report, err := buildStatusReport(cmd.Context(), cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printStatusJSON(os.Stdout, report)
	}

	printStatusText(os.Stdout, report, time.Now())

	return nil
}

// buildStatusReport gathers status from the config and, if it exists, the
// state file. A missing state file means no pass has run yet.
func buildStatusReport(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (statusReport, error) {
	report := statusReport{
		VaultDir:  cfg.VaultDir,
		StatePath: cfg.StatePath(),
		Token:     tokenStateMissing,
		Direction: cfg.Sync.Direction,
		Scopes:    []statusScope{},
	}

	if _, err := os.Stat(cfg.TokenPath()); err == nil {
		report.Token = tokenStatePresent
	}

	info, err := os.Stat(report.StatePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		report.Scopes = configuredScopes(cfg)

		return report, nil
	case err != nil:
		return report, fmt.Errorf("checking state file: %w", err)
	}

	report.StateSize = info.Size()

	store, err := openStateStore(ctx, cfg, logger)
	if err != nil {
		return report, err
	}
	defer store.Close()

	if last, ok := store.LastSync(); ok {
		report.LastSync = &last
	}

	report.TrackedFiles = store.Len()

	scopes := store.Scopes()
	if len(scopes) == 0 {
		report.Scopes = configuredScopes(cfg)
	} else {
		report.Scopes = toStatusScopes(scopes)
	}

	return report, nil
}

func configuredScopes(cfg *config.Resolved) []statusScope {
	return toStatusScopes(cfg.StateScopes())
}

func toStatusScopes(scopes []syncstate.Scope) []statusScope {
	out := make([]statusScope, 0, len(scopes))
	for _, sc := range scopes {
		out = append(out, statusScope{ID: sc.ID, Name: sc.Name, Path: sc.Path})
	}

	return out
}

func printStatusJSON(w io.Writer, report statusReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}

func printStatusText(w io.Writer, r statusReport, now time.Time) {
	vault := r.VaultDir
	if vault == "" {
		vault = notSet
	}

	fmt.Fprintf(w, "Vault:      %s\n", vault)
	fmt.Fprintf(w, "Token:      %s\n", r.Token)
	fmt.Fprintf(w, "Direction:  %s\n", r.Direction)

	if r.StateSize > 0 {
		fmt.Fprintf(w, "State:      %s (%s)\n", r.StatePath, formatSize(r.StateSize))
	} else {
		fmt.Fprintf(w, "State:      %s\n", r.StatePath)
	}

	if r.LastSync != nil {
		fmt.Fprintf(w, "Last sync:  %s\n", formatSince(*r.LastSync, now))
	} else {
		fmt.Fprintln(w, "Last sync:  never")
	}

	fmt.Fprintf(w, "Tracked:    %s\n", english.Plural(r.TrackedFiles, "file", ""))

	if len(r.Scopes) == 0 {
		fmt.Fprintln(w, "Folders:    whole vault")
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(r.Scopes))
	for _, sc := range r.Scopes {
		path := sc.Path
		if path == "" {
			path = "/"
		}

		rows = append(rows, []string{sc.ID, sc.Name, path})
	}

	printTable(w, []string{"FOLDER ID", "NAME", "VAULT PATH"}, rows)
}
