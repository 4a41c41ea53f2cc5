package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/vaultsync/internal/gdrive"
	"github.com/tonimelisma/vaultsync/internal/sync"
)

// errSyncPartial signals that the pass finished but some paths failed. The
// summary has already been printed, so main exits 1 without a message.
var errSyncPartial = errors.New("sync finished with errors")

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the vault with Google Drive",
		Long: `Run one sync pass between the vault and the configured Drive folders.

By default, sync is bidirectional. Use --direction upload or --direction download
for one-way sync. Conflicts are settled by sync.conflict_policy.`,
		RunE: runSync,
	}

	cmd.Flags().String("direction", "", "bidirectional, upload or download (overrides sync.direction)")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	client, err := newDriveClient(cc.Cfg, logger)
	if err != nil {
		return err
	}

	sess, err := openSyncSession(cmd.Context(), cc.Cfg, client, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := shutdownContext(cmd.Context(), logger)

	out, err := runPass(ctx, cc, sess)
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, gdrive.ErrAuthRequired) {
			return errNotSignedIn
		}

		return err
	}

	if cc.Flags.JSON {
		if jsonErr := printOutcomeJSON(os.Stdout, out); jsonErr != nil {
			return jsonErr
		}
	} else {
		printOutcomeText(os.Stderr, cc.Flags.Quiet, out)
	}

	if out.Errors > 0 {
		return errSyncPartial
	}

	return nil
}

// runPass runs one pass with the session's settings, wiring engine
// callbacks to the logger and the status line.
func runPass(ctx context.Context, cc *CLIContext, sess *SyncSession) (sync.Outcome, error) {
	opts := sess.Options
	opts.Progress = func(ev sync.ProgressEvent) {
		cc.Statusf("[%d/%d] %s\n", ev.Processed, ev.Total, ev.Label)
	}
	opts.Log = func(ev sync.LogEvent) {
		logEvent(ctx, cc.Logger, ev)
	}

	return sess.Reconciler.RunSync(ctx, sess.Targets, sess.Direction, opts)
}

func logEvent(ctx context.Context, logger *slog.Logger, ev sync.LogEvent) {
	attrs := []slog.Attr{slog.String("path", ev.Path)}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
	}

	logger.LogAttrs(ctx, ev.Level, ev.Message, attrs...)
}

// summarize renders the one-line outcome summary.
func summarize(out sync.Outcome) string {
	parts := []string{
		fmt.Sprintf("%d uploaded", out.Uploaded),
		fmt.Sprintf("%d downloaded", out.Downloaded),
		fmt.Sprintf("%d skipped", out.Skipped),
		english.Plural(out.ConflictsResolved, "conflict", ""),
		english.Plural(out.Errors, "error", ""),
	}

	return strings.Join(parts, ", ")
}

func printOutcomeText(w io.Writer, quiet bool, out sync.Outcome) {
	elapsed := out.Finished.Sub(out.Started).Round(time.Millisecond)

	switch out.Phase {
	case sync.PhaseCancelled:
		fmt.Fprintf(w, "Sync canceled after %s: %s\n", elapsed, summarize(out))
	case sync.PhaseFailed:
		fmt.Fprintf(w, "Sync failed after %s: %s\n", elapsed, summarize(out))
	default:
		if quiet {
			return
		}

		fmt.Fprintf(w, "Sync complete in %s: %s\n", elapsed, summarize(out))
	}

	if len(out.CreatedFolderPaths) > 0 && !quiet {
		fmt.Fprintf(w, "Created %s on Drive: %s\n",
			english.Plural(len(out.CreatedFolderPaths), "folder", ""),
			strings.Join(out.CreatedFolderPaths, ", "))
	}
}

// outcomeJSON is the schema for `sync --json`.
type outcomeJSON struct {
	PassID         string   `json:"pass_id"`
	Phase          string   `json:"phase"`
	Uploaded       int      `json:"uploaded"`
	Downloaded     int      `json:"downloaded"`
	Skipped        int      `json:"skipped"`
	Conflicts      int      `json:"conflicts_resolved"`
	Errors         int      `json:"errors"`
	CreatedFolders []string `json:"created_folders"`
	Started        string   `json:"started"`
	DurationMS     int64    `json:"duration_ms"`
}

func printOutcomeJSON(w io.Writer, out sync.Outcome) error {
	created := out.CreatedFolderPaths
	if created == nil {
		created = []string{}
	}

	data, err := json.MarshalIndent(outcomeJSON{
		PassID:         out.PassID,
		Phase:          out.Phase.String(),
		Uploaded:       out.Uploaded,
		Downloaded:     out.Downloaded,
		Skipped:        out.Skipped,
		Conflicts:      out.ConflictsResolved,
		Errors:         out.Errors,
		CreatedFolders: created,
		Started:        out.Started.UTC().Format(time.RFC3339),
		DurationMS:     out.Finished.Sub(out.Started).Milliseconds(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}
