package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/vaultsync/internal/gdrive"
	"github.com/tonimelisma/vaultsync/internal/sync"
	"github.com/tonimelisma/vaultsync/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the vault in sync continuously",
		Long: `Run a sync pass at startup, then again whenever files in the vault change
(debounced by sync.debounce) and every sync.poll_interval to pick up remote
edits. Stops on Ctrl-C or when Drive access is revoked.`,
		RunE: runWatch,
	}

	cmd.Flags().String("direction", "", "bidirectional, upload or download (overrides sync.direction)")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	wcfg, err := cc.Cfg.WatchConfig()
	if err != nil {
		return err
	}

	client, err := newDriveClient(cc.Cfg, logger)
	if err != nil {
		return err
	}

	sess, err := openSyncSession(cmd.Context(), cc.Cfg, client, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	wcfg.StopOn = isFatalPassError

	ctx := shutdownContext(cmd.Context(), logger)

	cc.Statusf("Watching %s (Ctrl-C to stop)\n", wcfg.Root)

	sched := watch.New(wcfg, newWatchPass(cc, sess), logger)

	if err := sched.Run(ctx); err != nil {
		if errors.Is(err, gdrive.ErrAuthRequired) {
			return errNotSignedIn
		}

		return err
	}

	cc.Statusf("Stopped.\n")

	return nil
}

// newWatchPass adapts one reconciler pass to the scheduler. A pass that is
// still running when a trigger fires is not an error.
func newWatchPass(cc *CLIContext, sess *SyncSession) watch.PassFunc {
	return func(ctx context.Context, reason string) error {
		out, err := runPass(ctx, cc, sess)

		switch {
		case errors.Is(err, sync.ErrSyncInProgress):
			return nil
		case err != nil:
			return err
		}

		cc.Logger.Info("watch pass finished",
			slog.String("reason", reason),
			slog.String("pass_id", out.PassID),
			slog.String("summary", summarize(out)),
		)

		if out.Processed() > out.Skipped {
			cc.Statusf("%s: %s\n", reason, summarize(out))
		}

		return nil
	}
}

// isFatalPassError reports whether watching should stop after err.
func isFatalPassError(err error) bool {
	return errors.Is(err, gdrive.ErrAuthRequired)
}
