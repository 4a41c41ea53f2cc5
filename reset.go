package main

import (
	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget all recorded sync state",
		Long: `Clear every recorded file state and the last sync time. The next sync
treats every file as new on both sides: identical timestamps are skipped,
everything else is settled by sync.conflict_policy. Selected folders are kept.`,
		RunE: runReset,
	}
}

func runReset(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	// Reset never touches Drive.
	sess, err := openSyncSession(cmd.Context(), cc.Cfg, nil, cc.Logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	tracked := sess.State.Len()

	if err := sess.Reconciler.ClearCaches(cmd.Context()); err != nil {
		return err
	}

	cc.Logger.Info("sync state cleared", "entries", tracked)
	cc.Statusf("Cleared state for %d tracked files.\n", tracked)

	return nil
}
