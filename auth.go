package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/vaultsync/internal/gdrive"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize access to Google Drive in the browser",
		Long: `Open Google's consent page in the browser and save the resulting token in
the state directory. Requires remote.client_id (and client_secret) of a
Google "Desktop app" OAuth client.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved Google Drive token",
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	creds := credentials(cc.Cfg)
	if creds.ClientID == "" {
		return errors.New("remote.client_id is not set; add it to the config file or set VAULTSYNC_CLIENT_ID")
	}

	ctx := shutdownContext(cmd.Context(), logger)

	logger.Info("login started", "token_path", cc.Cfg.TokenPath())

	// The consent prompt is always visible, even with --quiet.
	fmt.Fprintln(os.Stderr, "Opening your browser to sign in to Google Drive...")

	_, err := gdrive.LoginWithBrowser(ctx, cc.Cfg.TokenPath(), creds, openBrowser, logger)
	if err != nil {
		return err
	}

	logger.Info("login successful")
	cc.Statusf("Login successful.\n")

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	if err := gdrive.Logout(cc.Cfg.TokenPath(), logger); err != nil {
		return err
	}

	logger.Info("logout successful")
	cc.Statusf("Logged out.\n")

	return nil
}

// browserCommand returns the platform command that opens url.
func browserCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

// openBrowser launches the user's browser without waiting for it.
func openBrowser(url string) error {
	name, args := browserCommand(runtime.GOOS, url)

	if err := exec.Command(name, args...).Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	return nil
}
