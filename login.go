package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphfiles/internal/config"
)

// browserOpener opens the sign-in page. Replaced in tests.
var browserOpener = openBrowser

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with your Microsoft account",
		Long: `Sign in through the browser and store the credential in the durable
token cache. Later commands act as this identity unless --user is given.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential",
		Long:  "Remove the cached credential for the current identity (or --user) from the durable token cache.",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := config.RequireIdentity(cc.Cfg); err != nil {
		return err
	}

	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	sess, err := openCLISession(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	cc.Statusf("Opening your browser to sign in...\n")

	user, err := sess.provider.LoginWithBrowser(ctx, browserOpener)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if err := saveCurrentUser(user); err != nil {
		return err
	}

	cc.Logger.Info("signed in", slog.String("user", user.String()))
	cc.Statusf("Signed in as %s\n", userLabel(user))

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	user, err := resolveUser(cc.Flags)
	if err != nil {
		return err
	}

	sess, err := openCLISession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.provider.SignOut(cmd.Context(), user); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	if err := clearCurrentUser(user); err != nil {
		return err
	}

	cc.Statusf("Signed out %s\n", userLabel(user))

	return nil
}
