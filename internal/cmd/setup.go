package cmd

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/lifecycle"
	"github.com/sedlock/sedlock/internal/sedutil"
)

// setup is a struct for holding all information passed into the setup command.
type setup struct {
	selection
	saveEscrow bool
}

// setupCommand creates a new command which takes ownership of unconfigured drives.
func setupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "take ownership of drives and enable locking",
		Long: strings.TrimSpace(`
setup takes ownership of Opal drives that have not been set up yet. Every owner
credential is set to the digest of the new passphrase and the locking range is
enabled. The drives stay unlocked until they are locked.
`),
		Args: cobra.NoArgs,
	}

	setupArgs := setup{}
	setupArgs.selection.bind(cmd.Flags())
	cmd.Flags().BoolVar(&setupArgs.saveEscrow, "save-escrow", false, "save the credential digest to the escrow volume")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("args", setupArgs).Debug("Running setup command with args")
		return runSetup(ctx, a, setupArgs)
	}

	return cmd
}

func runSetup(ctx context.Context, a *app, args setup) error {
	if err := a.scan(ctx); err != nil {
		return err
	}
	passphrase, err := a.newPassphrase(string(sedutil.Admin1))
	if err != nil {
		return err
	}

	_, err = a.run(ctx, lifecycle.OpInitialSetup, device.NonSetup, args.selection,
		func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
			return a.machine.InitialSetup(ctx, t, passphrase, args.saveEscrow)
		})
	return err
}

// passwd is a struct for holding all information passed into the passwd command.
type passwd struct {
	selection
	credentials
	user bool
}

// passwdCommand creates a new command which changes the Admin1 or User1 passphrase.
func passwdCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "change the drive passphrase",
		Long: strings.TrimSpace(`
passwd changes the Admin1 passphrase of set up drives, together with the SID
credential. With --user the User1 passphrase used for PBA unlocks is changed
instead.
`),
		Args: cobra.NoArgs,
	}

	passwdArgs := passwd{}
	passwdArgs.selection.bind(cmd.Flags())
	passwdArgs.credentials.bind(cmd.Flags())
	cmd.Flags().BoolVar(&passwdArgs.user, "user", false, "change the User1 passphrase")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("args", passwdArgs).Debug("Running passwd command with args")
		return runPasswd(ctx, a, passwdArgs)
	}

	return cmd
}

func runPasswd(ctx context.Context, a *app, args passwd) error {
	as := sedutil.Admin1
	if args.user {
		as = sedutil.User1
	}

	if err := a.scan(ctx); err != nil {
		return err
	}
	old, err := a.credential(args.credentials, "current "+string(as))
	if err != nil {
		return err
	}
	passphrase, err := a.newPassphrase(string(as))
	if err != nil {
		return err
	}

	_, err = a.run(ctx, lifecycle.OpChangePassword, device.Setup, args.selection,
		func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
			return a.machine.ChangePassword(ctx, t, old, passphrase, as, args.saveEscrow)
		})
	return err
}

// addUser is a struct for holding all information passed into the add-user command.
type addUser struct {
	selection
	credentials
}

// addUserCommand creates a new command which enables User1 for PBA unlocks.
func addUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "enable the User1 authority",
		Long: strings.TrimSpace(`
add-user enables the User1 authority on set up drives and gives it its own
passphrase. User1 may unlock the drive through the PBA but cannot change the
locking configuration.
`),
		Args: cobra.NoArgs,
	}

	userArgs := addUser{}
	userArgs.selection.bind(cmd.Flags())
	userArgs.credentials.bind(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("args", userArgs).Debug("Running add-user command with args")
		return runAddUser(ctx, a, userArgs)
	}

	return cmd
}

func runAddUser(ctx context.Context, a *app, args addUser) error {
	if err := a.scan(ctx); err != nil {
		return err
	}
	admin, err := a.credential(args.credentials, string(sedutil.Admin1))
	if err != nil {
		return err
	}
	passphrase, err := a.newPassphrase(string(sedutil.User1))
	if err != nil {
		return err
	}

	_, err = a.run(ctx, lifecycle.OpSetupUser, device.Setup, args.selection,
		func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
			return a.machine.SetupUser(ctx, t, admin, passphrase, args.saveEscrow)
		})
	return err
}
