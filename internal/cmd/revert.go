package cmd

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/lifecycle"
	"github.com/sedlock/sedlock/internal/sedutil"
)

// revert is a struct for holding all information passed into the revert command.
type revert struct {
	selection
	credentials
	keep bool
	yes  bool
}

// revertCommand creates a new command which returns set up drives to factory state.
func revertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert",
		Short: "revert drives to factory state",
		Long: strings.TrimSpace(`
revert returns set up drives to their factory state with the Admin1 passphrase.
All data on the drive is cryptographically erased unless --keep is given, in
which case locking is disabled but the data is preserved.
`),
		Args: cobra.NoArgs,
	}

	revertArgs := revert{}
	revertArgs.selection.bind(cmd.Flags())
	cmd.Flags().BoolVar(&revertArgs.fromEscrow, "from-escrow", false, "authorize with the latest escrowed credential instead of a passphrase")
	cmd.Flags().BoolVar(&revertArgs.keep, "keep", false, "disable locking but keep the data")
	cmd.Flags().BoolVarP(&revertArgs.yes, "yes", "y", false, "do not ask for confirmation")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("args", revertArgs).Debug("Running revert command with args")
		return runRevert(ctx, a, revertArgs)
	}

	return cmd
}

func runRevert(ctx context.Context, a *app, args revert) error {
	if err := a.scan(ctx); err != nil {
		return err
	}

	warning := "revert erases ALL data on the selected drives."
	if args.keep {
		warning = "revert disables locking on the selected drives. The data is kept but no longer protected."
	}
	if err := confirm(a.prompt, a.out, warning, args.yes); err != nil {
		return err
	}

	c, err := a.credential(args.credentials, string(sedutil.Admin1))
	if err != nil {
		return err
	}
	_, err = a.run(ctx, lifecycle.OpRevert, device.Setup, args.selection,
		func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
			return a.machine.RevertWithPassword(ctx, t, c, args.keep)
		})
	return err
}

// revertPSID is a struct for holding all information passed into the revert-psid command.
type revertPSID struct {
	device string
	psid   string
	yes    bool
}

// revertPSIDCommand creates a new command which erases a drive with the PSID printed on its label.
func revertPSIDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert-psid",
		Short: "erase a drive with its physical security ID",
		Long: strings.TrimSpace(`
revert-psid returns a single drive to factory state using the PSID printed on
its label. It works when every passphrase is lost. All data on the drive is
cryptographically erased.
`),
		Args: cobra.NoArgs,
	}

	psidArgs := revertPSID{}
	cmd.Flags().StringVar(&psidArgs.device, "device", "", "drive handle to erase")
	cmd.Flags().StringVar(&psidArgs.psid, "psid", "", "PSID printed on the drive label")
	cmd.Flags().BoolVarP(&psidArgs.yes, "yes", "y", false, "do not ask for confirmation")
	cmd.MarkFlagRequired("device")
	cmd.MarkFlagRequired("psid")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("device", psidArgs.device).Debug("Running revert-psid command")
		return runRevertPSID(ctx, a, psidArgs)
	}

	return cmd
}

func runRevertPSID(ctx context.Context, a *app, args revertPSID) error {
	psid := strings.TrimSpace(args.psid)
	if psid == "" {
		return errors.New("a PSID is required")
	}
	if err := a.scan(ctx); err != nil {
		return err
	}
	if err := confirm(a.prompt, a.out, "revert-psid erases ALL data on "+args.device+".", args.yes); err != nil {
		return err
	}

	_, err := a.run(ctx, lifecycle.OpRevertPSID, device.AllTCG, selection{devices: []string{args.device}},
		func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
			return a.machine.RevertWithPSID(ctx, t, psid)
		})
	return err
}
