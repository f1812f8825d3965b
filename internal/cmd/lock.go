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

// lock is a struct for holding all information passed into the lock command.
type lock struct {
	selection
	credentials
}

// lockCommand creates a new command which locks unlocked drives.
func lockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "lock drives and enable the PBA shadow MBR",
		Long: strings.TrimSpace(`
lock enables the shadow MBR and locks the locking range of set up drives. The
range of the running system's boot drive is left unlocked; it locks at the next
power cycle.
`),
		Args: cobra.NoArgs,
	}

	lockArgs := lock{}
	lockArgs.selection.bind(cmd.Flags())
	lockArgs.credentials.bind(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("args", lockArgs).Debug("Running lock command with args")
		return runLock(ctx, a, lockArgs)
	}

	return cmd
}

func runLock(ctx context.Context, a *app, args lock) error {
	if err := a.scan(ctx); err != nil {
		return err
	}
	c, err := a.credential(args.credentials, string(sedutil.Admin1))
	if err != nil {
		return err
	}

	_, err = a.run(ctx, lifecycle.OpLock, device.Unlocked, args.selection,
		func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
			return a.machine.Lock(ctx, t, c, args.saveEscrow)
		})
	return err
}

// unlock is a struct for holding all information passed into the unlock command.
type unlock struct {
	selection
	credentials
	mode string
}

// unlockCommand creates a new command which unlocks locked drives.
func unlockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "unlock locked drives",
		Long: strings.TrimSpace(`
unlock opens the locking range of locked drives. The full mode also hides the
PBA shadow MBR, the partial mode only opens the range and the pba mode unlocks
as User1 until the next power cycle.

With --from-escrow and no --mode, each drive is unlocked with its escrowed
Admin1 credential, falling back to a PBA unlock with the escrowed User1
credential.
`),
		Args: cobra.NoArgs,
	}

	unlockArgs := unlock{}
	unlockArgs.selection.bind(cmd.Flags())
	unlockArgs.credentials.bind(cmd.Flags())
	cmd.Flags().StringVar(&unlockArgs.mode, "mode", "", "unlock mode: full, partial or pba (default full)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("args", unlockArgs).Debug("Running unlock command with args")
		return runUnlock(ctx, a, unlockArgs)
	}

	return cmd
}

func runUnlock(ctx context.Context, a *app, args unlock) error {
	mode, err := lifecycle.ParseUnlockMode(args.mode)
	if err != nil {
		return err
	}
	if err := a.scan(ctx); err != nil {
		return err
	}

	if args.fromEscrow && args.mode == "" {
		if a.store == nil {
			return lifecycle.ErrNoEscrow
		}
		_, err := a.run(ctx, lifecycle.OpUnlock, device.Locked, args.selection, a.machine.UnlockFromEscrow)
		return err
	}

	c, err := a.credential(args.credentials, string(mode.Authority()))
	if err != nil {
		return err
	}
	_, err = a.run(ctx, lifecycle.OpUnlock, device.Locked, args.selection,
		func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
			return a.machine.Unlock(ctx, t, c, mode, args.saveEscrow)
		})
	return err
}
