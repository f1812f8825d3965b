package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/lifecycle"
	"github.com/sedlock/sedlock/internal/sedutil"
)

// pbaWrite is a struct for holding all information passed into the pba-write command.
type pbaWrite struct {
	selection
	credentials
}

// pbaWriteCommand creates a new command which writes the PBA image to the shadow MBR.
func pbaWriteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pba-write",
		Short: "write the pre-boot authentication image",
		Long: strings.TrimSpace(`
pba-write loads the bundled PBA image into the shadow MBR of set up drives,
enables the shadow MBR and checks the image reported by the drive. Writing an
image takes several minutes per drive.
`),
		Args: cobra.NoArgs,
	}

	pbaArgs := pbaWrite{}
	pbaArgs.selection.bind(cmd.Flags())
	pbaArgs.credentials.bind(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("args", pbaArgs).Debug("Running pba-write command with args")
		return runPBAWrite(ctx, a, pbaArgs)
	}

	return cmd
}

func runPBAWrite(ctx context.Context, a *app, args pbaWrite) error {
	if err := a.scan(ctx); err != nil {
		return err
	}
	c, err := a.credential(args.credentials, string(sedutil.Admin1))
	if err != nil {
		return err
	}

	_, err = a.run(ctx, lifecycle.OpPBAWrite, device.Setup, args.selection,
		func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
			return a.machine.PBAImageWrite(ctx, t, c, args.saveEscrow)
		})
	return err
}

// pbaUSB is a struct for holding all information passed into the pba-usb command.
type pbaUSB struct {
	device string
	usb    string
	yes    bool
}

// pbaUSBCommand creates a new command which writes a bootable PBA image to a USB stick.
func pbaUSBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pba-usb",
		Short: "write a bootable pre-boot authentication USB stick",
		Long: strings.TrimSpace(`
pba-usb writes a bootable UEFI PBA image for one set up drive onto a USB stick.
Booting from the stick unlocks the drive when its shadow MBR holds no image.
Everything on the USB stick is overwritten.
`),
		Args: cobra.NoArgs,
	}

	usbArgs := pbaUSB{}
	cmd.Flags().StringVar(&usbArgs.device, "device", "", "set up drive the stick unlocks")
	cmd.Flags().StringVar(&usbArgs.usb, "usb", "", "USB stick to write (e.g. /dev/sdf)")
	cmd.Flags().BoolVarP(&usbArgs.yes, "yes", "y", false, "do not ask for confirmation")
	cmd.MarkFlagRequired("device")
	cmd.MarkFlagRequired("usb")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("args", usbArgs).Debug("Running pba-usb command with args")
		return runPBAUSB(ctx, a, usbArgs)
	}

	return cmd
}

func runPBAUSB(ctx context.Context, a *app, args pbaUSB) error {
	usb := strings.TrimSpace(args.usb)
	if err := a.scan(ctx); err != nil {
		return err
	}
	if _, ok := a.runner.Registry.Lookup(device.AllTCG, usb); ok {
		return fmt.Errorf("%s is a self-encrypting drive, not a USB stick: %w", usb, lifecycle.ErrUSBTarget)
	}
	if err := confirm(a.prompt, a.out, "pba-usb erases ALL data on "+usb+".", args.yes); err != nil {
		return err
	}

	_, err := a.run(ctx, lifecycle.OpPBAUSB, device.Setup, selection{devices: []string{args.device}},
		func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
			return a.machine.CreatePBAUSB(ctx, t, usb)
		})
	return err
}
