package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/job"
	"github.com/sedlock/sedlock/internal/lifecycle"
	"github.com/sedlock/sedlock/internal/sedutil"
)

// audit is a struct for holding all information passed into the audit command.
type audit struct {
	selection
	credentials
	filter string
	user   bool
}

// auditCommand creates a new command which prints the drive audit log.
func auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "print the drive audit log",
		Long: strings.TrimSpace(`
audit reads the audit log kept in the data store of set up drives and prints
its entries, newest first. --filter restricts the output to warnings and
errors, or to errors only.
`),
		Args: cobra.NoArgs,
	}

	auditArgs := audit{}
	auditArgs.selection.bind(cmd.Flags())
	cmd.Flags().BoolVar(&auditArgs.fromEscrow, "from-escrow", false, "authorize with the latest escrowed credential instead of a passphrase")
	cmd.Flags().StringVar(&auditArgs.filter, "filter", "all", "entries to show: all, warnings or errors")
	cmd.Flags().BoolVar(&auditArgs.user, "user", false, "read the log as User1")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("args", auditArgs).Debug("Running audit command with args")
		return runAudit(ctx, a, auditArgs)
	}

	return cmd
}

func runAudit(ctx context.Context, a *app, args audit) error {
	filter, err := lifecycle.ParseFilter(args.filter)
	if err != nil {
		return err
	}
	as := sedutil.Admin1
	if args.user {
		as = sedutil.User1
	}

	if err := a.scan(ctx); err != nil {
		return err
	}
	c, err := a.credential(args.credentials, string(as))
	if err != nil {
		return err
	}

	report, err := a.run(ctx, lifecycle.OpReadAudit, device.Setup, args.selection,
		func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
			return a.machine.ReadAudit(ctx, t, c, as)
		})
	if werr := writeAudit(a.out, report, filter); werr != nil {
		return werr
	}
	return err
}

// writeAudit prints the filtered entries of every drive that was read.
func writeAudit(w io.Writer, report job.Report, filter lifecycle.Filter) error {
	for _, o := range report.Outcomes {
		if o.Err != nil {
			continue
		}
		fmt.Fprintf(w, "\n%s (%s %s)\n", o.Target.Device.Handle, o.Target.Device.Vendor, o.Target.Device.Serial)

		entries := filter.Apply(o.Result.Audit)
		if len(entries) == 0 {
			fmt.Fprintln(w, "No matching audit entries.")
			continue
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tEVENT\tSEVERITY\tDESCRIPTION")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%02d\t%s\t%s\n", e.Time.Format("2006-01-02 15:04:05"), e.Code, e.Severity, e.Description)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
