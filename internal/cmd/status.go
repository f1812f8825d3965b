package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/lifecycle"
)

// status is a struct for holding all information passed into the status command.
type status struct {
	output string
	watch  time.Duration
}

// statusCommand creates a new command which reports the attached drives.
func statusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "list drives and their locking state",
		Long: strings.TrimSpace(`
status scans for drives and prints each one's locking state, setup state and
PBA version. The output may be a table, JSON or OpenMetrics text. With --watch
the drives are scanned again at the given interval until interrupted.
`),
		Args: cobra.NoArgs,
	}

	statusArgs := status{}
	cmd.Flags().StringVarP(&statusArgs.output, "output", "o", "table", "output format: table, json or openmetrics")
	cmd.Flags().DurationVar(&statusArgs.watch, "watch", 0, "rescan at this interval until interrupted")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.WithField("args", statusArgs).Debug("Running status command with args")
		return runStatus(ctx, a, statusArgs)
	}

	return cmd
}

// runStatus prints the drives once, or repeatedly when watching.
func runStatus(ctx context.Context, a *app, args status) error {
	render, err := renderer(args.output)
	if err != nil {
		return err
	}

	for {
		if err := a.scan(ctx); err != nil {
			return err
		}
		if err := render(a.out, a.runner.Registry.Devices()); err != nil {
			return err
		}
		if args.watch <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(args.watch):
		}
	}
}

type renderFunc func(w io.Writer, devices []device.Device) error

func renderer(output string) (renderFunc, error) {
	switch output {
	case "table", "":
		return writeTable, nil
	case "json":
		return writeJSON, nil
	case "openmetrics":
		return writeMetrics, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", output)
	}
}

func writeTable(w io.Writer, devices []device.Device) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tMODEL\tSERIAL\tOPAL\tSTATE\tLOCK\tSETUP\tPBA")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Handle, d.Vendor, d.Serial, d.Opal, lifecycle.StateOf(d), d.LockStatus(), d.SetupStatus(), d.PBAVersion)
	}
	return tw.Flush()
}

type deviceStatus struct {
	device.Device
	State string `json:"state"`
}

func writeJSON(w io.Writer, devices []device.Device) error {
	out := make([]deviceStatus, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceStatus{Device: d, State: lifecycle.StateOf(d).String()})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// deviceCollector exports a snapshot of the registry.
type deviceCollector struct {
	m []prometheus.Metric
}

func (dc *deviceCollector) Collect(c chan<- prometheus.Metric) {
	for _, m := range dc.m {
		c <- m
	}
}

func (dc *deviceCollector) Describe(c chan<- *prometheus.Desc) {
}

var (
	mDriveInfo = prometheus.NewDesc(
		"sedlock_drive_info",
		"Info metric regarding the detected drives",
		[]string{"device", "model", "serial", "opal", "pba_version"}, nil,
	)
	mTCGSupported = prometheus.NewDesc(
		"sedlock_drive_tcg_supported",
		"Boolean describing whether a drive answered the Opal locking query",
		[]string{"device"}, nil,
	)
	mLockingEnabled = prometheus.NewDesc(
		"sedlock_drive_locking_enabled",
		"Boolean describing whether range locking has been enabled",
		[]string{"device"}, nil,
	)
	mLocked = prometheus.NewDesc(
		"sedlock_drive_locked",
		"Boolean describing whether the managed locking range is locked",
		[]string{"device"}, nil,
	)
	mSetup = prometheus.NewDesc(
		"sedlock_drive_setup",
		"Boolean describing whether ownership of the drive has been taken",
		[]string{"device"}, nil,
	)
	mMBREnabled = prometheus.NewDesc(
		"sedlock_drive_mbr_enabled",
		"Boolean describing whether the shadow MBR holding the PBA image is enabled",
		[]string{"device"}, nil,
	)
)

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func writeMetrics(w io.Writer, devices []device.Device) error {
	dc := &deviceCollector{}
	for _, d := range devices {
		dc.m = append(dc.m,
			prometheus.MustNewConstMetric(mDriveInfo, prometheus.GaugeValue, 1,
				d.Handle, d.Vendor, d.Serial, d.Opal.String(), d.PBAVersion),
			prometheus.MustNewConstMetric(mTCGSupported, prometheus.GaugeValue, boolValue(d.TCG), d.Handle))

		if !d.TCG {
			continue
		}
		dc.m = append(dc.m,
			prometheus.MustNewConstMetric(mLockingEnabled, prometheus.GaugeValue, boolValue(d.LockingEnabled), d.Handle),
			prometheus.MustNewConstMetric(mLocked, prometheus.GaugeValue, boolValue(d.Locked), d.Handle),
			prometheus.MustNewConstMetric(mSetup, prometheus.GaugeValue, boolValue(d.Setup), d.Handle),
			prometheus.MustNewConstMetric(mMBREnabled, prometheus.GaugeValue, boolValue(d.MBREnabled), d.Handle))
	}

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(dc); err != nil {
		return err
	}
	mfs, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeOpenMetrics))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to serialize metrics: %w", err)
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		return closer.Close()
	}
	return nil
}
