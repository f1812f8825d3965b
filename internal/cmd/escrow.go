package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sedlock/sedlock/internal/escrow"
	"github.com/sedlock/sedlock/internal/lifecycle"
)

// escrowCommand groups the commands working on escrow volumes.
func escrowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escrow",
		Short: "inspect escrowed credentials",
		Long: strings.TrimSpace(`
escrow works with the credential digests saved on removable volumes. Escrow
files are kept in a directory at the root of each volume, one file per drive.
`),
	}
	cmd.AddCommand(escrowListCommand())

	return cmd
}

// escrowListCommand creates a new command which lists the escrow files found on the attached volumes.
func escrowListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list escrow files on attached volumes",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFromContext(ctx, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		logrus.Debug("Running escrow list command")
		return runEscrowList(ctx, a)
	}

	return cmd
}

func runEscrowList(ctx context.Context, a *app) error {
	if a.store == nil {
		return lifecycle.ErrNoEscrow
	}
	records, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	return writeRecords(a.out, records, time.Now())
}

// writeRecords prints one row per escrow file with its most recent entry.
func writeRecords(w io.Writer, records []escrow.StoredRecord, now time.Time) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No escrow files found.")
		return nil
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Path < records[j].Path
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSERIAL\tENTRIES\tLABELS\tLATEST\tPATH")
	for _, r := range records {
		labels := map[string]bool{}
		latest := ""
		for _, e := range r.Entries {
			labels[e.Label] = true
			if e.Timestamp > latest {
				latest = e.Timestamp
			}
		}
		names := make([]string, 0, len(labels))
		for l := range labels {
			names = append(names, l)
		}
		sort.Strings(names)

		age := "-"
		if t, err := time.ParseInLocation(escrow.TimestampLayout, latest, time.Local); err == nil {
			age = humanize.RelTime(t, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Vendor, r.Serial, len(r.Entries), strings.Join(names, ","), age, r.Path)
	}
	return tw.Flush()
}
