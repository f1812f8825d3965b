package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/sedlock/sedlock/internal/config"
	"github.com/sedlock/sedlock/internal/contextual"
	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/escrow"
	"github.com/sedlock/sedlock/internal/hasher"
	"github.com/sedlock/sedlock/internal/job"
	"github.com/sedlock/sedlock/internal/lifecycle"
	"github.com/sedlock/sedlock/internal/sedutil"
	"github.com/sedlock/sedlock/internal/system"
)

// dispatchQueue is the number of job callbacks that may wait for the command goroutine.
const dispatchQueue = 16

// errNoDrives is returned when a command's selection matches nothing.
var errNoDrives = errors.New("no drives selected, use --device or --all")

// app holds the components a command works with. The registry is owned by the command goroutine, which is also the
// dispatcher's only consumer.
type app struct {
	cfg     *config.Config
	family  system.Family
	scanner *device.Scanner
	store   *escrow.Store
	machine *lifecycle.Machine
	runner  *job.Runner
	metrics *prometheus.Registry
	prompt  prompter
	out     io.Writer
}

// appFromContext wires an app from the System and Config held in ctx.
func appFromContext(ctx context.Context, out io.Writer) (*app, error) {
	sys := contextual.System(ctx)
	if sys == nil {
		return nil, errors.New("system required in context")
	}
	cfg := contextual.Config(ctx)
	if cfg == nil {
		return nil, errors.New("config required in context")
	}

	if !sys.Elevated() {
		logrus.WithField("prefix", sys.ElevationPrefix()).Warn("Not running as root, drive commands will be elevated")
	}
	tool := sedutil.NewTool(cfg.ToolPath, sys.ElevationPrefix())

	var lister escrow.VolumeLister
	if l, err := escrow.ListerFor(sys, cfg.Escrow.Volumes); err != nil {
		logrus.WithError(err).Warn("Credential escrow is unavailable")
	} else {
		lister = l
	}

	return newApp(cfg, sys.Family(), tool, lister, newTerminal(os.Stdin, out), out)
}

// newApp wires an app around inv. A nil lister disables escrow.
func newApp(cfg *config.Config, family system.Family, inv sedutil.Invoker, lister escrow.VolumeLister, p prompter, out io.Writer) (*app, error) {
	constraint, err := cfg.PBAConstraint()
	if err != nil {
		return nil, err
	}

	h := hasher.PBKDF2{Iterations: cfg.HashIterations}
	a := &app{
		cfg:     cfg,
		family:  family,
		scanner: &device.Scanner{Invoker: inv, Hasher: h, Family: family},
		metrics: prometheus.NewRegistry(),
		prompt:  p,
		out:     out,
	}

	a.machine = lifecycle.New(inv, h, nil)
	if lister != nil {
		a.store = escrow.NewStore(lister, cfg.Escrow.Dir, cfg.Escrow.Target)
		a.machine.Escrow = a.store
	}
	a.machine.LockingRange = cfg.LockingRange
	a.machine.PBAConstraint = constraint
	a.machine.RawPassphrases = cfg.RawPassphrases

	a.runner = job.NewRunner(device.NewRegistryState(nil), job.NewDispatcher(dispatchQueue), &console{out: out}, job.NewMetrics(a.metrics))

	return a, nil
}

// scan refreshes the registry from the attached drives.
func (a *app) scan(ctx context.Context) error {
	registry, err := a.scanner.Scan(ctx, a.runner.Registry)
	a.runner.Registry = registry
	if err != nil {
		return fmt.Errorf("cannot scan drives: %w", err)
	}
	return nil
}

// selection is the device selection shared by every drive command.
type selection struct {
	devices []string
	all     bool
}

func (s *selection) bind(fs *pflag.FlagSet) {
	fs.StringSliceVar(&s.devices, "device", nil, "drive handle to operate on (repeatable)")
	fs.BoolVar(&s.all, "all", false, "operate on every eligible drive")
}

// positions resolves the selection to positions within set.
func (a *app) positions(set device.Set, sel selection) ([]int, error) {
	if sel.all {
		n := len(a.runner.Registry.Indices(set))
		if n == 0 {
			return nil, fmt.Errorf("no %s drives found", set)
		}
		positions := make([]int, n)
		for i := range positions {
			positions[i] = i
		}
		return positions, nil
	}

	if len(sel.devices) == 0 {
		return nil, errNoDrives
	}
	positions := make([]int, 0, len(sel.devices))
	for _, handle := range sel.devices {
		pos, ok := a.runner.Registry.Lookup(set, handle)
		if !ok {
			return nil, fmt.Errorf("%s is not one of the %s drives", handle, set)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// run executes task over the selected drives of set and waits for the job to settle.
func (a *app) run(ctx context.Context, op lifecycle.Operation, set device.Set, sel selection, task job.Task) (job.Report, error) {
	positions, err := a.positions(set, sel)
	if err != nil {
		return job.Report{}, err
	}
	targets, err := a.runner.Targets(set, positions)
	if err != nil {
		return job.Report{}, err
	}

	j := job.New(op, targets, task)
	j.Budget = a.cfg.Budget(op)

	h := a.runner.Start(ctx, j)
	if err := a.runner.Dispatcher.RunUntil(ctx, h.Settled()); err != nil {
		return job.Report{}, err
	}
	a.exportMetrics()

	if h.TimedOut() {
		return job.Report{}, fmt.Errorf("%s: %w", op, job.ErrTimeout)
	}
	report := h.Report()
	if failed := report.Failed(); len(failed) > 0 {
		return report, fmt.Errorf("%s failed on %d of %d drives", op, len(failed), len(report.Outcomes))
	}
	return report, nil
}

// exportMetrics writes the job metrics to the configured textfile. Failures are logged.
func (a *app) exportMetrics() {
	if a.cfg.MetricsFile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, a.metrics); err != nil {
		logrus.WithError(err).WithField("path", a.cfg.MetricsFile).Warn("Cannot write metrics file")
		return
	}
	logrus.WithField("path", a.cfg.MetricsFile).Debug("Wrote metrics file")
}

// credentials selects where the authorizing credential comes from and whether new digests are escrowed.
type credentials struct {
	fromEscrow bool
	saveEscrow bool
}

func (c *credentials) bind(fs *pflag.FlagSet) {
	fs.BoolVar(&c.fromEscrow, "from-escrow", false, "authorize with the latest escrowed credential instead of a passphrase")
	fs.BoolVar(&c.saveEscrow, "save-escrow", false, "save the credential digest to the escrow volume")
}

// credential prompts for the passphrase of what unless the escrowed digest is requested.
func (a *app) credential(c credentials, what string) (lifecycle.Credential, error) {
	if c.fromEscrow {
		if a.store == nil {
			return lifecycle.Credential{}, lifecycle.ErrNoEscrow
		}
		return lifecycle.Escrowed(), nil
	}
	p, err := a.prompt.Passphrase(fmt.Sprintf("Enter the %s passphrase: ", what))
	if err != nil {
		return lifecycle.Credential{}, err
	}
	return lifecycle.Passphrase(p), nil
}

// newPassphrase prompts for a new passphrase twice and checks it against the policy.
func (a *app) newPassphrase(what string) (string, error) {
	p, err := a.prompt.Passphrase(fmt.Sprintf("Enter the new %s passphrase: ", what))
	if err != nil {
		return "", err
	}
	confirm, err := a.prompt.Passphrase(fmt.Sprintf("Confirm the new %s passphrase: ", what))
	if err != nil {
		return "", err
	}
	if err := lifecycle.ValidatePassphrase(p, confirm); err != nil {
		return "", err
	}
	return p, nil
}
