package job

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/lifecycle"
)

// Notifier receives job progress. All methods are called on the goroutine draining the Dispatcher, except
// OnOperationStart which is called by Start.
type Notifier interface {
	OnOperationStart(op lifecycle.Operation, drives int)
	OnOperationSuccess(message string)
	OnOperationFailure(message string)
	OnOperationTimeout()
	OnRegistryUpdated(indices []int, fields device.Field)
}

// timerFunc starts a timer and returns its channel and a stop function.
type timerFunc func(d time.Duration) (<-chan time.Time, func() bool)

func realTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// Runner starts jobs. Each job gets a worker goroutine that runs the task over the batch and a watchdog goroutine
// that reports a timeout when the worker outlives the job's budget. The watchdog does not stop the worker: a late
// completion still applies its registry updates, but its message is dropped.
type Runner struct {
	// Registry is only touched from callbacks run by Dispatcher.
	Registry   *device.RegistryState
	Dispatcher *Dispatcher
	Notifier   Notifier
	// Metrics may be nil.
	Metrics *Metrics

	timer timerFunc
	now   func() time.Time
}

// NewRunner creates a runner that posts its callbacks to d.
func NewRunner(registry *device.RegistryState, d *Dispatcher, n Notifier, m *Metrics) *Runner {
	return &Runner{
		Registry:   registry,
		Dispatcher: d,
		Notifier:   n,
		Metrics:    m,
		timer:      realTimer,
		now:        time.Now,
	}
}

// Handle tracks a started job.
type Handle struct {
	Job *Job

	done    chan struct{}
	settled chan struct{}
	report  Report

	// Owned by the dispatcher goroutine.
	timedOut bool
	reported bool
}

// Done is closed once the worker has finished every drive.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Settled is closed once the user has been told the outcome: either the completion or the timeout.
func (h *Handle) Settled() <-chan struct{} {
	return h.settled
}

// Report returns the outcomes. It is only valid once Done is closed.
func (h *Handle) Report() Report {
	return h.report
}

// TimedOut reports whether the watchdog fired first. It must be read from the dispatcher goroutine.
func (h *Handle) TimedOut() bool {
	return h.timedOut
}

// Targets resolves indices of a derived set into operation targets. It must be called from the dispatcher
// goroutine.
func (r *Runner) Targets(set device.Set, indices []int) ([]lifecycle.Target, error) {
	targets := make([]lifecycle.Target, 0, len(indices))
	for _, idx := range indices {
		i, d, err := r.Registry.Resolve(set, idx)
		if err != nil {
			return nil, err
		}
		targets = append(targets, lifecycle.Target{Index: i, Device: d})
	}
	return targets, nil
}

// Start runs j in the background and returns immediately.
func (r *Runner) Start(ctx context.Context, j *Job) *Handle {
	h := &Handle{Job: j, done: make(chan struct{}), settled: make(chan struct{})}
	log := logrus.WithFields(logrus.Fields{"job": j.ID, "operation": j.Operation})

	if r.Notifier != nil {
		r.Notifier.OnOperationStart(j.Operation, len(j.Targets))
	}
	log.WithFields(logrus.Fields{"drives": len(j.Targets), "timeout": j.Timeout()}).Info("Starting job")

	start := r.now()
	go r.work(ctx, h, start, log)
	go r.watch(h, log)

	return h
}

func (r *Runner) work(ctx context.Context, h *Handle, start time.Time, log *logrus.Entry) {
	var outcomes []Outcome
	for _, t := range h.Job.Targets {
		res, err := h.Job.Task(ctx, t)
		if err != nil {
			log.WithField("device", t.Device.Handle).WithError(err).Warn("Operation failed")
		}
		outcomes = append(outcomes, Outcome{Target: t, Result: res, Err: err})
	}
	end := r.now()
	h.report = Report{Outcomes: outcomes, Elapsed: end.Sub(start)}
	log.WithField("elapsed", strings.TrimSpace(humanize.RelTime(start, end, "", ""))).Debug("Job worker finished")
	close(h.done)

	r.Dispatcher.Post(func() { r.complete(h, log) })
}

func (r *Runner) watch(h *Handle, log *logrus.Entry) {
	fired, stop := r.timer(h.Job.Timeout())
	defer stop()

	select {
	case <-h.done:
	case <-fired:
		select {
		case <-h.done:
			// finished while the timer fired
			return
		default:
		}
		log.WithField("timeout", h.Job.Timeout()).Error("Job timed out")
		r.Dispatcher.Post(func() { r.expire(h) })
	}
}

// expire runs on the dispatcher goroutine.
func (r *Runner) expire(h *Handle) {
	if h.reported {
		return
	}
	h.timedOut = true
	h.reported = true
	r.Metrics.timeout(h.Job)
	if r.Notifier != nil {
		r.Notifier.OnOperationTimeout()
	}
	close(h.settled)
}

// complete runs on the dispatcher goroutine.
func (r *Runner) complete(h *Handle, log *logrus.Entry) {
	report := h.report
	r.apply(report, log)
	r.Metrics.observe(h.Job, report)

	if h.reported {
		log.Warn("Job completed after timing out; result discarded")
		return
	}
	h.reported = true

	if r.Notifier != nil {
		if len(report.Failed()) > 0 {
			r.Notifier.OnOperationFailure(report.Message())
		} else {
			r.Notifier.OnOperationSuccess(report.Message())
		}
	}
	close(h.settled)
}

func (r *Runner) apply(report Report, log *logrus.Entry) {
	var (
		indices []int
		fields  device.Field
	)
	for _, u := range report.Updates() {
		if err := r.Registry.Apply(u); err != nil {
			log.WithError(err).Warn("Unable to apply device update")
			continue
		}
		indices = append(indices, u.Index)
		fields |= u.Fields
	}
	if len(indices) > 0 && r.Notifier != nil {
		r.Notifier.OnRegistryUpdated(indices, fields)
	}
}
