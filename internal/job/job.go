// Package job runs lifecycle operations over batches of drives off the caller's goroutine and hands the outcome
// back through a Dispatcher.
package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/lifecycle"
)

const (
	// DefaultDeviceBudget is the time allowed per drive for most operations.
	DefaultDeviceBudget = 30 * time.Second
	// PBAWriteBudget is the time allowed per drive for writing a PBA image.
	PBAWriteBudget = 450 * time.Second
	// USBWriteBudget is the time allowed per drive for writing a bootable PBA USB stick.
	USBWriteBudget = 120 * time.Second
)

// ErrTimeout is reported when a job outlives its budget.
var ErrTimeout = errors.New("operation timed out")

// Task performs one operation on one drive.
type Task func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error)

// Job is one operation over a batch of drives. Drives are processed in order, one at a time.
type Job struct {
	ID        uuid.UUID
	Operation lifecycle.Operation
	Targets   []lifecycle.Target
	// Budget is the time allowed per drive.
	Budget time.Duration
	Task   Task
}

// New creates a job with a fresh ID and the default budget for op.
func New(op lifecycle.Operation, targets []lifecycle.Target, task Task) *Job {
	budget := DefaultDeviceBudget
	switch op {
	case lifecycle.OpPBAWrite:
		budget = PBAWriteBudget
	case lifecycle.OpPBAUSB:
		budget = USBWriteBudget
	}
	return &Job{
		ID:        uuid.New(),
		Operation: op,
		Targets:   targets,
		Budget:    budget,
		Task:      task,
	}
}

// Timeout is the budget of the whole batch.
func (j *Job) Timeout() time.Duration {
	return time.Duration(len(j.Targets)) * j.Budget
}

// Outcome is the result of the job on one drive.
type Outcome struct {
	Target lifecycle.Target
	Result lifecycle.Result
	Err    error
}

// Report collects the outcomes of a finished job.
type Report struct {
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Failed returns the outcomes that carry an error.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Updates returns the registry updates produced by the job, including those of drives whose operation succeeded
// but whose credential could not be escrowed.
func (r Report) Updates() []device.Update {
	var out []device.Update
	for _, o := range r.Outcomes {
		if o.Result.Update != nil {
			out = append(out, *o.Result.Update)
		}
	}
	return out
}

// Message summarizes the job for the user. Failures are listed first.
func (r Report) Message() string {
	var ok, failed []string
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, fmt.Sprintf("%s (%v)", o.Target.Device.Handle, o.Err))
			continue
		}
		if o.Result.Message != "" {
			ok = append(ok, o.Result.Message)
		} else {
			ok = append(ok, o.Target.Device.Handle)
		}
	}

	if len(failed) == 0 {
		return strings.Join(ok, "\n")
	}

	var b strings.Builder
	b.WriteString("The operation failed for the following drives: ")
	b.WriteString(strings.Join(failed, ", "))
	if len(ok) > 0 {
		b.WriteString("\nThe following drives succeeded:\n")
		b.WriteString(strings.Join(ok, "\n"))
	}
	return b.String()
}
