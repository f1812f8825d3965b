package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/job"
	"github.com/sedlock/sedlock/internal/lifecycle"
)

// console reports job progress on the command's output.
type console struct {
	out io.Writer
}

// Type assertion to ensure console implements the job.Notifier interface.
var _ job.Notifier = (*console)(nil)

func (c *console) OnOperationStart(op lifecycle.Operation, drives int) {
	fmt.Fprintf(c.out, "Running %s on %d drive(s)...\n", op, drives)
}

func (c *console) OnOperationSuccess(message string) {
	if message != "" {
		fmt.Fprintln(c.out, message)
	}
}

func (c *console) OnOperationFailure(message string) {
	fmt.Fprintln(c.out, message)
}

func (c *console) OnOperationTimeout() {
	fmt.Fprintln(c.out, "The operation timed out. Power cycle the drives and scan again before retrying.")
}

func (c *console) OnRegistryUpdated(indices []int, fields device.Field) {
	logrus.WithFields(logrus.Fields{
		"devices": indices,
		"fields":  fields,
	}).Debug("Device registry updated")
}
