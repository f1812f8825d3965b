// Package sedutil wraps the sedutil-cli tool that performs every Opal operation on a drive.
package sedutil

//go:generate mockgen -destination mocks/mock_sedutil.go github.com/sedlock/sedlock/internal/sedutil Invoker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sedlock/sedlock/internal/util"
)

const (
	// DefaultToolPath is the tool binary looked up on PATH when none is configured.
	DefaultToolPath = "sedutil-cli"

	markerNotAuthorized = "NOT_AUTHORIZED"
	markerLockedOut     = "AUTHORITY_LOCKED_OUT"
	markerNotFound      = "command not found"
)

// Invoker runs tool commands. Check is used for mutating commands where only the outcome matters, Capture for
// commands whose output must be parsed.
type Invoker interface {
	// Check runs cmd and returns nil on a zero exit status.
	Check(ctx context.Context, cmd Command) error
	// Capture runs cmd and returns its standard output. The output is returned alongside any error.
	Capture(ctx context.Context, cmd Command) (string, error)
}

// runFunc executes argv and returns its output.
type runFunc func(ctx context.Context, argv []string) (util.CommandOutput, error)

// Tool is the subprocess backed Invoker.
type Tool struct {
	// Path is the tool binary.
	Path string
	// Prefix is prepended to every command line (e.g. an elevation helper).
	Prefix []string

	run runFunc
}

// Type assertion to ensure Tool implements the Invoker interface.
var _ Invoker = (*Tool)(nil)

// NewTool creates a Tool running path behind prefix.
func NewTool(path string, prefix []string) *Tool {
	if path == "" {
		path = DefaultToolPath
	}

	return &Tool{
		Path:   path,
		Prefix: prefix,
		run: func(ctx context.Context, argv []string) (util.CommandOutput, error) {
			return util.ExecuteCommand(ctx, argv, nil, nil)
		},
	}
}

// Check runs cmd and classifies a failure.
func (t *Tool) Check(ctx context.Context, cmd Command) error {
	_, err := t.Capture(ctx, cmd)
	return err
}

// Capture runs cmd, logging the redacted command line, and classifies a failure.
func (t *Tool) Capture(ctx context.Context, cmd Command) (string, error) {
	argv := make([]string, 0, len(t.Prefix)+len(cmd.Args)+5)
	argv = append(argv, t.Prefix...)
	argv = append(argv, t.Path)
	argv = append(argv, cmd.Argv()...)

	line := t.Path + " " + cmd.String()
	logrus.WithField("command", line).Debug("Running sedutil command")

	out, err := t.run(ctx, argv)
	logrus.WithFields(logrus.Fields{
		"command":   line,
		"exit_code": out.ExitCode,
		"output":    out.Stdout,
	}).Trace("Finished sedutil command")
	if err == nil {
		return out.Stdout, nil
	}

	return out.Stdout, classify(ctx, line, out, err)
}

// classify maps a failed run to InvocationError, AuthError or ExitError.
func classify(ctx context.Context, line string, out util.CommandOutput, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%q interrupted: %w", line, ctxErr)
	}

	combined := out.Stdout + "\n" + out.Stderr
	switch {
	case strings.Contains(combined, markerLockedOut):
		return &AuthError{Command: line, Reason: ErrAuthorityLockedOut}
	case strings.Contains(combined, markerNotAuthorized):
		return &AuthError{Command: line, Reason: ErrNotAuthorized}
	}

	if out.ExitCode < 0 || out.ExitCode == 127 || errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) ||
		strings.Contains(out.Stderr, markerNotFound) {
		return &InvocationError{Command: line, Err: err}
	}

	return &ExitError{Command: line, Code: out.ExitCode, Output: out.Stdout}
}
