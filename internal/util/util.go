package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// CommandOutput wraps the output from an exec command as strings along with the process exit code.
type CommandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecuteCommand executes the command and returns Stdout, Stderr and the exit code. A command that ran but exited
// nonzero returns its output together with an error wrapping *exec.ExitError. A command that could not be started
// at all (e.g. the binary is missing) returns an error wrapping the start failure and an ExitCode of -1.
func ExecuteCommand(ctx context.Context, c []string, envVars []string, stdin io.Reader) (output CommandOutput, err error) {
	// Check the empty struct case ([]string{}) for the command
	if len(c) == 0 {
		return CommandOutput{ExitCode: -1}, fmt.Errorf("must provide a command")
	}

	// Separate name and args
	name := c[0]
	var args []string
	if len(c) > 1 {
		args = c[1:]
	}

	// Set command and create output buffers
	cmd := exec.CommandContext(ctx, name, args...)
	var stdoutb, stderrb bytes.Buffer
	cmd.Stdout = &stdoutb
	cmd.Stderr = &stderrb

	// Set command stdin if the stdin parameter is provided
	if stdin != nil {
		cmd.Stdin = stdin
	}

	// Append environment variables
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, envVars...)

	// Start the command's execution
	if err = cmd.Start(); err != nil {
		return CommandOutput{Stdout: stdoutb.String(), Stderr: stderrb.String(), ExitCode: -1}, fmt.Errorf("error starting specified command: %w", err)
	}

	// Wait for the command to exit
	if err = cmd.Wait(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return CommandOutput{Stdout: stdoutb.String(), Stderr: stderrb.String(), ExitCode: code}, fmt.Errorf("error waiting for specified command to exit: %w", err)
	}

	return CommandOutput{Stdout: stdoutb.String(), Stderr: stderrb.String()}, nil
}

// ExtractKeyValues pulls the requested keys out of line oriented "key<sep>value" text. Keys are matched case
// insensitively after trimming surrounding whitespace; lines without the separator are ignored. When a key appears
// more than once the last occurrence wins.
func ExtractKeyValues(text []byte, sep string, keys []string) map[string]string {
	// Tool output should look like:
	//
	//   Model Number: Samsung SSD 860
	//   Serial Number: S3Z9NB0K123456
	//   Locked = N
	//

	extracted := map[string]string{}

	lines := bytes.Split(text, []byte("\n"))
	for _, kvLine := range lines {
		// kv splits the [key<sep>value] lines into their components
		kv := bytes.SplitN(kvLine, []byte(sep), 2)

		if len(kv) < 2 {
			continue
		}

		k := bytes.TrimSpace(kv[0])
		for _, key := range keys {
			if bytes.EqualFold(k, []byte(key)) {
				extracted[key] = string(bytes.TrimSpace(kv[1]))
			}
		}
	}

	return extracted
}
