package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// agreement is the phrase a user types to confirm a destructive operation.
const agreement = "I agree"

// errAborted is returned when the user declines a destructive operation.
var errAborted = errors.New("operation aborted by the user")

// prompter reads answers from the user.
type prompter interface {
	// Passphrase prints prompt and reads a secret without echoing it where possible.
	Passphrase(prompt string) (string, error)
	// Line prints prompt and reads one line.
	Line(prompt string) (string, error)
}

// terminal prompts on the controlling terminal, falling back to plain line reads when input is redirected.
type terminal struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

func newTerminal(in *os.File, out io.Writer) *terminal {
	return &terminal{in: in, out: out, reader: bufio.NewReader(in)}
}

func (t *terminal) Passphrase(prompt string) (string, error) {
	fd := int(t.in.Fd())
	if !term.IsTerminal(fd) {
		return t.Line(prompt)
	}

	fmt.Fprint(t.out, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("passphrase could not be read: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func (t *terminal) Line(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	return readLine(t.reader)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("input could not be read: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// confirm warns about action and requires the agreement phrase unless skip is set.
func confirm(p prompter, out io.Writer, action string, skip bool) error {
	if skip {
		return nil
	}
	fmt.Fprintf(out, "WARNING: %s\n", action)
	answer, err := p.Line(fmt.Sprintf("Type %q to continue: ", agreement))
	if err != nil {
		return err
	}
	if strings.TrimSpace(answer) != agreement {
		return errAborted
	}
	return nil
}
