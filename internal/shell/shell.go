// Package shell runs external commands for actions: package managers, helper
// scripts and inline shell snippets.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/wayup/internal/logging"
)

// tailBytes bounds how much stderr is kept for failure details.
const tailBytes = 2048

// Runner executes a command and returns an error describing any failure.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// CommandError describes a command that could not be started or exited
// non-zero. Stderr holds the tail of the command's error output.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Command)
	if e.ExitCode > 0 {
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, ": %s", s)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error { return e.Err }

// Exec runs commands on the host.
type Exec struct {
	Timeout time.Duration // per command; zero means no limit
	Stdin   io.Reader     // sudo password prompts read from here
	Stdout  io.Writer     // live output; nil discards
	Stderr  io.Writer     // live error output in addition to the captured tail
	Logger  zerolog.Logger
}

// NewExec returns an Exec logging under the "shell" component.
func NewExec(timeout time.Duration) *Exec {
	return &Exec{Timeout: timeout, Logger: logging.GetLogger("shell")}
}

func (x *Exec) Run(ctx context.Context, name string, args ...string) error {
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}
	logging.LogCommand(x.Logger, name, args)

	tail := &tailBuffer{max: tailBytes}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = x.Stdin
	cmd.Stdout = x.Stdout
	if x.Stderr != nil {
		cmd.Stderr = io.MultiWriter(x.Stderr, tail)
	} else {
		cmd.Stderr = tail
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}
	cerr := &CommandError{Command: Join(name, args...), Stderr: tail.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() == context.DeadlineExceeded {
		cerr.Err = fmt.Errorf("timed out after %s", x.Timeout)
		cerr.ExitCode = 0
	}
	return cerr
}

// Quiet returns a copy of x that discards live output. Used for probes.
func (x *Exec) Quiet() Runner {
	q := *x
	q.Stdout, q.Stderr = nil, nil
	return &q
}

// Probe runs a query command and reports whether it exited 0. A non-zero
// exit is a negative answer, not an error; only failures to start the
// command are returned. Live output is suppressed when r supports it.
func Probe(ctx context.Context, r Runner, name string, args ...string) (bool, error) {
	if q, ok := r.(interface{ Quiet() Runner }); ok {
		r = q.Quiet()
	}
	err := r.Run(ctx, name, args...)
	if err == nil {
		return true, nil
	}
	var cerr *CommandError
	if errors.As(err, &cerr) && cerr.ExitCode > 0 {
		return false, nil
	}
	return false, err
}

// Sh runs command through "sh -c".
func Sh(ctx context.Context, r Runner, command string) error {
	return r.Run(ctx, "sh", "-c", command)
}

// Eval runs command through "sh -c" and reports whether it exited 0. Only
// failures to start the command are returned as errors.
func Eval(ctx context.Context, r Runner, command string) (bool, error) {
	return Probe(ctx, r, "sh", "-c", command)
}

// Join renders a command line for display.
func Join(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'$") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
