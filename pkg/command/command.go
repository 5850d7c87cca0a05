// Package command runs host commands with a bounded run time.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	utilexec "k8s.io/utils/exec"
)

// Runner runs a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Error is a failed command.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("command %q failed: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the exit status of a failed command, or -1 if the
// command did not run to completion.
func ExitCode(err error) int {
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}

// ExecRunner runs commands on the host.
type ExecRunner struct {
	exec    utilexec.Interface
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewRunner returns a Runner that kills commands running longer than
// timeout. A zero timeout only honours the caller's context.
func NewRunner(e utilexec.Interface, timeout time.Duration, log logrus.FieldLogger) *ExecRunner {
	return &ExecRunner{exec: e, timeout: timeout, log: log}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	argv := append([]string{name}, args...)
	r.log.WithField("cmd", strings.Join(argv, " ")).Debug("Execute")

	cmd := r.exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.SetStderr(&stderr)
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out: %w", ctx.Err())
	}
	return out, &Error{Args: argv, Stderr: strings.TrimSpace(stderr.String()), Err: err}
}
