// Package shell runs the looped command line once and captures its combined
// output and exit status.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"loop/internal/exitcode"
)

// DefaultProgram and DefaultFlag form the default invocation "sh -c <line>".
const (
	DefaultProgram = "sh"
	DefaultFlag    = "-c"
)

// Command is one invocation request.
type Command struct {
	// Line is handed verbatim to the shell.
	Line string

	// Env is the complete child environment as KEY=VALUE pairs. Nil means
	// inherit the current process environment.
	Env []string
}

// Result is the outcome of one invocation. A non-zero or abnormal exit is a
// result, not an error.
type Result struct {
	Output   string
	ExitCode exitcode.Code
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode.Success()
}

// Executor runs a command to completion.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// Cloner is implemented by executors that can produce an independent copy
// with its own capture buffer, for use by concurrent workers.
type Cloner interface {
	Clone() Executor
}

// LaunchError reports that the shell process itself could not be started.
// Unlike a failing command, it is fatal to the loop.
type LaunchError struct {
	Program string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Program, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// IsLaunchError reports whether err wraps a *LaunchError.
func IsLaunchError(err error) bool {
	var le *LaunchError
	return errors.As(err, &le)
}

// CommandFactory builds an *exec.Cmd for the given program and arguments.
// Tests inject a factory that re-executes the test binary instead.
type CommandFactory func(ctx context.Context, program string, args ...string) *exec.Cmd

func defaultCommandFactory(ctx context.Context, program string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, program, args...)
}

// options holds configuration shared by Runner and PTYRunner.
type options struct {
	program        string
	flag           string
	commandFactory CommandFactory
	rows, cols     uint16
}

func defaultOptions() options {
	return options{
		program:        DefaultProgram,
		flag:           DefaultFlag,
		commandFactory: defaultCommandFactory,
		rows:           24,
		cols:           80,
	}
}

// Option configures an executor.
type Option func(*options)

// WithShell overrides the shell program and the flag that precedes the
// command line. Empty values keep the defaults.
func WithShell(program, flag string) Option {
	return func(o *options) {
		if program != "" {
			o.program = program
		}
		if flag != "" {
			o.flag = flag
		}
	}
}

// WithCommandFactory injects a custom command factory (used in tests).
func WithCommandFactory(f CommandFactory) Option {
	return func(o *options) {
		if f != nil {
			o.commandFactory = f
		}
	}
}

// WithSize sets the pseudo-terminal dimensions used by PTYRunner.
func WithSize(rows, cols uint16) Option {
	return func(o *options) {
		if rows > 0 {
			o.rows = rows
		}
		if cols > 0 {
			o.cols = cols
		}
	}
}

func (o options) build(ctx context.Context, c Command) *exec.Cmd {
	cmd := o.commandFactory(ctx, o.program, o.flag, c.Line)
	switch {
	case c.Env == nil:
	case cmd.Env != nil:
		// The factory already pinned an environment; later entries win.
		cmd.Env = append(cmd.Env, c.Env...)
	default:
		cmd.Env = c.Env
	}
	return cmd
}

// exitCodeFromError maps the error returned by Wait into an exit code.
// ok is false when err is not an exit status at all (a launch failure).
func exitCodeFromError(err error) (code exitcode.Code, ok bool) {
	if err == nil {
		return exitcode.Okay, true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when the process was killed by a signal.
		return exitcode.FromInt(exitErr.ExitCode()), true
	}
	return exitcode.Unknown, false
}
