package cli

import (
	"errors"
	"fmt"

	"loop/internal/exitcode"
)

// ErrNoCommand is returned when no command words were given.
var ErrNoCommand = errors.New("No command supplied, exiting.")

// ConfigError is a user-facing configuration problem detected before the
// first iteration. The process exits with Code.
type ConfigError struct {
	Code exitcode.Code
	Err  error
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// configErrorf builds a MinorError ConfigError.
func configErrorf(format string, args ...any) error {
	return &ConfigError{Code: exitcode.MinorError, Err: fmt.Errorf(format, args...)}
}

func configError(err error) error {
	return &ConfigError{Code: exitcode.MinorError, Err: err}
}

// ExitCodeFor maps a run error onto the process exit code. A nil error
// keeps the outcome's code.
func ExitCodeFor(err error, outcome exitcode.Code) exitcode.Code {
	if err == nil {
		return outcome
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	// Launch failures (shell.LaunchError) and anything unexpected.
	return exitcode.Error
}
