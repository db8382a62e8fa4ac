package loop

import (
	"regexp"
	"time"

	"loop/internal/exitcode"
	"loop/internal/shell"
)

// UntilError is the exit-status stop predicate. The zero value is disabled.
type UntilError struct {
	Enabled bool
	Any     bool
	Code    exitcode.Code
}

// AnyError stops on any non-zero exit.
func AnyError() UntilError {
	return UntilError{Enabled: true, Any: true}
}

// ErrorCode stops only when the command exits with exactly code.
func ErrorCode(code exitcode.Code) UntilError {
	return UntilError{Enabled: true, Code: code}
}

// Matches reports whether code satisfies the predicate.
func (u UntilError) Matches(code exitcode.Code) bool {
	switch {
	case !u.Enabled:
		return false
	case u.Any:
		return !code.Success()
	default:
		return code == u.Code
	}
}

// StopConfig is captured once at startup and never mutated.
type StopConfig struct {
	// Contains and Match drive the per-line scan. Nil disables them.
	Contains *string
	Match    *regexp.Regexp

	// ForDuration is a budget measured from program start; zero disables.
	// ErrorDuration turns an exhausted budget into a Timeout exit.
	ForDuration   time.Duration
	ErrorDuration bool

	// UntilTime is an absolute deadline; the zero time disables it.
	UntilTime time.Time

	UntilError   UntilError
	UntilSuccess bool
	UntilFail    bool
	UntilChanges bool
	UntilSame    bool

	OnlyLast bool
	Summary  bool
}

// ShouldStop combines the post-execution predicates with a logical OR.
// prior is the previous tick's output; comparison predicates never fire
// while it is nil.
func ShouldStop(current shell.Result, prior *string, cfg StopConfig, matched bool) bool {
	if matched {
		return true
	}
	if cfg.UntilError.Matches(current.ExitCode) {
		return true
	}
	if cfg.UntilSuccess && current.Success() {
		return true
	}
	if cfg.UntilFail && !current.Success() {
		return true
	}
	if prior != nil {
		if cfg.UntilChanges && *prior != current.Output {
			return true
		}
		if cfg.UntilSame && *prior == current.Output {
			return true
		}
	}
	return false
}

// DeadlineCheck is the outcome of the pre-execution time predicates.
type DeadlineCheck int

const (
	DeadlineNone     DeadlineCheck = iota // Keep going.
	DeadlineDuration                      // --for-duration budget spent.
	DeadlineTime                          // --until-time reached.
)

// CheckDeadline evaluates --for-duration then --until-time. It runs before
// the command so an expired deadline prevents the tick's execution.
func (c StopConfig) CheckDeadline(start, now time.Time) DeadlineCheck {
	if c.ForDuration > 0 && now.Sub(start) >= c.ForDuration {
		return DeadlineDuration
	}
	if !c.UntilTime.IsZero() && !now.Before(c.UntilTime) {
		return DeadlineTime
	}
	return DeadlineNone
}
