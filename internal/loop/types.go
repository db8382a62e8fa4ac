// Package loop implements the iteration and stop-condition engine: the
// counter, the per-tick step, the pacing driver and the detach-mode
// supervisor.
package loop

import (
	"encoding/json"
	"fmt"
	"time"

	"loop/internal/exitcode"
	"loop/internal/shell"
)

// StopReason indicates why the loop terminated.
type StopReason int

const (
	StopExhausted StopReason = iota // Iterator ran out of ticks.
	StopPredicate                   // An output or exit-status predicate fired.
	StopDuration                    // --for-duration budget spent.
	StopDeadline                    // --until-time reached.
	StopCancelled                   // Context cancelled (SIGINT/SIGTERM).
	StopLaunchFailure               // The shell could not be started.
)

// String returns a human-readable label for the stop reason.
func (r StopReason) String() string {
	switch r {
	case StopExhausted:
		return "exhausted"
	case StopPredicate:
		return "predicate"
	case StopDuration:
		return "duration"
	case StopDeadline:
		return "deadline"
	case StopCancelled:
		return "cancelled"
	case StopLaunchFailure:
		return "launch-failure"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// MarshalJSON encodes the reason as its string label.
func (r StopReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a string label.
func (r *StopReason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "exhausted":
		*r = StopExhausted
	case "predicate":
		*r = StopPredicate
	case "duration":
		*r = StopDuration
	case "deadline":
		*r = StopDeadline
	case "cancelled":
		*r = StopCancelled
	case "launch-failure":
		*r = StopLaunchFailure
	default:
		return fmt.Errorf("unknown StopReason: %s", s)
	}
	return nil
}

// StartInfo describes a run to observers.
type StartInfo struct {
	Command string
	Bounded bool
	Bound   float64
	Detach  bool
}

// TickResult is one evaluated command result.
type TickResult struct {
	Iteration Iteration
	Result    shell.Result
	Stop      bool

	// Seq is the supervisor sequence number in detach mode, zero otherwise.
	Seq uint64
}

// Outcome is what a finished run hands back to the caller.
type Outcome struct {
	ExitCode exitcode.Code
	Summary  Summary
	Reason   StopReason
	Ticks    int
	Duration time.Duration
}

// Observer receives lifecycle callbacks from the driver.
//
// All methods are called from the driver goroutine.
type Observer interface {
	OnLoopStart(info StartInfo)
	OnTickStart(it Iteration)
	OnTickComplete(t TickResult)
	OnLoopEnd(o Outcome)
}

// NoopObserver ignores every callback.
type NoopObserver struct{}

var _ Observer = NoopObserver{}

func (NoopObserver) OnLoopStart(StartInfo)     {}
func (NoopObserver) OnTickStart(Iteration)     {}
func (NoopObserver) OnTickComplete(TickResult) {}
func (NoopObserver) OnLoopEnd(Outcome)         {}
