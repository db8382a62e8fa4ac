package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loop/internal/exitcode"
	"loop/internal/shell"
)

// Model runs a single tick: export the iteration, check deadlines, execute,
// scan output, evaluate predicates and record the summary.
type Model struct {
	Command   string
	Config    StopConfig
	Executor  shell.Executor
	Env       Env
	Evaluator *Evaluator
	Observer  Observer

	// Precision is the number of decimals COUNT is printed with.
	Precision int

	// Start is the program start used by --for-duration.
	Start time.Time

	// Now defaults to time.Now.
	Now func() time.Time
}

func (m *Model) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Model) observer() Observer {
	if m.Observer == nil {
		return NoopObserver{}
	}
	return m.Observer
}

// Prepare exports the iteration into the environment and builds the
// command for it. When the environment can produce a private variable
// list, the command carries it so the child never depends on process-wide
// state.
func (m *Model) Prepare(it Iteration) shell.Command {
	if m.Env != nil {
		ApplyIteration(m.Env, it, m.Precision)
	}
	cmd := shell.Command{Line: m.Command}
	if e, ok := m.Env.(Environer); ok {
		cmd.Env = e.Environ()
	}
	return cmd
}

// CheckDeadline applies the pre-execution time predicates. It returns true
// when the loop must stop before running the command, setting the Timeout
// exit code when the duration budget is configured as an error.
func (m *Model) CheckDeadline(state RunState) (bool, RunState) {
	switch m.Config.CheckDeadline(m.Start, m.now()) {
	case DeadlineDuration:
		if m.Config.ErrorDuration {
			state.ExitCode = exitcode.Timeout
		}
		state.Reason = StopDuration
		return true, state
	case DeadlineTime:
		state.Reason = StopDeadline
		return true, state
	}
	return false, state
}

// Step runs one tick. A launch failure is returned as an error and also
// stops the loop; a failing command is just a result.
func (m *Model) Step(ctx context.Context, state RunState, it Iteration) (bool, RunState, error) {
	cmd := m.Prepare(it)

	if stop, next := m.CheckDeadline(state); stop {
		return true, next, nil
	}

	res, err := m.Executor.Execute(ctx, cmd)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			state.Reason = StopCancelled
			return true, state, nil
		}
		state.Reason = StopLaunchFailure
		return true, state, fmt.Errorf("tick %d: %w", it.Index, err)
	}

	stop, state := m.Assess(state, it, res, state.PreviousOutput, 0)
	if !stop && ctx.Err() != nil {
		state.Reason = StopCancelled
		return true, state, nil
	}
	return stop, state, nil
}

// Assess evaluates one result against prior, updates the summary and,
// unless the loop stops, remembers the output for the next comparison.
// The driver calls it directly for results received in detach mode.
func (m *Model) Assess(state RunState, it Iteration, res shell.Result, prior *string, seq uint64) (bool, RunState) {
	if m.Evaluator != nil {
		m.Evaluator.Evaluate(res.Output, &state)
	}

	stop := ShouldStop(res, prior, m.Config, state.Matched)

	if m.Config.Summary {
		state.Summary.Record(res.ExitCode)
	}

	if stop {
		state.Reason = StopPredicate
	} else {
		out := res.Output
		state.PreviousOutput = &out
	}

	m.observer().OnTickComplete(TickResult{Iteration: it, Result: res, Stop: stop, Seq: seq})
	return stop, state
}
