package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"loop/internal/logging"
	"loop/internal/shell"

	"github.com/rs/zerolog"
)

// Config configures a Driver.
type Config struct {
	Iterator *Iterator
	Model    *Model

	// Every is the pacing interval. Zero runs ticks back to back.
	Every time.Duration

	// Detach runs commands on supervisor workers instead of inline.
	Detach bool

	// NewExecutor builds a worker-private executor in detach mode. Nil
	// clones Model.Executor when it implements shell.Cloner.
	NewExecutor func() shell.Executor

	// Output receives the summary block. Defaults to os.Stdout.
	Output io.Writer

	// Test hooks: nil means use real implementations.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Driver pulls iterations, runs the model per tick and applies pacing.
type Driver struct {
	cfg    Config
	logger zerolog.Logger
}

// NewDriver validates cfg and returns a Driver.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Iterator == nil {
		return nil, errors.New("loop: driver needs an iterator")
	}
	if cfg.Model == nil || cfg.Model.Executor == nil {
		return nil, errors.New("loop: driver needs a model with an executor")
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Model.Now == nil {
		cfg.Model.Now = cfg.Now
	}
	if cfg.Model.Start.IsZero() {
		cfg.Model.Start = cfg.Now()
	}
	if cfg.Detach && cfg.NewExecutor == nil {
		cloner, ok := cfg.Model.Executor.(shell.Cloner)
		if !ok {
			return nil, fmt.Errorf("loop: detach mode needs NewExecutor or a cloneable executor, got %T", cfg.Model.Executor)
		}
		cfg.NewExecutor = cloner.Clone
	}
	return &Driver{cfg: cfg, logger: logging.Component("driver")}, nil
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Driver) observer() Observer {
	return d.cfg.Model.observer()
}

// Run drives the loop to completion and runs the exit tasks: the held
// only-last line and the summary block are printed whatever the stop
// reason. The error is non-nil only for a launch failure.
func (d *Driver) Run(ctx context.Context) (Outcome, error) {
	start := d.cfg.Now()
	it := d.cfg.Iterator
	d.observer().OnLoopStart(StartInfo{
		Command: d.cfg.Model.Command,
		Bounded: it.Bounded(),
		Bound:   it.Bound(),
		Detach:  d.cfg.Detach,
	})

	var (
		state RunState
		ticks int
		err   error
	)
	if d.cfg.Detach {
		state, ticks, err = d.runDetached(ctx)
	} else {
		state, ticks, err = d.runInline(ctx)
	}

	d.finish(state)

	outcome := Outcome{
		ExitCode: state.ExitCode,
		Summary:  state.Summary,
		Reason:   state.Reason,
		Ticks:    ticks,
		Duration: d.cfg.Now().Sub(start),
	}
	d.observer().OnLoopEnd(outcome)
	return outcome, err
}

func (d *Driver) runInline(ctx context.Context) (RunState, int, error) {
	var state RunState
	ticks := 0
	for {
		if ctx.Err() != nil {
			state.Reason = StopCancelled
			return state, ticks, nil
		}
		it, ok := d.cfg.Iterator.Next()
		if !ok {
			state.Reason = StopExhausted
			return state, ticks, nil
		}

		tickStart := d.cfg.Now()
		d.observer().OnTickStart(it)
		ticks++

		stop, next, err := d.cfg.Model.Step(ctx, state, it)
		state = next
		if err != nil {
			return state, ticks, err
		}
		if stop {
			return state, ticks, nil
		}

		if !it.Last {
			if err := d.pace(ctx, tickStart); err != nil {
				state.Reason = StopCancelled
				return state, ticks, nil
			}
		}
	}
}

// runDetached dispatches every tick to the supervisor and evaluates results
// as they arrive. Ordering of results is completion order.
func (d *Driver) runDetached(ctx context.Context) (RunState, int, error) {
	m := d.cfg.Model
	sup := NewSupervisor(ctx, d.cfg.NewExecutor)

	var (
		state   RunState
		ticks   int
		stopped bool
		runErr  error
	)

	// consume evaluates one response. After a stop, results only count
	// towards the summary.
	consume := func(resp Response) {
		if resp.Err != nil {
			if runErr == nil && !stopped && !errors.Is(resp.Err, context.Canceled) && !errors.Is(resp.Err, context.DeadlineExceeded) {
				runErr = fmt.Errorf("tick %d: %w", resp.Iteration.Index, resp.Err)
				state.Reason = StopLaunchFailure
				stopped = true
			}
			return
		}
		if stopped {
			if m.Config.Summary {
				state.Summary.Record(resp.Result.ExitCode)
			}
			return
		}
		var stop bool
		stop, state = m.Assess(state, resp.Iteration, resp.Result, resp.Prior, resp.Seq)
		if stop {
			stopped = true
		}
	}

	for !stopped {
		if ctx.Err() != nil {
			state.Reason = StopCancelled
			stopped = true
			break
		}

		for !stopped {
			resp, ok := sup.Poll()
			if !ok {
				break
			}
			consume(resp)
		}
		if stopped {
			break
		}

		it, ok := d.cfg.Iterator.Next()
		if !ok {
			state.Reason = StopExhausted
			break
		}

		tickStart := d.cfg.Now()
		d.observer().OnTickStart(it)
		ticks++

		cmd := m.Prepare(it)
		if stop, next := m.CheckDeadline(state); stop {
			state = next
			stopped = true
			break
		}
		seq := sup.Dispatch(it, cmd)
		d.logger.Debug().Uint64("seq", seq).Int("index", it.Index).Msg("dispatched")

		if !it.Last {
			if err := d.pace(ctx, tickStart); err != nil {
				state.Reason = StopCancelled
				stopped = true
			}
		}
	}

	rest, waitErr := sup.Wait()
	for _, resp := range rest {
		consume(resp)
	}
	if runErr == nil && waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		runErr = waitErr
		state.Reason = StopLaunchFailure
	}
	return state, ticks, runErr
}

// pace sleeps for whatever is left of the interval since tickStart. A tick
// that overran the interval is followed immediately, with no catch-up.
func (d *Driver) pace(ctx context.Context, tickStart time.Time) error {
	if d.cfg.Every <= 0 {
		return nil
	}
	remaining := d.cfg.Every - d.cfg.Now().Sub(tickStart)
	if remaining <= 0 {
		return nil
	}
	return d.cfg.Sleep(ctx, remaining)
}

func (d *Driver) finish(state RunState) {
	if ev := d.cfg.Model.Evaluator; ev != nil {
		ev.Flush()
	}
	if d.cfg.Model.Config.Summary {
		writef(d.cfg.Output, "%s", state.Summary.Report())
	}
}
