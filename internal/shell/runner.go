package shell

import (
	"bytes"
	"context"
	"time"

	"loop/internal/exitcode"
	"loop/internal/logging"

	"github.com/rs/zerolog"
)

// Runner executes commands through a shell with stderr merged into stdout.
// The capture buffer is reused across invocations, so a Runner must not be
// shared between goroutines; use Clone to get one per worker.
type Runner struct {
	opts   options
	buf    bytes.Buffer
	logger zerolog.Logger
}

var (
	_ Executor = (*Runner)(nil)
	_ Cloner   = (*Runner)(nil)
)

// NewRunner returns a Runner invoking "sh -c" unless overridden.
func NewRunner(opts ...Option) *Runner {
	cfg := defaultOptions()
	for _, o := range opts {
		o(&cfg)
	}
	return &Runner{opts: cfg, logger: logging.Component("shell")}
}

// Clone returns a Runner with the same configuration and a fresh buffer.
func (r *Runner) Clone() Executor {
	return &Runner{opts: r.opts, logger: r.logger}
}

// Execute implements Executor. The process is killed if ctx is cancelled;
// that surfaces as an Unknown exit code, not an error.
func (r *Runner) Execute(ctx context.Context, c Command) (Result, error) {
	r.buf.Reset()

	cmd := r.opts.build(ctx, c)
	cmd.Stdout = &r.buf
	cmd.Stderr = &r.buf

	r.logger.Debug().Str("program", r.opts.program).Str("line", c.Line).Msg("launching")

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	code, ok := exitCodeFromError(err)
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Output: r.buf.String(), ExitCode: exitcode.Unknown, Duration: duration}, ctxErr
		}
		return Result{}, &LaunchError{Program: r.opts.program, Err: err}
	}

	r.logger.Debug().
		Int("exit_code", code.Int()).
		Dur("duration", duration).
		Int("bytes", r.buf.Len()).
		Msg("finished")

	return Result{
		Output:   r.buf.String(),
		ExitCode: code,
		Duration: duration,
	}, nil
}
