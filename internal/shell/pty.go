package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"loop/internal/exitcode"
	"loop/internal/logging"

	"github.com/creack/pty"
	"github.com/rs/zerolog"
)

// PTYRunner executes commands on a pseudo-terminal so programs that change
// behaviour when attached to a TTY (colour, line buffering, progress bars)
// act as they would interactively. The terminal merges stderr into stdout
// by construction. Like Runner, a PTYRunner owns a reusable buffer.
type PTYRunner struct {
	opts   options
	buf    bytes.Buffer
	logger zerolog.Logger
}

var (
	_ Executor = (*PTYRunner)(nil)
	_ Cloner   = (*PTYRunner)(nil)
)

// NewPTYRunner returns a PTYRunner invoking "sh -c" unless overridden.
func NewPTYRunner(opts ...Option) *PTYRunner {
	cfg := defaultOptions()
	for _, o := range opts {
		o(&cfg)
	}
	return &PTYRunner{opts: cfg, logger: logging.Component("pty")}
}

// Clone returns a PTYRunner with the same configuration and a fresh buffer.
func (r *PTYRunner) Clone() Executor {
	return &PTYRunner{opts: r.opts, logger: r.logger}
}

// Execute implements Executor.
func (r *PTYRunner) Execute(ctx context.Context, c Command) (Result, error) {
	r.buf.Reset()

	cmd := r.opts.build(ctx, c)
	r.logger.Debug().Str("program", r.opts.program).Str("line", c.Line).Msg("launching on pty")

	start := time.Now()
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: r.opts.rows, Cols: r.opts.cols})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{ExitCode: exitcode.Unknown}, ctxErr
		}
		return Result{}, &LaunchError{Program: r.opts.program, Err: err}
	}

	copyErr := drain(&r.buf, f)
	_ = f.Close()
	waitErr := cmd.Wait()
	duration := time.Since(start)

	if copyErr != nil {
		r.logger.Debug().Err(copyErr).Msg("pty read ended with error")
	}

	code, ok := exitCodeFromError(waitErr)
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Output: normalizeNewlines(r.buf.Bytes()), ExitCode: exitcode.Unknown, Duration: duration}, ctxErr
		}
		return Result{}, &LaunchError{Program: r.opts.program, Err: waitErr}
	}

	return Result{
		Output:   normalizeNewlines(r.buf.Bytes()),
		ExitCode: code,
		Duration: duration,
	}, nil
}

// drain copies the pty master into w until the slave side closes. Linux
// reports the closed slave as EIO rather than EOF.
func drain(w io.Writer, f *os.File) error {
	_, err := io.Copy(w, f)
	if err == nil || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// normalizeNewlines undoes the terminal's output post-processing, which
// turns every "\n" into "\r\n".
func normalizeNewlines(b []byte) string {
	return string(bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n")))
}
