package loop

import (
	"context"
	"errors"
	"sync"

	"loop/internal/logging"
	"loop/internal/shell"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Request is one detached execution. Seq is assigned by Dispatch and is
// monotonic, starting at 1.
type Request struct {
	Seq       uint64
	Iteration Iteration
	Command   shell.Command
}

// Response is a finished detached execution.
type Response struct {
	Seq       uint64
	Iteration Iteration
	Result    shell.Result

	// Prior is the output of the response received immediately before this
	// one, in completion order rather than dispatch order. Nil for the first.
	Prior *string

	// Err is a launch failure or cancellation from the executor.
	Err error
}

// Supervisor runs dispatched commands on background workers and hands
// results back through a channel the driver polls without blocking.
//
// There is no admission control: every Dispatch starts a worker.
type Supervisor struct {
	newExecutor func() shell.Executor

	requests chan Request
	finished chan Response
	out      chan Response

	g      *errgroup.Group
	ctx    context.Context
	seq    uint64
	closed sync.Once
	logger zerolog.Logger
}

// NewSupervisor starts the supervisor goroutine. newExecutor is called once
// per request so each worker owns its capture buffer. Cancelling ctx kills
// in-flight commands; a failing worker never cancels its siblings.
func NewSupervisor(ctx context.Context, newExecutor func() shell.Executor) *Supervisor {
	s := &Supervisor{
		newExecutor: newExecutor,
		requests:    make(chan Request),
		finished:    make(chan Response),
		out:         make(chan Response),
		g:           &errgroup.Group{},
		ctx:         ctx,
		logger:      logging.Component("supervisor"),
	}
	go s.run()
	return s
}

// Dispatch queues cmd for execution and returns its sequence number. It
// must not be called after Wait.
func (s *Supervisor) Dispatch(it Iteration, cmd shell.Command) uint64 {
	s.seq++
	s.requests <- Request{Seq: s.seq, Iteration: it, Command: cmd}
	return s.seq
}

// Poll returns a finished response if one is ready. It never blocks.
func (s *Supervisor) Poll() (Response, bool) {
	select {
	case resp, ok := <-s.out:
		return resp, ok
	default:
		return Response{}, false
	}
}

// Wait stops accepting requests, joins every outstanding worker and returns
// the responses that were never polled, in completion order. The error is
// the first launch failure reported by any worker.
func (s *Supervisor) Wait() ([]Response, error) {
	s.closed.Do(func() { close(s.requests) })

	var rest []Response
	for resp := range s.out {
		rest = append(rest, resp)
	}
	return rest, s.g.Wait()
}

// run owns the pending queue. Workers report to finished; the queue keeps
// them from blocking on a driver that has not polled yet.
func (s *Supervisor) run() {
	defer close(s.out)

	var (
		pending  []Response
		last     *string
		inflight int
		requests = s.requests
	)

	for {
		if requests == nil && inflight == 0 && len(pending) == 0 {
			return
		}

		var out chan Response
		var next Response
		if len(pending) > 0 {
			out = s.out
			next = pending[0]
		}

		select {
		case req, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			inflight++
			s.start(req)

		case resp := <-s.finished:
			inflight--
			resp.Prior = last
			if resp.Err == nil {
				output := resp.Result.Output
				last = &output
			}
			pending = append(pending, resp)

		case out <- next:
			pending = pending[1:]
		}
	}
}

func (s *Supervisor) start(req Request) {
	exec := s.newExecutor()
	s.logger.Debug().Uint64("seq", req.Seq).Int("index", req.Iteration.Index).Msg("dispatch")

	s.g.Go(func() error {
		res, err := exec.Execute(s.ctx, req.Command)
		s.finished <- Response{
			Seq:       req.Seq,
			Iteration: req.Iteration,
			Result:    res,
			Err:       err,
		}
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
}
