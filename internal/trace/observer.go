package trace

import (
	"context"
	"sync"

	"loop/internal/loop"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Attribute keys, all under the loop.* namespace.
const (
	AttrSession   = attribute.Key("loop.session.id")
	AttrCommand   = attribute.Key("loop.command")
	AttrDetach    = attribute.Key("loop.detach")
	AttrBound     = attribute.Key("loop.bound")
	AttrIndex     = attribute.Key("loop.iteration.index")
	AttrCount     = attribute.Key("loop.iteration.count")
	AttrItem      = attribute.Key("loop.item")
	AttrExitCode  = attribute.Key("loop.exit_code")
	AttrStop      = attribute.Key("loop.stop")
	AttrSeq       = attribute.Key("loop.seq")
	AttrSkipped   = attribute.Key("loop.skipped")
	AttrReason    = attribute.Key("loop.stop_reason")
	AttrTicks     = attribute.Key("loop.ticks")
	AttrRuns      = attribute.Key("loop.summary.total")
	AttrSuccesses = attribute.Key("loop.summary.successes")
)

// Observer turns driver callbacks into spans. Tick spans are keyed by
// iteration index so detached results, which complete out of order, close
// the span their dispatch opened.
type Observer struct {
	tracer  oteltrace.Tracer
	ctx     context.Context
	session string

	mu    sync.Mutex
	root  oteltrace.Span
	rctx  context.Context
	ticks map[int]oteltrace.Span
}

var _ loop.Observer = (*Observer)(nil)

// NewObserver returns an Observer creating spans under ctx.
func NewObserver(ctx context.Context, tracer oteltrace.Tracer, sessionID string) *Observer {
	return &Observer{
		tracer:  tracer,
		ctx:     ctx,
		session: sessionID,
		ticks:   make(map[int]oteltrace.Span),
	}
}

// OnLoopStart opens the root span.
func (o *Observer) OnLoopStart(info loop.StartInfo) {
	attrs := []attribute.KeyValue{
		AttrCommand.String(info.Command),
		AttrDetach.Bool(info.Detach),
	}
	if o.session != "" {
		attrs = append(attrs, AttrSession.String(o.session))
	}
	if info.Bounded {
		attrs = append(attrs, AttrBound.Float64(info.Bound))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.rctx, o.root = o.tracer.Start(o.ctx, "loop", oteltrace.WithAttributes(attrs...))
}

// OnTickStart opens a tick span under the root.
func (o *Observer) OnTickStart(it loop.Iteration) {
	attrs := []attribute.KeyValue{
		AttrIndex.Int(it.Index),
		AttrCount.Float64(it.Count),
	}
	if it.HasItem {
		attrs = append(attrs, AttrItem.String(it.Item))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	parent := o.rctx
	if parent == nil {
		parent = o.ctx
	}
	_, span := o.tracer.Start(parent, "loop.tick", oteltrace.WithAttributes(attrs...))
	o.ticks[it.Index] = span
}

// OnTickComplete records the result on the tick span and ends it.
func (o *Observer) OnTickComplete(t loop.TickResult) {
	o.mu.Lock()
	span, ok := o.ticks[t.Iteration.Index]
	delete(o.ticks, t.Iteration.Index)
	o.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(
		AttrExitCode.Int(t.Result.ExitCode.Int()),
		AttrStop.Bool(t.Stop),
	)
	if t.Seq != 0 {
		span.SetAttributes(AttrSeq.Int64(int64(t.Seq)))
	}
	if !t.Result.Success() {
		span.SetStatus(codes.Error, t.Result.ExitCode.String())
	}
	span.End()
}

// OnLoopEnd closes any tick span that never ran (deadline or cancellation)
// and ends the root span.
func (o *Observer) OnLoopEnd(out loop.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for idx, span := range o.ticks {
		span.SetAttributes(AttrSkipped.Bool(true))
		span.End()
		delete(o.ticks, idx)
	}

	if o.root == nil {
		return
	}
	o.root.SetAttributes(
		AttrReason.String(out.Reason.String()),
		AttrTicks.Int(out.Ticks),
		AttrExitCode.Int(out.ExitCode.Int()),
		AttrRuns.Int(out.Summary.Total()),
		AttrSuccesses.Int(out.Summary.Successes),
	)
	if out.Reason == loop.StopLaunchFailure {
		o.root.SetStatus(codes.Error, "launch failure")
	}
	o.root.End()
	o.root = nil
}
