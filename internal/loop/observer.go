package loop

import (
	"github.com/rs/zerolog"
)

// MultiObserver fans out callbacks to multiple observers.
// It handles nil observers gracefully by skipping them.
type MultiObserver struct {
	observers []Observer
}

var _ Observer = (*MultiObserver)(nil)

// NewMultiObserver creates a MultiObserver forwarding to every non-nil
// observer given.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			filtered = append(filtered, obs)
		}
	}
	return &MultiObserver{observers: filtered}
}

// safeCall calls fn with panic recovery. One observer failing shouldn't
// block others or the loop.
func safeCall(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

// OnLoopStart forwards the call to all observers.
func (m *MultiObserver) OnLoopStart(info StartInfo) {
	for _, obs := range m.observers {
		safeCall(func() { obs.OnLoopStart(info) })
	}
}

// OnTickStart forwards the call to all observers.
func (m *MultiObserver) OnTickStart(it Iteration) {
	for _, obs := range m.observers {
		safeCall(func() { obs.OnTickStart(it) })
	}
}

// OnTickComplete forwards the call to all observers.
func (m *MultiObserver) OnTickComplete(t TickResult) {
	for _, obs := range m.observers {
		safeCall(func() { obs.OnTickComplete(t) })
	}
}

// OnLoopEnd forwards the call to all observers.
func (m *MultiObserver) OnLoopEnd(o Outcome) {
	for _, obs := range m.observers {
		safeCall(func() { obs.OnLoopEnd(o) })
	}
}

// LogObserver writes one debug event per tick and an info event when the
// loop ends.
type LogObserver struct {
	logger zerolog.Logger
}

var _ Observer = (*LogObserver)(nil)

// NewLogObserver returns an observer logging through logger.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) OnLoopStart(info StartInfo) {
	ev := l.logger.Debug().Str("command", info.Command).Bool("detach", info.Detach)
	if info.Bounded {
		ev = ev.Float64("bound", info.Bound)
	}
	ev.Msg("loop started")
}

func (l *LogObserver) OnTickStart(it Iteration) {
	ev := l.logger.Trace().Int("index", it.Index).Float64("count", it.Count).Bool("last", it.Last)
	if it.HasItem {
		ev = ev.Str("item", it.Item)
	}
	ev.Msg("tick")
}

func (l *LogObserver) OnTickComplete(t TickResult) {
	ev := l.logger.Debug().
		Int("index", t.Iteration.Index).
		Int("exit_code", t.Result.ExitCode.Int()).
		Dur("duration", t.Result.Duration).
		Bool("stop", t.Stop)
	if t.Iteration.HasItem {
		ev = ev.Str("item", t.Iteration.Item)
	}
	if t.Seq != 0 {
		ev = ev.Uint64("seq", t.Seq)
	}
	ev.Msg("tick complete")
}

func (l *LogObserver) OnLoopEnd(o Outcome) {
	l.logger.Info().
		Stringer("reason", o.Reason).
		Int("ticks", o.Ticks).
		Int("exit_code", o.ExitCode.Int()).
		Int("runs", o.Summary.Total()).
		Dur("elapsed", o.Duration).
		Msg("loop finished")
}
