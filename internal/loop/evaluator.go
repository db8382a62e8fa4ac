package loop

import (
	"fmt"
	"io"
	"strings"
)

// writef writes formatted output, ignoring errors.
// Use for output where write failures are acceptable (a closed pipe on
// stdout must not abort the loop).
func writef(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// Evaluator scans one tick's output line by line, forwards lines to the
// print sink and updates RunState.Matched.
//
// Matching is last-line-wins: every line overwrites the flag, so only the
// final line's result survives. When both a substring and a regex are
// configured the regex is applied second and wins on each line.
type Evaluator struct {
	cfg    StopConfig
	out    io.Writer
	held   *string
	noEcho bool
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithoutEcho stops lines being printed as they are scanned. The only-last
// line is still held and printed by Flush. The watch view uses this since
// it renders output itself.
func WithoutEcho() EvaluatorOption {
	return func(e *Evaluator) { e.noEcho = true }
}

// NewEvaluator returns an Evaluator printing to out. A nil out discards.
func NewEvaluator(cfg StopConfig, out io.Writer, opts ...EvaluatorOption) *Evaluator {
	if out == nil {
		out = io.Discard
	}
	e := &Evaluator{cfg: cfg, out: out}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate processes output and updates state.Matched.
func (e *Evaluator) Evaluate(output string, state *RunState) {
	state.Matched = false
	lines := splitLines(output)

	for _, line := range lines {
		if !e.cfg.OnlyLast && !e.noEcho {
			writef(e.out, "%s\n", line)
		}
		if e.cfg.Contains != nil {
			state.Matched = strings.Contains(line, *e.cfg.Contains)
		}
		if e.cfg.Match != nil {
			state.Matched = e.cfg.Match.MatchString(line)
		}
	}

	if e.cfg.OnlyLast {
		if len(lines) == 0 {
			e.held = nil
		} else {
			last := lines[len(lines)-1]
			e.held = &last
		}
	}
}

// heldLine returns the retained only-last line, if any.
func (e *Evaluator) heldLine() (string, bool) {
	if e.held == nil {
		return "", false
	}
	return *e.held, true
}

// Flush prints the retained only-last line. It is a no-op otherwise.
func (e *Evaluator) Flush() {
	if e.held != nil {
		writef(e.out, "%s\n", *e.held)
		e.held = nil
	}
}

// splitLines splits on "\n", dropping a trailing empty segment and a
// trailing "\r" on each line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
