// Package tui provides a terminal watch view for a running loop.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"loop/internal/exitcode"
	"loop/internal/loop"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	defaultWidth  = 80
	defaultHeight = 24

	// chromeLines is the number of rows used by everything but the viewport:
	// header, progress line, blank, status bar, hint and the viewport border.
	chromeLines = 7
)

// Model is the Bubble Tea model for the watch view.
type Model struct {
	command string
	styles  Styles
	spinner spinner.Model
	output  viewport.Model
	now     func() time.Time
	cancel  context.CancelFunc

	// Progress
	started   bool
	start     time.Time
	elapsed   time.Duration
	bound     float64
	bounded   bool
	detach    bool
	ticks     int
	current   loop.Iteration
	completed int
	successes int
	failures  int
	last      *exitcode.Code

	// State
	done       bool
	cancelling bool
	outcome    loop.Outcome

	width  int
	height int
}

// Compile-time interface compliance check
var _ tea.Model = (*Model)(nil)

// Message types for TUI updates
type (
	loopStartedMsg  struct{ Info loop.StartInfo }
	tickStartMsg    struct{ Iteration loop.Iteration }
	tickCompleteMsg struct{ Result loop.TickResult }
	loopEndMsg      struct{ Outcome loop.Outcome }
)

// sender is the part of tea.Program the observer needs.
type sender interface {
	Send(msg tea.Msg)
}

// Observer implements loop.Observer and forwards events to the view.
type Observer struct {
	program sender
}

var _ loop.Observer = (*Observer)(nil)

func (o *Observer) send(msg tea.Msg) {
	if o.program != nil {
		o.program.Send(msg)
	}
}

// OnLoopStart is called when the loop begins.
func (o *Observer) OnLoopStart(info loop.StartInfo) { o.send(loopStartedMsg{Info: info}) }

// OnTickStart is called before each command is run or dispatched.
func (o *Observer) OnTickStart(it loop.Iteration) { o.send(tickStartMsg{Iteration: it}) }

// OnTickComplete is called with each evaluated result.
func (o *Observer) OnTickComplete(t loop.TickResult) { o.send(tickCompleteMsg{Result: t}) }

// OnLoopEnd is called once the exit tasks have run.
func (o *Observer) OnLoopEnd(out loop.Outcome) { o.send(loopEndMsg{Outcome: out}) }

// NewModel creates a view for command. cancel stops the loop when the user
// presses q; it may be nil.
func NewModel(command string, cancel context.CancelFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	styles := DefaultStyles()
	s.Style = styles.Spinner

	vp := viewport.New(defaultWidth-4, defaultHeight-chromeLines)
	vp.Style = styles.Viewport

	return &Model{
		command: command,
		styles:  styles,
		spinner: s,
		output:  vp,
		now:     time.Now,
		cancel:  cancel,
		width:   defaultWidth,
		height:  defaultHeight,
	}
}

// Runner is the part of loop.Driver the view drives.
type Runner interface {
	Run(ctx context.Context) (loop.Outcome, error)
}

// Run shows the watch view while runner runs. The view's observer is
// attached to model next to whatever observer it already has. Run returns
// once the loop has finished, the view quits on its own at that point.
func Run(ctx context.Context, model *loop.Model, runner Runner, opts ...tea.ProgramOption) (loop.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewModel(model.Command, cancel)
	p := tea.NewProgram(m, opts...)
	model.Observer = loop.NewMultiObserver(model.Observer, &Observer{program: p})

	type result struct {
		outcome loop.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := runner.Run(ctx)
		// OnLoopEnd is skipped when the observer panicked; make sure the
		// view still quits.
		p.Send(loopEndMsg{Outcome: outcome})
		done <- result{outcome: outcome, err: err}
	}()

	_, viewErr := p.Run()
	if viewErr != nil {
		cancel()
	}
	r := <-done
	if viewErr != nil && !errors.Is(viewErr, tea.ErrProgramKilled) {
		return r.outcome, errors.Join(r.err, fmt.Errorf("tui: %w", viewErr))
	}
	return r.outcome, r.err
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.cancelling && m.cancel != nil {
				m.cancel()
			}
			m.cancelling = true
			if m.done {
				return m, tea.Quit
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.output, cmd = m.output.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.output.Width = max(msg.Width-4, 20)
		m.output.Height = max(msg.Height-chromeLines, 3)

	case loopStartedMsg:
		m.started = true
		m.start = m.now()
		m.bound = msg.Info.Bound
		m.bounded = msg.Info.Bounded
		m.detach = msg.Info.Detach

	case tickStartMsg:
		m.ticks++
		m.current = msg.Iteration

	case tickCompleteMsg:
		res := msg.Result.Result
		m.completed++
		if res.Success() {
			m.successes++
		} else {
			m.failures++
		}
		code := res.ExitCode
		m.last = &code
		m.output.SetContent(strings.TrimRight(res.Output, "\n"))
		m.output.GotoBottom()

	case loopEndMsg:
		if m.done {
			return m, nil
		}
		m.done = true
		m.outcome = msg.Outcome
		m.elapsed = msg.Outcome.Duration
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		if m.started {
			m.elapsed = m.now().Sub(m.start)
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("⟳ LOOP"))
	b.WriteString(" ")
	b.WriteString(m.styles.Command.Render(m.command))
	b.WriteString("\n")

	b.WriteString(m.styles.Muted.Render(m.progressLine()))
	b.WriteString("\n")

	b.WriteString(m.output.View())
	b.WriteString("\n")

	b.WriteString(m.statusBar())
	b.WriteString("\n")

	switch {
	case m.done:
	case m.cancelling:
		b.WriteString(m.styles.Muted.Render("Stopping..."))
	default:
		b.WriteString(m.styles.Muted.Render("q: stop  ↑/↓: scroll"))
	}
	return b.String()
}

func (m *Model) progressLine() string {
	if m.ticks == 0 {
		return "Waiting for first tick"
	}
	var parts []string
	if m.bounded {
		parts = append(parts, fmt.Sprintf("Tick %d/%s", m.ticks, formatBound(m.bound)))
	} else {
		parts = append(parts, fmt.Sprintf("Tick %d", m.ticks))
	}
	parts = append(parts, "count "+strconv.FormatFloat(m.current.Count, 'f', -1, 64))
	if m.current.HasItem {
		parts = append(parts, "item "+m.current.Item)
	}
	if m.detach {
		parts = append(parts, fmt.Sprintf("%d in flight", m.ticks-m.completed))
	}
	return strings.Join(parts, " · ")
}

func (m *Model) statusBar() string {
	var parts []string

	switch {
	case m.done:
		icon := ReasonIcon(m.outcome)
		parts = append(parts, m.styles.ReasonStyle(m.outcome).Render(icon+" "+m.outcome.Reason.String()))
	case m.started:
		parts = append(parts, m.spinner.View()+m.styles.Status.Render(" Running"))
	default:
		parts = append(parts, m.styles.Muted.Render(IconWaiting+" Waiting"))
	}

	if m.last != nil {
		parts = append(parts, "last "+m.styles.CodeStyle(*m.last).Render(fmt.Sprintf("%s (%d)", *m.last, m.last.Int())))
	}
	if m.completed > 0 {
		parts = append(parts,
			m.styles.Success.Render(fmt.Sprintf("%s %d", IconSuccess, m.successes))+" "+
				m.styles.Error.Render(fmt.Sprintf("%s %d", IconFailed, m.failures)))
	}
	if m.started && m.elapsed > 0 {
		parts = append(parts, m.styles.Muted.Render(formatDuration(m.elapsed)))
	}
	return strings.Join(parts, " │ ")
}

func formatBound(b float64) string {
	return strconv.FormatFloat(b, 'f', -1, 64)
}

// formatDuration formats a duration in a human-readable way (e.g. "2m34s").
// Sub-minute durations keep one decimal.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, s)
}
