package loop

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"loop/internal/exitcode"
	"loop/internal/shell"

	"github.com/stretchr/testify/require"
)

// fakeExecutor answers every command with fn and records what it saw. It is
// safe for concurrent use, so Clone can return the same instance.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []shell.Command
	fn    func(cmd shell.Command) (shell.Result, error)
}

func newFake(fn func(cmd shell.Command) (shell.Result, error)) *fakeExecutor {
	return &fakeExecutor{fn: fn}
}

func (f *fakeExecutor) Execute(_ context.Context, cmd shell.Command) (shell.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	return f.fn(cmd)
}

func (f *fakeExecutor) Clone() shell.Executor { return f }

func (f *fakeExecutor) Calls() []shell.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shell.Command(nil), f.calls...)
}

// envOf looks up key in a command's private environment.
func envOf(cmd shell.Command, key string) (string, bool) {
	for _, kv := range cmd.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

// echo behaves like `echo "$KEY"` for each key, space-separated.
func echo(keys ...string) func(shell.Command) (shell.Result, error) {
	return func(cmd shell.Command) (shell.Result, error) {
		vals := make([]string, len(keys))
		for i, k := range keys {
			vals[i], _ = envOf(cmd, k)
		}
		return shell.Result{Output: strings.Join(vals, " ") + "\n"}, nil
	}
}

// truthy behaves like running `$ITEM` where ITEM is "true" or "false".
func truthy(cmd shell.Command) (shell.Result, error) {
	item, _ := envOf(cmd, EnvItem)
	if item == "true" {
		return shell.Result{ExitCode: exitcode.Okay}, nil
	}
	return shell.Result{ExitCode: exitcode.Error}, nil
}

// fakeClock advances only when Sleep is called or Advance is used.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// harness wires a driver the way the CLI does, with an in-memory sink.
type harness struct {
	out    *bytes.Buffer
	exec   *fakeExecutor
	clock  *fakeClock
	driver *Driver
}

type harnessOpts struct {
	offset    float64
	step      float64
	count     *float64
	items     []string
	precision int
	every     time.Duration
	detach    bool
	cfg       StopConfig
	observer  Observer
}

func newHarness(t *testing.T, o harnessOpts, fn func(shell.Command) (shell.Result, error)) *harness {
	t.Helper()
	if o.step == 0 {
		o.step = 1
	}
	h := &harness{
		out:   &bytes.Buffer{},
		exec:  newFake(fn),
		clock: newClock(),
	}
	model := &Model{
		Command:   "test",
		Config:    o.cfg,
		Executor:  h.exec,
		Env:       NewVars(os.Environ()),
		Evaluator: NewEvaluator(o.cfg, h.out),
		Observer:  o.observer,
		Precision: o.precision,
	}
	d, err := NewDriver(Config{
		Iterator: NewIterator(o.offset, o.step, o.count, o.items),
		Model:    model,
		Every:    o.every,
		Detach:   o.detach,
		Output:   h.out,
		Sleep:    h.clock.Sleep,
		Now:      h.clock.Now,
	})
	require.NoError(t, err)
	h.driver = d
	return h
}

func ptr[T any](v T) *T { return &v }
