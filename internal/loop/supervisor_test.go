package loop

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"loop/internal/shell"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedExecutor blocks each command until its gate is opened, so tests can
// choose completion order.
type gatedExecutor struct {
	gates   map[string]chan struct{}
	started atomic.Int32
}

func (g *gatedExecutor) Execute(ctx context.Context, cmd shell.Command) (shell.Result, error) {
	g.started.Add(1)
	select {
	case <-g.gates[cmd.Line]:
	case <-ctx.Done():
		return shell.Result{}, ctx.Err()
	}
	return shell.Result{Output: cmd.Line}, nil
}

func pollUntil(t *testing.T, s *Supervisor) Response {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if resp, ok := s.Poll(); ok {
			return resp
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no response before deadline")
	return Response{}
}

func TestSupervisor_SequenceNumbersAreMonotonic(t *testing.T) {
	exec := newFake(echo())
	s := NewSupervisor(context.Background(), func() shell.Executor { return exec })

	for i := 1; i <= 5; i++ {
		assert.Equal(t, uint64(i), s.Dispatch(Iteration{Index: i - 1}, shell.Command{Line: "x"}))
	}
	rest, err := s.Wait()
	require.NoError(t, err)
	assert.Len(t, rest, 5)
}

func TestSupervisor_PollNeverBlocks(t *testing.T) {
	g := &gatedExecutor{gates: map[string]chan struct{}{"a": make(chan struct{})}}
	s := NewSupervisor(context.Background(), func() shell.Executor { return g })
	s.Dispatch(Iteration{}, shell.Command{Line: "a"})

	_, ok := s.Poll()
	assert.False(t, ok)

	close(g.gates["a"])
	resp := pollUntil(t, s)
	assert.Equal(t, "a", resp.Result.Output)
	assert.Nil(t, resp.Prior)

	rest, err := s.Wait()
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestSupervisor_PriorIsMostRecentlyReceived(t *testing.T) {
	g := &gatedExecutor{gates: map[string]chan struct{}{
		"first":  make(chan struct{}),
		"second": make(chan struct{}),
		"third":  make(chan struct{}),
	}}
	s := NewSupervisor(context.Background(), func() shell.Executor { return g })
	s.Dispatch(Iteration{Index: 0}, shell.Command{Line: "first"})
	s.Dispatch(Iteration{Index: 1}, shell.Command{Line: "second"})
	s.Dispatch(Iteration{Index: 2}, shell.Command{Line: "third"})

	// Complete in reverse dispatch order.
	close(g.gates["third"])
	r1 := pollUntil(t, s)
	close(g.gates["second"])
	r2 := pollUntil(t, s)
	close(g.gates["first"])
	r3 := pollUntil(t, s)

	assert.Equal(t, uint64(3), r1.Seq)
	assert.Nil(t, r1.Prior)
	assert.Equal(t, uint64(2), r2.Seq)
	require.NotNil(t, r2.Prior)
	assert.Equal(t, "third", *r2.Prior)
	assert.Equal(t, uint64(1), r3.Seq)
	require.NotNil(t, r3.Prior)
	assert.Equal(t, "second", *r3.Prior)
	assert.Equal(t, 0, r3.Iteration.Index)

	_, err := s.Wait()
	require.NoError(t, err)
}

func TestSupervisor_NResponsesForNRequests(t *testing.T) {
	const n = 25
	exec := newFake(func(cmd shell.Command) (shell.Result, error) {
		idx, _ := strconv.Atoi(cmd.Line)
		time.Sleep(time.Duration(n-idx) * 100 * time.Microsecond)
		return shell.Result{Output: cmd.Line}, nil
	})
	s := NewSupervisor(context.Background(), func() shell.Executor { return exec })

	var got []Response
	for i := 0; i < n; i++ {
		s.Dispatch(Iteration{Index: i}, shell.Command{Line: strconv.Itoa(i)})
		if resp, ok := s.Poll(); ok {
			got = append(got, resp)
		}
	}
	rest, err := s.Wait()
	require.NoError(t, err)
	got = append(got, rest...)

	require.Len(t, got, n)
	seqs := make([]int, 0, n)
	for _, r := range got {
		seqs = append(seqs, int(r.Seq))
	}
	sort.Ints(seqs)
	for i, seq := range seqs {
		assert.Equal(t, i+1, seq)
	}
}

func TestSupervisor_WaitJoinsOutstandingWorkers(t *testing.T) {
	var finished atomic.Int32
	exec := newFake(func(shell.Command) (shell.Result, error) {
		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
		return shell.Result{}, nil
	})
	s := NewSupervisor(context.Background(), func() shell.Executor { return exec })
	for i := 0; i < 4; i++ {
		s.Dispatch(Iteration{Index: i}, shell.Command{})
	}

	rest, err := s.Wait()
	require.NoError(t, err)
	assert.Len(t, rest, 4)
	assert.EqualValues(t, 4, finished.Load(), "no worker outlives Wait")
}

func TestSupervisor_LaunchErrorReported(t *testing.T) {
	launch := &shell.LaunchError{Program: "sh", Err: errors.New("missing")}
	exec := newFake(func(shell.Command) (shell.Result, error) { return shell.Result{}, launch })
	s := NewSupervisor(context.Background(), func() shell.Executor { return exec })
	s.Dispatch(Iteration{}, shell.Command{})

	rest, err := s.Wait()
	require.Error(t, err)
	assert.True(t, shell.IsLaunchError(err))
	require.Len(t, rest, 1)
	assert.Error(t, rest[0].Err)
}

// launchOrGate fails to launch "bad" and gates every other command.
type launchOrGate struct {
	gated *gatedExecutor
}

func (l launchOrGate) Execute(ctx context.Context, cmd shell.Command) (shell.Result, error) {
	if cmd.Line == "bad" {
		return shell.Result{}, &shell.LaunchError{Program: "sh", Err: errors.New("missing")}
	}
	return l.gated.Execute(ctx, cmd)
}

func TestSupervisor_LaunchErrorLeavesSiblingsRunning(t *testing.T) {
	slow := make(chan struct{})
	exec := launchOrGate{gated: &gatedExecutor{gates: map[string]chan struct{}{"slow": slow}}}
	s := NewSupervisor(context.Background(), func() shell.Executor { return exec })

	s.Dispatch(Iteration{Index: 0}, shell.Command{Line: "slow"})
	s.Dispatch(Iteration{Index: 1}, shell.Command{Line: "bad"})

	failed := pollUntil(t, s)
	require.True(t, shell.IsLaunchError(failed.Err))
	time.Sleep(20 * time.Millisecond)
	close(slow)

	rest, err := s.Wait()
	assert.True(t, shell.IsLaunchError(err))
	require.Len(t, rest, 1)
	require.NoError(t, rest[0].Err, "the sibling ran to completion")
	assert.Equal(t, "slow", rest[0].Result.Output)
}

func TestSupervisor_CancelKillsInflight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := &gatedExecutor{gates: map[string]chan struct{}{"never": make(chan struct{})}}
	s := NewSupervisor(ctx, func() shell.Executor { return g })
	s.Dispatch(Iteration{}, shell.Command{Line: "never"})
	cancel()

	rest, err := s.Wait()
	require.NoError(t, err, "cancellation is not a launch failure")
	require.Len(t, rest, 1)
	assert.ErrorIs(t, rest[0].Err, context.Canceled)
}
