package shell

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"loop/internal/exitcode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test-helper process
// ---------------------------------------------------------------------------
//
// Tests re-exec the test binary with a sentinel env var so the child behaves
// as a fake shell. The last argument is the command line the Runner passed.

func TestHelperProcess(t *testing.T) {
	if os.Getenv("LOOP_TEST_HELPER") != "1" {
		return
	}
	line := os.Args[len(os.Args)-1]
	switch os.Getenv("LOOP_TEST_MODE") {
	case "echo":
		fmt.Println(line)
	case "mixed":
		fmt.Fprint(os.Stdout, "out\n")
		fmt.Fprint(os.Stderr, "err\n")
	case "env":
		fmt.Print(os.Getenv("ITEM"))
	case "exit":
		code, _ := strconv.Atoi(line)
		os.Exit(code)
	case "slow":
		time.Sleep(30 * time.Second)
	default:
		fmt.Fprintln(os.Stderr, "unknown LOOP_TEST_MODE")
		os.Exit(2)
	}
	os.Exit(0)
}

// helperFactory returns a CommandFactory that re-invokes the current test
// binary as the helper process.
func helperFactory(mode string) CommandFactory {
	return func(ctx context.Context, program string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=^TestHelperProcess$", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(),
			"LOOP_TEST_HELPER=1",
			"LOOP_TEST_MODE="+mode,
		)
		return cmd
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

func TestRunner_CapturesOutput(t *testing.T) {
	r := NewRunner(WithCommandFactory(helperFactory("echo")))
	res, err := r.Execute(context.Background(), Command{Line: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", res.Output)
	assert.Equal(t, exitcode.Okay, res.ExitCode)
	assert.True(t, res.Success())
	assert.Positive(t, res.Duration)
}

func TestRunner_MergesStderr(t *testing.T) {
	r := NewRunner(WithCommandFactory(helperFactory("mixed")))
	res, err := r.Execute(context.Background(), Command{Line: "x"})
	require.NoError(t, err)
	assert.Equal(t, "out\nerr\n", res.Output)
}

func TestRunner_ExitCodes(t *testing.T) {
	r := NewRunner(WithCommandFactory(helperFactory("exit")))
	for _, code := range []int{1, 2, 42, 124} {
		res, err := r.Execute(context.Background(), Command{Line: strconv.Itoa(code)})
		require.NoError(t, err, "non-zero exit is not an error")
		assert.Equal(t, exitcode.FromInt(code), res.ExitCode)
		assert.False(t, res.Success())
	}
}

func TestRunner_BufferReused(t *testing.T) {
	r := NewRunner(WithCommandFactory(helperFactory("echo")))
	first, err := r.Execute(context.Background(), Command{Line: "first"})
	require.NoError(t, err)
	second, err := r.Execute(context.Background(), Command{Line: "second"})
	require.NoError(t, err)

	assert.Equal(t, "first\n", first.Output, "earlier result must not alias the buffer")
	assert.Equal(t, "second\n", second.Output)
}

func TestRunner_EnvPassedToChild(t *testing.T) {
	r := NewRunner(WithCommandFactory(helperFactory("env")))
	res, err := r.Execute(context.Background(), Command{Line: "x", Env: []string{"ITEM=ferris"}})
	require.NoError(t, err)
	assert.Equal(t, "ferris", res.Output)
}

func TestRunner_CancelledIsUnknown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	r := NewRunner(WithCommandFactory(helperFactory("slow")))
	res, err := r.Execute(ctx, Command{Line: "x"})
	if err != nil {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, IsLaunchError(err))
	}
	assert.Equal(t, exitcode.Unknown, res.ExitCode)
}

func TestRunner_LaunchError(t *testing.T) {
	r := NewRunner(WithShell("/definitely/not/a/shell", "-c"))
	_, err := r.Execute(context.Background(), Command{Line: "true"})
	require.Error(t, err)
	assert.True(t, IsLaunchError(err))
	assert.Contains(t, err.Error(), "/definitely/not/a/shell")
}

func TestRunner_Clone(t *testing.T) {
	r := NewRunner(WithShell("bash", "-lc"))
	c, ok := r.Clone().(*Runner)
	require.True(t, ok)
	assert.NotSame(t, r, c)
	assert.Equal(t, "bash", c.opts.program)
	assert.Equal(t, "-lc", c.opts.flag)
}

func TestRunner_RealShell(t *testing.T) {
	requireSh(t)

	r := NewRunner()
	res, err := r.Execute(context.Background(), Command{Line: "echo a; echo b >&2; exit 3"})
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", res.Output)
	assert.Equal(t, exitcode.Code(3), res.ExitCode)

	res, err = r.Execute(context.Background(), Command{Line: "does-not-exist-loop-test"})
	require.NoError(t, err, "a missing command is a shell exit status, not a launch failure")
	assert.Equal(t, exitcode.Code(127), res.ExitCode)
}

func TestRunner_RealShellSignal(t *testing.T) {
	requireSh(t)

	r := NewRunner()
	res, err := r.Execute(context.Background(), Command{Line: "kill -9 $$"})
	require.NoError(t, err)
	assert.Equal(t, exitcode.Unknown, res.ExitCode)
}
