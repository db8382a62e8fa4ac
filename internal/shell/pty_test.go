package shell

import (
	"context"
	"testing"

	"loop/internal/exitcode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeNewlines(t *testing.T) {
	assert.Equal(t, "a\nb\n", normalizeNewlines([]byte("a\r\nb\r\n")))
	assert.Equal(t, "a\rb", normalizeNewlines([]byte("a\rb")))
	assert.Equal(t, "", normalizeNewlines(nil))
}

func TestPTYRunner_RunsOnTerminal(t *testing.T) {
	requireSh(t)

	r := NewPTYRunner()
	res, err := r.Execute(context.Background(), Command{Line: "if [ -t 1 ]; then echo tty; else echo pipe; fi"})
	if err != nil && IsLaunchError(err) {
		t.Skipf("pty unavailable: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, "tty\n", res.Output)
	assert.Equal(t, exitcode.Okay, res.ExitCode)
}

func TestPTYRunner_ExitCodeAndEnv(t *testing.T) {
	requireSh(t)

	r := NewPTYRunner(WithSize(40, 120))
	res, err := r.Execute(context.Background(), Command{
		Line: `printf '%s\n' "$ITEM"; exit 5`,
		Env:  []string{"ITEM=ferris", "PATH=/usr/bin:/bin"},
	})
	if err != nil && IsLaunchError(err) {
		t.Skipf("pty unavailable: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, "ferris\n", res.Output)
	assert.Equal(t, exitcode.Code(5), res.ExitCode)
}

func TestPTYRunner_LaunchError(t *testing.T) {
	r := NewPTYRunner(WithShell("/definitely/not/a/shell", ""))
	_, err := r.Execute(context.Background(), Command{Line: "true"})
	require.Error(t, err)
	assert.True(t, IsLaunchError(err))
}

func TestPTYRunner_Clone(t *testing.T) {
	r := NewPTYRunner(WithSize(10, 20))
	c, ok := r.Clone().(*PTYRunner)
	require.True(t, ok)
	assert.NotSame(t, r, c)
	assert.Equal(t, uint16(10), c.opts.rows)
	assert.Equal(t, uint16(20), c.opts.cols)
}
