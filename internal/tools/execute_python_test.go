package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/tollgate/internal/sandbox"
)

type fakeSandbox struct {
	result sandbox.Result
	err    error
}

func (f *fakeSandbox) Exec(ctx context.Context, cmd []string, cwd string) (sandbox.Result, error) {
	return f.result, f.err
}

type fakeSandboxManager struct {
	sb *fakeSandbox
}

func (f *fakeSandboxManager) Get(ctx context.Context, key, workingDir string) (sandbox.Sandbox, error) {
	return f.sb, nil
}

func TestExecutePythonToolRequiresCode(t *testing.T) {
	tool := NewExecutePythonTool(&fakeSandboxManager{}, nil, ExecutePythonConfig{})
	res := tool.Executor(context.Background(), map[string]any{})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "code is required")
}

func TestExecutePythonToolReturnsStdoutOnSuccess(t *testing.T) {
	mgr := &fakeSandboxManager{sb: &fakeSandbox{result: sandbox.Result{Stdout: "hello\n", ExitCode: 0}}}
	tool := NewExecutePythonTool(mgr, nil, ExecutePythonConfig{})

	res := tool.Executor(context.Background(), map[string]any{"code": "print('hello')"})
	require.False(t, res.IsError)
	assert.Contains(t, res.ForLLM, "hello")
	assert.True(t, tool.IsPaid)
	assert.GreaterOrEqual(t, res.CostUSD, 0.0)
}

func TestExecutePythonToolMarksNonZeroExitAsError(t *testing.T) {
	mgr := &fakeSandboxManager{sb: &fakeSandbox{result: sandbox.Result{Stdout: "oops", ExitCode: 1}}}
	tool := NewExecutePythonTool(mgr, nil, ExecutePythonConfig{})

	res := tool.Executor(context.Background(), map[string]any{"code": "import sys; sys.exit(1)"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "exit code 1")
}

func TestExecutePythonToolIncludesStderr(t *testing.T) {
	mgr := &fakeSandboxManager{sb: &fakeSandbox{result: sandbox.Result{Stdout: "out", Stderr: "warn", ExitCode: 0}}}
	tool := NewExecutePythonTool(mgr, nil, ExecutePythonConfig{})

	res := tool.Executor(context.Background(), map[string]any{"code": "pass"})
	require.False(t, res.IsError)
	assert.Contains(t, res.ForLLM, "STDERR:")
	assert.Contains(t, res.ForLLM, "warn")
}

func TestDetectMimeByExt(t *testing.T) {
	assert.Equal(t, "image/png", detectMimeByExt("plot.png"))
	assert.Equal(t, "text/csv", detectMimeByExt("data.csv"))
	assert.Equal(t, "application/octet-stream", detectMimeByExt("binary.dat"))
}

func TestThreadIDContextRoundTrip(t *testing.T) {
	ctx := WithThreadID(context.Background(), "thread-42")
	assert.Equal(t, "thread-42", threadIDFromCtx(ctx))

	assert.NotEmpty(t, threadIDFromCtx(context.Background()), "missing thread id must fall back to a generated one")
}

func TestUserIDContextRoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-7")
	assert.Equal(t, "user-7", userIDFromCtx(ctx))
	assert.Empty(t, userIDFromCtx(context.Background()))
}
