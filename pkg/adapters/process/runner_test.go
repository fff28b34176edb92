package process_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/adapters/process"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures need sh")
	}
}

func TestRunner_Run(t *testing.T) {
	requireShell(t)
	r := process.NewRunner(process.WithLogger(logging.NewNop()))

	t.Run("Captures Output And Exit Code", func(t *testing.T) {
		res, err := r.Run(context.Background(), process.Command{
			Path: "sh",
			Args: []string{"-c", "echo out; echo err 1>&2; exit 3"},
		})
		require.NoError(t, err)
		assert.Equal(t, "out\n", res.Stdout)
		assert.Equal(t, "err\n", res.Stderr)
		assert.Equal(t, 3, res.ExitCode)
	})

	t.Run("Passes Env And Dir", func(t *testing.T) {
		dir := t.TempDir()
		res, err := r.Run(context.Background(), process.Command{
			Path: "sh",
			Args: []string{"-c", "echo $GREETING; pwd"},
			Env:  []string{"GREETING=hi"},
			Dir:  dir,
		})
		require.NoError(t, err)
		assert.Contains(t, res.Stdout, "hi")
		real, _ := filepath.EvalSymlinks(dir)
		assert.Contains(t, res.Stdout, filepath.Base(real))
	})

	t.Run("Times Out", func(t *testing.T) {
		res, err := r.Run(context.Background(), process.Command{
			Path:    "sh",
			Args:    []string{"-c", "sleep 5"},
			Timeout: 100 * time.Millisecond,
		})
		assert.ErrorIs(t, err, process.ErrTimeout)
		assert.Less(t, res.Duration, 2*time.Second)
	})

	t.Run("Timeout Kills Shell Children", func(t *testing.T) {
		slow := process.NewRunner(process.WithLogger(logging.NewNop()), process.WithGracePeriod(time.Minute))
		res, err := slow.Run(context.Background(), process.Command{
			Path:    "sh",
			Args:    []string{"-c", "sleep 5; echo finished"},
			Timeout: 100 * time.Millisecond,
		})
		assert.ErrorIs(t, err, process.ErrTimeout)
		assert.Less(t, res.Duration, 2*time.Second, "the grace period only applies to parent cancellation")
		assert.NotContains(t, res.Stdout, "finished")
	})

	t.Run("Parent Cancellation Is Not A Timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		_, err := r.Run(ctx, process.Command{Path: "sh", Args: []string{"-c", "sleep 5"}, Timeout: time.Minute})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, errors.Is(err, process.ErrTimeout))
	})

	t.Run("Missing Command", func(t *testing.T) {
		_, err := r.Run(context.Background(), process.Command{Path: "definitely-not-a-real-binary-xyz"})
		assert.ErrorIs(t, err, process.ErrCommandNotFound)
	})
}

func TestRunner_Execute(t *testing.T) {
	requireShell(t)
	r := process.NewRunner()
	r.Register("echo_env", "sh", "-c", "echo $WEFT_ARG_MSG")

	res, err := r.Execute(context.Background(), "echo_env", map[string]any{"msg": "SecretMessage"})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "SecretMessage")

	_, err = r.Execute(context.Background(), "hacker_script", nil)
	assert.ErrorIs(t, err, process.ErrNotRegistered)
}

func TestArgEnvAndParseOutput(t *testing.T) {
	env := process.ArgEnv(map[string]any{"list": []int{1, 2}})
	assert.Equal(t, []string{"WEFT_ARG_LIST=[1,2]"}, env)

	assert.Equal(t, map[string]any{"ok": true}, process.ParseOutput(" {\"ok\": true}\n"))
	assert.Equal(t, "{broken", process.ParseOutput("{broken\n"))
	assert.Equal(t, "plain", process.ParseOutput("plain\n"))
}

func TestLoadToolsAndDefinitions(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tools:
  - name: shout
    command: sh
    args: ["-c", "echo \"{\\\"said\\\": \\\"$WEFT_ARG_WORD\\\"}\""]
    description: Echo a word as JSON
  - name: fail
    command: sh
    args: ["-c", "echo broken 1>&2; exit 2"]
  - command: ignored-without-name
`), 0o644))

	tools, err := process.LoadTools(path)
	require.NoError(t, err)
	require.Len(t, tools, 2)

	r := process.NewRunner()
	defs := process.Definitions(r, tools)
	require.Len(t, defs, 2)
	byName := map[string]func(context.Context, map[string]any) (any, error){}
	for _, d := range defs {
		byName[d.Name] = d.Func
	}

	out, err := byName["shout"](context.Background(), map[string]any{"word": "hey"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"said": "hey"}, out)

	_, err = byName["fail"](context.Background(), nil)
	assert.ErrorContains(t, err, "broken")

	missing, err := process.LoadTools(filepath.Join(dir, "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
