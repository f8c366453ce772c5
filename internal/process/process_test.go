package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func quiet() Option {
	return WithLogger(zerolog.New(io.Discard))
}

func waitCode(t *testing.T, p *Process) int {
	t.Helper()
	done := make(chan int, 1)
	go func() { done <- p.Wait() }()
	select {
	case code := <-done:
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
		return 0
	}
}

func TestSpawnNotFound(t *testing.T) {
	_, err := Spawn("/nonexistent/definitely-not-here", nil, quiet())
	require.Error(t, err)

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "/nonexistent/definitely-not-here", spawnErr.Path)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrPermission))
	assert.Equal(t, "not_found", spawnErr.Reason())
}

func TestSpawnNotOnPath(t *testing.T) {
	_, err := Spawn("rapidmedia-no-such-binary", nil, quiet())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSpawnPermissionDenied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-executable")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o644))

	_, err := Spawn(path, nil, quiet())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermission))

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "permission_denied", spawnErr.Reason())
}

func TestSpawnRelativePathWithDir(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	requireShell(t)

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "bin"), 0o755))
	script := filepath.Join(root, "bin", "tool")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\npwd -P\n"), 0o755))
	workdir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	t.Chdir(root)

	p, err := Spawn("./bin/tool", nil, WithDir(workdir), quiet())
	require.NoError(t, err)
	defer p.Destroy()

	out, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	assert.Equal(t, 0, waitCode(t, p))
	assert.Equal(t, workdir+"\n", string(out))
}

func TestWaitReportsExitCode(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	requireShell(t)

	p, err := Spawn("sh", []string{"-c", "exit 3"}, quiet())
	require.NoError(t, err)
	defer p.Destroy()

	assert.Equal(t, 3, waitCode(t, p))
}

func TestStreamsArePiped(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	requireShell(t)

	p, err := Spawn("sh", []string{"-c", "cat; echo oops >&2"}, quiet())
	require.NoError(t, err)
	defer p.Destroy()

	_, err = p.Stdin().Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, p.Stdin().Close())

	out, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	errOut, err := io.ReadAll(p.Stderr())
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(errOut))

	assert.Equal(t, 0, waitCode(t, p))
}

func TestDestroyUnblocksReaders(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	requireShell(t)

	p, err := Spawn("sh", []string{"-c", "sleep 30"}, quiet())
	require.NoError(t, err)

	readDone := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(p.Stdout())
		readDone <- err
	}()

	p.Destroy()
	p.Destroy()

	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
		t.Fatal("reader still blocked after Destroy")
	}
	assert.Equal(t, -1, waitCode(t, p))
}

func TestDestroyAfterExit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	requireShell(t)

	p, err := Spawn("sh", []string{"-c", "exit 0"}, quiet())
	require.NoError(t, err)
	assert.Equal(t, 0, waitCode(t, p))
	assert.False(t, p.survivors)

	assert.NotPanics(t, p.Destroy)
	assert.NotPanics(t, p.Destroy)
}

func TestDestroyAll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	requireShell(t)

	before := Live()
	a, err := Spawn("sh", []string{"-c", "sleep 30"}, quiet())
	require.NoError(t, err)
	b, err := Spawn("sh", []string{"-c", "sleep 30"}, quiet())
	require.NoError(t, err)
	assert.Equal(t, before+2, Live())

	assert.GreaterOrEqual(t, DestroyAll(), 2)
	assert.Equal(t, 0, Live())

	waitCode(t, a)
	waitCode(t, b)
}

func TestStats(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	requireShell(t)

	p, err := Spawn("sh", []string{"-c", "sleep 30"}, quiet(), WithName("sleeper"))
	require.NoError(t, err)
	defer func() {
		p.Destroy()
		waitCode(t, p)
	}()

	assert.Equal(t, "sleeper", p.Name())
	stats, err := p.Stats()
	require.NoError(t, err)
	assert.Equal(t, p.Pid(), stats.PID)
	assert.Greater(t, stats.RSSBytes, uint64(0))
}
