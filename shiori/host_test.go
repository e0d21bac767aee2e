package shiori

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/furin-lab/nanika/ghosterr"
)

func fakeHost(t *testing.T, mode string, opts Options) *Host {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	opts.Path = exe
	opts.Env = append(opts.Env, fakeEnv+"="+mode)
	if opts.Settle == 0 {
		opts.Settle = 50 * time.Millisecond
	}
	h := New(opts)
	t.Cleanup(func() { h.Stop() })
	return h
}

func TestRequestNotRunning(t *testing.T) {
	h := fakeHost(t, "echo", Options{})
	_, err := h.Request(context.Background(), "OnBoot")
	assert.ErrorIs(t, err, ghosterr.ErrProcessTerminated)
	assert.Equal(t, 0, h.PID())
}

func TestStartRequestStop(t *testing.T) {
	h := fakeHost(t, "echo", Options{})
	require.NoError(t, h.Start(context.Background()))
	assert.True(t, h.Running())
	assert.NotZero(t, h.PID())

	value, err := h.Request(context.Background(), "OnBoot", "nanika", "0.1.0", "linux")
	require.NoError(t, err)
	assert.Equal(t, `\hOnBoot:nanika,0.1.0,linux`, value)

	value, err = h.Request(context.Background(), "OnSecondChange")
	require.NoError(t, err)
	assert.Equal(t, `\hOnSecondChange:`, value)

	require.NoError(t, h.Stop())
	assert.False(t, h.Running())
	require.NoError(t, h.Stop(), "second stop is a no-op")

	_, err = h.Request(context.Background(), "OnBoot")
	assert.ErrorIs(t, err, ghosterr.ErrProcessTerminated)
}

func TestStartTwiceIsNoop(t *testing.T) {
	h := fakeHost(t, "echo", Options{})
	require.NoError(t, h.Start(context.Background()))
	pid := h.PID()
	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, pid, h.PID())
}

func TestRequestResponseShapes(t *testing.T) {
	for _, mode := range []string{"echo", "lf"} {
		t.Run(mode, func(t *testing.T) {
			h := fakeHost(t, mode, Options{})
			require.NoError(t, h.Start(context.Background()))
			ctx := context.Background()

			value, err := h.Request(ctx, "Multi")
			require.NoError(t, err)
			assert.Equal(t, "line one\nline two", value)

			value, err = h.Request(ctx, "Empty")
			require.NoError(t, err)
			assert.Equal(t, "", value)

			value, err = h.Request(ctx, "Split", "a")
			require.NoError(t, err)
			assert.Equal(t, `\hSplit:a`, value)
		})
	}
}

func TestRequestTimeoutKeepsRunning(t *testing.T) {
	h := fakeHost(t, "echo", Options{Timeout: 150 * time.Millisecond})
	require.NoError(t, h.Start(context.Background()))

	_, err := h.Request(context.Background(), "Slow")
	require.ErrorIs(t, err, ghosterr.ErrCommunication)
	assert.True(t, ghosterr.NeedsRestart(err))
	assert.True(t, h.Running(), "timeout leaves the process running")

	// The late answer to Slow must not be taken as this request's response.
	time.Sleep(300 * time.Millisecond)
	var value string
	require.Eventually(t, func() bool {
		value, err = h.Request(context.Background(), "After")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, `\hAfter:`, value)
}

func TestRequestSilentTimesOut(t *testing.T) {
	h := fakeHost(t, "silent", Options{Timeout: 100 * time.Millisecond})
	require.NoError(t, h.Start(context.Background()))

	start := time.Now()
	_, err := h.Request(context.Background(), "OnBoot")
	assert.ErrorIs(t, err, ghosterr.ErrCommunication)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, h.Running())
}

func TestRequestContextCanceled(t *testing.T) {
	h := fakeHost(t, "silent", Options{})
	require.NoError(t, h.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Request(ctx, "OnBoot")
	assert.ErrorIs(t, err, ghosterr.ErrCommunication)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessExitMidRequest(t *testing.T) {
	h := fakeHost(t, "echo", Options{})
	require.NoError(t, h.Start(context.Background()))

	_, err := h.Request(context.Background(), "Exit")
	assert.ErrorIs(t, err, ghosterr.ErrCommunication)
	assert.Eventually(t, func() bool { return !h.Running() }, 2*time.Second, 10*time.Millisecond)

	_, err = h.Request(context.Background(), "OnBoot")
	assert.ErrorIs(t, err, ghosterr.ErrProcessTerminated)

	require.NoError(t, h.Restart(context.Background()))
	value, err := h.Request(context.Background(), "OnBoot")
	require.NoError(t, err)
	assert.Equal(t, `\hOnBoot:`, value)
}

func TestStartExitsDuringSettle(t *testing.T) {
	h := fakeHost(t, "exit", Options{Settle: 200 * time.Millisecond})
	err := h.Start(context.Background())
	assert.ErrorIs(t, err, ghosterr.ErrProcessNotStarted)
	assert.False(t, h.Running())
}

func TestStartMissingFile(t *testing.T) {
	h := New(Options{Path: filepath.Join(t.TempDir(), "missing.py")})
	err := h.Start(context.Background())
	assert.ErrorIs(t, err, ghosterr.ErrProcessNotStarted)
}

func TestStopKillsStubbornProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the stop timeout")
	}
	h := fakeHost(t, "ignore-term", Options{})
	require.NoError(t, h.Start(context.Background()))

	start := time.Now()
	require.NoError(t, h.Stop())
	assert.False(t, h.Running())
	assert.GreaterOrEqual(t, time.Since(start), stopTimeout)
}

func TestStderrIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := fakeHost(t, "echo", Options{Logger: zap.New(core)})
	require.NoError(t, h.Start(context.Background()))

	_, err := h.Request(context.Background(), "Stderr")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("personality stderr").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
