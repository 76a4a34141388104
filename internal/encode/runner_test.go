package encode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	goruntime "runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-encoder/internal/domain"
)

// fakeRunner simulates process execution.
type fakeRunner struct {
	run func(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args, stderr)
}

func testRequest(t *testing.T, output string) Request {
	t.Helper()
	cmd, err := Build(testExe, "in.mp4", output, domain.DefaultOptions())
	require.NoError(t, err)
	return Request{Command: cmd, OutputPath: output}
}

// TestRunSuccessProbesOutputSize checks completed runs report the file size.
func TestRunSuccessProbesOutputSize(t *testing.T) {
	output := filepath.Join(t.TempDir(), "in_encoded.mp4")
	runner := NewRunnerForTests(&fakeRunner{run: func(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error) {
		assert.Equal(t, testExe.Path(), name)
		assert.Equal(t, output, args[len(args)-1])
		require.NoError(t, os.WriteFile(output, make([]byte, 1234), 0o644))
		return commandResult{}, nil
	}}, nil)

	result, err := runner.Run(context.Background(), testRequest(t, output))
	require.NoError(t, err)
	assert.Equal(t, int64(1234), result.OutputSize)
	assert.Equal(t, output, result.OutputPath)
}

// TestRunSuccessWithUnknownSize checks a failed probe does not fail the job.
func TestRunSuccessWithUnknownSize(t *testing.T) {
	runner := NewRunnerForTests(&fakeRunner{}, func(string) (os.FileInfo, error) {
		return nil, os.ErrPermission
	})

	result, err := runner.Run(context.Background(), testRequest(t, "out.mp4"))
	require.NoError(t, err)
	assert.Equal(t, domain.UnknownSize, result.OutputSize)
}

// TestRunNonZeroExitKeepsStderr checks failures carry exit code and diagnostics.
func TestRunNonZeroExitKeepsStderr(t *testing.T) {
	runner := NewRunnerForTests(&fakeRunner{run: func(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error) {
		_, _ = io.WriteString(stderr, "Unknown encoder 'libaom-av1'\n")
		return commandResult{ExitCode: 1}, errors.New("exit status 1")
	}}, nil)

	_, err := runner.Run(context.Background(), testRequest(t, "out.mp4"))
	var encErr *Error
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, KindNonZeroExit, encErr.Kind)
	assert.Equal(t, 1, encErr.ExitCode)
	assert.Equal(t, "Unknown encoder 'libaom-av1'", encErr.Stderr)
	assert.Equal(t, "Unknown encoder 'libaom-av1'", encErr.Diagnostic())
}

// TestRunSpawnFailure checks start errors carry the OS error.
func TestRunSpawnFailure(t *testing.T) {
	runner := NewRunnerForTests(&fakeRunner{run: func(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error) {
		return commandResult{ExitCode: -1}, &startError{err: os.ErrPermission}
	}}, nil)

	_, err := runner.Run(context.Background(), testRequest(t, "out.mp4"))
	var encErr *Error
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, KindSpawnFailure, encErr.Kind)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Contains(t, encErr.Diagnostic(), "permission denied")
}

// TestRunCancelledWinsOverExitStatus checks cancellation is reported as such.
func TestRunCancelledWinsOverExitStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunnerForTests(&fakeRunner{run: func(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error) {
		cancel()
		return commandResult{}, nil
	}}, nil)

	_, err := runner.Run(ctx, testRequest(t, "out.mp4"))
	require.ErrorIs(t, err, context.Canceled)
}

// TestRunReportsProgress checks stats lines reach the progress callback.
func TestRunReportsProgress(t *testing.T) {
	runner := NewRunnerForTests(&fakeRunner{run: func(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error) {
		_, _ = io.WriteString(stderr, "frame=1 time=00:00:02.00 bitrate=1k\r")
		return commandResult{}, nil
	}}, func(string) (os.FileInfo, error) { return nil, os.ErrNotExist })

	var got []float64
	req := testRequest(t, "out.mp4")
	req.SourceDuration = 8 * time.Second
	req.Speed = 2
	req.OnProgress = func(p float64) { got = append(got, p) }

	_, err := runner.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, got)
}

// writeScript creates an executable POSIX shell script.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// TestExecRunnerNonZeroExit runs a real process that fails.
func TestExecRunnerNonZeroExit(t *testing.T) {
	script := writeScript(t, "echo \"Unknown encoder 'libaom-av1'\" >&2\nexit 1\n")
	runner := NewRunnerForTests(nil, nil)

	_, err := runner.Run(context.Background(), Request{
		Command:    CommandLine{Executable: script, Args: []string{"-y", "out.mp4"}},
		OutputPath: "out.mp4",
	})
	var encErr *Error
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, KindNonZeroExit, encErr.Kind)
	assert.Equal(t, 1, encErr.ExitCode)
	assert.Contains(t, encErr.Stderr, "Unknown encoder 'libaom-av1'")
}

// TestExecRunnerMissingBinary checks a vanished executable is a spawn failure.
func TestExecRunnerMissingBinary(t *testing.T) {
	runner := NewRunnerForTests(nil, nil)
	_, err := runner.Run(context.Background(), Request{
		Command:    CommandLine{Executable: filepath.Join(t.TempDir(), "gone", "ffmpeg")},
		OutputPath: "out.mp4",
	})
	var encErr *Error
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, KindSpawnFailure, encErr.Kind)
	assert.NotEmpty(t, encErr.Diagnostic())
}

// TestExecRunnerWritesOutput runs a real process that succeeds.
func TestExecRunnerWritesOutput(t *testing.T) {
	output := filepath.Join(t.TempDir(), "clip_encoded.mp4")
	script := writeScript(t, "for last; do :; done\nprintf 'data' > \"$last\"\n")
	runner := NewRunnerForTests(nil, nil)

	result, err := runner.Run(context.Background(), Request{
		Command:    CommandLine{Executable: script, Args: []string{"-y", output}},
		OutputPath: output,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.OutputSize)
}

// TestExecRunnerCancelInterrupts checks cancellation stops a running process.
func TestExecRunnerCancelInterrupts(t *testing.T) {
	script := writeScript(t, "trap 'exit 255' INT\nsleep 30 &\nwait\n")
	runner := NewRunnerForTests(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(ctx, Request{
			Command:    CommandLine{Executable: script},
			OutputPath: "out.mp4",
		})
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(interruptGrace + 5*time.Second):
		require.Fail(t, "runner did not return after cancel")
	}
}
