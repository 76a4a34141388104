package encode

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-encoder/internal/locator"
)

const inputBanner = `Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'holiday.mov':
  Metadata:
    major_brand     : qt
  Duration: 00:01:40.04, start: 0.000000, bitrate: 2202 kb/s
  Stream #0:0[0x1](und): Video: h264 (High) (avc1 / 0x31637661), yuv420p, 1920x1080, 30 fps
At least one output file must be specified
`

// TestProbeDuration checks the banner is parsed despite the non-zero exit.
func TestProbeDuration(t *testing.T) {
	runner := NewRunnerForTests(&fakeRunner{run: func(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error) {
		assert.Equal(t, []string{"-hide_banner", "-i", "holiday.mov"}, args)
		_, _ = io.WriteString(stderr, inputBanner)
		return commandResult{ExitCode: 1}, errors.New("exit status 1")
	}}, nil)

	d, err := runner.ProbeDuration(context.Background(), testExe, "holiday.mov")
	require.NoError(t, err)
	assert.Equal(t, 100*time.Second+40*time.Millisecond, d)
}

// TestProbeDurationUnknown checks streams without a duration.
func TestProbeDurationUnknown(t *testing.T) {
	runner := NewRunnerForTests(&fakeRunner{run: func(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error) {
		_, _ = io.WriteString(stderr, "  Duration: N/A, bitrate: N/A\n")
		return commandResult{ExitCode: 1}, errors.New("exit status 1")
	}}, nil)

	_, err := runner.ProbeDuration(context.Background(), testExe, "live.ts")
	require.ErrorIs(t, err, ErrUnknownDuration)
}

// TestProbeDurationSpawnFailure checks start errors are classified.
func TestProbeDurationSpawnFailure(t *testing.T) {
	runner := NewRunnerForTests(&fakeRunner{run: func(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error) {
		return commandResult{ExitCode: -1}, &startError{err: os.ErrNotExist}
	}}, nil)

	_, err := runner.ProbeDuration(context.Background(), testExe, "in.mov")
	var encErr *Error
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, KindSpawnFailure, encErr.Kind)

	_, err = runner.ProbeDuration(context.Background(), locator.Executable{}, "in.mov")
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, KindInvalidOptions, encErr.Kind)
}

// TestParseSourceDuration checks zero and malformed values are rejected.
func TestParseSourceDuration(t *testing.T) {
	d, ok := parseSourceDuration("Duration: 01:02:03.50, start")
	require.True(t, ok)
	assert.Equal(t, time.Hour+2*time.Minute+3500*time.Millisecond, d)

	_, ok = parseSourceDuration("Duration: 00:00:00.00")
	assert.False(t, ok)
	_, ok = parseSourceDuration("no banner")
	assert.False(t, ok)
}
