package encode

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"video-encoder/internal/locator"
)

// probeTimeout bounds the duration probe.
const probeTimeout = 30 * time.Second

// sourceDuration matches the input banner, e.g. "  Duration: 00:01:40.04, start: 0.000000".
var sourceDuration = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ErrUnknownDuration is returned when the input reports no usable duration.
var ErrUnknownDuration = errors.New("input duration unknown")

// ProbeDuration reads the source duration from ffmpeg's input banner. ffmpeg
// exits non-zero without an output file, so only the banner is inspected.
func (r *Runner) ProbeDuration(ctx context.Context, exe locator.Executable, inputPath string) (time.Duration, error) {
	if exe.IsZero() {
		return 0, invalidOptions("ffmpeg executable has not been resolved")
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	capture := newStderrCapture(0, nil)
	_, err := r.runner.Run(ctx, exe.Path(), []string{"-hide_banner", "-i", inputPath}, capture)
	var se *startError
	if errors.As(err, &se) {
		return 0, &Error{Kind: KindSpawnFailure, Message: "could not start ffmpeg", ExitCode: -1, Err: se.err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, fmt.Errorf("probe %s: %w", inputPath, ctxErr)
	}

	d, ok := parseSourceDuration(capture.String())
	if !ok {
		r.log.Debug("no duration in ffmpeg banner", "input", inputPath, "stderr", lastLine(capture.String()))
		return 0, fmt.Errorf("probe %s: %w", inputPath, ErrUnknownDuration)
	}
	return d, nil
}

// parseSourceDuration returns the first positive Duration: value.
func parseSourceDuration(banner string) (time.Duration, bool) {
	m := sourceDuration.FindSubmatch([]byte(banner))
	if m == nil {
		return 0, false
	}
	d, ok := clockDuration(m[1:])
	if !ok || d <= 0 {
		return 0, false
	}
	return d, true
}
