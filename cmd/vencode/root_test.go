package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-encoder/internal/domain"
)

func TestApplyFlagsOverridesSavedOptions(t *testing.T) {
	saved := domain.DefaultOptions()
	opts, err := applyFlags(saved, &encodeFlags{
		codec:   "hevc",
		preset:  "slow",
		fps:     "30",
		speed:   "1.5x",
		bitrate: "4500k",
		crop:    "640:360:0:0",
		args:    "-an",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.CodecH265, opts.Codec)
	assert.Equal(t, domain.PresetSlow, opts.Preset)
	assert.Equal(t, domain.FrameRate(30), opts.FrameRate)
	assert.Equal(t, domain.Speed(1.5), opts.Speed)
	assert.Equal(t, "4500", opts.TargetBitrate)
	require.NotNil(t, opts.Crop)
	assert.Equal(t, domain.Crop{Width: 640, Height: 360}, *opts.Crop)
	assert.Equal(t, "-an", opts.CustomArgs)

	assert.Nil(t, saved.Crop, "saved options must not be mutated")
	assert.Equal(t, domain.CodecH264, saved.Codec)
}

func TestApplyFlagsKeepsUnsetValues(t *testing.T) {
	saved := domain.DefaultOptions()
	saved.Preset = domain.PresetFast

	opts, err := applyFlags(saved, &encodeFlags{})
	require.NoError(t, err)
	assert.Equal(t, saved, opts)
}

func TestApplyFlagsRejectsInvalidValues(t *testing.T) {
	tests := map[string]encodeFlags{
		"codec":  {codec: "mpeg2"},
		"preset": {preset: "warp"},
		"fps":    {fps: "fast"},
		"speed":  {speed: "0"},
		"crop":   {crop: "640x360"},
	}
	for name, flags := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := applyFlags(domain.DefaultOptions(), &flags)
			assert.Error(t, err)
		})
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	cause := errors.New("ffmpeg exited with status 2")
	err := error(&exitError{code: 2, err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause.Error(), err.Error())

	var exitErr *exitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.code)
}

func TestDryRunPrintsCommand(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeFakeFFmpeg(t, dir)
	input := filepath.Join(dir, "clip.mov")

	stdout, _, err := execute(t,
		"--dry-run",
		"--ffmpeg", ffmpeg,
		"--config", filepath.Join(dir, "settings.yaml"),
		"--preset", "fast",
		input,
	)
	require.NoError(t, err)

	line := stdout.String()
	assert.Contains(t, line, ffmpeg)
	assert.Contains(t, line, "-c:v libx264")
	assert.Contains(t, line, "-preset fast")
	assert.Contains(t, line, filepath.Join(dir, "clip_encoded.mp4"))
	assert.NoFileExists(t, filepath.Join(dir, "clip_encoded.mp4"))
}

func TestEncodeWritesOutput(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeFakeFFmpeg(t, dir)
	input := filepath.Join(dir, "clip.mov")
	require.NoError(t, os.WriteFile(input, []byte("source"), 0o644))

	stdout, _, err := execute(t,
		"--ffmpeg", ffmpeg,
		"--config", filepath.Join(dir, "settings.yaml"),
		"--duration", "4s",
		input,
	)
	require.NoError(t, err)

	output := filepath.Join(dir, "clip_encoded.mp4")
	assert.FileExists(t, output)
	assert.Contains(t, stdout.String(), output)
	assert.Contains(t, stdout.String(), "(4 B)")
}

func TestEncodeReportsFFmpegExitCode(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeScript(t, dir, "ffmpeg", `case "$1" in
-version) echo "ffmpeg version 6.1-test"; exit 0 ;;
esac
echo "Unknown encoder 'libx264'" >&2
exit 3
`)
	input := filepath.Join(dir, "clip.mov")
	require.NoError(t, os.WriteFile(input, []byte("source"), 0o644))

	_, stderr, err := execute(t,
		"--ffmpeg", ffmpeg,
		"--config", filepath.Join(dir, "settings.yaml"),
		"--duration", "4s",
		input,
	)
	require.Error(t, err)

	var exitErr *exitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.code)
	assert.Contains(t, stderr.String(), "Unknown encoder 'libx264'")
}

func TestMissingFFmpegSuggestsInstall(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATH", dir)

	_, _, err := execute(t,
		"--dry-run",
		"--ffmpeg", filepath.Join(dir, "nope"),
		"--config", filepath.Join(dir, "settings.yaml"),
		filepath.Join(dir, "clip.mov"),
	)
	if err == nil {
		t.Skip("ffmpeg is installed in a system location")
	}
	assert.Contains(t, err.Error(), "--ffmpeg")
}

func TestLogLevelFallsBackToSettings(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeFakeFFmpeg(t, dir)
	config := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(config, []byte("log_level: info\n"), 0o644))
	input := filepath.Join(dir, "clip.mov")

	_, stderr, err := execute(t, "--dry-run", "--ffmpeg", ffmpeg, "--config", config, input)
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "ffmpeg resolved")

	_, stderr, err = execute(t, "--dry-run", "--ffmpeg", ffmpeg, "--config", config, "--log-level", "error", input)
	require.NoError(t, err)
	assert.NotContains(t, stderr.String(), "ffmpeg resolved")
}

func execute(t *testing.T, args ...string) (*bytes.Buffer, *bytes.Buffer, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return &stdout, &stderr, err
}

// writeFakeFFmpeg answers -version and writes "data" to the last argument.
func writeFakeFFmpeg(t *testing.T, dir string) string {
	return writeScript(t, dir, "ffmpeg", `case "$1" in
-version) echo "ffmpeg version 6.1-test"; exit 0 ;;
esac
for last; do :; done
printf 'data' > "$last"
`)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}
