package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"video-encoder/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.Options.Codec != domain.CodecH264 {
		t.Fatalf("codec = %s, want h264", cfg.Options.Codec)
	}
	if cfg.Options.TargetBitrate != "2000" {
		t.Fatalf("bitrate = %q, want 2000", cfg.Options.TargetBitrate)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q, want info", cfg.LogLevel)
	}
	if filepath.Base(DefaultPath()) != "settings.yaml" {
		t.Fatalf("unexpected default path %q", DefaultPath())
	}
}

// TestYAMLStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestYAMLStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.yaml")
	store := NewYAMLStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, DefaultSettings()) {
		t.Fatalf("Load() = %+v, want defaults", got)
	}
}

// TestYAMLStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestYAMLStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.yaml")
	store := NewYAMLStore(path)
	want := domain.Settings{
		FFmpegPath: "/opt/homebrew/bin/ffmpeg",
		Options: domain.EncodingOptions{
			Codec:         domain.CodecH265,
			Preset:        domain.PresetSlow,
			FrameRate:     30,
			Speed:         1.5,
			TargetBitrate: "4500",
			Crop:          &domain.Crop{Width: 1280, Height: 720, Y: 180},
			CustomArgs:    "-movflags +faststart",
		},
		LogLevel: "debug",
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	for _, line := range []string{"codec: h265", "preset: slow"} {
		if !strings.Contains(string(data), line) {
			t.Fatalf("saved file missing %q:\n%s", line, data)
		}
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
}

// TestYAMLStoreLoadPartialFile checks missing keys fall back to defaults.
func TestYAMLStoreLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("options:\n  codec: av1\n  target_bitrate: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NewYAMLStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	opts := got.Options
	if opts.Codec != domain.CodecAV1 {
		t.Fatalf("codec = %s, want av1", opts.Codec)
	}
	if opts.Speed != 1 || opts.TargetBitrate != "2000" || opts.Preset != domain.PresetMedium {
		t.Fatalf("defaults not applied: %+v", opts)
	}
}

// TestYAMLStoreLoadInvalidYAML checks parse error handling.
func TestYAMLStoreLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("options: [not: a map"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := NewYAMLStore(path).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestYAMLStoreRejectsUnknownCodec checks enum values are validated on load.
func TestYAMLStoreRejectsUnknownCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("options:\n  codec: mpeg2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := NewYAMLStore(path).Load(); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

// TestNormalize checks unusable values are replaced.
func TestNormalize(t *testing.T) {
	got := Normalize(domain.Settings{
		FFmpegPath: "  /usr/bin/ffmpeg \n",
		Options: domain.EncodingOptions{
			Codec:         99,
			Preset:        -1,
			FrameRate:     -5,
			Speed:         -2,
			TargetBitrate: "fast",
			Crop:          &domain.Crop{},
		},
		LogLevel: "LOUD",
	})

	if got.FFmpegPath != "/usr/bin/ffmpeg" {
		t.Fatalf("ffmpeg path = %q", got.FFmpegPath)
	}
	if !reflect.DeepEqual(got.Options, domain.DefaultOptions()) {
		t.Fatalf("options = %+v, want defaults", got.Options)
	}
	if got.LogLevel != "info" {
		t.Fatalf("log level = %q, want info", got.LogLevel)
	}
}
