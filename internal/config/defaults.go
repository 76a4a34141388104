package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"video-encoder/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		Options:  domain.DefaultOptions(),
		LogLevel: hclog.Info.String(),
	}
}

// DefaultPath returns the settings file location under the user's home.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".video-encoder", "settings.yaml")
}

// Normalize fills missing or unusable values with defaults so a partially
// written file still loads into runnable settings.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	settings.FFmpegPath = strings.TrimSpace(settings.FFmpegPath)
	if !settings.Options.Codec.Valid() {
		settings.Options.Codec = defaults.Options.Codec
	}
	if !settings.Options.Preset.Valid() {
		settings.Options.Preset = defaults.Options.Preset
	}
	if settings.Options.FrameRate < 0 {
		settings.Options.FrameRate = domain.FrameRateKeep
	}
	if !settings.Options.Speed.Valid() {
		settings.Options.Speed = defaults.Options.Speed
	}
	if _, ok := domain.ParseBitrate(settings.Options.TargetBitrate); !ok {
		settings.Options.TargetBitrate = defaults.Options.TargetBitrate
	}
	if settings.Options.Crop != nil && settings.Options.Crop.Validate() != nil {
		settings.Options.Crop = nil
	}
	if hclog.LevelFromString(settings.LogLevel) == hclog.NoLevel {
		settings.LogLevel = defaults.LogLevel
	}
	settings.LogLevel = strings.ToLower(settings.LogLevel)
	return settings
}
