package encode

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"video-encoder/internal/domain"
)

// Estimate predicts the output size in bytes for a constant bitrate encode of
// durationSeconds of source played back at speed. It reports false when the
// size cannot be estimated, never a zero guess.
func Estimate(durationSeconds float64, bitrate string, speed float64) (int64, bool) {
	if !(durationSeconds > 0) || math.IsInf(durationSeconds, 0) {
		return 0, false
	}
	if !domain.Speed(speed).Valid() {
		return 0, false
	}
	kbps, ok := domain.ParseBitrate(bitrate)
	if !ok {
		return 0, false
	}
	bytes := float64(kbps) * 1000 * (durationSeconds / speed) / 8
	return int64(math.Round(bytes)), true
}

// EstimateLabel formats Estimate for display, "" when unknown.
func EstimateLabel(durationSeconds float64, opts domain.EncodingOptions) string {
	n, ok := Estimate(durationSeconds, opts.TargetBitrate, float64(opts.Speed))
	if !ok {
		return ""
	}
	return humanize.Bytes(uint64(n))
}

// RemainingEstimate extrapolates time left from elapsed time and progress.
// It returns false until progress is meaningful.
func RemainingEstimate(elapsed time.Duration, progress float64) (time.Duration, bool) {
	if progress <= 0.01 || progress >= 1 || elapsed <= 0 {
		return 0, false
	}
	total := time.Duration(float64(elapsed) / progress)
	return (total - elapsed).Round(time.Second), true
}
