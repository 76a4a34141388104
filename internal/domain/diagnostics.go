package domain

import "time"

// DiagnosticStatus indicates whether a single startup check passed.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusWarn DiagnosticStatus = "warn"
	DiagnosticStatusFail DiagnosticStatus = "fail"
)

// Diagnostic item identifiers, also accepted by the install/fix action.
const (
	DiagnosticFFmpeg   = "tool_ffmpeg"
	DiagnosticEncoders = "encoders"
)

// DiagnosticItem is one startup check result with optional hint.
type DiagnosticItem struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Status  DiagnosticStatus `json:"status"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
}

// DiagnosticReport aggregates startup checks for UI and API responses.
type DiagnosticReport struct {
	GeneratedAt   time.Time        `json:"generatedAt"`
	HasFailures   bool             `json:"hasFailures"`
	FFmpegPath    string           `json:"ffmpegPath,omitempty"`
	FFmpegVersion string           `json:"ffmpegVersion,omitempty"`
	Items         []DiagnosticItem `json:"items"`
}
