package domain

import "time"

// JobStatus tracks the lifecycle of a single encoding job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// UnknownSize marks an output size that could not be probed.
const UnknownSize int64 = -1

// Settings contains user-selectable runtime configuration.
type Settings struct {
	FFmpegPath string          `json:"ffmpegPath" yaml:"ffmpeg_path,omitempty"`
	Options    EncodingOptions `json:"options" yaml:"options"`
	LogLevel   string          `json:"logLevel" yaml:"log_level,omitempty"`
}

// Job stores the current job identity, lifecycle status and outcome.
type Job struct {
	ID         string    `json:"id"`
	InputPath  string    `json:"inputPath"`
	OutputPath string    `json:"outputPath"`
	Status     JobStatus `json:"status"`
	Progress   float64   `json:"progress"`
	Error      string    `json:"error,omitempty"`
	ExitCode   int       `json:"exitCode,omitempty"`
	OutputSize int64     `json:"outputSize"`
	Args       []string  `json:"args,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}
