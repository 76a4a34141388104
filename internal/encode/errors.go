package encode

import (
	"fmt"
)

// ErrorKind classifies why an encode did not produce output.
type ErrorKind string

const (
	// KindInvalidOptions means the options were rejected before any process ran.
	KindInvalidOptions ErrorKind = "invalid_options"
	// KindSpawnFailure means the OS could not start ffmpeg.
	KindSpawnFailure ErrorKind = "spawn_failure"
	// KindNonZeroExit means ffmpeg ran and exited with a non-zero status.
	KindNonZeroExit ErrorKind = "non_zero_exit"
)

// Error is a kind-aware encode failure with optional process context.
type Error struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	ExitCode int       `json:"exitCode,omitempty"`
	Stderr   string    `json:"stderr,omitempty"`
	Err      error     `json:"-"`
}

// Error formats encode failures for logs and UI.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("%s: %s (exit=%d)", e.Kind, e.Message, e.ExitCode)
	case KindSpawnFailure:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
		}
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Diagnostic returns the text worth showing to a user: captured stderr when
// ffmpeg ran, the OS error otherwise.
func (e *Error) Diagnostic() string {
	if e == nil {
		return ""
	}
	if e.Stderr != "" {
		return e.Stderr
	}
	return e.Error()
}

func invalidOptions(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidOptions, Message: fmt.Sprintf(format, args...)}
}
