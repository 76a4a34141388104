package encode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"video-encoder/internal/domain"
)

// interruptGrace is how long ffmpeg gets to finish after an interrupt before
// it is killed.
const interruptGrace = 5 * time.Second

// Request describes one encode.
type Request struct {
	Command    CommandLine
	OutputPath string
	// SourceDuration and Speed drive progress reporting; zero disables it.
	SourceDuration time.Duration
	Speed          float64
	OnProgress     func(progress float64)
}

// Result describes a completed encode.
type Result struct {
	OutputPath string
	OutputSize int64
	Stderr     string
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	ExitCode int
}

// startError marks failures that happened before the process was running.
type startError struct {
	err error
}

func (e *startError) Error() string { return e.err.Error() }
func (e *startError) Unwrap() error { return e.err }

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run starts one command, streams stderr into the given writer and waits for
// it to exit. Cancelling ctx interrupts the process, then kills it after a
// grace period.
func (r *execRunner) Run(ctx context.Context, name string, args []string, stderr io.Writer) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return interruptProcess(cmd.Process)
	}
	cmd.WaitDelay = interruptGrace

	if err := cmd.Start(); err != nil {
		return commandResult{ExitCode: -1}, &startError{err: err}
	}

	err := cmd.Wait()
	result := commandResult{Stdout: stdout.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Runner executes built command lines and classifies their outcome.
type Runner struct {
	log    hclog.Logger
	runner commandRunner
	stat   func(name string) (os.FileInfo, error)
}

// NewRunner constructs the production runner.
func NewRunner(log hclog.Logger) *Runner {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Runner{
		log:    log.Named("encode"),
		runner: &execRunner{},
		stat:   os.Stat,
	}
}

// NewRunnerForTests constructs a runner with injectable dependencies. A nil
// runner executes real processes.
func NewRunnerForTests(runner commandRunner, stat func(name string) (os.FileInfo, error)) *Runner {
	if runner == nil {
		runner = &execRunner{}
	}
	if stat == nil {
		stat = os.Stat
	}
	return &Runner{log: hclog.NewNullLogger(), runner: runner, stat: stat}
}

// Run executes req and blocks until ffmpeg exits. A cancelled ctx yields an
// error wrapping context.Canceled whatever the process exit status was.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Command.Executable == "" {
		return Result{}, invalidOptions("command line has no executable")
	}

	capture := newStderrCapture(expectedOutput(req.SourceDuration, req.Speed), req.OnProgress)
	r.log.Info("starting ffmpeg", "command", req.Command.String())
	started := time.Now()

	cmdResult, runErr := r.runner.Run(ctx, req.Command.Executable, req.Command.Args, capture)
	stderr := capture.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.log.Info("ffmpeg cancelled", "elapsed", time.Since(started).Round(time.Millisecond))
		return Result{}, fmt.Errorf("encode cancelled: %w", ctxErr)
	}

	var se *startError
	if errors.As(runErr, &se) {
		r.log.Error("ffmpeg could not start", "executable", req.Command.Executable, "error", se.err)
		return Result{}, &Error{
			Kind:     KindSpawnFailure,
			Message:  "could not start ffmpeg",
			ExitCode: -1,
			Err:      se.err,
		}
	}

	if runErr != nil || cmdResult.ExitCode != 0 {
		r.log.Error("ffmpeg failed", "exit_code", cmdResult.ExitCode, "stderr", lastLine(stderr))
		return Result{}, &Error{
			Kind:     KindNonZeroExit,
			Message:  "ffmpeg exited with an error",
			ExitCode: cmdResult.ExitCode,
			Stderr:   stderr,
			Err:      runErr,
		}
	}

	size := domain.UnknownSize
	if info, err := r.stat(req.OutputPath); err == nil {
		size = info.Size()
	} else {
		r.log.Warn("could not probe output size", "path", req.OutputPath, "error", err)
	}

	r.log.Info("ffmpeg completed", "output", req.OutputPath, "size", size, "elapsed", time.Since(started).Round(time.Millisecond))
	return Result{
		OutputPath: req.OutputPath,
		OutputSize: size,
		Stderr:     stderr,
	}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
