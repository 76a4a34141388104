package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"video-encoder/internal/domain"
	"video-encoder/internal/encode"
	"video-encoder/internal/locator"
)

// drainTimeout bounds how long Start waits for a cancelled job's process to
// exit. It is longer than the process layer's interrupt grace period.
const drainTimeout = 7 * time.Second

// Encoder runs one built command line to completion.
type Encoder interface {
	Run(ctx context.Context, req encode.Request) (encode.Result, error)
}

// Runner owns the asynchronous lifecycle of encoding jobs: one at a time,
// cancellable, with progress and exactly one terminal status event per job.
//
// Event subscribers are called while the runner serializes job updates and
// must not call Start or Cancel synchronously.
type Runner struct {
	log     hclog.Logger
	manager *Manager
	events  *EventBus
	encoder Encoder
	stat    func(name string) (os.FileInfo, error)
	newID   func() string
	now     func() time.Time

	// emitMu keeps manager updates and their events in the same order.
	emitMu sync.Mutex

	mu           sync.Mutex
	active       map[string]*activeJob
	drainTimeout time.Duration
	wg           sync.WaitGroup
}

// activeJob tracks a job goroutine until its process has exited, which can
// outlive the job's running state after a cancel.
type activeJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner constructs the production job runner around encoder.
func NewRunner(log hclog.Logger, encoder Encoder) *Runner {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Runner{
		log:     log.Named("jobs"),
		manager: NewManager(),
		events:  NewEventBus(1000),
		encoder: encoder,
		stat:    os.Stat,
		newID:   uuid.NewString,
		now:     time.Now,

		active:       make(map[string]*activeJob),
		drainTimeout: drainTimeout,
	}
}

// NewRunnerForTests constructs a runner with injectable dependencies.
func NewRunnerForTests(encoder Encoder, stat func(name string) (os.FileInfo, error), newID func() string) *Runner {
	r := NewRunner(nil, encoder)
	if stat != nil {
		r.stat = stat
	}
	if newID != nil {
		r.newID = newID
	}
	return r
}

// Manager exposes the job state machine.
func (r *Runner) Manager() *Manager {
	return r.manager
}

// Events exposes the job event bus.
func (r *Runner) Events() *EventBus {
	return r.events
}

// Current returns a snapshot of the current job.
func (r *Runner) Current() domain.Job {
	return r.manager.Current()
}

// Start validates opts, builds the ffmpeg command and runs it in the
// background. Invalid options fail here and never reach the process layer.
// sourceDuration enables progress reporting; zero means unknown.
//
// After a cancel, Start waits for the previous process to exit so two
// encoders never write the same output. It gives up with
// ErrJobAlreadyRunning when that takes longer than the drain timeout.
func (r *Runner) Start(exe locator.Executable, inputPath string, opts domain.EncodingOptions, sourceDuration time.Duration) (domain.Job, error) {
	if r.manager.IsRunning() {
		return domain.Job{}, ErrJobAlreadyRunning
	}
	if err := r.awaitDrained(); err != nil {
		return domain.Job{}, err
	}

	opts = opts.Clone()
	outputPath := encode.OutputPath(inputPath)
	cmd, err := encode.Build(exe, inputPath, outputPath, opts)
	if err != nil {
		return domain.Job{}, err
	}
	info, err := r.stat(inputPath)
	if err != nil {
		return domain.Job{}, fmt.Errorf("input file: %w", err)
	}
	if info.IsDir() {
		return domain.Job{}, fmt.Errorf("input file: %s is a directory", inputPath)
	}

	r.emitMu.Lock()
	if r.draining() {
		r.emitMu.Unlock()
		return domain.Job{}, ErrJobAlreadyRunning
	}
	job, err := r.manager.Start(domain.Job{
		ID:         r.newID(),
		InputPath:  inputPath,
		OutputPath: outputPath,
		Args:       cmd.Args,
	})
	if err != nil {
		r.emitMu.Unlock()
		return domain.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	active := &activeJob{cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	r.active[job.ID] = active
	r.mu.Unlock()

	r.log.Info("job started", "job_id", job.ID, "input", inputPath, "output", outputPath)
	r.events.Publish(Event{
		JobID:      job.ID,
		Type:       EventTypeStatus,
		Status:     domain.JobStatusRunning,
		Message:    "Encoding started",
		Command:    cmd.String(),
		Args:       job.Args,
		OutputPath: outputPath,
	})
	r.emitMu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, job, active, encode.Request{
		Command:        cmd,
		OutputPath:     outputPath,
		SourceDuration: sourceDuration,
		Speed:          float64(opts.Speed),
	})
	return job, nil
}

// Cancel stops the running job. The job returns to idle immediately; its
// process is interrupted in the background and any late result is dropped.
func (r *Runner) Cancel() error {
	r.emitMu.Lock()
	job, err := r.manager.Cancel()
	if err != nil {
		r.emitMu.Unlock()
		return err
	}
	r.log.Info("job cancelled", "job_id", job.ID)
	r.events.Publish(Event{
		JobID:      job.ID,
		Type:       EventTypeStatus,
		Status:     domain.JobStatusIdle,
		Progress:   job.Progress,
		Message:    "Encoding cancelled",
		OutputPath: job.OutputPath,
	})
	r.emitMu.Unlock()

	r.mu.Lock()
	active := r.active[job.ID]
	r.mu.Unlock()
	if active != nil {
		active.cancel()
	}
	return nil
}

// Reset clears a finished or cancelled job so a new one can be set up from
// scratch. It publishes a reset event for the cleared job.
func (r *Runner) Reset() error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	previous, err := r.manager.Reset()
	if err != nil {
		return err
	}
	if previous.ID == "" {
		return nil
	}
	r.log.Debug("job cleared", "job_id", previous.ID, "status", previous.Status)
	r.events.Publish(Event{
		JobID:   previous.ID,
		Type:    EventTypeReset,
		Status:  domain.JobStatusIdle,
		Message: "Ready",
	})
	return nil
}

// Wait blocks until every started job goroutine has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// awaitDrained waits for the processes of cancelled jobs to exit.
func (r *Runner) awaitDrained() error {
	r.mu.Lock()
	pending := make([]chan struct{}, 0, len(r.active))
	for _, active := range r.active {
		pending = append(pending, active.done)
	}
	r.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	r.log.Debug("waiting for previous encoder to exit", "jobs", len(pending))
	timer := time.NewTimer(r.drainTimeout)
	defer timer.Stop()
	for _, done := range pending {
		select {
		case <-done:
		case <-timer.C:
			r.log.Warn("previous encoder still running", "timeout", r.drainTimeout)
			return ErrJobAlreadyRunning
		}
	}
	return nil
}

func (r *Runner) draining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active) > 0
}

// run executes one job and applies its terminal outcome.
func (r *Runner) run(ctx context.Context, job domain.Job, active *activeJob, req encode.Request) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.active, job.ID)
		r.mu.Unlock()
		active.cancel()
		close(active.done)
	}()

	started := r.now()
	req.OnProgress = func(progress float64) {
		r.reportProgress(job.ID, started, progress)
	}

	result, err := r.encoder.Run(ctx, req)
	switch {
	case err == nil:
		r.finish(job.ID, Outcome{
			Status:     domain.JobStatusCompleted,
			OutputSize: result.OutputSize,
		}, Event{
			Message:    "Encoding completed",
			OutputPath: result.OutputPath,
			OutputSize: result.OutputSize,
		})
	case errors.Is(err, context.Canceled):
		r.log.Debug("job process stopped after cancel", "job_id", job.ID)
	default:
		outcome := Outcome{Status: domain.JobStatusFailed, Error: err.Error(), ExitCode: -1}
		event := Event{Message: err.Error(), OutputPath: req.OutputPath}
		var encErr *encode.Error
		if errors.As(err, &encErr) {
			outcome.Error = encErr.Diagnostic()
			outcome.ExitCode = encErr.ExitCode
			event.Stderr = encErr.Diagnostic()
		}
		event.ExitCode = outcome.ExitCode
		r.finish(job.ID, outcome, event)
	}
}

// finish applies outcome and publishes the terminal status event, unless the
// job was cancelled first.
func (r *Runner) finish(id string, outcome Outcome, event Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	job, err := r.manager.Finish(id, outcome)
	if err != nil {
		r.log.Debug("dropping late job result", "job_id", id, "status", outcome.Status, "error", err)
		return
	}

	if outcome.Status == domain.JobStatusFailed {
		r.log.Error("job failed", "job_id", id, "exit_code", outcome.ExitCode, "error", event.Message)
	} else {
		r.log.Info("job completed", "job_id", id, "output", event.OutputPath, "size", outcome.OutputSize)
	}

	event.JobID = id
	event.Type = EventTypeStatus
	event.Status = job.Status
	event.Progress = job.Progress
	event.Args = job.Args
	r.events.Publish(event)
}

// reportProgress records progress and publishes it with a remaining-time hint.
func (r *Runner) reportProgress(id string, started time.Time, progress float64) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	job, err := r.manager.SetProgress(id, progress)
	if err != nil {
		return
	}
	event := Event{
		JobID:    id,
		Type:     EventTypeProgress,
		Status:   job.Status,
		Progress: job.Progress,
	}
	if left, ok := encode.RemainingEstimate(r.now().Sub(started), job.Progress); ok {
		event.Remaining = remainingLabel(left)
	}
	r.events.Publish(event)
}

func remainingLabel(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs == 1 {
		return "~1 second remaining"
	}
	return fmt.Sprintf("~%d seconds remaining", secs)
}
