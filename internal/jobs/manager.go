package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"video-encoder/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when cancel is requested for idle state.
var ErrNoRunningJob = errors.New("no running job")

// errStaleJob is returned when an update targets a job that is no longer running.
var errStaleJob = errors.New("job is no longer running")

// Outcome is the terminal result applied to a running job.
type Outcome struct {
	Status     domain.JobStatus
	Error      string
	ExitCode   int
	OutputSize int64
}

// Manager tracks the single allowed active job and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
	now     func() time.Time
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{
			Status: domain.JobStatusIdle,
		},
		now: time.Now,
	}
}

// Start records job as the running job.
func (m *Manager) Start(job domain.Job) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status == domain.JobStatusRunning {
		return domain.Job{}, ErrJobAlreadyRunning
	}
	if job.ID == "" {
		return domain.Job{}, fmt.Errorf("cannot start a job without an id")
	}
	if !isValidTransition(m.current.Status, domain.JobStatusRunning) {
		return domain.Job{}, fmt.Errorf("invalid transition: %s -> %s", m.current.Status, domain.JobStatusRunning)
	}

	job.Status = domain.JobStatusRunning
	job.Progress = 0
	job.Error = ""
	job.ExitCode = 0
	job.OutputSize = 0
	job.StartedAt = m.now().UTC()
	job.FinishedAt = time.Time{}
	job.Args = append([]string(nil), job.Args...)
	m.current = job
	return snapshot(m.current), nil
}

// SetProgress updates progress of the running job id. Progress never moves
// backwards.
func (m *Manager) SetProgress(id string, progress float64) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.owns(id) {
		return domain.Job{}, errStaleJob
	}
	if progress > m.current.Progress {
		m.current.Progress = min(progress, 1)
	}
	return snapshot(m.current), nil
}

// Finish applies a terminal outcome to job id. It fails when the job was
// cancelled or replaced in the meantime, so late results are dropped.
func (m *Manager) Finish(id string, outcome Outcome) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.owns(id) {
		return domain.Job{}, errStaleJob
	}
	if !isValidTransition(m.current.Status, outcome.Status) || outcome.Status == domain.JobStatusIdle {
		return domain.Job{}, fmt.Errorf("invalid transition: %s -> %s", m.current.Status, outcome.Status)
	}

	m.current.Status = outcome.Status
	m.current.Error = outcome.Error
	m.current.ExitCode = outcome.ExitCode
	m.current.OutputSize = outcome.OutputSize
	m.current.FinishedAt = m.now().UTC()
	if outcome.Status == domain.JobStatusCompleted {
		m.current.Progress = 1
	}
	return snapshot(m.current), nil
}

// Cancel moves the running job back to idle and returns its final snapshot.
func (m *Manager) Cancel() (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status != domain.JobStatusRunning {
		return domain.Job{}, ErrNoRunningJob
	}
	m.current.Status = domain.JobStatusIdle
	m.current.FinishedAt = m.now().UTC()
	return snapshot(m.current), nil
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot(m.current)
}

// Reset clears job metadata and returns manager to idle, reporting the job
// it replaced. A running job is left untouched.
func (m *Manager) Reset() (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Status == domain.JobStatusRunning {
		return domain.Job{}, ErrJobAlreadyRunning
	}
	previous := snapshot(m.current)
	m.current = domain.Job{Status: domain.JobStatusIdle}
	return previous, nil
}

// IsRunning reports whether a job is running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Status == domain.JobStatusRunning
}

func (m *Manager) owns(id string) bool {
	return id != "" && m.current.ID == id && m.current.Status == domain.JobStatusRunning
}

func snapshot(job domain.Job) domain.Job {
	job.Args = append([]string(nil), job.Args...)
	return job
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusRunning
	case domain.JobStatusRunning:
		return to == domain.JobStatusCompleted || to == domain.JobStatusFailed || to == domain.JobStatusIdle
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		return to == domain.JobStatusRunning || to == domain.JobStatusIdle
	default:
		return false
	}
}
