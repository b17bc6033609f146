// Package upload runs outbound submissions in the background so a page can
// return immediately and show its in-flight indicator.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status represents the processing status of a job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Job is one background submission.
type Job struct {
	ID          string     `json:"id" msgpack:"id"`
	Kind        string     `json:"kind" msgpack:"kind"`
	SessionID   string     `json:"-" msgpack:"-"`
	Status      Status     `json:"status" msgpack:"status"`
	Error       string     `json:"error,omitempty" msgpack:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" msgpack:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty" msgpack:"completedAt,omitempty"`
}

// Manager handles background submissions.
type Manager struct {
	jobs    map[string]*Job
	mu      sync.RWMutex
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *zap.Logger
}

// NewManager creates a job manager. Each job gets a context bounded by
// timeout; timeout <= 0 means no deadline.
func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		jobs:    make(map[string]*Job),
		timeout: timeout,
		logger:  logger.Named("jobs"),
	}
}

// StartJob runs fn in the background. The job is not tied to the HTTP
// request that started it and cannot be cancelled by the user.
func (m *Manager) StartJob(kind, sessionID string, fn func(ctx context.Context)) *Job {
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		SessionID: sessionID,
		Status:    StatusProcessing,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	started := *job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.processJob(job, fn)

	return &started
}

// GetJob retrieves a copy of a job by ID.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// Wait blocks until every started job has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) processJob(job *Job, fn func(ctx context.Context)) {
	defer m.wg.Done()

	ctx := context.Background()
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	logger := m.logger.With(zap.String("job", job.ID[:8]), zap.String("kind", job.Kind))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r))
			m.markJobError(job, fmt.Sprintf("panic: %v", r))
		}
	}()

	logger.Debug("job started")
	fn(ctx)
	m.markJobComplete(job)
	logger.Debug("job finished", zap.Duration("elapsed", time.Since(start)))
}

// markJobComplete marks job as complete (thread-safe).
func (m *Manager) markJobComplete(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusComplete
	now := time.Now()
	job.CompletedAt = &now
}

// markJobError marks job as failed (thread-safe).
func (m *Manager) markJobError(job *Job, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusError
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now
}

// CleanupOldJobs removes finished jobs older than the specified duration.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Status == StatusComplete || job.Status == StatusError {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(m.jobs, id)
			}
		}
	}
}
