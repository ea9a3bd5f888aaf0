// Package queue implements named in-memory priority queues for best-effort
// background work (notifications, cleanup, backups).
//
// Jobs are processed in priority order, highest first, with ties broken by
// insertion order. A failed job is requeued with exponential backoff until
// its attempts are exhausted. Draining a queue is guarded per queue name so
// concurrent drains never double-process.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sitesmith/sitesmith/internal/retry"
	"github.com/sitesmith/sitesmith/pkg/models"
)

// DefaultMaxAttempts applies to jobs enqueued without an explicit budget.
const DefaultMaxAttempts = 3

// Handler processes one job to completion.
type Handler func(ctx context.Context, job *models.QueueJob) error

// ErrUnknownJobType fails a single job whose type has no registered handler.
var ErrUnknownJobType = fmt.Errorf("unknown job type")

// DrainStats summarizes one drain pass over a queue.
type DrainStats struct {
	Processed int
	Completed int
	Failed    int
	Requeued  int
}

type namedQueue struct {
	jobs     []*models.QueueJob
	draining bool
}

// Service holds every named queue and the closed job-type dispatch table.
// Construct one per process and inject it; there is no package-level state.
type Service struct {
	mu       sync.Mutex
	queues   map[string]*namedQueue
	handlers map[models.JobType]Handler
	backoff  retry.Policy
	now      func() time.Time
}

// NewService creates a queue service with the given dispatch table.
func NewService(handlers map[models.JobType]Handler) *Service {
	return &Service{
		queues:   make(map[string]*namedQueue),
		handlers: handlers,
		backoff: retry.Policy{
			MaxAttempts:    DefaultMaxAttempts,
			InitialBackoff: 2 * time.Second,
			Multiplier:     2.0,
			MaxBackoff:     time.Hour,
		},
		now: time.Now,
	}
}

// WithClock overrides the service's time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enqueue adds a job to the named queue. Zero-value ID, timestamps, and
// attempt budget are filled in.
func (s *Service) Enqueue(queueName string, job *models.QueueJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	job.Status = models.JobStatusPending

	q := s.queues[queueName]
	if q == nil {
		q = &namedQueue{}
		s.queues[queueName] = q
	}
	q.jobs = append(q.jobs, job)
}

// Pending returns a snapshot of the jobs currently held in the named queue.
func (s *Service) Pending(queueName string) []models.QueueJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[queueName]
	if q == nil {
		return nil
	}
	out := make([]models.QueueJob, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}
	return out
}

// Drain processes every due pending job in the named queue, then compacts it.
// If another drain of the same queue is in flight, Drain returns immediately
// with zero stats.
func (s *Service) Drain(ctx context.Context, queueName string) DrainStats {
	s.mu.Lock()
	q := s.queues[queueName]
	if q == nil || q.draining {
		s.mu.Unlock()
		return DrainStats{}
	}
	q.draining = true

	now := s.now().UTC()
	batch := make([]*models.QueueJob, 0, len(q.jobs))
	for _, j := range q.jobs {
		if j.Status == models.JobStatusPending && j.Due(now) {
			batch = append(batch, j)
		}
	}
	// Highest priority first; SliceStable keeps insertion order for ties.
	sort.SliceStable(batch, func(i, k int) bool {
		return batch[i].Priority > batch[k].Priority
	})
	s.mu.Unlock()

	var stats DrainStats
	for _, job := range batch {
		stats.Processed++
		switch s.process(ctx, job) {
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusPending:
			stats.Requeued++
		}
	}

	s.mu.Lock()
	s.compact(q)
	q.draining = false
	s.mu.Unlock()

	return stats
}

// process runs a single job and returns its resulting status.
func (s *Service) process(ctx context.Context, job *models.QueueJob) models.JobStatus {
	s.mu.Lock()
	job.Status = models.JobStatusProcessing
	handler, ok := s.handlers[job.Type]
	s.mu.Unlock()

	var err error
	if !ok {
		err = fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type)
	} else {
		err = handler(ctx, job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		job.Status = models.JobStatusCompleted
		job.LastError = ""
		return job.Status
	}

	job.LastError = err.Error()

	// An unrecognized type can never succeed; fail it outright.
	if !ok {
		job.Status = models.JobStatusFailed
		job.Attempts = job.MaxAttempts
		slog.Error("queue job has no handler", "job_id", job.ID, "type", job.Type)
		return job.Status
	}

	job.Attempts++
	if job.Attempts < job.MaxAttempts {
		delay := s.backoff.Backoff(job.Attempts - 1)
		at := s.now().UTC().Add(delay)
		job.ScheduledFor = &at
		job.Status = models.JobStatusPending
		slog.Warn("queue job failed, requeued",
			"job_id", job.ID, "type", job.Type, "attempt", job.Attempts, "retry_in", delay, "error", err)
	} else {
		job.Status = models.JobStatusFailed
		slog.Error("queue job failed permanently",
			"job_id", job.ID, "type", job.Type, "attempts", job.Attempts, "error", err)
	}
	return job.Status
}

// compact drops completed jobs and failed jobs with exhausted retries.
// Caller must hold s.mu.
func (s *Service) compact(q *namedQueue) {
	kept := q.jobs[:0]
	for _, j := range q.jobs {
		if j.Status == models.JobStatusCompleted {
			continue
		}
		if j.Status == models.JobStatusFailed && j.Attempts >= j.MaxAttempts {
			continue
		}
		kept = append(kept, j)
	}
	q.jobs = kept
}
