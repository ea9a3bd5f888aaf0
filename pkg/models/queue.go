package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a background queue job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobType identifies the handler for a queue job. The set is closed: an
// unknown type fails that job without blocking the rest of a drain.
type JobType string

const (
	JobTypeNotify  JobType = "notify"
	JobTypeCleanup JobType = "cleanup"
	JobTypeBackup  JobType = "backup"
)

// QueueJob is one unit of best-effort background work (notifications,
// cleanup, backups). Jobs are processed in priority order, highest first,
// ties broken by insertion order.
type QueueJob struct {
	ID           uuid.UUID         `json:"id"`
	Type         JobType           `json:"type"`
	Payload      map[string]string `json:"payload,omitempty"`
	Priority     int               `json:"priority"`
	CreatedAt    time.Time         `json:"created_at"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"max_attempts"`
	Status       JobStatus         `json:"status"`
	LastError    string            `json:"last_error,omitempty"`
}

// Due reports whether the job is eligible for processing at now.
func (j *QueueJob) Due(now time.Time) bool {
	return j.ScheduledFor == nil || !j.ScheduledFor.After(now)
}
