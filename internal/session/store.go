// Package session provides durable, keyed persistence for workflow sessions
// with a retention TTL and append-only per-session logs.
//
// The store is the single synchronization point between concurrently running
// workflows. The deployment topology assumes one logical writer per session
// ID; writes are read-modify-write with last-write-wins semantics.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/sitesmith/sitesmith/pkg/models"
)

var (
	// ErrNotFound is returned when a session does not exist. Put fails with
	// it loudly rather than silently dropping, to surface orchestration bugs.
	ErrNotFound = errors.New("session not found")

	// ErrSessionExists is returned by Create when the ID is already taken.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionFinalized is returned by Put when the stored session already
	// reached a terminal status; only log appends are permitted after that.
	ErrSessionFinalized = errors.New("session is in a terminal state")
)

// Retention windows. Ephemeral change-request sessions expire quickly;
// provisioning sessions are kept for audit.
const (
	EphemeralTTL = time.Hour
	RetentionTTL = 30 * 24 * time.Hour
)

// TTLFor returns the retention window for a session of the given type.
func TTLFor(t models.SessionType) time.Duration {
	if t == models.SessionTypeChangeRequest {
		return EphemeralTTL
	}
	return RetentionTTL
}

// Store is the session persistence contract. All operations are idempotent
// under retry except AppendLog, which is at-least-once (duplicate log lines
// are acceptable).
type Store interface {
	// Create persists a new session with its retention TTL.
	Create(ctx context.Context, s *models.Session) error

	// Get returns the session, with LogCount reflecting stored log entries.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Put overwrites an existing session (last-write-wins). It fails with
	// ErrNotFound when the session does not exist and ErrSessionFinalized
	// when the stored session is already terminal.
	Put(ctx context.Context, s *models.Session) error

	// AppendLog records one log entry. Appending to a missing session is a
	// no-op: logging must never crash the workflow.
	AppendLog(ctx context.Context, id string, entry models.LogEntry) error

	// Logs returns the session's append-only log, oldest first.
	Logs(ctx context.Context, id string) ([]models.LogEntry, error)

	// ListByStatus returns all live sessions with the given status.
	ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error)

	// ListAll returns all live sessions. Used by cleanup sweeps.
	ListAll(ctx context.Context) ([]*models.Session, error)

	// Delete removes the session and its logs.
	Delete(ctx context.Context, id string) error
}
