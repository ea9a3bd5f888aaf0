// Package models contains shared data models used across the sitesmith codebase.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SessionType fixes which optional Session fields are meaningful.
type SessionType string

const (
	SessionTypeInit          SessionType = "INIT"
	SessionTypeDeployment    SessionType = "DEPLOYMENT"
	SessionTypeDevelopment   SessionType = "DEVELOPMENT"
	SessionTypeChangeRequest SessionType = "CHANGE_REQUEST"
	SessionTypeTest          SessionType = "TEST"
)

// SessionStatus is one state of the session state machine. Transitions are
// valid only forward along the pipeline ordering, or directly to failed or
// cancelled from any non-terminal state.
type SessionStatus string

const (
	StatusPending         SessionStatus = "pending"
	StatusInitializing    SessionStatus = "initializing"
	StatusPreparing       SessionStatus = "preparing"
	StatusSandboxCreating SessionStatus = "sandbox_creating"
	StatusGenerating      SessionStatus = "generating"
	StatusAIProcessing    SessionStatus = "ai_processing"
	StatusCommitting      SessionStatus = "committing"
	StatusSettingUpInfra  SessionStatus = "setting_up_infrastructure"
	StatusDeploying       SessionStatus = "deploying"
	StatusDeployed        SessionStatus = "deployed"
	StatusCompleted       SessionStatus = "completed"
	StatusFailed          SessionStatus = "failed"
	StatusCancelled       SessionStatus = "cancelled"
)

// statusRank orders statuses along the pipeline. Statuses sharing a rank are
// alternates for the same pipeline position (e.g. generating/ai_processing).
var statusRank = map[SessionStatus]int{
	StatusPending:         0,
	StatusInitializing:    1,
	StatusPreparing:       2,
	StatusSandboxCreating: 2,
	StatusGenerating:      3,
	StatusAIProcessing:    3,
	StatusCommitting:      4,
	StatusSettingUpInfra:  5,
	StatusDeploying:       6,
	StatusDeployed:        7,
	StatusCompleted:       8,
}

// IsTerminal reports whether no further status transitions are permitted.
// deployed is a soft terminal: deployment succeeded but was not confirmed
// through the recovery loop, so it may still move to completed or failed.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is a valid forward
// transition. failed and cancelled are reachable from any non-terminal state.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed || next == StatusCancelled {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// RetryInfo tracks the state of the deployment recovery loop.
type RetryInfo struct {
	Attempt     int        `json:"attempt"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// LogEntry is one append-only log line recorded against a session.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ChangeRequest is an opaque change payload the session acts on.
type ChangeRequest struct {
	Path        string `json:"path,omitempty"`
	Description string `json:"description"`
}

// Session is a single workflow run. It is mutated exclusively by the phase
// executor and the recovery loop; once status is terminal, only log appends
// are permitted.
type Session struct {
	ID          string          `json:"id"`
	ProjectID   *string         `json:"project_id,omitempty"`
	Type        SessionType     `json:"type"`
	Status      SessionStatus   `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"current_step"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     *time.Time      `json:"end_time,omitempty"`
	Error       *string         `json:"error,omitempty"`
	RetryInfo   *RetryInfo      `json:"retry_info,omitempty"`
	Changes     []ChangeRequest `json:"changes,omitempty"`
	LogCount    int             `json:"log_count"`
}

// sessionTypeTags maps session types to the short tag embedded in IDs.
var sessionTypeTags = map[SessionType]string{
	SessionTypeInit:          "init",
	SessionTypeDeployment:    "dep",
	SessionTypeDevelopment:   "dev",
	SessionTypeChangeRequest: "chg",
	SessionTypeTest:          "test",
}

// NewSessionID returns a globally unique session ID that encodes the session
// type and creation time, so lexicographic order within a type matches
// creation order.
func NewSessionID(t SessionType, now time.Time) string {
	tag, ok := sessionTypeTags[t]
	if !ok {
		tag = "sess"
	}
	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("%s_%013d_%s", tag, now.UnixMilli(), hex.EncodeToString(buf))
}

// SessionIDTime extracts the creation time encoded in a session ID.
// Returns the zero time if the ID does not carry one.
func SessionIDTime(id string) time.Time {
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
