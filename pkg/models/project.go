package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus tracks the lifecycle of a project record.
type ProjectStatus string

const (
	ProjectInitializing ProjectStatus = "initializing"
	ProjectActive       ProjectStatus = "active"
	ProjectArchived     ProjectStatus = "archived"
	ProjectFailed       ProjectStatus = "failed"
)

// SessionRefs tracks which sessions have acted on a project. Active only
// contains sessions whose status is non-terminal.
type SessionRefs struct {
	Initialization string   `json:"initialization,omitempty"`
	Latest         string   `json:"latest,omitempty"`
	Active         []string `json:"active,omitempty"`
}

// Project is the persistent record a session acts upon or creates. Projects
// survive across many sessions and are never deleted by the workflow itself;
// archival is an operator action.
type Project struct {
	ID           uuid.UUID     `db:"id"            json:"id"`
	Name         string        `db:"name"          json:"name"`
	Template     string        `db:"template"      json:"template"`
	AIProvider   string        `db:"ai_provider"   json:"ai_provider,omitempty"`
	AIModel      string        `db:"ai_model"      json:"ai_model,omitempty"`
	RepositoryURL string       `db:"repository_url" json:"repository_url,omitempty"`
	SiteID       string        `db:"site_id"       json:"site_id,omitempty"`
	DatabaseRef  string        `db:"database_ref"  json:"database_ref,omitempty"`
	Status       ProjectStatus `db:"status"        json:"status"`
	Sessions     SessionRefs   `db:"sessions"      json:"sessions"`
	CreatedAt    time.Time     `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"    json:"updated_at"`
}

// TrackSessionStart marks a session as active on the project.
func (p *Project) TrackSessionStart(sessionID string, isInit bool) {
	if isInit && p.Sessions.Initialization == "" {
		p.Sessions.Initialization = sessionID
	}
	p.Sessions.Latest = sessionID
	for _, id := range p.Sessions.Active {
		if id == sessionID {
			return
		}
	}
	p.Sessions.Active = append(p.Sessions.Active, sessionID)
}

// TrackSessionEnd removes a session from the active set once it reaches a
// terminal status.
func (p *Project) TrackSessionEnd(sessionID string) {
	active := p.Sessions.Active[:0]
	for _, id := range p.Sessions.Active {
		if id != sessionID {
			active = append(active, id)
		}
	}
	p.Sessions.Active = active
}
