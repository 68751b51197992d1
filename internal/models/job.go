package models

import (
	"time"
)

// JobStatus enumerates research job lifecycle states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is one research request tracked by the registry.
type Job struct {
	ID        string    `json:"job_id"`
	Topic     string    `json:"topic"`
	Status    string    `json:"status"`
	Result    *string   `json:"result"`
	Logs      []string  `json:"logs"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the job reached completed or failed.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}

// Audit events written for each job.
const (
	EventSubmitted = "submitted"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventArchived  = "archived"
)
