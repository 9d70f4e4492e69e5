// Package store defines the persistence interface and shared models for sessions, agents, tasks, messages and events.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by point lookups and updates when the record does not exist.
var ErrNotFound = errors.New("not found")

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// Agent statuses.
const (
	AgentActive  = "active"
	AgentIdle    = "idle"
	AgentError   = "error"
	AgentUnknown = "unknown"
)

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskOther      = "other"
)

// Default list limits.
const (
	DefaultSessionLimit = 50
	DefaultMessageLimit = 100
	DefaultEventLimit   = 100
)

// Session is one lifetime of a monitored team.
type Session struct {
	ID          int64
	TeamName    string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      string
	TotalTokens int64
	Config      json.RawMessage
}

// Agent is a named worker inside a session. Name is unique per session.
type Agent struct {
	ID        int64
	SessionID int64
	Name      string
	AgentType string
	Model     string
	Status    string
}

// TaskInput is the mutable part of a task as read from a task file.
type TaskInput struct {
	ExternalID  string
	Subject     string
	Description string
	Status      string
	Owner       *string
}

// Task is a task file tracked for a session, keyed by (SessionID, ExternalID).
type Task struct {
	ID          int64
	SessionID   int64
	ExternalID  string
	Subject     string
	Description string
	Status      string
	// RawStatus is the status as written in the task file, before
	// NormalizeTaskStatus; "blocked" survives here while Status is "other".
	RawStatus   string
	Owner       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Message is an inbox message; immutable once appended.
type Message struct {
	ID          int64
	SessionID   int64
	FromAgent   string
	ToAgent     string
	Content     string
	MessageType string
	Timestamp   time.Time
}

// Event is an append-only audit record of something the bus processed.
type Event struct {
	ID        int64
	SessionID int64
	EventType string
	EventData json.RawMessage
	Timestamp time.Time
}

// NormalizeTaskStatus folds any status outside the known set into TaskOther.
func NormalizeTaskStatus(s string) string {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted:
		return s
	default:
		return TaskOther
	}
}

// ValidAgentStatus reports whether s is one of the agent statuses.
func ValidAgentStatus(s string) bool {
	switch s {
	case AgentActive, AgentIdle, AgentError, AgentUnknown:
		return true
	}
	return false
}

// ResolveCompletedAt returns the completion time a task should carry after an upsert:
// the first completion time while completed, nil otherwise.
func ResolveCompletedAt(status string, prev *time.Time, now time.Time) *time.Time {
	if status != TaskCompleted {
		return nil
	}
	if prev != nil {
		return prev
	}
	t := now
	return &t
}

// OrUnknown substitutes AgentUnknown for an empty agent type or model.
func OrUnknown(s string) string {
	if s == "" {
		return AgentUnknown
	}
	return s
}
