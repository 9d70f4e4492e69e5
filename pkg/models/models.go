// Package models provides the JSON types of the teamscope HTTP API and push
// channels. They are stable for use by pkg/client and dashboard consumers.
package models

import (
	"encoding/json"
	"time"
)

// Session is one monitored lifetime of a team.
type Session struct {
	ID          int64           `json:"id"`
	TeamName    string          `json:"team_name"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     *time.Time      `json:"ended_at"`
	Status      string          `json:"status"`
	TotalTokens int64           `json:"total_tokens"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Agent is a team member within a session.
type Agent struct {
	ID        int64  `json:"id,omitempty"`
	SessionID int64  `json:"session_id,omitempty"`
	Name      string `json:"name"`
	AgentType string `json:"agent_type"`
	Model     string `json:"model"`
	Status    string `json:"status"`
}

// Task is the stored form of a task file.
type Task struct {
	ID          int64      `json:"id"`
	SessionID   int64      `json:"session_id"`
	TaskID      string     `json:"task_id"`
	Subject     string     `json:"subject"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	RawStatus   string     `json:"raw_status,omitempty"`
	Owner       *string    `json:"owner"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Message is one stored inbox message.
type Message struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"session_id"`
	FromAgent   string    `json:"from_agent"`
	ToAgent     string    `json:"to_agent"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event is an entry of a session's audit log.
type Event struct {
	ID        int64           `json:"id"`
	SessionID int64           `json:"session_id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TeamSnapshot is a team's current state read straight from its files.
// Messages maps an inbox owner to the raw inbox contents.
type TeamSnapshot struct {
	Name     string                     `json:"name"`
	Config   json.RawMessage            `json:"config"`
	Tasks    []json.RawMessage          `json:"tasks"`
	Messages map[string]json.RawMessage `json:"messages"`
}

// TeamSummary is a snapshot with the team's active session, if any.
type TeamSummary struct {
	TeamSnapshot
	SessionID *int64   `json:"sessionId"`
	Session   *Session `json:"session"`
}

// TeamDetail is the GET /api/teams/{name} response. Agents come from the live
// config; tasks, messages and events from the active session.
type TeamDetail struct {
	Name      string          `json:"name"`
	Config    json.RawMessage `json:"config"`
	SessionID *int64          `json:"sessionId"`
	Session   *Session        `json:"session"`
	Agents    []Agent         `json:"agents"`
	Tasks     []Task          `json:"tasks"`
	Messages  []Message       `json:"messages"`
	Events    []Event         `json:"events"`
}

// HistoryEntry is one session in GET /api/history.
type HistoryEntry struct {
	Session
	Agents       []Agent `json:"agents"`
	Tasks        []Task  `json:"tasks"`
	MessageCount int     `json:"messageCount"`
}

// TeamsResponse is the GET /api/teams response.
type TeamsResponse struct {
	Teams []TeamSummary `json:"teams"`
}

// HistoryResponse is the GET /api/history response.
type HistoryResponse struct {
	Sessions []HistoryEntry `json:"sessions"`
}

// Health is the GET /api/health response.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// EndSessionRequest is the body of POST /api/teams/{name}/end.
type EndSessionRequest struct {
	TotalTokens int64 `json:"totalTokens"`
}

// AgentStatusRequest is the body of POST /api/teams/{name}/agents/{agent}/status.
type AgentStatusRequest struct {
	Status string `json:"status"`
}

// Success is returned by mutating endpoints.
type Success struct {
	Success bool `json:"success"`
}

// Envelope is a frame on the WebSocket and SSE channels.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// InitialState is the data of the first frame a subscriber receives.
type InitialState struct {
	Teams []TeamSnapshot `json:"teams"`
}
