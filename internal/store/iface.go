package store

import (
	"context"
	"encoding/json"
)

// Store is the persistence interface for monitoring sessions and everything they own.
// Implementations: memory (volatile), *sqliteStore (SQLite) and *postgres.Store (PostgreSQL).
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, teamName string, config json.RawMessage) (int64, error)
	GetSession(ctx context.Context, sessionID int64) (Session, error)
	GetActiveSession(ctx context.Context, teamName string) (*Session, error)
	EndSession(ctx context.Context, sessionID int64, totalTokens int64) error
	ListSessions(ctx context.Context, limit int) ([]Session, error)

	// Agents (natural key: session + name)
	UpsertAgent(ctx context.Context, sessionID int64, name, agentType, model string) (int64, error)
	ListAgents(ctx context.Context, sessionID int64) ([]Agent, error)
	UpdateAgentStatus(ctx context.Context, sessionID int64, name, status string) error

	// Tasks (natural key: session + external task id)
	UpsertTask(ctx context.Context, sessionID int64, in TaskInput) (int64, error)
	ListTasks(ctx context.Context, sessionID int64) ([]Task, error)

	// Messages
	AppendMessage(ctx context.Context, sessionID int64, from, to, content, messageType string) (int64, error)
	ListMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error)
	CountMessages(ctx context.Context, sessionID int64) (int, error)

	// Events
	AppendEvent(ctx context.Context, sessionID int64, eventType string, data json.RawMessage) (int64, error)
	ListEvents(ctx context.Context, sessionID int64, limit int) ([]Event, error)

	// Lifecycle
	Close() error
}
