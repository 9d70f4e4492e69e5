package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps everything in process memory; history is lost on restart.
type memoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	sessions []*Session
	agents   []*Agent
	tasks    []*Task
	messages []*Message
	events   []*Event

	nextSession, nextAgent, nextTask, nextMessage, nextEvent int64
}

// NewMemory returns a volatile Store. now may be nil to use time.Now.
func NewMemory(now func() time.Time) Store {
	if now == nil {
		now = time.Now
	}
	return &memoryStore{now: func() time.Time { return now().UTC() }}
}

func (m *memoryStore) CreateSession(ctx context.Context, teamName string, config json.RawMessage) (int64, error) {
	if teamName == "" {
		return 0, errors.New("team name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSession++
	m.sessions = append(m.sessions, &Session{
		ID:        m.nextSession,
		TeamName:  teamName,
		StartedAt: m.now(),
		Status:    SessionActive,
		Config:    cloneRaw(config),
	})
	return m.nextSession, nil
}

func (m *memoryStore) GetSession(ctx context.Context, sessionID int64) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.ID == sessionID {
			return copySession(s), nil
		}
	}
	return Session{}, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
}

func (m *memoryStore) GetActiveSession(ctx context.Context, teamName string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Session
	for _, s := range m.sessions {
		if s.TeamName != teamName || s.Status != SessionActive {
			continue
		}
		if best == nil || newerSession(s, best) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	out := copySession(best)
	return &out, nil
}

func (m *memoryStore) EndSession(ctx context.Context, sessionID int64, totalTokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == sessionID {
			now := m.now()
			s.EndedAt = &now
			s.Status = SessionCompleted
			s.TotalTokens = totalTokens
			return nil
		}
	}
	return fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
}

func (m *memoryStore) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, copySession(s))
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return newerSession(&out[i], &out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) UpsertAgent(ctx context.Context, sessionID int64, name, agentType, model string) (int64, error) {
	if name == "" {
		return 0, errors.New("agent name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.SessionID == sessionID && a.Name == name {
			a.AgentType = OrUnknown(agentType)
			a.Model = OrUnknown(model)
			a.Status = AgentActive
			return a.ID, nil
		}
	}
	m.nextAgent++
	m.agents = append(m.agents, &Agent{
		ID:        m.nextAgent,
		SessionID: sessionID,
		Name:      name,
		AgentType: OrUnknown(agentType),
		Model:     OrUnknown(model),
		Status:    AgentActive,
	})
	return m.nextAgent, nil
}

func (m *memoryStore) ListAgents(ctx context.Context, sessionID int64) ([]Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Agent
	for _, a := range m.agents {
		if a.SessionID == sessionID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateAgentStatus(ctx context.Context, sessionID int64, name, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.SessionID == sessionID && a.Name == name {
			a.Status = status
			return nil
		}
	}
	return fmt.Errorf("agent %q in session %d: %w", name, sessionID, ErrNotFound)
}

func (m *memoryStore) UpsertTask(ctx context.Context, sessionID int64, in TaskInput) (int64, error) {
	if in.ExternalID == "" {
		return 0, errors.New("external task id required")
	}
	status := NormalizeTaskStatus(in.Status)
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, t := range m.tasks {
		if t.SessionID == sessionID && t.ExternalID == in.ExternalID {
			t.Subject = in.Subject
			t.Description = in.Description
			t.Status = status
			t.RawStatus = in.Status
			t.Owner = cloneStr(in.Owner)
			t.UpdatedAt = now
			t.CompletedAt = ResolveCompletedAt(status, t.CompletedAt, now)
			return t.ID, nil
		}
	}
	m.nextTask++
	m.tasks = append(m.tasks, &Task{
		ID:          m.nextTask,
		SessionID:   sessionID,
		ExternalID:  in.ExternalID,
		Subject:     in.Subject,
		Description: in.Description,
		Status:      status,
		RawStatus:   in.Status,
		Owner:       cloneStr(in.Owner),
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: ResolveCompletedAt(status, nil, now),
	})
	return m.nextTask, nil
}

func (m *memoryStore) ListTasks(ctx context.Context, sessionID int64) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Task
	for _, t := range m.tasks {
		if t.SessionID == sessionID {
			c := *t
			c.Owner = cloneStr(t.Owner)
			out = append(out, c)
		}
	}
	// Insertion order is creation order.
	return out, nil
}

func (m *memoryStore) AppendMessage(ctx context.Context, sessionID int64, from, to, content, messageType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMessage++
	m.messages = append(m.messages, &Message{
		ID:          m.nextMessage,
		SessionID:   sessionID,
		FromAgent:   from,
		ToAgent:     to,
		Content:     content,
		MessageType: messageType,
		Timestamp:   m.now(),
	})
	return m.nextMessage, nil
}

func (m *memoryStore) ListMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if m.messages[i].SessionID == sessionID {
			out = append(out, *m.messages[i])
		}
	}
	return out, nil
}

func (m *memoryStore) CountMessages(ctx context.Context, sessionID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) AppendEvent(ctx context.Context, sessionID int64, eventType string, data json.RawMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEvent++
	m.events = append(m.events, &Event{
		ID:        m.nextEvent,
		SessionID: sessionID,
		EventType: eventType,
		EventData: cloneRaw(data),
		Timestamp: m.now(),
	})
	return m.nextEvent, nil
}

func (m *memoryStore) ListEvents(ctx context.Context, sessionID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].SessionID == sessionID {
			out = append(out, *m.events[i])
		}
	}
	return out, nil
}

func (m *memoryStore) Close() error { return nil }

// newerSession orders sessions newest first; ids break ties within one clock tick.
func newerSession(a, b *Session) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.After(b.StartedAt)
	}
	return a.ID > b.ID
}

func copySession(s *Session) Session {
	c := *s
	c.Config = cloneRaw(s.Config)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return c
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
