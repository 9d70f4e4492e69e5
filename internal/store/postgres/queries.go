package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ankittk/teamscope/internal/store"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, team_name, started_at, ended_at, status, total_tokens, config`

func nowNanos() int64 { return time.Now().UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}

func nanosPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func rawPtr(b json.RawMessage) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

func scanSession(row pgx.Row) (store.Session, error) {
	var (
		s         store.Session
		startedAt int64
		endedAt   *int64
		config    *string
	)
	if err := row.Scan(&s.ID, &s.TeamName, &startedAt, &endedAt, &s.Status, &s.TotalTokens, &config); err != nil {
		return store.Session{}, err
	}
	s.StartedAt = fromNanos(startedAt)
	s.EndedAt = fromNanosPtr(endedAt)
	if config != nil && *config != "" {
		s.Config = json.RawMessage(*config)
	}
	return s, nil
}

func (s *Store) CreateSession(ctx context.Context, teamName string, config json.RawMessage) (int64, error) {
	if teamName == "" {
		return 0, errors.New("team name required")
	}
	var id int64
	err := s.Pool.QueryRow(ctx, `INSERT INTO sessions(team_name, started_at, status, config) VALUES($1, $2, 'active', $3) RETURNING id`,
		teamName, nowNanos(), rawPtr(config)).Scan(&id)
	return id, err
}

func (s *Store) GetSession(ctx context.Context, sessionID int64) (store.Session, error) {
	sess, err := scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, fmt.Errorf("session %d: %w", sessionID, store.ErrNotFound)
		}
		return store.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetActiveSession(ctx context.Context, teamName string) (*store.Session, error) {
	sess, err := scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE team_name = $1 AND status = 'active' ORDER BY started_at DESC, id DESC LIMIT 1`, teamName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func (s *Store) EndSession(ctx context.Context, sessionID int64, totalTokens int64) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE sessions SET ended_at = $1, status = 'completed', total_tokens = $2 WHERE id = $3`,
		nowNanos(), totalTokens, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %d: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]store.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAgent(ctx context.Context, sessionID int64, name, agentType, model string) (int64, error) {
	if name == "" {
		return 0, errors.New("agent name required")
	}
	var id int64
	err := s.Pool.QueryRow(ctx, `INSERT INTO agents(session_id, name, agent_type, model, status) VALUES($1, $2, $3, $4, 'active')
ON CONFLICT (session_id, name) DO UPDATE SET agent_type = EXCLUDED.agent_type, model = EXCLUDED.model, status = 'active'
RETURNING id`, sessionID, name, store.OrUnknown(agentType), store.OrUnknown(model)).Scan(&id)
	return id, err
}

func (s *Store) ListAgents(ctx context.Context, sessionID int64) ([]store.Agent, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, session_id, name, agent_type, model, status FROM agents WHERE session_id = $1 ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Agent
	for rows.Next() {
		var a store.Agent
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Name, &a.AgentType, &a.Model, &a.Status); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAgentStatus(ctx context.Context, sessionID int64, name, status string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE agents SET status = $1 WHERE session_id = $2 AND name = $3`, status, sessionID, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %q in session %d: %w", name, sessionID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) UpsertTask(ctx context.Context, sessionID int64, in store.TaskInput) (int64, error) {
	if in.ExternalID == "" {
		return 0, errors.New("external task id required")
	}
	status := store.NormalizeTaskStatus(in.Status)
	now := nowNanos()
	nowT := fromNanos(now)

	var (
		id   int64
		prev *int64
	)
	err := s.Pool.QueryRow(ctx, `SELECT id, completed_at FROM tasks WHERE session_id = $1 AND task_id = $2`, sessionID, in.ExternalID).Scan(&id, &prev)
	switch {
	case err == nil:
		done := nanosPtr(store.ResolveCompletedAt(status, fromNanosPtr(prev), nowT))
		_, err = s.Pool.Exec(ctx, `UPDATE tasks SET subject = $1, description = $2, status = $3, raw_status = $4, owner = $5, updated_at = $6, completed_at = $7 WHERE id = $8`,
			in.Subject, in.Description, status, in.Status, in.Owner, now, done, id)
		return id, err
	case errors.Is(err, pgx.ErrNoRows):
		done := nanosPtr(store.ResolveCompletedAt(status, nil, nowT))
		err = s.Pool.QueryRow(ctx, `INSERT INTO tasks(session_id, task_id, subject, description, status, raw_status, owner, created_at, updated_at, completed_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
			sessionID, in.ExternalID, in.Subject, in.Description, status, in.Status, in.Owner, now, now, done).Scan(&id)
		return id, err
	default:
		return 0, err
	}
}

func (s *Store) ListTasks(ctx context.Context, sessionID int64) ([]store.Task, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, session_id, task_id, COALESCE(subject,''), COALESCE(description,''), status, raw_status, owner, created_at, updated_at, completed_at
FROM tasks WHERE session_id = $1 ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Task
	for rows.Next() {
		var (
			t                    store.Task
			createdAt, updatedAt int64
			completed            *int64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.ExternalID, &t.Subject, &t.Description, &t.Status, &t.RawStatus, &t.Owner, &createdAt, &updatedAt, &completed); err != nil {
			return nil, err
		}
		t.CreatedAt = fromNanos(createdAt)
		t.UpdatedAt = fromNanos(updatedAt)
		t.CompletedAt = fromNanosPtr(completed)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, sessionID int64, from, to, content, messageType string) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `INSERT INTO messages(session_id, from_agent, to_agent, content, message_type, timestamp) VALUES($1, $2, $3, $4, $5, $6) RETURNING id`,
		sessionID, from, to, content, messageType, nowNanos()).Scan(&id)
	return id, err
}

func (s *Store) ListMessages(ctx context.Context, sessionID int64, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = store.DefaultMessageLimit
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, session_id, from_agent, COALESCE(to_agent,''), content, message_type, timestamp
FROM messages WHERE session_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Message
	for rows.Next() {
		var (
			m  store.Message
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.FromAgent, &m.ToAgent, &m.Content, &m.MessageType, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = fromNanos(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountMessages(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

func (s *Store) AppendEvent(ctx context.Context, sessionID int64, eventType string, data json.RawMessage) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `INSERT INTO events(session_id, event_type, event_data, timestamp) VALUES($1, $2, $3, $4) RETURNING id`,
		sessionID, eventType, rawPtr(data), nowNanos()).Scan(&id)
	return id, err
}

func (s *Store) ListEvents(ctx context.Context, sessionID int64, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = store.DefaultEventLimit
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, session_id, event_type, event_data, timestamp
FROM events WHERE session_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Event
	for rows.Next() {
		var (
			e    store.Event
			data *string
			ts   int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &data, &ts); err != nil {
			return nil, err
		}
		if data != nil {
			e.EventData = json.RawMessage(*data)
		}
		e.Timestamp = fromNanos(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
