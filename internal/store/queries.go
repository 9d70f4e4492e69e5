package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `id, team_name, started_at, ended_at, status, total_tokens, config`

func nowNanos() int64 { return time.Now().UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func scanSession(row interface{ Scan(dest ...any) error }) (Session, error) {
	var (
		s         Session
		startedAt int64
		endedAt   sql.NullInt64
		config    sql.NullString
	)
	if err := row.Scan(&s.ID, &s.TeamName, &startedAt, &endedAt, &s.Status, &s.TotalTokens, &config); err != nil {
		return Session{}, err
	}
	s.StartedAt = fromNanos(startedAt)
	s.EndedAt = fromNullNanos(endedAt)
	if config.Valid && config.String != "" {
		s.Config = json.RawMessage(config.String)
	}
	return s, nil
}

func rawOrNull(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *sqliteStore) CreateSession(ctx context.Context, teamName string, config json.RawMessage) (int64, error) {
	if teamName == "" {
		return 0, errors.New("team name required")
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO sessions(team_name, started_at, status, config) VALUES(?, ?, 'active', ?)`,
		teamName, nowNanos(), rawOrNull(config))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GetSession(ctx context.Context, sessionID int64) (Session, error) {
	sess, err := scanSession(s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
		}
		return Session{}, err
	}
	return sess, nil
}

func (s *sqliteStore) GetActiveSession(ctx context.Context, teamName string) (*Session, error) {
	sess, err := scanSession(s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
WHERE team_name = ? AND status = 'active'
ORDER BY started_at DESC, id DESC LIMIT 1`, teamName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func (s *sqliteStore) EndSession(ctx context.Context, sessionID int64, totalTokens int64) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET ended_at = ?, status = 'completed', total_tokens = ? WHERE id = ?`,
		nowNanos(), totalTokens, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertAgent(ctx context.Context, sessionID int64, name, agentType, model string) (int64, error) {
	if name == "" {
		return 0, errors.New("agent name required")
	}
	var id int64
	err := s.stmtFindAgent.QueryRowContext(ctx, sessionID, name).Scan(&id)
	switch {
	case err == nil:
		_, err = s.DB.ExecContext(ctx, `UPDATE agents SET agent_type = ?, model = ?, status = 'active' WHERE id = ?`,
			OrUnknown(agentType), OrUnknown(model), id)
		return id, err
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.DB.ExecContext(ctx, `INSERT INTO agents(session_id, name, agent_type, model, status) VALUES(?, ?, ?, ?, 'active')`,
			sessionID, name, OrUnknown(agentType), OrUnknown(model))
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	default:
		return 0, err
	}
}

func (s *sqliteStore) ListAgents(ctx context.Context, sessionID int64) ([]Agent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, session_id, name, agent_type, model, status FROM agents WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Name, &a.AgentType, &a.Model, &a.Status); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateAgentStatus(ctx context.Context, sessionID int64, name, status string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE agents SET status = ? WHERE session_id = ? AND name = ?`, status, sessionID, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %q in session %d: %w", name, sessionID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) UpsertTask(ctx context.Context, sessionID int64, in TaskInput) (int64, error) {
	if in.ExternalID == "" {
		return 0, errors.New("external task id required")
	}
	status := NormalizeTaskStatus(in.Status)
	now := nowNanos()
	nowT := fromNanos(now)

	var (
		id   int64
		prev sql.NullInt64
	)
	err := s.stmtFindTask.QueryRowContext(ctx, sessionID, in.ExternalID).Scan(&id, &prev)
	switch {
	case err == nil:
		done := nanosOrNull(ResolveCompletedAt(status, fromNullNanos(prev), nowT))
		_, err = s.DB.ExecContext(ctx, `UPDATE tasks SET subject = ?, description = ?, status = ?, raw_status = ?, owner = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
			in.Subject, in.Description, status, in.Status, strOrNull(in.Owner), now, done, id)
		return id, err
	case errors.Is(err, sql.ErrNoRows):
		done := nanosOrNull(ResolveCompletedAt(status, nil, nowT))
		res, err := s.DB.ExecContext(ctx, `INSERT INTO tasks(session_id, task_id, subject, description, status, raw_status, owner, created_at, updated_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, in.ExternalID, in.Subject, in.Description, status, in.Status, strOrNull(in.Owner), now, now, done)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	default:
		return 0, err
	}
}

func (s *sqliteStore) ListTasks(ctx context.Context, sessionID int64) ([]Task, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, session_id, task_id, COALESCE(subject,''), COALESCE(description,''), status, raw_status, owner, created_at, updated_at, completed_at
FROM tasks WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Task
	for rows.Next() {
		var (
			t                    Task
			owner                sql.NullString
			createdAt, updatedAt int64
			completed            sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.ExternalID, &t.Subject, &t.Description, &t.Status, &t.RawStatus, &owner, &createdAt, &updatedAt, &completed); err != nil {
			return nil, err
		}
		if owner.Valid {
			o := owner.String
			t.Owner = &o
		}
		t.CreatedAt = fromNanos(createdAt)
		t.UpdatedAt = fromNanos(updatedAt)
		t.CompletedAt = fromNullNanos(completed)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendMessage(ctx context.Context, sessionID int64, from, to, content, messageType string) (int64, error) {
	res, err := s.stmtAppendMessage.ExecContext(ctx, sessionID, from, to, content, messageType, nowNanos())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, session_id, from_agent, COALESCE(to_agent,''), content, message_type, timestamp
FROM messages WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var (
			m  Message
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

func (s *sqliteStore) CountMessages(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func (s *sqliteStore) AppendEvent(ctx context.Context, sessionID int64, eventType string, data json.RawMessage) (int64, error) {
	res, err := s.stmtAppendEvent.ExecContext(ctx, sessionID, eventType, rawOrNull(data), nowNanos())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListEvents(ctx context.Context, sessionID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, session_id, event_type, event_data, timestamp
FROM events WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			data sql.NullString
			ts   int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &data, &ts); err != nil {
			return nil, err
		}
		if data.Valid {
			e.EventData = json.RawMessage(data.String)
		}
		e.Timestamp = fromNanos(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func strOrNull(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nanosOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
