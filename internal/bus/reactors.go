package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ankittk/teamscope/internal/events"
	"github.com/ankittk/teamscope/internal/otel"
	"github.com/ankittk/teamscope/internal/session"
	"github.com/ankittk/teamscope/internal/store"
)

// Event record types written to the audit log.
const (
	EventTeamCreated     = "team_created"
	EventTeamUpdated     = "team_updated"
	EventTaskUpdated     = "task_updated"
	EventMessageReceived = "message_received"
	EventSessionEnded    = "session_ended"
)

// TeamReactor opens or refreshes the team's session and upserts its members.
func TeamReactor(st store.Store, reg *session.Registry) Reactor {
	return func(ctx context.Context, e events.Event) (Result, error) {
		ev, ok := e.(events.TeamConfigChanged)
		if !ok {
			return Result{}, fmt.Errorf("team reactor: unexpected %T", e)
		}
		id, tr, err := reg.Resolve(ctx, ev.TeamName, ev.Event, ev.Config)
		if err != nil {
			return Result{Outcome: otel.OutcomeFailed}, err
		}
		if tr == session.None {
			return Result{Outcome: otel.OutcomeIgnored}, nil
		}
		res := Result{SessionID: &id, Outcome: otel.OutcomeApplied}
		for _, m := range events.ParseMembers(ev.Config) {
			if _, err := st.UpsertAgent(ctx, id, m.Name, m.AgentType, m.Model); err != nil {
				return res, fmt.Errorf("upsert agent %s: %w", m.Name, err)
			}
			res.Records++
		}
		kind := EventTeamUpdated
		if tr == session.Create {
			kind = EventTeamCreated
		}
		return res, appendEvent(ctx, st, id, kind, ev)
	}
}

// TaskReactor upserts the task into the team's active session. Without an
// active session the event is dropped and the store is left untouched.
func TaskReactor(st store.Store, reg *session.Registry) Reactor {
	return func(ctx context.Context, e events.Event) (Result, error) {
		ev, ok := e.(events.TaskFileChanged)
		if !ok {
			return Result{}, fmt.Errorf("task reactor: unexpected %T", e)
		}
		id, ok := reg.Lookup(ev.TeamName)
		if !ok {
			return Result{Outcome: otel.OutcomeDropped}, nil
		}
		res := Result{SessionID: &id, Outcome: otel.OutcomeIgnored}
		t, ok := events.ParseTask(ev.Task, ev.FileName)
		if !ok {
			return res, nil
		}
		if _, err := st.UpsertTask(ctx, id, store.TaskInput{
			ExternalID:  t.ExternalID,
			Subject:     t.Subject,
			Description: t.Description,
			Status:      t.Status,
			Owner:       t.Owner,
		}); err != nil {
			return res, fmt.Errorf("upsert task %s: %w", t.ExternalID, err)
		}
		res.Outcome = otel.OutcomeApplied
		res.Records = 1
		return res, appendEvent(ctx, st, id, EventTaskUpdated, ev)
	}
}

// MessageReactor appends every qualifying inbox message to the team's active
// session and records one event for the batch.
func MessageReactor(st store.Store, reg *session.Registry) Reactor {
	return func(ctx context.Context, e events.Event) (Result, error) {
		ev, ok := e.(events.InboxMessageArrived)
		if !ok {
			return Result{}, fmt.Errorf("message reactor: unexpected %T", e)
		}
		id, ok := reg.Lookup(ev.TeamName)
		if !ok {
			return Result{Outcome: otel.OutcomeDropped}, nil
		}
		res := Result{SessionID: &id, Outcome: otel.OutcomeIgnored}
		msgs, ok := events.ParseInbox(ev.Messages, ev.AgentName)
		if !ok {
			return res, nil
		}
		for _, m := range msgs {
			if _, err := st.AppendMessage(ctx, id, m.From, m.To, m.Content, m.Type); err != nil {
				return res, fmt.Errorf("append message from %s: %w", m.From, err)
			}
			res.Records++
		}
		res.Outcome = otel.OutcomeApplied
		return res, appendEvent(ctx, st, id, EventMessageReceived, ev)
	}
}

func appendEvent(ctx context.Context, st store.Store, sessionID int64, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if _, err := st.AppendEvent(ctx, sessionID, kind, data); err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}
