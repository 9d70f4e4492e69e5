package httpapi

import (
	"github.com/ankittk/teamscope/internal/store"
	"github.com/ankittk/teamscope/pkg/models"
)

func toSession(s store.Session) models.Session {
	return models.Session{
		ID:          s.ID,
		TeamName:    s.TeamName,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		Status:      s.Status,
		TotalTokens: s.TotalTokens,
		Config:      s.Config,
	}
}

func toAgents(in []store.Agent) []models.Agent {
	out := make([]models.Agent, 0, len(in))
	for _, a := range in {
		out = append(out, models.Agent{
			ID:        a.ID,
			SessionID: a.SessionID,
			Name:      a.Name,
			AgentType: a.AgentType,
			Model:     a.Model,
			Status:    a.Status,
		})
	}
	return out
}

func toTasks(in []store.Task) []models.Task {
	out := make([]models.Task, 0, len(in))
	for _, t := range in {
		out = append(out, models.Task{
			ID:          t.ID,
			SessionID:   t.SessionID,
			TaskID:      t.ExternalID,
			Subject:     t.Subject,
			Description: t.Description,
			Status:      t.Status,
			RawStatus:   t.RawStatus,
			Owner:       t.Owner,
			CreatedAt:   t.CreatedAt,
			UpdatedAt:   t.UpdatedAt,
			CompletedAt: t.CompletedAt,
		})
	}
	return out
}

func toMessages(in []store.Message) []models.Message {
	out := make([]models.Message, 0, len(in))
	for _, m := range in {
		out = append(out, models.Message{
			ID:          m.ID,
			SessionID:   m.SessionID,
			FromAgent:   m.FromAgent,
			ToAgent:     m.ToAgent,
			Content:     m.Content,
			MessageType: m.MessageType,
			Timestamp:   m.Timestamp,
		})
	}
	return out
}

func toEvents(in []store.Event) []models.Event {
	out := make([]models.Event, 0, len(in))
	for _, e := range in {
		out = append(out, models.Event{
			ID:        e.ID,
			SessionID: e.SessionID,
			EventType: e.EventType,
			EventData: e.EventData,
			Timestamp: e.Timestamp,
		})
	}
	return out
}
