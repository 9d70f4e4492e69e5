// Package events defines the domain events derived from team and task files
// and the classifier that maps a stabilized file change to one of them.
package events

import (
	"encoding/json"
	"time"

	"github.com/ankittk/teamscope/internal/watcher"
)

// Topic names a bus channel and is also the "type" of the wire envelope.
type Topic string

const (
	TopicTeamUpdate   Topic = "team:update"
	TopicTaskUpdate   Topic = "task:update"
	TopicMessageNew   Topic = "message:new"
	TopicSessionEnded Topic = "session:ended"
	TopicInitialState Topic = "initial:state"
	topicNone         Topic = ""
)

// Event is a classified domain event.
type Event interface {
	Topic() Topic
	Team() string
}

// Ignored is the classification of a change that needs no reaction.
type Ignored struct {
	Reason string `json:"reason"`
}

func (Ignored) Topic() Topic { return topicNone }
func (Ignored) Team() string { return "" }

// TeamConfigChanged reports a new or rewritten <team>/config.json.
type TeamConfigChanged struct {
	Event     watcher.ChangeKind `json:"event"`
	TeamName  string             `json:"teamName"`
	Config    json.RawMessage    `json:"config"`
	Timestamp time.Time          `json:"timestamp"`
}

func (TeamConfigChanged) Topic() Topic   { return TopicTeamUpdate }
func (e TeamConfigChanged) Team() string { return e.TeamName }

// InboxMessageArrived reports a rewritten <team>/inboxes/<agent>.json.
type InboxMessageArrived struct {
	Event     watcher.ChangeKind `json:"event"`
	TeamName  string             `json:"teamName"`
	AgentName string             `json:"agentName"`
	Messages  json.RawMessage    `json:"messages"`
	Timestamp time.Time          `json:"timestamp"`
}

func (InboxMessageArrived) Topic() Topic   { return TopicMessageNew }
func (e InboxMessageArrived) Team() string { return e.TeamName }

// TaskFileChanged reports a rewritten <tasks-root>/<team>/<file>.json.
type TaskFileChanged struct {
	Event     watcher.ChangeKind `json:"event"`
	TeamName  string             `json:"teamName"`
	FileName  string             `json:"fileName"`
	Task      json.RawMessage    `json:"task"`
	Timestamp time.Time          `json:"timestamp"`
}

func (TaskFileChanged) Topic() Topic   { return TopicTaskUpdate }
func (e TaskFileChanged) Team() string { return e.TeamName }

// SessionEnded is published when a session is closed on request.
type SessionEnded struct {
	TeamName  string `json:"teamName"`
	SessionID int64  `json:"sessionId"`
}

func (SessionEnded) Topic() Topic   { return TopicSessionEnded }
func (e SessionEnded) Team() string { return e.TeamName }

// WithSession returns the JSON form of ev with a top level "sessionId" field.
// A nil id is rendered as null so subscribers can tell a dropped event apart.
func WithSession(ev Event, sessionID *int64) (json.RawMessage, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	id := json.RawMessage("null")
	if sessionID != nil {
		if id, err = json.Marshal(*sessionID); err != nil {
			return nil, err
		}
	}
	fields["sessionId"] = id
	return json.Marshal(fields)
}
