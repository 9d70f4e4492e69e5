// Package bus runs classified domain events through their reactors and hands
// the enriched result to the push broadcasters.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ankittk/teamscope/internal/events"
	"github.com/ankittk/teamscope/internal/otel"
	"github.com/ankittk/teamscope/internal/session"
	"github.com/ankittk/teamscope/internal/store"
	"github.com/ankittk/teamscope/pkg/models"
)

// ErrInvalidStatus is returned for an agent status outside the known set.
var ErrInvalidStatus = errors.New("invalid agent status")

// Broadcaster pushes an envelope to connected subscribers. Implementations
// must not block on slow subscribers.
type Broadcaster interface {
	Broadcast(env models.Envelope)
}

// Result is what a reactor did with an event.
type Result struct {
	// SessionID is the session the event was attributed to; nil when dropped.
	SessionID *int64
	Outcome   string // one of the otel.Outcome* values
	// Records is the number of store rows written, excluding the event record.
	Records int
}

// Reactor handles one topic. It must not retain ev.
type Reactor func(ctx context.Context, ev events.Event) (Result, error)

// Bus serializes event processing: one event is reacted to and broadcast
// before the next one starts, which keeps each team's events in order.
type Bus struct {
	st  store.Store
	reg *session.Registry
	log *slog.Logger
	now func() time.Time

	mu           sync.Mutex
	reactors     map[events.Topic]Reactor
	broadcasters []Broadcaster
}

// New returns a bus with the team, task and message reactors registered.
func New(st store.Store, reg *session.Registry, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	b := &Bus{
		st:       st,
		reg:      reg,
		log:      log.With("component", "bus"),
		now:      time.Now,
		reactors: make(map[events.Topic]Reactor),
	}
	b.Handle(events.TopicTeamUpdate, TeamReactor(st, reg))
	b.Handle(events.TopicTaskUpdate, TaskReactor(st, reg))
	b.Handle(events.TopicMessageNew, MessageReactor(st, reg))
	return b
}

// Handle sets the reactor for topic, replacing any previous one.
func (b *Bus) Handle(topic events.Topic, r Reactor) {
	b.mu.Lock()
	b.reactors[topic] = r
	b.mu.Unlock()
}

// Attach adds a broadcaster that receives every processed event.
func (b *Bus) Attach(bc Broadcaster) {
	b.mu.Lock()
	b.broadcasters = append(b.broadcasters, bc)
	b.mu.Unlock()
}

// Registry returns the session registry the bus resolves against.
func (b *Bus) Registry() *session.Registry { return b.reg }

// Publish runs the topic's reactor and then broadcasts the event with the
// resolved session id. Reactor errors are logged and returned, and the event
// is still broadcast: live views stay current even when storage fails.
func (b *Bus) Publish(ctx context.Context, ev events.Event) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishLocked(ctx, ev)
}

func (b *Bus) publishLocked(ctx context.Context, ev events.Event) (Result, error) {
	start := time.Now()
	res := Result{Outcome: otel.OutcomeIgnored}
	var err error
	if r, ok := b.reactors[ev.Topic()]; ok {
		res, err = r(ctx, ev)
	}
	if err != nil {
		res.Outcome = otel.OutcomeFailed
		b.log.Error("reactor failed", "topic", ev.Topic(), "team", ev.Team(), "err", err)
	} else if res.Outcome == otel.OutcomeDropped {
		b.log.Debug("no active session, event dropped", "topic", ev.Topic(), "team", ev.Team())
	}
	otel.RecordEvent(ctx, string(ev.Topic()), res.Outcome, time.Since(start))
	b.broadcastLocked(ev, res.SessionID)
	return res, err
}

func (b *Bus) broadcastLocked(ev events.Event, sessionID *int64) {
	if len(b.broadcasters) == 0 {
		return
	}
	data, err := events.WithSession(ev, sessionID)
	if err != nil {
		b.log.Error("encode event", "topic", ev.Topic(), "err", err)
		return
	}
	env := models.Envelope{Type: string(ev.Topic()), Data: data}
	for _, bc := range b.broadcasters {
		bc.Broadcast(env)
	}
}

// EndSession completes the team's active session, records a session_ended
// event and broadcasts session:ended. It returns session.ErrNoActiveSession
// when the team has none.
func (b *Bus) EndSession(ctx context.Context, team string, totalTokens int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := time.Now()
	id, err := b.reg.End(ctx, team, totalTokens)
	if err != nil {
		return 0, err
	}
	ev := events.SessionEnded{TeamName: team, SessionID: id}
	if err := appendEvent(ctx, b.st, id, "session_ended", ev); err != nil {
		b.log.Error("record session end", "team", team, "session", id, "err", err)
	}
	otel.RecordEvent(ctx, string(ev.Topic()), otel.OutcomeApplied, time.Since(start))
	b.broadcastLocked(ev, &id)
	b.log.Info("session ended", "team", team, "session", id, "total_tokens", totalTokens)
	return id, nil
}

// SetAgentStatus updates an agent of the team's active session.
func (b *Bus) SetAgentStatus(ctx context.Context, team, agent, status string) error {
	if !store.ValidAgentStatus(status) {
		return fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.reg.Lookup(team)
	if !ok {
		return fmt.Errorf("team %s: %w", team, session.ErrNoActiveSession)
	}
	return b.st.UpdateAgentStatus(ctx, id, agent, status)
}
