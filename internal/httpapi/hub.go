package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ankittk/teamscope/internal/otel"
	"github.com/ankittk/teamscope/pkg/models"
	"github.com/google/uuid"
)

// Push channel names, also used as the subscriber gauge label.
const (
	ChannelWS  = "ws"
	ChannelSSE = "sse"
)

// InitialStateFunc returns the state a new subscriber is seeded with.
type InitialStateFunc func() models.InitialState

// Subscriber is one connected push client.
type Subscriber struct {
	ID      string
	Channel string
	C       <-chan []byte

	ch chan []byte
}

// ready reports whether the subscriber can take another frame without blocking.
func (s *Subscriber) ready() bool { return len(s.ch) < cap(s.ch) }

// Hub fans envelopes out to WebSocket and SSE subscribers. Delivery is best
// effort: a subscriber whose buffer is full is skipped for that frame.
type Hub struct {
	initial InitialStateFunc
	log     *slog.Logger
	buffer  int

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// NewHub returns a hub that seeds subscribers with initial (may be nil).
func NewHub(initial InitialStateFunc, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		initial: initial,
		log:     log.With("component", "hub"),
		buffer:  models.DefaultSubscriberBuffer,
		subs:    make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a subscriber on channel. Frames broadcast from now on
// are queued for it. On a closed hub the returned channel is already closed.
func (h *Hub) Subscribe(channel string) *Subscriber {
	ch := make(chan []byte, h.buffer)
	s := &Subscriber{ID: uuid.NewString(), Channel: channel, C: ch, ch: ch}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	h.subs[s] = struct{}{}
	otel.AddSubscriber(channel)
	h.log.Debug("subscriber connected", "id", s.ID, "channel", channel)
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
	otel.RemoveSubscriber(s.Channel)
	h.log.Debug("subscriber disconnected", "id", s.ID, "channel", s.Channel)
}

// Broadcast sends env to every ready subscriber.
func (h *Hub) Broadcast(env models.Envelope) {
	h.PublishJSON(env)
}

// PublishJSON encodes v once and queues it for every ready subscriber. It
// returns how many subscribers received it.
func (h *Hub) PublishJSON(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode frame", "err", err)
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for s := range h.subs {
		if !s.ready() {
			continue
		}
		select {
		case s.ch <- b:
			delivered++
		default:
		}
	}
	topic := ""
	if env, ok := v.(models.Envelope); ok {
		topic = env.Type
	}
	otel.RecordBroadcast(context.Background(), topic, delivered)
	return delivered
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber; later subscribers are closed at once.
// Hijacked WebSocket connections are not tracked by http.Server, so shutdown
// goes through here.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
		otel.RemoveSubscriber(s.Channel)
	}
}

// initialFrame encodes the initial:state envelope.
func (h *Hub) initialFrame() ([]byte, error) {
	state := models.InitialState{Teams: []models.TeamSnapshot{}}
	if h.initial != nil {
		state = h.initial()
		if state.Teams == nil {
			state.Teams = []models.TeamSnapshot{}
		}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.Envelope{Type: models.TypeInitialState, Data: data})
}
