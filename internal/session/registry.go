// Package session tracks which session is active for each team.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ankittk/teamscope/internal/store"
	"github.com/ankittk/teamscope/internal/watcher"
)

// ErrNoActiveSession is returned when a team has no session to act on.
var ErrNoActiveSession = errors.New("active session not found")

// ErrInvalidTokens is returned when a session is ended with a negative token count.
var ErrInvalidTokens = errors.New("invalid totalTokens")

// Transition is the outcome of a team config change.
type Transition int

const (
	// None: no session exists and the change does not start one.
	None Transition = iota
	// Create: a new session is opened for the team.
	Create
	// Refresh: the active session is kept and its roster re-synced.
	Refresh
)

func (t Transition) String() string {
	switch t {
	case Create:
		return "create"
	case Refresh:
		return "refresh"
	default:
		return "none"
	}
}

// Decide returns the transition for a config change of the given kind.
// Only an add starts a session; a change without a session is ignored.
func Decide(active bool, kind watcher.ChangeKind) Transition {
	switch {
	case active && (kind == watcher.Add || kind == watcher.Change):
		return Refresh
	case !active && kind == watcher.Add:
		return Create
	default:
		return None
	}
}

// Registry is the process-wide team name to active session index. Mutations
// are serialized by the bus; the lock covers concurrent readers from HTTP handlers.
type Registry struct {
	st store.Store

	mu     sync.RWMutex
	active map[string]int64
}

// NewRegistry returns an empty registry over st.
func NewRegistry(st store.Store) *Registry {
	return &Registry{st: st, active: make(map[string]int64)}
}

// Recover rebuilds the index from the most recent active session per team.
// With a volatile store this leaves the index empty.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	sessions, err := r.st.ListSessions(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// ListSessions is newest first, so the first active hit per team wins.
	for _, s := range sessions {
		if s.Status != store.SessionActive {
			continue
		}
		if _, seen := r.active[s.TeamName]; !seen {
			r.active[s.TeamName] = s.ID
		}
	}
	return len(r.active), nil
}

// Lookup returns the active session id for team.
func (r *Registry) Lookup(team string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[team]
	return id, ok
}

// Resolve applies a config change for team and returns the session it maps
// to (0 when the transition is None).
func (r *Registry) Resolve(ctx context.Context, team string, kind watcher.ChangeKind, config json.RawMessage) (int64, Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[team]
	switch tr := Decide(ok, kind); tr {
	case Create:
		newID, err := r.st.CreateSession(ctx, team, config)
		if err != nil {
			return 0, None, fmt.Errorf("create session for %s: %w", team, err)
		}
		r.active[team] = newID
		return newID, tr, nil
	case Refresh:
		return id, tr, nil
	default:
		return 0, tr, nil
	}
}

// End completes the active session for team and removes it from the index.
func (r *Registry) End(ctx context.Context, team string, totalTokens int64) (int64, error) {
	if totalTokens < 0 {
		return 0, fmt.Errorf("%d: %w", totalTokens, ErrInvalidTokens)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[team]
	if !ok {
		return 0, fmt.Errorf("team %s: %w", team, ErrNoActiveSession)
	}
	if err := r.st.EndSession(ctx, id, totalTokens); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			delete(r.active, team)
			return 0, fmt.Errorf("team %s: %w", team, ErrNoActiveSession)
		}
		return 0, fmt.Errorf("end session %d: %w", id, err)
	}
	delete(r.active, team)
	return id, nil
}

// Teams returns the teams with an active session, sorted.
func (r *Registry) Teams() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.active))
	for t := range r.active {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
