package bus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ankittk/teamscope/internal/events"
	"github.com/ankittk/teamscope/internal/session"
	"github.com/ankittk/teamscope/internal/store"
	"github.com/ankittk/teamscope/internal/watcher"
	"github.com/ankittk/teamscope/pkg/models"
)

type recorder struct {
	mu   sync.Mutex
	envs []models.Envelope
}

func (r *recorder) Broadcast(env models.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *recorder) last(t *testing.T) (string, map[string]any) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.envs) == 0 {
		t.Fatal("nothing broadcast")
	}
	env := r.envs[len(r.envs)-1]
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode %s: %v", env.Data, err)
	}
	return env.Type, data
}

type fixture struct {
	teams, tasks string
	st           store.Store
	bus          *Bus
	rec          *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st := store.NewMemory(nil)
	b := New(st, session.NewRegistry(st), nil)
	rec := &recorder{}
	b.Attach(rec)
	return &fixture{teams: filepath.Join(dir, "teams"), tasks: filepath.Join(dir, "tasks"), st: st, bus: b, rec: rec}
}

// write puts body at root/rel and runs the resulting notification through the pipeline.
func (f *fixture) write(t *testing.T, root events.RootKind, rel, body string, kind watcher.ChangeKind) events.Event {
	t.Helper()
	base := f.teams
	if root == events.RootTasks {
		base = f.tasks
	}
	p := filepath.Join(base, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return f.bus.Process(context.Background(), root, watcher.Notification{Root: base, Path: p, RelPath: rel, Kind: kind})
}

func (f *fixture) active(t *testing.T, team string) int64 {
	t.Helper()
	id, ok := f.bus.Registry().Lookup(team)
	if !ok {
		t.Fatalf("no active session for %s", team)
	}
	return id
}

func TestScenario_teamThenTaskLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, events.RootTeams, "alpha/config.json", `{"members":[{"name":"A","agentType":"coder","model":"x"}]}`, watcher.Add)
	sid := f.active(t, "alpha")
	agents, _ := f.st.ListAgents(ctx, sid)
	if len(agents) != 1 || agents[0].Name != "A" || agents[0].AgentType != "coder" {
		t.Fatalf("agents: %+v", agents)
	}
	typ, data := f.rec.last(t)
	if typ != "team:update" || data["sessionId"] != float64(sid) || data["teamName"] != "alpha" {
		t.Fatalf("team broadcast: %s %v", typ, data)
	}

	f.write(t, events.RootTasks, "alpha/t1.json", `{"id":"t1","subject":"S","status":"pending"}`, watcher.Add)
	tasks, _ := f.st.ListTasks(ctx, sid)
	if len(tasks) != 1 || tasks[0].Subject != "S" || tasks[0].Status != store.TaskPending || tasks[0].CompletedAt != nil {
		t.Fatalf("pending task: %+v", tasks)
	}
	before := tasks[0].UpdatedAt

	time.Sleep(2 * time.Millisecond)
	f.write(t, events.RootTasks, "alpha/t1.json", `{"id":"t1","subject":"S","status":"completed"}`, watcher.Change)
	tasks, _ = f.st.ListTasks(ctx, sid)
	if len(tasks) != 1 || tasks[0].CompletedAt == nil || !tasks[0].UpdatedAt.After(before) {
		t.Fatalf("completed task: %+v", tasks)
	}

	evs, _ := f.st.ListEvents(ctx, sid, 0)
	want := []string{EventTaskUpdated, EventTaskUpdated, EventTeamCreated}
	if len(evs) != len(want) {
		t.Fatalf("events: %+v", evs)
	}
	for i, e := range evs {
		if e.EventType != want[i] {
			t.Fatalf("event %d: %s, want %s", i, e.EventType, want[i])
		}
	}
}

func TestTaskWithoutSessionIsDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.write(t, events.RootTasks, "ghost/t1.json", `{"id":"t1","status":"pending"}`, watcher.Add)
	sessions, _ := f.st.ListSessions(context.Background(), 0)
	if len(sessions) != 0 {
		t.Fatalf("store mutated: %+v", sessions)
	}
	typ, data := f.rec.last(t)
	if typ != "task:update" {
		t.Fatalf("type: %s", typ)
	}
	if v, ok := data["sessionId"]; !ok || v != nil {
		t.Fatalf("dropped event should still broadcast with null sessionId: %v", data)
	}
}

func TestConfigChangeWithoutSessionDoesNotCreate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(t, events.RootTeams, "alpha/config.json", `{"members":[]}`, watcher.Change)
	if _, ok := f.bus.Registry().Lookup("alpha"); ok {
		t.Fatal("change must not open a session")
	}
}

func TestConfigRefreshUpsertsRoster(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, events.RootTeams, "alpha/config.json", `{"members":[{"name":"A"}]}`, watcher.Add)
	sid := f.active(t, "alpha")
	f.write(t, events.RootTeams, "alpha/config.json", `{"members":[{"name":"A"},{"name":"B","model":"m"}]}`, watcher.Change)

	if id := f.active(t, "alpha"); id != sid {
		t.Fatalf("refresh opened a new session %d (was %d)", id, sid)
	}
	agents, _ := f.st.ListAgents(ctx, sid)
	if len(agents) != 2 || agents[1].Name != "B" || agents[1].Model != "m" || agents[0].AgentType != store.AgentUnknown {
		t.Fatalf("agents: %+v", agents)
	}
	sessions, _ := f.st.ListSessions(ctx, 0)
	if len(sessions) != 1 {
		t.Fatalf("sessions: %d", len(sessions))
	}
}

func TestInboxMessagesAppendedInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, events.RootTeams, "alpha/config.json", `{"members":[]}`, watcher.Add)
	sid := f.active(t, "alpha")

	f.write(t, events.RootTeams, "alpha/inboxes/lead.json", `[{"from":"A","content":"one"},{"from":"","content":"skip"},{"from":"B","content":"two"}]`, watcher.Add)
	f.write(t, events.RootTeams, "alpha/inboxes/B.json", `[{"from":"lead","to":"B","content":{"op":"go"}}]`, watcher.Add)
	f.write(t, events.RootTeams, "alpha/inboxes/C.json", `{"not":"an array"}`, watcher.Add)

	if n, _ := f.st.CountMessages(ctx, sid); n != 3 {
		t.Fatalf("CountMessages: %d, want 3", n)
	}
	msgs, _ := f.st.ListMessages(ctx, sid, 0)
	// Newest first.
	got := []string{msgs[2].Content, msgs[1].Content, msgs[0].Content}
	want := []string{"one", "two", `{"op":"go"}`}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message order: %v, want %v", got, want)
		}
	}
	if msgs[2].ToAgent != "lead" || msgs[2].MessageType != "message" {
		t.Fatalf("defaults: %+v", msgs[2])
	}
	evs, _ := f.st.ListEvents(ctx, sid, 0)
	n := 0
	for _, e := range evs {
		if e.EventType == EventMessageReceived {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("message_received events: %d, want 2 (non-array inbox records none)", n)
	}
}

func TestProcessIgnoresUnreadableAndUnlink(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if _, ok := f.write(t, events.RootTeams, "alpha/config.json", `{"members":`, watcher.Add).(events.Ignored); !ok {
		t.Fatal("partial write should be ignored")
	}
	ev := f.bus.Process(context.Background(), events.RootTeams, watcher.Notification{
		Path: filepath.Join(f.teams, "alpha", "config.json"), RelPath: "alpha/config.json", Kind: watcher.Unlink,
	})
	if _, ok := ev.(events.Ignored); !ok {
		t.Fatalf("unlink: got %T", ev)
	}
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	if len(f.rec.envs) != 0 {
		t.Fatalf("ignored notifications must not broadcast: %+v", f.rec.envs)
	}
}

func TestEndSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.bus.EndSession(ctx, "alpha", 0); !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("end without session: %v", err)
	}
	f.write(t, events.RootTeams, "alpha/config.json", `{"members":[]}`, watcher.Add)
	sid := f.active(t, "alpha")

	id, err := f.bus.EndSession(ctx, "alpha", 42)
	if err != nil || id != sid {
		t.Fatalf("EndSession: %d %v", id, err)
	}
	typ, data := f.rec.last(t)
	if typ != "session:ended" || data["teamName"] != "alpha" || data["sessionId"] != float64(sid) {
		t.Fatalf("broadcast: %s %v", typ, data)
	}
	evs, _ := f.st.ListEvents(ctx, sid, 1)
	if len(evs) != 1 || evs[0].EventType != EventSessionEnded {
		t.Fatalf("session_ended record: %+v", evs)
	}

	// A later add starts a fresh session.
	f.write(t, events.RootTeams, "alpha/config.json", `{"members":[]}`, watcher.Add)
	if f.active(t, "alpha") == sid {
		t.Fatal("expected a new session after end")
	}
}

func TestSetAgentStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.bus.SetAgentStatus(ctx, "alpha", "A", store.AgentIdle); !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("no session: %v", err)
	}
	f.write(t, events.RootTeams, "alpha/config.json", `{"members":[{"name":"A"}]}`, watcher.Add)
	if err := f.bus.SetAgentStatus(ctx, "alpha", "A", "sleeping"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("bad status: %v", err)
	}
	if err := f.bus.SetAgentStatus(ctx, "alpha", "ghost", store.AgentIdle); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown agent: %v", err)
	}
	if err := f.bus.SetAgentStatus(ctx, "alpha", "A", store.AgentIdle); err != nil {
		t.Fatal(err)
	}
	agents, _ := f.st.ListAgents(ctx, f.active(t, "alpha"))
	if agents[0].Status != store.AgentIdle {
		t.Fatalf("status: %+v", agents[0])
	}
}

func TestRun_mergesSources(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(filepath.Join(f.teams, "alpha"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := filepath.Join(f.teams, "alpha", "config.json")
	if err := os.WriteFile(cfg, []byte(`{"members":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	teams := make(chan watcher.Notification, 1)
	tasks := make(chan watcher.Notification)
	teams <- watcher.Notification{Path: cfg, RelPath: "alpha/config.json", Kind: watcher.Add}
	close(teams)
	close(tasks)

	done := make(chan error, 1)
	go func() {
		done <- f.bus.Run(ctx, Source{Root: events.RootTeams, Notifications: teams}, Source{Root: events.RootTasks, Notifications: tasks})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after sources closed")
	}
	f.active(t, "alpha")
}
