package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ankittk/teamscope/internal/events"
	"github.com/ankittk/teamscope/internal/watcher"
	"github.com/ankittk/teamscope/pkg/models"
	"github.com/gorilla/websocket"
)

func readFrame(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env models.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return env
}

func waitSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers: %d, want %d", hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_initialStateThenEvents(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.put(t, events.RootTeams, "alpha/config.json", `{"members":[{"name":"A"}]}`, watcher.Add)

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("upgrade status: %d", resp.StatusCode)
	}

	first := readFrame(t, conn)
	if first.Type != models.TypeInitialState {
		t.Fatalf("first frame: %s", first.Type)
	}
	var state models.InitialState
	if err := json.Unmarshal(first.Data, &state); err != nil {
		t.Fatal(err)
	}
	if len(state.Teams) != 1 || state.Teams[0].Name != "alpha" {
		t.Fatalf("initial teams: %+v", state.Teams)
	}
	waitSubscribers(t, env.app.Hub, 1)

	env.put(t, events.RootTasks, "alpha/t1.json", `{"id":"t1","status":"in_progress"}`, watcher.Add)
	env.put(t, events.RootTasks, "alpha/t1.json", `{"id":"t1","status":"completed"}`, watcher.Change)

	for _, want := range []string{"add", "change"} {
		f := readFrame(t, conn)
		if f.Type != models.TypeTaskUpdate {
			t.Fatalf("frame type: %s", f.Type)
		}
		var data struct {
			Event     string `json:"event"`
			TeamName  string `json:"teamName"`
			SessionID *int64 `json:"sessionId"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			t.Fatal(err)
		}
		if data.Event != want || data.TeamName != "alpha" || data.SessionID == nil {
			t.Fatalf("task frame: %+v, want event %s", data, want)
		}
	}

	if _, err := env.app.Bus.EndSession(t.Context(), "alpha", 5); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != models.TypeSessionEnded {
		t.Fatalf("frame type: %s", f.Type)
	}
}

func TestWebSocket_disconnectUnsubscribes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readFrame(t, conn)
	waitSubscribers(t, env.app.Hub, 1)
	_ = conn.Close()
	waitSubscribers(t, env.app.Hub, 0)
}

func TestWebSocket_hubCloseEndsConnection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	readFrame(t, conn)
	waitSubscribers(t, env.app.Hub, 1)

	env.app.Hub.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}
