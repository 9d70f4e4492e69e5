package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:3847")
	if c.BaseURL != "http://localhost:3847" || c.client() != http.DefaultClient {
		t.Errorf("New: %+v", c)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","timestamp":"2026-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	ok, err := New(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !ok {
		t.Fatal("Health: expected ok")
	}
}

func TestHealth_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Health(context.Background()); err == nil {
		t.Fatal("expected error from 503")
	}
}

func TestTeamsAndHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/teams":
			_, _ = w.Write([]byte(`{"teams":[{"name":"alpha","config":{},"tasks":[],"messages":{},"sessionId":7,"session":null}]}`))
		case "/api/history":
			if got := r.URL.Query().Get("limit"); got != "5" {
				t.Errorf("limit: %q", got)
			}
			_, _ = w.Write([]byte(`{"sessions":[{"id":7,"team_name":"alpha","status":"completed","total_tokens":10,"agents":[],"tasks":[],"messageCount":3}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	teams, err := c.Teams(ctx)
	if err != nil {
		t.Fatalf("Teams: %v", err)
	}
	if len(teams) != 1 || teams[0].Name != "alpha" || teams[0].SessionID == nil || *teams[0].SessionID != 7 {
		t.Fatalf("Teams: %+v", teams)
	}

	hist, err := c.History(ctx, 5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 || hist[0].ID != 7 || hist[0].MessageCount != 3 || hist[0].TotalTokens != 10 {
		t.Fatalf("History: %+v", hist)
	}
}

func TestTeam_notFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/teams/a b" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Team not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Team(context.Background(), "a b")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Team: got %v, want ErrNotFound", err)
	}
}

func TestEndSessionAndAgentStatus(t *testing.T) {
	var bodies []map[string]any
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request: %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		var b map[string]any
		_ = json.NewDecoder(r.Body).Decode(&b)
		bodies = append(bodies, b)
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	if err := c.EndSession(ctx, "alpha", 1200); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := c.SetAgentStatus(ctx, "alpha", "A", "idle"); err != nil {
		t.Fatalf("SetAgentStatus: %v", err)
	}
	if paths[0] != "/api/teams/alpha/end" || bodies[0]["totalTokens"] != float64(1200) {
		t.Errorf("end: %s %v", paths[0], bodies[0])
	}
	if paths[1] != "/api/teams/alpha/agents/A/status" || bodies[1]["status"] != "idle" {
		t.Errorf("status: %s %v", paths[1], bodies[1])
	}
}
