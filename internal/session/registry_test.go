package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ankittk/teamscope/internal/store"
	"github.com/ankittk/teamscope/internal/watcher"
)

func TestDecide(t *testing.T) {
	t.Parallel()
	tests := []struct {
		active bool
		kind   watcher.ChangeKind
		want   Transition
	}{
		{false, watcher.Add, Create},
		{false, watcher.Change, None},
		{false, watcher.Unlink, None},
		{true, watcher.Add, Refresh},
		{true, watcher.Change, Refresh},
		{true, watcher.Unlink, None},
	}
	for _, tt := range tests {
		if got := Decide(tt.active, tt.kind); got != tt.want {
			t.Errorf("Decide(%v, %s) = %s, want %s", tt.active, tt.kind, got, tt.want)
		}
	}
}

func TestRegistry_atMostOneActivePerTeam(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory(nil)
	r := NewRegistry(st)

	id1, tr, err := r.Resolve(ctx, "alpha", watcher.Add, nil)
	if err != nil || tr != Create {
		t.Fatalf("first add: tr=%s err=%v", tr, err)
	}
	id2, tr, err := r.Resolve(ctx, "alpha", watcher.Add, nil)
	if err != nil || tr != Refresh || id2 != id1 {
		t.Fatalf("second add should refresh %d, got %d tr=%s err=%v", id1, id2, tr, err)
	}
	sessions, _ := st.ListSessions(ctx, 0)
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}

	if _, tr, _ := r.Resolve(ctx, "beta", watcher.Change, nil); tr != None {
		t.Fatalf("change without session: got %s", tr)
	}
	if _, ok := r.Lookup("beta"); ok {
		t.Fatal("beta should have no session")
	}
}

func TestRegistry_endThenRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory(nil)
	r := NewRegistry(st)

	if _, err := r.End(ctx, "alpha", 0); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("End without session: got %v", err)
	}
	id1, _, _ := r.Resolve(ctx, "alpha", watcher.Add, nil)
	ended, err := r.End(ctx, "alpha", 500)
	if err != nil || ended != id1 {
		t.Fatalf("End: id=%d err=%v", ended, err)
	}
	if _, ok := r.Lookup("alpha"); ok {
		t.Fatal("ended session still indexed")
	}
	sess, _ := st.GetSession(ctx, id1)
	if sess.Status != store.SessionCompleted || sess.TotalTokens != 500 {
		t.Fatalf("stored session: %+v", sess)
	}

	id2, tr, _ := r.Resolve(ctx, "alpha", watcher.Add, nil)
	if tr != Create || id2 == id1 {
		t.Fatalf("add after end should start a fresh session, got %d tr=%s", id2, tr)
	}
}

func TestRegistry_endRejectsNegativeTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory(nil)
	r := NewRegistry(st)

	id, _, _ := r.Resolve(ctx, "alpha", watcher.Add, nil)
	if _, err := r.End(ctx, "alpha", -500); !errors.Is(err, ErrInvalidTokens) {
		t.Fatalf("End(-500): got %v, want ErrInvalidTokens", err)
	}
	if got, ok := r.Lookup("alpha"); !ok || got != id {
		t.Fatalf("session should stay active, got %d ok=%v", got, ok)
	}
	sess, _ := st.GetSession(ctx, id)
	if sess.Status != store.SessionActive || sess.TotalTokens != 0 {
		t.Fatalf("stored session changed: %+v", sess)
	}
	if _, err := r.End(ctx, "alpha", 0); err != nil {
		t.Fatalf("End(0): %v", err)
	}
}

func TestRegistry_recover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	home := filepath.Join(t.TempDir(), "home")
	st, err := store.Open(home)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = st.Close() }()

	r := NewRegistry(st)
	alpha, _, _ := r.Resolve(ctx, "alpha", watcher.Add, nil)
	beta, _, _ := r.Resolve(ctx, "beta", watcher.Add, nil)
	if _, err := r.End(ctx, "beta", 0); err != nil {
		t.Fatal(err)
	}

	fresh := NewRegistry(st)
	n, err := fresh.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d teams, want 1", n)
	}
	if id, ok := fresh.Lookup("alpha"); !ok || id != alpha {
		t.Fatalf("alpha: got %d ok=%v, want %d", id, ok, alpha)
	}
	if _, ok := fresh.Lookup("beta"); ok {
		t.Fatalf("ended session %d must not be recovered", beta)
	}
	if got := fresh.Teams(); len(got) != 1 || got[0] != "alpha" {
		t.Fatalf("Teams: %v", got)
	}
}
