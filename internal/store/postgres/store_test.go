package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/ankittk/teamscope/internal/store"
)

func TestOpen_skipIfNoDatabaseURL(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres test")
	}
	st, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	id, err := st.CreateSession(ctx, "pg-team", json.RawMessage(`{"members":[]}`))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := st.UpsertTask(ctx, id, store.TaskInput{ExternalID: "t1", Subject: "S", Status: "pending"}); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	if _, err := st.UpsertTask(ctx, id, store.TaskInput{ExternalID: "t1", Subject: "S", Status: "completed"}); err != nil {
		t.Fatalf("UpsertTask again: %v", err)
	}
	tasks, err := st.ListTasks(ctx, id)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].CompletedAt == nil {
		t.Fatalf("tasks: got %+v", tasks)
	}
	if err := st.EndSession(ctx, id, 10); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
}
