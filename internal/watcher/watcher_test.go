package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastWatcher(root string, depth int) *FileWatcher {
	return New(Options{
		Root:               root,
		Depth:              depth,
		StabilityThreshold: 20 * time.Millisecond,
		PollInterval:       5 * time.Millisecond,
	})
}

func next(t *testing.T, w *FileWatcher, want func(Notification) bool) Notification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n, ok := <-w.Notifications():
			if !ok {
				t.Fatal("notifications closed")
			}
			if want(n) {
				return n
			}
		case <-deadline:
			t.Fatal("timed out waiting for notification")
		}
	}
}

func stop(t *testing.T, w *FileWatcher) {
	t.Helper()
	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not shut down")
	}
}

func TestWatcher_initialFilesAndNewDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "teams")
	if err := os.MkdirAll(filepath.Join(root, "alpha"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "alpha", "config.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	w := fastWatcher(root, 3)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop(t, w)

	n := next(t, w, func(n Notification) bool { return n.RelPath == "alpha/config.json" })
	if n.Kind != Add {
		t.Fatalf("existing file: got %s, want add", n.Kind)
	}

	inbox := filepath.Join(root, "alpha", "inboxes")
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to register the new directory, then write into it.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(inbox, "A.json"), []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}
	n = next(t, w, func(n Notification) bool { return n.RelPath == "alpha/inboxes/A.json" })
	if n.Kind != Add {
		t.Fatalf("new file: got %s, want add", n.Kind)
	}

	if err := os.WriteFile(filepath.Join(root, "alpha", "config.json"), []byte(`{"members":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	n = next(t, w, func(n Notification) bool { return n.RelPath == "alpha/config.json" })
	if n.Kind != Change {
		t.Fatalf("rewrite: got %s, want change", n.Kind)
	}

	if err := os.Remove(filepath.Join(inbox, "A.json")); err != nil {
		t.Fatal(err)
	}
	next(t, w, func(n Notification) bool { return n.RelPath == "alpha/inboxes/A.json" && n.Kind == Unlink })
}

func TestWatcher_createsMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does", "not", "exist")
	w := fastWatcher(root, 2)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop(t, w)
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
}

func TestWatcher_depthLimit(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(deep, "too-deep.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a", "ok.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	w := fastWatcher(root, 1)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stop(t, w)

	next(t, w, func(n Notification) bool {
		if n.RelPath == "a/b/too-deep.json" {
			t.Fatalf("file below depth reported: %+v", n)
		}
		return n.RelPath == "a/ok.json"
	})
}

func TestWatcher_stopIsIdempotent(t *testing.T) {
	w := fastWatcher(t.TempDir(), 1)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
	<-w.Done()
	if _, ok := <-w.Notifications(); ok {
		t.Fatal("notifications should be closed after stop")
	}
}

func TestWatcher_stopBeforeStart(t *testing.T) {
	w := fastWatcher(t.TempDir(), 1)
	w.Stop()
	if err := w.Start(context.Background()); err != ErrStopped {
		t.Fatalf("Start after Stop: got %v, want ErrStopped", err)
	}
	<-w.Done()
}

func TestWatcher_stopDuringStartup(t *testing.T) {
	root := t.TempDir()
	for i := range 200 {
		dir := filepath.Join(root, fmt.Sprintf("team-%03d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	for range 20 {
		w := fastWatcher(root, 2)
		started := make(chan error, 1)
		go func() { started <- w.Start(context.Background()) }()
		go w.Stop()

		if err := <-started; err != nil && err != ErrStopped {
			t.Fatalf("Start: %v", err)
		}
		select {
		case <-w.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("watcher did not shut down")
		}
		for range w.Notifications() {
		}
		w.Stop()
	}
}

func TestWatcher_contextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := fastWatcher(t.TempDir(), 1)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher ignored context cancellation")
	}
	w.Stop()
}
