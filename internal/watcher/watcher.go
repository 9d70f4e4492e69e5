// Package watcher turns raw filesystem events under a root directory into
// stabilized add/change/unlink notifications.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	DefaultStabilityThreshold = 100 * time.Millisecond
	DefaultPollInterval       = 50 * time.Millisecond
)

// ErrStopped is returned by Start after Stop has been called.
var ErrStopped = errors.New("watcher stopped")

// Notification is one stabilized change under a watched root.
type Notification struct {
	Root    string     // absolute root directory
	Path    string     // absolute path of the file
	RelPath string     // slash separated path relative to Root
	Kind    ChangeKind // add, change or unlink
}

// Options configures a FileWatcher.
type Options struct {
	Root string
	// Depth is the number of directory levels below Root whose files are reported.
	// 0 reports files directly in Root only.
	Depth              int
	StabilityThreshold time.Duration
	PollInterval       time.Duration
	Clock              Clock
	Logger             *slog.Logger
	// Buffer is the capacity of the notification channel.
	Buffer int
}

// FileWatcher reports stabilized changes under one root directory. Files that
// already exist at Start are reported as adds once they are stable.
type FileWatcher struct {
	opts Options
	log  *slog.Logger
	out  chan Notification
	done chan struct{}

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	started bool
	stopped bool

	stab *stabilizer         // owned by the run goroutine once started
	dirs map[string]struct{} // watched directories, owned like stab
}

// New returns an unstarted watcher for opts.Root.
func New(opts Options) *FileWatcher {
	if opts.StabilityThreshold <= 0 {
		opts.StabilityThreshold = DefaultStabilityThreshold
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Depth < 0 {
		opts.Depth = 0
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	if abs, err := filepath.Abs(opts.Root); err == nil {
		opts.Root = abs
	}
	return &FileWatcher{
		opts: opts,
		log:  lg.With("component", "watcher", "root", opts.Root),
		out:  make(chan Notification, opts.Buffer),
		done: make(chan struct{}),
		stab: newStabilizer(opts.StabilityThreshold),
		dirs: make(map[string]struct{}),
	}
}

// Root returns the absolute directory being watched.
func (w *FileWatcher) Root() string { return w.opts.Root }

// Notifications returns the channel of stabilized changes. It is closed after Stop.
func (w *FileWatcher) Notifications() <-chan Notification { return w.out }

// Done is closed once the watcher has fully shut down.
func (w *FileWatcher) Done() <-chan struct{} { return w.done }

// Start creates the root if needed, registers existing directories and begins
// delivering notifications. It returns once the initial scan is queued.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.started = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.opts.Root, 0o755); err != nil {
		w.log.Warn("create root failed", "err", err)
	}
	w.scan(w.opts.Root, w.opts.Clock.Now())
	w.log.Debug("watching", "dirs", len(w.dirs), "pending", w.stab.pendingCount())

	go w.run(ctx, fsw)
	return nil
}

// Stop ends watching. It does not wait for the loop to exit (see Done), may be
// called more than once, and is safe while Start is still running.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if !w.started {
		close(w.out)
		close(w.done)
		return
	}
	w.cancel()
	if err := w.fsw.Close(); err != nil {
		w.log.Debug("close fsnotify", "err", err)
	}
}

func (w *FileWatcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)
	defer close(w.out)
	defer func() { _ = fsw.Close() }()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("fsnotify error", "err", err)
		case <-ticker.C:
			for _, r := range w.stab.poll(w.opts.Clock.Now(), os.Stat) {
				n := Notification{Root: w.opts.Root, Path: r.path, RelPath: w.rel(r.path), Kind: r.kind}
				select {
				case w.out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *FileWatcher) handle(ev fsnotify.Event) {
	now := w.opts.Clock.Now()
	switch {
	case ev.Has(fsnotify.Create):
		fi, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if fi.IsDir() {
			if w.depthOf(ev.Name) <= w.opts.Depth {
				// Files written before the watch was registered are picked up by the scan.
				w.scan(ev.Name, now)
			}
			return
		}
		if w.fileInRange(ev.Name) {
			w.stab.observe(ev.Name, Add, now)
		}
	case ev.Has(fsnotify.Write):
		if w.fileInRange(ev.Name) {
			w.stab.observe(ev.Name, Change, now)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if _, isDir := w.dirs[ev.Name]; isDir {
			w.dropDir(ev.Name)
			return
		}
		if w.fileInRange(ev.Name) {
			w.stab.observe(ev.Name, Unlink, now)
		}
	}
}

// scan watches dir and every subdirectory within depth, and queues an add for
// every file found.
func (w *FileWatcher) scan(dir string, now time.Time) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if w.depthOf(path) > w.opts.Depth {
				return fs.SkipDir
			}
			if _, ok := w.dirs[path]; ok {
				return nil
			}
			if err := w.fsw.Add(path); err != nil {
				if errors.Is(err, fsnotify.ErrClosed) {
					return fs.SkipAll
				}
				w.log.Debug("watch dir failed", "dir", path, "err", err)
				return fs.SkipDir
			}
			w.dirs[path] = struct{}{}
			return nil
		}
		if d.Type().IsRegular() && w.fileInRange(path) {
			w.stab.observe(path, Add, now)
		}
		return nil
	})
}

func (w *FileWatcher) dropDir(dir string) {
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
		}
	}
	for p := range w.stab.pending {
		if strings.HasPrefix(p, prefix) {
			w.stab.forget(p)
		}
	}
}

// depthOf returns how many directory levels path sits below the root (root is 0).
func (w *FileWatcher) depthOf(dir string) int {
	rel := w.rel(dir)
	if rel == "." || rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

// fileInRange reports whether a file at path lives in a directory within depth.
func (w *FileWatcher) fileInRange(path string) bool {
	rel := w.rel(path)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return false
	}
	return strings.Count(rel, "/") <= w.opts.Depth
}

func (w *FileWatcher) rel(path string) string {
	r, err := filepath.Rel(w.opts.Root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(r)
}
