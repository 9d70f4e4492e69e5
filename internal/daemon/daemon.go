package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ankittk/teamscope/internal/bus"
	"github.com/ankittk/teamscope/internal/config"
	"github.com/ankittk/teamscope/internal/events"
	"github.com/ankittk/teamscope/internal/httpapi"
	"github.com/ankittk/teamscope/internal/otel"
	"github.com/ankittk/teamscope/internal/store"
	"github.com/ankittk/teamscope/internal/store/postgres"
	"github.com/ankittk/teamscope/internal/watcher"
	"golang.org/x/sync/errgroup"
)

var errNotRunning = errors.New("teamscope is not running")

// StartForeground runs the monitor in this process until ctx is done. A
// cancelled ctx is a clean shutdown and returns nil.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.TeamsDir == "" || opts.TasksDir == "" {
		return errors.New("teams and tasks directories are required")
	}
	opts = opts.withDefaults()

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	// Acquire singleton lock (released on exit).
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	prof, err := startPprof(opts.PprofAddr)
	if err != nil {
		return fmt.Errorf("pprof: %w", err)
	}
	defer prof.close()

	ln, err := listen(opts.Port)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, opts)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { _ = st.Close() }()

	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		_ = ln.Close()
		return err
	}
	addr := ln.Addr().String()
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	srvOpts := httpapi.ServerOptions{
		Addr:     addr,
		Dev:      opts.Dev,
		TeamsDir: opts.TeamsDir,
		TasksDir: opts.TasksDir,
		Store:    st,
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "teamscope")
		if err != nil {
			slog.Warn("otel init failed, using plain metrics", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
		}
	}
	app, err := httpapi.NewApp(ctx, srvOpts)
	if err != nil {
		_ = ln.Close()
		return err
	}
	if srvOpts.MetricsHandler != nil {
		if err := otel.InitMetricsWithSessionCount(ctx, func() int64 { return int64(app.Registry.Len()) }); err != nil {
			slog.Warn("otel instruments", "err", err)
		}
	}

	slog.Info("daemon starting", "addr", addr, "home", opts.Home, "store", opts.DBDriver,
		"teams", opts.TeamsDir, "tasks", opts.TasksDir)
	return serve(ctx, app, ln, opts)
}

// serve runs the HTTP server, both watchers and the pipeline until ctx is
// done or one of them fails.
func serve(ctx context.Context, app *httpapi.App, ln net.Listener, opts StartOptions) error {
	newWatcher := func(root string, depth int) *watcher.FileWatcher {
		return watcher.New(watcher.Options{
			Root:               root,
			Depth:              depth,
			StabilityThreshold: opts.Watch.StabilityThreshold,
			PollInterval:       opts.Watch.PollInterval,
		})
	}
	teams := newWatcher(opts.TeamsDir, opts.Watch.TeamsDepth)
	tasks := newWatcher(opts.TasksDir, opts.Watch.TasksDepth)
	stopWatchers := func() {
		teams.Stop()
		tasks.Stop()
		<-teams.Done()
		<-tasks.Done()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range []*watcher.FileWatcher{teams, tasks} {
		if err := w.Start(gctx); err != nil {
			stopWatchers()
			_ = ln.Close()
			return fmt.Errorf("watch %s: %w", w.Root(), err)
		}
	}

	g.Go(func() error {
		err := app.Server.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return app.Bus.Run(gctx,
			bus.Source{Root: events.RootTeams, Notifications: teams.Notifications()},
			bus.Source{Root: events.RootTasks, Notifications: tasks.Notifications()},
		)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopWatchers()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})

	err := g.Wait()
	slog.Info("daemon stopped", "err", err)
	return err
}

func openStore(ctx context.Context, opts StartOptions) (store.Store, error) {
	switch opts.DBDriver {
	case "", config.DriverMemory:
		return store.NewMemory(nil), nil
	case config.DriverSQLite:
		return store.Open(opts.Home)
	case config.DriverPostgres:
		return postgres.Open(ctx, opts.DBURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.DBDriver)
	}
}

// StartBackground re-executes the binary as a detached `daemon` process and
// waits briefly for it to report running.
func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	opts = opts.withDefaults()

	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}

	// Best-effort: refuse to start if already running.
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, alreadyRunning(st.PID)
	}

	stderr, err := os.OpenFile(logPath(opts.Home), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	cmd := exec.Command(exe, daemonArgs(opts)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	cmd.Env = os.Environ()
	if opts.DBURL != "" {
		// Keep credentials off the command line.
		cmd.Env = append(cmd.Env, "DATABASE_URL="+opts.DBURL)
	}
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	// Wait briefly for pid file to appear or process to die.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fallback to started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

// daemonArgs renders opts as flags of the hidden daemon command.
func daemonArgs(opts StartOptions) []string {
	args := []string{
		"daemon",
		"--home", opts.Home,
		"--port", strconv.Itoa(opts.Port),
		"--teams-dir", opts.TeamsDir,
		"--tasks-dir", opts.TasksDir,
		"--store", opts.DBDriver,
		"--otel=" + strconv.FormatBool(opts.EnableOtel),
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}
	return args
}

// Stop sends SIGTERM to the running daemon and waits for it to exit,
// killing it after the shutdown timeout.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		// On unix FindProcess always succeeds; keep this for completeness.
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

// Status reads the pid and addr files. A stale pid file is removed.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pb)))
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

// listen binds the API port up front for a clearer error than ListenAndServe gives.
func listen(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("port %d is already in use", port)
	}
	return ln, nil
}
