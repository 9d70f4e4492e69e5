package cli

import (
	"github.com/ankittk/teamscope/internal/config"
	"github.com/spf13/pflag"
)

// serveFlags are the daemon settings that may override config.yaml.
type serveFlags struct {
	port     int
	dev      bool
	pprof    string
	teamsDir string
	tasksDir string
	store    string
	dbURL    string
	otel     bool
}

func (f *serveFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&f.port, "port", 3847, "Port for the dashboard and API")
	fs.BoolVar(&f.dev, "dev", false, "Enable dev mode (CORS for a separate dashboard dev server)")
	fs.StringVar(&f.pprof, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	fs.StringVar(&f.teamsDir, "teams-dir", "", "Teams root to watch (default ~/.claude/teams)")
	fs.StringVar(&f.tasksDir, "tasks-dir", "", "Tasks root to watch (default ~/.claude/tasks)")
	fs.StringVar(&f.store, "store", "", "Store driver: memory, sqlite or postgres")
	fs.StringVar(&f.dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	fs.BoolVar(&f.otel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter at /metrics)")
}

// apply overlays the flags the user actually set onto cfg.
func (f *serveFlags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if fs.Changed("dev") {
		cfg.Dev = f.dev
	}
	if fs.Changed("pprof") {
		cfg.Pprof = f.pprof
	}
	if fs.Changed("teams-dir") {
		cfg.TeamsDir = f.teamsDir
	}
	if fs.Changed("tasks-dir") {
		cfg.TasksDir = f.tasksDir
	}
	if fs.Changed("store") {
		cfg.Store.Driver = f.store
	}
	if fs.Changed("db-url") {
		cfg.Store.URL = f.dbURL
	}
	if fs.Changed("otel") {
		cfg.Otel = f.otel
	}
	return cfg.Validate()
}
