package daemon

import (
	"time"

	"github.com/ankittk/teamscope/internal/config"
)

// StartOptions configures the daemon: where it listens, which roots it
// watches and which store it writes to.
type StartOptions struct {
	Home       string
	Port       int
	Dev        bool
	PprofAddr  string
	TeamsDir   string
	TasksDir   string
	DBDriver   string // "memory" (default), "sqlite" or "postgres"
	DBURL      string // for postgres: connection string (or DATABASE_URL env)
	Watch      config.WatchConfig
	EnableOtel bool // Prometheus exporter at /metrics plus otelhttp request metrics
}

// OptionsFromConfig maps a loaded config onto StartOptions.
func OptionsFromConfig(home string, cfg config.Config) StartOptions {
	return StartOptions{
		Home:       home,
		Port:       cfg.Port,
		Dev:        cfg.Dev,
		PprofAddr:  cfg.Pprof,
		TeamsDir:   cfg.TeamsDir,
		TasksDir:   cfg.TasksDir,
		DBDriver:   cfg.Store.Driver,
		DBURL:      cfg.Store.URL,
		Watch:      cfg.Watch,
		EnableOtel: cfg.Otel,
	}
}

func (o StartOptions) withDefaults() StartOptions {
	def := config.Default()
	if o.Port == 0 {
		o.Port = def.Port
	}
	if o.DBDriver == "" {
		o.DBDriver = config.DriverMemory
	}
	if o.Watch.StabilityThreshold <= 0 {
		o.Watch.StabilityThreshold = def.Watch.StabilityThreshold
	}
	if o.Watch.PollInterval <= 0 {
		o.Watch.PollInterval = def.Watch.PollInterval
	}
	if o.Watch.TeamsDepth <= 0 {
		o.Watch.TeamsDepth = def.Watch.TeamsDepth
	}
	if o.Watch.TasksDepth <= 0 {
		o.Watch.TasksDepth = def.Watch.TasksDepth
	}
	return o
}

// shutdownTimeout bounds how long in-flight requests get on stop.
const shutdownTimeout = 15 * time.Second

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
