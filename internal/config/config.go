package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the daemon configuration read from <home>/config.yaml.
type Config struct {
	TeamsDir string      `yaml:"teams_dir"`
	TasksDir string      `yaml:"tasks_dir"`
	Port     int         `yaml:"port"`
	Dev      bool        `yaml:"dev"`
	Pprof    string      `yaml:"pprof,omitempty"`
	Otel     bool        `yaml:"otel"`
	Store    StoreConfig `yaml:"store"`
	Watch    WatchConfig `yaml:"watch"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url,omitempty"` // postgres only
}

// WatchConfig tunes the filesystem watchers.
type WatchConfig struct {
	StabilityThreshold time.Duration `yaml:"stability_threshold"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	TeamsDepth         int           `yaml:"teams_depth"`
	TasksDepth         int           `yaml:"tasks_depth"`
}

// Path returns <home>/config.yaml.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Default returns the built-in configuration. The watched roots live under
// the user's ~/.claude directory.
func Default() Config {
	claude := "~/.claude"
	return Config{
		TeamsDir: filepath.Join(claude, "teams"),
		TasksDir: filepath.Join(claude, "tasks"),
		Port:     3847,
		Otel:     true,
		Store:    StoreConfig{Driver: DriverMemory},
		Watch: WatchConfig{
			StabilityThreshold: 100 * time.Millisecond,
			PollInterval:       50 * time.Millisecond,
			TeamsDepth:         3,
			TasksDepth:         2,
		},
	}
}

// Load returns defaults overlaid with <home>/config.yaml (if present) and
// then the environment. Directory values have a leading ~ expanded.
func Load(home string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(Path(home))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", Path(home), err)
		}
	case !os.IsNotExist(err):
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if cfg.TeamsDir, err = expandHome(cfg.TeamsDir); err != nil {
		return Config{}, err
	}
	if cfg.TasksDir, err = expandHome(cfg.TasksDir); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Save writes cfg to <home>/config.yaml.
func Save(home string, cfg Config) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(home), data, 0o644)
}

// Validate rejects values the daemon cannot run with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Watch.StabilityThreshold <= 0 || c.Watch.PollInterval <= 0 {
		return fmt.Errorf("watch intervals must be positive")
	}
	if c.Watch.TeamsDepth < 1 || c.Watch.TasksDepth < 1 {
		return fmt.Errorf("watch depths must be at least 1")
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TEAMSCOPE_TEAMS_DIR"); v != "" {
		c.TeamsDir = v
	}
	if v := os.Getenv("TEAMSCOPE_TASKS_DIR"); v != "" {
		c.TasksDir = v
	}
	if v := os.Getenv("TEAMSCOPE_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TEAMSCOPE_PORT: %w", err)
		}
		c.Port = p
	}
	if v := os.Getenv("TEAMSCOPE_STORE"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && c.Store.URL == "" {
		c.Store.URL = v
	}
	return nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return filepath.Join(home, p[1:]), nil
}
