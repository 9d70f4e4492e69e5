package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// EnvHome overrides the default state directory.
const EnvHome = "TEAMSCOPE_HOME"

const defaultHomeDir = ".teamscope"

type homeKey struct{}

// WithHome attaches the resolved state directory to ctx for subcommands.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the state directory carried by ctx.
func HomeFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(homeKey{}).(string)
	return s, ok && s != ""
}

// MustHomeFrom is HomeFrom for commands that run after the root resolved the
// home; a missing value is a wiring bug.
func MustHomeFrom(ctx context.Context) string {
	h, ok := HomeFrom(ctx)
	if !ok {
		panic("config: state directory not set on command context")
	}
	return h
}

// ResolveHome picks the state directory: the --home value, then
// TEAMSCOPE_HOME, then ~/.teamscope. A leading ~ is expanded and the result
// is made absolute so the background daemon sees the same path.
func ResolveHome(override string) (string, error) {
	p := override
	if p == "" {
		p = os.Getenv(EnvHome)
	}
	if p == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve state directory: %w", err)
		}
		return filepath.Join(userHome, defaultHomeDir), nil
	}
	p, err := expandHome(p)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve state directory %s: %w", p, err)
	}
	return abs, nil
}
