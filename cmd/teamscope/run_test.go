package main

import (
	"context"
	"testing"
)

func TestRun_exitCodes(t *testing.T) {
	home := t.TempDir()
	cases := []struct {
		name string
		args []string
		want int
	}{
		{"help", []string{"--help"}, 0},
		{"version", []string{"--version"}, 0},
		{"status without daemon", []string{"--home", home, "status"}, 0},
		{"unknown flag", []string{"--unknown-flag"}, 1},
		{"end needs a team", []string{"--home", home, "end"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Run(context.Background(), tc.args); got != tc.want {
				t.Errorf("Run %v: got exit code %d, want %d", tc.args, got, tc.want)
			}
		})
	}
}
