// Package snapshot rebuilds current team state directly from the team and
// task directories, independent of the event stream.
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ankittk/teamscope/internal/jsonfile"
	"github.com/ankittk/teamscope/pkg/models"
)

// Builder reads snapshots from TeamsDir and TasksDir.
type Builder struct {
	TeamsDir string
	TasksDir string
}

// Teams returns a snapshot of every team directory with a parseable
// config.json, sorted by name. Missing roots yield an empty list.
func (b Builder) Teams() []models.TeamSnapshot {
	entries, err := os.ReadDir(b.TeamsDir)
	if err != nil {
		return []models.TeamSnapshot{}
	}
	out := make([]models.TeamSnapshot, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if snap, ok := b.Team(e.Name()); ok {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Team returns one team's snapshot; ok is false when it has no parseable config.
func (b Builder) Team(name string) (models.TeamSnapshot, bool) {
	if !validName(name) {
		return models.TeamSnapshot{}, false
	}
	cfg, ok := jsonfile.Read(filepath.Join(b.TeamsDir, name, "config.json"))
	if !ok || string(cfg) == "null" {
		return models.TeamSnapshot{}, false
	}
	return models.TeamSnapshot{
		Name:     name,
		Config:   cfg,
		Tasks:    b.tasks(name),
		Messages: b.inboxes(name),
	}, true
}

// tasks returns the team's task files in file name order, skipping bad files.
func (b Builder) tasks(team string) []json.RawMessage {
	out := []json.RawMessage{}
	for _, p := range jsonFiles(filepath.Join(b.TasksDir, team)) {
		if raw, ok := jsonfile.Read(p); ok {
			out = append(out, raw)
		}
	}
	return out
}

// inboxes maps each inbox owner to the raw inbox contents.
func (b Builder) inboxes(team string) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	for _, p := range jsonFiles(filepath.Join(b.TeamsDir, team, "inboxes")) {
		if raw, ok := jsonfile.Read(p); ok {
			out[strings.TrimSuffix(filepath.Base(p), ".json")] = raw
		}
	}
	return out
}

func jsonFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".json") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

// validName rejects names that would escape the teams root.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
