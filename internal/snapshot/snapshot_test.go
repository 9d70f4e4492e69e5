package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTeams(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	b := Builder{TeamsDir: filepath.Join(dir, "teams"), TasksDir: filepath.Join(dir, "tasks")}

	writeFile(t, filepath.Join(b.TeamsDir, "beta", "config.json"), `{"members":[]}`)
	writeFile(t, filepath.Join(b.TeamsDir, "alpha", "config.json"), `{"members":[{"name":"A"}]}`)
	writeFile(t, filepath.Join(b.TeamsDir, "alpha", "inboxes", "A.json"), `[{"from":"B","content":"hi"}]`)
	writeFile(t, filepath.Join(b.TeamsDir, "alpha", "inboxes", "broken.json"), `[{"from"`)
	writeFile(t, filepath.Join(b.TasksDir, "alpha", "1.json"), `{"id":"1"}`)
	writeFile(t, filepath.Join(b.TasksDir, "alpha", "2.json"), `{"id":`)
	writeFile(t, filepath.Join(b.TasksDir, "alpha", "notes.txt"), `x`)
	writeFile(t, filepath.Join(b.TeamsDir, "gamma", "config.json"), `not json`)
	writeFile(t, filepath.Join(b.TeamsDir, "delta", "readme.md"), `no config`)
	writeFile(t, filepath.Join(b.TeamsDir, "stray.json"), `{}`)

	teams := b.Teams()
	if len(teams) != 2 || teams[0].Name != "alpha" || teams[1].Name != "beta" {
		t.Fatalf("teams: %+v", teams)
	}
	alpha := teams[0]
	if len(alpha.Tasks) != 1 || string(alpha.Tasks[0]) != `{"id":"1"}` {
		t.Fatalf("tasks: %s", alpha.Tasks)
	}
	if len(alpha.Messages) != 1 || alpha.Messages["A"] == nil {
		t.Fatalf("messages: %v", alpha.Messages)
	}
	beta := teams[1]
	if beta.Tasks == nil || beta.Messages == nil {
		t.Fatal("empty tasks and messages should be non-nil so they encode as [] and {}")
	}
}

func TestTeams_missingRoots(t *testing.T) {
	t.Parallel()
	b := Builder{TeamsDir: filepath.Join(t.TempDir(), "nope"), TasksDir: "/definitely/not/here"}
	if got := b.Teams(); got == nil || len(got) != 0 {
		t.Fatalf("missing root: %v", got)
	}
}

func TestTeam(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	b := Builder{TeamsDir: filepath.Join(dir, "teams"), TasksDir: filepath.Join(dir, "tasks")}
	writeFile(t, filepath.Join(b.TeamsDir, "alpha", "config.json"), `{"members":[]}`)

	if _, ok := b.Team("alpha"); !ok {
		t.Fatal("alpha should exist")
	}
	for _, name := range []string{"missing", "", "..", "../teams/alpha"} {
		if _, ok := b.Team(name); ok {
			t.Errorf("Team(%q) should not resolve", name)
		}
	}
}
