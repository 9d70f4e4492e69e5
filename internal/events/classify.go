package events

import (
	"bytes"
	"encoding/json"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/ankittk/teamscope/internal/watcher"
)

// RootKind says which watched tree a change came from.
type RootKind string

const (
	RootTeams RootKind = "teams"
	RootTasks RootKind = "tasks"
)

const (
	configFile = "config.json"
	inboxDir   = "inboxes"
	jsonExt    = ".json"
)

// Input is everything the classifier looks at. Content is nil when the file
// could not be read or parsed.
type Input struct {
	Root    RootKind
	RelPath string // slash separated, relative to the root
	Kind    watcher.ChangeKind
	Content json.RawMessage
	At      time.Time
}

// Classify maps a file change to a domain event. It only looks at the path
// shape and whether content is present; it never inspects domain fields.
func Classify(in Input) Event {
	if isNull(in.Content) {
		return Ignored{Reason: "no content"}
	}
	parts := strings.Split(path.Clean(in.RelPath), "/")
	if len(parts) < 2 {
		return Ignored{Reason: "outside a team directory"}
	}
	team, file := parts[0], parts[len(parts)-1]

	switch in.Root {
	case RootTeams:
		if file == configFile && len(parts) == 2 {
			return TeamConfigChanged{Event: in.Kind, TeamName: team, Config: in.Content, Timestamp: in.At}
		}
		if strings.HasSuffix(file, jsonExt) && slices.Contains(parts[1:len(parts)-1], inboxDir) {
			return InboxMessageArrived{
				Event:     in.Kind,
				TeamName:  team,
				AgentName: strings.TrimSuffix(file, jsonExt),
				Messages:  in.Content,
				Timestamp: in.At,
			}
		}
	case RootTasks:
		if strings.HasSuffix(file, jsonExt) {
			return TaskFileChanged{Event: in.Kind, TeamName: team, FileName: file, Task: in.Content, Timestamp: in.At}
		}
	}
	return Ignored{Reason: "unrecognized file"}
}

func isNull(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
