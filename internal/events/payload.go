package events

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Member is one entry of a team config's "members" list.
type Member struct {
	Name      string
	AgentType string
	Model     string
}

// ParseMembers extracts the members of a team config. Entries without a
// string name are skipped; a config without a members array yields nil.
func ParseMembers(config json.RawMessage) []Member {
	var doc struct {
		Members []json.RawMessage `json:"members"`
	}
	if json.Unmarshal(config, &doc) != nil {
		return nil
	}
	var out []Member
	for _, raw := range doc.Members {
		var m map[string]json.RawMessage
		if json.Unmarshal(raw, &m) != nil {
			continue
		}
		name := stringField(m, "name")
		if name == "" {
			continue
		}
		out = append(out, Member{Name: name, AgentType: stringField(m, "agentType"), Model: stringField(m, "model")})
	}
	return out
}

// InboxMessage is a message that qualifies for storage.
type InboxMessage struct {
	From    string
	To      string
	Content string
	Type    string
}

// ParseInbox returns the storable messages of an inbox file in file order.
// A message qualifies when it has a non-empty string "from" and a non-empty
// "content"; non-string content is kept as its JSON text. "to" defaults to the
// inbox owner and "type" to "message". ok is false when the payload is not an array.
func ParseInbox(raw json.RawMessage, owner string) (msgs []InboxMessage, ok bool) {
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil || items == nil {
		return nil, false
	}
	for _, item := range items {
		var m map[string]json.RawMessage
		if json.Unmarshal(item, &m) != nil {
			continue
		}
		from := stringField(m, "from")
		content, present := contentText(m["content"])
		if from == "" || !present {
			continue
		}
		to := stringField(m, "to")
		if to == "" {
			to = owner
		}
		typ := stringField(m, "type")
		if typ == "" {
			typ = "message"
		}
		msgs = append(msgs, InboxMessage{From: from, To: to, Content: content, Type: typ})
	}
	return msgs, true
}

// TaskFields are the task file fields the store keeps.
type TaskFields struct {
	ExternalID  string
	Subject     string
	Description string
	Status      string
	Owner       *string
}

// ParseTask reads a task file body. The external id is the "id" field (string
// or number); without one the file name minus ".json" is used. ok is false
// when the payload is not an object.
func ParseTask(raw json.RawMessage, fileName string) (TaskFields, bool) {
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil || m == nil {
		return TaskFields{}, false
	}
	t := TaskFields{
		ExternalID:  scalarField(m, "id"),
		Subject:     stringField(m, "subject"),
		Description: stringField(m, "description"),
		Status:      stringField(m, "status"),
	}
	if t.ExternalID == "" {
		t.ExternalID = strings.TrimSuffix(fileName, jsonExt)
	}
	if owner := stringField(m, "owner"); owner != "" {
		t.Owner = &owner
	}
	return t, true
}

func stringField(m map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := m[key]; ok && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

// scalarField renders a string or number field as text.
func scalarField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	if s := stringField(m, key); s != "" {
		return s
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if dec.Decode(&n) == nil {
		return n.String()
	}
	return ""
}

func contentText(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, s != ""
	}
	var compact bytes.Buffer
	if json.Compact(&compact, raw) != nil {
		return "", false
	}
	return compact.String(), true
}
