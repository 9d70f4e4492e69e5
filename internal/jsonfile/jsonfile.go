// Package jsonfile reads JSON documents that other processes may still be writing.
package jsonfile

import (
	"bytes"
	"encoding/json"
	"os"
)

// Read returns the raw JSON stored at path. ok is false when the file is missing,
// unreadable, empty or not valid JSON (typically a partial write); callers treat
// that as "no data yet" and wait for the next notification.
func Read(path string) (raw json.RawMessage, ok bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || !json.Valid(b) {
		return nil, false
	}
	return json.RawMessage(b), true
}

// Decode reads path into v with the same not-ready semantics as Read.
func Decode(path string, v any) bool {
	raw, ok := Read(path)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}
