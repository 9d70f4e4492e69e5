package ui

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	h := Handler()
	tests := []struct {
		path, contains string
	}{
		{"/", "<title>teamscope</title>"},
		{"/teams/alpha", "<title>teamscope</title>"},
		{"/app.js", "new WebSocket"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: status=%d", tt.path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tt.contains) {
			t.Fatalf("GET %s: body missing %q", tt.path, tt.contains)
		}
	}
}
