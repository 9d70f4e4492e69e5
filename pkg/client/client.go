// Package client provides a Go SDK for the teamscope HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ankittk/teamscope/pkg/models"
)

// ErrNotFound is returned (wrapped) for 404 responses.
var ErrNotFound = errors.New("not found")

// Client calls the teamscope HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3847"
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:3847").
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		msg := errBody.Error
		if msg == "" {
			msg = "status " + strconv.Itoa(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("api %s %s: %s: %w", method, path, msg, ErrNotFound)
		}
		return fmt.Errorf("api %s %s: %s", method, path, msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health reports whether /api/health answers with status "ok".
func (c *Client) Health(ctx context.Context) (bool, error) {
	var out models.Health
	err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &out)
	return out.Status == "ok", err
}

// Teams returns every team on disk with its active session, if any.
func (c *Client) Teams(ctx context.Context) ([]models.TeamSummary, error) {
	var out models.TeamsResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/teams", nil, &out)
	return out.Teams, err
}

// Team returns one team with its agents, tasks, messages and recent events.
func (c *Client) Team(ctx context.Context, name string) (*models.TeamDetail, error) {
	var out models.TeamDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/teams/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns sessions newest first (limit 0 = server default).
func (c *Client) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	path := "/api/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out models.HistoryResponse
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out.Sessions, err
}

// EndSession ends the team's active session, recording totalTokens.
func (c *Client) EndSession(ctx context.Context, team string, totalTokens int64) error {
	return c.doJSON(ctx, http.MethodPost, "/api/teams/"+url.PathEscape(team)+"/end",
		models.EndSessionRequest{TotalTokens: totalTokens}, nil)
}

// SetAgentStatus sets an agent's status in the team's active session.
func (c *Client) SetAgentStatus(ctx context.Context, team, agent, status string) error {
	path := "/api/teams/" + url.PathEscape(team) + "/agents/" + url.PathEscape(agent) + "/status"
	return c.doJSON(ctx, http.MethodPost, path, models.AgentStatusRequest{Status: status}, nil)
}
