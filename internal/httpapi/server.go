package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ankittk/teamscope/internal/bus"
	"github.com/ankittk/teamscope/internal/events"
	"github.com/ankittk/teamscope/internal/session"
	"github.com/ankittk/teamscope/internal/snapshot"
	"github.com/ankittk/teamscope/internal/store"
	"github.com/ankittk/teamscope/internal/ui"
	"github.com/ankittk/teamscope/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (dashboard dev server on another origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP app. Store defaults to a volatile
// in-memory store; TeamsDir and TasksDir are the watched roots.
type ServerOptions struct {
	Addr           string
	Dev            bool
	TeamsDir       string
	TasksDir       string
	Store          store.Store
	Logger         *slog.Logger
	MetricsHandler http.Handler // if set, served at /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
}

// App holds the HTTP server and the pipeline pieces it exposes.
type App struct {
	Server   *http.Server
	Hub      *Hub
	Bus      *bus.Bus
	Registry *session.Registry
	Store    store.Store
	Snapshot snapshot.Builder
}

// NewApp builds the registry (recovered from the store), bus, hub and routes.
func NewApp(ctx context.Context, opts ServerOptions) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	st := opts.Store
	if st == nil {
		st = store.NewMemory(nil)
	}
	reg := session.NewRegistry(st)
	n, err := reg.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		log.Info("recovered active sessions", "count", n)
	}

	snap := snapshot.Builder{TeamsDir: opts.TeamsDir, TasksDir: opts.TasksDir}
	hub := NewHub(func() models.InitialState { return models.InitialState{Teams: snap.Teams()} }, log)
	b := bus.New(st, reg, log)
	b.Attach(hub)

	app := &App{Hub: hub, Bus: b, Registry: reg, Store: st, Snapshot: snap}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.Health{Status: "ok", Timestamp: time.Now().UTC()})
	})
	mux.HandleFunc("GET /api/teams", app.handleTeams)
	mux.HandleFunc("GET /api/teams/{name}", app.handleTeam)
	mux.HandleFunc("GET /api/history", app.handleHistory)
	mux.HandleFunc("POST /api/teams/{name}/end", app.handleEndSession)
	mux.HandleFunc("POST /api/teams/{name}/agents/{agent}/status", app.handleAgentStatus)
	mux.HandleFunc("GET /ws", hub.WSHandler())
	mux.HandleFunc("GET /stream", hub.SSEHandler())
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, "# TYPE teamscope_active_sessions gauge\n")
			_, _ = io.WriteString(w, "teamscope_active_sessions "+strconv.Itoa(reg.Len())+"\n")
			_, _ = io.WriteString(w, "# TYPE teamscope_subscribers gauge\n")
			_, _ = io.WriteString(w, "teamscope_subscribers "+strconv.Itoa(hub.Len())+"\n")
		})
	}
	mux.Handle("/", ui.Handler())

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	handler = requestLogMiddleware(log, handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "teamscope")
	}
	app.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /stream responses stay open for the life of the client.
		IdleTimeout: 60 * time.Second,
	}
	app.Server.RegisterOnShutdown(hub.Close)
	return app, nil
}

func (a *App) summary(ctx context.Context, snap models.TeamSnapshot) models.TeamSummary {
	out := models.TeamSummary{TeamSnapshot: snap}
	if id, ok := a.Registry.Lookup(snap.Name); ok {
		out.SessionID = &id
		if s, err := a.Store.GetActiveSession(ctx, snap.Name); err == nil && s != nil {
			ms := toSession(*s)
			out.Session = &ms
		}
	}
	return out
}

func (a *App) handleTeams(w http.ResponseWriter, r *http.Request) {
	snaps := a.Snapshot.Teams()
	out := models.TeamsResponse{Teams: make([]models.TeamSummary, 0, len(snaps))}
	for _, s := range snaps {
		out.Teams = append(out.Teams, a.summary(r.Context(), s))
	}
	writeJSON(w, out)
}

func (a *App) handleTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, ok := a.Snapshot.Team(r.PathValue("name"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Team not found")
		return
	}
	sum := a.summary(ctx, snap)
	out := models.TeamDetail{
		Name:      snap.Name,
		Config:    snap.Config,
		SessionID: sum.SessionID,
		Session:   sum.Session,
		Agents:    []models.Agent{},
		Tasks:     []models.Task{},
		Messages:  []models.Message{},
		Events:    []models.Event{},
	}
	// Agents come from the live config; stored statuses lag behind it.
	for _, m := range events.ParseMembers(snap.Config) {
		out.Agents = append(out.Agents, models.Agent{
			Name:      m.Name,
			AgentType: store.OrUnknown(m.AgentType),
			Model:     store.OrUnknown(m.Model),
			Status:    models.AgentActive,
		})
	}
	if sum.SessionID != nil {
		id := *sum.SessionID
		tasks, err := a.Store.ListTasks(ctx, id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		msgs, err := a.Store.ListMessages(ctx, id, 0)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		evs, err := a.Store.ListEvents(ctx, id, models.DefaultTeamEventLimit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out.Tasks = toTasks(tasks)
		out.Messages = toMessages(msgs)
		out.Events = toEvents(evs)
	}
	writeJSON(w, out)
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = models.DefaultHistoryLimit
	}
	sessions, err := a.Store.ListSessions(ctx, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := models.HistoryResponse{Sessions: make([]models.HistoryEntry, 0, len(sessions))}
	for _, s := range sessions {
		agents, err := a.Store.ListAgents(ctx, s.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		tasks, err := a.Store.ListTasks(ctx, s.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		count, err := a.Store.CountMessages(ctx, s.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out.Sessions = append(out.Sessions, models.HistoryEntry{
			Session:      toSession(s),
			Agents:       toAgents(agents),
			Tasks:        toTasks(tasks),
			MessageCount: count,
		})
	}
	writeJSON(w, out)
}

func (a *App) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var body models.EndSessionRequest
	if err := decodeOptional(r, &body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.TotalTokens < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid totalTokens")
		return
	}
	if _, err := a.Bus.EndSession(r.Context(), r.PathValue("name"), body.TotalTokens); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			writeJSONError(w, http.StatusNotFound, "Active session not found")
			return
		}
		if errors.Is(err, session.ErrInvalidTokens) {
			writeJSONError(w, http.StatusBadRequest, "invalid totalTokens")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, models.Success{Success: true})
}

func (a *App) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	var body models.AgentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	err := a.Bus.SetAgentStatus(r.Context(), r.PathValue("name"), r.PathValue("agent"), body.Status)
	switch {
	case err == nil:
		writeJSON(w, models.Success{Success: true})
	case errors.Is(err, bus.ErrInvalidStatus):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNoActiveSession):
		writeJSONError(w, http.StatusNotFound, "Active session not found")
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Agent not found")
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeOptional decodes a JSON body into v; an empty body leaves v unchanged.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// responseRecorder captures status code for logging and forwards Flusher and
// Hijacker so SSE and WebSocket work behind the middleware.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func requestLogMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		log.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
