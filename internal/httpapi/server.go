// Package httpapi exposes the task lifecycle over HTTP: a JSON REST binding
// of the state-changing entry points plus the websocket realtime channel.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taskdeck/taskdeck/internal/agent"
	"github.com/taskdeck/taskdeck/internal/hub"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/store/postgres"
	"github.com/taskdeck/taskdeck/internal/workflow"
	"github.com/taskdeck/taskdeck/pkg/models"
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

// corsMiddleware sets CORS headers for dev mode (front-end dev server on a different origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP app (home dir, listen addr, API key, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	APIKey         string       // if set, require X-API-Key header or query api_key
	DBDriver       string       // "sqlite" (default) or "postgres"
	DBURL          string       // for postgres: connection string
	MetricsHandler http.Handler // if set, used for /metrics (OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
	Agents         agent.Roster // collaborator roster; Stub when empty
	HistoryWindow  int          // chat context window; 0 means default
	CascadeDelete  bool         // task deletion removes messages/activities
	Seed           bool         // seed a demo user and task on startup
}

// App holds the HTTP server, broadcast hub, store, and lifecycle engine.
type App struct {
	Server *http.Server
	Hub    *hub.Hub
	Store  store.Store
	Engine *workflow.Engine
}

// NewApp creates the HTTP app (server, hub, store, engine) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	var st store.Store
	var err error
	if opts.DBDriver == "postgres" {
		st, err = postgres.Open(opts.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}
	if opts.Seed {
		_ = st.SeedDemo(context.Background())
	}

	roster := opts.Agents
	if roster.Analyzer == nil || roster.Planner == nil || roster.Chatter == nil {
		roster = agent.StubRoster()
	}
	h := hub.New()
	eng := workflow.New(st, h, roster, workflow.Options{
		HistoryWindow: opts.HistoryWindow,
		CascadeDelete: opts.CascadeDelete,
	})

	app := &App{Hub: h, Store: st, Engine: eng}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}
	mux.HandleFunc("/state", app.handleState)
	mux.HandleFunc("/ws", app.handleWS)
	mux.HandleFunc("/tasks", app.handleTasks)
	mux.HandleFunc("/tasks/", app.handleTask)
	mux.HandleFunc("/users", app.handleUsers)
	mux.HandleFunc("/users/", app.handleUser)
	mux.HandleFunc("/repositories", app.handleRepositories)
	mux.HandleFunc("/repositories/", app.handleRepository)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "taskdeck")
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		_ = st.Close()
	})
	app.Server = srv
	return app, nil
}

// Handler returns the app's full middleware-wrapped handler, for tests.
func (a *App) Handler() http.Handler {
	return a.Server.Handler
}

// --- Tasks ---

func (a *App) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Title        string  `json:"title"`
		Description  string  `json:"description"`
		Priority     string  `json:"priority"`
		RepositoryID *string `json:"repository_id"`
		UserID       *string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := a.Engine.CreateTask(r.Context(), store.TaskDraft{
		Title:        body.Title,
		Description:  body.Description,
		Priority:     body.Priority,
		RepositoryID: body.RepositoryID,
		UserID:       body.UserID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, t)
}

// handleTask routes /tasks/{id} and /tasks/{id}/{action}.
func (a *App) handleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]

	if len(parts) == 1 || parts[1] == "" {
		switch r.Method {
		case http.MethodGet:
			t, err := a.Store.GetTask(r.Context(), id)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, t)
		case http.MethodDelete:
			if err := a.Engine.DeleteTask(r.Context(), id); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, map[string]any{"ok": true})
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch parts[1] {
	case "messages":
		a.handleTaskMessages(w, r, id)
		return
	}

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var (
		t   models.Task
		err error
	)
	switch parts[1] {
	case "analysis":
		var analysis models.ManagerAnalysis
		if decodeErr := json.NewDecoder(r.Body).Decode(&analysis); decodeErr != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		t, err = a.Engine.RecordAnalysis(r.Context(), id, analysis)
	case "analyze":
		t, err = a.Engine.Analyze(r.Context(), id)
	case "plan":
		if len(parts) > 2 && parts[2] == "generate" {
			t, err = a.Engine.Plan(r.Context(), id)
			break
		}
		var plan models.ExecutionPlan
		if decodeErr := json.NewDecoder(r.Body).Decode(&plan); decodeErr != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		t, err = a.Engine.SubmitPlan(r.Context(), id, plan)
	case "approve":
		t, err = a.Engine.ApprovePlan(r.Context(), id)
	case "request-changes":
		var body struct {
			Feedback string `json:"feedback"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&body); decodeErr != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		t, err = a.Engine.RequestPlanChanges(r.Context(), id, body.Feedback)
	case "progress":
		var body struct {
			Progress int `json:"progress"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&body); decodeErr != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		t, err = a.Engine.UpdateProgress(r.Context(), id, body.Progress)
	case "complete":
		t, err = a.Engine.CompleteTask(r.Context(), id)
	case "fail":
		var body struct {
			Agent  string `json:"agent"`
			Reason string `json:"reason"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&body); decodeErr != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		t, err = a.Engine.FailTask(r.Context(), id, body.Agent, body.Reason)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, t)
}

func (a *App) handleTaskMessages(w http.ResponseWriter, r *http.Request, taskID string) {
	switch r.Method {
	case http.MethodGet:
		msgs, err := a.Store.ListMessagesByTask(r.Context(), taskID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, msgs)
	case http.MethodPost:
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := a.Engine.Chat(r.Context(), taskID, body.Content); err != nil {
			writeDomainError(w, err)
			return
		}
		msgs, err := a.Store.ListMessagesByTask(r.Context(), taskID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, msgs)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Users ---

func (a *App) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		GithubToken string `json:"github_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.Username) == "" {
		writeJSONError(w, http.StatusBadRequest, "username required")
		return
	}
	u, err := a.Store.CreateUser(r.Context(), store.UserDraft{
		Username:    body.Username,
		Email:       body.Email,
		GithubToken: body.GithubToken,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, u)
}

// handleUser routes /users/{id} and /users/{id}/{tasks|activities|repositories}.
func (a *App) handleUser(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/users/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if len(parts) == 1 || parts[1] == "" {
		u, err := a.Store.GetUser(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, u)
		return
	}

	switch parts[1] {
	case "tasks":
		if len(parts) >= 3 && parts[2] == "active" {
			tasks, err := a.Store.ListActiveTasksByUser(r.Context(), id)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, tasks)
			return
		}
		tasks, err := a.Store.ListTasksByUser(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, tasks)
	case "activities":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		acts, err := a.Store.ListRecentActivitiesByUser(r.Context(), id, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, acts)
	case "repositories":
		repos, err := a.Store.ListRepositoriesByUser(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, repos)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

// --- Repositories ---

func (a *App) handleRepositories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Name     string  `json:"name"`
		FullName string  `json:"full_name"`
		URL      string  `json:"url"`
		Owner    string  `json:"owner"`
		UserID   *string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name required")
		return
	}
	repo, err := a.Store.CreateRepository(r.Context(), store.RepositoryDraft{
		Name:     body.Name,
		FullName: body.FullName,
		URL:      body.URL,
		Owner:    body.Owner,
		UserID:   body.UserID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, repo)
}

func (a *App) handleRepository(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/repositories/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	repo, err := a.Store.GetRepository(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, repo)
}

// handleState returns a user's tasks plus recent activities in one shot, for
// initial page load.
func (a *App) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := r.URL.Query().Get("user_id")
	tasks, err := a.Store.ListTasksByUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	acts, err := a.Store.ListRecentActivitiesByUser(r.Context(), userID, 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	if acts == nil {
		acts = []models.Activity{}
	}
	writeJSON(w, models.State{Tasks: tasks, Activities: acts})
}

// --- Middleware and helpers ---

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
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
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

// writeDomainError maps lifecycle errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrInvalidState):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrCollaborator):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
