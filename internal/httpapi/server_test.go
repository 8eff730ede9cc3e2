package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskdeck/taskdeck/pkg/models"
)

func newTestApp(t *testing.T, opts ServerOptions) *App {
	t.Helper()
	if opts.Home == "" {
		opts.Home = t.TempDir()
	}
	app, err := NewApp(opts)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { _ = app.Store.Close() })
	return app
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) models.Task {
	t.Helper()
	var task models.Task
	if err := json.NewDecoder(rec.Body).Decode(&task); err != nil {
		t.Fatalf("decode task: %v (body %s)", err, rec.Body.String())
	}
	return task
}

func TestHealth(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, ServerOptions{})
	rec := doJSON(t, app.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: got %d", rec.Code)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, ServerOptions{})
	h := app.Handler()

	rec := doJSON(t, h, http.MethodPost, "/tasks", map[string]any{
		"title":       "Fix login bug",
		"description": "session expires too early",
		"priority":    "high",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create task: got %d body %s", rec.Code, rec.Body.String())
	}
	task := decodeTask(t, rec)
	if task.Status != models.StatusPending || task.Priority != models.PriorityHigh {
		t.Fatalf("create task: got %+v", task)
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/analysis", models.ManagerAnalysis{
		RequiredAgents: []string{"planner"},
		Assessment:     "small",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("analysis: got %d body %s", rec.Code, rec.Body.String())
	}
	if got := decodeTask(t, rec); got.Status != models.StatusPlanning {
		t.Fatalf("analysis: status %s", got.Status)
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/plan", models.ExecutionPlan{
		Title: "Fix it",
		Steps: []models.PlanStep{{Description: "patch auth"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("plan: got %d body %s", rec.Code, rec.Body.String())
	}
	if got := decodeTask(t, rec); got.Status != models.StatusReviewRequired {
		t.Fatalf("plan: status %s", got.Status)
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: got %d body %s", rec.Code, rec.Body.String())
	}
	if got := decodeTask(t, rec); got.Status != models.StatusExecuting {
		t.Fatalf("approve: status %s", got.Status)
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/progress", map[string]any{"progress": 40})
	if rec.Code != http.StatusOK {
		t.Fatalf("progress: got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: got %d body %s", rec.Code, rec.Body.String())
	}
	done := decodeTask(t, rec)
	if done.Status != models.StatusCompleted || done.Progress != 100 {
		t.Fatalf("complete: got %+v", done)
	}
}

func TestGeneratePlanOverHTTP(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, ServerOptions{})
	h := app.Handler()

	rec := doJSON(t, h, http.MethodPost, "/tasks", map[string]any{"title": "Fix login bug"})
	task := decodeTask(t, rec)

	// Planner can only run from planning.
	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/plan/generate", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("generate from pending: got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/analysis", models.ManagerAnalysis{Assessment: "small"})
	if rec.Code != http.StatusOK {
		t.Fatalf("analysis: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/plan/generate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: got %d body %s", rec.Code, rec.Body.String())
	}
	got := decodeTask(t, rec)
	if got.Status != models.StatusReviewRequired || got.Plan == nil || len(got.Plan.Steps) == 0 {
		t.Fatalf("generate: got %+v", got)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, ServerOptions{})
	h := app.Handler()

	// NotFound -> 404
	rec := doJSON(t, h, http.MethodGet, "/tasks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing task: got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks", map[string]any{"title": "T"})
	task := decodeTask(t, rec)

	// InvalidState -> 409
	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/approve", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("approve from pending: got %d", rec.Code)
	}

	// ValidationError -> 400
	rec = doJSON(t, h, http.MethodPost, "/tasks", map[string]any{"title": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty title: got %d", rec.Code)
	}

	var errBody struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&errBody); err != nil || errBody.Error == "" {
		t.Fatalf("error body: %v %+v", err, errBody)
	}
}

func TestRequestChangesOverHTTP(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, ServerOptions{})
	h := app.Handler()

	rec := doJSON(t, h, http.MethodPost, "/tasks", map[string]any{"title": "T", "description": "d"})
	task := decodeTask(t, rec)
	doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/analysis", models.ManagerAnalysis{})
	doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/plan", models.ExecutionPlan{
		Title: "P", Steps: []models.PlanStep{{Description: "s"}},
	})

	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/request-changes", map[string]any{"feedback": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty feedback: got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/request-changes", map[string]any{"feedback": "add unit tests"})
	if rec.Code != http.StatusOK {
		t.Fatalf("request-changes: got %d body %s", rec.Code, rec.Body.String())
	}
	if got := decodeTask(t, rec); got.Status != models.StatusPlanning || got.AgentStates.Planner != models.AgentStateRevising {
		t.Fatalf("request-changes: got %+v", got)
	}

	rec = doJSON(t, h, http.MethodGet, "/tasks/"+task.ID+"/messages", nil)
	var msgs []models.Message
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Type != models.MessagePlanFeedback || last.Content != "add unit tests" {
		t.Fatalf("feedback message: got %+v", last)
	}
}

func TestChatOverHTTP(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, ServerOptions{})
	h := app.Handler()

	rec := doJSON(t, h, http.MethodPost, "/tasks", map[string]any{"title": "T"})
	task := decodeTask(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/tasks/"+task.ID+"/messages", map[string]any{"content": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: got %d body %s", rec.Code, rec.Body.String())
	}
	var msgs []models.Message
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Sender != models.SenderUser {
		t.Fatalf("chat messages: got %+v", msgs)
	}
}

func TestUsersAndState(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, ServerOptions{})
	h := app.Handler()

	rec := doJSON(t, h, http.MethodPost, "/users", map[string]any{"username": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create user: got %d body %s", rec.Code, rec.Body.String())
	}
	var u models.User
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatalf("decode user: %v", err)
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks", map[string]any{"title": "T", "user_id": u.ID})
	task := decodeTask(t, rec)

	rec = doJSON(t, h, http.MethodGet, "/users/"+u.ID+"/tasks", nil)
	var tasks []models.Task
	if err := json.NewDecoder(rec.Body).Decode(&tasks); err != nil || len(tasks) != 1 {
		t.Fatalf("user tasks: %v %+v", err, tasks)
	}

	rec = doJSON(t, h, http.MethodGet, "/users/"+u.ID+"/tasks/active", nil)
	if err := json.NewDecoder(rec.Body).Decode(&tasks); err != nil || len(tasks) != 1 {
		t.Fatalf("active tasks: %v %+v", err, tasks)
	}

	rec = doJSON(t, h, http.MethodGet, "/state?user_id="+u.ID, nil)
	var state models.State
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(state.Tasks) != 1 || state.Tasks[0].ID != task.ID {
		t.Fatalf("state tasks: %+v", state.Tasks)
	}
	if len(state.Activities) == 0 {
		t.Fatalf("state activities empty")
	}

	rec = doJSON(t, h, http.MethodGet, "/users/"+u.ID+"/activities?limit=1", nil)
	var acts []models.Activity
	if err := json.NewDecoder(rec.Body).Decode(&acts); err != nil || len(acts) != 1 {
		t.Fatalf("activities: %v %+v", err, acts)
	}
}

func TestRepositoriesEndpoint(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, ServerOptions{})
	h := app.Handler()

	rec := doJSON(t, h, http.MethodPost, "/users", map[string]any{"username": "bob"})
	var u models.User
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatalf("decode user: %v", err)
	}

	rec = doJSON(t, h, http.MethodPost, "/repositories", map[string]any{
		"name": "app", "full_name": "bob/app", "url": "https://example.com/bob/app", "owner": "bob", "user_id": u.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create repo: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/users/"+u.ID+"/repositories", nil)
	var repos []models.Repository
	if err := json.NewDecoder(rec.Body).Decode(&repos); err != nil || len(repos) != 1 {
		t.Fatalf("list repos: %v %+v", err, repos)
	}

	rec = doJSON(t, h, http.MethodGet, "/repositories/"+repos[0].ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get repo: got %d body %s", rec.Code, rec.Body.String())
	}
	var got models.Repository
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil || got.Name != "app" || got.FullName != "bob/app" {
		t.Fatalf("get repo: %v %+v", err, got)
	}

	rec = doJSON(t, h, http.MethodGet, "/repositories/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing repo: got %d", rec.Code)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, ServerOptions{APIKey: "secret"})
	h := app.Handler()

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health should bypass key: got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks", map[string]any{"title": "T"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(`{"title":"T"}`))
	req.Header.Set("X-API-Key", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("with key: got %d body %s", rr.Code, rr.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/tasks?api_key=secret", map[string]any{"title": "T2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("query key: got %d", rec.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, ServerOptions{CascadeDelete: true})
	h := app.Handler()

	rec := doJSON(t, h, http.MethodPost, "/tasks", map[string]any{"title": "T"})
	task := decodeTask(t, rec)

	rec = doJSON(t, h, http.MethodDelete, "/tasks/"+task.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/tasks/"+task.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing: got %d", rec.Code)
	}
}
