// Package client provides a Go SDK for the taskdeck HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/taskdeck/taskdeck/pkg/models"
)

// Client calls the taskdeck HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:8815"
	APIKey     string       // optional; set for X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL. APIKey is optional; when set,
// requests carry the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
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
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

// APIError is a non-2xx response from the server, carrying the decoded
// {"error": msg} body when present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("api: status %d", e.StatusCode)
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
		return &APIError{StatusCode: resp.StatusCode, Message: errBody.Error}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// TaskDraft holds the fields for CreateTask.
type TaskDraft struct {
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Priority     string  `json:"priority,omitempty"`
	RepositoryID *string `json:"repository_id,omitempty"`
	UserID       *string `json:"user_id,omitempty"`
}

// CreateTask creates a task in status pending and returns it.
func (c *Client) CreateTask(ctx context.Context, d TaskDraft) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks", d, &out)
	return &out, err
}

// GetTask fetches one task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// DeleteTask deletes a task by id.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

// RecordAnalysis records the manager analysis, moving the task to planning.
func (c *Client) RecordAnalysis(ctx context.Context, id string, analysis models.ManagerAnalysis) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/analysis", analysis, &out)
	return &out, err
}

// Analyze runs the server's manager collaborator against a pending task.
func (c *Client) Analyze(ctx context.Context, id string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/analyze", nil, &out)
	return &out, err
}

// GeneratePlan runs the server's planner collaborator against a planning
// task, submitting the resulting plan for review.
func (c *Client) GeneratePlan(ctx context.Context, id string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/plan/generate", nil, &out)
	return &out, err
}

// SubmitPlan records a plan, moving the task to review_required.
func (c *Client) SubmitPlan(ctx context.Context, id string, plan models.ExecutionPlan) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/plan", plan, &out)
	return &out, err
}

// ApprovePlan approves the plan under review, moving the task to executing.
func (c *Client) ApprovePlan(ctx context.Context, id string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/approve", nil, &out)
	return &out, err
}

// RequestPlanChanges sends feedback on the plan under review, looping the
// task back to planning.
func (c *Client) RequestPlanChanges(ctx context.Context, id, feedback string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/request-changes",
		map[string]string{"feedback": feedback}, &out)
	return &out, err
}

// UpdateProgress sets progress on an executing task.
func (c *Client) UpdateProgress(ctx context.Context, id string, progress int) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/progress",
		map[string]int{"progress": progress}, &out)
	return &out, err
}

// CompleteTask marks an executing task completed.
func (c *Client) CompleteTask(ctx context.Context, id string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/complete", nil, &out)
	return &out, err
}

// FailTask marks a non-terminal task failed, attributed to an agent role.
func (c *Client) FailTask(ctx context.Context, id, agentRole, reason string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/fail",
		map[string]string{"agent": agentRole, "reason": reason}, &out)
	return &out, err
}

// ListMessages returns the task's messages in insertion order.
func (c *Client) ListMessages(ctx context.Context, taskID string) ([]models.Message, error) {
	var out []models.Message
	err := c.doJSON(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID)+"/messages", nil, &out)
	return out, err
}

// Chat sends a chat message to the task and returns the refreshed message list.
func (c *Client) Chat(ctx context.Context, taskID, content string) ([]models.Message, error) {
	var out []models.Message
	err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/messages",
		map[string]string{"content": content}, &out)
	return out, err
}

// CreateUser registers a user.
func (c *Client) CreateUser(ctx context.Context, username, email string) (*models.User, error) {
	var out models.User
	err := c.doJSON(ctx, http.MethodPost, "/users",
		map[string]string{"username": username, "email": email}, &out)
	return &out, err
}

// GetUser fetches one user by id.
func (c *Client) GetUser(ctx context.Context, id string) (*models.User, error) {
	var out models.User
	err := c.doJSON(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// ListTasks returns all tasks owned by a user.
func (c *Client) ListTasks(ctx context.Context, userID string) ([]models.Task, error) {
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/tasks", nil, &out)
	return out, err
}

// ListActiveTasks returns a user's non-terminal tasks.
func (c *Client) ListActiveTasks(ctx context.Context, userID string) ([]models.Task, error) {
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/tasks/active", nil, &out)
	return out, err
}

// ListActivities returns a user's recent activities, most recent first
// (limit 0 = server default).
func (c *Client) ListActivities(ctx context.Context, userID string, limit int) ([]models.Activity, error) {
	path := "/users/" + url.PathEscape(userID) + "/activities"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []models.Activity
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ListRepositories returns a user's repositories.
func (c *Client) ListRepositories(ctx context.Context, userID string) ([]models.Repository, error) {
	var out []models.Repository
	err := c.doJSON(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/repositories", nil, &out)
	return out, err
}

// RepositoryDraft holds the fields for CreateRepository.
type RepositoryDraft struct {
	Name     string  `json:"name"`
	FullName string  `json:"full_name,omitempty"`
	URL      string  `json:"url,omitempty"`
	Owner    string  `json:"owner,omitempty"`
	UserID   *string `json:"user_id,omitempty"`
}

// CreateRepository registers a repository.
func (c *Client) CreateRepository(ctx context.Context, d RepositoryDraft) (*models.Repository, error) {
	var out models.Repository
	err := c.doJSON(ctx, http.MethodPost, "/repositories", d, &out)
	return &out, err
}

// GetRepository fetches one repository by id.
func (c *Client) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	var out models.Repository
	err := c.doJSON(ctx, http.MethodGet, "/repositories/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// State returns a user's tasks plus recent activities in one call.
func (c *Client) State(ctx context.Context, userID string) (*models.State, error) {
	path := "/state"
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}
	var out models.State
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return &out, err
}
