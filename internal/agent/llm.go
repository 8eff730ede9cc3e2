package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/pkg/models"
)

// DefaultTimeout bounds every collaborator call. Under per-task serialization
// an unbounded call would stall all further operations on that task, so the
// client always applies a deadline.
const DefaultTimeout = 60 * time.Second

// Client implements Analyzer, Planner, and Chatter against an
// OpenAI-compatible chat completions API.
type Client struct {
	BaseURL    string        // e.g. https://api.openai.com
	APIKey     string
	Model      string        // e.g. gpt-4o-mini
	Timeout    time.Duration // 0 = DefaultTimeout
	HTTPClient *http.Client  // optional; nil uses http.DefaultClient
}

// ClientRoster returns a Roster with all three roles backed by c.
func ClientRoster(c *Client) Roster {
	return Roster{Analyzer: c, Planner: c, Chatter: c}
}

func (c *Client) AnalyzeTask(ctx context.Context, description string) (models.ManagerAnalysis, error) {
	const system = "You are a manager agent triaging a development task. " +
		"Reply with JSON only: {\"required_agents\":[\"planner\",\"programmer\"],\"assessment\":string}."
	out, err := c.complete(ctx, system, description)
	if err != nil {
		return models.ManagerAnalysis{}, err
	}
	var a models.ManagerAnalysis
	if err := json.Unmarshal([]byte(out), &a); err != nil {
		return models.ManagerAnalysis{}, fmt.Errorf("analysis response not JSON: %w", err)
	}
	return a, nil
}

func (c *Client) CreatePlan(ctx context.Context, description string, analysis models.ManagerAnalysis) (models.ExecutionPlan, error) {
	const system = "You are a planner agent. Produce an execution plan as JSON only: " +
		"{\"title\":string,\"summary\":string,\"steps\":[{\"description\":string,\"files\":[string],\"estimated_minutes\":int}],\"risks\":[string]}."
	prompt := description
	if analysis.Assessment != "" {
		prompt += "\n\nManager assessment: " + analysis.Assessment
	}
	out, err := c.complete(ctx, system, prompt)
	if err != nil {
		return models.ExecutionPlan{}, err
	}
	var p models.ExecutionPlan
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		return models.ExecutionPlan{}, fmt.Errorf("plan response not JSON: %w", err)
	}
	return p, nil
}

func (c *Client) ChatReply(ctx context.Context, message string, cctx ChatContext) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task status: %s. Agents: manager=%s planner=%s programmer=%s.\n",
		cctx.Status, cctx.AgentStates.Manager, cctx.AgentStates.Planner, cctx.AgentStates.Programmer)
	for _, m := range cctx.History {
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Content)
	}
	b.WriteString("user: " + message)
	return c.complete(ctx, "You are assisting on a development task. Prefer brevity.", b.String())
}

// complete performs one chat completion and returns the first choice's content.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c.BaseURL == "" || c.APIKey == "" {
		return "", fmt.Errorf("agent client not configured")
	}
	model := c.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	url := strings.TrimSuffix(c.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("agent API returned non-200", "status", resp.StatusCode)
		return "", fmt.Errorf("agent API status %d", resp.StatusCode)
	}
	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", err
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("agent API returned no choices")
	}
	return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
}
