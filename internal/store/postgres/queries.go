package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/pkg/models"
)

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, d store.UserDraft) (models.User, error) {
	if strings.TrimSpace(d.Username) == "" {
		return models.User{}, errors.New("username required")
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `INSERT INTO users(user_id, username, email, github_token, created_at) VALUES($1, $2, $3, $4, $5)`,
		id, d.Username, d.Email, d.GithubToken, now)
	if err != nil {
		return models.User{}, err
	}
	return models.User{ID: id, Username: d.Username, Email: d.Email, GithubToken: d.GithubToken, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	return s.getUserWhere(ctx, `user_id = $1`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return s.getUserWhere(ctx, `username = $1`, username)
}

func (s *Store) getUserWhere(ctx context.Context, where string, arg any) (models.User, error) {
	var (
		u         models.User
		email     *string
		token     *string
		createdAt int64
	)
	err := s.Pool.QueryRow(ctx, `SELECT user_id, username, email, github_token, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Username, &email, &token, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return models.User{}, err
	}
	if email != nil {
		u.Email = *email
	}
	if token != nil {
		u.GithubToken = *token
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) (models.User, error) {
	sets := []string{}
	args := []any{}
	if upd.Email != nil {
		args = append(args, *upd.Email)
		sets = append(sets, fmt.Sprintf("email = $%d", len(args)))
	}
	if upd.GithubToken != nil {
		args = append(args, *upd.GithubToken)
		sets = append(sets, fmt.Sprintf("github_token = $%d", len(args)))
	}
	if len(sets) > 0 {
		args = append(args, id)
		tag, err := s.Pool.Exec(ctx, fmt.Sprintf(`UPDATE users SET %s WHERE user_id = $%d`, strings.Join(sets, ", "), len(args)), args...)
		if err != nil {
			return models.User{}, err
		}
		if tag.RowsAffected() == 0 {
			return models.User{}, fmt.Errorf("user: %w", store.ErrNotFound)
		}
	}
	return s.GetUser(ctx, id)
}

// --- Repositories ---

func (s *Store) CreateRepository(ctx context.Context, d store.RepositoryDraft) (models.Repository, error) {
	if d.Name == "" {
		return models.Repository{}, errors.New("repository name required")
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `INSERT INTO repositories(repo_id, name, full_name, url, owner, user_id, created_at) VALUES($1, $2, $3, $4, $5, $6, $7)`,
		id, d.Name, d.FullName, d.URL, d.Owner, d.UserID, now)
	if err != nil {
		return models.Repository{}, err
	}
	return models.Repository{ID: id, Name: d.Name, FullName: d.FullName, URL: d.URL, Owner: d.Owner, UserID: d.UserID, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) GetRepository(ctx context.Context, id string) (models.Repository, error) {
	var (
		r         models.Repository
		createdAt int64
	)
	err := s.Pool.QueryRow(ctx, `SELECT repo_id, name, full_name, url, owner, user_id, created_at FROM repositories WHERE repo_id = $1`, id).
		Scan(&r.ID, &r.Name, &r.FullName, &r.URL, &r.Owner, &r.UserID, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Repository{}, fmt.Errorf("repository: %w", store.ErrNotFound)
		}
		return models.Repository{}, err
	}
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return r, nil
}

func (s *Store) ListRepositoriesByUser(ctx context.Context, userID string) ([]models.Repository, error) {
	rows, err := s.Pool.Query(ctx, `SELECT repo_id, name, full_name, url, owner, user_id, created_at FROM repositories WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Repository
	for rows.Next() {
		var (
			r         models.Repository
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.FullName, &r.URL, &r.Owner, &r.UserID, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Tasks ---

const taskColumns = `task_id, title, description, status, priority, progress, repo_id, user_id, github_issue_number, pull_request_number, agent_states, plan, analysis, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, d store.TaskDraft) (models.Task, error) {
	if strings.TrimSpace(d.Title) == "" {
		return models.Task{}, errors.New("task title required")
	}
	priority := d.Priority
	switch priority {
	case "":
		priority = models.PriorityMedium
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		return models.Task{}, fmt.Errorf("invalid priority %q", priority)
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	states := models.AgentStates{
		Manager:    models.AgentStatePending,
		Planner:    models.AgentStateWaiting,
		Programmer: models.AgentStateWaiting,
	}
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return models.Task{}, err
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO tasks(task_id, title, description, status, priority, progress, repo_id, user_id, agent_states, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10)`,
		id, d.Title, d.Description, models.StatusPending, priority, d.RepositoryID, d.UserID, statesJSON, now, now)
	if err != nil {
		return models.Task{}, err
	}
	return models.Task{
		ID:           id,
		Title:        d.Title,
		Description:  d.Description,
		Status:       models.StatusPending,
		Priority:     priority,
		RepositoryID: d.RepositoryID,
		UserID:       d.UserID,
		AgentStates:  states,
		CreatedAt:    time.Unix(now, 0).UTC(),
		UpdatedAt:    time.Unix(now, 0).UTC(),
	}, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Task{}, fmt.Errorf("task: %w", store.ErrNotFound)
		}
		return models.Task{}, err
	}
	return *t, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, upd store.TaskUpdate) (models.Task, error) {
	sets := []string{}
	args := []any{}
	appendSet := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	appendSet("updated_at", time.Now().UTC().Unix())
	if upd.Title != nil {
		appendSet("title", *upd.Title)
	}
	if upd.Description != nil {
		appendSet("description", *upd.Description)
	}
	if upd.Status != nil {
		appendSet("status", *upd.Status)
	}
	if upd.Priority != nil {
		appendSet("priority", *upd.Priority)
	}
	if upd.Progress != nil {
		if *upd.Progress < 0 || *upd.Progress > 100 {
			return models.Task{}, fmt.Errorf("progress out of range: %d", *upd.Progress)
		}
		appendSet("progress", *upd.Progress)
	}
	if upd.GithubIssueNumber != nil {
		appendSet("github_issue_number", *upd.GithubIssueNumber)
	}
	if upd.PullRequestNumber != nil {
		appendSet("pull_request_number", *upd.PullRequestNumber)
	}
	if upd.AgentStates != nil {
		b, err := json.Marshal(upd.AgentStates)
		if err != nil {
			return models.Task{}, err
		}
		appendSet("agent_states", b)
	}
	if upd.Plan != nil {
		b, err := json.Marshal(upd.Plan)
		if err != nil {
			return models.Task{}, err
		}
		appendSet("plan", b)
	}
	if upd.Analysis != nil {
		b, err := json.Marshal(upd.Analysis)
		if err != nil {
			return models.Task{}, err
		}
		appendSet("analysis", b)
	}
	args = append(args, id)
	tag, err := s.Pool.Exec(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE task_id = $%d`, strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return models.Task{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.Task{}, fmt.Errorf("task: %w", store.ErrNotFound)
	}
	return s.GetTask(ctx, id)
}

func (s *Store) DeleteTask(ctx context.Context, id string, cascade bool) (bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if cascade {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE task_id = $1`, id); err != nil {
			return false, err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM activities WHERE task_id = $1`, id); err != nil {
			return false, err
		}
	}
	return true, tx.Commit(ctx)
}

func (s *Store) ListTasksByUser(ctx context.Context, userID string) ([]models.Task, error) {
	return s.listTasksWhere(ctx, `user_id = $1`, userID)
}

func (s *Store) ListActiveTasksByUser(ctx context.Context, userID string) ([]models.Task, error) {
	return s.listTasksWhere(ctx, `user_id = $1 AND status NOT IN ('completed','failed')`, userID)
}

func (s *Store) listTasksWhere(ctx context.Context, where string, args ...any) ([]models.Task, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTask(row interface{ Scan(dest ...any) error }) (*models.Task, error) {
	var (
		t            models.Task
		description  *string
		issueNum     *int
		prNum        *int
		statesJSON   []byte
		planJSON     []byte
		analysisJSON []byte
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&t.ID, &t.Title, &description, &t.Status, &t.Priority, &t.Progress,
		&t.RepositoryID, &t.UserID, &issueNum, &prNum, &statesJSON, &planJSON, &analysisJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if description != nil {
		t.Description = *description
	}
	t.GithubIssueNumber = issueNum
	t.PullRequestNumber = prNum
	if err := json.Unmarshal(statesJSON, &t.AgentStates); err != nil {
		return nil, fmt.Errorf("task %s: bad agent_states: %w", t.ID, err)
	}
	if len(planJSON) > 0 {
		var p models.ExecutionPlan
		if err := json.Unmarshal(planJSON, &p); err != nil {
			return nil, fmt.Errorf("task %s: bad plan: %w", t.ID, err)
		}
		t.Plan = &p
	}
	if len(analysisJSON) > 0 {
		var a models.ManagerAnalysis
		if err := json.Unmarshal(analysisJSON, &a); err != nil {
			return nil, fmt.Errorf("task %s: bad analysis: %w", t.ID, err)
		}
		t.Analysis = &a
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

// --- Messages ---

func (s *Store) CreateMessage(ctx context.Context, d store.MessageDraft) (models.Message, error) {
	if d.TaskID == "" {
		return models.Message{}, errors.New("message task_id required")
	}
	if d.Type == "" {
		d.Type = models.MessageChat
	}
	meta, err := marshalMetadata(d.Metadata)
	if err != nil {
		return models.Message{}, err
	}
	now := time.Now().UTC().Unix()
	var id int64
	err = s.Pool.QueryRow(ctx, `INSERT INTO messages(task_id, sender, content, type, metadata, created_at) VALUES($1, $2, $3, $4, $5, $6) RETURNING message_id`,
		d.TaskID, d.Sender, d.Content, d.Type, meta, now).Scan(&id)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{MessageID: id, TaskID: d.TaskID, Sender: d.Sender, Content: d.Content, Type: d.Type, Metadata: d.Metadata, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) ListMessagesByTask(ctx context.Context, taskID string) ([]models.Message, error) {
	rows, err := s.Pool.Query(ctx, `SELECT message_id, task_id, sender, content, type, metadata, created_at FROM messages WHERE task_id = $1 ORDER BY created_at ASC, message_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *Store) ListRecentMessagesByTask(ctx context.Context, taskID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultChatHistoryWindow
	}
	rows, err := s.Pool.Query(ctx, `
SELECT message_id, task_id, sender, content, type, metadata, created_at
FROM (SELECT message_id, task_id, sender, content, type, metadata, created_at
      FROM messages WHERE task_id = $1 ORDER BY message_id DESC LIMIT $2) recent
ORDER BY message_id ASC`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var (
			m         models.Message
			meta      []byte
			createdAt int64
		)
		if err := rows.Scan(&m.MessageID, &m.TaskID, &m.Sender, &m.Content, &m.Type, &meta, &createdAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, err
			}
		}
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Activities ---

func (s *Store) CreateActivity(ctx context.Context, d store.ActivityDraft) (models.Activity, error) {
	if d.Type == "" {
		return models.Activity{}, errors.New("activity type required")
	}
	meta, err := marshalMetadata(d.Metadata)
	if err != nil {
		return models.Activity{}, err
	}
	now := time.Now().UTC().Unix()
	var id int64
	err = s.Pool.QueryRow(ctx, `INSERT INTO activities(type, description, task_id, user_id, metadata, created_at) VALUES($1, $2, $3, $4, $5, $6) RETURNING activity_id`,
		d.Type, d.Description, d.TaskID, d.UserID, meta, now).Scan(&id)
	if err != nil {
		return models.Activity{}, err
	}
	return models.Activity{ActivityID: id, Type: d.Type, Description: d.Description, TaskID: d.TaskID, UserID: d.UserID, Metadata: d.Metadata, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) ListRecentActivitiesByUser(ctx context.Context, userID string, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = models.DefaultActivityListLimit
	}
	rows, err := s.Pool.Query(ctx, `SELECT activity_id, type, description, task_id, user_id, metadata, created_at
FROM activities WHERE ($1 = '' OR user_id = $1) ORDER BY activity_id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Activity
	for rows.Next() {
		var (
			a         models.Activity
			meta      []byte
			createdAt int64
		)
		if err := rows.Scan(&a.ActivityID, &a.Type, &a.Description, &a.TaskID, &a.UserID, &meta, &createdAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, err
			}
		}
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// SeedDemo inserts a demo user and task on an empty database.
func (s *Store) SeedDemo(ctx context.Context) error {
	var n int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	u, err := s.CreateUser(ctx, store.UserDraft{Username: "demo"})
	if err != nil {
		return err
	}
	_, err = s.CreateTask(ctx, store.TaskDraft{
		Title:       "Explore taskdeck",
		Description: "A demo task seeded on first run.",
		UserID:      &u.ID,
	})
	return err
}
