package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/pkg/models"
)

// initialAgentStates is the per-role record every new task starts with.
func initialAgentStates() models.AgentStates {
	return models.AgentStates{
		Manager:    models.AgentStatePending,
		Planner:    models.AgentStateWaiting,
		Programmer: models.AgentStateWaiting,
	}
}

// --- Users ---

func (s *sqliteStore) CreateUser(ctx context.Context, d UserDraft) (models.User, error) {
	if strings.TrimSpace(d.Username) == "" {
		return models.User{}, errors.New("username required")
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users(user_id, username, email, github_token, created_at) VALUES(?, ?, ?, ?, ?)`,
		id, d.Username, d.Email, d.GithubToken, now)
	if err != nil {
		return models.User{}, err
	}
	return models.User{ID: id, Username: d.Username, Email: d.Email, GithubToken: d.GithubToken, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (models.User, error) {
	return s.getUserWhere(ctx, `user_id = ?`, id)
}

func (s *sqliteStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return s.getUserWhere(ctx, `username = ?`, username)
}

func (s *sqliteStore) getUserWhere(ctx context.Context, where string, arg any) (models.User, error) {
	var (
		u         models.User
		email     sql.NullString
		token     sql.NullString
		createdAt int64
	)
	err := s.DB.QueryRowContext(ctx, `SELECT user_id, username, email, github_token, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Username, &email, &token, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("user: %w", ErrNotFound)
		}
		return models.User{}, err
	}
	u.Email = email.String
	u.GithubToken = token.String
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return u, nil
}

func (s *sqliteStore) UpdateUser(ctx context.Context, id string, upd UserUpdate) (models.User, error) {
	sets := []string{}
	args := []any{}
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *upd.Email)
	}
	if upd.GithubToken != nil {
		sets = append(sets, "github_token = ?")
		args = append(args, *upd.GithubToken)
	}
	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.DB.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE user_id = ?`, args...)
		if err != nil {
			return models.User{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.User{}, fmt.Errorf("user: %w", ErrNotFound)
		}
	}
	return s.GetUser(ctx, id)
}

// --- Repositories ---

func (s *sqliteStore) CreateRepository(ctx context.Context, d RepositoryDraft) (models.Repository, error) {
	if d.Name == "" {
		return models.Repository{}, errors.New("repository name required")
	}
	id := uuid.NewString()
	now := time.Now().UTC().Unix()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO repositories(repo_id, name, full_name, url, owner, user_id, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		id, d.Name, d.FullName, d.URL, d.Owner, d.UserID, now)
	if err != nil {
		return models.Repository{}, err
	}
	return models.Repository{ID: id, Name: d.Name, FullName: d.FullName, URL: d.URL, Owner: d.Owner, UserID: d.UserID, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *sqliteStore) GetRepository(ctx context.Context, id string) (models.Repository, error) {
	var (
		r         models.Repository
		userID    sql.NullString
		createdAt int64
	)
	err := s.DB.QueryRowContext(ctx, `SELECT repo_id, name, full_name, url, owner, user_id, created_at FROM repositories WHERE repo_id = ?`, id).
		Scan(&r.ID, &r.Name, &r.FullName, &r.URL, &r.Owner, &userID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Repository{}, fmt.Errorf("repository: %w", ErrNotFound)
		}
		return models.Repository{}, err
	}
	if userID.Valid {
		r.UserID = &userID.String
	}
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return r, nil
}

func (s *sqliteStore) ListRepositoriesByUser(ctx context.Context, userID string) ([]models.Repository, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT repo_id, name, full_name, url, owner, user_id, created_at FROM repositories WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Repository
	for rows.Next() {
		var (
			r         models.Repository
			uid       sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.FullName, &r.URL, &r.Owner, &uid, &createdAt); err != nil {
			return nil, err
		}
		if uid.Valid {
			r.UserID = &uid.String
		}
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Tasks ---

func (s *sqliteStore) CreateTask(ctx context.Context, d TaskDraft) (models.Task, error) {
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
	states := initialAgentStates()
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return models.Task{}, err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO tasks(task_id, title, description, status, priority, progress, repo_id, user_id, agent_states, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		id, d.Title, d.Description, models.StatusPending, priority, d.RepositoryID, d.UserID, string(statesJSON), now, now)
	if err != nil {
		return models.Task{}, err
	}
	return models.Task{
		ID:           id,
		Title:        d.Title,
		Description:  d.Description,
		Status:       models.StatusPending,
		Priority:     priority,
		Progress:     0,
		RepositoryID: d.RepositoryID,
		UserID:       d.UserID,
		AgentStates:  states,
		CreatedAt:    time.Unix(now, 0).UTC(),
		UpdatedAt:    time.Unix(now, 0).UTC(),
	}, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.stmtGetTask.QueryRowContext(ctx, id)
	t, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Task{}, fmt.Errorf("task: %w", ErrNotFound)
		}
		return models.Task{}, err
	}
	return *t, nil
}

func (s *sqliteStore) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (models.Task, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Unix()}
	appendSet := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
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
		p := *upd.Progress
		if p < 0 || p > 100 {
			return models.Task{}, fmt.Errorf("progress out of range: %d", p)
		}
		appendSet("progress", p)
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
		appendSet("agent_states", string(b))
	}
	if upd.Plan != nil {
		b, err := json.Marshal(upd.Plan)
		if err != nil {
			return models.Task{}, err
		}
		appendSet("plan", string(b))
	}
	if upd.Analysis != nil {
		b, err := json.Marshal(upd.Analysis)
		if err != nil {
			return models.Task{}, err
		}
		appendSet("analysis", string(b))
	}
	args = append(args, id)
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE task_id = ?`, args...)
	if err != nil {
		return models.Task{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Task{}, fmt.Errorf("task: %w", ErrNotFound)
	}
	return s.GetTask(ctx, id)
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string, cascade bool) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if cascade {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE task_id = ?`, id); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE task_id = ?`, id); err != nil {
			return false, err
		}
	}
	return true, tx.Commit()
}

func (s *sqliteStore) ListTasksByUser(ctx context.Context, userID string) ([]models.Task, error) {
	return s.listTasksWhere(ctx, `user_id = ?`, userID)
}

func (s *sqliteStore) ListActiveTasksByUser(ctx context.Context, userID string) ([]models.Task, error) {
	return s.listTasksWhere(ctx, `user_id = ? AND status NOT IN ('completed','failed')`, userID)
}

func (s *sqliteStore) listTasksWhere(ctx context.Context, where string, args ...any) ([]models.Task, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// scanTaskRow scans the current row (columns in taskColumns order).
func scanTaskRow(row interface{ Scan(dest ...any) error }) (*models.Task, error) {
	var (
		t           models.Task
		description sql.NullString
		repoID      sql.NullString
		userID      sql.NullString
		issueNum    sql.NullInt64
		prNum       sql.NullInt64
		statesJSON  string
		planJSON    sql.NullString
		analysisJSON sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&t.ID, &t.Title, &description, &t.Status, &t.Priority, &t.Progress,
		&repoID, &userID, &issueNum, &prNum, &statesJSON, &planJSON, &analysisJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Description = description.String
	if repoID.Valid {
		t.RepositoryID = &repoID.String
	}
	if userID.Valid {
		t.UserID = &userID.String
	}
	if issueNum.Valid {
		n := int(issueNum.Int64)
		t.GithubIssueNumber = &n
	}
	if prNum.Valid {
		n := int(prNum.Int64)
		t.PullRequestNumber = &n
	}
	if err := json.Unmarshal([]byte(statesJSON), &t.AgentStates); err != nil {
		return nil, fmt.Errorf("task %s: bad agent_states: %w", t.ID, err)
	}
	if planJSON.Valid && planJSON.String != "" {
		var p models.ExecutionPlan
		if err := json.Unmarshal([]byte(planJSON.String), &p); err != nil {
			return nil, fmt.Errorf("task %s: bad plan: %w", t.ID, err)
		}
		t.Plan = &p
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		var a models.ManagerAnalysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &a); err != nil {
			return nil, fmt.Errorf("task %s: bad analysis: %w", t.ID, err)
		}
		t.Analysis = &a
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

// --- Messages ---

func (s *sqliteStore) CreateMessage(ctx context.Context, d MessageDraft) (models.Message, error) {
	if d.TaskID == "" {
		return models.Message{}, errors.New("message task_id required")
	}
	if d.Type == "" {
		d.Type = models.MessageChat
	}
	meta, err := encodeMetadata(d.Metadata)
	if err != nil {
		return models.Message{}, err
	}
	now := time.Now().UTC().Unix()
	res, err := s.stmtCreateMessage.ExecContext(ctx, d.TaskID, d.Sender, d.Content, d.Type, meta, now)
	if err != nil {
		return models.Message{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{
		MessageID: id,
		TaskID:    d.TaskID,
		Sender:    d.Sender,
		Content:   d.Content,
		Type:      d.Type,
		Metadata:  d.Metadata,
		CreatedAt: time.Unix(now, 0).UTC(),
	}, nil
}

func (s *sqliteStore) ListMessagesByTask(ctx context.Context, taskID string) ([]models.Message, error) {
	rows, err := s.stmtListMessages.QueryContext(ctx, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectMessages(rows)
}

func (s *sqliteStore) ListRecentMessagesByTask(ctx context.Context, taskID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = models.DefaultChatHistoryWindow
	}
	// Take the newest limit rows, then flip back to insertion order.
	rows, err := s.DB.QueryContext(ctx, `
SELECT message_id, task_id, sender, content, type, metadata, created_at
FROM (SELECT message_id, task_id, sender, content, type, metadata, created_at
      FROM messages WHERE task_id = ? ORDER BY message_id DESC LIMIT ?)
ORDER BY message_id ASC`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var (
			m         models.Message
			meta      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&m.MessageID, &m.TaskID, &m.Sender, &m.Content, &m.Type, &meta, &createdAt); err != nil {
			return nil, err
		}
		md, err := decodeMetadata(meta)
		if err != nil {
			return nil, err
		}
		m.Metadata = md
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Activities ---

func (s *sqliteStore) CreateActivity(ctx context.Context, d ActivityDraft) (models.Activity, error) {
	if d.Type == "" {
		return models.Activity{}, errors.New("activity type required")
	}
	meta, err := encodeMetadata(d.Metadata)
	if err != nil {
		return models.Activity{}, err
	}
	now := time.Now().UTC().Unix()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO activities(type, description, task_id, user_id, metadata, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		d.Type, d.Description, d.TaskID, d.UserID, meta, now)
	if err != nil {
		return models.Activity{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Activity{}, err
	}
	return models.Activity{
		ActivityID:  id,
		Type:        d.Type,
		Description: d.Description,
		TaskID:      d.TaskID,
		UserID:      d.UserID,
		Metadata:    d.Metadata,
		CreatedAt:   time.Unix(now, 0).UTC(),
	}, nil
}

func (s *sqliteStore) ListRecentActivitiesByUser(ctx context.Context, userID string, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = models.DefaultActivityListLimit
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT activity_id, type, description, task_id, user_id, metadata, created_at
FROM activities WHERE (? = '' OR user_id = ?) ORDER BY activity_id DESC LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Activity
	for rows.Next() {
		var (
			a         models.Activity
			taskID    sql.NullString
			uid       sql.NullString
			meta      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&a.ActivityID, &a.Type, &a.Description, &taskID, &uid, &meta, &createdAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			a.TaskID = &taskID.String
		}
		if uid.Valid {
			a.UserID = &uid.String
		}
		md, err := decodeMetadata(meta)
		if err != nil {
			return nil, err
		}
		a.Metadata = md
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func encodeMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeMetadata(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SeedDemo inserts a demo user and task on an empty database. Safe to call on
// every startup.
func (s *sqliteStore) SeedDemo(ctx context.Context) error {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	u, err := s.CreateUser(ctx, UserDraft{Username: "demo"})
	if err != nil {
		return err
	}
	_, err = s.CreateTask(ctx, TaskDraft{
		Title:       "Explore taskdeck",
		Description: "A demo task seeded on first run.",
		UserID:      &u.ID,
	})
	return err
}
