// Package store defines the persistence contract and SQLite implementation for
// users, repositories, tasks, messages, and activities.
package store

import (
	"context"
	"errors"

	"github.com/taskdeck/taskdeck/pkg/models"
)

// ErrNotFound is returned when a referenced entity id does not exist.
var ErrNotFound = errors.New("not found")

// UserDraft holds caller-supplied fields for CreateUser. The store assigns id
// and created_at.
type UserDraft struct {
	Username    string
	Email       string
	GithubToken string
}

// UserUpdate holds optional field updates; nil fields are left unchanged.
type UserUpdate struct {
	Email       *string
	GithubToken *string
}

// RepositoryDraft holds caller-supplied fields for CreateRepository.
type RepositoryDraft struct {
	Name     string
	FullName string
	URL      string
	Owner    string
	UserID   *string
}

// TaskDraft holds caller-supplied fields for CreateTask. Status, progress, and
// agent states are assigned by the store (pending / 0 / initial record).
type TaskDraft struct {
	Title        string
	Description  string
	Priority     string // defaults to medium
	RepositoryID *string
	UserID       *string
}

// TaskUpdate is a shallow merge over the stored task; nil fields are left
// unchanged. Id and created_at cannot be updated; updated_at is refreshed on
// every call.
type TaskUpdate struct {
	Title             *string
	Description       *string
	Status            *string
	Priority          *string
	Progress          *int
	GithubIssueNumber *int
	PullRequestNumber *int
	AgentStates       *models.AgentStates
	Plan              *models.ExecutionPlan
	Analysis          *models.ManagerAnalysis
}

// MessageDraft holds caller-supplied fields for CreateMessage.
type MessageDraft struct {
	TaskID   string
	Sender   string
	Content  string
	Type     string
	Metadata map[string]string
}

// ActivityDraft holds caller-supplied fields for CreateActivity.
type ActivityDraft struct {
	Type        string
	Description string
	TaskID      *string
	UserID      *string
	Metadata    map[string]string
}

// Store is the persistence interface the lifecycle core depends on. All
// operations are atomic per entity instance; no multi-entity transactions are
// required. Implementations: SQLite (this package) and PostgreSQL
// (internal/store/postgres).
type Store interface {
	// Users
	CreateUser(ctx context.Context, d UserDraft) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (models.User, error)

	// Repositories
	CreateRepository(ctx context.Context, d RepositoryDraft) (models.Repository, error)
	GetRepository(ctx context.Context, id string) (models.Repository, error)
	ListRepositoriesByUser(ctx context.Context, userID string) ([]models.Repository, error)

	// Tasks
	CreateTask(ctx context.Context, d TaskDraft) (models.Task, error)
	GetTask(ctx context.Context, id string) (models.Task, error)
	UpdateTask(ctx context.Context, id string, upd TaskUpdate) (models.Task, error)
	// DeleteTask removes the task; when cascade is set, its messages and
	// activities go with it. Returns false when the id does not exist.
	DeleteTask(ctx context.Context, id string, cascade bool) (bool, error)
	ListTasksByUser(ctx context.Context, userID string) ([]models.Task, error)
	// ListActiveTasksByUser returns tasks whose status is not terminal.
	ListActiveTasksByUser(ctx context.Context, userID string) ([]models.Task, error)

	// Messages. Retrieval order is insertion order (ascending).
	CreateMessage(ctx context.Context, d MessageDraft) (models.Message, error)
	ListMessagesByTask(ctx context.Context, taskID string) ([]models.Message, error)
	// ListRecentMessagesByTask returns the last limit messages, still in
	// ascending order. Used for the bounded chat context window.
	ListRecentMessagesByTask(ctx context.Context, taskID string, limit int) ([]models.Message, error)

	// Activities. Retrieval is most-recent-first, truncated to limit
	// (limit <= 0 means the default of 10). An empty userID lists
	// activities for all users.
	CreateActivity(ctx context.Context, d ActivityDraft) (models.Activity, error)
	ListRecentActivitiesByUser(ctx context.Context, userID string, limit int) ([]models.Activity, error)

	// Lifecycle
	SeedDemo(ctx context.Context) error
	Close() error
}
