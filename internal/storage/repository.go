package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

var ErrNotFound = errors.New("storage: not found")

type TaskRepository interface {
	UpsertTask(ctx context.Context, in model.Task) error
	GetTask(ctx context.Context, id string) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter TaskListFilter) ([]model.Task, error)
}

type CategoryRepository interface {
	UpsertCategory(ctx context.Context, in model.Category) error
	DeleteCategory(ctx context.Context, id string) error
	ListCategories(ctx context.Context) ([]model.Category, error)
}

type OpRepository interface {
	AppendOp(ctx context.Context, op model.PendingOp) (int64, error)
	UpdateOp(ctx context.Context, op model.PendingOp) error
	DeleteOp(ctx context.Context, seq int64) error
	ListOps(ctx context.Context) ([]model.PendingOp, error)
	GetCursor(ctx context.Context, userID string) (model.SyncCursor, error)
	SaveCursor(ctx context.Context, cursor model.SyncCursor) error
}

type StreakRepository interface {
	GetStreak(ctx context.Context, userID string) (model.StreakState, error)
	SaveStreak(ctx context.Context, userID string, state model.StreakState) error
}

type Repository interface {
	TaskRepository
	CategoryRepository
	OpRepository
	StreakRepository
}

// TaskListFilter selects tasks by due date range. DueFrom is inclusive and
// DueTo exclusive; zero values leave that side open.
type TaskListFilter struct {
	DueFrom        time.Time
	DueTo          time.Time
	IncludeDeleted bool
	Limit          int
	Offset         int
}
