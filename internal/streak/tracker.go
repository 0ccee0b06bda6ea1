// Package streak counts consecutive calendar days on which at least one
// task was added.
package streak

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/storage"
	"github.com/sandeepkv93/tasksync/internal/store"
)

// Advance applies one task-added event on day to state. Days are
// YYYY-MM-DD strings in model.ReferenceZone.
func Advance(state model.StreakState, day string) (model.StreakState, error) {
	current, err := time.ParseInLocation(model.DayLayout, day, model.ReferenceZone)
	if err != nil {
		return state, fmt.Errorf("%w: day %q", model.ErrValidation, day)
	}
	if state.LastTaskAddedDay == "" {
		return model.StreakState{StreakDays: 1, LastTaskAddedDay: day}, nil
	}
	if state.LastTaskAddedDay == day {
		return state, nil
	}
	last, err := time.ParseInLocation(model.DayLayout, state.LastTaskAddedDay, model.ReferenceZone)
	if err == nil && last.AddDate(0, 0, 1).Equal(current) {
		return model.StreakState{StreakDays: state.StreakDays + 1, LastTaskAddedDay: day}, nil
	}
	return model.StreakState{StreakDays: 1, LastTaskAddedDay: day}, nil
}

type Tracker struct {
	repo   storage.StreakRepository
	userID string
	log    *zap.SugaredLogger

	mu    sync.Mutex
	state model.StreakState
}

func New(repo storage.StreakRepository, userID string, log *zap.SugaredLogger) *Tracker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tracker{repo: repo, userID: userID, log: log}
}

func (t *Tracker) Load(ctx context.Context) error {
	state, err := t.repo.GetStreak(ctx, t.userID)
	if err != nil {
		return fmt.Errorf("streak: load: %w", err)
	}
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
	return nil
}

func (t *Tracker) State() model.StreakState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RecordTaskAdded advances the streak for a task added at `at` and persists
// the result when it changed.
func (t *Tracker) RecordTaskAdded(ctx context.Context, at time.Time) (model.StreakState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := Advance(t.state, model.Day(at))
	if err != nil {
		return t.state, err
	}
	if next == t.state {
		return next, nil
	}
	if err := t.repo.SaveStreak(ctx, t.userID, next); err != nil {
		return t.state, fmt.Errorf("streak: save: %w", err)
	}
	t.state = next
	return next, nil
}

// HandleEvent feeds locally created tasks into the tracker.
func (t *Tracker) HandleEvent(ev store.Event) {
	if ev.Kind != store.EventCreated || ev.Origin != store.OriginLocal {
		return
	}
	state, err := t.RecordTaskAdded(context.Background(), ev.Task.CreatedAt)
	if err != nil {
		t.log.Warnw("streak update failed", "task_id", ev.TaskID, "error", err)
		return
	}
	t.log.Debugw("streak updated", "days", state.StreakDays, "day", state.LastTaskAddedDay)
}
