package store

import (
	"strings"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

// Filter narrows Query. Zero values match everything. DueFrom is inclusive
// and DueTo exclusive. An empty CategoryID selects uncategorized tasks.
type Filter struct {
	DueFrom         time.Time
	DueTo           time.Time
	CategoryID      *string
	Completed       *bool
	ReminderEnabled *bool
	Text            string
}

func (f Filter) match(t model.Task) bool {
	if t.IsDeleted() {
		return false
	}
	if !f.DueFrom.IsZero() && t.DueAt.Before(f.DueFrom) {
		return false
	}
	if !f.DueTo.IsZero() && !t.DueAt.Before(f.DueTo) {
		return false
	}
	if f.CategoryID != nil {
		if *f.CategoryID == "" {
			if t.CategoryID != nil {
				return false
			}
		} else if t.CategoryID == nil || *t.CategoryID != *f.CategoryID {
			return false
		}
	}
	if f.Completed != nil && t.IsCompleted != *f.Completed {
		return false
	}
	if f.ReminderEnabled != nil && t.Reminder.Enabled != *f.ReminderEnabled {
		return false
	}
	if text := strings.ToLower(strings.TrimSpace(f.Text)); text != "" {
		hay := strings.ToLower(t.Title + "\n" + t.Notes)
		if !strings.Contains(hay, text) {
			return false
		}
	}
	return true
}

// Query returns live tasks matching f ordered by due date.
func (s *Store) Query(f Filter) []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Task, 0)
	for _, t := range s.tasks {
		if f.match(t) {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out
}
