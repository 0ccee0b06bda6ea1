package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Task struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Notes           string           `json:"notes,omitempty"`
	DueAt           time.Time        `json:"dueAt"`
	IsCompleted     bool             `json:"isCompleted"`
	CategoryID      *string          `json:"categoryId,omitempty"`
	Reminder        ReminderSettings `json:"reminder"`
	RepeatRule      RepeatRule       `json:"repeatRule"`
	AttachmentIDs   []string         `json:"attachmentIds,omitempty"`
	LastCompletedAt *time.Time       `json:"lastCompletedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	DeletedAt       *time.Time       `json:"deletedAt,omitempty"`
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: task id is required", ErrValidation)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: task title is required", ErrValidation)
	}
	if t.DueAt.IsZero() {
		return fmt.Errorf("%w: task due_at is required", ErrValidation)
	}
	if err := t.Reminder.Validate(); err != nil {
		return err
	}
	return t.RepeatRule.Validate()
}

func (t Task) IsDeleted() bool {
	return t.DeletedAt != nil
}

// FireAt is the moment the current occurrence should remind.
func (t Task) FireAt() time.Time {
	if t.Reminder.FireAt != nil {
		return *t.Reminder.FireAt
	}
	return t.DueAt
}

// NextFireAfter returns the first reminder moment strictly after now. For a
// recurring task whose current fire time has passed, the next occurrence of
// the anchored series is used, keeping the FireAt offset from DueAt.
func (t Task) NextFireAfter(now time.Time) (time.Time, bool) {
	fire := t.FireAt()
	if fire.After(now) {
		return fire, true
	}
	if !t.RepeatRule.Active() {
		return fire, false
	}
	offset := fire.Sub(t.DueAt)
	next, ok := t.RepeatRule.Next(now.Add(-offset))
	if !ok {
		return time.Time{}, false
	}
	return next.Add(offset), true
}

// Clone returns a deep copy so callers never share slices or pointers with
// the store.
func (t Task) Clone() Task {
	out := t
	out.CategoryID = cloneString(t.CategoryID)
	out.Reminder.Channels = append([]Channel(nil), t.Reminder.Channels...)
	out.Reminder.FireAt = cloneTime(t.Reminder.FireAt)
	out.RepeatRule.EndDate = cloneTime(t.RepeatRule.EndDate)
	out.AttachmentIDs = append([]string(nil), t.AttachmentIDs...)
	out.LastCompletedAt = cloneTime(t.LastCompletedAt)
	out.DeletedAt = cloneTime(t.DeletedAt)
	return out
}

// Draft is the input for creating a task.
type Draft struct {
	Title         string           `json:"title" validate:"required,max=200"`
	Notes         string           `json:"notes,omitempty" validate:"max=4000"`
	DueAt         time.Time        `json:"dueAt"`
	CategoryID    *string          `json:"categoryId,omitempty"`
	Reminder      ReminderSettings `json:"reminder"`
	RepeatRule    RepeatRule       `json:"repeatRule"`
	AttachmentIDs []string         `json:"attachmentIds,omitempty"`
}

func (d Draft) Validate() error {
	d.Title = strings.TrimSpace(d.Title)
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if d.DueAt.IsZero() {
		return fmt.Errorf("%w: task due_at is required", ErrValidation)
	}
	if err := d.Reminder.Validate(); err != nil {
		return err
	}
	rule := d.RepeatRule
	if rule.Frequency == "" {
		rule = NoRepeat()
	}
	return rule.Validate()
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
