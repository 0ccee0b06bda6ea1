package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Field identifies a mutable task field in change events.
type Field uint16

const (
	FieldTitle Field = 1 << iota
	FieldNotes
	FieldDueAt
	FieldCompleted
	FieldCategory
	FieldReminder
	FieldRepeat
	FieldAttachments
	FieldDeleted
)

func (f Field) Has(other Field) bool {
	return f&other != 0
}

// ScheduleFields are the fields whose change invalidates reminder schedules.
const ScheduleFields = FieldDueAt | FieldReminder | FieldRepeat

// Patch enumerates exactly the mutable task fields. A nil field is left
// untouched. An empty CategoryID detaches the task from its category.
type Patch struct {
	Title         *string           `json:"title,omitempty"`
	Notes         *string           `json:"notes,omitempty"`
	DueAt         *time.Time        `json:"dueAt,omitempty"`
	Completed     *bool             `json:"isCompleted,omitempty"`
	CategoryID    *string           `json:"categoryId,omitempty"`
	Reminder      *ReminderSettings `json:"reminder,omitempty"`
	RepeatRule    *RepeatRule       `json:"repeatRule,omitempty"`
	AttachmentIDs *[]string         `json:"attachmentIds,omitempty"`
}

// DecodePatch parses a JSON patch and rejects keys that are not mutable
// task fields.
func DecodePatch(raw []byte) (Patch, error) {
	var p Patch
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return p, nil
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Notes == nil && p.DueAt == nil && p.Completed == nil &&
		p.CategoryID == nil && p.Reminder == nil && p.RepeatRule == nil && p.AttachmentIDs == nil
}

// Apply returns t with every non-completion field of p applied and the set
// of fields that actually changed. Completion is handled by the store since
// it may roll a recurring task forward.
func (p Patch) Apply(t Task) (Task, Field) {
	out := t.Clone()
	var changed Field

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title != out.Title {
			out.Title = title
			changed |= FieldTitle
		}
	}
	if p.Notes != nil && *p.Notes != out.Notes {
		out.Notes = *p.Notes
		changed |= FieldNotes
	}
	if p.DueAt != nil && !p.DueAt.Equal(out.DueAt) {
		out.DueAt = p.DueAt.UTC()
		changed |= FieldDueAt
		if out.RepeatRule.Active() {
			out.RepeatRule.Anchor = out.DueAt
		}
	}
	if p.CategoryID != nil {
		next := cloneString(p.CategoryID)
		if *next == "" {
			next = nil
		}
		if !stringPtrEqual(next, out.CategoryID) {
			out.CategoryID = next
			changed |= FieldCategory
		}
	}
	if p.Reminder != nil && !p.Reminder.Equal(out.Reminder) {
		out.Reminder = p.Reminder.Normalize()
		changed |= FieldReminder
	}
	if p.RepeatRule != nil {
		rule := *p.RepeatRule
		if rule.Anchor.IsZero() {
			rule.Anchor = out.DueAt
		}
		if !rule.Active() {
			rule.Anchor = time.Time{}
		}
		if !rule.Equal(out.RepeatRule) {
			out.RepeatRule = rule
			out.RepeatRule.EndDate = cloneTime(rule.EndDate)
			changed |= FieldRepeat
		}
	}
	if p.AttachmentIDs != nil && !stringsEqual(*p.AttachmentIDs, out.AttachmentIDs) {
		out.AttachmentIDs = append([]string(nil), (*p.AttachmentIDs)...)
		changed |= FieldAttachments
	}
	return out, changed
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
