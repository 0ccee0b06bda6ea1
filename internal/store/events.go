package store

import "github.com/sandeepkv93/tasksync/internal/model"

type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventCompleted EventKind = "completed"
	EventDeleted   EventKind = "deleted"
	EventPurged    EventKind = "purged"
)

// Origin tells listeners whether a change came from this device or was
// merged in from the remote store.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Event describes one committed mutation. Task is a snapshot taken after the
// mutation; for purges it is the last known record.
type Event struct {
	TaskID  string
	Kind    EventKind
	Origin  Origin
	Changed model.Field
	Task    model.Task
}

// Listener receives events in commit order. Listeners run on the mutating
// goroutine after the write lock is released and must not mutate the store.
type Listener func(Event)

const allFields = model.FieldTitle | model.FieldNotes | model.FieldDueAt | model.FieldCompleted |
	model.FieldCategory | model.FieldReminder | model.FieldRepeat | model.FieldAttachments

// diffFields reports which mutable fields differ between a and b.
func diffFields(a, b model.Task) model.Field {
	var f model.Field
	if a.Title != b.Title {
		f |= model.FieldTitle
	}
	if a.Notes != b.Notes {
		f |= model.FieldNotes
	}
	if !a.DueAt.Equal(b.DueAt) {
		f |= model.FieldDueAt
	}
	if a.IsCompleted != b.IsCompleted {
		f |= model.FieldCompleted
	}
	if !sameString(a.CategoryID, b.CategoryID) {
		f |= model.FieldCategory
	}
	if !a.Reminder.Equal(b.Reminder) {
		f |= model.FieldReminder
	}
	if !a.RepeatRule.Equal(b.RepeatRule) {
		f |= model.FieldRepeat
	}
	if !sameStrings(a.AttachmentIDs, b.AttachmentIDs) {
		f |= model.FieldAttachments
	}
	if a.IsDeleted() != b.IsDeleted() {
		f |= model.FieldDeleted
	}
	return f
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameStrings(a, b []string) bool {
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
