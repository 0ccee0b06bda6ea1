package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sandeepkv93/tasksync/internal/model"
)

// Firestore stores tasks as documents under users/{uid}/tasks/{id}.
// Last-write-wins is enforced inside a transaction on updatedAtNanos, which
// keeps full precision where Firestore timestamps round to microseconds.
// Every accepted write also sets modifiedAt to the server commit time, and
// pulls page on that field rather than on device clocks.
type Firestore struct {
	client *firestore.Client
}

func NewFirestore(ctx context.Context, app *firebase.App) (*Firestore, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

type taskDoc struct {
	ID               string     `firestore:"id"`
	Title            string     `firestore:"title"`
	Notes            string     `firestore:"notes"`
	DueAt            time.Time  `firestore:"dueAt"`
	IsCompleted      bool       `firestore:"isCompleted"`
	CategoryID       string     `firestore:"categoryId"`
	ReminderEnabled  bool       `firestore:"reminderEnabled"`
	ReminderChannels []string   `firestore:"reminderChannels"`
	ReminderFireAt   *time.Time `firestore:"reminderFireAt"`
	RepeatFrequency  string     `firestore:"repeatFrequency"`
	RepeatInterval   int64      `firestore:"repeatInterval"`
	RepeatEndDate    *time.Time `firestore:"repeatEndDate"`
	RepeatAnchor     *time.Time `firestore:"repeatAnchor"`
	AttachmentIDs    []string   `firestore:"attachmentIds"`
	LastCompletedAt  *time.Time `firestore:"lastCompletedAt"`
	CreatedAt        time.Time  `firestore:"createdAt"`
	UpdatedAtNanos   int64      `firestore:"updatedAtNanos"`
	DeletedAtNanos   int64      `firestore:"deletedAtNanos"`
	ModifiedAt       time.Time  `firestore:"modifiedAt,serverTimestamp"`
}

func toDoc(t model.Task) taskDoc {
	doc := taskDoc{
		ID:              t.ID,
		Title:           t.Title,
		Notes:           t.Notes,
		DueAt:           t.DueAt.UTC(),
		IsCompleted:     t.IsCompleted,
		ReminderEnabled: t.Reminder.Enabled,
		ReminderFireAt:  t.Reminder.FireAt,
		RepeatFrequency: string(t.RepeatRule.Frequency),
		RepeatInterval:  int64(t.RepeatRule.Interval),
		RepeatEndDate:   t.RepeatRule.EndDate,
		AttachmentIDs:   t.AttachmentIDs,
		LastCompletedAt: t.LastCompletedAt,
		CreatedAt:       t.CreatedAt.UTC(),
		UpdatedAtNanos:  t.UpdatedAt.UnixNano(),
	}
	if t.CategoryID != nil {
		doc.CategoryID = *t.CategoryID
	}
	for _, ch := range t.Reminder.Channels {
		doc.ReminderChannels = append(doc.ReminderChannels, string(ch))
	}
	if !t.RepeatRule.Anchor.IsZero() {
		anchor := t.RepeatRule.Anchor.UTC()
		doc.RepeatAnchor = &anchor
	}
	if t.DeletedAt != nil {
		doc.DeletedAtNanos = t.DeletedAt.UnixNano()
	}
	return doc
}

func (d taskDoc) toTask() model.Task {
	t := model.Task{
		ID:              d.ID,
		Title:           d.Title,
		Notes:           d.Notes,
		DueAt:           d.DueAt.UTC(),
		IsCompleted:     d.IsCompleted,
		Reminder:        model.ReminderSettings{Enabled: d.ReminderEnabled, FireAt: utcPtr(d.ReminderFireAt)},
		RepeatRule:      model.RepeatRule{Frequency: model.Frequency(d.RepeatFrequency), Interval: int(d.RepeatInterval), EndDate: utcPtr(d.RepeatEndDate)},
		AttachmentIDs:   d.AttachmentIDs,
		LastCompletedAt: utcPtr(d.LastCompletedAt),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       time.Unix(0, d.UpdatedAtNanos).UTC(),
	}
	if d.CategoryID != "" {
		id := d.CategoryID
		t.CategoryID = &id
	}
	for _, ch := range d.ReminderChannels {
		t.Reminder.Channels = append(t.Reminder.Channels, model.Channel(ch))
	}
	if d.RepeatAnchor != nil {
		t.RepeatRule.Anchor = d.RepeatAnchor.UTC()
	}
	if d.DeletedAtNanos != 0 {
		at := time.Unix(0, d.DeletedAtNanos).UTC()
		t.DeletedAt = &at
	}
	return t
}

func (f *Firestore) tasks(userID string) *firestore.CollectionRef {
	return f.client.Collection("users").Doc(userID).Collection("tasks")
}

func (f *Firestore) GetTask(ctx context.Context, userID, taskID string) (model.Task, bool, error) {
	snap, err := f.tasks(userID).Doc(taskID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return model.Task{}, false, nil
	}
	if err != nil {
		return model.Task{}, false, classify("get task", err)
	}
	var doc taskDoc
	if err := snap.DataTo(&doc); err != nil {
		return model.Task{}, false, fmt.Errorf("remote: decode task %s: %w", taskID, err)
	}
	return doc.toTask(), true, nil
}

func (f *Firestore) UpsertTask(ctx context.Context, userID string, t model.Task) error {
	ref := f.tasks(userID).Doc(t.ID)
	doc := toDoc(t)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cur, found, err := readDoc(tx, ref)
		if err != nil {
			return err
		}
		if found && cur.UpdatedAtNanos >= doc.UpdatedAtNanos {
			return nil
		}
		return tx.Set(ref, doc)
	})
	return classify("upsert task", err)
}

// DeleteTask writes a tombstone so other devices purge their copy. A remote
// record edited after deletedAt is left alone.
func (f *Firestore) DeleteTask(ctx context.Context, userID, taskID string, deletedAt time.Time) error {
	ref := f.tasks(userID).Doc(taskID)
	nanos := deletedAt.UnixNano()
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cur, found, err := readDoc(tx, ref)
		if err != nil {
			return err
		}
		if found && cur.UpdatedAtNanos > nanos {
			return nil
		}
		if !found {
			cur = taskDoc{ID: taskID}
		}
		cur.DeletedAtNanos = nanos
		cur.UpdatedAtNanos = nanos
		cur.ModifiedAt = time.Time{}
		return tx.Set(ref, cur)
	})
	return classify("delete task", err)
}

// ListTasksModifiedSince returns documents committed at or after since.
// Commits sharing the cursor's timestamp come back again and merge as no-ops.
func (f *Firestore) ListTasksModifiedSince(ctx context.Context, userID string, since time.Time) ([]model.RemoteChange, error) {
	iter := f.tasks(userID).
		Where("modifiedAt", ">=", since).
		OrderBy("modifiedAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	out := make([]model.RemoteChange, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("list tasks", err)
		}
		var doc taskDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("remote: decode task %s: %w", snap.Ref.ID, err)
		}
		out = append(out, model.RemoteChange{Task: doc.toTask(), ModifiedAt: doc.ModifiedAt.UTC()})
	}
	return out, nil
}

func readDoc(tx *firestore.Transaction, ref *firestore.DocumentRef) (taskDoc, bool, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return taskDoc{}, false, nil
	}
	if err != nil {
		return taskDoc{}, false, err
	}
	var doc taskDoc
	if err := snap.DataTo(&doc); err != nil {
		return taskDoc{}, false, err
	}
	return doc, true, nil
}

// classify maps transport failures to ErrTransientNetwork so the sync engine
// retries them.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return fmt.Errorf("%w: remote %s: %v", model.ErrTransientNetwork, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: remote %s: %v", model.ErrTransientNetwork, op, err)
	}
	return fmt.Errorf("remote: %s: %w", op, err)
}

func utcPtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := v.UTC()
	return &out
}
