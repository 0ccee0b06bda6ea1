package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

func TestMemoryUpsertIsLastWriteWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	at := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	task := model.Task{ID: "t1", Title: "v1", DueAt: at, UpdatedAt: at}

	if err := m.UpsertTask(ctx, "u", task); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	stale := task
	stale.Title = "stale"
	stale.UpdatedAt = at.Add(-time.Second)
	if err := m.UpsertTask(ctx, "u", stale); err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	got, ok, _ := m.GetTask(ctx, "u", "t1")
	if !ok || got.Title != "v1" {
		t.Fatalf("stale write must not win: %#v", got)
	}
	if err := m.UpsertTask(ctx, "u", task); err != nil {
		t.Fatalf("replayed upsert: %v", err)
	}
	list, _ := m.ListTasksModifiedSince(ctx, "u", time.Time{})
	if len(list) != 1 {
		t.Fatalf("replay duplicated task: %d", len(list))
	}
}

func TestMemoryDeleteWritesTombstone(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	at := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	_ = m.UpsertTask(ctx, "u", model.Task{ID: "t1", Title: "x", DueAt: at, UpdatedAt: at})
	before, _ := m.ListTasksModifiedSince(ctx, "u", time.Time{})
	mark := before[0].ModifiedAt

	if err := m.DeleteTask(ctx, "u", "t1", at.Add(time.Minute)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteTask(ctx, "u", "missing", at); err != nil {
		t.Fatalf("delete of unknown task must succeed: %v", err)
	}
	list, err := m.ListTasksModifiedSince(ctx, "u", mark)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Task.ID != "t1" || list[0].Task.DeletedAt == nil || !list[0].Task.DeletedAt.Equal(at.Add(time.Minute)) {
		t.Fatalf("expected tombstones after mark, got %#v", list)
	}
}

func TestMemoryModificationTimeIgnoresClientClock(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	at := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	_ = m.UpsertTask(ctx, "u", model.Task{ID: "a", Title: "a", UpdatedAt: at})
	_ = m.UpsertTask(ctx, "u", model.Task{ID: "b", Title: "b", UpdatedAt: at.Add(time.Hour)})
	first, _ := m.ListTasksModifiedSince(ctx, "u", time.Time{})
	mark := first[len(first)-1].ModifiedAt

	// accepted write whose client timestamp is older than b's
	_ = m.UpsertTask(ctx, "u", model.Task{ID: "a", Title: "a2", UpdatedAt: at.Add(time.Minute)})
	list, err := m.ListTasksModifiedSince(ctx, "u", mark)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Task.Title != "a2" || !list[0].ModifiedAt.After(mark) {
		t.Fatalf("late write not listed after mark: %#v", list)
	}

	// rejected stale write leaves the mark alone
	_ = m.UpsertTask(ctx, "u", model.Task{ID: "a", Title: "old", UpdatedAt: at})
	if again, _ := m.ListTasksModifiedSince(ctx, "u", list[0].ModifiedAt); len(again) != 0 {
		t.Fatalf("rejected write was stamped: %#v", again)
	}
}

func TestMemoryFailureInjection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.FailTask("t1", 1)
	task := model.Task{ID: "t1", Title: "x", UpdatedAt: time.Now()}
	if err := m.UpsertTask(ctx, "u", task); !errors.Is(err, model.ErrTransientNetwork) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if err := m.UpsertTask(ctx, "u", task); err != nil {
		t.Fatalf("second attempt should pass: %v", err)
	}
	m.SetOffline(true)
	if _, err := m.ListTasksModifiedSince(ctx, "u", time.Time{}); !errors.Is(err, model.ErrTransientNetwork) {
		t.Fatalf("expected offline error, got %v", err)
	}
}

func TestTaskDocRoundTripKeepsNanoseconds(t *testing.T) {
	at := time.Date(2026, 2, 9, 12, 0, 0, 123456789, time.UTC)
	cat := "c1"
	src := model.Task{
		ID:         "t1",
		Title:      "Doc",
		DueAt:      at,
		CategoryID: &cat,
		Reminder:   model.ReminderSettings{Enabled: true, Channels: []model.Channel{model.ChannelChat}},
		RepeatRule: model.RepeatRule{Frequency: model.FrequencyWeekly, Interval: 2, Anchor: at},
		UpdatedAt:  at,
		DeletedAt:  &at,
	}
	doc := toDoc(src)
	if !doc.ModifiedAt.IsZero() {
		t.Fatal("modifiedAt must be left for the server to stamp")
	}
	got := doc.toTask()
	if !got.UpdatedAt.Equal(at) || got.DeletedAt == nil || !got.DeletedAt.Equal(at) {
		t.Fatalf("timestamps lost precision: %s %v", got.UpdatedAt, got.DeletedAt)
	}
	if *got.CategoryID != "c1" || !got.Reminder.Equal(src.Reminder) || !got.RepeatRule.Equal(src.RepeatRule) {
		t.Fatalf("fields lost in conversion: %#v", got)
	}
}
