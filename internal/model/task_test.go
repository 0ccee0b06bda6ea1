package model

import (
	"errors"
	"testing"
	"time"
)

func TestTaskValidateSuccess(t *testing.T) {
	now := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	task := Task{
		ID:         "task-1",
		Title:      "Pay rent",
		DueAt:      now,
		RepeatRule: NoRepeat(),
		Reminder:   ReminderSettings{Enabled: true, Channels: []Channel{ChannelAppPush}},
	}
	if err := task.Validate(); err != nil {
		t.Fatalf("expected valid task, got error: %v", err)
	}
}

func TestTaskValidateEnabledReminderNeedsChannel(t *testing.T) {
	task := Task{
		ID:         "task-1",
		Title:      "Call mom",
		DueAt:      time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC),
		RepeatRule: NoRepeat(),
		Reminder:   ReminderSettings{Enabled: true},
	}
	if err := task.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got: %v", err)
	}
}

func TestDraftValidate(t *testing.T) {
	due := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	if err := (Draft{Title: "   ", DueAt: due}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank title, got %v", err)
	}
	if err := (Draft{Title: "ok"}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing due date, got %v", err)
	}
	bad := Draft{Title: "ok", DueAt: due, RepeatRule: RepeatRule{Frequency: FrequencyDaily}}
	if err := bad.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero interval, got %v", err)
	}
	if err := (Draft{Title: "ok", DueAt: due}).Validate(); err != nil {
		t.Fatalf("expected valid draft, got %v", err)
	}
}

func TestNextFireAfterKeepsOffsetForRecurringTask(t *testing.T) {
	due := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	fire := due.Add(-30 * time.Minute)
	task := Task{
		DueAt:      due,
		Reminder:   ReminderSettings{Enabled: true, Channels: []Channel{ChannelEmail}, FireAt: &fire},
		RepeatRule: RepeatRule{Frequency: FrequencyMonthly, Interval: 1, Anchor: due},
	}
	next, ok := task.NextFireAfter(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	if !ok {
		t.Fatal("expected next fire time")
	}
	if next.Format("2006-01-02 15:04") != "2026-02-28 09:30" {
		t.Fatalf("unexpected next fire: %s", next.Format(time.RFC3339))
	}
}

func TestNextFireAfterPastOneShot(t *testing.T) {
	due := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	task := Task{DueAt: due, RepeatRule: NoRepeat()}
	got, ok := task.NextFireAfter(due.Add(time.Hour))
	if ok {
		t.Fatal("expected past one-shot to report false")
	}
	if !got.Equal(due) {
		t.Fatalf("expected stale fire time to be returned, got %s", got)
	}
}

func TestDecodePatchRejectsUnknownKeys(t *testing.T) {
	_, err := DecodePatch([]byte(`{"title":"x","priority":3}`))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	p, err := DecodePatch([]byte(`{"title":"x","isCompleted":true}`))
	if err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	if p.Title == nil || *p.Title != "x" || p.Completed == nil || !*p.Completed {
		t.Fatalf("unexpected patch: %+v", p)
	}
}

func TestPatchApplyReportsChangedFields(t *testing.T) {
	due := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	cat := "cat-1"
	task := Task{ID: "t", Title: "Old", Notes: "keep", DueAt: due, CategoryID: &cat, RepeatRule: NoRepeat()}

	title := "New"
	empty := ""
	out, changed := Patch{Title: &title, CategoryID: &empty}.Apply(task)
	if !changed.Has(FieldTitle) || !changed.Has(FieldCategory) || changed.Has(FieldNotes) {
		t.Fatalf("unexpected changed set: %b", changed)
	}
	if out.Title != "New" || out.CategoryID != nil || out.Notes != "keep" {
		t.Fatalf("unexpected patched task: %+v", out)
	}
	if task.CategoryID == nil || *task.CategoryID != "cat-1" {
		t.Fatal("apply must not mutate its input")
	}
}

func TestSessionContactFor(t *testing.T) {
	s := Session{Phone: "+15550100", Email: " "}
	if v, ok := s.ContactFor(ChannelSMS); !ok || v != "+15550100" {
		t.Fatalf("unexpected sms contact: %q %v", v, ok)
	}
	if _, ok := s.ContactFor(ChannelEmail); ok {
		t.Fatal("blank email must count as missing")
	}
	if _, ok := s.ContactFor(ChannelChat); ok {
		t.Fatal("missing chat id must count as missing")
	}
}
