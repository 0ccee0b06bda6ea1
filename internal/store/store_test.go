package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/tasksync/internal/blob"
	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/storage"
)

type frozenClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *frozenClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *frozenClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "store-test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.MigrateUp(db); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	repo, err := storage.NewSQLiteRepository(db)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	return repo
}

func setupStore(t *testing.T) (*Store, *frozenClock, *blob.Memory) {
	t.Helper()
	clock := &frozenClock{now: time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)}
	blobs := blob.NewMemory()
	seq := 0
	s := New(setupRepo(t), blobs, nil,
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	return s, clock, blobs
}

func recordEvents(s *Store) *[]Event {
	var mu sync.Mutex
	events := make([]Event, 0)
	s.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	return &events
}

func draft(title string, due time.Time) model.Draft {
	return model.Draft{Title: title, DueAt: due, RepeatRule: model.NoRepeat()}
}

func TestCreateUpdateKeepsUnpatchedFieldsAndBumpsUpdatedAt(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	due := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	cat, err := s.CreateCategory(ctx, "Home", "house")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	d := draft("Water plants", due)
	d.Notes = "balcony first"
	d.CategoryID = &cat.ID
	d.Reminder = model.ReminderSettings{Enabled: true, Channels: []model.Channel{model.ChannelSMS, model.ChannelAppPush}}
	created, err := s.Create(ctx, d)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The clock never moves, so only the store's own stamping can order these.
	prev := created.UpdatedAt
	for i := 0; i < 3; i++ {
		title := fmt.Sprintf("Water plants %d", i)
		updated, err := s.Update(ctx, created.ID, model.Patch{Title: &title})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if !updated.UpdatedAt.After(prev) {
			t.Fatalf("updatedAt did not increase: %s -> %s", prev, updated.UpdatedAt)
		}
		prev = updated.UpdatedAt
		if updated.Notes != created.Notes || !updated.DueAt.Equal(created.DueAt) ||
			*updated.CategoryID != cat.ID || !updated.Reminder.Equal(created.Reminder) ||
			!updated.RepeatRule.Equal(created.RepeatRule) || updated.IsCompleted {
			t.Fatalf("unpatched field changed: %#v", updated)
		}
	}
}

func TestUpdateWithNoChangesEmitsNothing(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, draft("Same", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	events := recordEvents(s)
	title := "Same"
	got, err := s.Update(ctx, created.ID, model.Patch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.UpdatedAt.Equal(created.UpdatedAt) || len(*events) != 0 {
		t.Fatalf("no-op patch should not bump or emit: %s events=%d", got.UpdatedAt, len(*events))
	}
}

func TestValidationFailsClosed(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, draft("  ", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC))); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	created, err := s.Create(ctx, draft("Keep", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	empty := ""
	if _, err := s.Update(ctx, created.ID, model.Patch{Title: &empty}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	got, _ := s.Get(created.ID)
	if got.Title != "Keep" {
		t.Fatalf("failed update mutated task: %q", got.Title)
	}
	if _, err := s.Update(ctx, "missing", model.Patch{Title: &empty}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCategoryDetachesTasks(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	c1, err := s.CreateCategory(ctx, "Errands", "")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	d := draft("Buy milk", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC))
	d.CategoryID = &c1.ID
	d.Notes = "oat"
	t1, err := s.Create(ctx, d)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	events := recordEvents(s)
	if err := s.DeleteCategory(ctx, c1.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	got, err := s.Get(t1.ID)
	if err != nil {
		t.Fatalf("task must survive category delete: %v", err)
	}
	if got.CategoryID != nil || got.Title != "Buy milk" || got.Notes != "oat" {
		t.Fatalf("unexpected task after detach: %#v", got)
	}
	if len(*events) != 1 || (*events)[0].Kind != EventUpdated || !(*events)[0].Changed.Has(model.FieldCategory) {
		t.Fatalf("expected one category update event, got %#v", *events)
	}
	if len(s.Categories()) != 0 {
		t.Fatalf("category still listed: %#v", s.Categories())
	}
}

func TestDeleteCategoryDetachesTombstonesQuietly(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	c1, err := s.CreateCategory(ctx, "Errands", "")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	d := draft("Old errand", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC))
	d.CategoryID = &c1.ID
	gone, err := s.Create(ctx, d)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := s.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	s.mu.RLock()
	before := s.tasks[gone.ID].UpdatedAt
	s.mu.RUnlock()

	events := recordEvents(s)
	if err := s.DeleteCategory(ctx, c1.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	s.mu.RLock()
	tomb := s.tasks[gone.ID]
	s.mu.RUnlock()
	if tomb.CategoryID != nil {
		t.Fatalf("tombstone still references deleted category: %v", *tomb.CategoryID)
	}
	if !tomb.UpdatedAt.Equal(before) || !tomb.IsDeleted() {
		t.Fatalf("tombstone must keep its timestamp and deletion: %#v", tomb)
	}
	if len(*events) != 0 {
		t.Fatalf("tombstone detach emitted events: %#v", *events)
	}
}

func TestCategoryNamesAreUniqueIgnoringCase(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	seeded, err := s.SeedDefaults(ctx)
	if err != nil || !seeded {
		t.Fatalf("seed defaults: %v %v", seeded, err)
	}
	if seeded, _ := s.SeedDefaults(ctx); seeded {
		t.Fatal("defaults must only be seeded once")
	}
	if _, err := s.CreateCategory(ctx, "work", ""); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	cats := s.Categories()
	if len(cats) != 2 || cats[0].Name != "Personal" || cats[1].Name != "Work" {
		t.Fatalf("unexpected categories: %#v", cats)
	}
	if _, err := s.RenameCategory(ctx, cats[0].ID, "WORK"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected rename collision, got %v", err)
	}
}

func TestQueryFilters(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	cat, _ := s.CreateCategory(ctx, "Work", "")

	a := draft("Quarterly REPORT", base.Add(9*time.Hour))
	a.CategoryID = &cat.ID
	a.Reminder = model.ReminderSettings{Enabled: true, Channels: []model.Channel{model.ChannelEmail}}
	ta, _ := s.Create(ctx, a)
	b := draft("Dentist", base.Add(33*time.Hour))
	b.Notes = "bring the report card"
	tb, _ := s.Create(ctx, b)
	tc, _ := s.Create(ctx, draft("Gym", base.Add(10*time.Hour)))
	if _, err := s.SetCompleted(ctx, tc.ID, true); err != nil {
		t.Fatalf("complete: %v", err)
	}
	td, _ := s.Create(ctx, draft("Old", base.Add(11*time.Hour)))
	if err := s.Delete(ctx, td.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	ids := func(tasks []model.Task) []string {
		out := make([]string, 0, len(tasks))
		for _, task := range tasks {
			out = append(out, task.ID)
		}
		return out
	}
	assert := func(name string, got []model.Task, want ...string) {
		t.Helper()
		g := ids(got)
		if fmt.Sprint(g) != fmt.Sprint(want) {
			t.Fatalf("%s: got %v want %v", name, g, want)
		}
	}

	done, open, yes := true, false, true
	empty := ""
	assert("day", s.Query(Filter{DueFrom: base, DueTo: base.Add(24 * time.Hour)}), ta.ID, tc.ID)
	assert("category", s.Query(Filter{CategoryID: &cat.ID}), ta.ID)
	assert("uncategorized", s.Query(Filter{CategoryID: &empty}), tc.ID, tb.ID)
	assert("completed", s.Query(Filter{Completed: &done}), tc.ID)
	assert("open", s.Query(Filter{Completed: &open}), ta.ID, tb.ID)
	assert("reminders", s.Query(Filter{ReminderEnabled: &yes}), ta.ID)
	assert("text", s.Query(Filter{Text: "report"}), ta.ID, tb.ID)
}

func TestMergeRemoteLastWriteWins(t *testing.T) {
	s, clock, _ := setupStore(t)
	ctx := context.Background()
	local, err := s.Create(ctx, draft("Local title", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	older := local.Clone()
	older.Title = "Older remote"
	older.UpdatedAt = local.UpdatedAt.Add(-time.Minute)
	if applied, err := s.MergeRemote(ctx, older); err != nil || applied {
		t.Fatalf("older remote must lose: applied=%v err=%v", applied, err)
	}
	tie := local.Clone()
	tie.Title = "Tie remote"
	if applied, _ := s.MergeRemote(ctx, tie); applied {
		t.Fatal("tie must keep local")
	}
	if got, _ := s.Get(local.ID); got.Title != "Local title" {
		t.Fatalf("local lost to older or tied remote: %q", got.Title)
	}

	clock.Advance(time.Hour)
	newer := local.Clone()
	newer.Title = "Newer remote"
	newer.Notes = "from another device"
	newer.UpdatedAt = local.UpdatedAt.Add(time.Minute)
	events := recordEvents(s)
	if applied, err := s.MergeRemote(ctx, newer); err != nil || !applied {
		t.Fatalf("newer remote must win: applied=%v err=%v", applied, err)
	}
	got, _ := s.Get(local.ID)
	if got.Title != newer.Title || got.Notes != newer.Notes || !got.UpdatedAt.Equal(newer.UpdatedAt) {
		t.Fatalf("merged result differs from remote snapshot: %#v", got)
	}
	if len(*events) != 1 || (*events)[0].Origin != OriginRemote ||
		!(*events)[0].Changed.Has(model.FieldTitle) || (*events)[0].Changed.Has(model.FieldDueAt) {
		t.Fatalf("unexpected merge events: %#v", *events)
	}

	if applied, _ := s.MergeRemote(ctx, newer); applied {
		t.Fatal("merging the same snapshot twice must be a no-op")
	}
	if len(*events) != 1 {
		t.Fatalf("replay emitted events: %d", len(*events))
	}
}

func TestMergeRemoteInsertsUnknownTask(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	remote := model.Task{
		ID:         "remote-1",
		Title:      "From phone",
		DueAt:      at.Add(24 * time.Hour),
		RepeatRule: model.RepeatRule{Frequency: model.FrequencyWeekly, Interval: 1},
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	if applied, err := s.MergeRemote(ctx, remote); err != nil || !applied {
		t.Fatalf("merge: applied=%v err=%v", applied, err)
	}
	got, err := s.Get("remote-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.RepeatRule.Anchor.Equal(remote.DueAt) {
		t.Fatalf("missing anchor should default to due date, got %s", got.RepeatRule.Anchor)
	}
}

func TestRemoteTombstonePurgesOnlyWhenLocalIsNotNewer(t *testing.T) {
	s, _, blobs := setupStore(t)
	ctx := context.Background()
	task, _ := s.Create(ctx, draft("Edited offline", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)))
	task, err := s.AttachImage(ctx, task.ID, []byte("jpeg"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	early := task.UpdatedAt.Add(-time.Second)
	stale := task.Clone()
	stale.DeletedAt = &early
	stale.UpdatedAt = early
	if applied, _ := s.MergeRemote(ctx, stale); applied {
		t.Fatal("tombstone older than the local edit must not purge")
	}
	if _, err := s.Get(task.ID); err != nil {
		t.Fatalf("task purged too early: %v", err)
	}

	late := task.UpdatedAt
	tomb := task.Clone()
	tomb.DeletedAt = &late
	tomb.UpdatedAt = late
	events := recordEvents(s)
	if applied, err := s.MergeRemote(ctx, tomb); err != nil || !applied {
		t.Fatalf("tombstone at local updatedAt must purge: applied=%v err=%v", applied, err)
	}
	if _, err := s.Get(task.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected purge, got %v", err)
	}
	if blobs.Len() != 0 {
		t.Fatalf("attachment blobs survived purge: %d", blobs.Len())
	}
	if len(*events) != 1 || (*events)[0].Kind != EventPurged || (*events)[0].Origin != OriginRemote {
		t.Fatalf("unexpected events: %#v", *events)
	}
	if applied, err := s.MergeRemote(ctx, tomb); err != nil || applied {
		t.Fatalf("replayed tombstone must be a no-op: applied=%v err=%v", applied, err)
	}
}

func TestDeleteThenPurge(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	task, _ := s.Create(ctx, draft("Temp", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)))
	if err := s.Purge(ctx, task.ID); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("purging a live task must fail, got %v", err)
	}
	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(s.Query(Filter{})) != 0 {
		t.Fatal("tombstoned task must be hidden from queries")
	}
	if err := s.Delete(ctx, task.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
	if err := s.Purge(ctx, task.ID); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if err := s.Purge(ctx, task.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second purge: expected ErrNotFound, got %v", err)
	}
}

func TestCompletingRecurringTaskRollsForward(t *testing.T) {
	s, clock, _ := setupStore(t)
	ctx := context.Background()
	due := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	clock.now = due.Add(-time.Hour)
	fire := due.Add(-15 * time.Minute)

	d := draft("Pay rent", due)
	d.RepeatRule = model.RepeatRule{Frequency: model.FrequencyMonthly, Interval: 1}
	d.Reminder = model.ReminderSettings{Enabled: true, Channels: []model.Channel{model.ChannelAppPush}, FireAt: &fire}
	task, err := s.Create(ctx, d)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	events := recordEvents(s)
	rolled, err := s.SetCompleted(ctx, task.ID, true)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rolled.IsCompleted {
		t.Fatal("recurring task with a next occurrence must stay pending")
	}
	if rolled.DueAt.Format("2006-01-02 15:04") != "2026-02-28 10:00" {
		t.Fatalf("unexpected rolled due date: %s", rolled.DueAt)
	}
	if rolled.Reminder.FireAt.Format("15:04") != "09:45" {
		t.Fatalf("fire offset lost: %s", rolled.Reminder.FireAt)
	}
	if rolled.LastCompletedAt == nil {
		t.Fatal("expected lastCompletedAt")
	}
	ev := (*events)[0]
	if ev.Kind != EventCompleted || !ev.Changed.Has(model.FieldDueAt) {
		t.Fatalf("unexpected completion event: %#v", ev)
	}

	rolled, _ = s.SetCompleted(ctx, task.ID, true)
	if rolled.DueAt.Format("2006-01-02") != "2026-03-31" {
		t.Fatalf("anchor day not restored after clamp: %s", rolled.DueAt)
	}
}

func TestCompletingLastOccurrenceMarksDone(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	due := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	end := due.Add(time.Hour)
	d := draft("Last", due)
	d.RepeatRule = model.RepeatRule{Frequency: model.FrequencyDaily, Interval: 1, EndDate: &end}
	task, _ := s.Create(ctx, d)

	done, err := s.SetCompleted(ctx, task.ID, true)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.IsCompleted || !done.DueAt.Equal(due) {
		t.Fatalf("expected completed task at original due date: %#v", done)
	}
	reopened, _ := s.SetCompleted(ctx, task.ID, false)
	if reopened.IsCompleted {
		t.Fatal("expected reopened task")
	}
}

func TestAttachAndDetachImage(t *testing.T) {
	s, _, blobs := setupStore(t)
	ctx := context.Background()
	task, _ := s.Create(ctx, draft("Receipt", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)))

	task, err := s.AttachImage(ctx, task.ID, []byte("png-bytes"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(task.AttachmentIDs) != 1 {
		t.Fatalf("expected one attachment, got %v", task.AttachmentIDs)
	}
	data, ok, err := s.LoadImage(ctx, task.AttachmentIDs[0])
	if err != nil || !ok || string(data) != "png-bytes" {
		t.Fatalf("load image: %q %v %v", data, ok, err)
	}
	task, err = s.DetachImage(ctx, task.ID, task.AttachmentIDs[0])
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if len(task.AttachmentIDs) != 0 || blobs.Len() != 0 {
		t.Fatalf("detach left state behind: ids=%v blobs=%d", task.AttachmentIDs, blobs.Len())
	}
	if _, err := s.DetachImage(ctx, task.ID, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadRestoresPersistedState(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	first := New(repo, nil, nil)
	task, err := first.Create(ctx, draft("Persist me", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gone, _ := first.Create(ctx, draft("Tombstone", time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)))
	_ = first.Delete(ctx, gone.ID)

	second := New(repo, nil, nil)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := second.Get(task.ID)
	if err != nil || got.Title != "Persist me" {
		t.Fatalf("task not restored: %#v %v", got, err)
	}
	if err := second.Purge(ctx, gone.ID); err != nil {
		t.Fatalf("tombstone should be restored and purgeable: %v", err)
	}
}

func TestEventsArriveInCommitOrder(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()
	events := recordEvents(s)
	task, _ := s.Create(ctx, draft("Order", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)))
	notes := "n"
	_, _ = s.Update(ctx, task.ID, model.Patch{Notes: &notes})
	_, _ = s.SetCompleted(ctx, task.ID, true)
	_ = s.Delete(ctx, task.ID)

	want := []EventKind{EventCreated, EventUpdated, EventCompleted, EventDeleted}
	if len(*events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(*events))
	}
	for i, ev := range *events {
		if ev.Kind != want[i] || ev.Origin != OriginLocal || ev.TaskID != task.ID {
			t.Fatalf("event %d: got %s/%s want %s", i, ev.Kind, ev.Origin, want[i])
		}
	}
}
