// Package store is the authoritative local copy of tasks and categories.
// All mutations go through one write lock; readers always receive copies.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/blob"
	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/storage"
)

// Repository is the slice of local persistence the store writes through.
type Repository interface {
	storage.TaskRepository
	storage.CategoryRepository
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

type Store struct {
	mu         sync.RWMutex
	tasks      map[string]model.Task
	categories map[string]model.Category

	// emitMu is taken before mu is released so listeners observe events in
	// commit order without holding up readers.
	emitMu      sync.Mutex
	listenersMu sync.Mutex
	listeners   []subscription
	nextSubID   int

	repo  Repository
	blobs blob.Store
	log   *zap.SugaredLogger
	now   func() time.Time
	newID func() string
}

type subscription struct {
	id int
	fn Listener
}

func New(repo Repository, blobs blob.Store, log *zap.SugaredLogger, opts ...Option) *Store {
	if blobs == nil {
		blobs = blob.NewMemory()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{
		tasks:      make(map[string]model.Task),
		categories: make(map[string]model.Category),
		repo:       repo,
		blobs:      blobs,
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with what is persisted, tombstones
// included. It emits no events.
func (s *Store) Load(ctx context.Context) error {
	tasks, err := s.repo.ListTasks(ctx, storage.TaskListFilter{IncludeDeleted: true})
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		s.tasks[t.ID] = withAnchor(t)
	}
	s.categories = make(map[string]model.Category, len(categories))
	for _, c := range categories {
		s.categories[c.ID] = c
	}
	s.log.Infow("store loaded", "tasks", len(s.tasks), "categories", len(s.categories))
	return nil
}

// Subscribe registers l for every subsequent event and returns a function
// that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.listeners = append(s.listeners, subscription{id: id, fn: l})
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, sub := range s.listeners {
			if sub.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) Create(ctx context.Context, d model.Draft) (model.Task, error) {
	if err := d.Validate(); err != nil {
		return model.Task{}, err
	}
	var out model.Task
	err := s.mutate(func() ([]Event, error) {
		category := cloneCategoryRef(d.CategoryID)
		if err := s.checkCategory(category); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		due := d.DueAt.UTC()
		task := model.Task{
			ID:            s.newID(),
			Title:         strings.TrimSpace(d.Title),
			Notes:         d.Notes,
			DueAt:         due,
			CategoryID:    category,
			Reminder:      d.Reminder.Normalize(),
			RepeatRule:    normalizeRule(d.RepeatRule, due),
			AttachmentIDs: append([]string(nil), d.AttachmentIDs...),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.write(ctx, task); err != nil {
			return nil, err
		}
		out = task.Clone()
		return []Event{{TaskID: task.ID, Kind: EventCreated, Origin: OriginLocal, Changed: allFields, Task: task.Clone()}}, nil
	})
	return out, err
}

// Update applies p to a live task. A patch that changes nothing returns the
// current task without bumping UpdatedAt or emitting an event.
func (s *Store) Update(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	var out model.Task
	err := s.mutate(func() ([]Event, error) {
		cur, err := s.live(id)
		if err != nil {
			return nil, err
		}
		next, changed := p.Apply(cur)
		if changed.Has(model.FieldCategory) {
			if err := s.checkCategory(next.CategoryID); err != nil {
				return nil, err
			}
		}
		if p.Completed != nil {
			var extra model.Field
			next, extra = s.complete(next, *p.Completed)
			changed |= extra
		}
		if changed == 0 {
			out = cur.Clone()
			return nil, nil
		}
		if err := next.Validate(); err != nil {
			return nil, err
		}
		next.UpdatedAt = s.stamp(cur.UpdatedAt)
		if err := s.write(ctx, next); err != nil {
			return nil, err
		}
		out = next.Clone()
		return []Event{{TaskID: id, Kind: EventUpdated, Origin: OriginLocal, Changed: changed, Task: next.Clone()}}, nil
	})
	return out, err
}

// SetCompleted is the dedicated completion toggle. Completing a recurring
// task that has a further occurrence rolls it forward to that occurrence and
// leaves it pending.
func (s *Store) SetCompleted(ctx context.Context, id string, done bool) (model.Task, error) {
	var out model.Task
	err := s.mutate(func() ([]Event, error) {
		cur, err := s.live(id)
		if err != nil {
			return nil, err
		}
		next, changed := s.complete(cur.Clone(), done)
		if changed == 0 {
			out = cur.Clone()
			return nil, nil
		}
		next.UpdatedAt = s.stamp(cur.UpdatedAt)
		if err := s.write(ctx, next); err != nil {
			return nil, err
		}
		out = next.Clone()
		return []Event{{TaskID: id, Kind: EventCompleted, Origin: OriginLocal, Changed: changed, Task: next.Clone()}}, nil
	})
	return out, err
}

// Delete tombstones a live task. The record stays until Purge.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.mutate(func() ([]Event, error) {
		cur, err := s.live(id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		at := s.stamp(cur.UpdatedAt)
		next.DeletedAt = &at
		next.UpdatedAt = at
		if err := s.write(ctx, next); err != nil {
			return nil, err
		}
		return []Event{{TaskID: id, Kind: EventDeleted, Origin: OriginLocal, Changed: model.FieldDeleted, Task: next.Clone()}}, nil
	})
}

// Purge hard-deletes a tombstoned task together with its attachment blobs.
func (s *Store) Purge(ctx context.Context, id string) error {
	var blobs []string
	err := s.mutate(func() ([]Event, error) {
		cur, ok := s.tasks[id]
		if !ok {
			return nil, fmt.Errorf("%w: task %q", model.ErrNotFound, id)
		}
		if !cur.IsDeleted() {
			return nil, fmt.Errorf("%w: task %q is not deleted", model.ErrValidation, id)
		}
		ev, err := s.purgeLocked(ctx, cur, OriginLocal)
		if err != nil {
			return nil, err
		}
		blobs = cur.AttachmentIDs
		return []Event{ev}, nil
	})
	if err != nil {
		return err
	}
	s.deleteBlobs(ctx, id, blobs)
	return nil
}

// MergeRemote resolves a pulled snapshot against the local record with
// whole-record last-write-wins; ties keep the local copy. A remote tombstone
// purges the local task only when the local copy is not newer than the
// deletion. It reports whether local state changed.
func (s *Store) MergeRemote(ctx context.Context, remote model.Task) (bool, error) {
	if strings.TrimSpace(remote.ID) == "" {
		return false, fmt.Errorf("%w: remote task without id", model.ErrValidation)
	}
	if !remote.IsDeleted() {
		if err := remote.Validate(); err != nil {
			return false, err
		}
	}

	applied := false
	var blobs []string
	err := s.mutate(func() ([]Event, error) {
		local, exists := s.tasks[remote.ID]
		if remote.IsDeleted() {
			if !exists || local.UpdatedAt.After(*remote.DeletedAt) {
				return nil, nil
			}
			ev, err := s.purgeLocked(ctx, local, OriginRemote)
			if err != nil {
				return nil, err
			}
			applied = true
			blobs = local.AttachmentIDs
			return []Event{ev}, nil
		}
		if exists && !remote.UpdatedAt.After(local.UpdatedAt) {
			return nil, nil
		}

		next := withAnchor(remote.Clone())
		next.Reminder = next.Reminder.Normalize()
		if err := s.write(ctx, next); err != nil {
			return nil, err
		}
		applied = true
		ev := Event{TaskID: next.ID, Kind: EventCreated, Origin: OriginRemote, Changed: allFields, Task: next.Clone()}
		if exists {
			ev.Kind = EventUpdated
			ev.Changed = diffFields(local, next)
		}
		return []Event{ev}, nil
	})
	if err != nil {
		return false, err
	}
	s.deleteBlobs(ctx, remote.ID, blobs)
	return applied, nil
}

func (s *Store) Get(id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.live(id)
	if err != nil {
		return model.Task{}, err
	}
	return t.Clone(), nil
}

// AttachImage stores data in the blob store and appends its id to the task.
func (s *Store) AttachImage(ctx context.Context, id string, data []byte) (model.Task, error) {
	if _, err := s.Get(id); err != nil {
		return model.Task{}, err
	}
	blobID, err := s.blobs.Save(ctx, data)
	if err != nil {
		return model.Task{}, fmt.Errorf("save attachment: %w", err)
	}
	ids := []string{blobID}
	var out model.Task
	err = s.mutate(func() ([]Event, error) {
		cur, err := s.live(id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		next.AttachmentIDs = append(next.AttachmentIDs, blobID)
		next.UpdatedAt = s.stamp(cur.UpdatedAt)
		if err := s.write(ctx, next); err != nil {
			return nil, err
		}
		ids = nil
		out = next.Clone()
		return []Event{{TaskID: id, Kind: EventUpdated, Origin: OriginLocal, Changed: model.FieldAttachments, Task: next.Clone()}}, nil
	})
	// The blob is orphaned if the task went away in between.
	s.deleteBlobs(ctx, id, ids)
	return out, err
}

func (s *Store) DetachImage(ctx context.Context, id, blobID string) (model.Task, error) {
	var out model.Task
	err := s.mutate(func() ([]Event, error) {
		cur, err := s.live(id)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		kept := make([]string, 0, len(next.AttachmentIDs))
		for _, a := range next.AttachmentIDs {
			if a != blobID {
				kept = append(kept, a)
			}
		}
		if len(kept) == len(next.AttachmentIDs) {
			return nil, fmt.Errorf("%w: attachment %q on task %q", model.ErrNotFound, blobID, id)
		}
		if len(kept) == 0 {
			kept = nil
		}
		next.AttachmentIDs = kept
		next.UpdatedAt = s.stamp(cur.UpdatedAt)
		if err := s.write(ctx, next); err != nil {
			return nil, err
		}
		out = next.Clone()
		return []Event{{TaskID: id, Kind: EventUpdated, Origin: OriginLocal, Changed: model.FieldAttachments, Task: next.Clone()}}, nil
	})
	if err != nil {
		return model.Task{}, err
	}
	s.deleteBlobs(ctx, id, []string{blobID})
	return out, nil
}

// LoadImage returns attachment bytes, or false when the blob is gone.
func (s *Store) LoadImage(ctx context.Context, blobID string) ([]byte, bool, error) {
	return s.blobs.Load(ctx, blobID)
}

func (s *Store) mutate(fn func() ([]Event, error)) error {
	s.mu.Lock()
	events, err := fn()
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	// Events committed before a failure are still delivered.
	if len(events) == 0 {
		return err
	}
	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, sub := range s.listeners {
		listeners = append(listeners, sub.fn)
	}
	s.listenersMu.Unlock()
	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
	return err
}

// write persists t and swaps it in. Callers hold mu.
func (s *Store) write(ctx context.Context, t model.Task) error {
	if err := s.repo.UpsertTask(ctx, t); err != nil {
		return fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *Store) purgeLocked(ctx context.Context, t model.Task, origin Origin) (Event, error) {
	if err := s.repo.DeleteTask(ctx, t.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Event{}, fmt.Errorf("purge task %s: %w", t.ID, err)
	}
	delete(s.tasks, t.ID)
	return Event{TaskID: t.ID, Kind: EventPurged, Origin: origin, Changed: model.FieldDeleted, Task: t.Clone()}, nil
}

func (s *Store) deleteBlobs(ctx context.Context, taskID string, ids []string) {
	for _, blobID := range ids {
		if err := s.blobs.Delete(ctx, blobID); err != nil {
			s.log.Warnw("attachment delete failed", "task_id", taskID, "blob_id", blobID, "error", err)
		}
	}
}

func (s *Store) live(id string) (model.Task, error) {
	t, ok := s.tasks[id]
	if !ok || t.IsDeleted() {
		return model.Task{}, fmt.Errorf("%w: task %q", model.ErrNotFound, id)
	}
	return t, nil
}

// complete applies a completion toggle to t and reports changed fields.
func (s *Store) complete(t model.Task, done bool) (model.Task, model.Field) {
	if !done {
		if !t.IsCompleted {
			return t, 0
		}
		t.IsCompleted = false
		return t, model.FieldCompleted
	}
	if t.IsCompleted {
		return t, 0
	}
	now := s.now().UTC()
	t.LastCompletedAt = &now
	if t.RepeatRule.Active() {
		from := t.DueAt
		if now.After(from) {
			from = now
		}
		if next, ok := withAnchor(t).RepeatRule.Next(from); ok {
			changed := model.FieldCompleted | model.FieldDueAt
			if t.Reminder.FireAt != nil {
				fire := next.Add(t.Reminder.FireAt.Sub(t.DueAt))
				t.Reminder.FireAt = &fire
				changed |= model.FieldReminder
			}
			t.DueAt = next
			return t, changed
		}
	}
	t.IsCompleted = true
	return t, model.FieldCompleted
}

// stamp returns the next UpdatedAt, strictly after prev even when the clock
// has not moved.
func (s *Store) stamp(prev time.Time) time.Time {
	now := s.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

func (s *Store) checkCategory(id *string) error {
	if id == nil {
		return nil
	}
	if _, ok := s.categories[*id]; !ok {
		return fmt.Errorf("%w: category %q", model.ErrNotFound, *id)
	}
	return nil
}

func normalizeRule(r model.RepeatRule, due time.Time) model.RepeatRule {
	if r.Frequency == "" {
		return model.NoRepeat()
	}
	if !r.Active() {
		r.Anchor = time.Time{}
		return r
	}
	if r.Anchor.IsZero() {
		r.Anchor = due
	}
	r.Anchor = r.Anchor.UTC()
	return r
}

func withAnchor(t model.Task) model.Task {
	if t.RepeatRule.Active() && t.RepeatRule.Anchor.IsZero() {
		t.RepeatRule.Anchor = t.DueAt
	}
	return t
}

func cloneCategoryRef(id *string) *string {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil
	}
	v := *id
	return &v
}

func sortTasks(tasks []model.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].DueAt.Equal(tasks[j].DueAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].DueAt.Before(tasks[j].DueAt)
	})
}
