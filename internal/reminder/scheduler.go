// Package reminder keeps the dispatcher's live reminders in line with task
// state: one pending firing per enabled channel for the current occurrence.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/store"
)

const DefaultCatchUpWindow = 24 * time.Hour

// Dispatcher registers and cancels firings with the notification backend.
type Dispatcher interface {
	Schedule(ctx context.Context, taskID string, ch model.Channel, fireAt time.Time, n model.Notification) (string, error)
	Cancel(ctx context.Context, handle string) error
	RequestPermission(ctx context.Context) bool
}

// Tasks is the read side of the task store.
type Tasks interface {
	Get(id string) (model.Task, error)
	Query(f store.Filter) []model.Task
}

type Config struct {
	CatchUpWindow time.Duration
	StatusBuffer  int
}

// ScheduleResult is a partial-success report: channels that got a firing
// and channels that failed with their reason.
type ScheduleResult struct {
	TaskID    string
	Scheduled []model.ScheduledReminder
	Failures  map[model.Channel]error
}

func (r ScheduleResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, ch := range sortedChannels(r.Failures) {
		errs = append(errs, fmt.Errorf("%s: %w", ch, r.Failures[ch]))
	}
	return errors.Join(errs...)
}

// Problem is reported on the status channel when a channel cannot be
// scheduled.
type Problem struct {
	TaskID  string
	Channel model.Channel
	Err     error
}

type live struct {
	model.ScheduledReminder
	occurrence time.Time
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

type Scheduler struct {
	disp    Dispatcher
	tasks   Tasks
	session model.Session
	cfg     Config
	log     *zap.SugaredLogger
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu        sync.Mutex
	active    map[string][]live
	delivered map[string]time.Time
	denied    map[string]bool

	queueMu sync.Mutex
	queue   []store.Event
	wake    chan struct{}

	status  chan Problem
	dropped atomic.Uint64
}

func New(cfg Config, disp Dispatcher, tasks Tasks, session model.Session, log *zap.SugaredLogger, opts ...Option) *Scheduler {
	if cfg.CatchUpWindow <= 0 {
		cfg.CatchUpWindow = DefaultCatchUpWindow
	}
	if cfg.StatusBuffer <= 0 {
		cfg.StatusBuffer = 64
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Scheduler{
		disp:      disp,
		tasks:     tasks,
		session:   session,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     make(map[string]*sync.Mutex),
		active:    make(map[string][]live),
		delivered: make(map[string]time.Time),
		denied:    make(map[string]bool),
		wake:      make(chan struct{}, 1),
		status:    make(chan Problem, cfg.StatusBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Status() <-chan Problem {
	return s.status
}

func (s *Scheduler) Dropped() uint64 {
	return s.dropped.Load()
}

// HandleEvent queues a store event for Run. It never blocks the store.
func (s *Scheduler) HandleEvent(ev store.Event) {
	s.queueMu.Lock()
	s.queue = append(s.queue, ev)
	s.queueMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run applies queued events in order until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		for _, ev := range s.takeQueue() {
			s.Apply(ctx, ev)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

func (s *Scheduler) takeQueue() []store.Event {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// Apply reacts to one store event synchronously.
func (s *Scheduler) Apply(ctx context.Context, ev store.Event) {
	t := ev.Task
	switch {
	case ev.Kind == store.EventDeleted || ev.Kind == store.EventPurged,
		t.IsDeleted(), t.IsCompleted, !t.Reminder.Enabled:
		if s.hasActive(ev.TaskID) {
			s.Cancel(ctx, ev.TaskID)
		}
		return
	case ev.Kind == store.EventCreated,
		ev.Changed.Has(model.ScheduleFields|model.FieldTitle|model.FieldNotes),
		ev.Changed.Has(model.FieldCompleted),
		!s.hasActive(ev.TaskID):
		res := s.Schedule(ctx, t)
		if err := res.Err(); err != nil {
			s.log.Warnw("reminder scheduling incomplete", "task_id", t.ID, "scheduled", len(res.Scheduled), "error", err)
		}
	}
}

// Schedule replaces every live reminder of t with one firing per enabled
// channel for its next occurrence.
func (s *Scheduler) Schedule(ctx context.Context, t model.Task) ScheduleResult {
	unlock := s.lockTask(t.ID)
	defer unlock()
	s.cancelLocked(ctx, t.ID)
	return s.scheduleLocked(ctx, t, s.now())
}

// Cancel removes every live reminder of a task and waits for the
// dispatcher to acknowledge.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) {
	unlock := s.lockTask(taskID)
	defer unlock()
	s.cancelLocked(ctx, taskID)
}

// Active lists the live reminders of a task ordered by channel.
func (s *Scheduler) Active(taskID string) []model.ScheduledReminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScheduledReminder, 0, len(s.active[taskID]))
	for _, l := range s.active[taskID] {
		out = append(out, l.ScheduledReminder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// OnFired records that one channel of a task fired at fireAt. Once every
// channel of the occurrence has fired, a recurring task gets its next
// occurrence scheduled. Firings that no longer match a live reminder are
// ignored.
func (s *Scheduler) OnFired(ctx context.Context, taskID string, ch model.Channel, fireAt time.Time) {
	unlock := s.lockTask(taskID)
	defer unlock()

	s.mu.Lock()
	entries := s.active[taskID]
	idx := -1
	for i, l := range entries {
		if l.Channel == ch && l.FireAt.Equal(fireAt) {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	occurrence := entries[idx].occurrence
	entries = append(entries[:idx], entries[idx+1:]...)
	if len(entries) > 0 {
		s.active[taskID] = entries
		s.mu.Unlock()
		return
	}
	delete(s.active, taskID)
	s.delivered[taskID] = occurrence
	s.mu.Unlock()

	t, err := s.tasks.Get(taskID)
	if err != nil || !t.RepeatRule.Active() {
		return
	}
	after := s.now()
	if occurrence.After(after) {
		after = occurrence
	}
	res := s.scheduleLocked(ctx, t, after)
	if err := res.Err(); err != nil {
		s.log.Warnw("next occurrence scheduling incomplete", "task_id", taskID, "error", err)
	}
}

// Resync rebuilds reminders for every live task with reminders enabled.
// Occurrences missed within the catch-up window and not yet delivered fire
// immediately; older ones are skipped in favour of the next occurrence.
func (s *Scheduler) Resync(ctx context.Context) int {
	enabled := true
	pending := false
	tasks := s.tasks.Query(store.Filter{ReminderEnabled: &enabled, Completed: &pending})
	since := s.now().Add(-s.cfg.CatchUpWindow)
	scheduled := 0
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		unlock := s.lockTask(t.ID)
		s.cancelLocked(ctx, t.ID)
		res := s.scheduleLocked(ctx, t, since)
		unlock()
		scheduled += len(res.Scheduled)
	}
	s.log.Infow("reminders resynced", "tasks", len(tasks), "scheduled", scheduled)
	return scheduled
}

func (s *Scheduler) scheduleLocked(ctx context.Context, t model.Task, after time.Time) ScheduleResult {
	res := ScheduleResult{TaskID: t.ID, Failures: make(map[model.Channel]error)}
	if t.IsDeleted() || t.IsCompleted || !t.Reminder.Enabled {
		return res
	}

	now := s.now()
	occurrence, ok := t.NextFireAfter(after)
	if !ok {
		return res
	}
	fireAt := occurrence
	if !occurrence.After(now) {
		if s.wasDelivered(t.ID, occurrence) {
			if occurrence, ok = t.NextFireAfter(now); !ok {
				return res
			}
			fireAt = occurrence
		} else {
			fireAt = now
		}
	}

	n := model.Notification{Title: t.Title, Body: bodyFor(t, occurrence)}
	var (
		mu      sync.Mutex
		created []live
	)
	var g errgroup.Group
	for _, ch := range t.Reminder.Normalize().Channels {
		recipient, err := s.precheck(ctx, t.ID, ch)
		if err != nil {
			res.Failures[ch] = err
			continue
		}
		g.Go(func() error {
			msg := n
			msg.Recipient = recipient
			handle, err := s.disp.Schedule(ctx, t.ID, ch, fireAt, msg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures[ch] = err
				return nil
			}
			created = append(created, live{
				ScheduledReminder: model.ScheduledReminder{TaskID: t.ID, Channel: ch, FireAt: fireAt, Handle: handle},
				occurrence:        occurrence,
			})
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(created, func(i, j int) bool { return created[i].Channel < created[j].Channel })
	for _, l := range created {
		res.Scheduled = append(res.Scheduled, l.ScheduledReminder)
	}
	if len(created) > 0 {
		s.mu.Lock()
		s.active[t.ID] = append(s.active[t.ID], created...)
		s.mu.Unlock()
	}
	for _, ch := range sortedChannels(res.Failures) {
		if !errors.Is(res.Failures[ch], model.ErrPermissionDenied) {
			s.report(Problem{TaskID: t.ID, Channel: ch, Err: res.Failures[ch]})
		}
	}
	return res
}

// precheck resolves the recipient for a channel. Push permission denials
// are reported once per task until permission is granted again.
func (s *Scheduler) precheck(ctx context.Context, taskID string, ch model.Channel) (string, error) {
	recipient, ok := s.session.ContactFor(ch)
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrMissingContactInfo, ch)
	}
	if ch != model.ChannelAppPush {
		return recipient, nil
	}
	granted := s.disp.RequestPermission(ctx)
	s.mu.Lock()
	first := !s.denied[taskID]
	if granted {
		delete(s.denied, taskID)
	} else {
		s.denied[taskID] = true
	}
	s.mu.Unlock()
	if granted {
		return recipient, nil
	}
	err := fmt.Errorf("%w: push notifications", model.ErrPermissionDenied)
	if first {
		s.report(Problem{TaskID: taskID, Channel: ch, Err: err})
	}
	return "", err
}

func (s *Scheduler) cancelLocked(ctx context.Context, taskID string) {
	s.mu.Lock()
	entries := s.active[taskID]
	delete(s.active, taskID)
	s.mu.Unlock()

	for _, l := range entries {
		if err := s.disp.Cancel(ctx, l.Handle); err != nil {
			s.log.Warnw("reminder cancel failed, scheduling proceeds", "task_id", taskID, "channel", l.Channel, "handle", l.Handle, "error", err)
		}
	}
}

func (s *Scheduler) hasActive(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active[taskID]) > 0
}

func (s *Scheduler) wasDelivered(taskID string, occurrence time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.delivered[taskID]
	return ok && !occurrence.After(last)
}

func (s *Scheduler) lockTask(taskID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[taskID] = l
	}
	s.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Scheduler) report(p Problem) {
	select {
	case s.status <- p:
	default:
		s.dropped.Add(1)
	}
}

func bodyFor(t model.Task, occurrence time.Time) string {
	due := occurrence.Add(t.DueAt.Sub(t.FireAt()))
	body := "Due " + due.In(model.ReferenceZone).Format("Mon Jan 2 15:04 MST")
	if t.Notes != "" {
		body += "\n" + t.Notes
	}
	return body
}

func sortedChannels(m map[model.Channel]error) []model.Channel {
	out := make([]model.Channel, 0, len(m))
	for ch := range m {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
