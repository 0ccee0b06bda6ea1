// Package syncer keeps the local task store and the remote document store
// eventually consistent. Local mutations are queued as pending operations and
// pushed in order; remote changes are pulled and merged with last-write-wins.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/storage"
	"github.com/sandeepkv93/tasksync/internal/store"
)

const (
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxBackoff  = 5 * time.Minute
)

// Remote is the document store tasks are mirrored to.
type Remote interface {
	GetTask(ctx context.Context, userID, taskID string) (model.Task, bool, error)
	UpsertTask(ctx context.Context, userID string, t model.Task) error
	DeleteTask(ctx context.Context, userID, taskID string, deletedAt time.Time) error
	ListTasksModifiedSince(ctx context.Context, userID string, since time.Time) ([]model.RemoteChange, error)
}

// Local is the part of the task store the engine writes into.
type Local interface {
	MergeRemote(ctx context.Context, t model.Task) (bool, error)
	Purge(ctx context.Context, id string) error
}

type Config struct {
	UserID       string
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	StatusBuffer int
}

type StatusKind string

const (
	StatusEnqueued      StatusKind = "enqueued"
	StatusEnqueueFailed StatusKind = "enqueue_failed"
	StatusPushed        StatusKind = "pushed"
	StatusRetrying      StatusKind = "retrying"
	StatusPulled        StatusKind = "pulled"
	StatusPullFailed    StatusKind = "pull_failed"
)

type StatusEvent struct {
	Kind     StatusKind
	TaskID   string
	Seq      int64
	Attempts int
	Pulled   int
	Err      error
	At       time.Time
}

type Engine struct {
	cfg    Config
	remote Remote
	local  Local
	repo   storage.OpRepository
	log    *zap.SugaredLogger
	now    func() time.Time
	jitter func(time.Duration) time.Duration

	mu     sync.Mutex
	queue  []model.PendingOp
	cursor model.SyncCursor

	// drainMu admits one push/pull cycle at a time.
	drainMu sync.Mutex

	online     atomic.Bool
	kick       chan struct{}
	status     chan StatusEvent
	dropped    uint64
	retryTimer *time.Timer

	runMu   sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithJitter replaces the full-jitter draw, which otherwise picks uniformly
// in [0, ceiling].
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(e *Engine) { e.jitter = jitter }
}

func New(cfg Config, remote Remote, local Local, repo storage.OpRepository, log *zap.SugaredLogger, opts ...Option) *Engine {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.StatusBuffer <= 0 {
		cfg.StatusBuffer = 64
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := &Engine{
		cfg:    cfg,
		remote: remote,
		local:  local,
		repo:   repo,
		log:    log,
		now:    time.Now,
		jitter: fullJitter,
		cursor: model.SyncCursor{UserID: cfg.UserID},
		kick:   make(chan struct{}, 1),
		status: make(chan StatusEvent, cfg.StatusBuffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	e.online.Store(true)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore loads the persisted queue and cursor. Call it before Start.
func (e *Engine) Restore(ctx context.Context) error {
	ops, err := e.repo.ListOps(ctx)
	if err != nil {
		return fmt.Errorf("restore pending ops: %w", err)
	}
	cursor, err := e.repo.GetCursor(ctx, e.cfg.UserID)
	if err != nil {
		return fmt.Errorf("restore sync cursor: %w", err)
	}
	e.mu.Lock()
	e.queue = ops
	e.cursor = cursor
	e.mu.Unlock()
	e.log.Infow("sync state restored", "pending_ops", len(ops), "last_pulled_at", cursor.LastPulledAt)
	return nil
}

// HandleEvent turns a local store event into a pending operation. Events
// merged from the remote and purges are not pushed back.
func (e *Engine) HandleEvent(ev store.Event) {
	if ev.Origin != store.OriginLocal {
		return
	}
	var kind model.OpKind
	switch ev.Kind {
	case store.EventCreated, store.EventUpdated, store.EventCompleted:
		kind = model.OpUpsert
	case store.EventDeleted:
		kind = model.OpDelete
	default:
		return
	}
	if _, err := e.Enqueue(context.Background(), ev.TaskID, kind, ev.Task); err != nil {
		e.log.Errorw("enqueue failed", "task_id", ev.TaskID, "kind", kind, "error", err)
	}
}

// Enqueue appends an operation to the queue and persists it, then wakes the
// drain loop.
func (e *Engine) Enqueue(ctx context.Context, taskID string, kind model.OpKind, snapshot model.Task) (model.PendingOp, error) {
	op := model.PendingOp{
		TaskID:     taskID,
		Kind:       kind,
		Payload:    snapshot.Clone(),
		EnqueuedAt: e.now().UTC(),
	}
	e.mu.Lock()
	seq, err := e.repo.AppendOp(ctx, op)
	if err != nil {
		e.mu.Unlock()
		e.report(StatusEvent{Kind: StatusEnqueueFailed, TaskID: taskID, Err: err})
		return model.PendingOp{}, fmt.Errorf("persist op for %s: %w", taskID, err)
	}
	op.Seq = seq
	e.queue = append(e.queue, op)
	e.mu.Unlock()

	e.report(StatusEvent{Kind: StatusEnqueued, TaskID: taskID, Seq: seq})
	e.Kick()
	return op, nil
}

// Kick requests a sync cycle without blocking.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// NotifyOnline marks connectivity as available and starts a cycle.
func (e *Engine) NotifyOnline() {
	e.online.Store(true)
	e.Kick()
}

// NotifyOffline pauses automatic cycles until NotifyOnline.
func (e *Engine) NotifyOffline() {
	e.online.Store(false)
}

func (e *Engine) Status() <-chan StatusEvent {
	return e.status
}

func (e *Engine) Dropped() uint64 {
	return atomic.LoadUint64(&e.dropped)
}

func (e *Engine) Pending() []model.PendingOp {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.PendingOp, len(e.queue))
	for i, op := range e.queue {
		out[i] = op
		out[i].Payload = op.Payload.Clone()
	}
	return out
}

func (e *Engine) Cursor() model.SyncCursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Start runs the drain loop until ctx is done or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.started {
		return
	}
	e.started = true
	go e.loop(ctx)
	e.Kick()
}

func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.started {
		e.runMu.Unlock()
		return
	}
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	e.runMu.Unlock()
	<-e.doneCh
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)
	for {
		select {
		case <-ctx.Done():
			e.stopRetryTimer()
			return
		case <-e.stopCh:
			e.stopRetryTimer()
			return
		case <-e.kick:
			if !e.online.Load() {
				continue
			}
			if err := e.SyncNow(ctx); err != nil && ctx.Err() == nil {
				e.log.Warnw("sync cycle incomplete", "error", err)
			}
		}
	}
}

// SyncNow drains the queue and then pulls remote changes.
func (e *Engine) SyncNow(ctx context.Context) error {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	e.drainLocked(ctx)
	_, err := e.pullLocked(ctx)
	return err
}

// Drain pushes every eligible pending operation once.
func (e *Engine) Drain(ctx context.Context) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	e.drainLocked(ctx)
}

// Pull merges remote changes made after the cursor and reports how many
// changed local state.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	return e.pullLocked(ctx)
}

func (e *Engine) drainLocked(ctx context.Context) {
	// A waiting or failed op holds back later ops for the same task only.
	blocked := make(map[string]bool)
	for _, op := range e.Pending() {
		if ctx.Err() != nil {
			return
		}
		if blocked[op.TaskID] {
			continue
		}
		now := e.now().UTC()
		if op.NextRetryAt != nil && now.Before(*op.NextRetryAt) {
			blocked[op.TaskID] = true
			continue
		}

		err := e.push(ctx, op)
		if err == nil {
			e.complete(ctx, op)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		blocked[op.TaskID] = true
		e.retry(ctx, op, err, now)
	}
	e.armRetryTimer()
}

func (e *Engine) push(ctx context.Context, op model.PendingOp) error {
	switch op.Kind {
	case model.OpUpsert:
		return e.remote.UpsertTask(ctx, e.cfg.UserID, op.Payload)
	case model.OpDelete:
		at := op.Payload.UpdatedAt
		if op.Payload.DeletedAt != nil {
			at = *op.Payload.DeletedAt
		}
		return e.remote.DeleteTask(ctx, e.cfg.UserID, op.TaskID, at)
	default:
		return fmt.Errorf("%w: unknown op kind %q", model.ErrValidation, op.Kind)
	}
}

func (e *Engine) complete(ctx context.Context, op model.PendingOp) {
	if err := e.repo.DeleteOp(ctx, op.Seq); err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.log.Errorw("remove pushed op failed", "seq", op.Seq, "task_id", op.TaskID, "error", err)
	}
	e.mu.Lock()
	for i, q := range e.queue {
		if q.Seq == op.Seq {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if op.Kind == model.OpDelete {
		err := e.local.Purge(ctx, op.TaskID)
		if err != nil && !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrValidation) {
			e.log.Warnw("purge after remote delete failed", "task_id", op.TaskID, "error", err)
		}
	}
	e.report(StatusEvent{Kind: StatusPushed, TaskID: op.TaskID, Seq: op.Seq, Attempts: op.Attempts})
}

func (e *Engine) retry(ctx context.Context, op model.PendingOp, cause error, now time.Time) {
	op.Attempts++
	next := now.Add(e.backoff(op.Attempts))
	op.NextRetryAt = &next
	op.LastError = cause.Error()
	if err := e.repo.UpdateOp(ctx, op); err != nil {
		e.log.Errorw("persist retry state failed", "seq", op.Seq, "error", err)
	}
	e.mu.Lock()
	for i := range e.queue {
		if e.queue[i].Seq == op.Seq {
			e.queue[i].Attempts = op.Attempts
			e.queue[i].NextRetryAt = op.NextRetryAt
			e.queue[i].LastError = op.LastError
			break
		}
	}
	e.mu.Unlock()

	e.log.Warnw("push failed", "task_id", op.TaskID, "seq", op.Seq, "attempts", op.Attempts,
		"next_retry_at", next, "transient", errors.Is(cause, model.ErrTransientNetwork), "error", cause)
	e.report(StatusEvent{Kind: StatusRetrying, TaskID: op.TaskID, Seq: op.Seq, Attempts: op.Attempts, Err: cause})
}

// backoff is full jitter over min(max, base*2^(attempts-1)).
func (e *Engine) backoff(attempts int) time.Duration {
	return e.jitter(backoffCeiling(e.cfg.BaseBackoff, e.cfg.MaxBackoff, attempts))
}

func backoffCeiling(base, limit time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	ceiling := base
	for i := 1; i < attempts; i++ {
		ceiling *= 2
		if ceiling >= limit {
			return limit
		}
	}
	if ceiling > limit {
		return limit
	}
	return ceiling
}

func fullJitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

func (e *Engine) pullLocked(ctx context.Context) (int, error) {
	since := e.Cursor().LastPulledAt
	changes, err := e.remote.ListTasksModifiedSince(ctx, e.cfg.UserID, since)
	if err != nil {
		e.report(StatusEvent{Kind: StatusPullFailed, Err: err})
		return 0, fmt.Errorf("pull since %s: %w", since.Format(time.RFC3339Nano), err)
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].ModifiedAt.Before(changes[j].ModifiedAt) })

	applied := 0
	high := since
	stalled := false
	for _, c := range changes {
		changed, mergeErr := e.local.MergeRemote(ctx, c.Task)
		if mergeErr != nil {
			// the cursor stays before the failed change so the next pull retries it
			e.log.Warnw("merge remote task failed", "task_id", c.Task.ID, "error", mergeErr)
			stalled = true
			continue
		}
		if changed {
			applied++
		}
		if !stalled && c.ModifiedAt.After(high) {
			high = c.ModifiedAt
		}
	}

	if high.After(since) {
		cursor := model.SyncCursor{UserID: e.cfg.UserID, LastPulledAt: high}
		if err := e.repo.SaveCursor(ctx, cursor); err != nil {
			return applied, fmt.Errorf("save sync cursor: %w", err)
		}
		e.mu.Lock()
		e.cursor = cursor
		e.mu.Unlock()
	}
	e.report(StatusEvent{Kind: StatusPulled, Pulled: applied})
	return applied, nil
}

// armRetryTimer wakes the loop when the earliest backed-off op is due.
func (e *Engine) armRetryTimer() {
	var earliest *time.Time
	e.mu.Lock()
	for _, op := range e.queue {
		if op.NextRetryAt != nil && (earliest == nil || op.NextRetryAt.Before(*earliest)) {
			earliest = op.NextRetryAt
		}
	}
	e.mu.Unlock()

	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	if earliest == nil || !e.started {
		return
	}
	wait := earliest.Sub(e.now())
	if wait < 0 {
		wait = 0
	}
	e.retryTimer = time.AfterFunc(wait, e.Kick)
}

func (e *Engine) stopRetryTimer() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

func (e *Engine) report(ev StatusEvent) {
	if ev.At.IsZero() {
		ev.At = e.now().UTC()
	}
	select {
	case e.status <- ev:
	default:
		atomic.AddUint64(&e.dropped, 1)
	}
}
