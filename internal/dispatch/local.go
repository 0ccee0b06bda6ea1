// Package dispatch registers reminder firings on the in-process timer engine
// and delivers them through the channel senders when they come due.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/messaging"
	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/scheduler"
)

// Senders are the delivery backends per channel. A nil sender makes that
// channel fail at delivery time with messaging.ErrNotConfigured.
type Senders struct {
	Gateway messaging.Gateway
	Push    messaging.PushSender
	Chat    messaging.ChatSender
}

// Delivery is the outcome of one fired reminder.
type Delivery struct {
	Handle  string
	TaskID  string
	Channel model.Channel
	FireAt  time.Time
	Err     error
}

type Option func(*Local)

func WithHandleGenerator(fn func() string) Option {
	return func(l *Local) { l.newHandle = fn }
}

// WithPermission overrides how push permission is decided. By default it is
// granted whenever a push sender is configured.
func WithPermission(fn func(ctx context.Context) bool) Option {
	return func(l *Local) { l.permission = fn }
}

type Local struct {
	engine     *scheduler.Engine
	senders    Senders
	log        *zap.SugaredLogger
	newHandle  func() string
	permission func(ctx context.Context) bool

	mu        sync.RWMutex
	listeners []func(Delivery)
}

func NewLocal(engine *scheduler.Engine, senders Senders, log *zap.SugaredLogger, opts ...Option) *Local {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	l := &Local{
		engine:    engine,
		senders:   senders,
		log:       log,
		newHandle: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Schedule registers one firing and returns its cancellation handle.
func (l *Local) Schedule(ctx context.Context, taskID string, ch model.Channel, fireAt time.Time, n model.Notification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: unknown channel %q", model.ErrValidation, ch)
	}
	handle := l.newHandle()
	err := l.engine.Schedule(scheduler.Firing{
		Handle:    handle,
		TaskID:    taskID,
		Channel:   ch,
		FireAt:    fireAt.UTC(),
		Recipient: n.Recipient,
		Title:     n.Title,
		Body:      n.Body,
	})
	if err != nil {
		return "", fmt.Errorf("dispatch: schedule %s/%s: %w", taskID, ch, err)
	}
	return handle, nil
}

// Cancel drops a pending firing. Unknown or already fired handles are not an
// error.
func (l *Local) Cancel(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.engine.Cancel(handle) {
		l.log.Debugw("cancel of inactive reminder handle", "handle", handle)
	}
	return nil
}

func (l *Local) RequestPermission(ctx context.Context) bool {
	if l.permission != nil {
		return l.permission(ctx)
	}
	return l.senders.Push != nil
}

// Pending lists firings that have not come due yet.
func (l *Local) Pending() []model.ScheduledReminder {
	firings := l.engine.Pending()
	out := make([]model.ScheduledReminder, 0, len(firings))
	for _, f := range firings {
		out = append(out, model.ScheduledReminder{TaskID: f.TaskID, Channel: f.Channel, FireAt: f.FireAt, Handle: f.Handle})
	}
	return out
}

// OnDelivered registers fn to run after every delivery attempt, on the
// goroutine running Run.
func (l *Local) OnDelivered(fn func(Delivery)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Run delivers due firings until ctx is done or the engine stops.
func (l *Local) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-l.engine.C():
			if !ok {
				return
			}
			d := Delivery{Handle: f.Handle, TaskID: f.TaskID, Channel: f.Channel, FireAt: f.FireAt}
			d.Err = l.deliver(ctx, f)
			if d.Err != nil {
				l.log.Warnw("reminder delivery failed", "task_id", f.TaskID, "channel", f.Channel, "error", d.Err)
			} else {
				l.log.Infow("reminder delivered", "task_id", f.TaskID, "channel", f.Channel, "fire_at", f.FireAt)
			}
			l.mu.RLock()
			listeners := make([]func(Delivery), len(l.listeners))
			copy(listeners, l.listeners)
			l.mu.RUnlock()
			for _, fn := range listeners {
				fn(d)
			}
		}
	}
}

func (l *Local) deliver(ctx context.Context, f scheduler.Firing) error {
	switch f.Channel {
	case model.ChannelAppPush:
		if l.senders.Push == nil {
			return fmt.Errorf("%w: push", messaging.ErrNotConfigured)
		}
		return l.senders.Push.SendPush(ctx, f.Recipient, f.Title, f.Body, map[string]string{"taskId": f.TaskID})
	case model.ChannelSMS:
		if l.senders.Gateway == nil {
			return fmt.Errorf("%w: sms", messaging.ErrNotConfigured)
		}
		return l.senders.Gateway.SendSMS(ctx, f.Recipient, textFor(f))
	case model.ChannelPhoneCall:
		if l.senders.Gateway == nil {
			return fmt.Errorf("%w: voice", messaging.ErrNotConfigured)
		}
		return l.senders.Gateway.PlaceVoiceCall(ctx, f.Recipient, textFor(f))
	case model.ChannelEmail:
		if l.senders.Gateway == nil {
			return fmt.Errorf("%w: email", messaging.ErrNotConfigured)
		}
		return l.senders.Gateway.SendEmail(ctx, f.Recipient, f.Title, f.Body)
	case model.ChannelChat:
		if l.senders.Chat == nil {
			return fmt.Errorf("%w: chat", messaging.ErrNotConfigured)
		}
		return l.senders.Chat.SendChat(ctx, f.Recipient, textFor(f))
	default:
		return fmt.Errorf("%w: unknown channel %q", model.ErrValidation, f.Channel)
	}
}

func textFor(f scheduler.Firing) string {
	if f.Body == "" {
		return f.Title
	}
	return f.Title + ": " + f.Body
}
