// Package app wires the task store, sync engine, reminder pipeline and
// console together from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/sandeepkv93/tasksync/internal/blob"
	"github.com/sandeepkv93/tasksync/internal/chat"
	"github.com/sandeepkv93/tasksync/internal/config"
	"github.com/sandeepkv93/tasksync/internal/console"
	"github.com/sandeepkv93/tasksync/internal/dispatch"
	"github.com/sandeepkv93/tasksync/internal/jobs"
	"github.com/sandeepkv93/tasksync/internal/messaging"
	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/remote"
	"github.com/sandeepkv93/tasksync/internal/reminder"
	"github.com/sandeepkv93/tasksync/internal/scheduler"
	"github.com/sandeepkv93/tasksync/internal/storage"
	"github.com/sandeepkv93/tasksync/internal/store"
	"github.com/sandeepkv93/tasksync/internal/streak"
	"github.com/sandeepkv93/tasksync/internal/syncer"
)

type App struct {
	cfg config.Config
	log *zap.SugaredLogger
	now func() time.Time

	repo       *storage.SQLiteRepository
	store      *store.Store
	syncer     *syncer.Engine
	timers     *scheduler.Engine
	dispatcher *dispatch.Local
	reminders  *reminder.Scheduler
	streak     *streak.Tracker
	chat       *chat.Interpreter
	jobs       *jobs.Runner

	notices chan console.Notice
	closers []func() error
	cancel  context.CancelFunc
}

// New opens local state and builds every component. Collaborators without
// credentials fall back to in-process stand-ins: an in-memory remote, an
// in-memory blob store and senders that only log.
func New(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*App, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &App{
		cfg:     cfg,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		notices: make(chan console.Notice, 64),
	}

	repo, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.repo = repo
	a.closers = append(a.closers, repo.Close)

	blobs, err := a.openBlobs(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store.New(repo, blobs, log)
	if err := a.store.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if seeded, err := a.store.SeedDefaults(ctx); err != nil {
		a.Close()
		return nil, err
	} else if seeded {
		log.Infow("default categories created")
	}

	fb, err := a.openFirebase(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	remoteStore, err := a.openRemote(ctx, fb)
	if err != nil {
		a.Close()
		return nil, err
	}
	senders, err := a.buildSenders(ctx, fb)
	if err != nil {
		a.Close()
		return nil, err
	}

	session := cfg.Session()
	a.syncer = syncer.New(syncer.Config{UserID: session.UserID}, remoteStore, a.store, repo, log.Named("sync"))
	a.timers = scheduler.NewEngine(cfg.SchedulerBuffer)
	a.dispatcher = dispatch.NewLocal(a.timers, senders, log.Named("dispatch"))
	a.reminders = reminder.New(reminder.Config{CatchUpWindow: cfg.CatchUpWindow}, a.dispatcher, a.store, session, log.Named("reminder"))
	a.streak = streak.New(repo, session.UserID, log.Named("streak"))
	if cfg.LLMAPIKey != "" {
		completer, err := chat.NewLangchainCompleter(cfg.LLMAPIKey, cfg.LLMEndpoint, cfg.LLMModel)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.chat = chat.New(a.store, completer, log.Named("chat"))
	}

	a.store.Subscribe(a.syncer.HandleEvent)
	a.store.Subscribe(a.reminders.HandleEvent)
	a.store.Subscribe(a.streak.HandleEvent)

	a.jobs = jobs.New(model.ReferenceZone, log.Named("jobs"))
	if err := a.jobs.Every("sync", cfg.SyncInterval, func(context.Context) { a.syncer.Kick() }); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.jobs.Daily("reminder-resync", cfg.ResyncAt, func(ctx context.Context) { a.reminders.Resync(ctx) }); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Start restores persisted state and launches the background loops.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	if err := a.syncer.Restore(ctx); err != nil {
		return err
	}
	if err := a.streak.Load(ctx); err != nil {
		return err
	}

	a.dispatcher.OnDelivered(func(d dispatch.Delivery) {
		a.reminders.OnFired(ctx, d.TaskID, d.Channel, d.FireAt)
		a.deliveryNotice(d)
	})
	a.timers.Start()
	go a.dispatcher.Run(ctx)
	go a.reminders.Run(ctx)
	go a.forwardSyncStatus(ctx)
	go a.forwardReminderProblems(ctx)

	a.reminders.Resync(ctx)
	a.syncer.Start(ctx)
	a.jobs.Start()
	a.log.Infow("tasksync started", "user_id", a.cfg.UserID, "tasks", len(a.store.Query(store.Filter{})))
	return nil
}

func (a *App) Stop() {
	if a.jobs != nil {
		a.jobs.Stop()
	}
	if a.syncer != nil {
		a.syncer.Stop()
	}
	if a.timers != nil {
		a.timers.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.Close()
}

// Close releases storage and client connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warnw("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) Notices() <-chan console.Notice {
	return a.notices
}

func (a *App) Store() *store.Store {
	return a.store
}

func (a *App) openBlobs(ctx context.Context) (blob.Store, error) {
	if a.cfg.RedisAddr == "" {
		return blob.NewMemory(), nil
	}
	r, err := blob.NewRedis(ctx, blob.RedisOptions{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword, DB: a.cfg.RedisDB})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, r.Close)
	return r, nil
}

func (a *App) openFirebase(ctx context.Context) (*firebase.App, error) {
	if a.cfg.FirebaseProject == "" {
		return nil, nil
	}
	var opts []option.ClientOption
	if a.cfg.FirebaseCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(a.cfg.FirebaseCredentials))
	}
	fb, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: a.cfg.FirebaseProject}, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: firebase: %w", err)
	}
	return fb, nil
}

func (a *App) openRemote(ctx context.Context, fb *firebase.App) (syncer.Remote, error) {
	if fb == nil {
		a.log.Warnw("no firebase project configured, syncing against an in-memory remote")
		return remote.NewMemory(), nil
	}
	fs, err := remote.NewFirestore(ctx, fb)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, fs.Close)
	return fs, nil
}

func (a *App) buildSenders(ctx context.Context, fb *firebase.App) (dispatch.Senders, error) {
	fallback := messaging.LogSender{Log: a.log.Named("delivery")}
	gateway := messaging.Composite{SMS: fallback, Voice: fallback, Email: fallback}
	senders := dispatch.Senders{Push: fallback, Chat: fallback}

	if a.cfg.TwilioAccountSID != "" {
		tw, err := messaging.NewTwilio(a.cfg.TwilioAccountSID, a.cfg.TwilioAuthToken, a.cfg.TwilioFrom)
		if err != nil {
			return dispatch.Senders{}, err
		}
		gateway.SMS, gateway.Voice = tw, tw
	}
	if a.cfg.SMTPHost != "" {
		mail, err := messaging.NewSMTP(messaging.SMTPConfig{
			Host:        a.cfg.SMTPHost,
			Port:        a.cfg.SMTPPort,
			Username:    a.cfg.SMTPUsername,
			Password:    a.cfg.SMTPPassword,
			FromName:    a.cfg.SMTPFromName,
			FromEmail:   a.cfg.SMTPFrom,
			ImplicitTLS: a.cfg.SMTPImplicitTLS,
		})
		if err != nil {
			return dispatch.Senders{}, err
		}
		gateway.Email = mail
	}
	switch {
	case fb != nil:
		push, err := messaging.NewFCM(ctx, fb)
		if err != nil {
			return dispatch.Senders{}, err
		}
		senders.Push = push
	case a.cfg.DesktopNotifications:
		senders.Push = messaging.NewDesktop()
	}
	switch {
	case a.cfg.SlackToken != "":
		sl, err := messaging.NewSlack(a.cfg.SlackToken)
		if err != nil {
			return dispatch.Senders{}, err
		}
		senders.Chat = sl
	case a.cfg.TelegramToken != "":
		tg, err := messaging.NewTelegram(a.cfg.TelegramToken)
		if err != nil {
			return dispatch.Senders{}, err
		}
		senders.Chat = tg
	}
	senders.Gateway = gateway
	return senders, nil
}

func (a *App) forwardSyncStatus(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.syncer.Status():
			switch ev.Kind {
			case syncer.StatusRetrying:
				a.notify(console.Notice{Text: fmt.Sprintf("sync retry %d for %s: %v", ev.Attempts, shortID(ev.TaskID), ev.Err), IsError: true})
			case syncer.StatusPullFailed, syncer.StatusEnqueueFailed:
				a.notify(console.Notice{Text: fmt.Sprintf("sync %s: %v", ev.Kind, ev.Err), IsError: true})
			case syncer.StatusPulled:
				if ev.Pulled > 0 {
					a.notify(console.Notice{Text: fmt.Sprintf("pulled %d remote change(s)", ev.Pulled)})
				}
			}
		}
	}
}

func (a *App) forwardReminderProblems(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-a.reminders.Status():
			text := fmt.Sprintf("reminder for %s on %s not scheduled: %v", shortID(p.TaskID), p.Channel, p.Err)
			if errors.Is(p.Err, model.ErrPermissionDenied) {
				text = fmt.Sprintf("push permission denied for %s; the reminder stays enabled", shortID(p.TaskID))
			}
			a.notify(console.Notice{Text: text, IsError: true})
		}
	}
}

func (a *App) deliveryNotice(d dispatch.Delivery) {
	title := shortID(d.TaskID)
	if t, err := a.store.Get(d.TaskID); err == nil {
		title = t.Title
	}
	if d.Err != nil {
		a.notify(console.Notice{Text: fmt.Sprintf("reminder %q via %s failed: %v", title, d.Channel, d.Err), IsError: true})
		return
	}
	a.notify(console.Notice{Text: fmt.Sprintf("reminder %q sent via %s", title, d.Channel)})
}

func (a *App) notify(n console.Notice) {
	n.At = a.now()
	select {
	case a.notices <- n:
	default:
		a.log.Debugw("notice dropped", "text", n.Text)
	}
}
