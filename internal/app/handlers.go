package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/tasksync/internal/commands"
	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/store"
)

const (
	defaultDueOffset = time.Hour
	displayLayout    = "Mon Jan 2 15:04"
)

var ErrChatDisabled = errors.New("app: chat is not configured, set TASKD_LLM_API_KEY")

// Handle runs one line of console input. Slash commands go to the command
// handlers; anything else is handed to the chat interpreter.
func (a *App) Handle(ctx context.Context, input string) (string, error) {
	cmd, err := commands.Parse(input)
	if err != nil {
		var cmdErr *commands.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code == commands.ErrCodeNotACommand {
			return a.handleChat(ctx, input)
		}
		return "", err
	}
	res, err := commands.Execute(ctx, cmd, a.handlers())
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

func (a *App) handlers() commands.Handlers {
	return commands.Handlers{
		Add:    a.add,
		Done:   a.done,
		Delete: a.remove,
		List:   a.list,
		Sync:   a.sync,
		Streak: a.streakStatus,
	}
}

func (a *App) handleChat(ctx context.Context, input string) (string, error) {
	if a.chat == nil {
		return "", ErrChatDisabled
	}
	reply, err := a.chat.Handle(ctx, input)
	if err != nil {
		return "", err
	}
	if reply.Err != nil {
		return fmt.Sprintf("%s\n\n_%s not applied: %v_", reply.Text, reply.Action, reply.Err), nil
	}
	if reply.Applied {
		return fmt.Sprintf("%s\n\n_%s applied to `%s`_", reply.Text, reply.Action, shortID(reply.TaskID)), nil
	}
	return reply.Text, nil
}

func (a *App) add(ctx context.Context, args commands.AddArgs) (commands.Result, error) {
	due := args.Due
	if due.IsZero() {
		due = a.now().Add(defaultDueOffset).Truncate(time.Minute)
	}
	rule := model.NoRepeat()
	if args.Every != "" {
		rule.Frequency = args.Every
	}
	task, err := a.store.Create(ctx, model.Draft{
		Title:      args.Title,
		DueAt:      due,
		RepeatRule: rule,
		Reminder:   model.ReminderSettings{Enabled: len(args.Channels) > 0, Channels: args.Channels},
	})
	if err != nil {
		return commands.Result{}, err
	}
	msg := fmt.Sprintf("Added **%s** (`%s`) due %s", task.Title, shortID(task.ID), task.DueAt.Format(displayLayout))
	if rule.Active() {
		msg += fmt.Sprintf(", repeats %s", rule.Frequency)
	}
	return commands.Result{Message: msg}, nil
}

func (a *App) done(ctx context.Context, args commands.TargetArgs) (commands.Result, error) {
	target, err := a.resolve(args.Target)
	if err != nil {
		return commands.Result{}, err
	}
	task, err := a.store.SetCompleted(ctx, target.ID, true)
	if err != nil {
		return commands.Result{}, err
	}
	if !task.IsCompleted {
		return commands.Result{Message: fmt.Sprintf("Done **%s**, next due %s", task.Title, task.DueAt.Format(displayLayout))}, nil
	}
	return commands.Result{Message: fmt.Sprintf("Done **%s**", task.Title)}, nil
}

func (a *App) remove(ctx context.Context, args commands.TargetArgs) (commands.Result, error) {
	target, err := a.resolve(args.Target)
	if err != nil {
		return commands.Result{}, err
	}
	if err := a.store.Delete(ctx, target.ID); err != nil {
		return commands.Result{}, err
	}
	return commands.Result{Message: fmt.Sprintf("Deleted **%s**", target.Title)}, nil
}

func (a *App) list(_ context.Context, args commands.ListArgs) (commands.Result, error) {
	f := store.Filter{Text: args.Text}
	if !args.All {
		open := false
		f.Completed = &open
	}
	if args.Overdue {
		f.DueTo = a.now()
	}
	tasks := a.store.Query(f)
	if len(tasks) == 0 {
		return commands.Result{Message: "_No tasks._"}, nil
	}
	var b strings.Builder
	for _, t := range tasks {
		box := " "
		if t.IsCompleted {
			box = "x"
		}
		fmt.Fprintf(&b, "- [%s] `%s` **%s** due %s", box, shortID(t.ID), t.Title, t.DueAt.Format(displayLayout))
		if t.RepeatRule.Active() {
			fmt.Fprintf(&b, " (%s)", t.RepeatRule.Frequency)
		}
		if t.Reminder.Enabled {
			fmt.Fprintf(&b, " remind:%s", joinChannels(t.Reminder.Channels))
		}
		b.WriteString("\n")
	}
	return commands.Result{Message: b.String()}, nil
}

func (a *App) sync(ctx context.Context) (commands.Result, error) {
	if err := a.syncer.SyncNow(ctx); err != nil {
		return commands.Result{}, err
	}
	pending := len(a.syncer.Pending())
	if pending == 0 {
		return commands.Result{Message: "Sync complete."}, nil
	}
	return commands.Result{Message: fmt.Sprintf("Sync ran, %d change(s) still waiting to push.", pending)}, nil
}

func (a *App) streakStatus(context.Context) (commands.Result, error) {
	st := a.streak.State()
	if st.LastTaskAddedDay == "" {
		return commands.Result{Message: "No streak yet. Add a task to start one."}, nil
	}
	return commands.Result{Message: fmt.Sprintf("Streak: **%d** day(s), last task added %s", st.StreakDays, st.LastTaskAddedDay)}, nil
}

// resolve finds a live task by full id, unique id prefix or exact title.
func (a *App) resolve(target string) (model.Task, error) {
	if t, err := a.store.Get(target); err == nil {
		return t, nil
	}
	var matches []model.Task
	for _, t := range a.store.Query(store.Filter{}) {
		if strings.HasPrefix(t.ID, target) || strings.EqualFold(t.Title, target) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return model.Task{}, fmt.Errorf("%w: no task matches %q", model.ErrNotFound, target)
	case 1:
		return matches[0], nil
	default:
		return model.Task{}, fmt.Errorf("%w: %q matches %d tasks", model.ErrValidation, target, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func joinChannels(chs []model.Channel) string {
	names := make([]string, len(chs))
	for i, ch := range chs {
		names[i] = string(ch)
	}
	return strings.Join(names, ",")
}
