// Package chat turns assistant replies into task mutations. The assistant
// may embed one structured instruction in its answer; the interpreter
// validates it, applies it through the task store and shows the rest of the
// text to the user.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/model"
	"github.com/sandeepkv93/tasksync/internal/store"
)

// Completer is the language model collaborator.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Tasks is the part of the store the interpreter reads and mutates.
type Tasks interface {
	Query(f store.Filter) []model.Task
	Create(ctx context.Context, d model.Draft) (model.Task, error)
	Update(ctx context.Context, id string, p model.Patch) (model.Task, error)
	Delete(ctx context.Context, id string) error
}

// Reply is what the user sees. Err holds a store rejection of an otherwise
// well-formed instruction; the text is still shown.
type Reply struct {
	Text    string
	Action  Action
	TaskID  string
	Applied bool
	Err     error
}

type Interpreter struct {
	tasks     Tasks
	completer Completer
	log       *zap.SugaredLogger
	now       func() time.Time
}

func New(tasks Tasks, completer Completer, log *zap.SugaredLogger) *Interpreter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Interpreter{
		tasks:     tasks,
		completer: completer,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle sends message with the current task snapshot to the completer and
// applies at most one instruction from the answer. A missing or malformed
// block yields an informational reply and no mutation.
func (i *Interpreter) Handle(ctx context.Context, message string) (Reply, error) {
	system := BuildContext(i.tasks.Query(store.Filter{}), i.now())
	response, err := i.completer.Complete(ctx, system, message)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: completion: %w", err)
	}

	clean, block, found := Extract(response)
	reply := Reply{Text: clean}
	if !found {
		return reply, nil
	}
	ins, err := ParseInstruction(block)
	if err != nil {
		i.log.Infow("ignoring malformed chat instruction", "error", err)
		return reply, nil
	}

	reply.Action = ins.Action
	reply.TaskID = ins.TaskID
	switch ins.Action {
	case ActionModify:
		_, err = i.tasks.Update(ctx, ins.TaskID, ins.Patch)
	case ActionDelete:
		err = i.tasks.Delete(ctx, ins.TaskID)
	case ActionCreate:
		var created model.Task
		created, err = i.tasks.Create(ctx, ins.Draft)
		reply.TaskID = created.ID
	}
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrValidation) {
			return reply, fmt.Errorf("chat: apply %s: %w", ins.Action, err)
		}
		i.log.Infow("chat instruction rejected", "action", ins.Action, "task_id", ins.TaskID, "error", err)
		reply.Err = err
		return reply, nil
	}
	reply.Applied = true
	i.log.Infow("chat instruction applied", "action", reply.Action, "task_id", reply.TaskID)
	return reply, nil
}
