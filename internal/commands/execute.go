package commands

import (
	"context"
	"fmt"
)

type Result struct {
	Message string
}

type Handlers struct {
	Add    func(context.Context, AddArgs) (Result, error)
	Done   func(context.Context, TargetArgs) (Result, error)
	Delete func(context.Context, TargetArgs) (Result, error)
	List   func(context.Context, ListArgs) (Result, error)
	Sync   func(context.Context) (Result, error)
	Streak func(context.Context) (Result, error)
}

func Execute(ctx context.Context, cmd Command, handlers Handlers) (Result, error) {
	switch cmd.Type {
	case TypeAdd:
		if handlers.Add == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Add(ctx, *cmd.Add)
	case TypeDone:
		if handlers.Done == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Done(ctx, *cmd.Target)
	case TypeDelete:
		if handlers.Delete == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Delete(ctx, *cmd.Target)
	case TypeList:
		if handlers.List == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.List(ctx, *cmd.List)
	case TypeSync:
		if handlers.Sync == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Sync(ctx)
	case TypeStreak:
		if handlers.Streak == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Streak(ctx)
	default:
		return Result{}, &CommandError{Code: ErrCodeUnknownCommand, Message: fmt.Sprintf("unknown command type: %s", cmd.Type)}
	}
}

func missing(t Type) error {
	return &CommandError{Code: ErrCodeHandlerMissing, Message: fmt.Sprintf("%s handler not configured", t)}
}
