package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

type Type string

const (
	TypeAdd    Type = "add"
	TypeDone   Type = "done"
	TypeDelete Type = "delete"
	TypeList   Type = "list"
	TypeSync   Type = "sync"
	TypeStreak Type = "streak"
)

type ErrorCode string

const (
	ErrCodeEmptyInput      ErrorCode = "empty_input"
	ErrCodeNotACommand     ErrorCode = "not_a_command"
	ErrCodeUnknownCommand  ErrorCode = "unknown_command"
	ErrCodeInvalidArgument ErrorCode = "invalid_argument"
	ErrCodeHandlerMissing  ErrorCode = "handler_missing"
)

type CommandError struct {
	Code    ErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AddArgs carries "/add <title> [due:2026-06-01T10:00] [every:weekly] [remind:sms,email]".
// A zero Due means the handler picks the default.
type AddArgs struct {
	Title    string
	Due      time.Time
	Every    model.Frequency
	Channels []model.Channel
}

type TargetArgs struct {
	Target string
}

type ListArgs struct {
	Text    string
	All     bool
	Overdue bool
}

type Command struct {
	Type   Type
	Raw    string
	Add    *AddArgs
	Target *TargetArgs
	List   *ListArgs
}

const dueLayout = "2006-01-02T15:04"

// Parse reads a slash command. Input without a leading slash is not a
// command and is reported with ErrCodeNotACommand so callers can route it
// to the chat interpreter.
func Parse(input string) (Command, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Command{}, &CommandError{Code: ErrCodeEmptyInput, Message: "command is empty"}
	}
	if !strings.HasPrefix(raw, "/") {
		return Command{}, &CommandError{Code: ErrCodeNotACommand, Message: "input is free text"}
	}
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "/"))
	if raw == "" {
		return Command{}, &CommandError{Code: ErrCodeEmptyInput, Message: "command is empty"}
	}

	parts := strings.Fields(raw)
	head := strings.ToLower(parts[0])
	args := parts[1:]

	switch Type(head) {
	case TypeAdd:
		return parseAdd(input, args)
	case TypeDone, TypeDelete:
		return parseTarget(input, Type(head), args)
	case TypeList:
		return parseList(input, args), nil
	case TypeSync, TypeStreak:
		return Command{Type: Type(head), Raw: input}, nil
	default:
		return Command{}, &CommandError{Code: ErrCodeUnknownCommand, Message: fmt.Sprintf("unsupported command: %s", head)}
	}
}

func parseAdd(raw string, args []string) (Command, error) {
	out := AddArgs{}
	var title []string
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, ":")
		switch {
		case ok && strings.EqualFold(key, "due"):
			due, err := time.ParseInLocation(dueLayout, value, model.ReferenceZone)
			if err != nil {
				return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("due must look like %s", dueLayout)}
			}
			out.Due = due
		case ok && strings.EqualFold(key, "every"):
			freq := model.Frequency(strings.ToLower(value))
			if !freq.IsValid() {
				return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("unknown repeat %q", value)}
			}
			out.Every = freq
		case ok && strings.EqualFold(key, "remind"):
			for _, name := range strings.Split(value, ",") {
				ch := model.Channel(strings.TrimSpace(name))
				if !ch.IsValid() {
					return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("unknown channel %q", name)}
				}
				out.Channels = append(out.Channels, ch)
			}
		default:
			title = append(title, arg)
		}
	}
	out.Title = strings.TrimSpace(strings.Join(title, " "))
	if out.Title == "" {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: "add requires a title"}
	}
	return Command{Type: TypeAdd, Raw: raw, Add: &out}, nil
}

func parseTarget(raw string, typ Type, args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("%s requires a task id or title", typ)}
	}
	return Command{Type: typ, Raw: raw, Target: &TargetArgs{Target: strings.Join(args, " ")}}, nil
}

func parseList(raw string, args []string) Command {
	out := ListArgs{}
	var text []string
	for _, arg := range args {
		switch strings.ToLower(arg) {
		case "all":
			out.All = true
		case "overdue":
			out.Overdue = true
		default:
			text = append(text, arg)
		}
	}
	out.Text = strings.Join(text, " ")
	return Command{Type: TypeList, Raw: raw, List: &out}
}
