package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

const (
	blockStart = "[[JSON_START]]"
	blockEnd   = "[[JSON_END]]"
)

var blockPattern = regexp.MustCompile(`(?s)\[\[JSON_START\]\](.*?)\[\[JSON_END\]\]`)

type Action string

const (
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
	ActionCreate Action = "create"
)

// Instruction is one validated task mutation proposed by the assistant.
type Instruction struct {
	Action Action
	TaskID string
	Patch  model.Patch
	Draft  model.Draft
}

type rawInstruction struct {
	Action  Action          `json:"action"`
	TaskID  string          `json:"taskId,omitempty"`
	Changes json.RawMessage `json:"changes,omitempty"`
	Task    json.RawMessage `json:"task,omitempty"`
}

// Extract removes every instruction block from response and returns the
// first one. clean is the text to show the user; block is the raw content
// between the first pair of markers. Later blocks are dropped unapplied.
func Extract(response string) (clean, block string, found bool) {
	m := blockPattern.FindStringSubmatch(response)
	if m == nil {
		return strings.TrimSpace(response), "", false
	}
	clean = blockPattern.ReplaceAllString(response, "")
	return strings.TrimSpace(clean), strings.TrimSpace(m[1]), true
}

// ParseInstruction validates a block against the closed action set.
func ParseInstruction(block string) (Instruction, error) {
	var raw rawInstruction
	if err := strictDecode([]byte(block), &raw); err != nil {
		return Instruction{}, fmt.Errorf("%w: %v", model.ErrMalformedInstruction, err)
	}

	ins := Instruction{Action: raw.Action, TaskID: strings.TrimSpace(raw.TaskID)}
	switch raw.Action {
	case ActionModify:
		if ins.TaskID == "" || len(raw.Changes) == 0 {
			return Instruction{}, fmt.Errorf("%w: modify needs taskId and changes", model.ErrMalformedInstruction)
		}
		patch, err := model.DecodePatch(raw.Changes)
		if err != nil {
			return Instruction{}, fmt.Errorf("%w: %v", model.ErrMalformedInstruction, err)
		}
		if patch.IsEmpty() {
			return Instruction{}, fmt.Errorf("%w: modify without changes", model.ErrMalformedInstruction)
		}
		ins.Patch = patch
	case ActionDelete:
		if ins.TaskID == "" {
			return Instruction{}, fmt.Errorf("%w: delete needs taskId", model.ErrMalformedInstruction)
		}
	case ActionCreate:
		if len(raw.Task) == 0 {
			return Instruction{}, fmt.Errorf("%w: create needs task", model.ErrMalformedInstruction)
		}
		var d model.Draft
		if err := strictDecode(raw.Task, &d); err != nil {
			return Instruction{}, fmt.Errorf("%w: %v", model.ErrMalformedInstruction, err)
		}
		if d.RepeatRule.Frequency != "" && d.RepeatRule.Interval == 0 {
			d.RepeatRule.Interval = 1
		}
		ins.Draft = d
	default:
		return Instruction{}, fmt.Errorf("%w: unknown action %q", model.ErrMalformedInstruction, raw.Action)
	}
	return ins, nil
}

func strictDecode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// BuildContext is the system prompt: the current tasks plus the format the
// assistant must use to propose a change.
func BuildContext(tasks []model.Task, now time.Time) string {
	var b strings.Builder
	b.WriteString("You help the user manage their tasks. ")
	fmt.Fprintf(&b, "The current time is %s.\n\n", now.UTC().Format(time.RFC3339))

	if len(tasks) == 0 {
		b.WriteString("The user has no tasks.\n")
	} else {
		b.WriteString("Current tasks:\n")
		for _, t := range tasks {
			status := "pending"
			if t.IsCompleted {
				status = "completed"
			}
			fmt.Fprintf(&b, "- id=%s | title=%q | status=%s | due=%s", t.ID, t.Title, status, t.DueAt.UTC().Format(time.RFC3339))
			if t.Notes != "" {
				fmt.Fprintf(&b, " | notes=%q", t.Notes)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nAnswer in plain text. When the user asks to change tasks, append exactly one instruction wrapped in ")
	b.WriteString(blockStart + " and " + blockEnd + ", for example:\n")
	b.WriteString(blockStart + "\n")
	b.WriteString(`{"action":"modify","taskId":"<id>","changes":{"title":"...","notes":"...","dueAt":"2006-01-02T15:04:05Z","isCompleted":true}}` + "\n")
	b.WriteString(blockEnd + "\n")
	b.WriteString(`Other actions: {"action":"delete","taskId":"<id>"} and {"action":"create","task":{"title":"...","notes":"...","dueAt":"2006-01-02T15:04:05Z"}}.` + "\n")
	b.WriteString("Only include the fields that change. Never invent task ids.\n")
	return b.String()
}
