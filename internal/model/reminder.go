package model

import (
	"fmt"
	"sort"
	"time"
)

type Channel string

const (
	ChannelAppPush   Channel = "appPush"
	ChannelSMS       Channel = "sms"
	ChannelPhoneCall Channel = "phoneCall"
	ChannelEmail     Channel = "email"
	ChannelChat      Channel = "chat"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelAppPush, ChannelSMS, ChannelPhoneCall, ChannelEmail, ChannelChat:
		return true
	default:
		return false
	}
}

// ReminderSettings describes when and where a task reminds its owner.
// FireAt overrides the task's DueAt when set.
type ReminderSettings struct {
	Enabled  bool       `json:"enabled"`
	Channels []Channel  `json:"channels,omitempty"`
	FireAt   *time.Time `json:"fireAt,omitempty"`
}

func (r ReminderSettings) Validate() error {
	for _, ch := range r.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: unknown reminder channel %q", ErrValidation, ch)
		}
	}
	if r.Enabled && len(r.Channels) == 0 {
		return fmt.Errorf("%w: enabled reminder needs at least one channel", ErrValidation)
	}
	return nil
}

// Normalize returns a copy with channels deduplicated and sorted.
func (r ReminderSettings) Normalize() ReminderSettings {
	out := r
	out.Channels = normalizeChannels(r.Channels)
	if r.FireAt != nil {
		at := r.FireAt.UTC()
		out.FireAt = &at
	}
	return out
}

func (r ReminderSettings) Has(ch Channel) bool {
	for _, c := range r.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

func (r ReminderSettings) Equal(other ReminderSettings) bool {
	a := r.Normalize()
	b := other.Normalize()
	if a.Enabled != b.Enabled || len(a.Channels) != len(b.Channels) {
		return false
	}
	for i := range a.Channels {
		if a.Channels[i] != b.Channels[i] {
			return false
		}
	}
	return timePtrEqual(a.FireAt, b.FireAt)
}

func normalizeChannels(in []Channel) []Channel {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Channel]bool, len(in))
	out := make([]Channel, 0, len(in))
	for _, ch := range in {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// ScheduledReminder is one live reminder held by the dispatcher. It exists
// only in memory and is rebuilt from tasks at launch.
type ScheduledReminder struct {
	TaskID  string
	Channel Channel
	FireAt  time.Time
	Handle  string
}

// Notification is what a reminder delivers on its channel.
type Notification struct {
	Recipient string
	Title     string
	Body      string
}
