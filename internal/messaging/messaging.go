// Package messaging delivers reminder texts through external gateways.
// Each sender fails independently; transport failures are reported as
// model.ErrTransientNetwork and are never retried here.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/model"
)

var ErrNotConfigured = errors.New("messaging: sender not configured")

// Gateway is the SMS, voice and email side of delivery.
type Gateway interface {
	SendSMS(ctx context.Context, phone, text string) error
	SendEmail(ctx context.Context, address, subject, body string) error
	PlaceVoiceCall(ctx context.Context, phone, script string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, phone, text string) error
}

type VoiceSender interface {
	PlaceVoiceCall(ctx context.Context, phone, script string) error
}

type EmailSender interface {
	SendEmail(ctx context.Context, address, subject, body string) error
}

type PushSender interface {
	SendPush(ctx context.Context, token, title, body string, data map[string]string) error
}

type ChatSender interface {
	SendChat(ctx context.Context, chatID, text string) error
}

// Composite assembles a Gateway from independent senders. Missing senders
// fail with ErrNotConfigured.
type Composite struct {
	SMS   SMSSender
	Voice VoiceSender
	Email EmailSender
}

func (c Composite) SendSMS(ctx context.Context, phone, text string) error {
	if c.SMS == nil {
		return fmt.Errorf("%w: sms", ErrNotConfigured)
	}
	return c.SMS.SendSMS(ctx, phone, text)
}

func (c Composite) SendEmail(ctx context.Context, address, subject, body string) error {
	if c.Email == nil {
		return fmt.Errorf("%w: email", ErrNotConfigured)
	}
	return c.Email.SendEmail(ctx, address, subject, body)
}

func (c Composite) PlaceVoiceCall(ctx context.Context, phone, script string) error {
	if c.Voice == nil {
		return fmt.Errorf("%w: voice", ErrNotConfigured)
	}
	return c.Voice.PlaceVoiceCall(ctx, phone, script)
}

// LogSender writes every delivery to the log instead of sending it. It
// stands in for any channel that has no credentials configured.
type LogSender struct {
	Log *zap.SugaredLogger
}

func (l LogSender) SendSMS(_ context.Context, phone, text string) error {
	l.Log.Infow("sms delivery", "to", phone, "text", text)
	return nil
}

func (l LogSender) SendEmail(_ context.Context, address, subject, body string) error {
	l.Log.Infow("email delivery", "to", address, "subject", subject, "body", body)
	return nil
}

func (l LogSender) PlaceVoiceCall(_ context.Context, phone, script string) error {
	l.Log.Infow("voice delivery", "to", phone, "script", script)
	return nil
}

func (l LogSender) SendPush(_ context.Context, token, title, body string, data map[string]string) error {
	l.Log.Infow("push delivery", "token_set", token != "", "title", title, "body", body, "data", data)
	return nil
}

func (l LogSender) SendChat(_ context.Context, chatID, text string) error {
	l.Log.Infow("chat delivery", "chat_id", chatID, "text", text)
	return nil
}

// transient wraps network-level failures so callers can tell them apart
// from rejected requests.
func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", model.ErrTransientNetwork, op, err)
	}
	return fmt.Errorf("messaging: %s: %w", op, err)
}
