package messaging

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// FCM sends push notifications through Firebase Cloud Messaging.
type FCM struct {
	client *messaging.Client
}

func NewFCM(ctx context.Context, app *firebase.App) (*FCM, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("messaging: fcm client: %w", err)
	}
	return &FCM{client: client}, nil
}

func (f *FCM) SendPush(ctx context.Context, token, title, body string, data map[string]string) error {
	if token == "" {
		return fmt.Errorf("%w: push token", ErrNotConfigured)
	}
	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
	}
	_, err := f.client.Send(ctx, msg)
	return transient("send push", err)
}
