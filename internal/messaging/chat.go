package messaging

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
)

// Slack posts reminders to a channel or DM id.
type Slack struct {
	api *slack.Client
}

func NewSlack(botToken string) (*Slack, error) {
	if botToken == "" {
		return nil, fmt.Errorf("%w: slack token", ErrNotConfigured)
	}
	return &Slack{api: slack.New(botToken, slack.OptionDebug(false))}, nil
}

func (s *Slack) SendChat(ctx context.Context, chatID, text string) error {
	_, _, err := s.api.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
	return transient("post slack message", err)
}

// Telegram sends reminders through a bot to a numeric chat id.
type Telegram struct {
	api *tgbotapi.BotAPI
}

func NewTelegram(token string) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: telegram token", ErrNotConfigured)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("messaging: telegram bot: %w", err)
	}
	return &Telegram{api: api}, nil
}

func (t *Telegram) SendChat(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("messaging: telegram chat id %q: %w", chatID, err)
	}
	_, err = t.api.Send(tgbotapi.NewMessage(id, text))
	return transient("send telegram message", err)
}
