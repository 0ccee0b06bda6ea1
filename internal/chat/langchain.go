package chat

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/sandeepkv93/tasksync/internal/model"
)

// LangchainCompleter talks to any OpenAI-compatible endpoint.
type LangchainCompleter struct {
	llm         llms.Model
	temperature float64
}

func NewLangchainCompleter(apiKey, endpoint, modelName string) (*LangchainCompleter, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if endpoint != "" {
		opts = append(opts, openai.WithBaseURL(endpoint))
	}
	if modelName != "" {
		opts = append(opts, openai.WithModel(modelName))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("chat: create completion client: %w", err)
	}
	return &LangchainCompleter{llm: llm, temperature: 0.3}, nil
}

func (c *LangchainCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	resp, err := c.llm.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return "", fmt.Errorf("%w: %v", model.ErrTransientNetwork, err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat: empty completion")
	}
	return resp.Choices[0].Content, nil
}
