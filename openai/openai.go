// Package openai implements chatrelay.Completer on the OpenAI chat
// completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/meikuraledutech/chatrelay"
	goopenai "github.com/sashabaranov/go-openai"
)

// Completer calls the chat completions endpoint with a bearer credential.
type Completer struct {
	client *goopenai.Client
}

// New creates a Completer. baseURL may be empty for the public API.
func New(apiKey, baseURL string) *Completer {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Completer{client: goopenai.NewClientWithConfig(cfg)}
}

// Complete sends the messages and returns the first choice.
func (c *Completer) Complete(ctx context.Context, req chatrelay.CompletionRequest) (*chatrelay.Completion, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature(req.Temperature),
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w", chatrelay.ErrEmptyCompletion)
	}

	msg := resp.Choices[0].Message
	role := chatrelay.Role(msg.Role)
	if role == "" {
		role = chatrelay.RoleAssistant
	}
	return &chatrelay.Completion{
		Role:    role,
		Content: msg.Content,
		Usage: chatrelay.Usage{
			PromptTokens:   resp.Usage.PromptTokens,
			ResponseTokens: resp.Usage.CompletionTokens,
			TotalTokens:    resp.Usage.TotalTokens,
		},
	}, nil
}

// temperature keeps an explicit 0 on the wire. The client drops a zero
// Temperature through omitempty, which lets the API apply its default of 1.
func temperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// classify maps client errors onto chatrelay.UpstreamError so callers can
// tell status failures from transport failures.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", &chatrelay.UpstreamError{
			StatusCode: apiErr.HTTPStatusCode,
			Body:       chatrelay.Truncate(apiErr.Message, 400),
		})
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = chatrelay.Truncate(reqErr.Err.Error(), 400)
		}
		return fmt.Errorf("openai: %w", &chatrelay.UpstreamError{
			StatusCode: reqErr.HTTPStatusCode,
			Body:       body,
		})
	}

	return fmt.Errorf("openai: send request: %w", err)
}

var _ chatrelay.Completer = (*Completer)(nil)
