// Package genai provides the optional GenAI coaching-line composer using the
// OpenAI API.
//
// When configured, template lines are rewritten in the selected coach's
// persona before synthesis. Composition failures fall back to the template
// line; they never block the pipeline.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/strideloop/voicecoach/internal/models"
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI chat completion service for composing coaching lines.
type Client struct {
	chat chatService
}

// NewClient initializes a new composer client with the given API key.
func NewClient(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{chat: &cli.Chat.Completions}, nil
}

// Compose rewrites a template coaching line in the coach's persona. The
// rewritten line keeps the factual content (distances, paces, zones) intact.
func (c *Client) Compose(ctx context.Context, event models.CoachingEvent, coach models.CoachPersonality) (string, error) {
	system := fmt.Sprintf(
		"You are %s, a running coach speaking to an athlete mid-run over audio. "+
			"Rewrite the given line in your own voice. Keep every number and fact unchanged. "+
			"One or two short sentences, no emojis, urgency level: %s.",
		coach.Name, event.Urgency)

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(event.Message),
		},
	})
	if err != nil {
		return "", fmt.Errorf("line composition failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	line := strings.TrimSpace(resp.Choices[0].Message.Content)
	if line == "" {
		return "", fmt.Errorf("empty composition returned")
	}
	if len(line) > models.MaxMessageLength {
		line = line[:models.MaxMessageLength]
	}
	slog.Debug("Composed coaching line", "coachID", coach.ID, "type", event.Type)
	return line, nil
}
