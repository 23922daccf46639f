// Package assistant proxies chat completions to OpenAI for the clinic
// dashboard and narrates patient progress summaries.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/analytics"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const (
	MaxPromptChars = 16000
	requestTimeout = 30 * time.Second
)

// FallbackReply is returned instead of an error when the provider rate limits us.
const FallbackReply = "The assistant is busy right now. Please try again in a minute; " +
	"in the meantime you can review the patient's latest report and progress summary directly."

const systemPrompt = "You are a clinical assistant for a physiotherapy practice. " +
	"Answer concisely for physiotherapists and front-desk staff. " +
	"Do not invent measurements; when data is missing, say so. " +
	"You do not give a diagnosis; you support the treating physiotherapist."

const insightInstruction = "Write a short progress note (at most five sentences) for the treating " +
	"physiotherapist based on the summary below. Mention pain, mobility, strength and attendance " +
	"where data exists, and suggest one focus for the next sessions."

var (
	ErrNotConfigured  = errors.New("assistant: openai api key not configured")
	ErrInvalidRequest = errors.New("assistant: invalid chat request")
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Message struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type ChatRequest struct {
	Messages []Message `json:"messages" binding:"required"`
}

type ChatResponse struct {
	Reply    string `json:"reply"`
	Model    string `json:"model"`
	Fallback bool   `json:"fallback"`
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Client struct {
	client chatClient
	model  string
}

// New returns a client, or nil when no API key is configured. A nil *Client
// answers every call with ErrNotConfigured.
func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return newWithClient(openai.NewClientWithConfig(oc), cfg.Model)
}

func newWithClient(c chatClient, model string) *Client {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Client{client: c, model: model}
}

// Validate checks roles, emptiness and the overall prompt size.
func Validate(req ChatRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages required", ErrInvalidRequest)
	}
	total := 0
	for i, m := range req.Messages {
		switch m.Role {
		case openai.ChatMessageRoleSystem, openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has unsupported role %q", ErrInvalidRequest, i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: message %d is empty", ErrInvalidRequest, i)
		}
		total += len([]rune(m.Content))
	}
	if total > MaxPromptChars {
		return fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidRequest, MaxPromptChars)
	}
	return nil
}

// Complete sends the conversation with the clinic system prompt prepended.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if c == nil || c.client == nil {
		return ChatResponse{}, ErrNotConfigured
	}
	if err := Validate(req); err != nil {
		return ChatResponse{}, err
	}

	history := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	history = append(history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, m := range req.Messages {
		history = append(history, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return c.generate(ctx, history)
}

// Insight narrates a progress summary.
func (c *Client) Insight(ctx context.Context, summary analytics.Summary) (ChatResponse, error) {
	if c == nil || c.client == nil {
		return ChatResponse{}, ErrNotConfigured
	}
	history := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: insightInstruction + "\n\n" + analytics.InsightPrompt(summary)},
	}
	return c.generate(ctx, history)
}

func (c *Client) generate(ctx context.Context, history []openai.ChatCompletionMessage) (ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: history,
	})
	if err != nil {
		if IsRateLimited(err) {
			log.Warn().Err(err).Str("model", c.model).Msg("assistant: rate limited, serving fallback reply")
			return ChatResponse{Reply: FallbackReply, Model: c.model, Fallback: true}, nil
		}
		return ChatResponse{}, fmt.Errorf("assistant: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, errors.New("assistant: openai returned no choices")
	}
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return ChatResponse{
		Reply: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: model,
	}, nil
}

// IsRateLimited reports whether err carries an HTTP 429 from the provider.
func IsRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	return false
}
