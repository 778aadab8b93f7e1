package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// KindAnthropic identifies the Anthropic Messages API.
const KindAnthropic = "anthropic"

const defaultAnthropicMaxTokens = 2048

// AnthropicClient sends completions through the official Anthropic SDK.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient constructs a Messages API client. SDK-level retries are
// disabled: the provider layer owns retry and failover.
func NewAnthropicClient(cfg Config) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	if timeout := requestTimeout(cfg.TimeoutSeconds); timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...)}
}

// Kind reports the backend protocol.
func (c *AnthropicClient) Kind() string { return KindAnthropic }

// Complete sends one Messages request and concatenates the returned text blocks.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	const op = "anthropic complete"
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("anthropic complete: user prompt required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return "", errors.New("anthropic complete: model required")
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Base64()))
	}
	blocks = append(blocks, anthropic.NewTextBlock(strings.TrimSpace(req.Prompt)))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(maxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Temperature: anthropic.Float(req.Temperature),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyAnthropicError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", &EmptyContentError{Op: op, FinishReason: "no_content", Snippet: "<empty>"}
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return "", &EmptyContentError{Op: op, FinishReason: string(resp.StopReason), Snippet: "<no text blocks>"}
	}
	return content, nil
}

// classifyAnthropicError maps SDK errors onto StatusError so IsTransient and
// RetryAfter treat both backends alike.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		statusErr := &StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		if apiErr.Response != nil {
			statusErr.RetryAfter, _ = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return statusErr
	}
	return fmt.Errorf("anthropic request: %w", err)
}
