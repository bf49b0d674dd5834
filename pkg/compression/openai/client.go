// Package openai provides an OpenAI-backed Compressor implementation.
package openai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI compressor client.
// It implements the compression.Compressor interface and produces summary
// and keyword renditions via the OpenAI Chat Completions API.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for the OpenAI compressor.
// APIKey: OpenAI API key (required)
// Model: Model name to use, defaults to "gpt-4o-mini"
// BaseURL: API base URL, defaults to OpenAI official address
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

const summarySystemPrompt = `You compress stored knowledge items for an archival memory system.
Produce a faithful, dense summary of the given content in at most 3 sentences.
Preserve names, numbers and relationships. Return only the summary text.`

const keywordsSystemPrompt = `You compress stored knowledge items for an archival memory system.
Extract the 5-10 most identifying key terms from the given content.
Return only a comma-separated list of terms, nothing else.`

// NewClient creates a new OpenAI compressor client.
//
// Args:
//   - cfg: OpenAI configuration containing APIKey, Model, and BaseURL
//
// Returns:
//   - *Client: OpenAI compressor instance
//   - error: Returns an error if the configuration is invalid
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai compressor: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Summarize produces an abridged rendition of the content.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - content: The current full rendition
//
// Returns:
//   - string: The summary rendition
//   - error: Returns an error if the API call fails
func (c *Client) Summarize(ctx context.Context, content string) (string, error) {
	return c.complete(ctx, summarySystemPrompt, content)
}

// Keywords produces a comma-separated list of key terms.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - content: The current rendition
//
// Returns:
//   - string: Comma-separated key terms
//   - error: Returns an error if the API call fails
func (c *Client) Keywords(ctx context.Context, content string) (string, error) {
	return c.complete(ctx, keywordsSystemPrompt, content)
}

// complete runs one system+user chat completion and returns the trimmed text.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("compression failed: no choices returned from OpenAI API")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Close closes the client connection.
// The OpenAI SDK client does not require explicit closing; this method is retained for interface compatibility.
//
// Returns:
//   - error: Always returns nil
func (c *Client) Close() error {
	return nil
}
