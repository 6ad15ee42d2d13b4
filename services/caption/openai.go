package caption

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"sjsage522/marketcrawler/pkg/errors"
)

// Completer answers a text prompt about one image
type Completer interface {
	Complete(ctx context.Context, imageURL, prompt string) (string, error)
}

// OpenAIClient is a Completer backed by the chat completions API
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for the public API
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return NewOpenAIClientWithConfig(openai.DefaultConfig(apiKey), model)
}

// NewOpenAIClientWithConfig creates a client with a custom configuration
func NewOpenAIClientWithConfig(cfg openai.ClientConfig, model string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Complete sends the prompt and the image in a single user message
func (c *OpenAIClient) Complete(ctx context.Context, imageURL, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
				},
			},
		},
	})
	if err != nil {
		return "", errors.NewNetwork("openai", "chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.NewParsing("openai", "empty completion", nil)
	}
	return resp.Choices[0].Message.Content, nil
}
