package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const digestPrompt = "Organize the chat log below into a clear digest. Group related points under short " +
	"headings, keep names of who said what when it matters, and list open questions at the end. " +
	"Write in the language most of the log uses."

// ToolsConfig configures the one-shot digest and image helpers. ImageModel
// is the Responses model that drives the hosted image tool.
type ToolsConfig struct {
	APIKey         string
	BaseURL        string
	DigestModel    string
	ImageModel     string
	ImageSize      string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Tools wraps the stateless completions used by the summarize and image
// commands. They never touch conversation memory.
type Tools struct {
	client      openAIClient
	images      responsesClient
	digestModel string
	imageModel  string
	imageSize   string
}

func NewTools(cfg ToolsConfig) *Tools {
	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	return newTools(openai.NewClientWithConfig(clientConfig), cfg)
}

func newTools(client openAIClient, cfg ToolsConfig) *Tools {
	t := &Tools{
		client:      client,
		images:      newResponsesClient("openai-image", cfg.APIKey, cfg.BaseURL, cfg.HTTPClient, cfg.RequestTimeout),
		digestModel: strings.TrimSpace(cfg.DigestModel),
		imageModel:  strings.TrimSpace(cfg.ImageModel),
		imageSize:   strings.TrimSpace(cfg.ImageSize),
	}
	if t.digestModel == "" {
		t.digestModel = "gpt-4o-mini"
	}
	if t.imageModel == "" {
		t.imageModel = "gpt-4.1"
	}
	return t
}

// Digest condenses a transcript into a readable summary.
func (t *Tools) Digest(ctx context.Context, transcript string) (string, Usage, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", Usage{}, errors.New("digest: empty transcript")
	}
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.digestModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: digestPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("digest: %w", redactAPIError(err))
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, errors.New("digest: no choices")
	}
	usage := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), usage, nil
}
