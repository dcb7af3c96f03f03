package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/sashabaranov/go-openai"
)

// chatPreset is an OpenAI-compatible chat completions endpoint.
type chatPreset struct {
	baseURL      string
	model        string
	summaryModel string
	imageInput   bool
}

var chatPresets = map[string]chatPreset{
	"openai": {
		baseURL:      "https://api.openai.com/v1",
		model:        "gpt-4o-mini",
		summaryModel: "gpt-4o-mini",
		imageInput:   true,
	},
	"xai": {
		baseURL:      "https://api.x.ai/v1",
		model:        "grok-3-mini",
		summaryModel: "grok-3-mini",
		imageInput:   true,
	},
	"perplexity": {
		baseURL:      "https://api.perplexity.ai",
		model:        "sonar",
		summaryModel: "sonar",
	},
}

// openAIClient is the subset of *openai.Client the chat adapters use.
type openAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatProvider keeps no upstream conversation. Each reply is followed by a
// second, cheaper call that folds the exchange into the rolling summary. A
// failed fold keeps the reply and leaves the stored summary as it was.
type ChatProvider struct {
	name         string
	client       openAIClient
	model        string
	summaryModel string
	instructions string
	imageInput   bool
	logger       *slog.Logger
}

func NewChatProvider(cfg Config) (*ChatProvider, error) {
	presetName := strings.ToLower(strings.TrimSpace(cfg.Preset))
	if presetName == "" {
		presetName = "openai"
	}
	preset, ok := chatPresets[presetName]
	if !ok {
		return nil, fmt.Errorf("unknown chat provider preset %q (expected openai|xai|perplexity)", cfg.Preset)
	}

	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	clientConfig.BaseURL = preset.baseURL
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	p := newChatProvider(openai.NewClientWithConfig(clientConfig), preset, cfg)
	p.name = "chat-" + presetName
	return p, nil
}

func newChatProvider(client openAIClient, preset chatPreset, cfg Config) *ChatProvider {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = preset.model
	}
	summaryModel := strings.TrimSpace(cfg.SummaryModel)
	if summaryModel == "" {
		summaryModel = preset.summaryModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatProvider{
		name:         "chat",
		client:       client,
		model:        model,
		summaryModel: summaryModel,
		instructions: cfg.Instructions,
		imageInput:   preset.imageInput,
		logger:       logger,
	}
}

func (p *ChatProvider) Name() string { return p.name }

func (p *ChatProvider) Capabilities() Capabilities {
	return Capabilities{FoldsSummary: true, ImageInput: p.imageInput}
}

func (p *ChatProvider) Respond(ctx context.Context, req Request) (Response, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	text := BuildUserText(req)
	if p.imageInput && len(req.ImageURLs) > 0 {
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}
		for _, u := range req.ImageURLs {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: u, Detail: openai.ImageURLDetailAuto},
			})
		}
		user.MultiContent = parts
	} else {
		user.Content = text
	}

	messages := []openai.ChatCompletionMessage{user}
	if p.instructions != "" {
		messages = append([]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: p.instructions}}, messages...)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	})
	if err != nil {
		return Response{}, fmt.Errorf("%s chat completion: %w", p.name, redactAPIError(err))
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%s chat completion: no choices", p.name)
	}
	reply := resp.Choices[0].Message.Content

	out := Response{
		Text:  reply,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}

	folded, err := p.fold(ctx, req.Summary, req.Input, reply)
	if err != nil {
		p.logger.WarnContext(ctx, "summary fold failed, keeping previous summary",
			"provider", p.name, "user_id", req.UserID, tint.Err(err))
		return out, nil
	}
	out.Summary = &folded
	return out, nil
}

func (p *ChatProvider) fold(ctx context.Context, prev, input, reply string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.summaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildFoldText(prev, input, reply)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s fold summary: %w", p.name, redactAPIError(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s fold summary: no choices", p.name)
	}
	digest := strings.TrimSpace(resp.Choices[0].Message.Content)
	if digest == "" {
		return "", errors.New(p.name + " fold summary: empty digest")
	}
	return digest, nil
}

func (p *ChatProvider) Summarize(context.Context, string) (string, error) {
	return "", ErrNoContinuation
}
