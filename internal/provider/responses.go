package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/ent0n29/zhenhai/internal/policy"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1/"

// responsesClient is the Responses API client shared by the chat provider
// and the image tool. Retries are off: a failed call surfaces once and the
// caller decides what the user sees.
type responsesClient struct {
	name   string
	client openai.Client
}

func newResponsesClient(name, apiKey, baseURL string, httpClient *http.Client, timeout time.Duration) responsesClient {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return responsesClient{name: name, client: openai.NewClient(opts...)}
}

// create sends one Responses request. HTTP failures come back as *StatusError
// with a redacted body; a reply that reports failure is an error too.
func (c responsesClient) create(ctx context.Context, params responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error) {
	resp, err := c.client.Responses.New(ctx, params, opts...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			body := apiErr.Message
			if body == "" {
				body = apiErr.RawJSON()
			}
			if body == "" {
				body = http.StatusText(apiErr.StatusCode)
			}
			return nil, &StatusError{Provider: c.name, StatusCode: apiErr.StatusCode, Body: policy.Redact(body)}
		}
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("%s error %s: %s", c.name, resp.Error.Code, policy.Redact(resp.Error.Message))
	}
	if status := string(resp.Status); status == "failed" || status == "cancelled" {
		return nil, fmt.Errorf("%s: status %s", c.name, status)
	}
	return resp, nil
}

// userMessage is a single user turn of text plus optional image references.
func userMessage(text string, imageURLs []string) responses.ResponseNewParamsInputUnion {
	content := responses.ResponseInputMessageContentListParam{
		{OfInputText: &responses.ResponseInputTextParam{Text: text}},
	}
	for _, u := range imageURLs {
		content = append(content, responses.ResponseInputContentUnionParam{
			OfInputImage: &responses.ResponseInputImageParam{
				ImageURL: openai.String(u),
				Detail:   responses.ResponseInputImageDetailAuto,
			},
		})
	}
	return responses.ResponseNewParamsInputUnion{
		OfInputItemList: responses.ResponseInputParam{
			responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser),
		},
	}
}

func usageOf(resp *responses.Response) Usage {
	return Usage{
		InputTokens:     int(resp.Usage.InputTokens),
		OutputTokens:    int(resp.Usage.OutputTokens),
		ReasoningTokens: int(resp.Usage.OutputTokensDetails.ReasoningTokens),
		TotalTokens:     int(resp.Usage.TotalTokens),
	}
}

// ResponsesProvider talks to the OpenAI Responses API, whose response ids
// serve as continuation handles.
type ResponsesProvider struct {
	api          responsesClient
	model        string
	summaryModel string
	instructions string
	webSearch    bool
}

func NewResponsesProvider(cfg Config) *ResponsesProvider {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5.2"
	}
	summaryModel := strings.TrimSpace(cfg.SummaryModel)
	if summaryModel == "" {
		summaryModel = "gpt-5-nano"
	}
	return &ResponsesProvider{
		api:          newResponsesClient("openai-responses", cfg.APIKey, cfg.BaseURL, cfg.HTTPClient, cfg.RequestTimeout),
		model:        model,
		summaryModel: summaryModel,
		instructions: cfg.Instructions,
		webSearch:    cfg.WebSearch,
	}
}

func (p *ResponsesProvider) Name() string { return p.api.name }

func (p *ResponsesProvider) Capabilities() Capabilities {
	return Capabilities{Continuation: true, ImageInput: true}
}

func (p *ResponsesProvider) Respond(ctx context.Context, req Request) (Response, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(p.model),
		Input: userMessage(BuildUserText(req), req.ImageURLs),
		Store: openai.Bool(true),
	}
	if p.instructions != "" {
		params.Instructions = openai.String(p.instructions)
	}
	if req.ContinuationHandle != "" {
		params.PreviousResponseID = openai.String(req.ContinuationHandle)
	}
	var opts []option.RequestOption
	if p.webSearch {
		opts = append(opts, option.WithJSONSet("tools", []map[string]any{{"type": "web_search_preview"}}))
	}

	resp, err := p.api.create(ctx, params, opts...)
	if err != nil {
		return Response{}, err
	}
	if resp.ID == "" {
		return Response{}, errors.New("openai responses: reply has no id")
	}
	return Response{
		Text:               resp.OutputText(),
		ContinuationHandle: resp.ID,
		Model:              string(resp.Model),
		Usage:              usageOf(resp),
	}, nil
}

func (p *ResponsesProvider) Summarize(ctx context.Context, handle string) (string, error) {
	if strings.TrimSpace(handle) == "" {
		return "", errors.New("openai responses: summarize needs a continuation handle")
	}
	resp, err := p.api.create(ctx, responses.ResponseNewParams{
		Model:              shared.ResponsesModel(p.summaryModel),
		Input:              userMessage(SummaryPrompt, nil),
		PreviousResponseID: openai.String(handle),
		Store:              openai.Bool(false),
	})
	if err != nil {
		return "", err
	}
	digest := strings.TrimSpace(resp.OutputText())
	if digest == "" {
		return "", errors.New("openai responses: empty summary")
	}
	return digest, nil
}
