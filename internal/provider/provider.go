package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ent0n29/zhenhai/internal/policy"
	"github.com/ent0n29/zhenhai/internal/reliability"
)

// ErrNoContinuation is returned by Summarize on providers that keep no
// server-side conversation.
var ErrNoContinuation = errors.New("provider does not support continuation handles")

// Capabilities advertises what a provider can do so callers never have to
// guess from error text.
type Capabilities struct {
	// Continuation means Respond returns a handle that resumes the upstream
	// conversation and Summarize accepts it.
	Continuation bool
	// FoldsSummary means Respond returns a refreshed rolling summary itself.
	FoldsSummary bool
	// ImageInput means ImageURLs are forwarded to the model.
	ImageInput bool
}

// Request is the normalized input for one chat turn.
type Request struct {
	UserID             string
	Input              string
	Summary            string
	ContinuationHandle string
	FirstTurn          bool
	Now                time.Time
	ImageURLs          []string
}

// Usage counts tokens for one upstream call.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	ReasoningTokens int `json:"reasoning_tokens"`
	TotalTokens     int `json:"total_tokens"`
}

// VisibleOutputTokens excludes hidden reasoning tokens.
func (u Usage) VisibleOutputTokens() int {
	return u.OutputTokens - u.ReasoningTokens
}

// Response is the normalized result of Respond.
type Response struct {
	Text               string
	ContinuationHandle string
	// Summary is set only by providers with FoldsSummary.
	Summary *string
	Usage   Usage
	Model   string
}

// Provider is one hosted language-model backend.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Respond(ctx context.Context, req Request) (Response, error)
	// Summarize condenses the conversation behind handle into a short digest.
	Summarize(ctx context.Context, handle string) (string, error)
}

// Config controls provider construction.
type Config struct {
	Kind           string
	APIKey         string
	BaseURL        string
	Preset         string
	Model          string
	SummaryModel   string
	Instructions   string
	WebSearch      bool
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// New builds the provider named by cfg.Kind.
func New(cfg Config) (Provider, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = "responses"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if strings.TrimSpace(cfg.Instructions) == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	switch kind {
	case "responses":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the responses provider")
		}
		return NewResponsesProvider(cfg), nil
	case "chat":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("an API key is required for the chat provider")
		}
		return NewChatProvider(cfg)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider %q (expected responses|chat|mock)", cfg.Kind)
	}
}

// StatusError is an unsuccessful HTTP reply from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsRetryable reports whether err is a transient upstream condition such as
// rate limiting or overload. Callers use it for messaging only.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.StatusCode)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reliability.IsRetryableHTTPStatus(reqErr.HTTPStatusCode)
	}
	return false
}

// redactAPIError scrubs upstream error text before it reaches logs. Error
// bodies can echo prompts, keys or user details. The status code is left
// alone so IsRetryable still works.
func redactAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		apiErr.Message = policy.Redact(apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		reqErr.Body = []byte(policy.Redact(string(reqErr.Body)))
		if reqErr.Err != nil {
			reqErr.Err = errors.New(policy.Redact(reqErr.Err.Error()))
		}
	}
	return err
}
