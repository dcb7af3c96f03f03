package provider

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// MockProvider answers locally. Useful for running the bot without an API key.
type MockProvider struct {
	seq atomic.Int64
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Capabilities() Capabilities {
	return Capabilities{Continuation: true}
}

func (p *MockProvider) Respond(_ context.Context, req Request) (Response, error) {
	input := strings.TrimSpace(req.Input)
	text := "Commander, noted: " + input
	if req.FirstTurn {
		text = "Greetings, Commander. " + text
	}
	n := p.seq.Add(1)
	return Response{
		Text:               text,
		ContinuationHandle: fmt.Sprintf("mock_%d", n),
		Model:              "mock",
		Usage: Usage{
			InputTokens:  len(strings.Fields(BuildUserText(req))),
			OutputTokens: len(strings.Fields(text)),
			TotalTokens:  len(strings.Fields(BuildUserText(req))) + len(strings.Fields(text)),
		},
	}, nil
}

func (p *MockProvider) Summarize(_ context.Context, handle string) (string, error) {
	return "mock digest of " + handle, nil
}
