package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct {
	model string
}

// NewMockGenerator returns a deterministic generator for development and
// tests. The reply echoes the last user message so tests can assert on it.
func NewMockGenerator(model string) Generator {
	if model == "" {
		model = "mock-model"
	}
	return &mockGenerator{model: model}
}

func (m *mockGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}

	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	return &Result{
		Content: "[mock completion for " + strings.TrimSpace(last) + "]",
		Model:   m.model,
		Latency: 10 * time.Millisecond,
	}, nil
}
