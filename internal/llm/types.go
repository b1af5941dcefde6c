// Package llm adapts external language model services behind the Generator
// interface. Three modes exist: mock for tests and development, openai for
// any OpenAI-compatible chat completions API (Groq in production), and exec
// for a local subprocess.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/icheftech/fredrick-ai/internal/config"
)

// Message is one chat turn in model wire form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a completion call. Messages carries the conversation
// including the new user message; System is prepended by the adapter.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Result is a completed generation.
type Result struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable language model backend. Implementations
// classify failures into fault kinds so callers can retry transient ones.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// New builds the generator selected by config.
func New(cfg config.GenerateConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(cfg.Model), nil
	case "openai":
		return NewOpenAIGenerator(cfg.Endpoint, cfg.APIKey, cfg.Model,
			time.Duration(cfg.RequestTimeoutMS)*time.Millisecond), nil
	case "exec":
		return NewExecGenerator(cfg.Command, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown generate mode %q", cfg.Mode)
	}
}
