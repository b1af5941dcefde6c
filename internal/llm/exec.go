package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/icheftech/fredrick-ai/internal/fault"
)

// execGenerator shells out to a local model runner. One request at a time;
// local runners are not assumed reentrant.
type execGenerator struct {
	cmd   []string
	model string
	mu    sync.Mutex
}

type execRequest struct {
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type execResponse struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command, model string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse generate command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("generate command empty")
	}
	if model == "" {
		model = "exec-model"
	}
	return &execGenerator{cmd: args, model: model}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := json.Marshal(execRequest{
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encode exec request")
	}

	start := time.Now()
	base := g.cmd[0]
	args := append([]string{}, g.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fault.Wrap(fault.KindOf(ctxErr), ctxErr, "generate command interrupted")
		}
		return nil, fault.Wrap(fault.KindUnavailable, err, "generate command failed")
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, fault.Wrap(fault.KindMalformedResponse, err, "decode generate command output")
	}

	return &Result{
		Content:          resp.Content,
		Model:            g.model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          time.Since(start),
	}, nil
}
