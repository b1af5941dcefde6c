package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/icheftech/fredrick-ai/internal/backend"
	"github.com/icheftech/fredrick-ai/internal/fault"
)

// openaiGenerator speaks the OpenAI chat completions wire format. Groq's API
// is compatible, so the production configuration points the endpoint at
// https://api.groq.com/openai/v1 and this adapter needs no Groq-specific code.
type openaiGenerator struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func NewOpenAIGenerator(endpoint, apiKey, model string, timeout time.Duration) Generator {
	return &openaiGenerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (g *openaiGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	payload := chatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encode completion request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "build completion request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, backend.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.ClassifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fault.Wrap(fault.KindMalformedResponse, err, "decode completion response")
	}
	if len(decoded.Choices) == 0 {
		return nil, fault.New(fault.KindMalformedResponse, "completion response has no choices")
	}

	model := decoded.Model
	if model == "" {
		model = g.model
	}
	return &Result{
		Content:          decoded.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		Latency:          time.Since(start),
	}, nil
}
