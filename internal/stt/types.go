// Package stt adapts speech recognition backends behind the Transcriber
// interface: mock for tests, openai for hosted Whisper-style APIs (Groq in
// production), exec for a local CLI recognizer.
package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/icheftech/fredrick-ai/internal/config"
)

// Utterance is a complete, assembled stretch of speech ready to transcribe.
type Utterance struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Transcript is the recognized text.
type Transcript struct {
	Text       string
	Confidence float64
}

// Transcriber abstracts speech recognition backends. Implementations classify
// failures into fault kinds so callers can retry transient ones.
type Transcriber interface {
	Transcribe(ctx context.Context, utt Utterance) (*Transcript, error)
}

// New builds the transcriber selected by config.
func New(cfg config.TranscribeConfig) (Transcriber, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockTranscriber(), nil
	case "openai":
		return NewOpenAITranscriber(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Language,
			time.Duration(cfg.RequestTimeoutMS)*time.Millisecond), nil
	case "exec":
		return NewExecTranscriber(cfg.Command, cfg.Model, cfg.Language)
	default:
		return nil, fmt.Errorf("unknown transcribe mode %q", cfg.Mode)
	}
}
