// Package tts adapts speech synthesis backends behind the Synthesizer
// interface. Output is streamed as PCM chunks on a channel so callers can
// forward audio while synthesis is still running.
package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/icheftech/fredrick-ai/internal/backend"
	"github.com/icheftech/fredrick-ai/internal/config"
)

// Request describes one synthesis call.
type Request struct {
	Text  string
	Voice string
}

// Chunk is one frame of synthesized PCM. Seq starts at 0 and is gap-free;
// Final marks the last chunk of the reply.
type Chunk struct {
	Seq        uint64
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing reply audio. The chunk channel is
// closed when the stream ends; a send on the error channel ends the stream
// abnormally. Both channels are owned by the implementation.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}

// New builds the synthesizer selected by config.
func New(cfg config.SynthesizeConfig, log *slog.Logger) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels, cfg.ChunkDurationMS), nil
	case "openai":
		return NewOpenAISynth(openaiSynthOptions{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Voice:      cfg.Voice,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			ChunkMS:    cfg.ChunkDurationMS,
			Timeout:    time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
			Policy:     backend.PolicyFromConfig(cfg.Retry),
			Log:        log,
		}), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unknown synthesize mode %q", cfg.Mode)
	}
}

// chunkBytes returns the PCM byte size of one chunk of the given duration.
func chunkBytes(sampleRate, channels, chunkMS int) int {
	n := sampleRate * channels * 2 * chunkMS / 1000
	if n <= 0 {
		n = 2
	}
	if n%2 != 0 {
		n++
	}
	return n
}
