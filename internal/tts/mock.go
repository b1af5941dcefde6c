package tts

import (
	"context"
	"time"
)

type mockSynth struct {
	sampleRate int
	channels   int
	chunkMS    int
}

// NewMockSynth returns a synthesizer that emits a deterministic PCM pattern
// sized to the text, useful for pipeline and orchestrator tests.
func NewMockSynth(sampleRate, channels, chunkMS int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, chunkMS: chunkMS}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		// One chunk per 32 characters, at least one.
		frames := len(req.Text)/32 + 1
		size := chunkBytes(m.sampleRate, m.channels, m.chunkMS)

		for i := 0; i < frames; i++ {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(time.Millisecond):
			}
			pcm := make([]byte, size)
			for j := range pcm {
				pcm[j] = byte(i + 1)
			}
			select {
			case chunks <- Chunk{
				Seq:        uint64(i),
				SampleRate: m.sampleRate,
				Channels:   m.channels,
				PCM:        pcm,
				Final:      i == frames-1,
			}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}
