package stt

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

// NewMockTranscriber returns a deterministic transcriber whose output encodes
// the input length, which is enough for pipeline and orchestrator tests.
func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, utt Utterance) (*Transcript, error) {
	return &Transcript{
		Text:       fmt.Sprintf("[mock transcript length=%d]", len(utt.PCM)),
		Confidence: 1,
	}, nil
}
