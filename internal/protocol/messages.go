// Package protocol defines the wire messages exchanged over the voice plane.
// Everything here is marshaled as JSON; fields are additive only so older
// edge firmware keeps working.
package protocol

import "time"

// AudioFrame is one PCM frame streamed from an edge device. Seq starts at 0
// and must increase by exactly one within an utterance; Final marks the
// device-side end of the utterance.
type AudioFrame struct {
	SessionID   string `json:"session_id"`
	UtteranceID string `json:"utterance_id"`
	Seq         uint64 `json:"seq"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	PCM         []byte `json:"pcm"`
	Final       bool   `json:"final"`
}

// Transcript is the recognized text for a completed utterance.
type Transcript struct {
	SessionID   string    `json:"session_id"`
	UtteranceID string    `json:"utterance_id"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Reply is the assistant's text answer for a turn.
type Reply struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioChunk is one frame of synthesized reply audio. Seq is gap-free per
// reply; Final marks end of stream.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Seq        uint64 `json:"seq"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TurnStatus reports how a turn ended. Status holds one of the turn outcome
// strings (completed, text_only, failed, cancelled, session_busy); ErrorKind is set
// for failed turns.
type TurnStatus struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix   = "audio.frame"
	SubjectAudioFrameWildcard = "audio.frame.>"
	SubjectTranscriptFinal    = "stt.text.final"
	SubjectReply              = "turn.reply"
	SubjectSynthAudioPrefix   = "tts.audio"
	SubjectTurnStatus         = "turn.status"
)

// AudioFrameSubject returns the per-session subject devices publish frames to.
func AudioFrameSubject(sessionID string) string {
	return SubjectAudioFramePrefix + "." + sessionID
}

// SynthAudioSubject returns the per-session subject reply audio is streamed on.
func SynthAudioSubject(sessionID string) string {
	return SubjectSynthAudioPrefix + "." + sessionID
}
