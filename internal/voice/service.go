// Package voice is the bus-facing ingress for the voice plane. It assembles
// device audio frames into utterances, hands completed utterances to the turn
// orchestrator, and publishes transcripts, replies, synthesized audio, and
// turn status back onto the bus.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/icheftech/fredrick-ai/internal/bus"
	"github.com/icheftech/fredrick-ai/internal/config"
	"github.com/icheftech/fredrick-ai/internal/fault"
	"github.com/icheftech/fredrick-ai/internal/pipeline"
	"github.com/icheftech/fredrick-ai/internal/protocol"
	"github.com/icheftech/fredrick-ai/internal/session"
	"github.com/icheftech/fredrick-ai/internal/stt"
	"github.com/icheftech/fredrick-ai/internal/turn"
)

const (
	frameAccepted = "accepted"
	frameRejected = "rejected"
	frameDropped  = "dropped"
)

// Service owns the audio-frame subscription. One utterance assembler lives
// per (session, utterance) key; terminal assemblers stay in the map as
// tombstones so trailing frames are dropped instead of reopening the
// utterance, and a sweeper evicts idle entries.
type Service struct {
	voice      config.VoiceConfig
	pipeline   config.PipelineConfig
	transcribe config.TranscribeConfig
	bus        *bus.Client
	store      *session.Store
	orch       *turn.Orchestrator
	logger     *slog.Logger

	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	utterances map[string]*utteranceState

	frames    metric.Int64Counter
	utterance metric.Int64Counter
}

type utteranceState struct {
	assembler  *pipeline.Assembler
	sampleRate int
	channels   int
	updatedAt  time.Time
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, store *session.Store, orch *turn.Orchestrator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		voice:      cfg.Voice,
		pipeline:   cfg.Pipeline,
		transcribe: cfg.Transcribe,
		bus:        busClient,
		store:      store,
		orch:       orch,
		logger:     logger.With(slog.String("component", "voice")),
		ctx:        ctx,
		cancel:     cancel,
		utterances: make(map[string]*utteranceState),
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/icheftech/fredrick-ai/voice")
	var err error
	if s.frames, err = meter.Int64Counter("fredrick.voice.frames",
		metric.WithDescription("Audio frames received on the bus by handling result")); err != nil {
		s.logger.Warn("failed to create frame counter", slogError(err))
	}
	if s.utterance, err = meter.Int64Counter("fredrick.voice.utterances",
		metric.WithDescription("Utterances by assembly outcome")); err != nil {
		s.logger.Warn("failed to create utterance counter", slogError(err))
	}
}

// Start subscribes to the audio frame subject and launches the utterance
// sweeper. It is a no-op when the voice plane is disabled.
func (s *Service) Start() error {
	if !s.voice.Enabled {
		s.logger.Info("voice plane disabled")
		return nil
	}

	sub, err := s.bus.Conn().Subscribe(protocol.SubjectAudioFrameWildcard, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("voice service started", slog.String("subject", protocol.SubjectAudioFrameWildcard))
	return nil
}

// Close drains the subscription and waits for in-flight turns to finish.
func (s *Service) Close() error {
	s.cancel()
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.logger.Warn("failed to drain audio subscription", slogError(err))
		}
	}
	s.wg.Wait()
	return nil
}

// Healthy reports whether the service holds its subscription. A disabled
// voice plane is healthy by definition.
func (s *Service) Healthy() bool {
	if !s.voice.Enabled {
		return true
	}
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame",
			slog.String("subject", msg.Subject), slogError(err))
		return
	}
	if frame.SessionID == "" || frame.UtteranceID == "" {
		s.logger.Warn("audio frame missing session or utterance id",
			slog.String("subject", msg.Subject))
		return
	}

	key := frame.SessionID + "/" + frame.UtteranceID

	s.mu.Lock()
	st, ok := s.utterances[key]
	if !ok {
		// A new utterance must open with seq 0. Anything else is a
		// straggler from an utterance already closed and evicted.
		if frame.Seq != 0 {
			s.mu.Unlock()
			s.countFrame(frameDropped)
			s.logger.Warn("dropping frame for unknown utterance",
				slog.String("session_id", frame.SessionID),
				slog.String("utterance_id", frame.UtteranceID),
				slog.Uint64("seq", frame.Seq))
			return
		}
		st = s.newUtterance(frame)
		s.utterances[key] = st
	}
	st.updatedAt = time.Now()

	wasOpen := st.assembler.State() == pipeline.StateOpen
	err := st.assembler.Push(pipeline.Frame{Seq: frame.Seq, PCM: frame.PCM, Final: frame.Final})
	state := st.assembler.State()
	s.mu.Unlock()

	switch {
	case err != nil && wasOpen && state == pipeline.StateFailed:
		s.countFrame(frameRejected)
		s.countUtterance("failed")
		s.logger.Warn("utterance assembly failed",
			slog.String("session_id", frame.SessionID),
			slog.String("utterance_id", frame.UtteranceID),
			slogError(err))
		s.publishStatus(frame.SessionID, string(turn.OutcomeFailed), err)
	case err != nil && wasOpen:
		s.countFrame(frameRejected)
		s.logger.Debug("frame rejected",
			slog.String("session_id", frame.SessionID),
			slog.Uint64("seq", frame.Seq),
			slogError(err))
	case err != nil:
		// Terminal tombstone hit: the device kept sending after the
		// utterance closed.
		s.countFrame(frameDropped)
		s.logger.Debug("dropping frame for closed utterance",
			slog.String("session_id", frame.SessionID),
			slog.String("utterance_id", frame.UtteranceID),
			slog.Uint64("seq", frame.Seq))
	case state == pipeline.StateComplete:
		s.countFrame(frameAccepted)
		s.countUtterance("completed")
		s.startTurn(frame.SessionID, frame.UtteranceID, st)
	default:
		s.countFrame(frameAccepted)
	}
}

func (s *Service) newUtterance(frame protocol.AudioFrame) *utteranceState {
	sampleRate := frame.SampleRate
	if sampleRate <= 0 {
		sampleRate = s.transcribe.SampleRate
	}
	channels := frame.Channels
	if channels <= 0 {
		channels = s.transcribe.Channels
	}
	return &utteranceState{
		assembler:  pipeline.NewAssembler(s.pipeline, sampleRate, channels),
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// startTurn hands a completed utterance to the orchestrator on its own
// goroutine so the bus dispatcher is never blocked behind a model call.
// Per-session serialization is the orchestrator's turn lock; a concurrent
// turn for the same session surfaces here as a session_busy status.
func (s *Service) startTurn(sessionID, utteranceID string, st *utteranceState) {
	utt := stt.Utterance{
		PCM:        st.assembler.Bytes(),
		SampleRate: st.sampleRate,
		Channels:   st.channels,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTurn(sessionID, utteranceID, utt)
	}()
}

func (s *Service) runTurn(sessionID, utteranceID string, utt stt.Utterance) {
	// Device session ids are caller-chosen; register on first sight.
	s.store.Ensure(sessionID)

	result, err := s.orch.Voice(s.ctx, turn.VoiceRequest{SessionID: sessionID, Utterance: utt})
	if err != nil {
		s.publishStatus(sessionID, string(turn.OutcomeOf(err)), err)
		return
	}

	now := time.Now().UTC()
	s.publish(protocol.SubjectTranscriptFinal, protocol.Transcript{
		SessionID:   result.SessionID,
		UtteranceID: utteranceID,
		Text:        result.Transcript,
		Timestamp:   now,
	}, "transcript")
	s.publish(protocol.SubjectReply, protocol.Reply{
		SessionID: result.SessionID,
		Text:      result.Reply,
		Model:     result.Model,
		Timestamp: now,
	}, "reply")

	status := result.Outcome
	var cause error
	if result.Audio != nil {
		if err := s.streamReplyAudio(result.SessionID, result.Audio); err != nil {
			s.logger.Warn("reply audio stream failed mid-delivery",
				slog.String("session_id", result.SessionID), slogError(err))
			status = turn.OutcomeTextOnly
			cause = err
		}
	}
	s.publishStatus(result.SessionID, string(status), cause)
}

// streamReplyAudio forwards synthesized frames to the per-session audio
// subject. On a publish failure the remaining frames are drained so the
// synthesis forwarder can finish, then the failure is reported.
func (s *Service) streamReplyAudio(sessionID string, stream *pipeline.Stream) error {
	subject := protocol.SynthAudioSubject(sessionID)
	var pubErr error
	for f := range stream.Frames() {
		if pubErr != nil {
			continue
		}
		data, err := json.Marshal(protocol.AudioChunk{
			SessionID:  sessionID,
			Seq:        f.Seq,
			SampleRate: stream.SampleRate(),
			Channels:   stream.Channels(),
			PCM:        f.PCM,
			Final:      f.Final,
		})
		if err != nil {
			pubErr = err
			continue
		}
		if err := s.bus.Conn().Publish(subject, data); err != nil {
			pubErr = err
		}
	}
	if pubErr != nil {
		return pubErr
	}
	return stream.Err()
}

func (s *Service) publishStatus(sessionID, status string, cause error) {
	ts := protocol.TurnStatus{
		SessionID: sessionID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if cause != nil {
		ts.ErrorKind = string(fault.KindOf(cause))
		ts.Message = cause.Error()
	}
	s.publish(protocol.SubjectTurnStatus, ts, "turn status")
}

func (s *Service) publish(subject string, v any, what string) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode "+what, slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish "+what, slog.String("subject", subject), slogError(err))
	}
}

// sweepLoop evicts utterance entries with no recent frames. Open entries
// whose device went quiet fail by eviction; terminal tombstones simply age
// out.
func (s *Service) sweepLoop() {
	defer s.wg.Done()

	interval := time.Duration(s.pipeline.MaxUtteranceMS) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.evictStale(2 * interval); n > 0 {
				s.logger.Debug("evicted stale utterances", slog.Int("count", n))
			}
		}
	}
}

func (s *Service) evictStale(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, st := range s.utterances {
		if st.updatedAt.Before(cutoff) {
			if st.assembler.State() == pipeline.StateOpen {
				s.countUtterance("evicted")
			}
			delete(s.utterances, key)
			n++
		}
	}
	return n
}

func (s *Service) countFrame(result string) {
	if s.frames == nil {
		return
	}
	s.frames.Add(s.ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (s *Service) countUtterance(outcome string) {
	if s.utterance == nil {
		return
	}
	s.utterance.Add(s.ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
