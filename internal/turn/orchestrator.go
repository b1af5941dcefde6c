// Package turn drives one conversational exchange end to end: acquire the
// session, transcribe when the input is audio, generate the reply, commit
// the exchange to history, and synthesize reply audio when asked. The
// session lock covers everything that mutates history; audio delivery
// continues past release because the text result is already committed.
package turn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/icheftech/fredrick-ai/internal/backend"
	"github.com/icheftech/fredrick-ai/internal/config"
	"github.com/icheftech/fredrick-ai/internal/fault"
	"github.com/icheftech/fredrick-ai/internal/llm"
	"github.com/icheftech/fredrick-ai/internal/persona"
	"github.com/icheftech/fredrick-ai/internal/pipeline"
	"github.com/icheftech/fredrick-ai/internal/session"
	"github.com/icheftech/fredrick-ai/internal/stt"
	"github.com/icheftech/fredrick-ai/internal/tts"
)

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeTextOnly    Outcome = "text_only"
	OutcomeFailed      Outcome = "failed"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeSessionBusy Outcome = "session_busy"
)

const journalTimeout = 5 * time.Second

// TextRequest is one text exchange. An empty SessionID starts a fresh
// session; an empty System falls back to the default advisor prompt.
type TextRequest struct {
	SessionID string
	System    string
	Message   string
}

type TextResult struct {
	SessionID string
	Reply     string
	Model     string
}

// VoiceRequest carries one finalized utterance.
type VoiceRequest struct {
	SessionID string
	Utterance stt.Utterance
}

// VoiceResult reports a voice turn. Audio is nil when Outcome is
// OutcomeTextOnly; otherwise it streams reply audio while synthesis runs.
type VoiceResult struct {
	SessionID  string
	Transcript string
	Reply      string
	Model      string
	Outcome    Outcome
	Audio      *pipeline.Stream
}

// Options wires an Orchestrator. Journal may be nil to skip persistence.
type Options struct {
	Store       *session.Store
	Journal     *session.Journal
	Generator   llm.Generator
	Transcriber stt.Transcriber
	Synth       tts.Synthesizer
	Profile     persona.Profile
	Generate    config.GenerateConfig
	Transcribe  config.TranscribeConfig
	Synthesize  config.SynthesizeConfig
	Pipeline    config.PipelineConfig
	Logger      *slog.Logger
}

type Orchestrator struct {
	store       *session.Store
	journal     *session.Journal
	generator   llm.Generator
	transcriber stt.Transcriber
	synth       tts.Synthesizer
	profile     persona.Profile
	generate    config.GenerateConfig
	synthesize  config.SynthesizeConfig
	genPolicy   backend.Policy
	sttPolicy   backend.Policy
	outbound    int
	log         *slog.Logger
	tracer      trace.Tracer

	duration metric.Float64Histogram
	outcomes metric.Int64Counter

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func New(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		store:       opts.Store,
		journal:     opts.Journal,
		generator:   opts.Generator,
		transcriber: opts.Transcriber,
		synth:       opts.Synth,
		profile:     opts.Profile,
		generate:    opts.Generate,
		synthesize:  opts.Synthesize,
		genPolicy:   backend.PolicyFromConfig(opts.Generate.Retry),
		sttPolicy:   backend.PolicyFromConfig(opts.Transcribe.Retry),
		outbound:    opts.Pipeline.OutboundBufferFrames,
		log:         log.With(slog.String("component", "turn")),
		tracer:      otel.Tracer("github.com/icheftech/fredrick-ai/turn"),
		active:      make(map[string]context.CancelFunc),
	}
	if err := o.initMetrics(); err != nil {
		o.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return o
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter("github.com/icheftech/fredrick-ai/turn")
	duration, err := meter.Float64Histogram("fredrick.turn.duration",
		metric.WithDescription("Wall-clock duration of one turn"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	outcomes, err := meter.Int64Counter("fredrick.turn.outcomes",
		metric.WithDescription("Turns finished, by outcome"))
	if err != nil {
		return err
	}
	o.duration = duration
	o.outcomes = outcomes
	return nil
}

// Cancel aborts the session's in-flight turn, if any, and reports whether
// one was active. In-flight backend calls see their context end.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[sessionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Text runs one text exchange against a session.
func (o *Orchestrator) Text(ctx context.Context, req TextRequest) (*TextResult, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "turn.text")
	defer span.End()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = o.store.Create().ID
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	ok, err := o.store.TryAcquire(sessionID)
	if err != nil {
		o.observe(ctx, OutcomeFailed, start)
		return nil, err
	}
	if !ok {
		o.observe(ctx, OutcomeSessionBusy, start)
		return nil, fault.Errorf(fault.KindSessionBusy, "session %s already has a turn in flight", sessionID)
	}
	defer o.store.Release(sessionID)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.track(sessionID, cancel)
	defer o.untrack(sessionID)

	system := req.System
	if system == "" {
		system = o.profile.SystemPrompt()
	}

	span.AddEvent("generating")
	result, err := o.generateReply(turnCtx, sessionID, system, req.Message)
	if err != nil {
		span.RecordError(err)
		o.observe(ctx, OutcomeOf(err), start)
		return nil, err
	}

	if err := o.commitExchange(sessionID, req.Message, result.Content); err != nil {
		span.RecordError(err)
		o.observe(ctx, OutcomeFailed, start)
		return nil, err
	}

	o.observe(ctx, OutcomeCompleted, start)
	return &TextResult{SessionID: sessionID, Reply: result.Content, Model: result.Model}, nil
}

// Voice runs one voice exchange: transcribe, generate, commit, synthesize.
// Synthesis that cannot start degrades the result to text only; the
// committed exchange is never rolled back for an audio failure.
func (o *Orchestrator) Voice(ctx context.Context, req VoiceRequest) (*VoiceResult, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "turn.voice")
	defer span.End()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = o.store.Create().ID
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	ok, err := o.store.TryAcquire(sessionID)
	if err != nil {
		o.observe(ctx, OutcomeFailed, start)
		return nil, err
	}
	if !ok {
		o.observe(ctx, OutcomeSessionBusy, start)
		return nil, fault.Errorf(fault.KindSessionBusy, "session %s already has a turn in flight", sessionID)
	}
	defer o.store.Release(sessionID)

	turnCtx, cancel := context.WithCancel(ctx)
	o.track(sessionID, cancel)
	defer o.untrack(sessionID)

	// The audio forwarder inherits turnCtx and releases it when the stream
	// finishes; every path that does not hand off must release it here.
	handedOff := false
	defer func() {
		if !handedOff {
			cancel()
		}
	}()

	span.AddEvent("transcribing")
	transcript, err := o.transcribe(turnCtx, req.Utterance)
	if err != nil {
		span.RecordError(err)
		o.observe(ctx, OutcomeOf(err), start)
		return nil, err
	}
	if transcript == "" {
		err := fault.New(fault.KindRejected, "no speech recognized in utterance")
		span.RecordError(err)
		o.observe(ctx, OutcomeFailed, start)
		return nil, err
	}
	span.SetAttributes(attribute.Int("transcript.chars", len(transcript)))

	span.AddEvent("generating")
	result, err := o.generateReply(turnCtx, sessionID, o.profile.SystemPrompt(), transcript)
	if err != nil {
		span.RecordError(err)
		o.observe(ctx, OutcomeOf(err), start)
		return nil, err
	}

	if err := o.commitExchange(sessionID, transcript, result.Content); err != nil {
		span.RecordError(err)
		o.observe(ctx, OutcomeFailed, start)
		return nil, err
	}

	res := &VoiceResult{
		SessionID:  sessionID,
		Transcript: transcript,
		Reply:      result.Content,
		Model:      result.Model,
	}

	span.AddEvent("synthesizing")
	stream, synthErr := o.streamSynthesis(turnCtx, cancel, result.Content)
	if synthErr != nil {
		o.log.Warn("synthesis unavailable, delivering text only",
			slog.String("session_id", sessionID),
			slog.String("error", synthErr.Error()))
		span.RecordError(synthErr)
		res.Outcome = OutcomeTextOnly
		o.observe(ctx, OutcomeTextOnly, start)
		return res, nil
	}
	handedOff = true

	res.Outcome = OutcomeCompleted
	res.Audio = stream
	o.observe(ctx, OutcomeCompleted, start)
	return res, nil
}

func (o *Orchestrator) generateReply(ctx context.Context, sessionID, system, message string) (*llm.Result, error) {
	history, err := o.store.History(sessionID)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: string(session.RoleUser), Content: message})

	greq := llm.Request{
		System:      system,
		Messages:    messages,
		MaxTokens:   o.generate.MaxTokens,
		Temperature: o.generate.Temperature,
	}

	var result *llm.Result
	err = backend.Do(ctx, o.log, o.genPolicy, "generate", func(ctx context.Context) error {
		r, err := o.generator.Generate(ctx, greq)
		if err == nil {
			result = r
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, utt stt.Utterance) (string, error) {
	var result *stt.Transcript
	err := backend.Do(ctx, o.log, o.sttPolicy, "transcribe", func(ctx context.Context) error {
		r, err := o.transcriber.Transcribe(ctx, utt)
		if err == nil {
			result = r
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// commitExchange appends the user/assistant pair to live history and then to
// the journal. Journal failures are logged and swallowed; the in-memory
// append is the source of truth for the turn's outcome.
func (o *Orchestrator) commitExchange(sessionID, userText, replyText string) error {
	user := session.Turn{Content: userText, Status: "completed"}
	assistant := session.Turn{Content: replyText, Status: "completed"}
	if err := o.store.AppendExchange(sessionID, user, assistant); err != nil {
		return err
	}
	if o.journal != nil {
		jctx, jcancel := context.WithTimeout(context.Background(), journalTimeout)
		defer jcancel()
		if err := o.journal.AppendExchange(jctx, sessionID, user, assistant); err != nil {
			o.log.Warn("journal append failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// streamSynthesis starts synthesis and waits for the first chunk so a
// backend that cannot start reports before the caller commits to streaming.
// On handoff the forwarder owns done and calls it when the stream ends.
func (o *Orchestrator) streamSynthesis(ctx context.Context, done context.CancelFunc, text string) (*pipeline.Stream, error) {
	chunks, errs := o.synth.Synthesize(ctx, tts.Request{Text: text, Voice: o.synthesize.Voice})

	select {
	case first, ok := <-chunks:
		if !ok {
			if err := <-errs; err != nil {
				return nil, err
			}
			return o.emptyStream(done), nil
		}
		stream := pipeline.NewStream(o.outbound, first.SampleRate, first.Channels)
		go o.forward(ctx, done, stream, first, chunks, errs)
		return stream, nil
	case err := <-errs:
		if err != nil {
			return nil, err
		}
		// Error channel closed first on a clean end; pick up any chunk
		// still in flight before declaring the stream empty.
		if first, ok := <-chunks; ok {
			stream := pipeline.NewStream(o.outbound, first.SampleRate, first.Channels)
			go o.forward(ctx, done, stream, first, chunks, errs)
			return stream, nil
		}
		return o.emptyStream(done), nil
	}
}

func (o *Orchestrator) emptyStream(done context.CancelFunc) *pipeline.Stream {
	stream := pipeline.NewStream(o.outbound, o.synthesize.SampleRate, o.synthesize.Channels)
	stream.Close(nil)
	done()
	return stream
}

func (o *Orchestrator) forward(ctx context.Context, done context.CancelFunc, stream *pipeline.Stream, first tts.Chunk, chunks <-chan tts.Chunk, errs <-chan error) {
	defer done()

	if err := stream.Send(ctx, frameOf(first)); err != nil {
		stream.Close(err)
		drainSynth(chunks, errs)
		return
	}
	for c := range chunks {
		if err := stream.Send(ctx, frameOf(c)); err != nil {
			stream.Close(err)
			drainSynth(chunks, errs)
			return
		}
	}
	if err := <-errs; err != nil {
		o.log.Warn("synthesis ended abnormally mid-stream", slog.String("error", err.Error()))
		stream.Close(err)
		return
	}
	stream.Close(nil)
}

// drainSynth empties a dead synthesis so its goroutine can exit. The
// producer watches the same context that just failed the send, so both
// channels close promptly.
func drainSynth(chunks <-chan tts.Chunk, errs <-chan error) {
	for range chunks {
	}
	for range errs {
	}
}

func frameOf(c tts.Chunk) pipeline.Frame {
	return pipeline.Frame{Seq: c.Seq, PCM: c.PCM, Final: c.Final}
}

// OutcomeOf maps a turn error to the outcome it represents.
func OutcomeOf(err error) Outcome {
	switch fault.KindOf(err) {
	case fault.KindSessionBusy:
		return OutcomeSessionBusy
	case fault.KindCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

func (o *Orchestrator) observe(ctx context.Context, outcome Outcome, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	if o.duration != nil {
		o.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if o.outcomes != nil {
		o.outcomes.Add(ctx, 1, attrs)
	}
}

func (o *Orchestrator) track(sessionID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.active[sessionID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(sessionID string) {
	o.mu.Lock()
	delete(o.active, sessionID)
	o.mu.Unlock()
}
