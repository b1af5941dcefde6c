package turn

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/icheftech/fredrick-ai/internal/config"
	"github.com/icheftech/fredrick-ai/internal/fault"
	"github.com/icheftech/fredrick-ai/internal/llm"
	"github.com/icheftech/fredrick-ai/internal/persona"
	"github.com/icheftech/fredrick-ai/internal/session"
	"github.com/icheftech/fredrick-ai/internal/stt"
	"github.com/icheftech/fredrick-ai/internal/tts"
)

type stubGenerator struct {
	mu     sync.Mutex
	calls  int
	system string
	fn     func(ctx context.Context, req llm.Request) (*llm.Result, error)
}

func (g *stubGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	g.mu.Lock()
	g.calls++
	g.system = req.System
	g.mu.Unlock()
	return g.fn(ctx, req)
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *stubGenerator) lastSystem() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.system
}

func replyWith(text string) func(context.Context, llm.Request) (*llm.Result, error) {
	return func(context.Context, llm.Request) (*llm.Result, error) {
		return &llm.Result{Content: text, Model: "test-model"}, nil
	}
}

type stubTranscriber struct {
	text string
	err  error
}

func (t *stubTranscriber) Transcribe(ctx context.Context, utt stt.Utterance) (*stt.Transcript, error) {
	if t.err != nil {
		return nil, t.err
	}
	return &stt.Transcript{Text: t.text, Confidence: 0.9}, nil
}

// stubSynth plays back a canned chunk sequence. failBefore aborts before the
// first chunk, failAfter aborts once the chunks are out.
type stubSynth struct {
	chunks     []tts.Chunk
	failBefore error
	failAfter  error
}

func (s *stubSynth) Synthesize(ctx context.Context, req tts.Request) (<-chan tts.Chunk, <-chan error) {
	out := make(chan tts.Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		if s.failBefore != nil {
			errs <- s.failBefore
			return
		}
		for _, c := range s.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if s.failAfter != nil {
			errs <- s.failAfter
		}
	}()
	return out, errs
}

func synthChunks(n int) []tts.Chunk {
	chunks := make([]tts.Chunk, n)
	for i := range chunks {
		chunks[i] = tts.Chunk{
			Seq:        uint64(i),
			SampleRate: 22050,
			Channels:   1,
			PCM:        []byte{byte(i), byte(i)},
			Final:      i == n-1,
		}
	}
	return chunks
}

func newTestOrchestrator(t *testing.T, gen llm.Generator, tr stt.Transcriber, sy tts.Synthesizer) (*Orchestrator, *session.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(config.SessionConfig{MaxHistoryTurns: 40, IdleTimeoutMS: 60000, SweepIntervalMS: 1000}, log)
	o := New(Options{
		Store:       store,
		Generator:   gen,
		Transcriber: tr,
		Synth:       sy,
		Profile: persona.Profile{
			OrgName:       "Southern Shade LLC",
			RiskTolerance: "moderate",
			PrimaryMarket: "US_GOV_AND_ENTERPRISE",
		},
		Generate: config.GenerateConfig{
			Model:       "test-model",
			MaxTokens:   128,
			Temperature: 0.2,
			Retry:       config.RetryConfig{MaxAttempts: 3, InitialBackoffMS: 1, MaxBackoffMS: 2, BudgetMS: 2000},
		},
		Transcribe: config.TranscribeConfig{
			Retry: config.RetryConfig{MaxAttempts: 2, InitialBackoffMS: 1, MaxBackoffMS: 2, BudgetMS: 2000},
		},
		Synthesize: config.SynthesizeConfig{Voice: "alloy", SampleRate: 22050, Channels: 1},
		Pipeline:   config.PipelineConfig{OutboundBufferFrames: 8},
		Logger:     log,
	})
	return o, store
}

func TestTextCreatesSessionAndCommitsPair(t *testing.T) {
	gen := &stubGenerator{fn: replyWith("Houston carries moderate expansion risk.")}
	o, store := newTestOrchestrator(t, gen, nil, nil)

	res, err := o.Text(context.Background(), TextRequest{Message: "Analyze risk of Houston expansion"})
	if err != nil {
		t.Fatalf("text turn failed: %v", err)
	}
	if res.SessionID == "" {
		t.Fatal("expected a fresh session id")
	}
	if res.Reply != "Houston carries moderate expansion risk." || res.Model != "test-model" {
		t.Fatalf("unexpected result %+v", res)
	}

	hist, err := store.History(res.SessionID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected one committed pair, got %d turns", len(hist))
	}
	if hist[0].Role != session.RoleUser || hist[0].Content != "Analyze risk of Houston expansion" {
		t.Fatalf("unexpected user turn %+v", hist[0])
	}
	if hist[1].Role != session.RoleAssistant || hist[1].Content != res.Reply {
		t.Fatalf("unexpected assistant turn %+v", hist[1])
	}
}

func TestTextDefaultAndOverrideSystemPrompt(t *testing.T) {
	gen := &stubGenerator{fn: replyWith("ok")}
	o, _ := newTestOrchestrator(t, gen, nil, nil)

	if _, err := o.Text(context.Background(), TextRequest{Message: "hello"}); err != nil {
		t.Fatalf("text: %v", err)
	}
	if sys := gen.lastSystem(); sys == "" || !containsAll(sys, "Southern Shade LLC", "US_GOV_AND_ENTERPRISE") {
		t.Fatalf("default system prompt not applied: %q", sys)
	}

	if _, err := o.Text(context.Background(), TextRequest{Message: "hello", System: "You are a compliance auditor."}); err != nil {
		t.Fatalf("text: %v", err)
	}
	if sys := gen.lastSystem(); sys != "You are a compliance auditor." {
		t.Fatalf("system override ignored: %q", sys)
	}
}

func TestTextPassesHistoryToGenerator(t *testing.T) {
	var seen []llm.Message
	gen := &stubGenerator{fn: func(_ context.Context, req llm.Request) (*llm.Result, error) {
		seen = append([]llm.Message(nil), req.Messages...)
		return &llm.Result{Content: "r", Model: "m"}, nil
	}}
	o, _ := newTestOrchestrator(t, gen, nil, nil)

	first, err := o.Text(context.Background(), TextRequest{Message: "one"})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := o.Text(context.Background(), TextRequest{SessionID: first.SessionID, Message: "two"}); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if len(seen) != 3 {
		t.Fatalf("expected prior pair plus new message, got %d messages", len(seen))
	}
	if seen[0].Content != "one" || seen[1].Content != "r" || seen[2].Content != "two" {
		t.Fatalf("unexpected conversation %+v", seen)
	}
	if seen[0].Role != "user" || seen[1].Role != "assistant" || seen[2].Role != "user" {
		t.Fatalf("unexpected roles %+v", seen)
	}
}

func TestTextUnknownSessionNotFound(t *testing.T) {
	gen := &stubGenerator{fn: replyWith("ok")}
	o, _ := newTestOrchestrator(t, gen, nil, nil)

	_, err := o.Text(context.Background(), TextRequest{SessionID: "missing", Message: "hi"})
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if gen.callCount() != 0 {
		t.Fatal("generator must not run for an unknown session")
	}
}

func TestConcurrentTurnsExactlyOneWinner(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	gen := &stubGenerator{fn: func(ctx context.Context, _ llm.Request) (*llm.Result, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return &llm.Result{Content: "won", Model: "m"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	o, store := newTestOrchestrator(t, gen, nil, nil)
	id := store.Create().ID

	winner := make(chan error, 1)
	go func() {
		_, err := o.Text(context.Background(), TextRequest{SessionID: id, Message: "first"})
		winner <- err
	}()
	<-started

	for i := 0; i < 5; i++ {
		_, err := o.Text(context.Background(), TextRequest{SessionID: id, Message: "competing"})
		if fault.KindOf(err) != fault.KindSessionBusy {
			t.Fatalf("expected session busy, got %v", err)
		}
	}

	close(release)
	if err := <-winner; err != nil {
		t.Fatalf("winning turn failed: %v", err)
	}

	hist, err := store.History(id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("losers must leave no trace, got %d turns", len(hist))
	}
}

func TestTextReleasesLockOnFailure(t *testing.T) {
	gen := &stubGenerator{fn: func(context.Context, llm.Request) (*llm.Result, error) {
		return nil, fault.New(fault.KindRejected, "prompt refused")
	}}
	o, store := newTestOrchestrator(t, gen, nil, nil)
	id := store.Create().ID

	_, err := o.Text(context.Background(), TextRequest{SessionID: id, Message: "hi"})
	if fault.KindOf(err) != fault.KindRejected {
		t.Fatalf("expected rejection, got %v", err)
	}
	if gen.callCount() != 1 {
		t.Fatalf("rejected call must not retry, got %d calls", gen.callCount())
	}

	hist, _ := store.History(id)
	if len(hist) != 0 {
		t.Fatalf("failed turn must append nothing, got %d turns", len(hist))
	}
	ok, err := store.TryAcquire(id)
	if err != nil || !ok {
		t.Fatalf("lock leaked after failure: ok=%v err=%v", ok, err)
	}
	store.Release(id)
}

func TestTextRetriesTransientThenSucceeds(t *testing.T) {
	gen := &stubGenerator{}
	gen.fn = func(context.Context, llm.Request) (*llm.Result, error) {
		if gen.callCount() < 3 {
			return nil, fault.New(fault.KindUnavailable, "upstream 503")
		}
		return &llm.Result{Content: "third time", Model: "m"}, nil
	}
	o, _ := newTestOrchestrator(t, gen, nil, nil)

	res, err := o.Text(context.Background(), TextRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if res.Reply != "third time" || gen.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d with reply %q", gen.callCount(), res.Reply)
	}
}

func TestCancelAbortsInflightTurn(t *testing.T) {
	started := make(chan struct{}, 1)
	gen := &stubGenerator{fn: func(ctx context.Context, _ llm.Request) (*llm.Result, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o, store := newTestOrchestrator(t, gen, nil, nil)
	id := store.Create().ID

	done := make(chan error, 1)
	go func() {
		_, err := o.Text(context.Background(), TextRequest{SessionID: id, Message: "hi"})
		done <- err
	}()
	<-started

	if !o.Cancel(id) {
		t.Fatal("expected an active turn to cancel")
	}
	if err := <-done; fault.KindOf(err) != fault.KindCancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}

	hist, _ := store.History(id)
	if len(hist) != 0 {
		t.Fatalf("cancelled turn must append nothing, got %d turns", len(hist))
	}
	ok, err := store.TryAcquire(id)
	if err != nil || !ok {
		t.Fatalf("lock leaked after cancel: ok=%v err=%v", ok, err)
	}
	store.Release(id)

	if o.Cancel(id) {
		t.Fatal("no turn is active, cancel must report false")
	}
}

func TestTextJournalsCommittedExchange(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal, err := session.OpenJournal(context.Background(), config.JournalConfig{
		Enabled:       true,
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		RetentionMode: "session",
		RetentionDays: 30,
		MaxSessions:   100,
	}, log)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	gen := &stubGenerator{fn: replyWith("noted")}
	o, _ := newTestOrchestrator(t, gen, nil, nil)
	o.journal = journal

	res, err := o.Text(context.Background(), TextRequest{Message: "record this"})
	if err != nil {
		t.Fatalf("text: %v", err)
	}

	rows, err := journal.ListTurns(context.Background(), res.SessionID, 10)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected journaled pair, got %d rows", len(rows))
	}
	if rows[0].Role != "user" || rows[0].Content != "record this" {
		t.Fatalf("unexpected journal row %+v", rows[0])
	}
	if rows[1].Role != "assistant" || rows[1].Content != "noted" {
		t.Fatalf("unexpected journal row %+v", rows[1])
	}
}

func TestVoiceHappyPathStreamsAudio(t *testing.T) {
	gen := &stubGenerator{fn: replyWith("The runway is eighteen months.")}
	tr := &stubTranscriber{text: "what is our runway"}
	sy := &stubSynth{chunks: synthChunks(3)}
	o, store := newTestOrchestrator(t, gen, tr, sy)

	res, err := o.Voice(context.Background(), VoiceRequest{Utterance: stt.Utterance{PCM: []byte{1, 2}, SampleRate: 16000, Channels: 1}})
	if err != nil {
		t.Fatalf("voice turn failed: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %v", res.Outcome)
	}
	if res.Transcript != "what is our runway" || res.Reply != "The runway is eighteen months." {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Audio == nil {
		t.Fatal("expected an audio stream")
	}

	var seqs []uint64
	for f := range res.Audio.Frames() {
		seqs = append(seqs, f.Seq)
	}
	if len(seqs) != 3 || seqs[0] != 0 || seqs[2] != 2 {
		t.Fatalf("unexpected audio frames %v", seqs)
	}
	if err := res.Audio.Err(); err != nil {
		t.Fatalf("stream ended abnormally: %v", err)
	}
	if res.Audio.SampleRate() != 22050 {
		t.Fatalf("stream format lost, rate %d", res.Audio.SampleRate())
	}

	hist, _ := store.History(res.SessionID)
	if len(hist) != 2 {
		t.Fatalf("expected committed pair, got %d turns", len(hist))
	}
}

func TestVoiceTextOnlyWhenSynthesisCannotStart(t *testing.T) {
	gen := &stubGenerator{fn: replyWith("text still delivered")}
	tr := &stubTranscriber{text: "say something"}
	sy := &stubSynth{failBefore: fault.New(fault.KindUnavailable, "speech service down")}
	o, store := newTestOrchestrator(t, gen, tr, sy)

	res, err := o.Voice(context.Background(), VoiceRequest{Utterance: stt.Utterance{PCM: []byte{1}, SampleRate: 16000, Channels: 1}})
	if err != nil {
		t.Fatalf("synthesis failure must not fail the turn: %v", err)
	}
	if res.Outcome != OutcomeTextOnly {
		t.Fatalf("expected text-only outcome, got %v", res.Outcome)
	}
	if res.Audio != nil {
		t.Fatal("text-only result must carry no stream")
	}
	if res.Reply != "text still delivered" {
		t.Fatalf("unexpected reply %q", res.Reply)
	}

	// The committed pair survives the audio failure.
	hist, _ := store.History(res.SessionID)
	if len(hist) != 2 {
		t.Fatalf("expected pair to stay, got %d turns", len(hist))
	}
}

func TestVoiceStreamCarriesMidStreamFailure(t *testing.T) {
	gen := &stubGenerator{fn: replyWith("partial audio ahead")}
	tr := &stubTranscriber{text: "hello"}
	sy := &stubSynth{
		chunks:    []tts.Chunk{{Seq: 0, SampleRate: 22050, Channels: 1, PCM: []byte{9, 9}}},
		failAfter: fault.New(fault.KindUnavailable, "stream interrupted"),
	}
	o, _ := newTestOrchestrator(t, gen, tr, sy)

	res, err := o.Voice(context.Background(), VoiceRequest{Utterance: stt.Utterance{PCM: []byte{1}, SampleRate: 16000, Channels: 1}})
	if err != nil {
		t.Fatalf("voice: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.Audio == nil {
		t.Fatalf("first chunk arrived, expected a live stream, got %+v", res)
	}

	var n int
	for range res.Audio.Frames() {
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 frame before the failure, got %d", n)
	}
	if fault.KindOf(res.Audio.Err()) != fault.KindUnavailable {
		t.Fatalf("expected stream failure, got %v", res.Audio.Err())
	}
}

func TestVoiceEmptyTranscriptRejected(t *testing.T) {
	gen := &stubGenerator{fn: replyWith("never called")}
	tr := &stubTranscriber{text: ""}
	o, store := newTestOrchestrator(t, gen, tr, &stubSynth{})
	id := store.Create().ID

	_, err := o.Voice(context.Background(), VoiceRequest{SessionID: id, Utterance: stt.Utterance{PCM: []byte{0}, SampleRate: 16000, Channels: 1}})
	if fault.KindOf(err) != fault.KindRejected {
		t.Fatalf("expected rejection for silent audio, got %v", err)
	}
	if gen.callCount() != 0 {
		t.Fatal("generation must not run without a transcript")
	}
	hist, _ := store.History(id)
	if len(hist) != 0 {
		t.Fatalf("nothing may be appended, got %d turns", len(hist))
	}
	ok, err := store.TryAcquire(id)
	if err != nil || !ok {
		t.Fatalf("lock leaked: ok=%v err=%v", ok, err)
	}
	store.Release(id)
}

func TestVoiceTranscribeFailureAppendsNothing(t *testing.T) {
	gen := &stubGenerator{fn: replyWith("never called")}
	tr := &stubTranscriber{err: fault.New(fault.KindRejected, "unsupported audio")}
	o, store := newTestOrchestrator(t, gen, tr, &stubSynth{})
	id := store.Create().ID

	_, err := o.Voice(context.Background(), VoiceRequest{SessionID: id, Utterance: stt.Utterance{PCM: []byte{0}, SampleRate: 16000, Channels: 1}})
	if fault.KindOf(err) != fault.KindRejected {
		t.Fatalf("expected rejection, got %v", err)
	}
	hist, _ := store.History(id)
	if len(hist) != 0 {
		t.Fatalf("failed transcription must append nothing, got %d turns", len(hist))
	}
	ok, err := store.TryAcquire(id)
	if err != nil || !ok {
		t.Fatalf("lock leaked: ok=%v err=%v", ok, err)
	}
	store.Release(id)
}

func TestVoiceSessionBusy(t *testing.T) {
	gen := &stubGenerator{fn: replyWith("ok")}
	o, store := newTestOrchestrator(t, gen, &stubTranscriber{text: "hi"}, &stubSynth{chunks: synthChunks(1)})
	id := store.Create().ID

	if ok, err := store.TryAcquire(id); err != nil || !ok {
		t.Fatalf("setup acquire: ok=%v err=%v", ok, err)
	}
	defer store.Release(id)

	_, err := o.Voice(context.Background(), VoiceRequest{SessionID: id, Utterance: stt.Utterance{PCM: []byte{0}, SampleRate: 16000, Channels: 1}})
	if fault.KindOf(err) != fault.KindSessionBusy {
		t.Fatalf("expected session busy, got %v", err)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
