package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/icheftech/fredrick-ai/internal/backend"
	"github.com/icheftech/fredrick-ai/internal/fault"
)

type openaiSynthOptions struct {
	Endpoint   string
	APIKey     string
	Model      string
	Voice      string
	SampleRate int
	Channels   int
	ChunkMS    int
	Timeout    time.Duration
	Policy     backend.Policy
	Log        *slog.Logger
}

// openaiSynth posts to an OpenAI-compatible speech endpoint and re-chunks the
// returned PCM. The fetch is buffered before any chunk is emitted, which
// makes the retry loop safe: nothing has been streamed when a retry fires.
type openaiSynth struct {
	opts   openaiSynthOptions
	client *http.Client
}

func NewOpenAISynth(opts openaiSynthOptions) Synthesizer {
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	return &openaiSynth{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (s *openaiSynth) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		voice := req.Voice
		if voice == "" {
			voice = s.opts.Voice
		}

		var pcm []byte
		err := backend.Do(ctx, s.opts.Log, s.opts.Policy, "synthesize", func(ctx context.Context) error {
			fetched, err := s.fetch(ctx, req.Text, voice)
			if err != nil {
				return err
			}
			pcm = fetched
			return nil
		})
		if err != nil {
			errs <- err
			return
		}

		size := chunkBytes(s.opts.SampleRate, s.opts.Channels, s.opts.ChunkMS)
		var seq uint64
		for off := 0; off < len(pcm); off += size {
			end := off + size
			if end > len(pcm) {
				end = len(pcm)
			}
			select {
			case chunks <- Chunk{
				Seq:        seq,
				SampleRate: s.opts.SampleRate,
				Channels:   s.opts.Channels,
				PCM:        pcm[off:end],
				Final:      end == len(pcm),
			}:
				seq++
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if len(pcm) == 0 {
			errs <- fault.New(fault.KindMalformedResponse, "speech response carried no audio")
		}
	}()
	return chunks, errs
}

func (s *openaiSynth) fetch(ctx context.Context, text, voice string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Model:          s.opts.Model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "pcm",
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encode speech request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Endpoint+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "build speech request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, backend.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.ClassifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.ClassifyTransport(err)
	}
	return pcm, nil
}
