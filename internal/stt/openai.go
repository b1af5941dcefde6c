package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/icheftech/fredrick-ai/internal/backend"
	"github.com/icheftech/fredrick-ai/internal/fault"
)

// openaiTranscriber posts WAV audio to an OpenAI-compatible transcriptions
// endpoint. Groq hosts whisper-large-v3 behind the same wire format.
type openaiTranscriber struct {
	endpoint string
	apiKey   string
	model    string
	language string
	client   *http.Client
}

func NewOpenAITranscriber(endpoint, apiKey, model, language string, timeout time.Duration) Transcriber {
	return &openaiTranscriber{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		language: language,
		client:   &http.Client{Timeout: timeout},
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (r *openaiTranscriber) Transcribe(ctx context.Context, utt Utterance) (*Transcript, error) {
	path, cleanup, err := writeTempWAV(utt.PCM, utt.SampleRate, utt.Channels)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "prepare audio")
	}
	defer cleanup()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "build upload form")
	}
	wavFile, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "open audio")
	}
	_, copyErr := io.Copy(part, wavFile)
	wavFile.Close()
	if copyErr != nil {
		return nil, fault.Wrap(fault.KindInternal, copyErr, "copy audio into form")
	}
	form.WriteField("model", r.model)
	if r.language != "" {
		form.WriteField("language", r.language)
	}
	form.WriteField("response_format", "json")
	if err := form.Close(); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "finish upload form")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "build transcription request")
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, backend.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backend.ClassifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	var decoded transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fault.Wrap(fault.KindMalformedResponse, err, "decode transcription response")
	}
	return &Transcript{Text: strings.TrimSpace(decoded.Text)}, nil
}
