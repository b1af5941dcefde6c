package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/icheftech/fredrick-ai/internal/fault"
)

// tonePCM builds n samples of 16-bit PCM with a fixed amplitude.
func tonePCM(samples int, amplitude int16) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		buf[i*2] = byte(amplitude)
		buf[i*2+1] = byte(amplitude >> 8)
	}
	return buf
}

func TestOpenAITranscribeHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-large-v3" {
			t.Errorf("model field = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language field = %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file field: %v", err)
		} else {
			head := make([]byte, 4)
			io.ReadFull(file, head)
			if !bytes.Equal(head, []byte("RIFF")) {
				t.Errorf("upload is not WAV, head %q", head)
			}
			file.Close()
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "approve the vendor"})
	}))
	defer srv.Close()

	tr := NewOpenAITranscriber(srv.URL, "gsk_test", "whisper-large-v3", "en", time.Second)
	res, err := tr.Transcribe(context.Background(), Utterance{PCM: tonePCM(1600, 2000), SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "approve the vendor" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestOpenAITranscribeStatusClassification(t *testing.T) {
	cases := map[int]fault.Kind{
		http.StatusTooManyRequests:     fault.KindRateLimited,
		http.StatusServiceUnavailable:  fault.KindUnavailable,
		http.StatusUnprocessableEntity: fault.KindRejected,
	}
	for status, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		tr := NewOpenAITranscriber(srv.URL, "k", "m", "", time.Second)
		_, err := tr.Transcribe(context.Background(), Utterance{PCM: tonePCM(160, 100), SampleRate: 16000, Channels: 1})
		if fault.KindOf(err) != want {
			t.Fatalf("status %d classified %s, want %s", status, fault.KindOf(err), want)
		}
		srv.Close()
	}
}

func TestOpenAITranscribeMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	tr := NewOpenAITranscriber(srv.URL, "k", "m", "", time.Second)
	_, err := tr.Transcribe(context.Background(), Utterance{PCM: tonePCM(160, 100), SampleRate: 16000, Channels: 1})
	if fault.KindOf(err) != fault.KindMalformedResponse {
		t.Fatalf("expected malformed_response, got %v", err)
	}
}

func TestOpenAITranscribeRejectsUnalignedPCM(t *testing.T) {
	tr := NewOpenAITranscriber("http://unused", "k", "m", "", time.Second)
	_, err := tr.Transcribe(context.Background(), Utterance{PCM: []byte{0x01}, SampleRate: 16000, Channels: 1})
	if fault.KindOf(err) != fault.KindInternal {
		t.Fatalf("expected internal for unaligned pcm, got %v", err)
	}
}

func TestMockTranscriberReportsLength(t *testing.T) {
	tr := NewMockTranscriber()
	res, err := tr.Transcribe(context.Background(), Utterance{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "[mock transcript length=320]" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}
