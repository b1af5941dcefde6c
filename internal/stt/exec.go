package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/icheftech/fredrick-ai/internal/fault"
)

// execTranscriber shells out to a local recognizer CLI. The audio is handed
// over as a temp WAV path; the CLI prints a JSON object on stdout.
type execTranscriber struct {
	cmd      []string
	model    string
	language string
	mu       sync.Mutex
}

type execTranscriptResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecTranscriber(command, model, language string) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transcribe command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcribe command empty")
	}
	return &execTranscriber{cmd: args, model: model, language: language}, nil
}

func (r *execTranscriber) Transcribe(ctx context.Context, utt Utterance) (*Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, cleanup, err := writeTempWAV(utt.PCM, utt.SampleRate, utt.Channels)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "prepare audio")
	}
	defer cleanup()

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", path)
	if r.model != "" {
		cmdArgs = append(cmdArgs, "--model", r.model)
	}
	if r.language != "" {
		cmdArgs = append(cmdArgs, "--language", r.language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fault.Wrap(fault.KindOf(ctxErr), ctxErr, "transcribe command interrupted")
		}
		return nil, fault.Wrap(fault.KindUnavailable, err, fmt.Sprintf("transcribe command failed: %s", stderr.String()))
	}

	var resp execTranscriptResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fault.Wrap(fault.KindMalformedResponse, err, "decode transcribe command output")
	}
	return &Transcript{Text: resp.Text, Confidence: resp.Confidence}, nil
}
