package tts

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/icheftech/fredrick-ai/internal/fault"
)

// execSynth shells out to a local synthesizer. The subprocess reads one JSON
// request on stdin and writes one JSON object per line on stdout, each
// carrying a base64 PCM chunk.
type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execSynthRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execSynthChunk struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesize command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesize command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	e.mu.Lock()
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)
		defer e.mu.Unlock()

		data, err := json.Marshal(execSynthRequest{
			Text:       req.Text,
			Voice:      req.Voice,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
		})
		if err != nil {
			errs <- fault.Wrap(fault.KindInternal, err, "encode synthesize request")
			return
		}

		base := e.cmd[0]
		args := append([]string{}, e.cmd[1:]...)
		cmd := exec.CommandContext(ctx, base, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- fault.Wrap(fault.KindInternal, err, "open synthesizer stdin")
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- fault.Wrap(fault.KindInternal, err, "open synthesizer stdout")
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- fault.Wrap(fault.KindUnavailable, err, "start synthesizer")
			return
		}

		if _, err := stdin.Write(data); err != nil {
			errs <- fault.Wrap(fault.KindUnavailable, err, "write synthesizer input")
			cmd.Wait()
			return
		}
		stdin.Close()

		scanner := bufio.NewScanner(stdout)
		// A base64 line for a large chunk can exceed the default 64KiB token limit.
		scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
		var seq uint64
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execSynthChunk
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- fault.Wrap(fault.KindMalformedResponse, err, "decode synthesizer chunk")
				cmd.Wait()
				return
			}
			pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
			if err != nil {
				errs <- fault.Wrap(fault.KindMalformedResponse, err, "decode synthesizer audio")
				cmd.Wait()
				return
			}
			select {
			case chunks <- Chunk{
				Seq:        seq,
				SampleRate: e.sampleRate,
				Channels:   e.channels,
				PCM:        pcm,
				Final:      resp.Final,
			}:
				seq++
			case <-ctx.Done():
				errs <- ctx.Err()
				cmd.Wait()
				return
			}
		}
		if err := cmd.Wait(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				errs <- ctxErr
				return
			}
			errs <- fault.Wrap(fault.KindUnavailable, err, "synthesizer exited abnormally")
			return
		}
		if scanErr := scanner.Err(); scanErr != nil {
			errs <- fault.Wrap(fault.KindMalformedResponse, scanErr, "read synthesizer output")
		}
	}()
	return chunks, errs
}
