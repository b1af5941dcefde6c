// Package pipeline handles streaming audio on both edges of a voice turn:
// assembling inbound device frames into complete utterances, and carrying
// outbound synthesized frames to consumers with backpressure.
package pipeline

import (
	"encoding/binary"

	"github.com/icheftech/fredrick-ai/internal/config"
	"github.com/icheftech/fredrick-ai/internal/fault"
)

// Frame is one PCM frame moving through the pipeline.
type Frame struct {
	Seq   uint64
	PCM   []byte
	Final bool
}

// State is an assembler's lifecycle position. Terminal states are sticky.
type State int

const (
	StateOpen State = iota
	StateComplete
	StateFailed
)

// Assembler rebuilds one utterance from a frame stream. Frames must arrive
// with gap-free increasing sequence numbers; a bounded tolerance for frames
// arriving early separates transport jitter from a stream that has genuinely
// lost data. Dropping a suspect frame is always preferred over feeding
// corrupt audio to recognition.
type Assembler struct {
	cfg        config.PipelineConfig
	sampleRate int
	channels   int

	state     State
	next      uint64
	buf       []byte
	failure   error
	sawSpeech bool
	silentMS  int
}

func NewAssembler(cfg config.PipelineConfig, sampleRate, channels int) *Assembler {
	return &Assembler{
		cfg:        cfg,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Push ingests one frame. A non-nil return means the frame was not accepted;
// whether the whole utterance died with it is reported by State. Rejected
// duplicates and early frames leave the utterance open, a gap beyond the
// reorder tolerance fails it, and limit violations fail it.
func (a *Assembler) Push(f Frame) error {
	switch a.state {
	case StateFailed:
		return a.failure
	case StateComplete:
		return fault.Errorf(fault.KindOutOfOrder, "frame %d after utterance closed", f.Seq)
	}

	if f.Seq != a.next {
		if f.Seq < a.next {
			return fault.Errorf(fault.KindOutOfOrder, "frame %d already consumed, expected %d", f.Seq, a.next)
		}
		gap := f.Seq - a.next
		if gap <= uint64(a.cfg.ReorderTolerance) {
			return fault.Errorf(fault.KindOutOfOrder, "frame %d ahead of expected %d", f.Seq, a.next)
		}
		a.fail(fault.Errorf(fault.KindOutOfOrder, "sequence gap of %d frames exceeds tolerance %d", gap, a.cfg.ReorderTolerance))
		return a.failure
	}

	a.buf = append(a.buf, f.PCM...)
	a.next++

	if len(a.buf) > a.cfg.MaxUtteranceBytes {
		a.fail(fault.Errorf(fault.KindValidation, "utterance exceeds %d bytes", a.cfg.MaxUtteranceBytes))
		return a.failure
	}
	if a.DurationMS() > a.cfg.MaxUtteranceMS {
		a.fail(fault.Errorf(fault.KindValidation, "utterance exceeds %d ms", a.cfg.MaxUtteranceMS))
		return a.failure
	}

	if a.frameSilent(f.PCM) {
		a.silentMS += a.frameDurationMS(len(f.PCM))
	} else {
		a.sawSpeech = true
		a.silentMS = 0
	}

	if f.Final {
		a.state = StateComplete
		return nil
	}
	if a.sawSpeech && a.silentMS >= a.cfg.SilenceWindowMS {
		a.state = StateComplete
	}
	return nil
}

// Finish closes the utterance on an explicit end-of-input signal. An open
// utterance holding audio completes; one holding nothing fails, because an
// empty utterance has nothing to transcribe. Finishing a terminal assembler
// returns its existing failure, if any.
func (a *Assembler) Finish() error {
	switch a.state {
	case StateFailed:
		return a.failure
	case StateComplete:
		return nil
	}
	if len(a.buf) == 0 {
		a.fail(fault.New(fault.KindValidation, "utterance closed with no audio"))
		return a.failure
	}
	a.state = StateComplete
	return nil
}

// State reports the assembler's lifecycle position.
func (a *Assembler) State() State { return a.state }

// Err returns the terminal failure, if any.
func (a *Assembler) Err() error { return a.failure }

// Bytes returns the assembled PCM. Only meaningful once State is
// StateComplete.
func (a *Assembler) Bytes() []byte { return a.buf }

// DurationMS reports the assembled audio length in milliseconds.
func (a *Assembler) DurationMS() int {
	return a.frameDurationMS(len(a.buf))
}

func (a *Assembler) fail(err error) {
	a.state = StateFailed
	a.failure = err
	a.buf = nil
}

func (a *Assembler) frameDurationMS(bytes int) int {
	bytesPerSecond := a.sampleRate * a.channels * 2
	if bytesPerSecond == 0 {
		return 0
	}
	return bytes * 1000 / bytesPerSecond
}

// frameSilent reports whether the frame's mean absolute amplitude sits under
// the configured threshold. 16-bit little-endian samples.
func (a *Assembler) frameSilent(pcm []byte) bool {
	if len(pcm) < 2 {
		return true
	}
	var total int64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		sample := int64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		if sample < 0 {
			sample = -sample
		}
		total += sample
	}
	return total/int64(n) < int64(a.cfg.SilenceThreshold)
}
