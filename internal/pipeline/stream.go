package pipeline

import (
	"context"

	"github.com/icheftech/fredrick-ai/internal/fault"
)

// Stream carries synthesized audio frames from a producer to a single
// consumer over a bounded buffer. When the buffer is full the producer
// blocks until the consumer drains a frame or the producer's context ends,
// so a slow consumer throttles synthesis instead of growing a queue.
//
// Send and Close belong to the producing goroutine; calling Send after
// Close is a programming error and is reported, not allowed to panic.
type Stream struct {
	frames     chan Frame
	sampleRate int
	channels   int

	closed bool
	err    error
}

func NewStream(buffer, sampleRate, channels int) *Stream {
	if buffer < 1 {
		buffer = 1
	}
	return &Stream{
		frames:     make(chan Frame, buffer),
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Send enqueues one frame, blocking while the buffer is full.
func (s *Stream) Send(ctx context.Context, f Frame) error {
	if s.closed {
		return fault.New(fault.KindInternal, "send on closed stream")
	}
	select {
	case s.frames <- f:
		return nil
	case <-ctx.Done():
		return fault.Wrap(fault.KindOf(ctx.Err()), ctx.Err(), "stream send")
	}
}

// Close ends the stream. A nil err marks a clean end; otherwise the
// consumer finds the failure through Err after draining.
func (s *Stream) Close(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.frames)
}

// Frames yields the stream's frames in order. The channel closes when the
// producer calls Close; it is finite and cannot be restarted.
func (s *Stream) Frames() <-chan Frame { return s.frames }

// Err reports why the stream ended. Valid once Frames has closed.
func (s *Stream) Err() error { return s.err }

func (s *Stream) SampleRate() int { return s.sampleRate }
func (s *Stream) Channels() int   { return s.channels }
