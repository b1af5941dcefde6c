package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/icheftech/fredrick-ai/internal/fault"
	"github.com/icheftech/fredrick-ai/internal/pipeline"
	"github.com/icheftech/fredrick-ai/internal/stt"
	"github.com/icheftech/fredrick-ai/internal/turn"
)

// Inbound messages on /voice/stream. A cycle is start, audio frames, end;
// the connection then idles until the next start. Frames for an utterance
// the server already closed are dropped rather than answered, so a client
// racing a silence endpoint never sees spurious errors.
type wsInbound struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Seq        uint64 `json:"seq,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Final      bool   `json:"final,omitempty"`
}

type wsTranscript struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type wsReply struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Model     string `json:"model"`
}

type wsAudio struct {
	Type  string `json:"type"`
	Seq   uint64 `json:"seq"`
	Audio string `json:"audio"`
	Final bool   `json:"final,omitempty"`
}

type wsStatus struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id,omitempty"`
	Status    string     `json:"status"`
	Error     *wireError `json:"error,omitempty"`
}

// handleVoiceStream runs the live voice protocol. The conversation is
// strictly turn-taking: the client streams one utterance, the server answers
// with transcript, reply, audio frames, and a closing status, and only then
// does the next utterance begin. The session carries across cycles unless
// the client names a different one on start.
func (s *Server) handleVoiceStream(w http.ResponseWriter, r *http.Request) {
	if !s.voiceEnabled {
		writeError(w, r, fault.New(fault.KindUnavailable, "voice is disabled"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{
		server: s,
		conn:   conn,
		log:    s.log.With(slog.String("remote", conn.RemoteAddr().String())),
	}
	c.run(ctx)
}

type wsConn struct {
	server *Server
	conn   *websocket.Conn
	log    *slog.Logger

	sessionID  string
	assembler  *pipeline.Assembler
	sampleRate int
	channels   int
}

func (c *wsConn) run(ctx context.Context) {
	for {
		c.refreshDeadline()
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("voice stream closed", slog.String("error", err.Error()))
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			if c.sendError(fault.Wrap(fault.KindValidation, err, "invalid message")) != nil {
				return
			}
			continue
		}

		var connErr error
		switch msg.Type {
		case "start":
			c.handleStart(msg)
		case "audio":
			connErr = c.handleAudio(ctx, msg)
		case "end":
			connErr = c.handleEnd(ctx)
		default:
			connErr = c.sendError(fault.Errorf(fault.KindValidation, "unknown message type %q", msg.Type))
		}
		if connErr != nil {
			return
		}
	}
}

// handleStart opens a fresh utterance. A start over an open utterance
// discards the unfinished audio, which lets a client recover from its own
// glitches by simply starting over.
func (c *wsConn) handleStart(msg wsInbound) {
	if c.assembler != nil && c.assembler.State() == pipeline.StateOpen {
		c.log.Warn("utterance discarded by new start",
			slog.String("session_id", c.sessionID),
			slog.Int("bytes", len(c.assembler.Bytes())))
	}
	if msg.SessionID != "" {
		c.sessionID = msg.SessionID
	}
	c.sampleRate = msg.SampleRate
	if c.sampleRate == 0 {
		c.sampleRate = c.server.transcribe.SampleRate
	}
	c.channels = msg.Channels
	if c.channels == 0 {
		c.channels = c.server.transcribe.Channels
	}
	c.assembler = pipeline.NewAssembler(c.server.pipeline, c.sampleRate, c.channels)
}

func (c *wsConn) handleAudio(ctx context.Context, msg wsInbound) error {
	if c.assembler == nil {
		c.log.Debug("dropping frame outside an utterance", slog.Uint64("seq", msg.Seq))
		return nil
	}
	pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		return c.sendError(fault.Wrap(fault.KindValidation, err, "audio frame is not valid base64"))
	}

	if err := c.assembler.Push(pipeline.Frame{Seq: msg.Seq, PCM: pcm, Final: msg.Final}); err != nil {
		if c.assembler.State() == pipeline.StateFailed {
			return c.failUtterance(err)
		}
		// Recoverable reject: drop the frame, the utterance lives.
		c.log.Debug("frame rejected",
			slog.Uint64("seq", msg.Seq),
			slog.String("error", err.Error()))
		return nil
	}
	if c.assembler.State() == pipeline.StateComplete {
		return c.runTurn(ctx)
	}
	return nil
}

func (c *wsConn) handleEnd(ctx context.Context) error {
	if c.assembler == nil {
		c.log.Debug("dropping end outside an utterance")
		return nil
	}
	if err := c.assembler.Finish(); err != nil {
		return c.failUtterance(err)
	}
	return c.runTurn(ctx)
}

// runTurn hands the assembled utterance to the orchestrator and relays the
// results. Audio frames go out as they arrive, so playback starts while
// synthesis is still running.
func (c *wsConn) runTurn(ctx context.Context) error {
	a := c.assembler
	c.assembler = nil

	result, err := c.server.orch.Voice(ctx, turn.VoiceRequest{
		SessionID: c.sessionID,
		Utterance: stt.Utterance{PCM: a.Bytes(), SampleRate: c.sampleRate, Channels: c.channels},
	})
	if err != nil {
		return c.send(wsStatus{
			Type:      "status",
			SessionID: c.sessionID,
			Status:    string(turn.OutcomeOf(err)),
			Error:     wireErrorOf(err),
		})
	}
	c.sessionID = result.SessionID

	if err := c.send(wsTranscript{Type: "transcript", SessionID: result.SessionID, Text: result.Transcript}); err != nil {
		return err
	}
	if err := c.send(wsReply{Type: "reply", SessionID: result.SessionID, Text: result.Reply, Model: result.Model}); err != nil {
		return err
	}

	status := result.Outcome
	var statusErr *wireError
	if result.Audio != nil {
		for f := range result.Audio.Frames() {
			msg := wsAudio{
				Type:  "audio",
				Seq:   f.Seq,
				Audio: base64.StdEncoding.EncodeToString(f.PCM),
				Final: f.Final,
			}
			if err := c.send(msg); err != nil {
				// Connection gone; context cancellation stops synthesis.
				return err
			}
		}
		if err := result.Audio.Err(); err != nil {
			c.log.Warn("reply audio stream failed mid-delivery",
				slog.String("session_id", result.SessionID),
				slog.String("error", err.Error()))
			status = turn.OutcomeTextOnly
			statusErr = wireErrorOf(err)
		}
	}
	return c.send(wsStatus{
		Type:      "status",
		SessionID: result.SessionID,
		Status:    string(status),
		Error:     statusErr,
	})
}

// failUtterance reports a dead utterance and resets for the next start.
func (c *wsConn) failUtterance(err error) error {
	c.assembler = nil
	c.log.Warn("utterance assembly failed",
		slog.String("session_id", c.sessionID),
		slog.String("error", err.Error()))
	return c.send(wsStatus{
		Type:      "status",
		SessionID: c.sessionID,
		Status:    string(turn.OutcomeFailed),
		Error:     wireErrorOf(err),
	})
}

func (c *wsConn) sendError(err error) error {
	return c.send(errorEnvelope("", err))
}

func (c *wsConn) send(v any) error {
	return c.conn.WriteJSON(v)
}

func (c *wsConn) refreshDeadline() {
	if c.server.idleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.server.idleTimeout))
	}
}
