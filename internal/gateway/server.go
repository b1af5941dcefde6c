// Package gateway is the public HTTP surface: the advisory endpoints, the
// blocking voice endpoint, session management, and the websocket voice
// stream. Handlers translate between wire shapes and the orchestrator; they
// never reinterpret fault kinds, only render them.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/icheftech/fredrick-ai/internal/config"
	"github.com/icheftech/fredrick-ai/internal/fault"
	"github.com/icheftech/fredrick-ai/internal/persona"
	"github.com/icheftech/fredrick-ai/internal/session"
	"github.com/icheftech/fredrick-ai/internal/turn"
)

const (
	serviceLabel   = "FREDRICK AI"
	serviceVersion = "1.0.0"
)

// Options wires a Server. Ready gates /readyz; a nil Ready reports ready.
type Options struct {
	Config       config.Config
	Orchestrator *turn.Orchestrator
	Store        *session.Store
	Profile      persona.Profile
	Ready        func() bool
	Logger       *slog.Logger
}

type Server struct {
	bind            string
	port            int
	orch            *turn.Orchestrator
	store           *session.Store
	profile         persona.Profile
	ready           func() bool
	voiceEnabled    bool
	transcribe      config.TranscribeConfig
	pipeline        config.PipelineConfig
	idleTimeout     time.Duration
	maxBodyBytes    int64
	maxMessageBytes int
	apiKeys         map[string]struct{}
	log             *slog.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
	shutdown   atomic.Bool

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config

	keys := make(map[string]struct{}, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}

	s := &Server{
		bind:            cfg.HTTP.Bind,
		port:            cfg.HTTP.Port,
		orch:            opts.Orchestrator,
		store:           opts.Store,
		profile:         opts.Profile,
		ready:           opts.Ready,
		voiceEnabled:    cfg.Voice.Enabled,
		transcribe:      cfg.Transcribe,
		pipeline:        cfg.Pipeline,
		idleTimeout:     time.Duration(cfg.Session.IdleTimeoutMS) * time.Millisecond,
		maxBodyBytes:    int64(cfg.Limits.MaxAudioBytes),
		maxMessageBytes: cfg.Limits.MaxMessageBytes,
		apiKeys:         keys,
		log:             log.With(slog.String("component", "gateway")),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin: func(*http.Request) bool {
				// Key auth is the access control; origins are deployment policy.
				return true
			},
		},
	}
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

func (s *Server) initMetrics() error {
	meter := otel.Meter("github.com/icheftech/fredrick-ai/gateway")
	requests, err := meter.Int64Counter("fredrick.gateway.requests",
		metric.WithDescription("HTTP requests served, by route and status"))
	if err != nil {
		return err
	}
	duration, err := meter.Float64Histogram("fredrick.gateway.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	s.requests = requests
	s.duration = duration
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Status and probes stay open; everything else sits behind key auth.
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	api := http.NewServeMux()
	api.HandleFunc("POST /chat", s.handleChat)
	api.HandleFunc("POST /risk-analysis", s.handleRiskAnalysis)
	api.HandleFunc("POST /compliance-check", s.handleComplianceCheck)
	api.HandleFunc("POST /due-diligence", s.handleDueDiligence)
	api.HandleFunc("POST /voice", s.handleVoice)
	api.HandleFunc("GET /voice/stream", s.handleVoiceStream)
	api.HandleFunc("GET /sessions/{id}/history", s.handleHistory)
	api.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	api.HandleFunc("POST /sessions/{id}/cancel", s.handleCancelTurn)
	mux.Handle("/", s.withAuth(api))

	return s.withAccessLog(s.withRecover(s.withBodyLimit(mux)))
}

// Start serves until Shutdown or a listener error. It blocks; run it in a
// goroutine and treat http.ErrServerClosed as a clean exit.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.bind, strconv.Itoa(s.port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fault.Wrap(fault.KindUnavailable, err, "gateway listen")
	}

	s.log.Info("gateway listening", slog.String("addr", addr))
	return s.httpServer.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdown.Swap(true) {
		return nil
	}
	s.log.Info("gateway shutting down")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "online",
		"service": serviceLabel,
		"version": serviceVersion,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) observeRequest(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status))
	if s.requests != nil {
		s.requests.Add(ctx, 1, attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
