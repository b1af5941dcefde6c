// Package runtime assembles one fredrickd process: telemetry, the session
// store and journal, the model backends, the turn orchestrator, the HTTP
// gateway, and the NATS voice plane with its optional embedded broker.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/icheftech/fredrick-ai/internal/bus"
	"github.com/icheftech/fredrick-ai/internal/config"
	"github.com/icheftech/fredrick-ai/internal/gateway"
	"github.com/icheftech/fredrick-ai/internal/llm"
	"github.com/icheftech/fredrick-ai/internal/natsserver"
	"github.com/icheftech/fredrick-ai/internal/persona"
	"github.com/icheftech/fredrick-ai/internal/session"
	"github.com/icheftech/fredrick-ai/internal/stt"
	"github.com/icheftech/fredrick-ai/internal/tts"
	"github.com/icheftech/fredrick-ai/internal/turn"
	"github.com/icheftech/fredrick-ai/internal/voice"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the process up and blocks until ctx is cancelled or the
// gateway fails. Components shut down in reverse of their start order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	telemetryShutdown, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	store := session.NewStore(r.cfg.Session, r.logger)
	store.StartSweeper(ctx)

	var journal *session.Journal
	if r.cfg.Journal.Enabled {
		journal, err = session.OpenJournal(ctx, r.cfg.Journal, r.logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				r.logger.Error("journal close error", slog.String("error", err.Error()))
			}
		}()
	}

	generator, err := llm.New(r.cfg.Generate)
	if err != nil {
		return fmt.Errorf("build generator: %w", err)
	}
	transcriber, err := stt.New(r.cfg.Transcribe)
	if err != nil {
		return fmt.Errorf("build transcriber: %w", err)
	}
	synth, err := tts.New(r.cfg.Synthesize, r.logger)
	if err != nil {
		return fmt.Errorf("build synthesizer: %w", err)
	}

	profile := persona.Profile{
		OrgName:       r.cfg.Persona.OrgName,
		RiskTolerance: r.cfg.Persona.RiskTolerance,
		PrimaryMarket: r.cfg.Persona.PrimaryMarket,
	}

	orch := turn.New(turn.Options{
		Store:       store,
		Journal:     journal,
		Generator:   generator,
		Transcriber: transcriber,
		Synth:       synth,
		Profile:     profile,
		Generate:    r.cfg.Generate,
		Transcribe:  r.cfg.Transcribe,
		Synthesize:  r.cfg.Synthesize,
		Pipeline:    r.cfg.Pipeline,
		Logger:      r.logger,
	})

	if r.cfg.Voice.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		defer embedded.Shutdown()

		busClient, err := bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer busClient.Close()

		voiceSvc := voice.NewService(ctx, r.cfg, busClient, store, orch, r.logger)
		if err := voiceSvc.Start(); err != nil {
			return fmt.Errorf("start voice service: %w", err)
		}
		defer func() {
			if err := voiceSvc.Close(); err != nil {
				r.logger.Error("voice service close error", slog.String("error", err.Error()))
			}
		}()
	}

	gw := gateway.NewServer(gateway.Options{
		Config:       r.cfg,
		Orchestrator: orch,
		Store:        store,
		Profile:      profile,
		Ready:        r.ready.Load,
		Logger:       r.logger,
	})

	gatewayErr := make(chan error, 1)
	go func() {
		gatewayErr <- gw.Start()
	}()

	var metricsServer *http.Server
	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		r.logger.Info("metrics listening", slog.String("addr", r.cfg.Telemetry.PrometheusBind))
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("http", fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)),
		slog.Bool("voice", r.cfg.Voice.Enabled),
		slog.String("environment", r.cfg.Environment))

	select {
	case <-ctx.Done():
		r.logger.Info("runtime stopping")
	case err := <-gatewayErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return errors.New("gateway server stopped unexpectedly")
	}

	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("gateway shutdown error", slog.String("error", err.Error()))
	}
	if err := <-gatewayErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		r.logger.Error("gateway server error", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}
