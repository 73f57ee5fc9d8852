package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whispercap/transcription-gateway/internal/config"
	"github.com/whispercap/transcription-gateway/internal/diarization"
	"github.com/whispercap/transcription-gateway/internal/engine"
	"github.com/whispercap/transcription-gateway/internal/observability"
	"github.com/whispercap/transcription-gateway/internal/resilience"
	"github.com/whispercap/transcription-gateway/internal/session"
	"github.com/whispercap/transcription-gateway/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("engine_url", cfg.EngineURL).
		Str("model", cfg.WhisperModel).
		Int("max_sessions", cfg.MaxSessions).
		Bool("diarization", cfg.DiarizationEnabled).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Transcription Gateway starting")

	// Inference engine client. The gateway refuses to start when the
	// engine is unreachable: accepting sessions it cannot transcribe
	// would only hide the outage from operators. The probe retries with
	// backoff so a gateway starting alongside the engine can wait for it.
	eng := engine.NewWhisperLiveClient(cfg)
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = resilience.Reconnect(probeCtx, func() error {
		pingCtx, pingCancel := context.WithTimeout(probeCtx, 10*time.Second)
		defer pingCancel()
		if perr := eng.Ping(pingCtx); perr != nil {
			logger.Warn().Err(perr).Str("engine_url", cfg.EngineURL).Msg("Inference engine not reachable yet")
			return perr
		}
		return nil
	}, &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Second,
	})
	probeCancel()
	if err != nil {
		logger.Fatal().Err(err).Str("engine_url", cfg.EngineURL).Msg("Inference engine unreachable")
	}
	logger.Info().Str("engine_url", cfg.EngineURL).Msg("Inference engine reachable")

	// Diarization adapter (feature-flagged)
	var diarizer diarization.Diarizer
	if cfg.DiarizationEnabled {
		diarizer = diarization.NewHTTPAdapter(cfg)
		logger.Info().Str("diarization_url", cfg.DiarizationURL).Msg("Diarization enabled")
	}

	registry := session.NewRegistry(cfg.MaxSessions)

	// Create HTTP server
	mux := http.NewServeMux()

	// Streaming transcription endpoint
	mux.HandleFunc("/transcribe", transport.HandleTranscribeWS(cfg, registry, eng, diarizer))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler(cfg.WhisperModel, registry))

	// Readiness endpoint - checks the collaborators sessions depend on
	engineCheck := func(ctx context.Context) (bool, error) {
		if err := eng.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	checks := map[string]observability.HealthCheckFunc{
		"engine": engineCheck,
	}
	if diarizer != nil {
		checks["diarization"] = func(ctx context.Context) (bool, error) {
			if err := diarizer.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(cfg.WhisperModel, registry, checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. Read/write timeouts stay off the
	// top-level server because WebSocket sessions outlive any sane value;
	// per-message deadlines are enforced in the transport instead.
	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://%s:%s/transcribe", cfg.Host, cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
