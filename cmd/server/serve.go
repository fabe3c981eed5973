package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mmuslimabdulj/goat-space/internal/config"
	httpHandler "github.com/mmuslimabdulj/goat-space/internal/delivery/http"
	"github.com/mmuslimabdulj/goat-space/internal/delivery/ws"
	"github.com/mmuslimabdulj/goat-space/internal/logging"
	"github.com/mmuslimabdulj/goat-space/internal/metrics"
	"github.com/mmuslimabdulj/goat-space/internal/middleware"
	"github.com/mmuslimabdulj/goat-space/internal/persistence"
	"github.com/mmuslimabdulj/goat-space/internal/usecase"
)

// shutdownTimeout bounds the HTTP drain on shutdown
const shutdownTimeout = 30 * time.Second

func createServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hub server (default)",
		Long: `Start the HTTP server and the presence hub.
The server runs until interrupted (Ctrl+C or SIGTERM), then closes every
connection and writes a final snapshot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *cliOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	sink, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		RelayLevel: cfg.RelayLogLevel,
		FilePath:   cfg.LogFile,
		Pretty:     cfg.LogPretty,
	})
	if err != nil {
		return err
	}
	defer sink.Close()

	return serve(cfg, sink)
}

func serve(cfg *config.Config, sink *logging.Sink) error {
	log := sink.Component("server")

	// Metrics
	var (
		hubMetrics     *metrics.Metrics
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		hubMetrics = metrics.New(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			ErrorLog: stdlog.New(errorLogWriter{log: sink.Component("metrics")}, "", 0),
		})
	}

	// Persistence
	snapshots, err := persistence.Open(cfg.SnapshotBackend, cfg.SnapshotPath)
	if err != nil {
		log.Error().Err(err).Str("backend", cfg.SnapshotBackend).Msg("failed to open snapshot store")
		return err
	}
	defer snapshots.Close()

	// Hub
	hub := ws.NewHub(ws.Options{
		Logger:             sink.Logger,
		Metrics:            hubMetrics,
		Snapshots:          snapshots,
		Personas:           usecase.NewPersonaGenerator(),
		HeartbeatInterval:  cfg.HeartbeatInterval,
		SaveInterval:       cfg.SaveInterval,
		RestoredTTL:        cfg.RestoredTTL,
		PruneDanglingEdges: cfg.PruneDanglingEdges,
		MaxMessageSize:     int64(cfg.MaxMessageSize),
		SendBufferSize:     cfg.SendBufferSize,
		FrameRate:          cfg.FrameRate,
		FrameBurst:         cfg.FrameBurst,
	})
	if cfg.RestoreSnapshot {
		// A broken snapshot is logged by the hub and never fatal
		_, _ = hub.LoadSnapshot()
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	sink.SetRelay(hub.RelayLog)
	defer sink.SetRelay(nil)

	// HTTP
	wsLimiter := middleware.NewIPRateLimiter(cfg.RateLimitWS, max(1, int(cfg.RateLimitWS)*2))
	go wsLimiter.Run(hubCtx)

	handler := httpHandler.NewHandler(hub, cfg.AllowedOrigins, sink.Logger)
	mux := handler.Routes(wsLimiter, metricsHandler)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      middleware.Recover(sink)(middleware.SecurityHeaders(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     stdlog.New(errorLogWriter{log: sink.Component("http")}, "", 0),
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("snapshot", cfg.SnapshotBackend+":"+cfg.SnapshotPath).
			Bool("metrics", cfg.MetricsEnabled).
			Msgf("goat-space running at http://localhost:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case serveErr = <-errChan:
		log.Error().Err(serveErr).Msg("server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Closes every connection and writes the final snapshot
	stopHub()
	select {
	case <-hub.Done():
	case <-ctx.Done():
		log.Error().Msg("hub did not stop in time")
	}

	log.Info().Msg("server exited gracefully")
	return serveErr
}

// errorLogWriter routes standard library log output into zerolog
type errorLogWriter struct {
	log zerolog.Logger
}

func (w errorLogWriter) Write(p []byte) (int, error) {
	w.log.Warn().Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}
