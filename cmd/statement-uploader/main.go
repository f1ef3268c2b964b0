package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/AshtonFabby/bank-statement-parser/internal/config"
	"github.com/AshtonFabby/bank-statement-parser/internal/delivery"
	"github.com/AshtonFabby/bank-statement-parser/internal/http/rest"
	"github.com/AshtonFabby/bank-statement-parser/internal/intake"
	"github.com/AshtonFabby/bank-statement-parser/internal/logctx"
	"github.com/AshtonFabby/bank-statement-parser/internal/session"
	"github.com/AshtonFabby/bank-statement-parser/internal/staging"
	"github.com/AshtonFabby/bank-statement-parser/internal/telemetry"
	"github.com/AshtonFabby/bank-statement-parser/internal/transfer"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("statement uploader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Session
	store := staging.NewStore()
	acquirer := intake.NewAcquirer(store, cfg.MaxSniffParallel)

	parser := transfer.NewInstrumentedClient(
		transfer.NewClient(cfg.ParserBaseURL, cfg.ParsePath, cfg.RequestTimeout),
		tel,
	)

	archiver := delivery.NewArchiveWriter(cfg.DownloadDir, tel)

	sess := session.New(store, acquirer, parser, archiver, tel)
	sess.OnProgress = func(stage session.Stage, percent int) {
		logger.Debug("upload progress", "stage", string(stage), "percent", percent)
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, sess, tel, cfg)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for submissions...",
		"parser_base_url", cfg.ParserBaseURL,
		"download_dir", cfg.DownloadDir,
		"request_timeout", cfg.RequestTimeout.String(),
	)

	// =========================================================================
	// Start Main Loop
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, sess *session.Session, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewSessionHandler(sess, cfg.StagingDir, tel)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	r.Handle("/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
