package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ModelChat/internal/backend"
	"ModelChat/internal/cache"
	"ModelChat/internal/config"
	"ModelChat/internal/events"
	"ModelChat/internal/server"
	"ModelChat/internal/session"
	"ModelChat/internal/store"
	"ModelChat/internal/telemetry"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (default localhost:5000)")
	serveCmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	serveCmd.Flags().BoolVar(&resumeModel, "resume-model", false, "Start with the model config saved last")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := telemetry.InitLogger(telemetry.LoggerOptions{
		Dir:      cfg.LogDir,
		FileName: "server.log",
		Debug:    cfg.Debug,
		Stdout:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "modelchat-server")
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	responder, err := backend.New(cfg, logger, tracer, meter)
	if err != nil {
		return err
	}
	if cfg.Backend != config.BackendEcho {
		responder = cache.Wrap(responder, cfg.CacheTTL.Duration, logger)
	}

	hub := events.NewHub(logger)
	defer hub.Close()

	srv, err := server.New(ctx, server.Options{
		Store:       st,
		Responder:   responder,
		Hub:         hub,
		Logger:      logger,
		Tracer:      tracer,
		Meter:       meter,
		Model:       session.ModelConfig{ModelName: cfg.ModelName, SystemPrompt: cfg.SystemPrompt},
		ResumeModel: cfg.ResumeModel,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.ListenAddr,
			"backend", cfg.Backend,
			"model", srv.Model().ModelName,
			"db", cfg.DBPath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
