package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"ModelChat/internal/api"
	"ModelChat/internal/controller"
	"ModelChat/internal/prefs"
	"ModelChat/internal/telemetry"
	"ModelChat/internal/terminal"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal with a running server",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&serverURL, "server", "", "Server URL (default http://localhost:5000)")
	chatCmd.Flags().StringVar(&prefsPath, "prefs", "", "Preferences file")
	chatCmd.Flags().DurationVar(&requestTimeout, "timeout", 0, "Request timeout (default 2m)")
	chatCmd.Flags().BoolVar(&plainOutput, "plain", false, "Disable colors and markdown styling")
	chatCmd.Flags().IntVar(&termWidth, "width", 80, "Output width")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// stdout belongs to the conversation; logs only go to file
	logger, closeLog, err := telemetry.InitLogger(telemetry.LoggerOptions{
		Dir:      cfg.LogDir,
		FileName: "client.log",
		Debug:    cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	// Interrupts keep their default behaviour so a blocked read does not
	// swallow Ctrl+C; /quit is the orderly exit
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	tracer, _, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "modelchat-client")
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	client := api.NewClient(cfg.ServerURL,
		api.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout.Duration}),
		api.WithLogger(logger),
		api.WithTracer(tracer),
	)

	p, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		return err
	}

	term := terminal.New(terminal.Options{
		In:     os.Stdin,
		Out:    os.Stdout,
		Logger: logger,
		Width:  termWidth,
		Plain:  plainOutput,
	})
	ctrl := controller.New(controller.Options{
		API:        client,
		View:       term,
		Prefs:      p,
		Confirm:    term.Confirm,
		SystemDark: term.SystemDark,
		Logger:     logger,
	})
	term.Attach(ctrl)

	if err := ctrl.Init(ctx); err != nil {
		return fmt.Errorf("failed to start chat with %s: %w", cfg.ServerURL, err)
	}

	// Live updates are optional; the client works without them
	if sub, err := client.Subscribe(ctx); err != nil {
		logger.Warn("live updates unavailable", "error", err)
	} else {
		defer sub.Close()
		go ctrl.Watch(ctx, sub.Events())
	}

	return term.Run(ctx)
}
