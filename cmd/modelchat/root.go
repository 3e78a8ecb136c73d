package main

import (
	"fmt"
	"time"

	"ModelChat/internal/config"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	debugMode   bool
	logDir      string
	backendName string
	modelName   string
)

var rootCmd = &cobra.Command{
	Use:   "modelchat",
	Short: "Chat with language models through a session-keeping server",
	Long: `ModelChat keeps chat sessions grouped by model in SQLite and serves them
over a small JSON API. Run "modelchat serve" for the server and
"modelchat chat" for the terminal client.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "modelchat.toml", "Path to the TOML config file (optional)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for log, trace and metric files")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "LLM backend (echo|ollama|anthropic|grok|openai)")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "Active model name")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
}

// loadConfig reads the config file and environment, then applies the flags
// that were set explicitly
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = debugMode
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = logDir
	}
	if flags.Changed("backend") {
		cfg.Backend = backendName
	}
	if flags.Changed("model") {
		cfg.ModelName = modelName
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("resume-model") {
		cfg.ResumeModel = resumeModel
	}
	if flags.Changed("server") {
		cfg.ServerURL = serverURL
	}
	if flags.Changed("prefs") {
		cfg.PrefsPath = prefsPath
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = config.Duration{Duration: requestTimeout}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Client and server flags; registered on their subcommands
var (
	listenAddr     string
	dbPath         string
	resumeModel    bool
	serverURL      string
	prefsPath      string
	requestTimeout time.Duration
	plainOutput    bool
	termWidth      int
)
