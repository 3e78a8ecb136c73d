package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	BackendEcho      = "echo"
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
)

// Environment variables that override the config file
const (
	EnvModelName    = "MODEL_NAME_TAG"
	EnvSystemPrompt = "MODEL_SYSTEM_PROMPT"
	EnvDBPath       = "MODELCHAT_DB"
	EnvServerURL    = "MODELCHAT_SERVER_URL"
)

// Duration is a time.Duration that decodes from strings like "1.5s" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds application configuration
type Config struct {
	Backend string `toml:"backend"`
	Debug   bool   `toml:"debug"`

	// Active model served by the API until changed through set_model_config
	ModelName    string `toml:"model_name"`
	SystemPrompt string `toml:"system_prompt"`
	// ResumeModel starts the server with the model config saved last instead
	ResumeModel bool `toml:"resume_model"`

	// Server
	ListenAddr string `toml:"listen_addr"`
	DBPath     string `toml:"db_path"`

	// Client
	ServerURL      string   `toml:"server_url"`
	PrefsPath      string   `toml:"prefs_path"`
	RequestTimeout Duration `toml:"request_timeout"`

	LogDir string `toml:"log_dir"`

	// Provider settings; an empty model falls back to the session's model name
	OllamaURL      string `toml:"ollama_url"`
	OllamaModel    string `toml:"ollama_model"` // format "model:version" (e.g., "llama3:latest")
	AnthropicURL   string `toml:"anthropic_url"`
	AnthropicModel string `toml:"anthropic_model"`
	OpenAIURL      string `toml:"openai_url"`
	OpenAIModel    string `toml:"openai_model"`
	GrokURL        string `toml:"grok_url"`
	GrokModel      string `toml:"grok_model"`

	// Provider replies are reused for identical contexts for this long; 0 keeps them forever
	CacheTTL Duration `toml:"cache_ttl"`

	// Simulated responder delay window
	EchoMinDelay Duration `toml:"echo_min_delay"`
	EchoMaxDelay Duration `toml:"echo_max_delay"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Backend:        BackendEcho,
		ModelName:      "default",
		SystemPrompt:   "You are a helpful assistant.",
		ListenAddr:     "localhost:5000",
		DBPath:         "chatbot.db",
		ServerURL:      "http://localhost:5000",
		PrefsPath:      "prefs.yaml",
		RequestTimeout: Duration{120 * time.Second},
		LogDir:         "logs",
		OllamaURL:      "http://localhost:11434",
		OllamaModel:    "llama3:latest",
		AnthropicURL:   "https://api.anthropic.com",
		AnthropicModel: "claude-sonnet-4-20250514",
		OpenAIURL:      "https://api.openai.com",
		OpenAIModel:    "gpt-3.5-turbo",
		GrokURL:        "https://api.grok.x.ai",
		GrokModel:      "grok-1",
		CacheTTL:       Duration{10 * time.Minute},
		EchoMinDelay:   Duration{1 * time.Second},
		EchoMaxDelay:   Duration{3 * time.Second},
	}
}

// Load builds a Config from defaults, an optional TOML file and the environment.
// A missing file at path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvModelName)); v != "" {
		c.ModelName = v
	}
	if v := os.Getenv(EnvSystemPrompt); v != "" {
		c.SystemPrompt = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
}

// Validate checks the fields the server and client depend on
func (c Config) Validate() error {
	switch c.Backend {
	case BackendEcho, BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI:
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("model name is required")
	}
	if c.EchoMaxDelay.Duration < c.EchoMinDelay.Duration {
		return fmt.Errorf("echo_max_delay (%s) is shorter than echo_min_delay (%s)", c.EchoMaxDelay, c.EchoMinDelay)
	}
	return nil
}
