package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ModelChat/internal/config"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Roles used in a conversation context
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the context sent to a model
type Turn struct {
	Role    string
	Content string
}

// Responder produces the assistant reply for a conversation context
type Responder interface {
	Respond(ctx context.Context, model string, turns []Turn) (string, error)
}

// New returns the responder selected by cfg.Backend
func New(cfg config.Config, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (Responder, error) {
	switch cfg.Backend {
	case config.BackendEcho:
		return NewEcho(cfg.EchoMinDelay.Duration, cfg.EchoMaxDelay.Duration), nil
	case config.BackendOllama, config.BackendAnthropic, config.BackendGrok, config.BackendOpenAI:
		return &Client{
			backend:    cfg.Backend,
			cfg:        cfg,
			logger:     logger,
			tracer:     tracer,
			meter:      meter,
			httpClient: &http.Client{Timeout: 60 * time.Second},
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

// Client calls a hosted LLM provider over HTTP
type Client struct {
	backend    string
	cfg        config.Config
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	httpClient *http.Client
}

// Respond sends the turns to the configured provider
func (c *Client) Respond(ctx context.Context, model string, turns []Turn) (string, error) {
	switch c.backend {
	case config.BackendOllama:
		return c.callOllama(ctx, pick(c.cfg.OllamaModel, model), turns)
	case config.BackendAnthropic:
		return c.callAnthropic(ctx, pick(c.cfg.AnthropicModel, model), turns)
	case config.BackendGrok:
		return c.callOpenAICompatible(ctx, "grok", c.cfg.GrokURL, "GROK_API_KEY", pick(c.cfg.GrokModel, model), turns)
	case config.BackendOpenAI:
		return c.callOpenAICompatible(ctx, "openai", c.cfg.OpenAIURL, "OPENAI_API_KEY", pick(c.cfg.OpenAIModel, model), turns)
	default:
		return "", fmt.Errorf("unknown backend: %s", c.backend)
	}
}

func pick(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// recordUsage adds provider token counts to llm.usage.* counters
func (c *Client) recordUsage(ctx context.Context, usage map[string]int64) {
	for key, value := range usage {
		if value <= 0 {
			continue
		}
		counter, err := c.meter.Int64Counter(
			"llm.usage."+key,
			metric.WithDescription("LLM usage metric: "+key),
		)
		if err != nil {
			c.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, value, metric.WithAttributes(attribute.String("backend", c.backend)))
	}
}

func (c *Client) recordDuration(ctx context.Context, start time.Time) {
	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("backend", c.backend)))
	}
}

// post sends a JSON body and returns the raw response body of a 200 reply
func (c *Client) post(ctx context.Context, url string, headers map[string]string, reqBody any) ([]byte, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}
	return body, nil
}

func joinSystem(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n\n" + next
}

func toChatMessages(turns []Turn) []chatMessage {
	msgs := make([]chatMessage, len(turns))
	for i, turn := range turns {
		msgs[i] = chatMessage{Role: turn.Role, Content: turn.Content}
	}
	return msgs
}

// chatMessage is the role/content pair every provider accepts
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
