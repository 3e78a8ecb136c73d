package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
)

// ollamaRequest is the body of POST /api/chat with streaming off
type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int64       `json:"prompt_eval_count"`
	EvalCount       int64       `json:"eval_count"`
}

func (c *Client) callOllama(ctx context.Context, model string, turns []Turn) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ollama_api_call")
	defer span.End()

	start := time.Now()

	body, err := c.post(ctx, strings.TrimRight(c.cfg.OllamaURL, "/")+"/api/chat", nil, ollamaRequest{
		Model:    model,
		Messages: toChatMessages(turns),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", err
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	c.recordDuration(ctx, start)
	c.recordUsage(ctx, map[string]int64{
		"prompt_tokens":     apiResp.PromptEvalCount,
		"completion_tokens": apiResp.EvalCount,
	})

	if apiResp.Message.Content == "" {
		return "", fmt.Errorf("empty response from Ollama")
	}
	return apiResp.Message.Content, nil
}
