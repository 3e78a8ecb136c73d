package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
)

// openAIRequest is the chat completions body shared by OpenAI and Grok
type openAIRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// callOpenAICompatible calls a /v1/chat/completions endpoint; name labels the
// span and errors
func (c *Client) callOpenAICompatible(ctx context.Context, name, baseURL, keyEnv, model string, turns []Turn) (string, error) {
	ctx, span := c.tracer.Start(ctx, name+"_api_call")
	defer span.End()

	start := time.Now()

	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return "", fmt.Errorf("%s not set", keyEnv)
	}

	body, err := c.post(ctx, strings.TrimRight(baseURL, "/")+"/v1/chat/completions", map[string]string{
		"Authorization": "Bearer " + apiKey,
	}, openAIRequest{
		Model:    model,
		Messages: toChatMessages(turns),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", err
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	c.recordDuration(ctx, start)
	c.recordUsage(ctx, map[string]int64{
		"prompt_tokens":     apiResp.Usage.PromptTokens,
		"completion_tokens": apiResp.Usage.CompletionTokens,
		"total_tokens":      apiResp.Usage.TotalTokens,
	})

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", name)
	}
	return apiResp.Choices[0].Message.Content, nil
}
