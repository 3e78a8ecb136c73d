package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ModelChat/internal/events"
	"ModelChat/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// APIError is an application-level failure reported by the server in an
// {"error": ...} body. Transport failures are returned as ordinary errors.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
}

// Client calls the chat API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTracer sets the tracer used for client spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     slog.Default(),
		tracer:     otel.Tracer("modelchat/api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetModelConfig fetches the active model config
func (c *Client) GetModelConfig(ctx context.Context) (session.ModelConfig, error) {
	var cfg session.ModelConfig
	err := c.do(ctx, http.MethodGet, PathGetModelConfig, nil, nil, &cfg)
	return cfg, err
}

// SetModelConfig updates the system prompt and, when req.ModelName is set,
// switches the active model. It returns the active model name.
func (c *Client) SetModelConfig(ctx context.Context, req SetModelConfigRequest) (string, error) {
	var resp SetModelConfigResponse
	if err := c.do(ctx, http.MethodPost, PathSetModelConfig, nil, req, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", &APIError{Status: http.StatusOK, Message: "model config was not saved"}
	}
	return resp.ModelName, nil
}

// CreateSession creates a session for model
func (c *Client) CreateSession(ctx context.Context, model string) (session.Session, error) {
	var sess session.Session
	err := c.do(ctx, http.MethodPost, PathCreateChatSession, nil, CreateSessionRequest{Model: model}, &sess)
	return sess, err
}

// ListSessions returns all sessions in server order
func (c *Client) ListSessions(ctx context.Context) ([]session.Session, error) {
	var sessions []session.Session
	err := c.do(ctx, http.MethodGet, PathGetAllSessions, nil, nil, &sessions)
	return sessions, err
}

// LatestSession returns the most recently used session of model, which the
// server creates when none exists
func (c *Client) LatestSession(ctx context.Context, model string) (session.Session, error) {
	var sess session.Session
	err := c.do(ctx, http.MethodGet, PathGetLatestSession, url.Values{"model": {model}}, nil, &sess)
	return sess, err
}

// RenameSession renames a session
func (c *Client) RenameSession(ctx context.Context, sessionID, name string) error {
	var resp EditSessionNameResponse
	return c.do(ctx, http.MethodPost, PathEditSessionName, nil, EditSessionNameRequest{SessionID: sessionID, NewName: name}, &resp)
}

// DeleteSession deletes a session and its messages
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	var resp SuccessResponse
	return c.do(ctx, http.MethodPost, PathDeleteSession, nil, DeleteSessionRequest{SessionID: sessionID}, &resp)
}

// History returns the messages of a session in order
func (c *Client) History(ctx context.Context, sessionID string) ([]session.Message, error) {
	var msgs []session.Message
	err := c.do(ctx, http.MethodGet, PathGetChatHistory, url.Values{"session_id": {sessionID}}, nil, &msgs)
	return msgs, err
}

// SendMessage posts a user message and returns the stored exchange
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (SendMessageResponse, error) {
	var resp SendMessageResponse
	err := c.do(ctx, http.MethodPost, PathSendMessage, nil, SendMessageRequest{Message: message, SessionID: sessionID}, &resp)
	return resp, err
}

// EditMessage replaces a user message; the server drops every later message
// and generates a new reply
func (c *Client) EditMessage(ctx context.Context, sessionID string, messageID int64, content string) (EditMessageResponse, error) {
	var resp EditMessageResponse
	err := c.do(ctx, http.MethodPost, PathEditMessage, nil, EditMessageRequest{
		SessionID:  sessionID,
		MessageID:  messageID,
		NewContent: content,
	}, &resp)
	return resp, err
}

// DeleteMessage deletes a message and every later message of the session
func (c *Client) DeleteMessage(ctx context.Context, sessionID string, messageID int64) error {
	var resp SuccessResponse
	return c.do(ctx, http.MethodPost, PathDeleteMessage, nil, DeleteMessageRequest{SessionID: sessionID, MessageID: messageID}, &resp)
}

// Subscribe opens the server's event stream
func (c *Client) Subscribe(ctx context.Context) (*events.Subscription, error) {
	u, err := url.Parse(c.baseURL + PathEvents)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return events.Dial(ctx, u.String(), c.logger)
}

// do performs one call. The body is decoded regardless of status so that an
// {"error": ...} reply becomes an *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, reqBody, out any) error {
	ctx, span := c.tracer.Start(ctx, "api"+strings.ReplaceAll(path, "/", "."),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method)))
	defer span.End()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	var apiErr ErrorResponse
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		span.SetStatus(codes.Error, apiErr.Error)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		span.SetStatus(codes.Error, msg)
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}
