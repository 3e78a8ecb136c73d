// Package server exposes the chat store and responder over the /api/* HTTP
// contract consumed by the terminal client.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ModelChat/internal/api"
	"ModelChat/internal/backend"
	"ModelChat/internal/events"
	"ModelChat/internal/session"
	"ModelChat/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Options holds the collaborators of a Server
type Options struct {
	Store     *store.Store
	Responder backend.Responder
	Hub       *events.Hub
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Meter     metric.Meter

	// Model is the configured model. When ResumeModel is set and a model
	// config was saved earlier, the saved one is used instead.
	Model       session.ModelConfig
	ResumeModel bool

	Now func() time.Time
}

// Server implements the chat API
type Server struct {
	store     *store.Store
	responder backend.Responder
	hub       *events.Hub
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	requestCounter metric.Int64Counter
	messageCounter metric.Int64Counter
	replyDuration  metric.Float64Histogram

	mu    sync.RWMutex
	model session.ModelConfig
}

// New creates a server and settles the active model config
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Store == nil || opts.Responder == nil {
		return nil, errors.New("server needs a store and a responder")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("modelchat/server")
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("modelchat/server")
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		store:     opts.Store,
		responder: opts.Responder,
		hub:       opts.Hub,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		now:       opts.Now,
		model:     opts.Model,
	}

	if opts.ResumeModel {
		saved, err := opts.Store.LatestModelConfig(ctx)
		switch {
		case err == nil:
			s.model = saved
			s.logger.Info("resumed saved model config", "model", saved.ModelName)
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, err
		}
	}

	var err error
	s.requestCounter, err = opts.Meter.Int64Counter(
		"chat.api.requests",
		metric.WithDescription("API requests by route and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	s.messageCounter, err = opts.Meter.Int64Counter(
		"chat.messages.sent",
		metric.WithDescription("User messages answered by the responder"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message counter: %w", err)
	}
	s.replyDuration, err = opts.Meter.Float64Histogram(
		"chat.reply.duration",
		metric.WithDescription("Time spent generating a reply"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reply histogram: %w", err)
	}

	return s, nil
}

// Model returns the active model config
func (s *Server) Model() session.ModelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *Server) setModel(cfg session.ModelConfig) {
	s.mu.Lock()
	s.model = cfg
	s.mu.Unlock()
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET "+api.PathGetModelConfig, s.handleGetModelConfig)
	s.route(mux, "POST "+api.PathSetModelConfig, s.handleSetModelConfig)
	s.route(mux, "POST "+api.PathCreateChatSession, s.handleCreateSession)
	s.route(mux, "GET "+api.PathGetAllSessions, s.handleListSessions)
	s.route(mux, "GET "+api.PathGetLatestSession, s.handleLatestSession)
	s.route(mux, "POST "+api.PathEditSessionName, s.handleRenameSession)
	s.route(mux, "POST "+api.PathDeleteSession, s.handleDeleteSession)
	s.route(mux, "GET "+api.PathGetChatHistory, s.handleHistory)
	s.route(mux, "POST "+api.PathSendMessage, s.handleSendMessage)
	s.route(mux, "POST "+api.PathEditMessage, s.handleEditMessage)
	s.route(mux, "POST "+api.PathDeleteMessage, s.handleDeleteMessage)
	s.route(mux, "GET /health", s.handleHealth)

	// The websocket needs the raw ResponseWriter for hijacking
	mux.Handle("GET "+api.PathEvents, s.hub)

	return mux
}

// route registers h behind a server span and the request counter
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, pattern,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
			))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		s.requestCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("route", r.URL.Path),
			attribute.Int("status", rec.status),
		))
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) publish(eventType, sessionID string) {
	s.hub.Publish(events.Event{Type: eventType, SessionID: sessionID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

func decodeJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}
