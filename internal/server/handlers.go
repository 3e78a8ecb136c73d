package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ModelChat/internal/api"
	"ModelChat/internal/backend"
	"ModelChat/internal/events"
	"ModelChat/internal/session"
	"ModelChat/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	errInvalidSession = "Invalid session"
	errInvalidModel   = "Invalid model"
	errInvalidMessage = "Invalid message"
	errEmptyMessage   = "Empty message"
	errEmptyName      = "Session name cannot be empty"
	errInternal       = "Internal server error"
)

func (s *Server) handleGetModelConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Model())
}

func (s *Server) handleSetModelConfig(w http.ResponseWriter, r *http.Request) {
	var req api.SetModelConfigRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg := s.Model()
	if name := strings.TrimSpace(req.ModelName); name != "" {
		cfg.ModelName = name
	}
	cfg.SystemPrompt = strings.TrimSpace(req.SystemPrompt)

	if err := s.store.SaveModelConfig(r.Context(), cfg, s.now()); err != nil {
		s.internalError(w, "failed to save model config", err)
		return
	}
	previous := s.Model()
	s.setModel(cfg)

	s.logger.Info("model config updated", "model", cfg.ModelName, "previous", previous.ModelName)
	s.publish(events.ModelChanged, "")
	if previous.ModelName != cfg.ModelName {
		s.publish(events.SessionsChanged, "")
	}
	writeJSON(w, http.StatusOK, api.SetModelConfigResponse{Success: true, ModelName: cfg.ModelName})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Model == "" || req.Model != s.Model().ModelName {
		writeError(w, http.StatusBadRequest, errInvalidModel)
		return
	}

	sess, err := s.store.CreateSession(r.Context(), req.Model, s.now())
	if err != nil {
		s.internalError(w, "failed to create session", err)
		return
	}
	s.logger.Info("session created", "session_id", sess.ID, "model", sess.Model)
	s.publish(events.SessionsChanged, sess.ID)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.internalError(w, "failed to list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleLatestSession(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	active := s.Model().ModelName
	if model == "" {
		model = active
	}
	if model != active {
		writeError(w, http.StatusBadRequest, errInvalidModel)
		return
	}

	sess, err := s.store.LatestSession(r.Context(), model)
	if errors.Is(err, store.ErrNotFound) {
		sess, err = s.store.CreateSession(r.Context(), model, s.now())
		if err == nil {
			s.publish(events.SessionsChanged, sess.ID)
		}
	}
	if err != nil {
		s.internalError(w, "failed to load latest session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req api.EditSessionNameRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name := strings.TrimSpace(req.NewName)
	if name == "" {
		writeError(w, http.StatusBadRequest, errEmptyName)
		return
	}

	err := s.store.RenameSession(r.Context(), req.SessionID, name)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errInvalidSession)
		return
	}
	if err != nil {
		s.internalError(w, "failed to rename session", err)
		return
	}
	s.publish(events.SessionsChanged, req.SessionID)
	writeJSON(w, http.StatusOK, api.EditSessionNameResponse{Success: true, NewName: name})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteSessionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := s.store.DeleteSession(r.Context(), req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errInvalidSession)
		return
	}
	if err != nil {
		s.internalError(w, "failed to delete session", err)
		return
	}
	s.logger.Info("session deleted", "session_id", req.SessionID)
	s.publish(events.SessionsChanged, req.SessionID)
	writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusOK, []session.Message{})
		return
	}
	msgs, err := s.store.History(r.Context(), sessionID)
	if err != nil {
		s.internalError(w, "failed to load history", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req api.SendMessageRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errEmptyMessage)
		return
	}

	ctx := r.Context()
	active := s.Model()
	sess, ok := s.activeSession(w, ctx, req.SessionID, active)
	if !ok {
		return
	}

	now := s.now()
	if err := s.store.TouchSession(ctx, sess.ID, now); err != nil {
		s.internalError(w, "failed to update session", err)
		return
	}
	userMsg, err := s.store.AddMessage(ctx, sess.ID, session.SenderUser, req.Message, now)
	if err != nil {
		s.internalError(w, "failed to save message", err)
		return
	}

	reply, err := s.reply(ctx, sess, active)
	if err != nil {
		// Roll back so history never ends with an unanswered message
		if _, rbErr := s.store.TruncateFrom(context.WithoutCancel(ctx), sess.ID, userMsg.ID); rbErr != nil {
			s.logger.Error("failed to roll back user message", "session_id", sess.ID, "error", rbErr)
		}
		s.logger.Error("failed to generate response", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusBadGateway, "Failed to generate response: "+err.Error())
		return
	}

	s.publish(events.MessagesChanged, sess.ID)
	s.publish(events.SessionsChanged, sess.ID)
	writeJSON(w, http.StatusOK, api.SendMessageResponse{
		UserMsgID:     userMsg.ID,
		ModelMsgID:    reply.ID,
		ModelResponse: reply.Content,
		Timestamp:     reply.Timestamp,
		UserTimestamp: userMsg.Timestamp,
	})
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req api.EditMessageRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	content := strings.TrimSpace(req.NewContent)
	if content == "" {
		writeError(w, http.StatusBadRequest, errEmptyMessage)
		return
	}

	ctx := r.Context()
	active := s.Model()
	sess, ok := s.activeSession(w, ctx, req.SessionID, active)
	if !ok {
		return
	}
	msg, ok := s.sessionMessage(w, ctx, sess.ID, req.MessageID)
	if !ok {
		return
	}
	if msg.Sender != session.SenderUser {
		writeError(w, http.StatusBadRequest, errInvalidMessage)
		return
	}

	if _, err := s.store.TruncateFrom(ctx, sess.ID, msg.ID); err != nil {
		s.internalError(w, "failed to truncate history", err)
		return
	}
	now := s.now()
	if err := s.store.TouchSession(ctx, sess.ID, now); err != nil {
		s.internalError(w, "failed to update session", err)
		return
	}
	userMsg, err := s.store.AddMessage(ctx, sess.ID, session.SenderUser, content, now)
	if err != nil {
		s.internalError(w, "failed to save message", err)
		return
	}
	s.publish(events.MessagesChanged, sess.ID)

	// The edited message stays when generation fails; the client reloads
	// history either way.
	reply, err := s.reply(ctx, sess, active)
	if err != nil {
		s.logger.Error("failed to regenerate response", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusBadGateway, "Failed to generate response: "+err.Error())
		return
	}

	s.publish(events.MessagesChanged, sess.ID)
	writeJSON(w, http.StatusOK, api.EditMessageResponse{
		Success:       true,
		UserMsgID:     userMsg.ID,
		ModelMsgID:    reply.ID,
		ModelResponse: reply.Content,
		Timestamp:     reply.Timestamp,
	})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteMessageRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	msg, ok := s.sessionMessage(w, ctx, req.SessionID, req.MessageID)
	if !ok {
		return
	}
	n, err := s.store.TruncateFrom(ctx, req.SessionID, msg.ID)
	if err != nil {
		s.internalError(w, "failed to delete message", err)
		return
	}
	s.logger.Info("messages deleted", "session_id", req.SessionID, "from_id", msg.ID, "count", n)
	s.publish(events.MessagesChanged, req.SessionID)
	writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"model": s.Model().ModelName,
		"time":  s.now().UTC().Format(time.RFC3339),
	})
}

// activeSession loads sessionID and checks it belongs to the active model,
// writing the error response when it does not
func (s *Server) activeSession(w http.ResponseWriter, ctx context.Context, sessionID string, active session.ModelConfig) (session.Session, bool) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sess.Model != active.ModelName) {
		writeError(w, http.StatusBadRequest, errInvalidSession)
		return session.Session{}, false
	}
	if err != nil {
		s.internalError(w, "failed to load session", err)
		return session.Session{}, false
	}
	return sess, true
}

// sessionMessage loads messageID and checks it belongs to sessionID
func (s *Server) sessionMessage(w http.ResponseWriter, ctx context.Context, sessionID string, messageID int64) (session.Message, bool) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && msg.SessionID != sessionID) {
		writeError(w, http.StatusBadRequest, errInvalidMessage)
		return session.Message{}, false
	}
	if err != nil {
		s.internalError(w, "failed to load message", err)
		return session.Message{}, false
	}
	return msg, true
}

// reply asks the responder to continue sess and stores the answer
func (s *Server) reply(ctx context.Context, sess session.Session, active session.ModelConfig) (session.Message, error) {
	ctx, span := s.tracer.Start(ctx, "generate_reply")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("model", sess.Model),
	)

	history, err := s.store.History(ctx, sess.ID)
	if err != nil {
		return session.Message{}, err
	}

	// The system turn leads the context even when the prompt is empty
	turns := make([]backend.Turn, 0, len(history)+1)
	turns = append(turns, backend.Turn{Role: backend.RoleSystem, Content: active.SystemPrompt})
	for _, m := range history {
		role := backend.RoleUser
		if m.Sender == session.SenderAssistant {
			role = backend.RoleAssistant
		}
		turns = append(turns, backend.Turn{Role: role, Content: m.Content})
	}

	start := time.Now()
	content, err := s.responder.Respond(ctx, sess.Model, turns)
	s.replyDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("model", sess.Model)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return session.Message{}, err
	}
	s.messageCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("model", sess.Model)))

	return s.store.AddMessage(ctx, sess.ID, session.SenderAssistant, content, s.now())
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, errInternal)
}
