package controller

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ModelChat/internal/api"
	"ModelChat/internal/session"
)

// CreateSession creates a session for the current model and makes it active
func (c *Controller) CreateSession(ctx context.Context) error {
	c.mu.Lock()
	model := c.state.CurrentModel
	if model == "" {
		c.view.Notify(NoticeNoModel)
		c.mu.Unlock()
		return ErrNoModel
	}
	c.mu.Unlock()

	sess, err := c.api.CreateSession(ctx, model)
	if err != nil {
		c.logger.Error("failed to create session", "model", model, "error", err)
		return fmt.Errorf("failed to create session: %w", err)
	}
	c.logger.Info("session created", "session_id", sess.ID, "model", sess.Model)

	c.mu.Lock()
	c.state.CurrentSession = sess.ID
	c.state.SessionModel = sess.Model
	c.mu.Unlock()

	c.RefreshSessions(ctx)
	c.LoadHistory(ctx, sess.ID)
	c.updateSendEnabled()
	return nil
}

// RefreshSessions fetches every session and renders them grouped by model
func (c *Controller) RefreshSessions(ctx context.Context) error {
	sessions, err := c.api.ListSessions(ctx)
	if err != nil {
		c.logger.Error("failed to list sessions", "error", err)
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = sessions
	c.renderSessionsLocked()
	return nil
}

// RenameSession renames a session and refreshes the list
func (c *Controller) RenameSession(ctx context.Context, sessionID, name string) error {
	if err := c.api.RenameSession(ctx, sessionID, name); err != nil {
		c.logger.Error("failed to rename session", "session_id", sessionID, "error", err)
		return fmt.Errorf("failed to rename session: %w", err)
	}
	return c.RefreshSessions(ctx)
}

// DeleteSession deletes a session after confirmation. Deleting the active
// session clears the transcript and leaves no session active.
func (c *Controller) DeleteSession(ctx context.Context, sessionID string) error {
	if !c.confirm(ConfirmDeleteSession) {
		return ErrCancelled
	}

	if err := c.api.DeleteSession(ctx, sessionID); err != nil {
		c.logger.Error("failed to delete session", "session_id", sessionID, "error", err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	c.logger.Info("session deleted", "session_id", sessionID)

	c.mu.Lock()
	if c.state.CurrentSession == sessionID {
		c.state.CurrentSession = ""
		c.state.SessionModel = ""
		c.transcript = nil
		c.renderTranscriptLocked()
	}
	c.mu.Unlock()

	return c.RefreshSessions(ctx)
}

// SelectSession makes a session active and loads its history. Sending stays
// disabled when the session belongs to another model.
func (c *Controller) SelectSession(ctx context.Context, sessionID, model string) error {
	c.mu.Lock()
	c.state.CurrentSession = sessionID
	c.state.SessionModel = model
	c.renderSessionsLocked()
	c.mu.Unlock()

	c.updateSendEnabled()
	return c.LoadHistory(ctx, sessionID)
}

// ConfigMode selects what the model config overlay edits
type ConfigMode string

const (
	ModeNew  ConfigMode = "new"
	ModeEdit ConfigMode = "edit"
)

// OpenModelConfig returns the system prompt the overlay starts with: empty
// for a new model, the server's current prompt when editing
func (c *Controller) OpenModelConfig(ctx context.Context, mode ConfigMode) (string, error) {
	if mode == ModeNew {
		return "", nil
	}

	cfg, err := c.api.GetModelConfig(ctx)
	if err != nil {
		c.logger.Error("failed to fetch model config", "error", err)
		return "", fmt.Errorf("failed to fetch model config: %w", err)
	}

	c.mu.Lock()
	c.state.SystemPrompt = cfg.SystemPrompt
	c.mu.Unlock()
	return cfg.SystemPrompt, nil
}

// SaveModelConfig saves the overlay. In new mode the returned model becomes
// current and a session is created for it.
func (c *Controller) SaveModelConfig(ctx context.Context, mode ConfigMode, name, prompt string) error {
	req := api.SetModelConfigRequest{SystemPrompt: strings.TrimSpace(prompt)}
	if mode == ModeNew {
		req.ModelName = strings.TrimSpace(name)
		if req.ModelName == "" {
			c.mu.Lock()
			c.view.Notify(NoticeNeedModelName)
			c.mu.Unlock()
			return ErrNoModel
		}
	}

	model, err := c.api.SetModelConfig(ctx, req)
	if err != nil {
		c.logger.Error("failed to save model config", "mode", string(mode), "error", err)
		notice := NoticeUpdatePromptErr
		if mode == ModeNew {
			notice = NoticeCreateModelFail
		}
		c.mu.Lock()
		c.view.Notify(notice)
		c.mu.Unlock()
		return fmt.Errorf("failed to save model config: %w", err)
	}

	c.mu.Lock()
	c.state.SystemPrompt = req.SystemPrompt
	if mode == ModeNew {
		c.state.CurrentModel = model
	}
	c.mu.Unlock()
	c.updateSendEnabled()

	if mode == ModeNew {
		if err := c.CreateSession(ctx); err == nil {
			return nil
		}
	}
	return c.RefreshSessions(ctx)
}

// FindSession resolves a 1-based position in the session list or a session id
func (c *Controller) FindSession(ref string) (session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(c.sessions) {
		return c.sessions[n-1], true
	}
	for _, s := range c.sessions {
		if s.ID == ref {
			return s, true
		}
	}
	return session.Session{}, false
}
