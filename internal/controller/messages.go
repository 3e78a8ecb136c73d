package controller

import (
	"context"
	"fmt"
	"strings"

	"ModelChat/internal/session"
)

// LoadHistory replaces the transcript with the session's stored messages.
// The result is dropped when another session became active meanwhile.
func (c *Controller) LoadHistory(ctx context.Context, sessionID string) error {
	msgs, err := c.api.History(ctx, sessionID)
	if err != nil {
		c.logger.Error("failed to load history", "session_id", sessionID, "error", err)
		return fmt.Errorf("failed to load history: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.CurrentSession != sessionID {
		c.logger.Debug("dropping history of inactive session", "session_id", sessionID)
		return nil
	}

	transcript := make([]Entry, 0, len(msgs)+2)
	for _, m := range msgs {
		transcript = append(transcript, Entry{
			ID:        m.ID,
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			State:     EntryConfirmed,
		})
	}
	if c.state.Waiting {
		transcript = c.keepPlaceholdersLocked(transcript)
	}
	c.transcript = transcript
	c.renderTranscriptLocked()
	return nil
}

// SendMessage sends input to the active session. Only one send may be in
// flight; a second call returns ErrSendInFlight without touching the network.
// Empty input is ignored.
func (c *Controller) SendMessage(ctx context.Context, input string) error {
	text := strings.TrimSpace(input)

	c.mu.Lock()
	switch {
	case c.state.Waiting:
		c.mu.Unlock()
		return ErrSendInFlight
	case text == "":
		c.mu.Unlock()
		return nil
	case c.state.CurrentSession == "":
		c.mu.Unlock()
		return ErrNoSession
	case !c.state.SendEnabled:
		c.mu.Unlock()
		return ErrSendDisabled
	}

	sessionID := c.state.CurrentSession
	c.state.Waiting = true
	userKey := c.placeholderKeyLocked()
	loadingKey := c.placeholderKeyLocked()
	c.transcript = append(c.transcript,
		Entry{ID: userKey, Sender: session.SenderUser, Content: text, Timestamp: c.now(), State: EntryPending},
		Entry{ID: loadingKey, Sender: session.SenderAssistant, State: EntryLoading},
	)
	c.renderTranscriptLocked()
	c.view.SetInputEnabled(false)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state.Waiting = false
		c.view.SetInputEnabled(true)
		c.mu.Unlock()
	}()

	resp, err := c.api.SendMessage(ctx, sessionID, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.CurrentSession != sessionID {
		c.logger.Debug("session changed while sending", "session_id", sessionID)
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		return nil
	}

	if err != nil {
		c.logger.Error("failed to send message", "session_id", sessionID, "error", err)
		if i := c.indexLocked(loadingKey); i >= 0 {
			c.transcript[i].State = EntryError
			c.transcript[i].Content = FailedResponseText
			c.transcript[i].Timestamp = c.now()
		}
		c.renderTranscriptLocked()
		return fmt.Errorf("failed to send message: %w", err)
	}

	// A reload during the request may already show the stored messages
	for _, id := range []int64{userKey, loadingKey, resp.UserMsgID, resp.ModelMsgID} {
		c.removeLocked(id)
	}

	userAt := resp.UserTimestamp
	if userAt.IsZero() {
		userAt = c.now()
	}
	c.transcript = append(c.transcript,
		Entry{ID: resp.UserMsgID, Sender: session.SenderUser, Content: text, Timestamp: userAt, State: EntryConfirmed},
		Entry{ID: resp.ModelMsgID, Sender: session.SenderAssistant, Content: resp.ModelResponse, Timestamp: resp.Timestamp, State: EntryConfirmed, Animate: true},
	)
	c.renderTranscriptLocked()
	return nil
}

// BeginEdit switches a user message into editing and returns its content
func (c *Controller) BeginEdit(messageID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(messageID)
	switch {
	case i < 0 || c.transcript[i].Sender != session.SenderUser || c.transcript[i].Placeholder():
		return "", ErrNotEditable
	case c.state.Waiting:
		return "", ErrSendInFlight
	case !c.state.SendEnabled:
		return "", ErrSendDisabled
	}
	c.transcript[i].State = EntryEditing
	c.renderTranscriptLocked()
	return c.transcript[i].Content, nil
}

// CancelEdit returns an editing message to its confirmed state
func (c *Controller) CancelEdit(messageID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexLocked(messageID); i >= 0 && c.transcript[i].State == EntryEditing {
		c.transcript[i].State = EntryConfirmed
		c.renderTranscriptLocked()
	}
}

// SaveEdit replaces a user message. The server drops every later message and
// answers again; the transcript is reloaded afterwards.
func (c *Controller) SaveEdit(ctx context.Context, messageID int64, content string) error {
	content = strings.TrimSpace(content)

	c.mu.Lock()
	sessionID := c.state.CurrentSession
	i := c.indexLocked(messageID)
	var err error
	switch {
	case sessionID == "":
		err = ErrNoSession
	case c.state.Waiting:
		err = ErrSendInFlight
	case !c.state.SendEnabled:
		err = ErrSendDisabled
	case i < 0 || c.transcript[i].Sender != session.SenderUser || c.transcript[i].Placeholder():
		err = ErrNotEditable
	}
	c.mu.Unlock()
	if err != nil {
		c.CancelEdit(messageID)
		return err
	}
	if content == "" {
		c.CancelEdit(messageID)
		return nil
	}

	if _, err := c.api.EditMessage(ctx, sessionID, messageID, content); err != nil {
		c.logger.Error("failed to edit message", "session_id", sessionID, "message_id", messageID, "error", err)
		c.CancelEdit(messageID)
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return c.LoadHistory(ctx, sessionID)
}

// DeleteMessage deletes a message and everything after it, after confirmation
func (c *Controller) DeleteMessage(ctx context.Context, messageID int64) error {
	c.mu.Lock()
	sessionID, waiting := c.state.CurrentSession, c.state.Waiting
	c.mu.Unlock()
	switch {
	case sessionID == "":
		return ErrNoSession
	case waiting:
		return ErrSendInFlight
	}

	if !c.confirm(ConfirmDeleteMessage) {
		return ErrCancelled
	}

	if err := c.api.DeleteMessage(ctx, sessionID, messageID); err != nil {
		c.logger.Error("failed to delete message", "session_id", sessionID, "message_id", messageID, "error", err)
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return c.LoadHistory(ctx, sessionID)
}

// keepPlaceholdersLocked carries the in-flight placeholders over into a
// reloaded transcript. The pending user entry is dropped once the server has
// stored that message.
func (c *Controller) keepPlaceholdersLocked(transcript []Entry) []Entry {
	var lastUser string
	if n := len(transcript); n > 0 && transcript[n-1].Sender == session.SenderUser {
		lastUser = transcript[n-1].Content
	}
	for _, e := range c.transcript {
		if !e.Placeholder() {
			continue
		}
		if e.State == EntryPending && e.Content == lastUser {
			continue
		}
		transcript = append(transcript, e)
	}
	return transcript
}

func (c *Controller) removeLocked(id int64) {
	if i := c.indexLocked(id); i >= 0 {
		c.transcript = append(c.transcript[:i], c.transcript[i+1:]...)
	}
}
