// Package controller holds the chat UI state machine: the active session and
// model, the transcript with its placeholders, the guarded send and the theme.
// A View renders what the controller decides; an API carries the calls.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ModelChat/internal/api"
	"ModelChat/internal/events"
	"ModelChat/internal/prefs"
	"ModelChat/internal/session"
)

var (
	ErrSendInFlight = errors.New("a message is already being sent")
	ErrNoSession    = errors.New("no active session")
	ErrNoModel      = errors.New("no model name set")
	ErrSendDisabled = errors.New("the active session belongs to another model")
	ErrCancelled    = errors.New("cancelled")
	ErrNotEditable  = errors.New("only user messages can be edited")
)

// User-facing notices
const (
	NoticeNoModel         = "No model name set. Please add a model first."
	NoticeNeedModelName   = "Please enter a model name"
	NoticeCreateModelFail = "Failed to create new model"
	NoticeUpdatePromptErr = "Failed to update system prompt"
	FailedResponseText    = "Failed to load assistant's response. Please try again."

	ConfirmDeleteSession = "Are you sure you want to delete this session and all its messages?"
	ConfirmDeleteMessage = "Are you sure you want to delete this message and all subsequent messages?"
)

// API is the subset of the chat API the controller uses
type API interface {
	GetModelConfig(ctx context.Context) (session.ModelConfig, error)
	SetModelConfig(ctx context.Context, req api.SetModelConfigRequest) (string, error)
	CreateSession(ctx context.Context, model string) (session.Session, error)
	ListSessions(ctx context.Context) ([]session.Session, error)
	LatestSession(ctx context.Context, model string) (session.Session, error)
	RenameSession(ctx context.Context, sessionID, name string) error
	DeleteSession(ctx context.Context, sessionID string) error
	History(ctx context.Context, sessionID string) ([]session.Message, error)
	SendMessage(ctx context.Context, sessionID, message string) (api.SendMessageResponse, error)
	EditMessage(ctx context.Context, sessionID string, messageID int64, content string) (api.EditMessageResponse, error)
	DeleteMessage(ctx context.Context, sessionID string, messageID int64) error
}

// View presents controller state. Its methods are called with the
// controller's lock held and must not call back into the Controller.
type View interface {
	RenderTranscript(entries []Entry)
	RenderSessions(groups []session.ModelGroup, currentModel, currentSession string)
	SetSendEnabled(enabled bool)
	SetInputEnabled(enabled bool)
	ApplyTheme(dark bool)
	Notify(msg string)
}

// Prefs persists client preferences
type Prefs interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Confirmer asks the user a yes/no question
type Confirmer func(prompt string) bool

// EntryState is the lifecycle state of a transcript entry
type EntryState int

const (
	EntryConfirmed EntryState = iota
	EntryPending
	EntryLoading
	EntryError
	EntryEditing
)

func (s EntryState) String() string {
	switch s {
	case EntryConfirmed:
		return "confirmed"
	case EntryPending:
		return "pending"
	case EntryLoading:
		return "loading"
	case EntryError:
		return "error"
	case EntryEditing:
		return "editing"
	default:
		return fmt.Sprintf("EntryState(%d)", int(s))
	}
}

// Entry is one rendered transcript item. Confirmed entries carry the server
// id; placeholders carry negative ids.
type Entry struct {
	ID        int64
	Sender    session.Sender
	Content   string
	Timestamp time.Time
	State     EntryState
	Animate   bool
}

// Placeholder reports whether the entry has not been confirmed by the server
func (e Entry) Placeholder() bool {
	return e.ID < 0
}

// State is the controller's UI state
type State struct {
	CurrentSession string
	SessionModel   string
	CurrentModel   string
	SystemPrompt   string
	Waiting        bool
	SendEnabled    bool
	Dark           bool
}

// Options holds the collaborators of a Controller
type Options struct {
	API     API
	View    View
	Prefs   Prefs
	Confirm Confirmer
	// SystemDark reports the environment's color preference; used when no
	// theme preference was saved
	SystemDark func() bool
	Logger     *slog.Logger
	Now        func() time.Time
}

// Controller drives the chat UI
type Controller struct {
	api        API
	view       View
	prefs      Prefs
	confirm    Confirmer
	systemDark func() bool
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	state      State
	transcript []Entry
	sessions   []session.Session
	lastKey    int64
}

// New creates a controller
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Confirm == nil {
		opts.Confirm = func(string) bool { return true }
	}
	if opts.SystemDark == nil {
		opts.SystemDark = func() bool { return false }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		api:        opts.API,
		view:       opts.View,
		prefs:      opts.Prefs,
		confirm:    opts.Confirm,
		systemDark: opts.SystemDark,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Init applies the theme, loads the model config and opens the model's latest
// session
func (c *Controller) Init(ctx context.Context) error {
	c.initTheme()

	cfg, err := c.api.GetModelConfig(ctx)
	if err != nil {
		c.logger.Error("failed to fetch model config", "error", err)
		return fmt.Errorf("failed to fetch model config: %w", err)
	}

	c.mu.Lock()
	c.state.CurrentModel = cfg.ModelName
	c.state.SystemPrompt = cfg.SystemPrompt
	c.mu.Unlock()

	if cfg.ModelName == "" {
		c.logger.Error("model name not initialized")
		return ErrNoModel
	}

	sess, err := c.api.LatestSession(ctx, cfg.ModelName)
	if err != nil {
		c.logger.Error("failed to load latest session", "model", cfg.ModelName, "error", err)
		return fmt.Errorf("failed to load latest session: %w", err)
	}

	c.mu.Lock()
	c.state.CurrentSession = sess.ID
	c.state.SessionModel = sess.Model
	c.mu.Unlock()

	c.RefreshSessions(ctx)
	c.LoadHistory(ctx, sess.ID)
	c.updateSendEnabled()
	return nil
}

// State returns a copy of the UI state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns a copy of the rendered transcript
func (c *Controller) Transcript() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.transcript...)
}

// Sessions returns the session list as last fetched, in server order
func (c *Controller) Sessions() []session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.Session(nil), c.sessions...)
}

func (c *Controller) initTheme() {
	v, ok := c.prefs.Get(prefs.KeyDarkMode)
	dark := v == prefs.ValueEnabled || (!ok && c.systemDark())
	c.setTheme(dark)
}

// ToggleTheme flips between dark and light and persists the choice. It
// returns whether the dark palette is now active.
func (c *Controller) ToggleTheme() bool {
	c.mu.Lock()
	dark := !c.state.Dark
	c.mu.Unlock()

	c.setTheme(dark)
	return dark
}

func (c *Controller) setTheme(dark bool) {
	value := prefs.ValueDisabled
	if dark {
		value = prefs.ValueEnabled
	}
	if err := c.prefs.Set(prefs.KeyDarkMode, value); err != nil {
		c.logger.Warn("failed to save theme preference", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Dark = dark
	c.view.ApplyTheme(dark)
}

// Watch applies server change events until ctx ends or the channel closes
func (c *Controller) Watch(ctx context.Context, evs <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev events.Event) {
	c.logger.Debug("server event", "type", ev.Type, "session_id", ev.SessionID)

	switch ev.Type {
	case events.SessionsChanged:
		c.RefreshSessions(ctx)

	case events.MessagesChanged:
		c.mu.Lock()
		reload := ev.SessionID == c.state.CurrentSession && !c.state.Waiting && !c.editingLocked()
		current := c.state.CurrentSession
		c.mu.Unlock()
		if reload {
			c.LoadHistory(ctx, current)
		}

	case events.ModelChanged:
		cfg, err := c.api.GetModelConfig(ctx)
		if err != nil {
			c.logger.Warn("failed to refresh model config", "error", err)
			return
		}
		c.mu.Lock()
		c.state.CurrentModel = cfg.ModelName
		c.state.SystemPrompt = cfg.SystemPrompt
		c.mu.Unlock()
		c.updateSendEnabled()
		c.RefreshSessions(ctx)
	}
}

// updateSendEnabled allows sending only into a session of the current model
func (c *Controller) updateSendEnabled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SendEnabled = c.state.CurrentSession != "" && c.state.SessionModel == c.state.CurrentModel
	c.view.SetSendEnabled(c.state.SendEnabled)
}

func (c *Controller) renderTranscriptLocked() {
	c.view.RenderTranscript(append([]Entry(nil), c.transcript...))
}

func (c *Controller) renderSessionsLocked() {
	c.view.RenderSessions(session.GroupByModel(c.sessions), c.state.CurrentModel, c.state.CurrentSession)
}

// placeholderKeyLocked returns a fresh negative id
func (c *Controller) placeholderKeyLocked() int64 {
	c.lastKey--
	return c.lastKey
}

func (c *Controller) editingLocked() bool {
	for _, e := range c.transcript {
		if e.State == EntryEditing {
			return true
		}
	}
	return false
}

func (c *Controller) indexLocked(id int64) int {
	for i, e := range c.transcript {
		if e.ID == id {
			return i
		}
	}
	return -1
}
