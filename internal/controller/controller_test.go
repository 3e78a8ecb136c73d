package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ModelChat/internal/api"
	"ModelChat/internal/events"
	"ModelChat/internal/prefs"
	"ModelChat/internal/session"
)

// fakeAPI is an in-memory chat backend
type fakeAPI struct {
	mu       sync.Mutex
	model    session.ModelConfig
	sessions []session.Session
	messages map[string][]session.Message
	nextID   int64
	calls    map[string]int

	sendErr   error
	sendGate  chan struct{} // when set, SendMessage waits for it
	sendStart chan struct{} // signalled when SendMessage is entered
	configErr error
}

func newFakeAPI(model string) *fakeAPI {
	return &fakeAPI{
		model:    session.ModelConfig{ModelName: model, SystemPrompt: "Be terse."},
		messages: map[string][]session.Message{},
		calls:    map[string]int{},
	}
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeAPI) addSession(id, model string) session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := session.Session{ID: id, Model: model, Name: id}
	f.sessions = append([]session.Session{s}, f.sessions...)
	return s
}

func (f *fakeAPI) addMessage(sessionID string, sender session.Sender, content string) session.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m := session.Message{ID: f.nextID, SessionID: sessionID, Sender: sender, Content: content,
		Timestamp: time.Date(2024, 5, 1, 12, 0, int(f.nextID), 0, time.UTC)}
	f.messages[sessionID] = append(f.messages[sessionID], m)
	return m
}

func (f *fakeAPI) GetModelConfig(ctx context.Context) (session.ModelConfig, error) {
	f.record("GetModelConfig")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model, nil
}

func (f *fakeAPI) SetModelConfig(ctx context.Context, req api.SetModelConfigRequest) (string, error) {
	f.record("SetModelConfig")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configErr != nil {
		return "", f.configErr
	}
	if req.ModelName != "" {
		f.model.ModelName = req.ModelName
	}
	f.model.SystemPrompt = req.SystemPrompt
	return f.model.ModelName, nil
}

func (f *fakeAPI) CreateSession(ctx context.Context, model string) (session.Session, error) {
	f.record("CreateSession")
	f.mu.Lock()
	id := fmt.Sprintf("s%d", len(f.sessions)+1)
	f.mu.Unlock()
	return f.addSession(id, model), nil
}

func (f *fakeAPI) ListSessions(ctx context.Context) ([]session.Session, error) {
	f.record("ListSessions")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Session(nil), f.sessions...), nil
}

func (f *fakeAPI) LatestSession(ctx context.Context, model string) (session.Session, error) {
	f.record("LatestSession")
	f.mu.Lock()
	for _, s := range f.sessions {
		if s.Model == model {
			f.mu.Unlock()
			return s, nil
		}
	}
	f.mu.Unlock()
	return f.CreateSession(ctx, model)
}

func (f *fakeAPI) RenameSession(ctx context.Context, sessionID, name string) error {
	f.record("RenameSession")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sessions {
		if f.sessions[i].ID == sessionID {
			f.sessions[i].Name = name
			return nil
		}
	}
	return &api.APIError{Status: 404, Message: "Invalid session"}
}

func (f *fakeAPI) DeleteSession(ctx context.Context, sessionID string) error {
	f.record("DeleteSession")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sessions {
		if f.sessions[i].ID == sessionID {
			f.sessions = append(f.sessions[:i], f.sessions[i+1:]...)
			delete(f.messages, sessionID)
			return nil
		}
	}
	return &api.APIError{Status: 404, Message: "Invalid session"}
}

func (f *fakeAPI) History(ctx context.Context, sessionID string) ([]session.Message, error) {
	f.record("History")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Message{}, f.messages[sessionID]...), nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, sessionID, message string) (api.SendMessageResponse, error) {
	f.record("SendMessage")
	f.mu.Lock()
	gate, start, sendErr := f.sendGate, f.sendStart, f.sendErr
	f.mu.Unlock()

	// Like the server, the user message is stored before the reply exists
	user := f.addMessage(sessionID, session.SenderUser, message)
	if start != nil {
		start <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if sendErr != nil {
		f.mu.Lock()
		msgs := f.messages[sessionID]
		f.messages[sessionID] = msgs[:len(msgs)-1]
		f.mu.Unlock()
		return api.SendMessageResponse{}, sendErr
	}
	reply := f.addMessage(sessionID, session.SenderAssistant, "Hi there")
	return api.SendMessageResponse{
		UserMsgID:     user.ID,
		ModelMsgID:    reply.ID,
		ModelResponse: reply.Content,
		Timestamp:     reply.Timestamp,
		UserTimestamp: user.Timestamp,
	}, nil
}

func (f *fakeAPI) EditMessage(ctx context.Context, sessionID string, messageID int64, content string) (api.EditMessageResponse, error) {
	f.record("EditMessage")
	f.mu.Lock()
	msgs := f.messages[sessionID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.messages[sessionID] = msgs[:i]
			break
		}
	}
	f.mu.Unlock()
	user := f.addMessage(sessionID, session.SenderUser, content)
	reply := f.addMessage(sessionID, session.SenderAssistant, "Edited reply")
	return api.EditMessageResponse{Success: true, UserMsgID: user.ID, ModelMsgID: reply.ID, ModelResponse: reply.Content}, nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, sessionID string, messageID int64) error {
	f.record("DeleteMessage")
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.messages[sessionID] = msgs[:i]
			return nil
		}
	}
	return &api.APIError{Status: 400, Message: "Invalid message"}
}

// fakeView records what the controller renders
type fakeView struct {
	mu           sync.Mutex
	transcript   []Entry
	groups       []session.ModelGroup
	sendEnabled  bool
	inputEnabled bool
	dark         bool
	notices      []string
	renders      int
}

func (v *fakeView) RenderTranscript(entries []Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transcript = entries
	v.renders++
}

func (v *fakeView) RenderSessions(groups []session.ModelGroup, currentModel, currentSession string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.groups = groups
}

func (v *fakeView) SetSendEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sendEnabled = enabled
}

func (v *fakeView) SetInputEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inputEnabled = enabled
}

func (v *fakeView) ApplyTheme(dark bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dark = dark
}

func (v *fakeView) Notify(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, msg)
}

func (v *fakeView) lastNotice() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.notices) == 0 {
		return ""
	}
	return v.notices[len(v.notices)-1]
}

// memPrefs is an in-memory Prefs
type memPrefs struct {
	values map[string]string
}

func (p *memPrefs) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

func (p *memPrefs) Set(key, value string) error {
	p.values[key] = value
	return nil
}

type harness struct {
	api     *fakeAPI
	view    *fakeView
	prefs   *memPrefs
	ctrl    *Controller
	confirm bool
}

func newHarness(t *testing.T, model string) *harness {
	t.Helper()
	h := &harness{
		api:     newFakeAPI(model),
		view:    &fakeView{},
		prefs:   &memPrefs{values: map[string]string{}},
		confirm: true,
	}
	h.ctrl = New(Options{
		API:     h.api,
		View:    h.view,
		Prefs:   h.prefs,
		Confirm: func(string) bool { return h.confirm },
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
}

func TestInit_OpensLatestSession(t *testing.T) {
	h := newHarness(t, "gpt-x")
	existing := h.api.addSession("old", "gpt-x")
	h.api.addMessage(existing.ID, session.SenderUser, "earlier")
	h.init(t)

	st := h.ctrl.State()
	if st.CurrentSession != "old" || st.CurrentModel != "gpt-x" || !st.SendEnabled {
		t.Errorf("State() = %+v", st)
	}
	if got := h.ctrl.Transcript(); len(got) != 1 || got[0].Content != "earlier" {
		t.Errorf("Transcript() = %+v", got)
	}
	if len(h.view.groups) != 1 || h.view.groups[0].Model != "gpt-x" {
		t.Errorf("rendered groups = %+v", h.view.groups)
	}
	if !h.view.sendEnabled {
		t.Error("send control disabled after Init")
	}
}

func TestInit_NoModel(t *testing.T) {
	h := newHarness(t, "")
	if err := h.ctrl.Init(context.Background()); !errors.Is(err, ErrNoModel) {
		t.Errorf("Init() error = %v, want ErrNoModel", err)
	}
	if n := h.api.count("LatestSession"); n != 0 {
		t.Errorf("LatestSession called %d times", n)
	}
}

func TestSendMessage_NoSessionIsNoop(t *testing.T) {
	h := newHarness(t, "gpt-x")

	if err := h.ctrl.SendMessage(context.Background(), "Hello"); !errors.Is(err, ErrNoSession) {
		t.Errorf("SendMessage() error = %v, want ErrNoSession", err)
	}
	if n := h.api.count("SendMessage"); n != 0 {
		t.Errorf("SendMessage reached the API %d times", n)
	}
	if len(h.ctrl.Transcript()) != 0 {
		t.Error("transcript changed")
	}
}

func TestSendMessage_EmptyInputIsNoop(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)

	if err := h.ctrl.SendMessage(context.Background(), "   \n"); err != nil {
		t.Errorf("SendMessage() error = %v", err)
	}
	if n := h.api.count("SendMessage"); n != 0 {
		t.Errorf("SendMessage reached the API %d times", n)
	}
}

func TestSendMessage_Success(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)

	if err := h.ctrl.SendMessage(context.Background(), "  Hello "); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	got := h.ctrl.Transcript()
	if len(got) != 2 {
		t.Fatalf("Transcript() has %d entries, want 2: %+v", len(got), got)
	}
	if got[0].ID != 1 || got[0].Sender != session.SenderUser || got[0].Content != "Hello" || got[0].State != EntryConfirmed {
		t.Errorf("user entry = %+v", got[0])
	}
	if got[1].ID != 2 || got[1].Content != "Hi there" || got[1].State != EntryConfirmed || !got[1].Animate {
		t.Errorf("assistant entry = %+v", got[1])
	}
	for _, e := range got {
		if e.Placeholder() {
			t.Errorf("placeholder left behind: %+v", e)
		}
	}
	if st := h.ctrl.State(); st.Waiting {
		t.Error("send lock still held")
	}
	if !h.view.inputEnabled {
		t.Error("input left disabled")
	}
}

func TestSendMessage_PlaceholdersWhileInFlight(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	h.api.sendGate = make(chan struct{})
	h.api.sendStart = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.SendMessage(context.Background(), "Hello") }()
	<-h.api.sendStart

	got := h.ctrl.Transcript()
	if len(got) != 2 || got[0].State != EntryPending || got[1].State != EntryLoading {
		t.Errorf("in-flight transcript = %+v", got)
	}
	if !got[0].Placeholder() || !got[1].Placeholder() {
		t.Error("placeholders carry server ids")
	}
	h.view.mu.Lock()
	inputEnabled := h.view.inputEnabled
	h.view.mu.Unlock()
	if inputEnabled {
		t.Error("input enabled while waiting")
	}

	// A second send is ignored while the first is pending
	if err := h.ctrl.SendMessage(context.Background(), "Again"); !errors.Is(err, ErrSendInFlight) {
		t.Errorf("second SendMessage() error = %v, want ErrSendInFlight", err)
	}
	if n := h.api.count("SendMessage"); n != 1 {
		t.Errorf("SendMessage reached the API %d times, want 1", n)
	}

	close(h.api.sendGate)
	if err := <-done; err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if got := h.ctrl.Transcript(); len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("Transcript() = %+v", got)
	}
}

func TestSendMessage_FailureShowsErrorAndReleasesLock(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	h.api.sendErr = errors.New("connection refused")

	if err := h.ctrl.SendMessage(context.Background(), "Hello"); err == nil {
		t.Fatal("SendMessage() succeeded, want error")
	}

	got := h.ctrl.Transcript()
	if len(got) != 2 {
		t.Fatalf("Transcript() = %+v", got)
	}
	if got[1].State != EntryError || got[1].Content != FailedResponseText {
		t.Errorf("assistant entry = %+v, want error entry", got[1])
	}
	if h.ctrl.State().Waiting {
		t.Error("send lock still held after failure")
	}

	// The lock was released so the next send goes through
	h.api.sendErr = nil
	if err := h.ctrl.SendMessage(context.Background(), "Retry"); err != nil {
		t.Errorf("SendMessage() after failure error = %v", err)
	}
	if n := h.api.count("SendMessage"); n != 2 {
		t.Errorf("SendMessage reached the API %d times, want 2", n)
	}
}

func TestSendMessage_ApplicationErrorShowsErrorEntry(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	h.api.sendErr = &api.APIError{Status: 400, Message: "Invalid session"}

	err := h.ctrl.SendMessage(context.Background(), "Hello")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("SendMessage() error = %v, want *api.APIError", err)
	}
	if got := h.ctrl.Transcript(); got[len(got)-1].State != EntryError {
		t.Errorf("last entry = %+v, want error entry", got[len(got)-1])
	}
}

func TestSendMessage_SessionSwitchDropsResult(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	other := h.api.addSession("other", "gpt-x")
	h.api.addMessage(other.ID, session.SenderUser, "other history")
	h.api.sendGate = make(chan struct{})
	h.api.sendStart = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.SendMessage(context.Background(), "Hello") }()
	<-h.api.sendStart

	if err := h.ctrl.SelectSession(context.Background(), other.ID, other.Model); err != nil {
		t.Fatalf("SelectSession() error = %v", err)
	}
	close(h.api.sendGate)
	if err := <-done; err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	got := h.ctrl.Transcript()
	if len(got) != 1 || got[0].Content != "other history" {
		t.Errorf("Transcript() = %+v, want only the other session's history", got)
	}
}

func TestSelectSession_OtherModelDisablesSend(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	old := h.api.addSession("legacy", "llama")

	if err := h.ctrl.SelectSession(context.Background(), old.ID, old.Model); err != nil {
		t.Fatalf("SelectSession() error = %v", err)
	}
	if h.ctrl.State().SendEnabled || h.view.sendEnabled {
		t.Error("send enabled for a session of another model")
	}
	if err := h.ctrl.SendMessage(context.Background(), "Hello"); !errors.Is(err, ErrSendDisabled) {
		t.Errorf("SendMessage() error = %v, want ErrSendDisabled", err)
	}
	if n := h.api.count("SendMessage"); n != 0 {
		t.Errorf("SendMessage reached the API %d times", n)
	}

	first := h.ctrl.Sessions()[len(h.ctrl.Sessions())-1]
	h.ctrl.SelectSession(context.Background(), first.ID, first.Model)
	if !h.ctrl.State().SendEnabled {
		t.Error("send disabled for a session of the current model")
	}
}

func TestLoadHistory_ReplacesTranscript(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	id := h.ctrl.State().CurrentSession
	h.api.addMessage(id, session.SenderUser, "a")
	h.api.addMessage(id, session.SenderAssistant, "b")

	for i := 0; i < 3; i++ {
		if err := h.ctrl.LoadHistory(context.Background(), id); err != nil {
			t.Fatalf("LoadHistory() error = %v", err)
		}
	}
	if got := h.ctrl.Transcript(); len(got) != 2 {
		t.Errorf("Transcript() has %d entries after repeated loads, want 2", len(got))
	}
}

func TestDeleteSession_ActiveClearsTranscript(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	id := h.ctrl.State().CurrentSession
	if err := h.ctrl.SendMessage(context.Background(), "Hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if err := h.ctrl.DeleteSession(context.Background(), id); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if st := h.ctrl.State(); st.CurrentSession != "" {
		t.Errorf("CurrentSession = %q, want empty", st.CurrentSession)
	}
	if len(h.ctrl.Transcript()) != 0 || len(h.view.transcript) != 0 {
		t.Error("transcript not cleared")
	}
	if len(h.ctrl.Sessions()) != 0 {
		t.Errorf("Sessions() = %+v, want refreshed empty list", h.ctrl.Sessions())
	}
}

func TestDeleteSession_InactiveKeepsTranscript(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	h.ctrl.SendMessage(context.Background(), "Hello")
	other := h.api.addSession("other", "gpt-x")

	if err := h.ctrl.DeleteSession(context.Background(), other.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if h.ctrl.State().CurrentSession == "" || len(h.ctrl.Transcript()) != 2 {
		t.Error("active session affected by deleting another")
	}
}

func TestDeleteSession_Cancelled(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	h.confirm = false

	err := h.ctrl.DeleteSession(context.Background(), h.ctrl.State().CurrentSession)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("DeleteSession() error = %v, want ErrCancelled", err)
	}
	if n := h.api.count("DeleteSession"); n != 0 {
		t.Errorf("DeleteSession reached the API %d times", n)
	}
}

func TestRenameSession_RefreshesList(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	before := h.api.count("ListSessions")

	if err := h.ctrl.RenameSession(context.Background(), h.ctrl.State().CurrentSession, "Plans"); err != nil {
		t.Fatalf("RenameSession() error = %v", err)
	}
	if h.api.count("ListSessions") != before+1 {
		t.Error("session list not refreshed")
	}
	if got := h.ctrl.Sessions()[0].Name; got != "Plans" {
		t.Errorf("Name = %q, want Plans", got)
	}

	if err := h.ctrl.RenameSession(context.Background(), "missing", "x"); err == nil {
		t.Error("RenameSession(missing) succeeded")
	}
}

func TestCreateSession_RequiresModel(t *testing.T) {
	h := newHarness(t, "")
	if err := h.ctrl.CreateSession(context.Background()); !errors.Is(err, ErrNoModel) {
		t.Errorf("CreateSession() error = %v, want ErrNoModel", err)
	}
	if got := h.view.lastNotice(); got != NoticeNoModel {
		t.Errorf("notice = %q, want %q", got, NoticeNoModel)
	}
}

func TestEditMessage(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	ctx := context.Background()
	h.ctrl.SendMessage(ctx, "one")
	h.ctrl.SendMessage(ctx, "two")

	if _, err := h.ctrl.BeginEdit(2); !errors.Is(err, ErrNotEditable) {
		t.Errorf("BeginEdit(assistant) error = %v, want ErrNotEditable", err)
	}

	content, err := h.ctrl.BeginEdit(1)
	if err != nil {
		t.Fatalf("BeginEdit() error = %v", err)
	}
	if content != "one" {
		t.Errorf("BeginEdit() = %q, want %q", content, "one")
	}
	if got := h.ctrl.Transcript()[0].State; got != EntryEditing {
		t.Errorf("State = %v, want editing", got)
	}

	if err := h.ctrl.SaveEdit(ctx, 1, "uno"); err != nil {
		t.Fatalf("SaveEdit() error = %v", err)
	}
	got := h.ctrl.Transcript()
	if len(got) != 2 || got[0].Content != "uno" || got[1].Content != "Edited reply" {
		t.Errorf("Transcript() after edit = %+v", got)
	}
	if got[0].State != EntryConfirmed {
		t.Errorf("State = %v, want confirmed", got[0].State)
	}
}

func TestCancelEdit(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	h.ctrl.SendMessage(context.Background(), "one")

	h.ctrl.BeginEdit(1)
	h.ctrl.CancelEdit(1)
	if got := h.ctrl.Transcript()[0].State; got != EntryConfirmed {
		t.Errorf("State = %v, want confirmed", got)
	}
	if n := h.api.count("EditMessage"); n != 0 {
		t.Errorf("EditMessage reached the API %d times", n)
	}
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	ctx := context.Background()
	h.ctrl.SendMessage(ctx, "one")
	h.ctrl.SendMessage(ctx, "two")

	h.confirm = false
	if err := h.ctrl.DeleteMessage(ctx, 3); !errors.Is(err, ErrCancelled) {
		t.Errorf("DeleteMessage() error = %v, want ErrCancelled", err)
	}

	h.confirm = true
	if err := h.ctrl.DeleteMessage(ctx, 3); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	if got := h.ctrl.Transcript(); len(got) != 2 {
		t.Errorf("Transcript() = %+v, want the first exchange only", got)
	}
}

func TestToggleTheme_TwiceRestores(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.prefs.values[prefs.KeyDarkMode] = prefs.ValueEnabled
	h.init(t)

	if !h.view.dark {
		t.Fatal("saved dark preference not applied")
	}
	if dark := h.ctrl.ToggleTheme(); dark {
		t.Error("ToggleTheme() = true, want false")
	}
	if h.prefs.values[prefs.KeyDarkMode] != prefs.ValueDisabled {
		t.Errorf("saved = %q, want disabled", h.prefs.values[prefs.KeyDarkMode])
	}
	h.ctrl.ToggleTheme()
	if h.prefs.values[prefs.KeyDarkMode] != prefs.ValueEnabled || !h.view.dark {
		t.Error("toggling twice did not restore the starting theme")
	}
}

func TestInitTheme_FallsBackToSystem(t *testing.T) {
	tests := []struct {
		name       string
		saved      string
		systemDark bool
		want       bool
	}{
		{"unset dark system", "", true, true},
		{"unset light system", "", false, false},
		{"saved disabled overrides system", prefs.ValueDisabled, true, false},
		{"saved enabled", prefs.ValueEnabled, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &memPrefs{values: map[string]string{}}
			if tt.saved != "" {
				p.values[prefs.KeyDarkMode] = tt.saved
			}
			view := &fakeView{}
			ctrl := New(Options{
				API:        newFakeAPI("m"),
				View:       view,
				Prefs:      p,
				SystemDark: func() bool { return tt.systemDark },
				Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			ctrl.Init(context.Background())
			if view.dark != tt.want {
				t.Errorf("dark = %v, want %v", view.dark, tt.want)
			}
		})
	}
}

func TestSaveModelConfig_NewModel(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	ctx := context.Background()

	if err := h.ctrl.SaveModelConfig(ctx, ModeNew, "  ", "p"); !errors.Is(err, ErrNoModel) {
		t.Errorf("SaveModelConfig(blank name) error = %v", err)
	}
	if got := h.view.lastNotice(); got != NoticeNeedModelName {
		t.Errorf("notice = %q", got)
	}

	if err := h.ctrl.SaveModelConfig(ctx, ModeNew, " llama ", " Be kind. "); err != nil {
		t.Fatalf("SaveModelConfig() error = %v", err)
	}
	st := h.ctrl.State()
	if st.CurrentModel != "llama" || st.SystemPrompt != "Be kind." {
		t.Errorf("State() = %+v", st)
	}
	if st.SessionModel != "llama" || !st.SendEnabled {
		t.Errorf("no session opened for the new model: %+v", st)
	}
	if len(h.view.groups) != 2 || h.view.groups[0].Model != "llama" {
		t.Errorf("groups = %+v", h.view.groups)
	}
}

func TestSaveModelConfig_EditPrompt(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	ctx := context.Background()

	prompt, err := h.ctrl.OpenModelConfig(ctx, ModeEdit)
	if err != nil || prompt != "Be terse." {
		t.Fatalf("OpenModelConfig() = %q, %v", prompt, err)
	}
	if prompt, _ := h.ctrl.OpenModelConfig(ctx, ModeNew); prompt != "" {
		t.Errorf("OpenModelConfig(new) = %q, want empty", prompt)
	}

	sessionsBefore := h.api.count("CreateSession")
	if err := h.ctrl.SaveModelConfig(ctx, ModeEdit, "ignored", "New prompt"); err != nil {
		t.Fatalf("SaveModelConfig() error = %v", err)
	}
	if st := h.ctrl.State(); st.CurrentModel != "gpt-x" || st.SystemPrompt != "New prompt" {
		t.Errorf("State() = %+v", st)
	}
	if h.api.count("CreateSession") != sessionsBefore {
		t.Error("editing the prompt created a session")
	}
}

func TestSaveModelConfig_FailureNotifies(t *testing.T) {
	tests := []struct {
		mode ConfigMode
		want string
	}{
		{ModeNew, NoticeCreateModelFail},
		{ModeEdit, NoticeUpdatePromptErr},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			h := newHarness(t, "gpt-x")
			h.init(t)
			h.api.configErr = errors.New("offline")

			if err := h.ctrl.SaveModelConfig(context.Background(), tt.mode, "m", "p"); err == nil {
				t.Fatal("SaveModelConfig() succeeded")
			}
			if got := h.view.lastNotice(); got != tt.want {
				t.Errorf("notice = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindSession(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.api.addSession("b", "gpt-x")
	h.api.addSession("a", "gpt-x")
	h.init(t)

	if s, ok := h.ctrl.FindSession("2"); !ok || s.ID != "b" {
		t.Errorf("FindSession(2) = %+v, %v", s, ok)
	}
	if s, ok := h.ctrl.FindSession("b"); !ok || s.ID != "b" {
		t.Errorf("FindSession(b) = %+v, %v", s, ok)
	}
	for _, ref := range []string{"0", "3", "zzz"} {
		if _, ok := h.ctrl.FindSession(ref); ok {
			t.Errorf("FindSession(%q) found a session", ref)
		}
	}
}

func TestWatch_ReloadsActiveSession(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	id := h.ctrl.State().CurrentSession

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	evs := make(chan events.Event)
	done := make(chan struct{})
	go func() {
		h.ctrl.Watch(ctx, evs)
		close(done)
	}()

	h.api.addMessage(id, session.SenderUser, "from elsewhere")
	evs <- events.Event{Type: events.MessagesChanged, SessionID: id}
	h.api.addSession("new", "gpt-x")
	evs <- events.Event{Type: events.SessionsChanged}
	close(evs)
	<-done

	if got := h.ctrl.Transcript(); len(got) != 1 || got[0].Content != "from elsewhere" {
		t.Errorf("Transcript() = %+v", got)
	}
	if len(h.ctrl.Sessions()) != 2 {
		t.Errorf("Sessions() = %d, want 2", len(h.ctrl.Sessions()))
	}
}

func TestWatch_ModelChangeDisablesSend(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)

	h.api.SetModelConfig(context.Background(), api.SetModelConfigRequest{ModelName: "llama"})
	h.ctrl.handleEvent(context.Background(), events.Event{Type: events.ModelChanged})

	st := h.ctrl.State()
	if st.CurrentModel != "llama" || st.SendEnabled {
		t.Errorf("State() = %+v, want llama with send disabled", st)
	}
}

func TestSendMessage_ReloadWhileSendingKeepsTwoEntries(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	id := h.ctrl.State().CurrentSession
	h.api.sendGate = make(chan struct{})
	h.api.sendStart = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.SendMessage(context.Background(), "Hello") }()
	<-h.api.sendStart

	if err := h.ctrl.LoadHistory(context.Background(), id); err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	got := h.ctrl.Transcript()
	if len(got) != 2 || got[0].ID != 1 || got[1].State != EntryLoading {
		t.Errorf("transcript during send = %+v, want stored message and loading entry", got)
	}

	close(h.api.sendGate)
	if err := <-done; err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	got = h.ctrl.Transcript()
	if len(got) != 2 {
		t.Fatalf("transcript has %d entries, want 2: %+v", len(got), got)
	}
	if got[0].ID != 1 || got[0].Sender != session.SenderUser || got[1].ID != 2 || got[1].Sender != session.SenderAssistant {
		t.Errorf("Transcript() = %+v", got)
	}
}

func TestDeleteMessage_RejectedWhileSending(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	ctx := context.Background()
	h.ctrl.SendMessage(ctx, "one")

	h.api.sendGate = make(chan struct{})
	h.api.sendStart = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- h.ctrl.SendMessage(ctx, "two") }()
	<-h.api.sendStart

	if err := h.ctrl.DeleteMessage(ctx, 1); !errors.Is(err, ErrSendInFlight) {
		t.Errorf("DeleteMessage() error = %v, want ErrSendInFlight", err)
	}
	if n := h.api.count("DeleteMessage"); n != 0 {
		t.Errorf("DeleteMessage reached the API %d times", n)
	}

	close(h.api.sendGate)
	if err := <-done; err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if got := h.ctrl.Transcript(); len(got) != 4 {
		t.Errorf("Transcript() has %d entries, want 4", len(got))
	}
}

func TestEdit_RejectedSaveLeavesNoEditingEntry(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	ctx := context.Background()
	legacy := h.api.addSession("legacy", "llama")
	msg := h.api.addMessage(legacy.ID, session.SenderUser, "old question")

	if err := h.ctrl.SelectSession(ctx, legacy.ID, legacy.Model); err != nil {
		t.Fatalf("SelectSession() error = %v", err)
	}
	if _, err := h.ctrl.BeginEdit(msg.ID); !errors.Is(err, ErrSendDisabled) {
		t.Errorf("BeginEdit() error = %v, want ErrSendDisabled", err)
	}
	if err := h.ctrl.SaveEdit(ctx, msg.ID, "new question"); !errors.Is(err, ErrSendDisabled) {
		t.Errorf("SaveEdit() error = %v, want ErrSendDisabled", err)
	}
	if got := h.ctrl.Transcript()[0].State; got != EntryConfirmed {
		t.Errorf("State = %v, want confirmed", got)
	}

	// Live updates still reach the session
	h.api.addMessage(legacy.ID, session.SenderAssistant, "late answer")
	h.ctrl.handleEvent(ctx, events.Event{Type: events.MessagesChanged, SessionID: legacy.ID})
	if got := h.ctrl.Transcript(); len(got) != 2 {
		t.Errorf("transcript has %d entries, want 2", len(got))
	}
}

func TestSaveEdit_GuardFailureCancelsEdit(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	ctx := context.Background()
	h.ctrl.SendMessage(ctx, "one")

	if _, err := h.ctrl.BeginEdit(1); err != nil {
		t.Fatalf("BeginEdit() error = %v", err)
	}
	// The model changes while the edit is open
	h.api.SetModelConfig(ctx, api.SetModelConfigRequest{ModelName: "llama"})
	h.ctrl.handleEvent(ctx, events.Event{Type: events.ModelChanged})

	if err := h.ctrl.SaveEdit(ctx, 1, "uno"); !errors.Is(err, ErrSendDisabled) {
		t.Fatalf("SaveEdit() error = %v, want ErrSendDisabled", err)
	}
	if got := h.ctrl.Transcript()[0].State; got != EntryConfirmed {
		t.Errorf("State = %v, want confirmed", got)
	}
	if n := h.api.count("EditMessage"); n != 0 {
		t.Errorf("EditMessage reached the API %d times", n)
	}
}

func TestWatch_SkipsReloadWhileSending(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	ctx := context.Background()
	id := h.ctrl.State().CurrentSession
	h.api.sendGate = make(chan struct{})
	h.api.sendStart = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.SendMessage(ctx, "Hello") }()
	<-h.api.sendStart

	before := h.api.count("History")
	h.ctrl.handleEvent(ctx, events.Event{Type: events.MessagesChanged, SessionID: id})
	if n := h.api.count("History"); n != before {
		t.Errorf("history reloaded %d times while sending", n-before)
	}
	got := h.ctrl.Transcript()
	if len(got) != 2 || got[0].State != EntryPending || got[1].State != EntryLoading {
		t.Errorf("transcript during send = %+v", got)
	}

	close(h.api.sendGate)
	if err := <-done; err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
}

func TestWatch_SkipsReloadWhileEditing(t *testing.T) {
	h := newHarness(t, "gpt-x")
	h.init(t)
	ctx := context.Background()
	id := h.ctrl.State().CurrentSession
	h.ctrl.SendMessage(ctx, "one")

	if _, err := h.ctrl.BeginEdit(1); err != nil {
		t.Fatalf("BeginEdit() error = %v", err)
	}
	before := h.api.count("History")
	h.api.addMessage(id, session.SenderUser, "from elsewhere")
	h.ctrl.handleEvent(ctx, events.Event{Type: events.MessagesChanged, SessionID: id})

	if n := h.api.count("History"); n != before {
		t.Errorf("history reloaded %d times while editing", n-before)
	}
	if got := h.ctrl.Transcript()[0].State; got != EntryEditing {
		t.Errorf("State = %v, want editing", got)
	}

	h.ctrl.CancelEdit(1)
	h.ctrl.handleEvent(ctx, events.Event{Type: events.MessagesChanged, SessionID: id})
	if got := h.ctrl.Transcript(); len(got) != 3 {
		t.Errorf("transcript has %d entries after the edit closed, want 3", len(got))
	}
}
