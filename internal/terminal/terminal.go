// Package terminal is a line-oriented front end for the chat controller.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"ModelChat/internal/controller"
	"ModelChat/internal/session"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const defaultWidth = 80

// Options configures a Terminal
type Options struct {
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
	Width  int
	// Plain disables colors and markdown styling
	Plain bool
}

// Terminal renders the chat to a writer and reads commands from a reader
type Terminal struct {
	scanner  *bufio.Scanner
	out      io.Writer
	logger   *slog.Logger
	width    int
	plain    bool
	renderer *lipgloss.Renderer

	ctrl  *controller.Controller
	sends sync.WaitGroup

	mu          sync.Mutex
	styles      palette
	markdown    *glamour.TermRenderer
	dark        bool
	shown       map[int64]controller.EntryState
	listed      []session.Session
	groups      []session.ModelGroup
	model       string
	current     string
	sendEnabled bool
	waiting     bool
}

// New creates a terminal
func New(opts Options) *Terminal {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}

	r := lipgloss.NewRenderer(opts.Out)
	t := &Terminal{
		scanner:     bufio.NewScanner(opts.In),
		out:         opts.Out,
		logger:      opts.Logger,
		width:       opts.Width,
		plain:       opts.Plain,
		renderer:    r,
		styles:      newPalette(r, false),
		shown:       make(map[int64]controller.EntryState),
		sendEnabled: true,
	}
	t.markdown, _ = newMarkdown(false, t.plain, t.width)
	return t
}

// Attach connects the controller the terminal drives
func (t *Terminal) Attach(c *controller.Controller) {
	t.ctrl = c
}

// SystemDark reports whether the terminal has a dark background
func (t *Terminal) SystemDark() bool {
	return t.renderer.HasDarkBackground()
}

// RenderTranscript prints entries that are new or changed. When a previously
// shown message is gone the transcript was replaced and is printed in full.
func (t *Terminal) RenderTranscript(entries []controller.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	present := make(map[int64]bool, len(entries))
	for _, e := range entries {
		present[e.ID] = true
	}
	replaced := false
	for id := range t.shown {
		if id > 0 && !present[id] {
			replaced = true
			break
		}
	}

	if replaced {
		t.shown = make(map[int64]controller.EntryState)
		if len(entries) == 0 {
			fmt.Fprintln(t.out, t.styles.meta.Render("(transcript cleared)"))
			return
		}
		fmt.Fprintln(t.out, t.styles.meta.Render(strings.Repeat("─", t.width/2)))
	}

	for _, e := range entries {
		if state, ok := t.shown[e.ID]; ok && state == e.State {
			continue
		}
		t.shown[e.ID] = e.State
		t.printEntry(e)
	}
	for id := range t.shown {
		if !present[id] {
			delete(t.shown, id)
		}
	}
}

func (t *Terminal) printEntry(e controller.Entry) {
	var header string
	if e.Sender == session.SenderUser {
		header = t.styles.user.Render("You")
	} else {
		header = t.styles.assistant.Render("Assistant")
	}

	meta := []string{}
	if !e.Timestamp.IsZero() {
		meta = append(meta, e.Timestamp.Local().Format(session.NameLayout))
	}
	if !e.Placeholder() {
		meta = append(meta, fmt.Sprintf("#%d", e.ID))
	}
	switch e.State {
	case controller.EntryPending:
		meta = append(meta, "(sending)")
	case controller.EntryEditing:
		meta = append(meta, "(editing)")
	}
	if len(meta) > 0 {
		header += " " + t.styles.meta.Render(strings.Join(meta, " · "))
	}

	var body string
	switch {
	case e.State == controller.EntryLoading:
		body = t.styles.meta.Render("…")
	case e.State == controller.EntryError:
		body = t.styles.errorText.Render(e.Content)
	case e.Sender == session.SenderAssistant:
		body = t.renderMarkdown(e.Content)
	default:
		body = e.Content
	}

	if e.Sender == session.SenderUser {
		fmt.Fprintln(t.out, lipgloss.PlaceHorizontal(t.width, lipgloss.Right, header))
		fmt.Fprintln(t.out, lipgloss.PlaceHorizontal(t.width, lipgloss.Right, body))
	} else {
		fmt.Fprintln(t.out, header)
		fmt.Fprintln(t.out, body)
	}
	fmt.Fprintln(t.out)
}

func (t *Terminal) renderMarkdown(content string) string {
	if t.markdown == nil {
		return content
	}
	out, err := t.markdown.Render(content)
	if err != nil {
		t.logger.Warn("failed to render markdown", "error", err)
		return content
	}
	return strings.TrimRight(out, "\n")
}

// RenderSessions keeps the grouped session list for /sessions
func (t *Terminal) RenderSessions(groups []session.ModelGroup, currentModel, currentSession string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.groups = groups
	t.model = currentModel
	t.current = currentSession
	t.listed = t.listed[:0]
	for _, g := range groups {
		t.listed = append(t.listed, g.Sessions...)
	}
}

func (t *Terminal) printSessions() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.listed) == 0 {
		fmt.Fprintln(t.out, "No sessions.")
		return
	}

	n := 0
	for _, g := range t.groups {
		heading := g.Model
		if g.Model == t.model {
			heading += " (current model)"
		}
		fmt.Fprintln(t.out, t.styles.group.Render(heading))
		for _, s := range g.Sessions {
			n++
			line := fmt.Sprintf("  %d. %s", n, s.DisplayName())
			switch {
			case s.ID == t.current:
				line = t.styles.current.Render(line + " *")
			case s.Model != t.model:
				line = t.styles.dim.Render(line)
			}
			fmt.Fprintln(t.out, line)
		}
	}
	fmt.Fprintln(t.out)
}

// listedSession returns the n-th session of the last printed list
func (t *Terminal) listedSession(n int) (session.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 1 || n > len(t.listed) {
		return session.Session{}, false
	}
	return t.listed[n-1], true
}

// SetSendEnabled reports when the active session cannot receive messages
func (t *Terminal) SetSendEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendEnabled && !enabled {
		fmt.Fprintln(t.out, t.styles.notice.Render("This session belongs to another model; sending is disabled."))
	}
	t.sendEnabled = enabled
}

// SetInputEnabled tracks whether a reply is pending
func (t *Terminal) SetInputEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waiting = !enabled
}

// ApplyTheme switches the palette and markdown style
func (t *Terminal) ApplyTheme(dark bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dark = dark
	t.styles = newPalette(t.renderer, dark)
	md, err := newMarkdown(dark, t.plain, t.width)
	if err != nil {
		t.logger.Warn("failed to create markdown renderer", "error", err)
		return
	}
	t.markdown = md
}

// Notify prints a notice
func (t *Terminal) Notify(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.styles.notice.Render(msg))
}

// Confirm asks a yes/no question on the terminal
func (t *Terminal) Confirm(prompt string) bool {
	t.mu.Lock()
	fmt.Fprintf(t.out, "%s [y/N]: ", prompt)
	t.mu.Unlock()

	if !t.scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(t.scanner.Text()))
	return answer == "y" || answer == "yes"
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}
