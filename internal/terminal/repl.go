package terminal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ModelChat/internal/controller"
	"ModelChat/internal/session"
)

const helpText = `Available commands:
  /new                         - Start a new session for the current model
  /sessions                    - List sessions grouped by model
  /select <n|id>               - Switch to a session
  /rename <n|id> <name>        - Rename a session
  /delete <n|id>               - Delete a session and its messages
  /history                     - Reload the current session
  /edit <msg-id> [text]        - Edit one of your messages
  /rm <msg-id>                 - Delete a message and everything after it
  /model show                  - Show the current model and system prompt
  /model new <name> [prompt]   - Add a model and start a session for it
  /model prompt <text>         - Replace the system prompt
  /theme                       - Toggle dark and light theme
  /quit, /exit                 - Exit
  /help                        - Show this help message
Any other line is sent to the current session.
`

// Run reads lines until EOF or /quit. Messages are sent in the background so
// commands keep working while a reply is pending.
func (t *Terminal) Run(ctx context.Context) error {
	if t.ctrl == nil {
		return errors.New("terminal has no controller attached")
	}

	st := t.ctrl.State()
	t.mu.Lock()
	fmt.Fprintln(t.out, t.styles.title.Render("=== ModelChat ==="))
	fmt.Fprintf(t.out, "Model: %s\n", st.CurrentModel)
	if st.CurrentSession != "" {
		fmt.Fprintf(t.out, "Session: %s\n", st.CurrentSession)
	}
	fmt.Fprintln(t.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(t.out)
	t.mu.Unlock()

	for {
		if ctx.Err() != nil {
			break
		}
		t.printf("You: ")
		if !t.scanner.Scan() {
			break
		}

		input := strings.TrimSpace(t.scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := t.handleCommand(ctx, input)
			if err != nil {
				t.printf("Error: %v\n", err)
				t.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		t.send(ctx, input)
	}

	t.sends.Wait()
	if err := t.scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	t.printf("Goodbye!\n")
	return nil
}

func (t *Terminal) send(ctx context.Context, input string) {
	t.mu.Lock()
	waiting := t.waiting
	t.mu.Unlock()
	if waiting {
		t.Notify("Still waiting for the previous reply.")
		return
	}

	t.sends.Add(1)
	go func() {
		defer t.sends.Done()
		err := t.ctrl.SendMessage(ctx, input)
		switch {
		case err == nil:
		case errors.Is(err, controller.ErrSendInFlight):
			t.Notify("Still waiting for the previous reply.")
		case errors.Is(err, controller.ErrNoSession):
			t.Notify("No active session. Use /new or /select.")
		case errors.Is(err, controller.ErrSendDisabled):
			t.Notify("This session belongs to another model; start one with /new.")
		default:
			// The transcript already shows the failure
			t.logger.Error("failed to send message", "error", err)
		}
	}()
}

// handleCommand handles slash commands
func (t *Terminal) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		t.printf("%s\n", helpText)
		return false, nil

	case "/new":
		return false, t.ctrl.CreateSession(ctx)

	case "/sessions":
		if err := t.ctrl.RefreshSessions(ctx); err != nil {
			return false, err
		}
		t.printSessions()
		return false, nil

	case "/select":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /select <n|id>")
		}
		sess, err := t.resolveSession(parts[1])
		if err != nil {
			return false, err
		}
		if err := t.ctrl.SelectSession(ctx, sess.ID, sess.Model); err != nil {
			return false, err
		}
		t.printf("Switched to %s (%s)\n", sess.DisplayName(), sess.Model)
		return false, nil

	case "/rename":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /rename <n|id> <name>")
		}
		sess, err := t.resolveSession(parts[1])
		if err != nil {
			return false, err
		}
		return false, t.ctrl.RenameSession(ctx, sess.ID, restAfter(cmd, 2))

	case "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /delete <n|id>")
		}
		sess, err := t.resolveSession(parts[1])
		if err != nil {
			return false, err
		}
		err = t.ctrl.DeleteSession(ctx, sess.ID)
		if errors.Is(err, controller.ErrCancelled) {
			return false, nil
		}
		return false, err

	case "/history":
		id := t.ctrl.State().CurrentSession
		if id == "" {
			return false, controller.ErrNoSession
		}
		t.mu.Lock()
		t.shown = make(map[int64]controller.EntryState)
		t.mu.Unlock()
		return false, t.ctrl.LoadHistory(ctx, id)

	case "/edit":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /edit <msg-id> [text]")
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid message id: %s", parts[1])
		}
		current, err := t.ctrl.BeginEdit(id)
		if err != nil {
			return false, err
		}
		text := restAfter(cmd, 2)
		if text == "" {
			t.printf("Current: %s\nNew text: ", current)
			if !t.scanner.Scan() {
				t.ctrl.CancelEdit(id)
				return true, nil
			}
			text = t.scanner.Text()
		}
		return false, t.ctrl.SaveEdit(ctx, id, text)

	case "/rm":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /rm <msg-id>")
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid message id: %s", parts[1])
		}
		err = t.ctrl.DeleteMessage(ctx, id)
		if errors.Is(err, controller.ErrCancelled) {
			return false, nil
		}
		return false, err

	case "/model":
		return false, t.handleModel(ctx, cmd, parts)

	case "/theme":
		dark := t.ctrl.ToggleTheme()
		name := "light"
		if dark {
			name = "dark"
		}
		t.printf("Theme: %s\n", name)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

func (t *Terminal) handleModel(ctx context.Context, cmd string, parts []string) error {
	sub := "show"
	if len(parts) > 1 {
		sub = parts[1]
	}

	switch sub {
	case "show":
		prompt, err := t.ctrl.OpenModelConfig(ctx, controller.ModeEdit)
		if err != nil {
			return err
		}
		t.printf("Model: %s\nSystem prompt: %s\n", t.ctrl.State().CurrentModel, prompt)
		return nil

	case "new":
		if len(parts) < 3 {
			return fmt.Errorf("usage: /model new <name> [prompt]")
		}
		if err := t.ctrl.SaveModelConfig(ctx, controller.ModeNew, parts[2], restAfter(cmd, 3)); err != nil {
			return err
		}
		t.printf("Now using model %s\n", t.ctrl.State().CurrentModel)
		return nil

	case "prompt":
		if err := t.ctrl.SaveModelConfig(ctx, controller.ModeEdit, "", restAfter(cmd, 2)); err != nil {
			return err
		}
		t.printf("System prompt updated\n")
		return nil

	default:
		return fmt.Errorf("usage: /model show|new <name> [prompt]|prompt <text>")
	}
}

// resolveSession accepts a position in the printed list or a session id
func (t *Terminal) resolveSession(ref string) (session.Session, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if sess, ok := t.listedSession(n); ok {
			return sess, nil
		}
		return session.Session{}, fmt.Errorf("no session numbered %d (see /sessions)", n)
	}
	if sess, ok := t.ctrl.FindSession(ref); ok {
		return sess, nil
	}
	return session.Session{}, fmt.Errorf("unknown session: %s (see /sessions)", ref)
}

// restAfter returns the text following the first n fields of line
func restAfter(line string, n int) string {
	rest := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return ""
		}
		rest = strings.TrimSpace(rest[idx:])
	}
	return rest
}
