package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"ModelChat/internal/backend"
)

type countingResponder struct {
	calls int
	reply string
	err   error
}

func (c *countingResponder) Respond(ctx context.Context, model string, turns []backend.Turn) (string, error) {
	c.calls++
	return c.reply, c.err
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestGenerateCacheKey(t *testing.T) {
	turns := []backend.Turn{{Role: backend.RoleUser, Content: "hi"}}

	if GenerateCacheKey("a", turns) == GenerateCacheKey("b", turns) {
		t.Error("keys should differ by model")
	}
	other := []backend.Turn{{Role: backend.RoleAssistant, Content: "hi"}}
	if GenerateCacheKey("a", turns) == GenerateCacheKey("a", other) {
		t.Error("keys should differ by role")
	}
	// Field boundaries matter: "ab"+"c" must not collide with "a"+"bc"
	left := []backend.Turn{{Role: "ab", Content: "c"}}
	right := []backend.Turn{{Role: "a", Content: "bc"}}
	if GenerateCacheKey("m", left) == GenerateCacheKey("m", right) {
		t.Error("keys should not collide across field boundaries")
	}
	if GenerateCacheKey("a", turns) != GenerateCacheKey("a", turns) {
		t.Error("keys should be stable")
	}
}

func TestResponder_ReusesReply(t *testing.T) {
	next := &countingResponder{reply: "cached answer"}
	r := Wrap(next, 0, discard)
	turns := []backend.Turn{{Role: backend.RoleUser, Content: "hi"}}

	for i := 0; i < 3; i++ {
		got, err := r.Respond(context.Background(), "gpt-x", turns)
		if err != nil {
			t.Fatalf("Respond() error = %v", err)
		}
		if got != "cached answer" {
			t.Errorf("Respond() = %q", got)
		}
	}
	if next.calls != 1 {
		t.Errorf("wrapped responder called %d times, want 1", next.calls)
	}
}

func TestResponder_DoesNotCacheErrors(t *testing.T) {
	next := &countingResponder{err: errors.New("boom")}
	r := Wrap(next, 0, discard)
	turns := []backend.Turn{{Role: backend.RoleUser, Content: "hi"}}

	r.Respond(context.Background(), "gpt-x", turns)
	r.Respond(context.Background(), "gpt-x", turns)
	if next.calls != 2 {
		t.Errorf("wrapped responder called %d times, want 2", next.calls)
	}
}

func TestResponder_ExpiresEntries(t *testing.T) {
	next := &countingResponder{reply: "x"}
	r := Wrap(next, time.Nanosecond, discard)
	turns := []backend.Turn{{Role: backend.RoleUser, Content: "hi"}}

	r.Respond(context.Background(), "gpt-x", turns)
	time.Sleep(time.Millisecond)
	r.Respond(context.Background(), "gpt-x", turns)
	if next.calls != 2 {
		t.Errorf("wrapped responder called %d times, want 2 after expiry", next.calls)
	}
}
