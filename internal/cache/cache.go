package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ModelChat/internal/backend"
)

// CachedResponse represents a cached model reply
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from the model and its context
func GenerateCacheKey(model string, turns []backend.Turn) string {
	h := sha256.New()
	h.Write([]byte(model))
	for _, turn := range turns {
		h.Write([]byte{0})
		h.Write([]byte(turn.Role))
		h.Write([]byte{0})
		h.Write([]byte(turn.Content))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Responder wraps another responder and reuses replies for identical contexts
type Responder struct {
	next   backend.Responder
	logger *slog.Logger
	ttl    time.Duration
	cache  sync.Map
}

// Wrap returns a caching responder around next. A zero ttl keeps entries forever.
func Wrap(next backend.Responder, ttl time.Duration, logger *slog.Logger) *Responder {
	return &Responder{next: next, ttl: ttl, logger: logger}
}

// Respond returns a cached reply when one exists, otherwise asks the wrapped responder
func (r *Responder) Respond(ctx context.Context, model string, turns []backend.Turn) (string, error) {
	cacheKey := GenerateCacheKey(model, turns)
	if cached, ok := r.check(cacheKey); ok {
		return cached, nil
	}

	response, err := r.next.Respond(ctx, model, turns)
	if err != nil {
		return "", err
	}

	r.store(cacheKey, response)
	return response, nil
}

// check checks if a response is cached
func (r *Responder) check(cacheKey string) (string, bool) {
	val, ok := r.cache.Load(cacheKey)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if r.ttl > 0 && time.Since(cached.Timestamp) > r.ttl {
		r.cache.Delete(cacheKey)
		return "", false
	}
	r.logger.Info("cache hit", "key", cacheKey[:16])
	return cached.Response, true
}

// store stores a response in cache
func (r *Responder) store(cacheKey, response string) {
	r.cache.Store(cacheKey, CachedResponse{
		Response:  response,
		Timestamp: time.Now(),
	})
	r.logger.Debug("cached response", "key", cacheKey[:16])
}
