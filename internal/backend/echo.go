package backend

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Echo is a stand-in model. It waits a random delay inside [min, max] and
// describes what it received.
type Echo struct {
	min, max time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewEcho creates an Echo responder
func NewEcho(min, max time.Duration) *Echo {
	if max < min {
		max = min
	}
	return &Echo{
		min: min,
		max: max,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Respond waits for the simulated delay and reports the context size
func (e *Echo) Respond(ctx context.Context, model string, turns []Turn) (string, error) {
	delay := e.delay()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Sprintf("Response after %.1fs delay. Received %d messages with model %s", delay.Seconds(), len(turns), model), nil
}

func (e *Echo) delay() time.Duration {
	span := e.max - e.min
	if span <= 0 {
		return e.min
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.min + time.Duration(e.rnd.Int63n(int64(span)+1))
}
