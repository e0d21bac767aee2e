package ai

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Breaker stops calling a failing generator for a cooldown period. While the
// circuit is open GenerateResponse fails fast with gobreaker.ErrOpenState.
type Breaker struct {
	next Generator
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker opens the circuit after failures consecutive errors and probes
// again after cooldown. Canceled requests are not counted as failures.
func NewBreaker(next Generator, name string, failures uint32, cooldown time.Duration, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	if failures == 0 {
		failures = 1
	}
	log = log.Named("ai")
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("generator circuit changed",
					zap.String("generator", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

func (b *Breaker) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.GenerateResponse(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State returns the circuit state: "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}
