package gateway

import (
	"context"
	"errors"

	"github.com/yoanipalmas/App-ApplyBot/internal/circuitbreaker"
)

// Breaker is the circuit breaker surface Guarded uses.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// Guarded fails fast with a network error while the endpoint's circuit is
// open. Only network errors count as failures; a rejection or rate limit
// proves the endpoint is reachable.
type Guarded struct {
	next    Submitter
	breaker Breaker
	key     string
}

func NewGuarded(next Submitter, breaker Breaker, key string) *Guarded {
	return &Guarded{next: next, breaker: breaker, key: key}
}

func (g *Guarded) Submit(ctx context.Context, s Submission) error {
	if err := g.breaker.Allow(g.key); err != nil {
		return NetworkError(err)
	}

	err := g.next.Submit(ctx, s)
	if err != nil && KindOf(err) == KindNetwork {
		g.breaker.RecordFailure(g.key)
		return err
	}
	g.breaker.RecordSuccess(g.key)
	return err
}

// IsCircuitOpen reports whether err came from an open circuit.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, circuitbreaker.ErrCircuitOpen)
}
