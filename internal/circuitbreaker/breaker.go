// Package circuitbreaker trips per submission endpoint after repeated
// transport failures so a dead target is not hammered every batch.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type endpoint struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks endpoints by key. A threshold of 0 disables it.
type Breaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		endpoints: make(map[string]*endpoint),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// Allow returns ErrCircuitOpen while the endpoint is open. After the
// cooldown a single probe is let through; further calls wait for its result.
func (b *Breaker) Allow(key string) error {
	if b.threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.endpoints[key]
	if !ok {
		return nil
	}
	switch e.state {
	case StateOpen:
		if b.clock().Sub(e.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		e.state = StateHalfOpen
		return nil
	case StateHalfOpen:
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess closes the endpoint.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.endpoints[key]; ok {
		e.state = StateClosed
		e.failures = 0
	}
}

// RecordFailure counts a transport failure. A failed half-open probe
// reopens immediately.
func (b *Breaker) RecordFailure(key string) {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.endpoints[key]
	if !ok {
		e = &endpoint{state: StateClosed}
		b.endpoints[key] = e
	}
	e.failures++
	if e.state == StateHalfOpen || e.failures >= b.threshold {
		e.state = StateOpen
		e.openedAt = b.clock()
	}
}

// State reports the current state of an endpoint.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.endpoints[key]; ok {
		return e.state
	}
	return StateClosed
}

// Snapshot returns the state of every endpoint that has failed at least once.
func (b *Breaker) Snapshot() map[string]State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]State, len(b.endpoints))
	for k, e := range b.endpoints {
		out[k] = e.state
	}
	return out
}
