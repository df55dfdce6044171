// Package circuitbreaker stops hammering an SMS endpoint that keeps
// rejecting sends. State is tracked per endpoint, so a broken primary
// gateway does not block the admin-relay path on another provider.
package circuitbreaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// endpoint holds one transport's recent send history. Sends travel on a
// single serialized lane per transport, so at most one half-open probe
// can be outstanding; probing marks it so a stray concurrent caller
// cannot slip a second request through mid-probe.
type endpoint struct {
	failures int       // consecutive, cleared on success
	openedAt time.Time // zero while the circuit is closed
	probing  bool
}

func (e *endpoint) open() bool { return !e.openedAt.IsZero() }

func (e *endpoint) reset() {
	e.failures = 0
	e.openedAt = time.Time{}
	e.probing = false
}

// CircuitBreaker opens an endpoint after threshold consecutive failures
// and lets a single probe through once cooldown has elapsed.
type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		endpoints: make(map[string]*endpoint),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Allow reports whether a send to name may proceed. The first caller
// after the cooldown elapses becomes the probe; everyone else keeps
// getting ErrCircuitOpen until the probe's outcome is recorded.
func (cb *CircuitBreaker) Allow(name string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[name]
	if !ok || !e.open() {
		return nil
	}
	if e.probing {
		return ErrCircuitOpen
	}
	if cb.clock().Sub(e.openedAt) < cb.cooldown {
		return ErrCircuitOpen
	}
	e.probing = true
	return nil
}

// RecordSuccess clears the endpoint's failure run and closes its circuit.
func (cb *CircuitBreaker) RecordSuccess(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[name]
	if !ok {
		return
	}
	if e.open() {
		log.Printf("circuitbreaker: %s closed after successful probe", name)
	}
	e.reset()
}

// RecordFailure counts a failed send. The circuit opens at threshold, and
// a failed probe re-arms the full cooldown from now.
func (cb *CircuitBreaker) RecordFailure(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[name]
	if !ok {
		e = &endpoint{}
		cb.endpoints[name] = e
	}

	e.failures++
	if !e.probing && e.failures < cb.threshold {
		return
	}
	if !e.open() {
		log.Printf("circuitbreaker: %s opened after %d consecutive failures", name, e.failures)
	}
	e.openedAt = cb.clock()
	e.probing = false
}
