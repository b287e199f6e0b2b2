// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resilience provides the failure-isolation primitives the engine
// wraps around the external generative service: circuit breaker, bounded
// retry, per-principal rate limiting, and a content-addressed response
// cache. Each primitive is an explicitly owned, injected value with internal
// synchronization; there are no ambient globals, so tests construct
// isolated instances per case.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// CircuitState represents the circuit breaker state.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failures in window]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[trial success]◄── HALF_OPEN ◄──[recovery timeout]
type CircuitState int

const (
	// CircuitClosed is the normal operating state; calls pass through.
	CircuitClosed CircuitState = iota

	// CircuitOpen means the breaker has tripped; calls are rejected
	// immediately without touching the upstream.
	CircuitOpen

	// CircuitHalfOpen allows exactly one trial call through to probe
	// recovery; concurrent callers are rejected, not queued.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StateChangeFunc observes breaker transitions for monitoring. Observers
// receive a copy of the facts and have no way to force a transition.
type StateChangeFunc func(dependency string, from, to CircuitState)

// CircuitBreakerConfig configures breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures within MonitoringWindow
	// before the breaker opens. Default: 5.
	FailureThreshold int

	// RecoveryTimeout is how long after the last failure an OPEN breaker
	// waits before allowing a half-open trial. Default: 30s.
	RecoveryTimeout time.Duration

	// MonitoringWindow is the rolling window failures are counted in.
	// Default: 60s.
	MonitoringWindow time.Duration

	// OnStateChange is an optional observer callback, invoked outside the
	// breaker's lock.
	OnStateChange StateChangeFunc
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: 60 * time.Second,
	}
}

// CircuitBreakerStats is a read-only view of breaker state for status
// endpoints and tests.
type CircuitBreakerStats struct {
	Dependency      string    `json:"dependency"`
	State           string    `json:"state"`
	WindowFailures  int       `json:"window_failures"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	LastFailure     time.Time `json:"last_failure,omitzero"`
}

// CircuitBreaker isolates one upstream dependency behind a CLOSED / OPEN /
// HALF_OPEN state machine with a single authoritative transition function.
//
// Thread Safety: safe for concurrent use. State reads and writes are atomic
// with respect to concurrent Execute calls; at most one half-open trial is
// in flight at any time.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time

	mu               sync.Mutex
	state            CircuitState
	failures         []time.Time
	lastFailure      time.Time
	halfOpenInFlight bool

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// NewCircuitBreaker creates a breaker for one named upstream dependency.
// Zero config fields fall back to the defaults.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = def.RecoveryTimeout
	}
	if config.MonitoringWindow <= 0 {
		config.MonitoringWindow = def.MonitoringWindow
	}
	initMetrics()
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs one protected call against the upstream.
//
// # Description
//
// In CLOSED state the call passes through and a failure is recorded in the
// rolling window. In OPEN state the call is rejected with ErrCircuitOpen
// without invoking op, unless RecoveryTimeout has elapsed since the last
// failure, in which case this caller becomes the half-open trial. In
// HALF_OPEN state only the single trial is in flight; every other caller is
// rejected immediately.
//
// A call that fails because the caller's ctx was cancelled still returns
// the error but is not recorded as a breaker failure: no definitive
// upstream response was observed.
//
// # Outputs
//
//   - error: ErrCircuitOpen (wrapped with the dependency name) if rejected,
//     otherwise whatever op returned.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func() error) error {
	allowed, release, notify := cb.allow()
	if notify != nil {
		notify()
	}
	if !allowed {
		record(breakerRejectionsTotal, attribute.String("dependency", cb.name))
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}
	if release != nil {
		defer release()
	}

	err := op()
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled by the caller; not evidence against the upstream.
			return err
		}
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// allow decides whether a call may proceed. It returns a release func for
// half-open trials and a deferred observer notification if a transition
// happened while deciding.
func (cb *CircuitBreaker) allow() (allowed bool, release func(), notify func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++

	switch cb.state {
	case CircuitClosed:
		return true, nil, nil

	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.config.RecoveryTimeout {
			cb.totalRejections++
			return false, nil, nil
		}
		notify = cb.setState(CircuitHalfOpen)
		allowed, release = cb.tryHalfOpen()
		return allowed, release, notify

	case CircuitHalfOpen:
		allowed, release = cb.tryHalfOpen()
		return allowed, release, nil
	}

	return false, nil, nil
}

// tryHalfOpen claims the single trial slot. Must be called with the lock
// held.
func (cb *CircuitBreaker) tryHalfOpen() (bool, func()) {
	if cb.halfOpenInFlight {
		cb.totalRejections++
		return false, nil
	}
	cb.halfOpenInFlight = true
	return true, func() {
		cb.mu.Lock()
		cb.halfOpenInFlight = false
		cb.mu.Unlock()
	}
}

// recordSuccess closes the breaker after a successful half-open trial.
func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	var notify func()
	if cb.state == CircuitHalfOpen {
		notify = cb.setState(CircuitClosed)
	}
	cb.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// recordFailure adds to the rolling window and opens the breaker when the
// threshold is reached or a half-open trial fails.
func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()

	now := cb.now()
	cb.totalFailures++
	cb.lastFailure = now
	cb.failures = append(cb.failures, now)
	cb.pruneWindow(now)

	var notify func()
	switch cb.state {
	case CircuitClosed:
		if len(cb.failures) >= cb.config.FailureThreshold {
			notify = cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		notify = cb.setState(CircuitOpen)
	}

	cb.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// pruneWindow drops failures older than the monitoring window. Must be
// called with the lock held.
func (cb *CircuitBreaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-cb.config.MonitoringWindow)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = kept
}

// setState is the single authoritative transition function. Must be called
// with the lock held; returns the observer notification to run after the
// lock is released.
func (cb *CircuitBreaker) setState(to CircuitState) func() {
	if cb.state == to {
		return nil
	}
	from := cb.state
	cb.state = to
	if to == CircuitClosed {
		cb.failures = nil
	}

	record(breakerTransitionsTotal,
		attribute.String("dependency", cb.name),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()))

	fn := cb.config.OnStateChange
	if fn == nil {
		return nil
	}
	name := cb.name
	return func() { fn(name, from, to) }
}

// Stats returns a snapshot for observability. The snapshot is a copy;
// holding it does not block the breaker.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Dependency:      cb.name,
		State:           cb.state.String(),
		WindowFailures:  len(cb.failures),
		TotalCalls:      cb.totalCalls,
		TotalFailures:   cb.totalFailures,
		TotalRejections: cb.totalRejections,
		LastFailure:     cb.lastFailure,
	}
}

// Reset returns the breaker to CLOSED with cleared counters. Intended for
// tests and operator tooling.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.setState(CircuitClosed)
	cb.failures = nil
	cb.halfOpenInFlight = false
	cb.mu.Unlock()
	if notify != nil {
		notify()
	}
}
