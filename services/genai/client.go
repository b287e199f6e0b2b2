// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package genai wraps the generative upstream behind the full resilience
// pipeline: response cache, per-principal rate limiter, circuit breaker,
// and bounded retry. Callers receive structured candidates and typed
// errors; raw transport errors never escape this package.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/wedsync/compliance-engine/services/compliance"
	"github.com/wedsync/compliance-engine/services/resilience"
)

// Request describes one generation call. All fields participate in the
// cache key, so equivalent requests (modulo case and whitespace) share a
// cached response.
type Request struct {
	// Operation names the request class for quota and cache partitioning,
	// e.g. "generate_menu".
	Operation string `json:"operation"`

	// Prompt is the natural-language task description.
	Prompt string `json:"prompt"`

	// Constraints are forwarded verbatim so the upstream can honor them.
	Constraints []compliance.Constraint `json:"constraints,omitempty"`

	// AvoidTokens lists ingredient or material tokens the upstream must
	// not use. Regeneration rounds grow this list from prior conflicts.
	AvoidTokens []string `json:"avoid_tokens,omitempty"`

	// MaxItems bounds the candidate size.
	MaxItems int `json:"max_items,omitempty"`
}

// CachePolicy controls response caching per call.
type CachePolicy struct {
	UseCache bool
	TTL      time.Duration
}

// RawCaller is the provider boundary: one network round trip, JSON
// request payload in, JSON candidate payload out. Implementations do not
// retry, cache, or classify; the Client owns all of that.
type RawCaller interface {
	Call(ctx context.Context, payload []byte) ([]byte, error)
}

// PermanentError marks a raw-call failure that retrying cannot fix, such
// as a rejected request schema. Adapters wrap such failures so the retry
// loop stops early.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Config assembles the pipeline around a RawCaller.
type Config struct {
	// Caller is the provider adapter. Required.
	Caller RawCaller

	// Limiter enforces per-principal quotas. Required.
	Limiter *resilience.RateLimiter

	// Breaker isolates the upstream. Required.
	Breaker *resilience.CircuitBreaker

	// Cache stores validated responses. Required.
	Cache resilience.ResponseCache

	// RetryPolicy bounds the backoff loop inside one breaker-protected
	// call. Zero value uses resilience defaults.
	RetryPolicy resilience.RetryPolicy

	// AttemptTimeout is the hard deadline per raw attempt. Default: 10s.
	AttemptTimeout time.Duration

	// Smoothing is an optional token bucket in front of the provider,
	// independent of per-principal quotas. Nil disables smoothing.
	Smoothing *rate.Limiter

	Logger *slog.Logger
}

// Client is the resilient generative client.
//
// Thread Safety: safe for concurrent use. Concurrent misses for the same
// cache key collapse into a single upstream call.
type Client struct {
	caller         RawCaller
	limiter        *resilience.RateLimiter
	breaker        *resilience.CircuitBreaker
	cache          resilience.ResponseCache
	retrier        *resilience.RetryExecutor
	retryPolicy    resilience.RetryPolicy
	attemptTimeout time.Duration
	smoothing      *rate.Limiter
	logger         *slog.Logger

	flight singleflight.Group
}

// NewClient validates the config and assembles the pipeline.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Caller == nil {
		return nil, errors.New("caller is required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if cfg.Breaker == nil {
		return nil, errors.New("breaker is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = resilience.DefaultRetryPolicy()
	}
	if cfg.RetryPolicy.ShouldRetry == nil {
		cfg.RetryPolicy.ShouldRetry = func(err error) bool {
			var perm *PermanentError
			return !errors.As(err, &perm)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		caller:         cfg.Caller,
		limiter:        cfg.Limiter,
		breaker:        cfg.Breaker,
		cache:          cfg.Cache,
		retrier:        resilience.NewRetryExecutor(cfg.Logger),
		retryPolicy:    cfg.RetryPolicy,
		attemptTimeout: cfg.AttemptTimeout,
		smoothing:      cfg.Smoothing,
		logger:         cfg.Logger,
	}, nil
}

// Generate runs one request through the pipeline.
//
// # Description
//
// A cache hit returns immediately and consumes no quota. On a miss the
// principal's quota is checked first, then the raw call runs inside the
// circuit breaker with bounded retry and a per-attempt timeout. The raw
// payload is structurally validated before it is cached; a malformed
// payload counts as a failed attempt.
//
// # Outputs
//
//   - *compliance.Candidate: the validated candidate on success.
//   - error: *resilience.RateLimitError on quota denial, otherwise
//     *UpstreamError. resilience.ErrCircuitOpen stays reachable through
//     errors.Is when the breaker rejected the call.
func (c *Client) Generate(ctx context.Context, principal string, req Request, policy CachePolicy) (*compliance.Candidate, error) {
	key, err := resilience.CacheKey(req.Operation, req)
	if err != nil {
		return nil, &UpstreamError{Kind: KindInvalidResponse, Operation: req.Operation, Err: err}
	}

	if policy.UseCache {
		if raw, ok := c.cache.Get(ctx, key); ok {
			candidate, err := parseCandidate(raw)
			if err == nil {
				c.logger.Debug("cache hit", "operation", req.Operation, "key", key)
				if candidate.ID == "" {
					candidate.ID = key
				}
				return candidate, nil
			}
			// A corrupt cached value falls through to a fresh call.
			c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err.Error())
		}
	}

	if err := c.limiter.Check(principal, req.Operation); err != nil {
		return nil, err
	}

	raw, err, _ := c.flight.Do(key, func() (any, error) {
		return c.callUpstream(ctx, req)
	})
	if err != nil {
		return nil, c.classify(req.Operation, err)
	}

	payload := raw.([]byte)
	candidate, err := parseCandidate(payload)
	if err != nil {
		// callUpstream validated the payload; reaching this means a shared
		// singleflight result was corrupted in flight.
		return nil, &UpstreamError{Kind: KindInvalidResponse, Operation: req.Operation, Err: err}
	}

	if policy.UseCache {
		if err := c.cache.Put(ctx, key, payload, policy.TTL); err != nil {
			c.logger.Warn("cache put failed", "key", key, "error", err.Error())
		}
	}

	if candidate.ID == "" {
		// Derive the ID from the content-addressed key so identical
		// requests yield identical candidates.
		candidate.ID = key
	}
	return candidate, nil
}

// callUpstream runs the breaker-wrapped retry loop and returns the
// validated raw payload.
func (c *Client) callUpstream(ctx context.Context, req Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	var result []byte
	err = c.breaker.Execute(ctx, func() error {
		return c.retrier.Do(ctx, c.retryPolicy, func(ctx context.Context) error {
			if c.smoothing != nil {
				if err := c.smoothing.Wait(ctx); err != nil {
					return err
				}
			}

			attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
			defer cancel()

			raw, err := c.caller.Call(attemptCtx, payload)
			if err != nil {
				return err
			}
			if _, err := parseCandidate(raw); err != nil {
				return fmt.Errorf("%w: %w", errInvalidPayload, err)
			}
			result = raw
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

var errInvalidPayload = errors.New("invalid upstream payload")

// classify maps pipeline errors onto the typed surface.
func (c *Client) classify(operation string, err error) error {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return &UpstreamError{Kind: KindUnavailable, Operation: operation, Err: err}
	case errors.Is(err, errInvalidPayload):
		return &UpstreamError{Kind: KindInvalidResponse, Operation: operation, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &UpstreamError{Kind: KindTimeout, Operation: operation, Err: err}
	default:
		return &UpstreamError{Kind: KindUnavailable, Operation: operation, Err: err}
	}
}

// parseCandidate strictly decodes and structurally validates a raw
// candidate payload.
func parseCandidate(raw []byte) (*compliance.Candidate, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var candidate compliance.Candidate
	if err := dec.Decode(&candidate); err != nil {
		return nil, fmt.Errorf("decode candidate: %w", err)
	}
	if len(candidate.Items) == 0 {
		return nil, errors.New("candidate has no items")
	}
	for i, item := range candidate.Items {
		if item.Name == "" {
			return nil, fmt.Errorf("item %d has no name", i)
		}
		if len(item.Tokens) == 0 {
			return nil, fmt.Errorf("item %d (%s) has no tokens", i, item.Name)
		}
		for j, token := range item.Tokens {
			if token == "" {
				return nil, fmt.Errorf("item %d (%s) has empty token %d", i, item.Name, j)
			}
		}
	}
	return &candidate, nil
}
