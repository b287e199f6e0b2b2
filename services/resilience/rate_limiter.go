// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Quota is the number of admitted requests per sliding window.
type Quota struct {
	Limit  int
	Window time.Duration
}

// RateLimitError reports a denied admission with enough detail for the
// caller to build a useful client-facing response.
type RateLimitError struct {
	Principal    string
	OperationKey string
	Limit        int
	Window       time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s on %s: %d requests per %s",
		e.Principal, e.OperationKey, e.Limit, e.Window)
}

// RateLimiter admits requests per (principal, operation key) under a
// sliding-window quota.
//
// Each key tracks the timestamps of its admitted requests; a request is
// admitted when fewer than Limit timestamps fall inside the trailing
// Window. Admission and recording are a single atomic step, so N
// concurrent callers over quota can never all slip through. Denied
// requests are not recorded and do not extend the window.
//
// Thread Safety: all methods are safe for concurrent use.
type RateLimiter struct {
	mu sync.Mutex

	defaultQuota Quota
	quotas       map[string]Quota
	admitted     map[string][]time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter with a default quota applied to any
// operation key without an explicit override.
func NewRateLimiter(def Quota) *RateLimiter {
	if def.Limit <= 0 {
		def.Limit = 10
	}
	if def.Window <= 0 {
		def.Window = time.Minute
	}
	initMetrics()
	return &RateLimiter{
		defaultQuota: def,
		quotas:       make(map[string]Quota),
		admitted:     make(map[string][]time.Time),
		now:          time.Now,
	}
}

// SetQuota overrides the quota for one operation key. Existing recorded
// admissions are kept; the new quota applies from the next Check.
func (rl *RateLimiter) SetQuota(operationKey string, q Quota) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.quotas[operationKey] = q
}

// Check admits or denies one request for the given principal and
// operation key. On denial it returns a *RateLimitError carrying the
// violated quota.
func (rl *RateLimiter) Check(principal, operationKey string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	q := rl.defaultQuota
	if override, ok := rl.quotas[operationKey]; ok {
		q = override
	}

	key := principal + "\x00" + operationKey
	now := rl.now()
	cutoff := now.Add(-q.Window)

	kept := rl.admitted[key][:0]
	for _, ts := range rl.admitted[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= q.Limit {
		rl.admitted[key] = kept
		record(rateLimitRejectionsTotal, attribute.String("operation", operationKey))
		return &RateLimitError{
			Principal:    principal,
			OperationKey: operationKey,
			Limit:        q.Limit,
			Window:       q.Window,
		}
	}

	rl.admitted[key] = append(kept, now)
	return nil
}

// Usage returns the current admitted count inside the window for a key.
// Intended for status endpoints.
func (rl *RateLimiter) Usage(principal, operationKey string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	q := rl.defaultQuota
	if override, ok := rl.quotas[operationKey]; ok {
		q = override
	}
	cutoff := rl.now().Add(-q.Window)

	count := 0
	for _, ts := range rl.admitted[principal+"\x00"+operationKey] {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}
