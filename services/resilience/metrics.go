// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for resilience primitives.
var meter = otel.Meter("wedsync.resilience")

// Metrics emitted by the resilience primitives.
var (
	breakerTransitionsTotal  metric.Int64Counter
	breakerRejectionsTotal   metric.Int64Counter
	retryAttemptsTotal       metric.Int64Counter
	rateLimitRejectionsTotal metric.Int64Counter
	cacheEventsTotal         metric.Int64Counter

	metricsOnce sync.Once
)

// initMetrics lazily creates the instruments. Called from every component
// constructor; instrument creation failures leave the counter nil and the
// record helpers treat nil as a no-op, so the engine works without an SDK.
func initMetrics() {
	metricsOnce.Do(func() {
		breakerTransitionsTotal, _ = meter.Int64Counter("resilience.breaker.transitions",
			metric.WithDescription("Circuit breaker state transitions"))
		breakerRejectionsTotal, _ = meter.Int64Counter("resilience.breaker.rejections",
			metric.WithDescription("Calls short-circuited by an open breaker"))
		retryAttemptsTotal, _ = meter.Int64Counter("resilience.retry.attempts",
			metric.WithDescription("Individual attempts made by the retry executor"))
		rateLimitRejectionsTotal, _ = meter.Int64Counter("resilience.ratelimit.rejections",
			metric.WithDescription("Checks rejected because a quota was exhausted"))
		cacheEventsTotal, _ = meter.Int64Counter("resilience.cache.events",
			metric.WithDescription("Response cache hits, misses, and evictions"))
	})
}

// record adds to a counter if it was created successfully.
func record(c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
