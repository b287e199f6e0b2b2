// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wedsync/compliance-engine/services/compliance"
	"github.com/wedsync/compliance-engine/services/resilience"
)

// EngineStatus is the observable health of the resilience components.
// It is a read-only snapshot; nothing here can force a breaker
// transition or mutate the cache.
type EngineStatus struct {
	Breaker        resilience.CircuitBreakerStats `json:"breaker"`
	Cache          resilience.CacheStats          `json:"cache"`
	KnowledgeRules int                            `json:"knowledge_rules"`
}

// HandleEngineStatus reports breaker, cache, and knowledge snapshot
// state.
func HandleEngineStatus(breaker *resilience.CircuitBreaker, cache resilience.ResponseCache, holder *compliance.SnapshotHolder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, EngineStatus{
			Breaker:        breaker.Stats(),
			Cache:          cache.Stats(),
			KnowledgeRules: len(holder.Snapshot().Entries()),
		})
	}
}

// HealthCheck is the liveness probe.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
