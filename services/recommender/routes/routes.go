// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/wedsync/compliance-engine/services/compliance"
	"github.com/wedsync/compliance-engine/services/recommender"
	"github.com/wedsync/compliance-engine/services/recommender/handlers"
	"github.com/wedsync/compliance-engine/services/resilience"
)

func SetupRoutes(router *gin.Engine, orch *recommender.Orchestrator,
	breaker *resilience.CircuitBreaker, cache resilience.ResponseCache,
	holder *compliance.SnapshotHolder) {

	router.GET("/health", handlers.HealthCheck)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/recommendations", handlers.HandleRecommendation(orch))
		v1.GET("/recommendations/ws", handlers.HandleRecommendationWS(orch))
		v1.GET("/engine/status", handlers.HandleEngineStatus(breaker, cache, holder))
	}
}
