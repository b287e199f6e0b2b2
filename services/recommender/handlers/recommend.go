// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers holds the gin handlers for the engine's inbound API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/wedsync/compliance-engine/pkg/validation"
	"github.com/wedsync/compliance-engine/services/compliance"
	"github.com/wedsync/compliance-engine/services/recommender"
	"github.com/wedsync/compliance-engine/services/resilience"
)

var handlerTracer = otel.Tracer("wedsync.recommender.handlers")

// RecommendationRequest is the POST body for a recommendation.
type RecommendationRequest struct {
	Principal   string                   `json:"principal"`
	Constraints compliance.ConstraintSet `json:"constraints"`
}

// HandleRecommendation runs one request through the orchestrator.
// Responses: 200 with the result, 400 for an invalid constraint set,
// 429 when the principal is over quota.
func HandleRecommendation(orch *recommender.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleRecommendation")
		defer span.End()

		var req RecommendationRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("failed to parse the recommendation request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		principal, err := validation.SanitizePrincipal(req.Principal)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := orch.Process(ctx, principal, req.Constraints)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			var ve *compliance.ValidationError
			if errors.As(err, &ve) {
				c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
				return
			}
			var rle *resilience.RateLimitError
			if errors.As(err, &rle) {
				c.Header("Retry-After", rle.Window.String())
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error":  rle.Error(),
					"limit":  rle.Limit,
					"window": rle.Window.String(),
				})
				return
			}
			// Process only returns the two typed errors above; anything
			// else indicates a wiring bug.
			slog.Error("unexpected orchestrator error", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
