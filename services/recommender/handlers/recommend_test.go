// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wedsync/compliance-engine/services/compliance"
	"github.com/wedsync/compliance-engine/services/genai"
	"github.com/wedsync/compliance-engine/services/recommender"
	"github.com/wedsync/compliance-engine/services/resilience"
)

// stubGenerator always returns the same safe candidate.
type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, string, genai.Request, genai.CachePolicy) (*compliance.Candidate, error) {
	return &compliance.Candidate{
		ID:   "cand-1",
		Kind: "menu",
		Items: []compliance.CandidateItem{
			{Name: "garden salad", Tokens: []string{"lettuce"}},
		},
	}, nil
}

// quotaGenerator is over quota from the first call.
type quotaGenerator struct{}

func (quotaGenerator) Generate(context.Context, string, genai.Request, genai.CachePolicy) (*compliance.Candidate, error) {
	return nil, &resilience.RateLimitError{
		Principal: "vendor-a", OperationKey: "generate_recommendation",
		Limit: 1, Window: time.Minute,
	}
}

func testRouter(t *testing.T, gen recommender.Generator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kb := compliance.NewKnowledgeBase([]compliance.KnowledgeEntry{{
		Category: compliance.CategoryAllergy,
		Name:     "nuts",
		Triggers: []compliance.Trigger{{Token: "peanut", BaseSeverity: 5}},
	}})
	orch, err := recommender.NewOrchestrator(gen, compliance.NewSnapshotHolder(kb), recommender.Config{})
	require.NoError(t, err)

	router := gin.New()
	router.POST("/v1/recommendations", HandleRecommendation(orch))
	return router
}

func postRecommendation(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/recommendations", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleRecommendation_OK(t *testing.T) {
	router := testRouter(t, stubGenerator{})

	w := postRecommendation(t, router, RecommendationRequest{
		Principal: "vendor-a",
		Constraints: compliance.ConstraintSet{Constraints: []compliance.Constraint{
			{Name: "nuts", Category: compliance.CategoryAllergy, Severity: 5},
		}},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result recommender.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, 1.0, result.Report.Score)
}

func TestHandleRecommendation_InvalidConstraints(t *testing.T) {
	router := testRouter(t, stubGenerator{})

	w := postRecommendation(t, router, RecommendationRequest{
		Principal:   "vendor-a",
		Constraints: compliance.ConstraintSet{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRecommendation_MissingPrincipal(t *testing.T) {
	router := testRouter(t, stubGenerator{})

	w := postRecommendation(t, router, RecommendationRequest{
		Constraints: compliance.ConstraintSet{Constraints: []compliance.Constraint{
			{Name: "nuts", Category: compliance.CategoryAllergy, Severity: 5},
		}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRecommendation_RateLimited(t *testing.T) {
	router := testRouter(t, quotaGenerator{})

	w := postRecommendation(t, router, RecommendationRequest{
		Principal: "vendor-a",
		Constraints: compliance.ConstraintSet{Constraints: []compliance.Constraint{
			{Name: "nuts", Category: compliance.CategoryAllergy, Severity: 5},
		}},
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestHandleEngineStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	breaker := resilience.NewCircuitBreaker("upstream", resilience.DefaultCircuitBreakerConfig())
	cache := resilience.NewMemoryCache(resilience.MemoryCacheConfig{})
	holder := compliance.NewSnapshotHolder(compliance.NewKnowledgeBase(nil))

	router := gin.New()
	router.GET("/v1/engine/status", HandleEngineStatus(breaker, cache, holder))

	req := httptest.NewRequest(http.MethodGet, "/v1/engine/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var status EngineStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "CLOSED", status.Breaker.State)
}
