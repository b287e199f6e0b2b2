// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package recommender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wedsync/compliance-engine/services/compliance"
	"github.com/wedsync/compliance-engine/services/genai"
	"github.com/wedsync/compliance-engine/services/resilience"
)

func testKB() *compliance.KnowledgeBase {
	return compliance.NewKnowledgeBase([]compliance.KnowledgeEntry{
		{
			Category: compliance.CategoryAllergy,
			Name:     "nuts",
			Triggers: []compliance.Trigger{
				{Token: "peanut", BaseSeverity: 5},
				{Token: "almond", BaseSeverity: 4},
			},
			CrossContamination: true,
			Alternatives:       []string{"sunflower seeds", "pumpkin seeds"},
		},
		{
			Category:     compliance.CategoryPreference,
			Name:         "vegetarian",
			Triggers:     []compliance.Trigger{{Token: "beef", BaseSeverity: 3}},
			Alternatives: []string{"grilled halloumi"},
		},
	})
}

func nutAllergySet() compliance.ConstraintSet {
	return compliance.ConstraintSet{Constraints: []compliance.Constraint{
		{Name: "nuts", Category: compliance.CategoryAllergy, Severity: 5},
	}}
}

func safeCandidate() *compliance.Candidate {
	return &compliance.Candidate{
		ID:   "cand-safe",
		Kind: "menu",
		Items: []compliance.CandidateItem{
			{Name: "garden salad", Tokens: []string{"lettuce", "tomato"}},
		},
	}
}

func nuttyCandidate() *compliance.Candidate {
	return &compliance.Candidate{
		ID:   "cand-nutty",
		Kind: "menu",
		Items: []compliance.CandidateItem{
			{Name: "peanut satay", Tokens: []string{"peanut", "chicken"}},
		},
	}
}

// scriptedGenerator returns each response once, in order, and records the
// requests it saw.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []func() (*compliance.Candidate, error)
	requests  []genai.Request
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string, req genai.Request, _ genai.CachePolicy) (*compliance.Candidate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	n := len(g.requests) - 1
	if n >= len(g.responses) {
		n = len(g.responses) - 1
	}
	return g.responses[n]()
}

func candidate(c *compliance.Candidate) func() (*compliance.Candidate, error) {
	return func() (*compliance.Candidate, error) { return c, nil }
}

func generationError(err error) func() (*compliance.Candidate, error) {
	return func() (*compliance.Candidate, error) { return nil, err }
}

func newTestOrchestrator(t *testing.T, gen Generator, mutate ...func(*Config)) *Orchestrator {
	t.Helper()
	cfg := Config{
		AcceptanceThreshold:     0.9,
		MaxRegenerationAttempts: 2,
		CacheTTL:                time.Minute,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	o, err := NewOrchestrator(gen, compliance.NewSnapshotHolder(testKB()), cfg)
	require.NoError(t, err)
	return o
}

func TestProcess_AcceptsCompliantCandidate(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*compliance.Candidate, error){
		candidate(safeCandidate()),
	}}
	o := newTestOrchestrator(t, gen)

	res, err := o.Process(context.Background(), "vendor-a", nutAllergySet())
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Report.Score)
	assert.False(t, res.Report.Fallback)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, gen.requests, 1)
}

func TestProcess_RegeneratesWithAvoidTokens(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*compliance.Candidate, error){
		candidate(nuttyCandidate()),
		candidate(safeCandidate()),
	}}
	o := newTestOrchestrator(t, gen)

	res, err := o.Process(context.Background(), "vendor-a", nutAllergySet())
	require.NoError(t, err)
	assert.False(t, res.Report.Fallback)
	assert.Equal(t, 2, res.Attempts)

	require.Len(t, gen.requests, 2)
	assert.Empty(t, gen.requests[0].AvoidTokens)
	assert.Contains(t, gen.requests[1].AvoidTokens, "peanut",
		"prior conflict trigger missing from regeneration request")
}

func TestProcess_FallbackAfterRepeatedFailures(t *testing.T) {
	// The upstream fails every round; the caller still gets a compliant
	// report.
	gen := &scriptedGenerator{responses: []func() (*compliance.Candidate, error){
		generationError(&genai.UpstreamError{Kind: genai.KindUnavailable, Err: errors.New("connection reset")}),
	}}
	o := newTestOrchestrator(t, gen)

	res, err := o.Process(context.Background(), "vendor-a", nutAllergySet())
	require.NoError(t, err)
	assert.True(t, res.Report.Fallback)
	assert.Equal(t, 1.0, res.Report.Score, "fallback must be compliant by construction")
	assert.Equal(t, compliance.RiskLow, res.Report.Risk)
	assert.NotEmpty(t, res.Report.Candidate.Items)
}

func TestProcess_FallbackAfterExhaustedRegeneration(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*compliance.Candidate, error){
		candidate(nuttyCandidate()),
	}}
	o := newTestOrchestrator(t, gen)

	res, err := o.Process(context.Background(), "vendor-a", nutAllergySet())
	require.NoError(t, err)
	assert.True(t, res.Report.Fallback)
	assert.Equal(t, 1.0, res.Report.Score)
	// Initial attempt plus two regenerations.
	assert.Len(t, gen.requests, 3)
}

func TestProcess_InvalidConstraintSetSurfaced(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*compliance.Candidate, error){
		candidate(safeCandidate()),
	}}
	o := newTestOrchestrator(t, gen)

	_, err := o.Process(context.Background(), "vendor-a", compliance.ConstraintSet{})
	var ve *compliance.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, gen.requests, "invalid set reached the generator")
}

func TestProcess_RateLimitOnFirstAttemptSurfaced(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*compliance.Candidate, error){
		generationError(&resilience.RateLimitError{
			Principal: "vendor-a", OperationKey: "generate_recommendation",
			Limit: 1, Window: time.Minute,
		}),
	}}
	o := newTestOrchestrator(t, gen)

	_, err := o.Process(context.Background(), "vendor-a", nutAllergySet())
	var rle *resilience.RateLimitError
	require.ErrorAs(t, err, &rle)
}

func TestProcess_RateLimitMidRegenerationFallsBack(t *testing.T) {
	gen := &scriptedGenerator{responses: []func() (*compliance.Candidate, error){
		candidate(nuttyCandidate()),
		generationError(&resilience.RateLimitError{
			Principal: "vendor-a", OperationKey: "generate_recommendation",
			Limit: 1, Window: time.Minute,
		}),
	}}
	o := newTestOrchestrator(t, gen)

	res, err := o.Process(context.Background(), "vendor-a", nutAllergySet())
	require.NoError(t, err, "mid-flight rate limit must degrade, not fail")
	assert.True(t, res.Report.Fallback)
}

func TestProcess_TransitionSequence(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	gen := &scriptedGenerator{responses: []func() (*compliance.Candidate, error){
		candidate(nuttyCandidate()),
		candidate(safeCandidate()),
	}}
	o := newTestOrchestrator(t, gen, func(cfg *Config) {
		cfg.OnTransition = func(tr Transition) {
			mu.Lock()
			seen = append(seen, tr.To.String())
			mu.Unlock()
		}
	})

	_, err := o.Process(context.Background(), "vendor-a", nutAllergySet())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"REQUESTED",
		"CANDIDATE_GENERATED", "ANALYZED", "REGENERATING",
		"CANDIDATE_GENERATED", "ANALYZED", "ACCEPTED", "DONE",
	}
	assert.Equal(t, want, seen)
}

func TestBuildFallbackCandidate_Deterministic(t *testing.T) {
	kb := testKB()
	set := nutAllergySet()

	a := BuildFallbackCandidate(set, kb)
	b := BuildFallbackCandidate(set, kb)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a.ID)

	report := compliance.Analyze(a, set, kb)
	assert.Empty(t, report.Conflicts, "fallback produced conflicts")
	assert.Equal(t, 1.0, report.Score)
}

func TestBuildFallbackCandidate_AvoidsTriggerTokens(t *testing.T) {
	kb := testKB()
	c := BuildFallbackCandidate(nutAllergySet(), kb)

	require.NotEmpty(t, c.Items)
	for _, item := range c.Items {
		for _, token := range item.Tokens {
			assert.True(t, kb.TokenIsSafe(token), "unsafe token %q in fallback", token)
		}
	}
}
