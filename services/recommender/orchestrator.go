// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package recommender coordinates candidate generation, compliance
// analysis, bounded regeneration, and the deterministic fallback. It is
// the only component allowed to degrade to a fallback result, and it
// never propagates raw upstream errors: callers receive a
// ComplianceReport, a *compliance.ValidationError, or a
// *resilience.RateLimitError, nothing else.
package recommender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wedsync/compliance-engine/services/compliance"
	"github.com/wedsync/compliance-engine/services/genai"
	"github.com/wedsync/compliance-engine/services/resilience"
)

var tracer = otel.Tracer("wedsync.recommender")

// Generator is the candidate source. *genai.Client satisfies it; tests
// substitute fakes.
type Generator interface {
	Generate(ctx context.Context, principal string, req genai.Request, policy genai.CachePolicy) (*compliance.Candidate, error)
}

// Config tunes the orchestrator.
type Config struct {
	// Operation partitions quota and cache entries. Default:
	// "generate_recommendation".
	Operation string

	// AcceptanceThreshold is the minimum compliance score for immediate
	// acceptance. Default: 0.9.
	AcceptanceThreshold float64

	// MaxRegenerationAttempts bounds regeneration rounds after the first
	// candidate. Default: 2.
	MaxRegenerationAttempts int

	// CacheTTL applies to generated candidates. Default: 5m.
	CacheTTL time.Duration

	// MaxItems bounds candidate size in generation requests.
	MaxItems int

	// OnTransition observes the request state machine, e.g. for
	// streaming progress over a websocket.
	OnTransition TransitionFunc

	Logger *slog.Logger
}

// Result is the terminal outcome of one recommendation request.
type Result struct {
	RequestID string                      `json:"request_id"`
	Report    compliance.ComplianceReport `json:"report"`
	Attempts  int                         `json:"attempts"`
}

// Orchestrator drives the per-request state machine.
//
// Thread Safety: safe for concurrent use; all per-request state lives on
// the stack of Process.
type Orchestrator struct {
	gen      Generator
	holder   *compliance.SnapshotHolder
	config   Config
	logger   *slog.Logger
	observer TransitionFunc
}

// NewOrchestrator wires the generator and knowledge snapshot together.
func NewOrchestrator(gen Generator, holder *compliance.SnapshotHolder, config Config) (*Orchestrator, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if holder == nil {
		return nil, errors.New("knowledge snapshot holder is required")
	}
	if config.Operation == "" {
		config.Operation = "generate_recommendation"
	}
	if config.AcceptanceThreshold <= 0 {
		config.AcceptanceThreshold = 0.9
	}
	if config.MaxRegenerationAttempts < 0 {
		config.MaxRegenerationAttempts = 0
	} else if config.MaxRegenerationAttempts == 0 {
		config.MaxRegenerationAttempts = 2
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Orchestrator{
		gen:      gen,
		holder:   holder,
		config:   config,
		logger:   config.Logger,
		observer: config.OnTransition,
	}, nil
}

// Process runs one recommendation request to completion.
//
// # Description
//
// The request moves through REQUESTED → CANDIDATE_GENERATED → ANALYZED.
// An analyzed candidate is accepted when its score reaches the threshold
// or its risk is below critical. Otherwise the orchestrator regenerates,
// appending every conflicting token seen so far as an avoid-constraint,
// up to MaxRegenerationAttempts rounds. Exhaustion, an unavailable
// upstream, or a rate limit hit after the first round all degrade to the
// deterministic fallback candidate, which is compliant by construction.
//
// # Outputs
//
//   - *Result: always carries a ComplianceReport when err is nil,
//     possibly with Fallback=true.
//   - error: *compliance.ValidationError for an invalid ConstraintSet,
//     or *resilience.RateLimitError when the very first generation was
//     over quota. Nothing else.
func (o *Orchestrator) Process(ctx context.Context, principal string, set compliance.ConstraintSet) (*Result, error) {
	return o.ProcessObserved(ctx, principal, set, nil)
}

// ProcessObserved is Process with an additional per-call observer, used
// by the websocket handler to stream one request's transitions. The
// configured observer still fires.
func (o *Orchestrator) ProcessObserved(ctx context.Context, principal string, set compliance.ConstraintSet, observer TransitionFunc) (*Result, error) {
	ctx, span := tracer.Start(ctx, "recommender.Process",
		trace.WithAttributes(
			attribute.String("principal", principal),
			attribute.Int("constraints", len(set.Constraints)),
		))
	defer span.End()

	requestID := uuid.NewString()
	span.SetAttributes(attribute.String("request_id", requestID))

	req := &requestRun{
		orchestrator: o,
		observer:     observer,
		id:           requestID,
		state:        StateRequested,
	}
	req.enter(StateRequested)

	if err := compliance.ValidateConstraintSet(set); err != nil {
		o.logger.Warn("rejecting invalid constraint set", "request_id", requestID, "error", err.Error())
		return nil, err
	}

	kb := o.holder.Snapshot()
	avoid := []string{}

	for attempt := 0; attempt <= o.config.MaxRegenerationAttempts; attempt++ {
		req.attempt = attempt

		candidate, err := o.gen.Generate(ctx, principal, genai.Request{
			Operation:   o.config.Operation,
			Prompt:      buildPrompt(set),
			Constraints: set.Constraints,
			AvoidTokens: avoid,
			MaxItems:    o.config.MaxItems,
		}, genai.CachePolicy{UseCache: true, TTL: o.config.CacheTTL})

		if err != nil {
			var rle *resilience.RateLimitError
			if errors.As(err, &rle) && attempt == 0 {
				// Quota protection: the caller is over budget and a
				// fallback would mask that.
				return nil, rle
			}
			o.logger.Warn("generation failed, degrading to fallback",
				"request_id", requestID, "attempt", attempt, "error", err.Error())
			return req.fallback(set, kb), nil
		}

		req.enter(StateCandidateGenerated)
		report := compliance.Analyze(*candidate, set, kb)
		req.enter(StateAnalyzed)

		if report.Score >= o.config.AcceptanceThreshold || report.Risk != compliance.RiskCritical {
			span.SetAttributes(attribute.Float64("score", report.Score))
			return req.accept(report), nil
		}

		if attempt == o.config.MaxRegenerationAttempts {
			break
		}

		avoid = appendConflictTokens(avoid, report.Conflicts)
		o.logger.Info("regenerating non-compliant candidate",
			"request_id", requestID,
			"attempt", attempt,
			"score", report.Score,
			"conflicts", len(report.Conflicts),
			"avoid_tokens", len(avoid),
		)
		req.enter(StateRegenerating)
	}

	o.logger.Info("regeneration budget exhausted, degrading to fallback", "request_id", requestID)
	return req.fallback(set, kb), nil
}

// requestRun carries the mutable state-machine bookkeeping for one call
// to Process.
type requestRun struct {
	orchestrator *Orchestrator
	observer     TransitionFunc
	id           string
	state        State
	attempt      int
}

func (r *requestRun) enter(to State) {
	from := r.state
	if from == to && to != StateRequested {
		return
	}
	r.state = to
	t := Transition{RequestID: r.id, From: from, To: to, Attempt: r.attempt}
	if obs := r.orchestrator.observer; obs != nil {
		obs(t)
	}
	if r.observer != nil {
		r.observer(t)
	}
}

func (r *requestRun) accept(report compliance.ComplianceReport) *Result {
	r.enter(StateAccepted)
	r.enter(StateDone)
	return &Result{RequestID: r.id, Report: report, Attempts: r.attempt + 1}
}

func (r *requestRun) fallback(set compliance.ConstraintSet, kb *compliance.KnowledgeBase) *Result {
	r.enter(StateFallback)
	candidate := BuildFallbackCandidate(set, kb)
	report := compliance.Analyze(candidate, set, kb)
	report.Fallback = true
	r.enter(StateDone)
	return &Result{RequestID: r.id, Report: report, Attempts: r.attempt + 1}
}

// buildPrompt renders the constraint set as a compact instruction. The
// rendering is deterministic so equivalent sets share cache entries.
func buildPrompt(set compliance.ConstraintSet) string {
	var b strings.Builder
	b.WriteString("Propose wedding service items honoring these constraints:")
	for _, c := range set.Constraints {
		fmt.Fprintf(&b, " [%s/%s severity %d]", c.Category, compliance.NormalizeToken(c.Name), c.Severity)
	}
	return b.String()
}

// appendConflictTokens folds the triggers of a round's conflicts into the
// avoid list, deduplicated, preserving first-seen order.
func appendConflictTokens(avoid []string, conflicts []compliance.Conflict) []string {
	seen := make(map[string]bool, len(avoid))
	for _, t := range avoid {
		seen[t] = true
	}
	for _, c := range conflicts {
		token := compliance.NormalizeToken(c.Trigger)
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		avoid = append(avoid, token)
	}
	return avoid
}
