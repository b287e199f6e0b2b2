// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compliance implements the deterministic rules engine that scores
// generated candidates (menus, palettes, ingredient lists) against a set of
// hard and soft vendor constraints.
//
// The engine is pure: analysis never touches the network, the cache, or the
// clock, so identical inputs always produce byte-identical reports. The
// non-deterministic generation step lives in services/genai; this package
// only judges its output.
package compliance

import "fmt"

// Category classifies a constraint by the kind of requirement it encodes.
//
// Categories are ordered by how hard they are: allergy and medical
// violations are never acceptable, while preference and aesthetic
// violations only lower the score.
type Category string

const (
	CategoryAllergy    Category = "allergy"
	CategoryMedical    Category = "medical"
	CategoryReligious  Category = "religious"
	CategoryPreference Category = "preference"
	CategoryAesthetic  Category = "aesthetic"
	CategoryBudget     Category = "budget"
)

// HardCategory reports whether violations of this category can classify a
// report as critical risk.
func (c Category) HardCategory() bool {
	return c == CategoryAllergy || c == CategoryMedical
}

// Constraint is one named requirement a candidate must satisfy.
//
// Severity runs 1 (mild preference) to 5 (life-threatening). The validate
// tags are enforced at the API boundary before a set reaches the analyzer.
type Constraint struct {
	Name     string   `json:"name" yaml:"name" validate:"required"`
	Category Category `json:"category" yaml:"category" validate:"required,oneof=allergy medical religious preference aesthetic budget"`
	Severity int      `json:"severity" yaml:"severity" validate:"min=1,max=5"`
}

// ConstraintSet is the ordered, immutable collection of constraints for one
// analysis pass. The order is preserved so conflict output is stable.
type ConstraintSet struct {
	Constraints []Constraint `json:"constraints" yaml:"constraints" validate:"required,min=1,dive"`
}

// CandidateItem is one leaf of a generated candidate: a dish, a flower, a
// palette entry. Tokens are the component parts the analyzer matches against
// knowledge-base triggers (ingredient names, color codes, keywords).
//
// SharedEquipment marks items prepared on shared equipment. The flag is
// optional metadata; cross-contamination checks are skipped for items that
// do not carry it.
type CandidateItem struct {
	Name            string   `json:"name"`
	Tokens          []string `json:"tokens"`
	SharedEquipment bool     `json:"shared_equipment,omitempty"`
}

// Candidate is one structured proposal returned by the generative service.
// Candidates are never mutated; a regeneration produces a new Candidate.
type Candidate struct {
	ID    string          `json:"id,omitempty"`
	Kind  string          `json:"kind,omitempty"`
	Items []CandidateItem `json:"items"`
}

// Resolution is the lifecycle state of a detected conflict.
type Resolution string

const (
	// ResolutionUnresolved means no safe substitute is known.
	ResolutionUnresolved Resolution = "unresolved"

	// ResolutionAlternativeSuggested means the knowledge base offered at
	// least one safe substitute token.
	ResolutionAlternativeSuggested Resolution = "alternative_suggested"

	// ResolutionAcceptedRisk is set by a human reviewer outside this
	// engine; the analyzer never emits it.
	ResolutionAcceptedRisk Resolution = "accepted_risk"
)

// Conflict records one violation of one constraint by one candidate item.
//
// Conflicts are append-only within a pass and re-derived from scratch for
// every new candidate; they are never edited in place.
type Conflict struct {
	ItemIndex          int        `json:"item_index"`
	ItemName           string     `json:"item_name"`
	Constraint         Constraint `json:"constraint"`
	Trigger            string     `json:"trigger"`
	Severity           int        `json:"severity"`
	CrossContamination bool       `json:"cross_contamination,omitempty"`
	Description        string     `json:"description"`
	Resolution         Resolution `json:"resolution"`
	Suggestions        []string   `json:"suggestions,omitempty"`
}

// RiskLevel is the aggregate classification derived from a conflict list.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ComplianceReport is the terminal output of one analysis pass.
//
// Score and Risk are pure functions of Conflicts: recomputing them from the
// same conflict list always yields identical values. The report carries no
// timestamps for exactly that reason.
type ComplianceReport struct {
	Candidate Candidate  `json:"candidate"`
	Conflicts []Conflict `json:"conflicts"`
	Score     float64    `json:"score"`
	Risk      RiskLevel  `json:"risk"`
	Fallback  bool       `json:"fallback"`
}

// ValidationError reports a malformed or contradictory ConstraintSet. It is
// fatal: the orchestrator surfaces it immediately and never retries.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid constraint set: %s", e.Reason)
}
