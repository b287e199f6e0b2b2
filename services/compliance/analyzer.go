// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compliance

import (
	"fmt"
	"strings"
)

// maxSuggestions caps the substitute tokens attached to one conflict.
const maxSuggestions = 3

// Analyze checks every candidate item against every constraint and produces
// a scored, conflict-annotated report.
//
// # Description
//
// For each (item, constraint) pair the analyzer looks up the knowledge
// entries for the constraint and matches the item's tokens against their
// trigger tokens, case-insensitively, exact or substring. The best match
// (highest severity, earliest in scan order on ties) yields one Conflict
// with severity max(constraint.Severity, trigger.BaseSeverity).
//
// When the matched entry carries the cross-contamination flag, every other
// item marked as prepared on shared equipment receives an additional
// conflict one severity step lower (floor 1). Items without the metadata
// are skipped; the check is best-effort.
//
// Scoring: an item is compliant when it has no conflict of severity >= 3;
// the score is compliantItems / totalItems. Risk classification is derived
// solely from the conflict list (see riskFromConflicts).
//
// # Purity
//
// Analyze performs no I/O and reads no clock. Calling it twice with
// identical inputs yields byte-identical reports.
//
// # Inputs
//
//   - candidate: the generated proposal. Not mutated.
//   - set: the immutable constraint set for this pass.
//   - kb: the knowledge snapshot. Not mutated.
//
// # Outputs
//
//   - ComplianceReport: candidate, conflicts, score in [0,1], risk level.
//
// Thread Safety: safe for concurrent use; all inputs are read-only.
func Analyze(candidate Candidate, set ConstraintSet, kb *KnowledgeBase) ComplianceReport {
	var conflicts []Conflict

	for i, item := range candidate.Items {
		tokens := make([]string, len(item.Tokens))
		for k, t := range item.Tokens {
			tokens[k] = NormalizeToken(t)
		}

		for _, constraint := range set.Constraints {
			m, found := bestMatch(tokens, constraint, kb)
			if !found {
				continue
			}

			primary := newConflict(i, item.Name, constraint, m, false)
			conflicts = append(conflicts, primary)

			if !m.entry.CrossContamination {
				continue
			}
			for j, other := range candidate.Items {
				if j == i || !other.SharedEquipment {
					continue
				}
				secondary := newConflict(j, other.Name, constraint, m, true)
				conflicts = append(conflicts, secondary)
			}
		}
	}

	return ComplianceReport{
		Candidate: candidate,
		Conflicts: conflicts,
		Score:     scoreFromConflicts(len(candidate.Items), conflicts),
		Risk:      riskFromConflicts(conflicts),
	}
}

// match captures the strongest trigger hit for one (item, constraint) pair.
type match struct {
	entry    KnowledgeEntry
	trigger  Trigger
	token    string
	severity int
}

// bestMatch scans an item's tokens against the constraint's knowledge
// entries and returns the highest-severity match. Scan order is fixed
// (entries, then triggers, then tokens) so ties resolve deterministically.
func bestMatch(tokens []string, constraint Constraint, kb *KnowledgeBase) (match, bool) {
	var best match
	found := false

	for _, entry := range kb.entriesForConstraint(constraint) {
		for _, trig := range entry.Triggers {
			for _, token := range tokens {
				if !tokenMatches(token, trig.Token) {
					continue
				}
				sev := constraint.Severity
				if trig.BaseSeverity > sev {
					sev = trig.BaseSeverity
				}
				if !found || sev > best.severity {
					best = match{entry: entry, trigger: trig, token: token, severity: sev}
					found = true
				}
			}
		}
	}

	return best, found
}

// tokenMatches reports whether a normalized item token violates a
// normalized trigger token: exact or substring, in either direction, so
// "peanut butter" trips trigger "peanut" and token "nut" trips trigger
// "nut allergen list" style entries.
func tokenMatches(token, trigger string) bool {
	if token == "" || trigger == "" {
		return false
	}
	return strings.Contains(token, trigger) || strings.Contains(trigger, token)
}

// newConflict builds one conflict record from a match. Secondary
// (cross-contamination) conflicts are one severity step lower, floor 1.
func newConflict(itemIndex int, itemName string, constraint Constraint, m match, crossContamination bool) Conflict {
	severity := m.severity
	description := fmt.Sprintf("item %q violates %s constraint %q: token %q matches trigger %q",
		itemName, constraint.Category, constraint.Name, m.token, m.trigger.Token)
	if crossContamination {
		if severity > 1 {
			severity--
		}
		description = fmt.Sprintf("item %q shares equipment with a source of trigger %q (%s constraint %q)",
			itemName, m.trigger.Token, constraint.Category, constraint.Name)
	}

	suggestions := suggestAlternatives(m.entry)
	resolution := ResolutionUnresolved
	if len(suggestions) > 0 {
		resolution = ResolutionAlternativeSuggested
	}

	return Conflict{
		ItemIndex:          itemIndex,
		ItemName:           itemName,
		Constraint:         constraint,
		Trigger:            m.trigger.Token,
		Severity:           severity,
		CrossContamination: crossContamination,
		Description:        description,
		Resolution:         resolution,
		Suggestions:        suggestions,
	}
}

// suggestAlternatives ranks the entry's substitute tokens. Substitutes that
// would themselves trip one of the entry's triggers are dropped; the rest
// keep their curated order, capped at maxSuggestions.
func suggestAlternatives(entry KnowledgeEntry) []string {
	var out []string
	for _, alt := range entry.Alternatives {
		token := NormalizeToken(alt)
		safe := true
		for _, trig := range entry.Triggers {
			if tokenMatches(token, trig.Token) {
				safe = false
				break
			}
		}
		if safe {
			out = append(out, token)
		}
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

// scoreFromConflicts computes compliantItems / totalItems, where an item is
// compliant only if it has zero conflicts of severity >= 3.
func scoreFromConflicts(totalItems int, conflicts []Conflict) float64 {
	if totalItems == 0 {
		return 0
	}

	violated := make(map[int]bool)
	for _, c := range conflicts {
		if c.Severity >= 3 {
			violated[c.ItemIndex] = true
		}
	}

	compliant := totalItems - len(violated)
	return float64(compliant) / float64(totalItems)
}

// riskFromConflicts derives the aggregate risk classification:
//
//	critical: any allergy/medical conflict with severity >= 4
//	high:     any conflict with severity >= 4
//	medium:   any conflict with severity == 3
//	low:      everything else
func riskFromConflicts(conflicts []Conflict) RiskLevel {
	risk := RiskLow
	for _, c := range conflicts {
		switch {
		case c.Severity >= 4 && c.Constraint.Category.HardCategory():
			return RiskCritical
		case c.Severity >= 4:
			risk = RiskHigh
		case c.Severity == 3 && risk != RiskHigh:
			risk = RiskMedium
		}
	}
	return risk
}
