// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package recommender

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/wedsync/compliance-engine/services/compliance"
)

// fallbackItemCap keeps the degraded candidate small; fallback quality is
// deliberately modest, safety is the point.
const fallbackItemCap = 3

// lastResortTokens are neutral staples used only when the knowledge base
// offers no safe alternatives at all. Each is still checked against the
// live snapshot before use.
var lastResortTokens = []string{"water", "plain rice", "steamed vegetables", "fresh fruit"}

// BuildFallbackCandidate constructs a deterministic, rule-derived
// candidate that is compliant by construction: every token is drawn from
// the knowledge base's safe alternatives (or a neutral staple list) and
// verified to match no trigger, so analysis can produce no conflicts.
//
// The same ConstraintSet and snapshot always yield the same candidate,
// including its ID.
func BuildFallbackCandidate(set compliance.ConstraintSet, kb *compliance.KnowledgeBase) compliance.Candidate {
	categories := make([]compliance.Category, 0, len(set.Constraints))
	seen := make(map[compliance.Category]bool)
	for _, c := range set.Constraints {
		if !seen[c.Category] {
			seen[c.Category] = true
			categories = append(categories, c.Category)
		}
	}

	tokens := kb.SafeAlternatives(categories)
	if len(tokens) == 0 {
		// Widen to the whole snapshot before reaching for staples.
		tokens = kb.SafeAlternatives(nil)
	}
	if len(tokens) == 0 {
		for _, t := range lastResortTokens {
			if kb.TokenIsSafe(t) {
				tokens = append(tokens, t)
			}
		}
	}
	if len(tokens) > fallbackItemCap {
		tokens = tokens[:fallbackItemCap]
	}

	items := make([]compliance.CandidateItem, 0, len(tokens))
	for _, t := range tokens {
		items = append(items, compliance.CandidateItem{
			Name:   t,
			Tokens: []string{t},
		})
	}

	candidate := compliance.Candidate{
		Kind:  "fallback",
		Items: items,
	}
	candidate.ID = fallbackID(candidate)
	return candidate
}

// fallbackID is a content hash so identical fallbacks carry identical IDs.
func fallbackID(c compliance.Candidate) string {
	raw, err := json.Marshal(c)
	if err != nil {
		return "fallback"
	}
	sum := sha256.Sum256(raw)
	return "fallback:" + hex.EncodeToString(sum[:8])
}
