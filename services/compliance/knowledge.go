// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compliance

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wedsync/compliance-engine/services/compliance/rules"
)

// Trigger is one token that violates a knowledge entry's constraint.
type Trigger struct {
	Token        string `yaml:"token" json:"token"`
	BaseSeverity int    `yaml:"base_severity" json:"base_severity"`
}

// KnowledgeEntry maps a constraint (category + name) to its trigger tokens.
//
// Entries are owned and mutated by the persistent store outside this engine;
// at analysis time the engine only ever sees an immutable snapshot.
type KnowledgeEntry struct {
	Category           Category  `yaml:"category" json:"category"`
	Name               string    `yaml:"name" json:"name"`
	Triggers           []Trigger `yaml:"triggers" json:"triggers"`
	CrossContamination bool      `yaml:"cross_contamination" json:"cross_contamination"`
	Irreversible       bool      `yaml:"irreversible" json:"irreversible"`
	Alternatives       []string  `yaml:"alternatives" json:"alternatives"`
}

// knowledgeFile is the on-disk / embedded YAML layout.
type knowledgeFile struct {
	Version int              `yaml:"version"`
	Entries []KnowledgeEntry `yaml:"entries"`
}

// KnowledgeBase is an immutable snapshot of knowledge entries indexed for
// analysis. Build one with NewKnowledgeBase and never mutate it afterwards;
// reloads swap in a whole new snapshot.
type KnowledgeBase struct {
	entries    []KnowledgeEntry
	byCategory map[Category][]KnowledgeEntry
}

// NewKnowledgeBase builds a snapshot from a list of entries.
//
// Entry order is preserved within each category so analysis output stays
// deterministic across identical snapshots. Token fields are normalized
// once here rather than on every match.
func NewKnowledgeBase(entries []KnowledgeEntry) *KnowledgeBase {
	kb := &KnowledgeBase{
		entries:    make([]KnowledgeEntry, 0, len(entries)),
		byCategory: make(map[Category][]KnowledgeEntry),
	}
	for _, e := range entries {
		norm := e
		norm.Name = NormalizeToken(e.Name)
		norm.Triggers = make([]Trigger, len(e.Triggers))
		for i, t := range e.Triggers {
			norm.Triggers[i] = Trigger{
				Token:        NormalizeToken(t.Token),
				BaseSeverity: t.BaseSeverity,
			}
		}
		kb.entries = append(kb.entries, norm)
		kb.byCategory[norm.Category] = append(kb.byCategory[norm.Category], norm)
	}
	return kb
}

// Entries returns all entries in load order.
func (kb *KnowledgeBase) Entries() []KnowledgeEntry {
	return kb.entries
}

// Len reports the number of loaded entries.
func (kb *KnowledgeBase) Len() int {
	return len(kb.entries)
}

// EntriesFor returns the entries of one category, in load order.
func (kb *KnowledgeBase) EntriesFor(c Category) []KnowledgeEntry {
	return kb.byCategory[c]
}

// entriesForConstraint resolves the entries a constraint is checked against.
//
// If the knowledge base holds an entry with the exact (category, name) pair
// the constraint is checked only against it; otherwise every entry of the
// constraint's category applies. Trigger association is category-level;
// exact-name entries exist to scope broad categories like allergy to one
// allergen.
func (kb *KnowledgeBase) entriesForConstraint(c Constraint) []KnowledgeEntry {
	name := NormalizeToken(c.Name)
	var exact []KnowledgeEntry
	for _, e := range kb.byCategory[c.Category] {
		if e.Name == name {
			exact = append(exact, e)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return kb.byCategory[c.Category]
}

// SafeAlternatives returns alternative tokens for the given categories that
// match no trigger token anywhere in the snapshot. The result is
// deterministic: entry order, then alternative order, duplicates dropped.
//
// The fallback builder uses this to construct candidates that are compliant
// by construction.
func (kb *KnowledgeBase) SafeAlternatives(categories []Category) []string {
	wanted := make(map[Category]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, e := range kb.entries {
		if len(wanted) > 0 && !wanted[e.Category] {
			continue
		}
		for _, alt := range e.Alternatives {
			token := NormalizeToken(alt)
			if seen[token] || kb.tokenTriggersAny(token) {
				continue
			}
			seen[token] = true
			out = append(out, token)
		}
	}
	return out
}

// TokenIsSafe reports whether a token matches no trigger anywhere in the
// snapshot under the analyzer's substring rule.
func (kb *KnowledgeBase) TokenIsSafe(token string) bool {
	return !kb.tokenTriggersAny(NormalizeToken(token))
}

// tokenTriggersAny reports whether a token would match any trigger in the
// snapshot under the analyzer's substring rule.
func (kb *KnowledgeBase) tokenTriggersAny(token string) bool {
	for _, e := range kb.entries {
		for _, t := range e.Triggers {
			if tokenMatches(token, t.Token) {
				return true
			}
		}
	}
	return false
}

// ParseKnowledgeBase parses YAML bytes into a snapshot, optionally filtered
// to a subset of categories. An empty filter keeps everything.
func ParseKnowledgeBase(data []byte, filter []Category) (*KnowledgeBase, error) {
	var file knowledgeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	if len(file.Entries) == 0 {
		return nil, fmt.Errorf("knowledge base contains no entries")
	}

	entries := file.Entries
	if len(filter) > 0 {
		wanted := make(map[Category]bool, len(filter))
		for _, c := range filter {
			wanted[c] = true
		}
		kept := entries[:0:0]
		for _, e := range entries {
			if wanted[e.Category] {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("knowledge entry with empty name in category %q", e.Category)
		}
		for _, t := range e.Triggers {
			if t.BaseSeverity < 1 || t.BaseSeverity > 5 {
				return nil, fmt.Errorf("trigger %q of entry %q: base_severity %d outside 1-5",
					t.Token, e.Name, t.BaseSeverity)
			}
		}
	}

	return NewKnowledgeBase(entries), nil
}

// LoadKnowledgeBase reads a YAML snapshot from disk.
//
// Inputs:
//   - path: YAML file path.
//   - filter: categories to keep; nil keeps all.
//
// Outputs:
//   - *KnowledgeBase: immutable snapshot.
//   - error: non-nil if the file is unreadable or malformed.
func LoadKnowledgeBase(path string, filter []Category) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base %s: %w", path, err)
	}
	return ParseKnowledgeBase(data, filter)
}

// EmbeddedKnowledgeBase parses the rules baked into the binary. It cannot
// fail unless the embedded file itself is broken, which the package tests
// guard against.
func EmbeddedKnowledgeBase() (*KnowledgeBase, error) {
	return ParseKnowledgeBase(rules.DefaultKnowledge, nil)
}
