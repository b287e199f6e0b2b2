// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wedsync/compliance-engine/services/compliance"
)

// runAnalyze loads a constraint set and a candidate from disk, runs the
// compliance analyzer against the selected knowledge base, and prints
// the report. Exit status is non-zero when the candidate carries
// critical risk, so the command slots into CI pipelines.
func runAnalyze(cmd *cobra.Command, args []string) error {
	var set compliance.ConstraintSet
	if err := decodeFile(constraintPath, &set); err != nil {
		return fmt.Errorf("read constraints %s: %w", constraintPath, err)
	}
	if err := compliance.ValidateConstraintSet(set); err != nil {
		return err
	}

	var candidate compliance.Candidate
	if err := decodeFile(candidatePath, &candidate); err != nil {
		return fmt.Errorf("read candidate %s: %w", candidatePath, err)
	}

	kb, err := loadKnowledge()
	if err != nil {
		return err
	}

	report := compliance.Analyze(candidate, set, kb)

	if analyzeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if report.Risk == compliance.RiskCritical {
		return fmt.Errorf("candidate carries critical risk")
	}
	return nil
}

func loadKnowledge() (*compliance.KnowledgeBase, error) {
	if knowledgePath == "" {
		return compliance.EmbeddedKnowledgeBase()
	}
	return compliance.LoadKnowledgeBase(knowledgePath, nil)
}

func printReport(report compliance.ComplianceReport) {
	fmt.Printf("score: %.2f  risk: %s  conflicts: %d\n",
		report.Score, report.Risk, len(report.Conflicts))
	for _, c := range report.Conflicts {
		fmt.Printf("  [severity %d] item %q triggers %q (%s/%s)\n",
			c.Severity, c.ItemName, c.Trigger,
			c.Constraint.Category, c.Constraint.Name)
		if len(c.Suggestions) > 0 {
			fmt.Printf("    suggestions: %s\n", strings.Join(c.Suggestions, ", "))
		}
	}
}

// decodeFile reads a JSON or YAML document into v. YAML is bridged
// through JSON so both formats share the structs' json tags.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return err
		}
		data, err = json.Marshal(raw)
		if err != nil {
			return err
		}
	}
	return json.Unmarshal(data, v)
}
