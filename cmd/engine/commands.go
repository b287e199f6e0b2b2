// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	configPath     string
	knowledgePath  string
	constraintPath string
	candidatePath  string
	analyzeJSON    bool

	rootCmd = &cobra.Command{
		Use:   "engine",
		Short: "The WedSync compliance-analysis engine",
		Long: `engine serves resilient, compliance-checked vendor recommendations
for wedding planning: generative candidates are rate limited, cached,
circuit-broken, retried, and validated against a compliance knowledge
base before a client ever sees them.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the recommendation HTTP server",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a candidate against a constraint set offline",
		Long: `analyze runs the deterministic compliance analyzer against a candidate
read from disk. No server, provider, or network access is involved, so
the same inputs always produce the same report.`,
		RunE: runAnalyze, // Defined in cmd_analyze.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"YAML config file (default: config.yaml if present)")

	analyzeCmd.Flags().StringVar(&constraintPath, "constraints", "",
		"constraint set file (JSON or YAML, required)")
	analyzeCmd.Flags().StringVar(&candidatePath, "candidate", "",
		"candidate file (JSON or YAML, required)")
	analyzeCmd.Flags().StringVar(&knowledgePath, "knowledge", "",
		"knowledge base YAML (default: embedded rules)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false,
		"emit the full report as JSON")
	_ = analyzeCmd.MarkFlagRequired("constraints")
	_ = analyzeCmd.MarkFlagRequired("candidate")

	rootCmd.AddCommand(serveCmd, analyzeCmd, versionCmd)
}
