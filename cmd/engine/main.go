// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command engine runs the WedSync compliance-analysis engine.
//
// The engine wraps a generative vendor-recommendation pipeline behind a
// resilience stack (rate limiter, circuit breaker, response cache,
// bounded retry) and a deterministic compliance analyzer.
//
// # Environment Variables
//
//   - ENGINE_PORT: HTTP server port (default: 8440)
//   - ENGINE_KNOWLEDGE_PATH: compliance knowledge YAML (default: embedded rules)
//   - ENGINE_CACHE_PATH: BadgerDB directory for the response cache (default: in-memory)
//   - OPENAI_API_KEY: generative provider credential (required for serve)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//
// # Usage
//
//	# Build
//	go build -o engine ./cmd/engine
//
//	# Run the server
//	./engine serve
//
//	# Run the server with a config file
//	./engine serve --config config.yaml
//
//	# Analyze a candidate offline, no server or provider needed
//	./engine analyze --constraints wedding.yaml --candidate menu.json
package main

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wedsync/compliance-engine/services/engine"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// loadConfigFile merges a YAML config file into cfg. A missing file is
// only an error when the path was given explicitly.
func loadConfigFile(path string, explicit bool, cfg *engine.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
