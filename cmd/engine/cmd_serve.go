// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wedsync/compliance-engine/services/engine"
)

// runServe builds the engine config from the optional YAML file plus
// environment overrides, then blocks in the HTTP server.
func runServe(cmd *cobra.Command, args []string) error {
	var cfg engine.Config

	path := configPath
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}
	if err := loadConfigFile(path, explicit, &cfg); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	slog.Info("starting engine",
		"port", cfg.Port,
		"knowledge_path", cfg.KnowledgePath,
		"cache_path", cfg.CachePath,
	)

	svc, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	return svc.Run()
}

// applyEnvOverrides lets the container environment win over the config
// file, matching how the service is deployed.
func applyEnvOverrides(cfg *engine.Config) {
	cfg.Port = getEnvInt("ENGINE_PORT", cfg.Port)
	cfg.GinMode = getEnvString("GIN_MODE", cfg.GinMode)
	cfg.KnowledgePath = getEnvString("ENGINE_KNOWLEDGE_PATH", cfg.KnowledgePath)
	cfg.CachePath = getEnvString("ENGINE_CACHE_PATH", cfg.CachePath)
	cfg.LogDir = getEnvString("ENGINE_LOG_DIR", cfg.LogDir)
	cfg.RateLimit = getEnvInt("ENGINE_RATE_LIMIT", cfg.RateLimit)
	cfg.RateWindow = getEnvDuration("ENGINE_RATE_WINDOW", cfg.RateWindow)
	cfg.FailureThreshold = getEnvInt("ENGINE_FAILURE_THRESHOLD", cfg.FailureThreshold)
	cfg.RecoveryTimeout = getEnvDuration("ENGINE_RECOVERY_TIMEOUT", cfg.RecoveryTimeout)
	cfg.MaxAttempts = getEnvInt("ENGINE_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.CacheTTL = getEnvDuration("ENGINE_CACHE_TTL", cfg.CacheTTL)
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer in environment, using default",
			"key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return intValue
}

// getEnvDuration returns the environment variable as a duration or a
// default. Accepts Go duration syntax ("30s", "5m").
func getEnvDuration(key string, defaultValue engine.Duration) engine.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in environment, using default",
			"key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return engine.Duration(d)
}
