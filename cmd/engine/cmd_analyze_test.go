// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wedsync/compliance-engine/services/compliance"
	"github.com/wedsync/compliance-engine/services/engine"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDecodeFile_JSON(t *testing.T) {
	path := writeTemp(t, "set.json",
		`{"constraints":[{"name":"nuts","category":"allergy","severity":5}]}`)

	var set compliance.ConstraintSet
	require.NoError(t, decodeFile(path, &set))
	require.Len(t, set.Constraints, 1)
	assert.Equal(t, "nuts", set.Constraints[0].Name)
	assert.Equal(t, compliance.CategoryAllergy, set.Constraints[0].Category)
}

func TestDecodeFile_YAML(t *testing.T) {
	path := writeTemp(t, "candidate.yaml", `
id: menu-1
items:
  - name: satay skewers
    tokens: [chicken, peanut]
`)

	var candidate compliance.Candidate
	require.NoError(t, decodeFile(path, &candidate))
	require.Len(t, candidate.Items, 1)
	assert.Equal(t, []string{"chicken", "peanut"}, candidate.Items[0].Tokens)
}

func TestDecodeFile_Missing(t *testing.T) {
	var candidate compliance.Candidate
	require.Error(t, decodeFile(filepath.Join(t.TempDir(), "nope.json"), &candidate))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ENGINE_PORT", "9999")
	t.Setenv("ENGINE_RATE_LIMIT", "7")
	t.Setenv("ENGINE_RECOVERY_TIMEOUT", "45s")
	t.Setenv("ENGINE_MAX_ATTEMPTS", "not-a-number")

	cfg := engine.Config{Port: 8440, MaxAttempts: 3}
	applyEnvOverrides(&cfg)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 7, cfg.RateLimit)
	assert.Equal(t, engine.Duration(45*time.Second), cfg.RecoveryTimeout)
	assert.Equal(t, 3, cfg.MaxAttempts, "malformed value keeps the default")
}

func TestLoadConfigFile(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
port: 8500
rate_limit: 12
cache_ttl: 10m
`)

	var cfg engine.Config
	require.NoError(t, loadConfigFile(path, true, &cfg))
	assert.Equal(t, 8500, cfg.Port)
	assert.Equal(t, 12, cfg.RateLimit)
	assert.Equal(t, engine.Duration(10*time.Minute), cfg.CacheTTL)
}

func TestLoadConfigFile_MissingOptional(t *testing.T) {
	var cfg engine.Config
	require.NoError(t, loadConfigFile(filepath.Join(t.TempDir(), "config.yaml"), false, &cfg))

	err := loadConfigFile(filepath.Join(t.TempDir(), "config.yaml"), true, &cfg)
	require.Error(t, err, "explicit path must exist")
}
