// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	cases := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("Level(%d).String() = %q, want %q", tc.level, got, tc.want)
		}
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "engine",
		Quiet:   true,
	})
	logger.Info("analysis complete", "score", 1.0)
	if err := logger.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	filename := "engine_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("file log is not JSON: %v", err)
	}
	if entry["msg"] != "analysis complete" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["service"] != "engine" {
		t.Errorf("service attribute missing: %v", entry["service"])
	}
	if entry["score"] != 1.0 {
		t.Errorf("attribute missing: %v", entry["score"])
	}
}

func TestNew_LevelFilter(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "engine",
		Quiet:   true,
	})
	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Close()

	filename := "engine_" + time.Now().Format("2006-01-02") + ".log"
	raw, _ := os.ReadFile(filepath.Join(dir, filename))
	content := string(raw)

	if strings.Contains(content, "info line") || strings.Contains(content, "debug line") {
		t.Errorf("filtered levels leaked into the file: %s", content)
	}
	if !strings.Contains(content, "warn line") {
		t.Errorf("warn line missing from the file: %s", content)
	}
}

func TestWith_AddsAttributes(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "engine",
		Quiet:   true,
	})
	reqLogger := logger.With("request_id", "req-123")
	reqLogger.Info("processing")
	logger.Close()

	filename := "engine_" + time.Now().Format("2006-01-02") + ".log"
	raw, _ := os.ReadFile(filepath.Join(dir, filename))
	if !strings.Contains(string(raw), "req-123") {
		t.Errorf("child logger attribute missing: %s", raw)
	}
}

func TestClose_StderrOnlyIsSafe(t *testing.T) {
	logger := Default()
	if err := logger.Close(); err != nil {
		t.Errorf("closing a stderr-only logger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("double close failed: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory in this environment")
	}

	if got := expandPath("~/.wedsync/logs"); got != filepath.Join(home, ".wedsync/logs") {
		t.Errorf("expandPath(~) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("absolute path changed: %q", got)
	}
}
