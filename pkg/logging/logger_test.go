// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{" warning ", LevelWarn},
		{"warn", LevelWarn},
		{"Error", LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if err != nil {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParseLevel("verbose"); !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("ParseLevel(verbose) error = %v, want ErrUnknownLevel", err)
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	if got := Level(99).toSlogLevel(); got != slog.LevelInfo {
		t.Errorf("unknown level maps to %v, want Info", got)
	}
	if got := LevelWarn.toSlogLevel(); got != slog.LevelWarn {
		t.Errorf("LevelWarn maps to %v", got)
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_ConsoleFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Writer: &buf})
	defer logger.Close()

	logger.Slog().Info("pool transition")
	logger.Slog().Warn("instance shortfall", "accepted", 3)

	out := buf.String()
	if strings.Contains(out, "pool transition") {
		t.Errorf("info record leaked past warn level: %s", out)
	}
	if !strings.Contains(out, "instance shortfall") || !strings.Contains(out, "accepted=3") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestNew_RunIDAttached(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, RunID: "run-1", Writer: &buf})
	defer logger.Close()

	logger.Slog().Info("wrote program")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("console output is not JSON: %v", err)
	}
	if rec["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", rec["run_id"])
	}
}

func TestNew_RunLog(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger := New(Config{LogDir: dir, RunID: "abc", Writer: &console})

	logger.Slog().Info("loaded contracts", "contracts", 2)
	want := filepath.Join(dir, "attest_abc.log")
	if logger.Path() != want {
		t.Errorf("Path() = %q, want %q", logger.Path(), want)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"loaded contracts"`) {
		t.Errorf("run log missing record: %s", data)
	}
	if !strings.Contains(console.String(), "loaded contracts") {
		t.Errorf("console missing record: %s", console.String())
	}
}

func TestNew_RunLogUnavailable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	var console bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Writer: &console})
	defer logger.Close()

	if logger.Path() != "" {
		t.Errorf("Path() = %q, want empty", logger.Path())
	}
	if !strings.Contains(console.String(), "run log disabled") {
		t.Errorf("expected a warning on the console, got %s", console.String())
	}
}

func TestNew_Quiet(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()
	logger.Slog().Error("discarded")
}

func TestLogger_ConcurrentUse(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Slog().Info("trial", "n", i)
		}(i)
	}
	wg.Wait()
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "attest.log"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "\n"); got != 8 {
		t.Errorf("run log has %d lines, want 8", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}
