package deps

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	present := writeStub(t, t.TempDir(), "present", "exit 0\n")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
}

func TestAudioRequirementsProbeOptional(t *testing.T) {
	reqs := AudioRequirements("ffmpeg-missing-x", "ffprobe-missing-x", false)
	missing := MissingRequired(CheckBinaries(reqs))
	if len(missing) != 1 || missing[0] != "FFmpeg" {
		t.Fatalf("expected only FFmpeg to be required, got %v", missing)
	}

	reqs = AudioRequirements("ffmpeg-missing-x", "ffprobe-missing-x", true)
	if missing := MissingRequired(CheckBinaries(reqs)); len(missing) != 2 {
		t.Fatalf("expected both tools required when probing, got %v", missing)
	}
}

func TestToolVersion(t *testing.T) {
	stub := writeStub(t, t.TempDir(), "fakeffmpeg", "echo 'ffmpeg version 7.1-test'\necho 'built with gcc'\n")
	version, err := ToolVersion(context.Background(), stub)
	if err != nil {
		t.Fatalf("ToolVersion: %v", err)
	}
	if version != "ffmpeg version 7.1-test" {
		t.Fatalf("unexpected version line %q", version)
	}

	if _, err := ToolVersion(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty binary")
	}
}
