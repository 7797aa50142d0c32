package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"voxguard/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "segment", "ffmpeg", "split failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"segment", "ffmpeg", "split failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerIsTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err)
	}
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrMalformedRecord, "dataset", "claim", "bad.json", nil), "malformed_record"},
		{services.Wrap(services.ErrNoAudioData, "predict", "aggregate", "", nil), "no_audio_data"},
		{services.Wrap(services.ErrNotFound, "normalize", "load", "", nil), "not_found"},
		{services.Wrap(services.ErrExternalTool, "segment", "ffmpeg", "", nil), "external_tool"},
		{fmt.Errorf("train: %w", context.Canceled), "canceled"},
		{errors.New("disk full"), "failed"},
	}
	for _, tt := range tests {
		if got := services.FailureKind(tt.err); got != tt.want {
			t.Errorf("FailureKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestIsUserError(t *testing.T) {
	if !services.IsUserError(services.Wrap(services.ErrValidation, "", "", "", nil)) {
		t.Fatal("validation errors are user errors")
	}
	if services.IsUserError(services.Wrap(services.ErrExternalTool, "", "", "", nil)) {
		t.Fatal("tool failures are not user errors")
	}
}
