package segment_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"voxguard/internal/logging"
	"voxguard/internal/segment"
	"voxguard/internal/testsupport"
)

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"data/raw/speaker/a.mp3": "data-raw-speaker-a.mp3",
		"/abs/clip.wav":          "abs-clip.wav",
		"clip.wav":               "clip.wav",
	}
	for in, want := range tests {
		if got := segment.SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

// fakeRunner writes count valid chunks plus optional garbage into the output
// pattern the segmenter passes as its last argument.
func fakeRunner(t *testing.T, count int, garbage bool) func(ctx context.Context, name string, args ...string) error {
	return func(ctx context.Context, name string, args ...string) error {
		pattern := args[len(args)-1]
		for i := count - 1; i >= 0; i-- {
			testsupport.WriteWAV(t, fmt.Sprintf(pattern, i), 8000, testsupport.Tone(8000, 0.1, 440, 0.3))
		}
		if garbage {
			testsupport.WriteFile(t, fmt.Sprintf(pattern, count), []byte("partial"))
		}
		return nil
	}
}

func TestSegmentReturnsSortedValidChunks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	seg := segment.New(cfg, logging.NewNop(), segment.WithCommandRunner(fakeRunner(t, 3, true)))

	chunks, err := seg.Segment(context.Background(), "in.mp3", "in.mp3", 5, cfg.Paths.TempDir)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %v", chunks)
	}
	for i, chunk := range chunks {
		if want := fmt.Sprintf("in.mp3_%03d.wav", i); filepath.Base(chunk) != want {
			t.Fatalf("chunk %d = %s, want %s", i, chunk, want)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.TempDir, "in.mp3_003.wav")); !os.IsNotExist(err) {
		t.Fatalf("expected invalid chunk removed, stat err=%v", err)
	}
}

func TestSegmentToolFailureYieldsNoChunks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := func(ctx context.Context, name string, args ...string) error {
		testsupport.WriteWAV(t, fmt.Sprintf(args[len(args)-1], 0), 8000, testsupport.Tone(8000, 0.1, 440, 0.3))
		return errors.New("exit status 1: Invalid data found when processing input")
	}
	seg := segment.New(cfg, logging.NewNop(), segment.WithCommandRunner(runner))

	chunks, err := seg.Segment(context.Background(), "broken.bin", "broken.bin", 5, cfg.Paths.TempDir)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected zero chunks, got %v", chunks)
	}
	entries, _ := os.ReadDir(cfg.Paths.TempDir)
	if len(entries) != 0 {
		t.Fatalf("expected partial output removed, found %d entries", len(entries))
	}
}

func TestSegmentCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	seg := segment.New(cfg, logging.NewNop(), segment.WithCommandRunner(func(context.Context, string, ...string) error {
		called = true
		return nil
	}))
	chunks, err := seg.Segment(ctx, "in.wav", "in.wav", 5, cfg.Paths.TempDir)
	if !errors.Is(err, context.Canceled) || len(chunks) != 0 {
		t.Fatalf("expected cancellation with no chunks, got %v %v", chunks, err)
	}
	if called {
		t.Fatal("runner should not be invoked after cancellation")
	}
}

func TestSegmentPassesConfiguredArguments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var got []string
	seg := segment.New(cfg, logging.NewNop(), segment.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		got = append([]string{name}, args...)
		return nil
	}))
	if _, err := seg.Segment(context.Background(), "src.flac", "src.flac", 5, cfg.Paths.TempDir); err != nil {
		t.Fatalf("Segment: %v", err)
	}
	joined := strings.Join(got, " ")
	for _, want := range []string{"-ac 1", "-ar 44100", "-f segment", "-segment_time 5", "-c:a pcm_s16le", "src.flac_%03d.wav"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in command %q", want, joined)
		}
	}
}

func TestSegmentWithFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	cfg := testsupport.NewConfig(t)
	cfg.Audio.FFmpegBinary = "ffmpeg"
	src := filepath.Join(t.TempDir(), "long.wav")
	testsupport.WriteWAV(t, src, 44100, testsupport.Tone(44100, 12, 440, 0.4))

	seg := segment.New(cfg, logging.NewNop())
	chunks, err := seg.Segment(context.Background(), src, segment.SanitizeName(src), 5, cfg.Paths.TempDir)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks (5s, 5s, 2s), got %d", len(chunks))
	}

	empty := filepath.Join(t.TempDir(), "empty.wav")
	testsupport.WriteFile(t, empty, nil)
	chunks, err = seg.Segment(context.Background(), empty, "empty.wav", 5, cfg.Paths.TempDir)
	if err != nil || len(chunks) != 0 {
		t.Fatalf("expected zero chunks for empty input, got %v %v", chunks, err)
	}
}
