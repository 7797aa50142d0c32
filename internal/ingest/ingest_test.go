package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"voxguard/internal/config"
	"voxguard/internal/dataset"
	"voxguard/internal/features"
	"voxguard/internal/ingest"
	"voxguard/internal/logging"
	"voxguard/internal/testsupport"
)

const (
	testMaxLen = 24
	testRate   = 8000
)

// stubSegmenter emits one WAV chunk per entry in perSource, or the broken
// payload for names listed in broken.
type stubSegmenter struct {
	t         *testing.T
	perSource int
	broken    map[string]bool
	fail      map[string]error
	names     []string
}

func (s *stubSegmenter) Segment(_ context.Context, src, name string, _ int, outDir string) ([]string, error) {
	s.names = append(s.names, name)
	if err := s.fail[filepath.Base(src)]; err != nil {
		return nil, err
	}
	var paths []string
	for i := 0; i < s.perSource; i++ {
		path := filepath.Join(outDir, fmt.Sprintf("%s_%03d.wav", name, i))
		if s.broken[filepath.Base(src)] && i == 0 {
			testsupport.WriteFile(s.t, path, []byte("broken"))
		} else {
			testsupport.WriteWAV(s.t, path, testRate, testsupport.Tone(testRate, 0.25, 300+float64(i)*100, 0.4))
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	return testsupport.NewConfig(t,
		testsupport.WithMaxLen(testMaxLen),
		testsupport.WithAudio(512, testRate),
	)
}

func listJSON(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func TestRunWritesFeatureFilesAndClearsRaw(t *testing.T) {
	cfg := newConfig(t)
	raw := cfg.RawDir()
	testsupport.WriteFile(t, filepath.Join(raw, "speaker", "one.mp3"), []byte("x"))
	testsupport.WriteFile(t, filepath.Join(raw, "two.WAV"), []byte("x"))
	testsupport.WriteFile(t, filepath.Join(raw, "notes.txt"), []byte("x"))

	seg := &stubSegmenter{t: t, perSource: 2, broken: map[string]bool{"two.WAV": true}}
	ing, err := ingest.New(cfg, seg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := ing.Run(context.Background(), dataset.LabelFake)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Sources != 2 || res.Chunks != 4 || res.Written != 3 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	got := listJSON(t, filepath.Join(cfg.Paths.DataDir, "fake"))
	want := []string{"speaker-one.mp3_000.wav.json", "speaker-one.mp3_001.wav.json", "two.WAV_001.wav.json"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("feature files = %v, want %v", got, want)
	}
	vec, err := features.ReadFeatureFile(filepath.Join(cfg.Paths.DataDir, "fake", got[0]))
	if err != nil {
		t.Fatalf("ReadFeatureFile: %v", err)
	}
	if len(vec) != testMaxLen {
		t.Fatalf("vector length = %d, want %d", len(vec), testMaxLen)
	}

	entries, err := os.ReadDir(raw)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("raw folder should be empty, found %d entries", len(entries))
	}
	tempEntries, err := os.ReadDir(cfg.Paths.TempDir)
	if err != nil {
		t.Fatalf("read temp: %v", err)
	}
	if len(tempEntries) != 0 {
		t.Fatalf("temp folder should be empty, found %d entries", len(tempEntries))
	}
	if len(listJSON(t, filepath.Join(cfg.Paths.DataDir, "real"))) != 0 {
		t.Fatal("nothing should be written to the other label")
	}
}

func TestRunIsolatesSegmenterFailures(t *testing.T) {
	cfg := newConfig(t)
	testsupport.WriteFile(t, filepath.Join(cfg.RawDir(), "bad.flac"), []byte("x"))
	testsupport.WriteFile(t, filepath.Join(cfg.RawDir(), "good.ogg"), []byte("x"))

	seg := &stubSegmenter{t: t, perSource: 1, fail: map[string]error{"bad.flac": errors.New("boom")}}
	ing, err := ingest.New(cfg, seg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := ing.Run(context.Background(), dataset.LabelReal)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Sources != 2 || res.Written != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunWithEmptyRawFolder(t *testing.T) {
	cfg := newConfig(t)
	seg := &stubSegmenter{t: t, perSource: 1}
	ing, err := ingest.New(cfg, seg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := ing.Run(context.Background(), dataset.LabelReal)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != (ingest.Result{}) || len(seg.names) != 0 {
		t.Fatalf("expected no work, got %+v", res)
	}
}

func TestCanceledRunKeepsRawSources(t *testing.T) {
	cfg := newConfig(t)
	src := filepath.Join(cfg.RawDir(), "clip.m4a")
	testsupport.WriteFile(t, src, []byte("x"))
	ing, err := ingest.New(cfg, &stubSegmenter{t: t, perSource: 1}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ing.Run(ctx, dataset.LabelReal); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("raw source should survive cancellation: %v", err)
	}
}
