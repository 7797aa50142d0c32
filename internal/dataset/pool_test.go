package dataset_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"voxguard/internal/dataset"
	"voxguard/internal/logging"
	"voxguard/internal/services"
	"voxguard/internal/testsupport"
)

const testMaxLen = 8

func newPool(t *testing.T, opts ...testsupport.ConfigOption) (*dataset.Pool, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithMaxLen(testMaxLen)}, opts...)...)
	return dataset.NewPool(cfg, logging.NewNop(), dataset.WithRand(rand.New(rand.NewPCG(1, 2)))), cfg.Paths.DataDir
}

func countJSON(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read %s: %v", dir, err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}

func TestClaimPreservesPairsAndMultiset(t *testing.T) {
	pool, dataDir := newPool(t)
	for i := 0; i < 3; i++ {
		testsupport.WriteFeatureFile(t, dataDir, "real", fmt.Sprintf("r%d.json", i), testMaxLen, float64(i+1))
	}
	for i := 0; i < 2; i++ {
		testsupport.WriteFeatureFile(t, dataDir, "fake", fmt.Sprintf("f%d.json", i), testMaxLen, float64(-(i + 1)))
	}

	batch, err := pool.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if batch.Len() != 5 || batch.Count(dataset.LabelReal) != 3 || batch.Count(dataset.LabelFake) != 2 {
		t.Fatalf("unexpected batch composition: %d records", batch.Len())
	}

	labels := batch.Labels()
	oneHot := batch.OneHot()
	var values []float64
	for i, vec := range batch.Features() {
		if len(vec) != testMaxLen {
			t.Fatalf("record %d has length %d", i, len(vec))
		}
		// Real vectors are positive, fake negative; pairing must survive the shuffle.
		wantLabel := 0
		if vec[0] < 0 {
			wantLabel = 1
		}
		if labels[i] != wantLabel || oneHot[i][wantLabel] != 1 || oneHot[i][1-wantLabel] != 0 {
			t.Fatalf("record %d lost its label: vec[0]=%v label=%d onehot=%v", i, vec[0], labels[i], oneHot[i])
		}
		values = append(values, vec[0])
	}
	sort.Float64s(values)
	want := []float64{-2, -1, 1, 2, 3}
	for i := range want {
		if values[i] != want[i] {
			t.Fatalf("multiset changed: got %v want %v", values, want)
		}
	}

	if n := countJSON(t, filepath.Join(dataDir, "claimed", "real")); n != 3 {
		t.Fatalf("expected 3 claimed real files, got %d", n)
	}
	if n, _ := pool.ListPending(dataset.LabelReal); n != 0 {
		t.Fatalf("expected no pending real files, got %d", n)
	}
}

func TestClaimRespectsPerClassCap(t *testing.T) {
	pool, dataDir := newPool(t, testsupport.WithPerClassCap(2))
	for i := 0; i < 5; i++ {
		testsupport.WriteFeatureFile(t, dataDir, "real", fmt.Sprintf("r%d.json", i), testMaxLen, 1)
	}
	batch, err := pool.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if batch.Len() != 2 {
		t.Fatalf("expected cap of 2, got %d", batch.Len())
	}
	if n, _ := pool.ListPending(dataset.LabelReal); n != 3 {
		t.Fatalf("expected 3 pending, got %d", n)
	}
}

func TestClaimMalformedRecordAbortsAndReleases(t *testing.T) {
	pool, dataDir := newPool(t)
	testsupport.WriteFeatureFile(t, dataDir, "real", "a.json", testMaxLen, 1)
	testsupport.WriteFeatureFile(t, dataDir, "real", "b.json", testMaxLen-1, 1)

	_, err := pool.Claim(context.Background())
	if !errors.Is(err, services.ErrMalformedRecord) {
		t.Fatalf("expected malformed record error, got %v", err)
	}
	if !strings.Contains(err.Error(), "b.json") {
		t.Fatalf("expected error to name the file, got %v", err)
	}
	if n := countJSON(t, filepath.Join(dataDir, "real")); n != 2 {
		t.Fatalf("expected both files back in the pool, got %d", n)
	}
	if n := countJSON(t, filepath.Join(dataDir, "claimed", "real")); n != 0 {
		t.Fatalf("expected empty claim dir, got %d", n)
	}
}

func TestClaimEmptyPool(t *testing.T) {
	pool, _ := newPool(t)
	batch, err := pool.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if batch.Len() != 0 || len(batch.Features()) != 0 || len(batch.OneHot()) != 0 {
		t.Fatalf("expected empty batch, got %d records", batch.Len())
	}
}

func TestCommitReleaseAndRecover(t *testing.T) {
	pool, dataDir := newPool(t)
	testsupport.WriteFeatureFile(t, dataDir, "real", "a.json", testMaxLen, 1)
	testsupport.WriteFeatureFile(t, dataDir, "fake", "b.json", testMaxLen, -1)

	batch, err := pool.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := pool.Release(batch); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if n, _ := pool.ListPending(dataset.LabelFake); n != 1 {
		t.Fatalf("expected fake file released, pending=%d", n)
	}

	batch, err = pool.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := pool.Commit(batch); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	counts, err := pool.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c := counts[dataset.LabelReal]; c.Trained != 1 || c.Pending != 0 || c.Claimed != 0 {
		t.Fatalf("unexpected real counts %+v", c)
	}

	testsupport.WriteFeatureFile(t, filepath.Join(dataDir, "claimed"), "fake", "orphan.json", testMaxLen, -1)
	restored, err := pool.RecoverClaims()
	if err != nil {
		t.Fatalf("RecoverClaims: %v", err)
	}
	if restored != 1 {
		t.Fatalf("expected 1 restored file, got %d", restored)
	}
	if n, _ := pool.ListPending(dataset.LabelFake); n != 1 {
		t.Fatalf("expected orphan back in pending pool, got %d", n)
	}
}

func TestClaimCancelled(t *testing.T) {
	pool, dataDir := newPool(t)
	testsupport.WriteFeatureFile(t, dataDir, "real", "a.json", testMaxLen, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Claim(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if n, _ := pool.ListPending(dataset.LabelReal); n != 1 {
		t.Fatalf("expected file untouched, pending=%d", n)
	}
}

func TestParseLabel(t *testing.T) {
	if l, err := dataset.ParseLabel("fake"); err != nil || l != dataset.LabelFake {
		t.Fatalf("unexpected result %v %v", l, err)
	}
	if _, err := dataset.ParseLabel("maybe"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
