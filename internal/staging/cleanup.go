package staging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxguard/internal/logging"
)

// Work directory kinds.
const (
	KindIngest  = "ingest"
	KindPredict = "predict"
)

// DefaultMaxAge is how old a work directory must be before CleanStale removes it.
const DefaultMaxAge = 6 * time.Hour

// NewWorkDir creates a fresh work directory of the given kind under tempDir.
func NewWorkDir(tempDir, kind string) (string, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	dir, err := os.MkdirTemp(tempDir, kind+"-*")
	if err != nil {
		return "", fmt.Errorf("create %s work dir: %w", kind, err)
	}
	return dir, nil
}

func isWorkDir(name string) bool {
	return strings.HasPrefix(name, KindIngest+"-") || strings.HasPrefix(name, KindPredict+"-")
}

// CleanStaleResult contains the outcome of a stale directory cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes work directories under tempDir older than maxAge.
// Anything not created by NewWorkDir is left alone.
func CleanStale(ctx context.Context, tempDir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}
	logger = logging.WithContext(ctx, logger)

	tempDir = strings.TrimSpace(tempDir)
	if tempDir == "" {
		return result
	}
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: tempDir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !isWorkDir(entry.Name()) {
			continue
		}
		dirPath := filepath.Join(tempDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logging.WarnWithContext(logger, "stale work dir removal failed", "staging_cleanup_failed",
				logging.String(logging.FieldPath, dirPath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		logger.Info("removed stale work dir",
			logging.String(logging.FieldPath, dirPath),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
	return result
}

// DirInfo contains metadata about a work directory.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListDirectories returns the work directories under tempDir.
func ListDirectories(tempDir string) ([]DirInfo, error) {
	tempDir = strings.TrimSpace(tempDir)
	if tempDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() || !isWorkDir(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(tempDir, entry.Name())
		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    dirSize(dirPath),
		})
	}
	return dirs, nil
}

// dirSize sums regular file sizes below path; unreadable entries count as zero.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}
