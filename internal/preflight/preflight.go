package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"voxguard/internal/config"
	"voxguard/internal/model"
	"voxguard/internal/normalize"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// WorkspaceDirs checks every directory the pipeline reads or writes.
func WorkspaceDirs(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	dirs := []struct {
		name string
		path string
	}{
		{"Data", cfg.Paths.DataDir},
		{"Raw", cfg.RawDir()},
		{"Temp", cfg.Paths.TempDir},
		{"Stats", cfg.Paths.StatsDir},
		{"Model", cfg.Paths.ModelDir},
		{"State", cfg.Paths.StateDir},
		{"Logs", cfg.Paths.LogDir},
	}
	results := make([]Result, 0, len(dirs))
	for _, dir := range dirs {
		results = append(results, CheckDirectoryAccess(dir.name, dir.path))
	}
	return results
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckArtifacts reports whether normalisation stats and a model are present.
// Both are written by `voxguard train --override` and read by predict.
func CheckArtifacts(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	const remedy = "missing; run `voxguard train --override`"
	stats := Result{Name: "Stats", Detail: remedy}
	if normalize.NewStore(cfg.Paths.StatsDir).Exists() {
		stats = Result{Name: "Stats", Passed: true, Detail: cfg.Paths.StatsDir}
	}
	net := Result{Name: "Model", Detail: remedy}
	if model.Exists(cfg.Paths.ModelDir) {
		net = Result{Name: "Model", Passed: true, Detail: cfg.Paths.ModelDir}
	}
	return []Result{stats, net}
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
