// Package staging manages the per-run chunk directories under temp_dir.
//
// Ingest and predict each segment into a private directory created by
// NewWorkDir and remove it when they finish. A crashed run leaves its
// directory behind; CleanStale reclaims those once they are old enough that
// no live run can still own them.
package staging
