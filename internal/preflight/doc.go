// Package preflight provides readiness checks for the workspace directories
// and trained artifacts voxguard depends on.
//
// `voxguard doctor` reports every check; `voxguard status` uses the artifact
// checks to tell whether prediction can run.
package preflight
