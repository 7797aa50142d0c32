// Package main hosts the voxguard CLI entrypoint and command graph.
//
// Commands translate terminal invocations into the ingest, training and
// prediction pipelines in internal/. Configuration resolution, logger setup
// and the workspace lock live here so the internal packages stay free of
// process-level concerns.
package main
