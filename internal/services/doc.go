// Package services defines shared utilities consumed by every pipeline stage.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, ledger batch IDs, and stage names
//     for logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures with errors.Is (external tool, validation, malformed record,
//     missing artifact, no audio data).
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across segmenting, training, and prediction.
package services
