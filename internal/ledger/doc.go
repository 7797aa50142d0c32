// Package ledger records training runs and the batches they claimed in a
// SQLite database under the state directory.
//
// The file moves in package dataset are the source of truth for which
// feature files were trained on; the ledger adds history (per-batch loss and
// accuracy, failures) and lets a new run detect batches left claimed by a
// crashed process. The schema is embedded and versioned; a version mismatch
// fails fast with ErrSchemaMismatch instead of migrating.
package ledger
