// Package dataset manages the labelled feature pools and assembles training
// batches from them.
//
// Feature files move through three directories per label:
//
//	data/<label>          pending, not yet trained on
//	data/claimed/<label>  claimed by a batch that is being trained
//	data/trained/<label>  archived after the model that used them was saved
//
// Claim reads and validates up to the per-class cap of files, moves them into
// the claim directory and returns a shuffled Batch. Commit archives a batch
// once the model is persisted; Release returns it to the pending pool when
// training fails. RecoverClaims restores files orphaned by a crashed run.
package dataset
