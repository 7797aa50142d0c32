// Package model implements the feed-forward classifier that scores feature
// vectors as real or fake.
//
// The network is a fixed stack of dense, batch-normalisation and dropout
// layers ending in a two-way softmax, trained with categorical cross-entropy
// and Adam. Matrix work goes through gonum/mat. Trained networks are saved as
// a directory holding model.json (topology plus weights manifest) and
// weights.bin (little-endian float32 values in manifest order).
//
// A Network is not safe for concurrent use: layers cache activations between
// the forward and backward pass.
package model
