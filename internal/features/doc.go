// Package features turns WAV chunks into fixed-length MFCC feature vectors.
//
// Extractor decodes a chunk with go-audio/wav and computes one coefficient
// vector per non-overlapping frame. Vectorize flattens those frames and pads
// or truncates them to the configured length, and the feature-file helpers
// persist one vector per JSON file in the dataset pools.
//
// The MFCC steps are Hann window, power spectrum, triangular mel filterbank,
// log(1+x) and an unnormalised DCT-II. Changing any step invalidates persisted
// feature files and models.
package features
