// Package segment splits source audio into fixed-duration mono WAV chunks by
// driving an external ffmpeg process.
//
// Segmenting is best effort: an ffmpeg failure is logged and produces zero
// chunks instead of an error, so one unreadable source never stops a batch.
// Only context cancellation is returned to the caller. Chunks that do not
// carry a valid WAV header (for example a partial file left by a killed
// process) are removed before the result is returned.
package segment
