// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// The segmenter uses it to skip sources that carry no audio stream before
// spawning ffmpeg, and `voxguard doctor` uses it to confirm the binary works.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: audio stream properties (codec, sample rate, channels)
//   - Format: container-level metadata (duration, format name)
//
// Primary entry points:
//   - Inspect: executes ffprobe and returns parsed Result
//   - Parse: decodes an already captured payload
package ffprobe
