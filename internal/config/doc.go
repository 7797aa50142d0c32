// Package config loads, normalizes, and validates voxguard configuration data.
//
// It supplies the repository defaults (frame size, sample rate, chunk length,
// feature length, training hyperparameters), expands user paths (including
// tilde shortcuts), reads TOML files, and honours environment fallbacks such
// as VOXGUARD_FFMPEG. The Config type centralizes every knob the CLI and the
// pipeline packages need so data, stats, and model directories are resolved
// in one pass.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
