// Package wakeword defines the Engine interface for wake-word detection
// backends.
//
// A wake-word engine wraps a phoneme-model matcher (e.g., Porcupine) and
// exposes a single blocking Listen call: it consumes capture frames until the
// configured wake word is detected above the configured sensitivity threshold,
// or until the caller's stop channel fires. The model file is loaded at
// construction time; a missing model file is a fatal, not recoverable, error.
package wakeword

import (
	"context"
	"errors"
)

// ErrModelMissing is returned by a constructor when the configured wake-word
// model file cannot be found. Callers should treat this as fatal.
var ErrModelMissing = errors.New("wakeword: model file missing")

// Config holds the parameters for a wake-word session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to the engine.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	FrameSizeMs int

	// Keyword is the configured trigger phrase (e.g. "computer").
	Keyword string

	// Sensitivity is the detection threshold in [0.0, 1.0]. Higher values
	// reduce false positives at the cost of increased detection latency.
	// Derived from WAKEWORD_THRESHOLD/500 per the environment contract.
	Sensitivity float64
}

// Engine detects a configured wake word in a stream of raw PCM frames.
//
// Implementations must be safe for concurrent use across independent Listen
// calls but a single Engine instance is expected to serve one capture stream
// at a time in this design.
type Engine interface {
	// Listen consumes capture frames from frames until either the wake word
	// is detected or stop is closed, whichever happens first. Returns true
	// if the wake word was detected, false if stop fired first. Returns a
	// non-nil error only on an unrecoverable engine failure.
	Listen(ctx context.Context, frames <-chan []byte, stop <-chan struct{}) (detected bool, err error)

	// Close releases all resources held by the engine (model handles,
	// native buffers). Idempotent.
	Close() error
}
