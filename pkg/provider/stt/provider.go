// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// single-stream delta interface: once a session is open, it accepts raw PCM
// audio frames and emits a single ordered sequence of text deltas, where each
// delta is the newly-appended suffix of the cumulative transcript since the
// previously-emitted delta. Consumers reconstruct the full transcript by
// concatenating deltas in arrival order.
//
// Implementations must be safe for concurrent use and must guarantee cleanup
// on close, error, cancellation, or consumer abandonment: internal sender
// tasks stop, sockets close, and OnOpen/OnClose fire exactly once each, in
// that order.
package stt

import (
	"context"
	"errors"

	"github.com/mrwong99/lokutor/pkg/types"
)

// ErrNotSupported is returned by SetKeywords when a provider does not
// support mid-session keyword updates.
var ErrNotSupported = errors.New("stt: not supported by this provider")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (16000 for the engine's
	// capture format).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition. Empty lets the
	// provider auto-detect, if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words.
	Keywords []types.KeywordBoost

	// OnOpen, if non-nil, is invoked exactly once when the session's
	// transport has been established.
	OnOpen func()

	// OnClose, if non-nil, is invoked exactly once when the session has
	// fully torn down, after OnOpen (if OnOpen was ever called).
	OnClose func()
}

// SessionHandle represents an open streaming session. Callers must call
// Close when done; failing to do so may leak goroutines and sockets.
type SessionHandle interface {
	// SendAudio delivers raw PCM audio bytes to the provider for
	// transcription. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Deltas returns a read-only channel emitting successive transcript
	// deltas in recognizer arrival order. Each value is the tail of the new
	// cumulative transcript beyond the previously-emitted cumulative
	// transcript. The channel is closed when the session ends.
	Deltas() <-chan string

	// SetKeywords replaces the active keyword boost list without
	// restarting the session. Providers that do not support mid-session
	// updates may return ErrNotSupported.
	SetKeywords(keywords []types.KeywordBoost) error

	// Close terminates the session, flushes pending audio, and releases
	// all resources. Idempotent: calling Close more than once returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The
	// returned SessionHandle is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)

	// CheckAvailability reports whether the backend is currently reachable.
	// Used by the service registry's liveness probe.
	CheckAvailability(ctx context.Context) bool

	// ConfigString returns a short, human-readable description of this
	// adapter's configuration (endpoint, model) for diagnostics.
	ConfigString() string
}
