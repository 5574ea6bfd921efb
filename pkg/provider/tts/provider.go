// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service and exposes the enqueue/
// render/stop-signal contract a Speech Agent drives. speak enqueues a
// sentence for a background worker to dequeue and synthesize; synthesized
// audio is handed off to the [AudioSink] supplied at construction (typically
// the Audio Engine wrapped as an audio.PCMSink). render_sentence instead renders a single
// sentence straight to a file, for cache warmup.
package tts

import (
	"context"

	"github.com/mrwong99/lokutor/pkg/types"
)

// AudioFormat is a rendered-audio container.
type AudioFormat string

const (
	FormatMP3 AudioFormat = "mp3"
	FormatWAV AudioFormat = "wav"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Speak enqueues work onto a
// single background worker goroutine; render_sentence runs synchronously and
// does not touch that queue.
type Provider interface {
	// Speak enqueues sentence for background synthesis. The synthesized
	// audio bytes are delivered to the [AudioSink] supplied at construction
	// time (typically the Audio Engine's playback queue).
	// Returns immediately; synthesis happens on the provider's worker.
	Speak(ctx context.Context, sentence string) error

	// RenderSentence synthesizes sentence and writes the result to path in
	// the given format, bypassing the speak queue. Used for cache warmup.
	RenderSentence(ctx context.Context, sentence, path string, format AudioFormat) error

	// SetStopSignal aborts any synthesis currently in flight and drains the
	// speak queue without running it.
	SetStopSignal()

	// ClearStopSignal resets the stop signal so subsequent Speak calls are
	// processed normally again.
	ClearStopSignal()

	// WaitUntilDone blocks until the speak queue is empty and no sentence is
	// being synthesized.
	WaitUntilDone(ctx context.Context) error

	// CheckAvailability reports whether the backend is currently reachable.
	CheckAvailability(ctx context.Context) bool

	// ConfigString returns a short, human-readable description of this
	// adapter's configuration for diagnostics.
	ConfigString() string
}

// AudioSink receives synthesized audio bytes (a WAV container or raw int16
// PCM) produced by a Provider's speak worker. The Audio Engine implements it
// through audio.PCMSink.
type AudioSink interface {
	PlayAudio(ctx context.Context, pcm []byte) error
}

// VoiceProfile is re-exported for adapter constructors that accept one.
type VoiceProfile = types.VoiceProfile
