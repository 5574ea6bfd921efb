// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote or local chat-completion API and exposes a
// single streaming entry point: Chat takes the full ordered conversation
// history and returns an async sequence of raw text chunks in generation
// order. Chunks are unprocessed tokens; sentence splitting and markdown
// cleanup are the orchestrator's responsibility, not the provider's.
package llm

import (
	"context"

	"github.com/mrwong99/lokutor/pkg/types"
)

// Chunk is a single text fragment emitted by a streaming chat completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty on
	// the final chunk.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", or "error").
	// Empty on every non-final chunk.
	FinishReason string
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method must propagate context cancellation promptly.
type Provider interface {
	// Chat sends the ordered conversation history to the model and returns a
	// read-only channel emitting Chunk values in generation order. The
	// channel is closed by the implementation when generation finishes or
	// when ctx is cancelled. The initial error return is non-nil only for
	// failures that prevent the stream from starting; mid-stream failures
	// are surfaced as a Chunk with FinishReason "error" before the channel
	// closes.
	Chat(ctx context.Context, history []types.Message) (<-chan Chunk, error)

	// CountTokens estimates how many tokens the given message list would
	// consume in the model's context window, using a fixed BPE-style
	// tokenizer. The history manager counts tokens with its own tokenizer
	// and does not call this method.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports.
	Capabilities() types.ModelCapabilities

	// CheckAvailability reports whether the backend is reachable and the
	// configured model appears in the server's model list.
	CheckAvailability(ctx context.Context) bool

	// ConfigString returns a short, human-readable description of this
	// adapter's configuration for diagnostics.
	ConfigString() string
}
