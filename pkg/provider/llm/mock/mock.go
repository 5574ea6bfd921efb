// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the orchestrator sends the
// expected conversation history and to feed controlled chunk streams without
// a live LLM backend.
//
// Example:
//
//	p := &mock.Provider{ChatChunks: []llm.Chunk{{Text: "hi"}, {FinishReason: "stop"}}}
//	ch, _ := p.Chat(ctx, history)
package mock

import (
	"context"
	"sync"

	"github.com/mrwong99/lokutor/pkg/provider/llm"
	"github.com/mrwong99/lokutor/pkg/types"
)

// ChatCall records a single invocation of Chat.
type ChatCall struct {
	History []types.Message
}

// CountTokensCall records a single invocation of CountTokens.
type CountTokensCall struct {
	Messages []types.Message
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// ChatChunks is the sequence of Chunk values emitted on the channel
	// returned by Chat. All chunks are sent before the channel is closed.
	ChatChunks []llm.Chunk

	// ChatErr, if non-nil, is returned as the error from Chat instead of
	// starting a channel.
	ChatErr error

	// TokenCount is returned by CountTokens.
	TokenCount int

	// CountTokensErr, if non-nil, is returned as the error from CountTokens.
	CountTokensErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities types.ModelCapabilities

	// AvailableResult is returned by CheckAvailability.
	AvailableResult bool

	// ConfigStringResult is returned by ConfigString.
	ConfigStringResult string

	// --- Call records ---

	ChatCalls             []ChatCall
	CountTokensCalls      []CountTokensCall
	CapabilitiesCallCount int
}

// Chat records the call and returns a channel that emits ChatChunks.
func (p *Provider) Chat(ctx context.Context, history []types.Message) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	if p.ChatErr != nil {
		err := p.ChatErr
		hist := make([]types.Message, len(history))
		copy(hist, history)
		p.ChatCalls = append(p.ChatCalls, ChatCall{History: hist})
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(p.ChatChunks))
	copy(chunks, p.ChatChunks)
	hist := make([]types.Message, len(history))
	copy(hist, history)
	p.ChatCalls = append(p.ChatCalls, ChatCall{History: hist})
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// CountTokens records the call and returns TokenCount, CountTokensErr.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]types.Message, len(messages))
	copy(msgs, messages)
	p.CountTokensCalls = append(p.CountTokensCalls, CountTokensCall{Messages: msgs})
	return p.TokenCount, p.CountTokensErr
}

// Capabilities records the call and returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// CheckAvailability returns AvailableResult.
func (p *Provider) CheckAvailability(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.AvailableResult
}

// ConfigString returns ConfigStringResult.
func (p *Provider) ConfigString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ConfigStringResult
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ChatCalls = nil
	p.CountTokensCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
