// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to verify that Speak and RenderSentence are called with the
// expected arguments, and to simulate stop-signal/queue-drain behavior.
//
// Example:
//
//	p := &mock.Provider{}
//	_ = p.Speak(ctx, "hallo welt")
//	_ = p.WaitUntilDone(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/mrwong99/lokutor/pkg/provider/tts"
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	Sentence string
}

// RenderSentenceCall records a single invocation of RenderSentence.
type RenderSentenceCall struct {
	Sentence string
	Path     string
	Format   tts.AudioFormat
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// RenderSentenceErr, if non-nil, is returned by every RenderSentence call.
	RenderSentenceErr error

	// AvailableResult is returned by CheckAvailability.
	AvailableResult bool

	// ConfigStringResult is returned by ConfigString.
	ConfigStringResult string

	// stopSignal tracks SetStopSignal/ClearStopSignal state.
	stopSignal bool

	// --- Call records ---

	SpeakCalls           []SpeakCall
	RenderSentenceCalls  []RenderSentenceCall
	WaitUntilDoneCalls   int
	SetStopSignalCalls   int
	ClearStopSignalCalls int
}

// Speak records the call and returns SpeakErr.
func (p *Provider) Speak(ctx context.Context, sentence string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpeakCalls = append(p.SpeakCalls, SpeakCall{Sentence: sentence})
	return p.SpeakErr
}

// RenderSentence records the call and returns RenderSentenceErr.
func (p *Provider) RenderSentence(ctx context.Context, sentence, path string, format tts.AudioFormat) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RenderSentenceCalls = append(p.RenderSentenceCalls, RenderSentenceCall{Sentence: sentence, Path: path, Format: format})
	return p.RenderSentenceErr
}

// SetStopSignal records the call.
func (p *Provider) SetStopSignal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopSignal = true
	p.SetStopSignalCalls++
}

// ClearStopSignal records the call.
func (p *Provider) ClearStopSignal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopSignal = false
	p.ClearStopSignalCalls++
}

// StopSignalSet reports whether SetStopSignal was called more recently than
// ClearStopSignal. Thread-safe.
func (p *Provider) StopSignalSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopSignal
}

// WaitUntilDone records the call and returns nil immediately.
func (p *Provider) WaitUntilDone(ctx context.Context) error {
	p.mu.Lock()
	p.WaitUntilDoneCalls++
	p.mu.Unlock()
	return nil
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
	p.SpeakCalls = nil
	p.RenderSentenceCalls = nil
	p.WaitUntilDoneCalls = 0
	p.SetStopSignalCalls = 0
	p.ClearStopSignalCalls = 0
	p.stopSignal = false
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
