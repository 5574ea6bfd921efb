// Package mock provides a test double for the wakeword.Engine interface.
//
// Use Engine to control whether Listen reports a detection or a stop, and to
// inspect the frames consumed before it returned.
//
// Example:
//
//	eng := &mock.Engine{DetectResult: true}
//	detected, _ := eng.Listen(ctx, frames, stop)
package mock

import (
	"context"
	"sync"

	"github.com/mrwong99/lokutor/pkg/provider/wakeword"
)

// ListenCall records a single invocation of Listen.
type ListenCall struct {
	FrameCount int
}

// Engine is a mock implementation of wakeword.Engine.
type Engine struct {
	mu sync.Mutex

	// DetectResult is returned as the "detected" value from Listen, unless
	// ListenErr is non-nil.
	DetectResult bool

	// DetectAfterFrames, when > 0, makes Listen return (DetectResult,
	// ListenErr) as soon as that many frames have been consumed — simulating
	// a wake word spoken mid-stream rather than a stop-driven exit.
	DetectAfterFrames int

	// ListenErr, if non-nil, is returned as the error from Listen.
	ListenErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// ListenCalls records every call to Listen in order.
	ListenCalls []ListenCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Listen drains frames until stop closes, ctx is cancelled, frames closes, or
// DetectAfterFrames frames have been consumed, then returns DetectResult,
// ListenErr.
func (e *Engine) Listen(ctx context.Context, frames <-chan []byte, stop <-chan struct{}) (bool, error) {
	count := 0
	for {
		select {
		case <-stop:
			e.record(count)
			return e.result()
		case <-ctx.Done():
			e.record(count)
			return e.result()
		case _, ok := <-frames:
			if !ok {
				e.record(count)
				return e.result()
			}
			count++
			if e.DetectAfterFrames > 0 && count >= e.DetectAfterFrames {
				e.record(count)
				return e.result()
			}
		}
	}
}

func (e *Engine) record(count int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ListenCalls = append(e.ListenCalls, ListenCall{FrameCount: count})
}

func (e *Engine) result() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.DetectResult, e.ListenErr
}

// Close records the call and returns CloseErr.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return e.CloseErr
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ListenCalls = nil
	e.CloseCallCount = 0
}

// Ensure Engine implements wakeword.Engine at compile time.
var _ wakeword.Engine = (*Engine)(nil)
