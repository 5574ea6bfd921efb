// Package audio implements the full-duplex audio engine: a callback-driven
// capture/playback device that serves a live microphone stream as a lazy,
// cancellable byte sequence while concurrently mixing a playback queue of
// heterogeneous audio buffers, with inter-utterance silence padding,
// resampling, and a drain-with-grace-period completion primitive.
//
// A single process-wide [Engine] instance opens two device streams in
// callback mode at construction — capture and playback — both at
// [SampleRate], mono, 16-bit signed PCM, [FrameSamples]-sample buffers. The
// device callbacks run on the audio subsystem's real-time thread and must
// never block; all cross-boundary state (the capture channel, the playback
// queue, and the "current buffer / position / leftover silence" trio) is
// guarded by locks held only for the duration of a callback invocation.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// playbackQueueCapacity bounds the number of pending PlaybackItems. PlayAudio
// is documented as non-blocking; once full, further enqueues are dropped and
// logged rather than stalling the caller.
const playbackQueueCapacity = 64

// captureQueueCapacity bounds the number of pending captured frames handed
// from the real-time callback to the consumer goroutine.
const captureQueueCapacity = 256

// silenceGrace is the observation window [Engine.WaitUntilPlaybackFinished]
// requires to see empty before returning, protecting against racing
// producers enqueuing more speech.
const silenceGrace = 1 * time.Second

// drainPollInterval is how often WaitUntilPlaybackFinished re-checks engine
// idleness.
const drainPollInterval = 10 * time.Millisecond

// Engine is the full-duplex audio device: one capture stream, one playback
// stream, both driven by [Backend] callbacks. The zero value is not usable;
// construct with [New].
type Engine struct {
	backend Backend
	logger  *slog.Logger

	inputStream  Stream
	outputStream Stream

	// --- capture state ---
	muCapture     sync.Mutex
	captureActive bool
	captureCh     chan []byte

	// --- playback state ---
	queue chan PlaybackItem

	muPlayback      sync.Mutex
	current         []int16
	currentPos      int
	leftoverSilence int
	stopRequested   atomic.Bool

	closeOnce sync.Once
	closed    atomic.Bool
}

// New opens capture and playback device streams on captureDevice and
// playbackDevice via backend, both at [SampleRate]/[FrameSamples], and
// starts them immediately. A nil logger defaults to [slog.Default].
//
// Device open failure is a fatal configuration error; callers should
// terminate the process, including [FormatDeviceTable] in the diagnostic.
func New(backend Backend, captureDevice, playbackDevice Device, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		backend: backend,
		logger:  logger,
		queue:   make(chan PlaybackItem, playbackQueueCapacity),
	}

	in, err := backend.OpenInput(captureDevice, SampleRate, FrameSamples, e.onCapture)
	if err != nil {
		return nil, fmt.Errorf("audio: open capture stream on %q: %w", captureDevice.Name, err)
	}
	e.inputStream = in

	out, err := backend.OpenOutput(playbackDevice, SampleRate, FrameSamples, e.onPlayback)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("audio: open playback stream on %q: %w", playbackDevice.Name, err)
	}
	e.outputStream = out

	if err := in.Start(); err != nil {
		in.Close()
		out.Close()
		return nil, fmt.Errorf("audio: start capture stream: %w", err)
	}
	if err := out.Start(); err != nil {
		in.Close()
		out.Close()
		return nil, fmt.Errorf("audio: start playback stream: %w", err)
	}

	return e, nil
}

// onCapture is the capture device callback. It must never block: frames are
// dropped (not queued) when recording is inactive or the consumer's queue is
// full; frames are never duplicated and the device thread never stalls.
func (e *Engine) onCapture(_, input []byte, _ int) {
	if input == nil {
		return
	}
	e.muCapture.Lock()
	active := e.captureActive
	ch := e.captureCh
	e.muCapture.Unlock()
	if !active || ch == nil {
		return
	}

	frame := make([]byte, len(input))
	copy(frame, input)
	select {
	case ch <- frame:
	default:
		e.logger.Warn("audio: capture queue full, dropping frame")
	}
}

// RecordStream returns a lazy, cancellable sequence of raw int16 capture
// frames. Calling RecordStream registers the returned channel as the capture
// consumer and marks recording active; the engine has no separate capture
// stop signal. Cancelling ctx clears the active flag and drains any residual
// queued frames before the channel closes. A consumer that stops reading
// without cancelling ctx leaves recording active; frames that arrive while
// the channel is full are dropped.
//
// Multiple concurrent consumers are not supported — the behavior of a
// second concurrent call while the first is still draining is undefined.
func (e *Engine) RecordStream(ctx context.Context) <-chan []byte {
	ch := make(chan []byte, captureQueueCapacity)

	e.muCapture.Lock()
	e.captureCh = ch
	e.captureActive = true
	e.muCapture.Unlock()

	go func() {
		<-ctx.Done()

		// Only tear down if this stream is still the registered consumer; a
		// successor RecordStream call may already have replaced it.
		e.muCapture.Lock()
		if e.captureCh == ch {
			e.captureActive = false
			e.captureCh = nil
		}
		e.muCapture.Unlock()

		for {
			select {
			case <-ch:
			default:
				close(ch)
				return
			}
		}
	}()

	return ch
}

// PlayAudio enqueues a [PlaybackItem] built from samples at sourceRate.
// Non-blocking: if the internal queue is full the item is dropped and
// logged rather than stalling the caller.
func (e *Engine) PlayAudio(sourceRate int, samples []int16) {
	item := PlaybackItem{SourceSampleRate: sourceRate, Samples: samples}
	select {
	case e.queue <- item:
	default:
		e.logger.Warn("audio: playback queue full, dropping item", "samples", len(samples))
	}
}

// PlayFloat scales floating-point samples in [-1.0, +1.0] to int16 (clipping
// out-of-range values) and enqueues them.
func (e *Engine) PlayFloat(sourceRate int, samples []float64) {
	e.PlayAudio(sourceRate, FloatToInt16(samples))
}

// PlayPCM enqueues an opaque audio byte blob. A valid RIFF/WAV container is
// parsed and decoded to samples at its declared rate; anything else
// is treated as raw little-endian int16 mono PCM already at [SampleRate].
// Wrapped as a [PCMSink] it satisfies the tts.AudioSink contract so service
// adapters can hand the engine
// synthesized audio directly without reaching into its typed API. ctx is
// accepted for interface compatibility but playback enqueue never blocks on
// it.
func (e *Engine) PlayPCM(_ context.Context, pcm []byte) error {
	if IsWAV(pcm) {
		rate, samples, err := DecodeWAV(pcm)
		if err != nil {
			return fmt.Errorf("audio: decode wav blob: %w", err)
		}
		e.PlayAudio(rate, samples)
		return nil
	}
	if len(pcm)%2 != 0 {
		return fmt.Errorf("audio: odd-length PCM buffer (%d bytes)", len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	e.PlayAudio(SampleRate, samples)
	return nil
}

// PCMSink adapts an [Engine] to the tts.AudioSink interface (PlayAudio(ctx,
// pcm) error), which the Engine itself cannot implement directly since
// PlayAudio is already taken by the sourceRate/samples enqueue method.
type PCMSink struct{ Engine *Engine }

// PlayAudio implements tts.AudioSink by forwarding to [Engine.PlayPCM].
func (s PCMSink) PlayAudio(ctx context.Context, pcm []byte) error {
	return s.Engine.PlayPCM(ctx, pcm)
}

// onPlayback is the playback device callback. output is raw little-endian
// int16 bytes the device will emit; it must be filled with exactly
// len(output) bytes every call.
func (e *Engine) onPlayback(output, _ []byte, frameCount int) {
	for i := range output {
		output[i] = 0
	}

	if e.stopRequested.CompareAndSwap(true, false) {
		return
	}

	e.muPlayback.Lock()
	defer e.muPlayback.Unlock()

	pos := 0
	for pos < frameCount {
		if e.leftoverSilence > 0 {
			n := min(frameCount-pos, e.leftoverSilence)
			pos += n
			e.leftoverSilence -= n
			continue
		}

		if e.current != nil && e.currentPos < len(e.current) {
			n := min(frameCount-pos, len(e.current)-e.currentPos)
			writeInt16LE(output[pos*2:], e.current[e.currentPos:e.currentPos+n])
			e.currentPos += n
			pos += n
			if e.currentPos >= len(e.current) {
				e.current = nil
				e.leftoverSilence = SampleRate // one second of inter-item spacing
			}
			continue
		}

		select {
		case item, ok := <-e.queue:
			if !ok {
				return
			}
			samples := item.Samples
			if item.SourceSampleRate != SampleRate {
				samples = ResampleMono16Samples(samples, item.SourceSampleRate, SampleRate)
			}
			e.current = samples
			e.currentPos = 0
		default:
			return // pad remainder with silence (already zeroed above)
		}
	}
}

// writeInt16LE encodes samples as little-endian int16 into dst.
func writeInt16LE(dst []byte, samples []int16) {
	for i, s := range samples {
		dst[i*2] = byte(s)
		dst[i*2+1] = byte(s >> 8)
	}
}

// StopPlayback aborts the in-flight item and drains the queue without
// playing it. It does not close the device. The very next playback callback
// emits silence; subsequent callbacks resume normal operation against the
// now-empty queue, so a caller may immediately enqueue replacement audio
// (the interrupt-by-wake-word flow relies on this: abort, then speak the
// abort phrase).
func (e *Engine) StopPlayback() {
	e.muPlayback.Lock()
	defer e.muPlayback.Unlock()

	e.current = nil
	e.leftoverSilence = 0
drain:
	for {
		select {
		case <-e.queue:
		default:
			break drain
		}
	}
	e.stopRequested.Store(true)
}

// isIdle reports whether the queue is empty, no item is current, and no
// leftover silence budget remains.
func (e *Engine) isIdle() bool {
	if len(e.queue) != 0 {
		return false
	}
	e.muPlayback.Lock()
	defer e.muPlayback.Unlock()
	return e.current == nil && e.leftoverSilence == 0
}

// WaitUntilPlaybackFinished blocks until the queue is empty, the current
// buffer is exhausted, and leftover silence is zero, for a contiguous
// [silenceGrace] observation window — protecting against racing producers
// that enqueue more speech mid-drain.
func (e *Engine) WaitUntilPlaybackFinished(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if e.isIdle() {
			if idleSince.IsZero() {
				idleSince = time.Now()
			}
			if time.Since(idleSince) >= silenceGrace {
				return nil
			}
		} else {
			idleSince = time.Time{}
		}
	}
}

// ErrClosed reports a closed engine. [Engine.Close] marks the engine closed,
// but no Engine method checks that mark or returns ErrClosed.
var ErrClosed = errors.New("audio: engine closed")

// Close stops both streams and releases device resources. Idempotent.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.stopRequested.Store(true)
		if e.inputStream != nil {
			if cerr := e.inputStream.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
		if e.outputStream != nil {
			if cerr := e.outputStream.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}
