// Package openaicompat implements a [tts.Provider] over the OpenAI-compatible
// synthesis wire contract: POST /audio/speech with
// {model, voice, response_format, speed, input}. A single background worker
// dequeues sentences submitted via Speak and hands the synthesized bytes to
// an [tts.AudioSink] (typically the Audio Engine's playback queue); a stop
// signal aborts in-flight synthesis and drains the queue.
package openaicompat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/mrwong99/lokutor/internal/registry"
	"github.com/mrwong99/lokutor/internal/resilience"
	"github.com/mrwong99/lokutor/pkg/provider/tts"
)

// speakJob is one queued Speak request.
type speakJob struct {
	ctx      context.Context
	sentence string
}

// Provider implements tts.Provider against an OpenAI-compatible
// POST /audio/speech endpoint.
type Provider struct {
	client  oai.Client
	baseURL string
	model   string
	voice   string
	speed   float64

	sink tts.AudioSink
	cb   *resilience.CircuitBreaker

	logger      func(format string, args ...any)
	synthesisCb func(d time.Duration)

	queue chan speakJob
	stop  atomic.Bool

	mu         sync.Mutex
	inFlight   bool
	idleSignal chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Provider at construction time.
type Option func(*Provider)

// WithSpeed overrides the synthesis speed factor (default 1.0).
func WithSpeed(speed float64) Option { return func(p *Provider) { p.speed = speed } }

// WithSynthesisObserver registers fn to be invoked with the wall-clock
// duration of every successful synthesis call. Used to feed per-sentence
// latency metrics without coupling the adapter to a metrics backend.
func WithSynthesisObserver(fn func(d time.Duration)) Option {
	return func(p *Provider) { p.synthesisCb = fn }
}

// New constructs a Provider talking to baseURL (e.g.
// "http://localhost:8000/v1") with apiKey, synthesizing with model/voice,
// and delivering the synthesized WAV bytes to sink.
func New(baseURL, apiKey, model, voice string, sink tts.AudioSink, opts ...Option) *Provider {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}

	p := &Provider{
		client:  oai.NewClient(reqOpts...),
		baseURL: baseURL,
		model:   model,
		voice:   voice,
		speed:   1.0,
		sink:    sink,
		cb:      resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tts." + baseURL}),
		queue:   make(chan speakJob, 64),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	go p.worker()
	return p
}

// Speak implements tts.Provider: enqueues sentence for the background
// worker. Non-blocking unless the internal queue is full.
func (p *Provider) Speak(ctx context.Context, sentence string) error {
	select {
	case p.queue <- speakJob{ctx: ctx, sentence: sentence}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RenderSentence synthesizes sentence synchronously and writes the result to
// path, bypassing the speak queue.
func (p *Provider) RenderSentence(ctx context.Context, sentence, path string, format tts.AudioFormat) error {
	body, err := p.synthesize(ctx, sentence, format)
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

// SetStopSignal aborts any in-flight synthesis and drains the speak queue.
func (p *Provider) SetStopSignal() {
	p.stop.Store(true)
drain:
	for {
		select {
		case <-p.queue:
		default:
			break drain
		}
	}
}

// ClearStopSignal resets the stop signal for subsequent Speak calls.
func (p *Provider) ClearStopSignal() { p.stop.Store(false) }

// WaitUntilDone blocks until the speak queue is empty and no sentence is in
// flight.
func (p *Provider) WaitUntilDone(ctx context.Context) error {
	for {
		p.mu.Lock()
		idle := len(p.queue) == 0 && !p.inFlight
		p.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.idleSignalCh():
		}
	}
}

// idleSignalCh returns a channel closed the next time the worker goes idle.
func (p *Provider) idleSignalCh() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idleSignal == nil {
		p.idleSignal = make(chan struct{})
	}
	return p.idleSignal
}

// CheckAvailability probes the endpoint's host:port for TCP reachability.
func (p *Provider) CheckAvailability(ctx context.Context) bool {
	hostport := hostPort(p.baseURL)
	if hostport == "" {
		return false
	}
	return registry.DefaultTCPProbe(ctx, hostport)
}

// hostPort extracts a dialable host:port from an http(s) base URL, filling
// in the scheme's default port when none is specified.
func hostPort(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return u.Host + ":443"
	}
	return u.Host + ":80"
}

// ConfigString implements tts.Provider.
func (p *Provider) ConfigString() string {
	return fmt.Sprintf("openaicompat(model=%s, voice=%s)", p.model, p.voice)
}

// worker dequeues speakJobs and synthesizes them one at a time, handing the
// WAV container bytes to the sink (the Audio Engine parses the RIFF header
// and resamples as needed), until the provider is torn down.
func (p *Provider) worker() {
	for job := range p.queue {
		if p.stop.Load() {
			continue
		}
		p.mu.Lock()
		p.inFlight = true
		p.mu.Unlock()

		synthStart := time.Now()
		audio, err := p.synthesize(job.ctx, job.sentence, tts.FormatWAV)
		if err == nil && p.synthesisCb != nil {
			p.synthesisCb(time.Since(synthStart))
		}
		if err == nil && !p.stop.Load() {
			if sinkErr := p.sink.PlayAudio(job.ctx, audio); sinkErr != nil {
				p.logf("openaicompat: play synthesized audio: %v", sinkErr)
			}
		} else if err != nil {
			p.logf("openaicompat: synthesize: %v", err)
		}

		p.mu.Lock()
		p.inFlight = false
		if p.idleSignal != nil && len(p.queue) == 0 {
			close(p.idleSignal)
			p.idleSignal = nil
		}
		p.mu.Unlock()
	}
}

func (p *Provider) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger(format, args...)
	}
}

// synthesize calls the OpenAI-compatible /audio/speech endpoint through the
// provider's circuit breaker and returns the raw response bytes (a WAV or
// MP3 container, per format). Repeated failures trip the breaker so a
// downed backend fails fast instead of stalling every subsequent sentence
// behind the request timeout.
func (p *Provider) synthesize(ctx context.Context, sentence string, format tts.AudioFormat) ([]byte, error) {
	var out []byte
	err := p.cb.Execute(func() error {
		resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
			Model:          oai.SpeechModel(p.model),
			Input:          sentence,
			Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
			ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(format),
			Speed:          param.NewOpt(p.speed),
		})
		if err != nil {
			return fmt.Errorf("speech request: %w", err)
		}
		defer resp.Body.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, resp.Body); err != nil {
			return fmt.Errorf("read speech response: %w", err)
		}
		out = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("openaicompat: %w", err)
	}
	return out, nil
}

// Close stops the worker goroutine. Idempotent.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		close(p.queue)
		close(p.done)
	})
	return nil
}

var _ tts.Provider = (*Provider)(nil)
