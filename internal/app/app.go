// Package app wires all lokutor subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// Audio Engine, Service Registry, Prompt/History Manager, Speech Agent, and
// Orchestrator; Run executes the main conversational loop plus an HTTP
// server exposing /healthz, /readyz, and a Prometheus /metrics scrape
// endpoint; Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithRegistry,
// WithHistoryManager, etc.). When an option is not provided, New creates the
// real implementation from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrwong99/lokutor/internal/config"
	"github.com/mrwong99/lokutor/internal/health"
	"github.com/mrwong99/lokutor/internal/history"
	"github.com/mrwong99/lokutor/internal/observe"
	"github.com/mrwong99/lokutor/internal/orchestrator"
	"github.com/mrwong99/lokutor/internal/provider"
	"github.com/mrwong99/lokutor/internal/registry"
	"github.com/mrwong99/lokutor/internal/speech"
	"github.com/mrwong99/lokutor/pkg/audio"
	"github.com/mrwong99/lokutor/pkg/provider/tts/openaicompat"
	"github.com/mrwong99/lokutor/pkg/provider/wakeword"
)

// httpShutdownTimeout bounds how long the health/metrics HTTP server is
// given to drain in-flight requests during Shutdown.
const httpShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes and orchestrates the lokutor voice
// assistant.
type App struct {
	manifest *config.Manifest
	env      config.Env
	logger   *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	engine       *audio.Engine
	registry     *registry.Registry
	historyMgr   *history.Manager
	speechAgent  *speech.Agent
	orchestrator *orchestrator.Orchestrator
	metrics      *observe.Metrics
	health       *health.Handler
	httpServer   *http.Server

	wakeword wakeword.Engine
	backend  audio.Backend
	assets   speech.AssetLoader

	healthAddr string

	// closers are called in reverse-init order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a Service Registry instead of constructing one.
func WithRegistry(r *registry.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithHistoryManager injects a Prompt/History Manager instead of
// constructing one.
func WithHistoryManager(m *history.Manager) Option {
	return func(a *App) { a.historyMgr = m }
}

// WithSpeechAgent injects a Speech Agent instead of constructing one.
func WithSpeechAgent(s *speech.Agent) Option {
	return func(a *App) { a.speechAgent = s }
}

// WithMetrics injects a Metrics instance instead of calling
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger overrides the application-wide logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithHealthAddr overrides the health/metrics HTTP listen address (default
// ":8080").
func WithHealthAddr(addr string) Option {
	return func(a *App) { a.healthAddr = addr }
}

// WithAssetLoader overrides the beep/chime asset loader (default
// [speech.NopAssetLoader]).
func WithAssetLoader(loader speech.AssetLoader) Option {
	return func(a *App) { a.assets = loader }
}

// New creates an App by wiring all subsystems together: it selects capture
// and playback devices from backend, constructs the Audio Engine, registers
// every manifest entry's concrete adapter with the Service Registry and
// starts its probe loop, constructs the Prompt/History Manager and Speech
// Agent, and assembles the Orchestrator. Use Option functions
// to inject test doubles for any subsystem; when a subsystem is injected,
// New skips constructing it from config.
func New(ctx context.Context, manifest *config.Manifest, env config.Env, backend audio.Backend, wakewordEngine wakeword.Engine, opts ...Option) (*App, error) {
	a := &App{
		manifest:   manifest,
		env:        env,
		logger:     slog.Default(),
		backend:    backend,
		wakeword:   wakewordEngine,
		assets:     speech.NopAssetLoader{},
		healthAddr: ":8080",
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initAudioEngine(); err != nil {
		return nil, fmt.Errorf("app: init audio engine: %w", err)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// An injected registry (tests) arrives pre-populated; only a registry we
	// construct ourselves is filled from the manifest.
	if a.registry == nil {
		a.registry = registry.New(a.logger)
		a.registry.SetMetrics(a.metrics)
		if err := a.registerProviders(); err != nil {
			return nil, fmt.Errorf("app: register providers: %w", err)
		}
	}
	a.registry.Start(ctx)
	a.closers = append(a.closers, func() error { a.registry.Stop(); return nil })

	if a.historyMgr == nil {
		m, err := history.New(history.ModeChat)
		if err != nil {
			return nil, fmt.Errorf("app: init history manager: %w", err)
		}
		a.historyMgr = m
	}

	if a.speechAgent == nil {
		if a.wakeword == nil {
			return nil, fmt.Errorf("app: no wakeword engine configured")
		}
		a.speechAgent = speech.New(a.engine, a.registry, a.wakeword, a.assets,
			speech.WithLogger(a.logger), speech.WithWakeword(a.env.Wakeword))
	}

	a.orchestrator = orchestrator.New(a.registry, a.historyMgr, a.speechAgent,
		orchestrator.WithLogger(a.logger), orchestrator.WithMetrics(a.metrics))

	a.health = health.New(
		health.Checker{Name: "audio_engine", Check: a.checkAudioEngine},
		health.Checker{Name: "registry", Check: a.checkRegistry},
	)

	return a, nil
}

// initAudioEngine selects the configured capture/playback devices and
// constructs the Audio Engine.
func (a *App) initAudioEngine() error {
	inputs, outputs, err := a.backend.ListDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	capture, err := audio.SelectDevice(inputs, a.env.MicrophoneDevice)
	if err != nil {
		return fmt.Errorf("select capture device: %w", err)
	}
	playback, err := audio.SelectDevice(outputs, a.env.PlaybackDevice)
	if err != nil {
		return fmt.Errorf("select playback device: %w", err)
	}

	eng, err := audio.New(a.backend, capture, playback, a.logger)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}
	a.engine = eng
	a.closers = append(a.closers, a.engine.Close)
	return nil
}

// registerProviders constructs a concrete adapter for every manifest entry
// and registers it with the Service Registry.
func (a *App) registerProviders() error {
	sink := audio.PCMSink{Engine: a.engine}

	for _, entry := range a.manifest.LLM {
		p, err := provider.BuildLLM(entry)
		if err != nil {
			return err
		}
		a.registry.Register(registry.CapabilityLLM, entry.Name, entry.Priority, p, entry.Endpoint)
	}
	for _, entry := range a.manifest.STT {
		p, err := provider.BuildSTT(entry)
		if err != nil {
			return err
		}
		a.registry.Register(registry.CapabilitySTT, entry.Name, entry.Priority, p, entry.Endpoint)
	}
	synthObserver := openaicompat.WithSynthesisObserver(func(d time.Duration) {
		a.metrics.TTSDuration.Record(context.Background(), d.Seconds())
	})
	for _, entry := range a.manifest.TTS {
		p, err := provider.BuildTTS(entry, sink, synthObserver)
		if err != nil {
			return err
		}
		a.registry.Register(registry.CapabilityTTS, entry.Name, entry.Priority, p, entry.Endpoint)
	}
	return nil
}

func (a *App) checkAudioEngine(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// checkRegistry reports a readiness failure when the best() lookup would
// find no available backend for any capability this deployment configured.
func (a *App) checkRegistry(ctx context.Context) error {
	var unavailable []registry.Capability
	for _, capability := range []registry.Capability{registry.CapabilityLLM, registry.CapabilitySTT, registry.CapabilityTTS} {
		if !a.capabilityHasAvailable(capability) {
			unavailable = append(unavailable, capability)
		}
	}
	if len(unavailable) > 0 {
		return fmt.Errorf("no available backend for: %v\n%s", unavailable, a.registry.StatusTable())
	}
	return nil
}

// capabilityHasAvailable reports whether capability was configured at all
// (entries absent from the manifest are not considered a readiness failure)
// and, if so, whether at least one entry is currently available.
func (a *App) capabilityHasAvailable(capability registry.Capability) bool {
	var entries []config.ServiceEntry
	switch capability {
	case registry.CapabilityLLM:
		entries = a.manifest.LLM
	case registry.CapabilitySTT:
		entries = a.manifest.STT
	case registry.CapabilityTTS:
		entries = a.manifest.TTS
	}
	if len(entries) == 0 {
		return true
	}
	return a.registry.Available(capability)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Registry returns the Service Registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// HistoryManager returns the Prompt/History Manager.
func (a *App) HistoryManager() *history.Manager { return a.historyMgr }

// SpeechAgent returns the Speech Agent.
func (a *App) SpeechAgent() *speech.Agent { return a.speechAgent }

// Metrics returns the application's metrics instance.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the health/metrics HTTP server and the orchestrator's main
// loop, blocking until ctx is cancelled or the orchestrator returns.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.health.Healthz)
	mux.HandleFunc("/readyz", a.health.Readyz)
	mux.Handle("/metrics", promhttp.Handler())
	a.httpServer = &http.Server{Addr: a.healthAddr, Handler: mux}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("app: health server failed", "err", err)
		}
	}()

	a.logger.Info("app running", "health_addr", a.healthAddr)
	err := a.orchestrator.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if serr := a.httpServer.Shutdown(shutdownCtx); serr != nil {
		a.logger.Warn("app: health server shutdown error", "err", serr)
	}
	wg.Wait()

	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		if a.wakeword != nil {
			if err := a.wakeword.Close(); err != nil {
				a.logger.Warn("wakeword close error", "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
