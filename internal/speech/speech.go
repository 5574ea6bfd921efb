// Package speech implements the Speech Agent: the glue between the Audio
// Engine, the Service Registry, a wake-word engine, and a phrase cache. It
// owns the assistant's "voice" — static phrase pools, cached renderings of
// them, short beep assets, and the interrupt-by-wake-word watcher that can
// abort an in-flight utterance.
package speech

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"github.com/mrwong99/lokutor/internal/registry"
	"github.com/mrwong99/lokutor/pkg/audio"
	"github.com/mrwong99/lokutor/pkg/provider/stt"
	"github.com/mrwong99/lokutor/pkg/provider/tts"
	"github.com/mrwong99/lokutor/pkg/provider/wakeword"
)

// AssetLoader decodes a sound file into PCM samples at the given rate. name
// is either a bare asset name from the fixed sound set or a path to a cached
// phrase rendering under the agent's cache directory. Concrete container
// decoding (mp3/wav) is left to the binary: production builds supply a real
// decoder, tests supply a synthetic one.
type AssetLoader interface {
	Load(name string) (sampleRate int, samples []int16, err error)
}

// NopAssetLoader is the zero-value AssetLoader: every Load call fails. Beep
// playback degrades to a logged warning rather than a fatal error, since a
// missing beep should never block a conversational turn.
type NopAssetLoader struct{}

func (NopAssetLoader) Load(name string) (int, []int16, error) {
	return 0, nil, fmt.Errorf("speech: no asset loader configured for %q", name)
}

// Asset names for the fixed sound set.
const (
	AssetInputBeep      = "computerbeep_26.mp3"
	AssetPositiveBeep   = "deskviewerbeep.mp3"
	AssetErrorBeep      = "denybeep1.mp3"
	AssetProcessingLoop = "processing.mp3"
)

// Pools holds the static phrase pools the agent selects from at random.
// Each slice should contain at least one entry; Agent falls back to a
// generic placeholder for any empty pool rather than panicking.
type Pools struct {
	Greeting     []string
	Affirmation  []string
	Farewell     []string
	Abort        []string
	GarbageInput []string
}

// DefaultPools returns a bundled German phrase set, grounded on the
// original assistant's static phrase lists.
func DefaultPools() Pools {
	return Pools{
		Greeting:     []string{"Hallo, wie kann ich helfen?", "Hi, ich höre zu.", "Ja bitte?"},
		Affirmation:  []string{"Alles klar.", "Mach ich.", "Erledigt."},
		Farewell:     []string{"Bis bald!", "Tschüss!", "Schönen Tag noch!"},
		Abort:        []string{"Ja?", "Ich höre."},
		GarbageInput: []string{"Das habe ich nicht verstanden.", "Kannst du das bitte wiederholen?"},
	}
}

func pick(pool []string) string {
	if len(pool) == 0 {
		return "..."
	}
	return pool[rand.IntN(len(pool))]
}

// Agent is the Speech Agent. The zero value is not usable; construct with
// [New]. Agent is safe for concurrent use.
type Agent struct {
	engine   *audio.Engine
	registry *registry.Registry
	wakeword wakeword.Engine
	assets   AssetLoader
	logger   *slog.Logger

	pools        Pools
	cacheDir     string
	wakewordName string

	interruptMu   sync.Mutex
	interruptStop chan struct{}
	interruptDone chan struct{}
}

// Option configures an [Agent] at construction time.
type Option func(*Agent)

// WithPools overrides the default phrase pools.
func WithPools(p Pools) Option { return func(a *Agent) { a.pools = p } }

// WithCacheDir overrides the phrase cache directory (default "tts_cache").
func WithCacheDir(dir string) Option { return func(a *Agent) { a.cacheDir = dir } }

// WithWakeword sets the trigger word the startup greeting announces
// (default "computer"). An empty word is ignored.
func WithWakeword(word string) Option {
	return func(a *Agent) {
		if word != "" {
			a.wakewordName = word
		}
	}
}

// WithLogger overrides the agent's logger.
func WithLogger(logger *slog.Logger) Option { return func(a *Agent) { a.logger = logger } }

// New constructs a Speech Agent over engine, reg, and wakewordEngine.
func New(engine *audio.Engine, reg *registry.Registry, wakewordEngine wakeword.Engine, assets AssetLoader, opts ...Option) *Agent {
	if assets == nil {
		assets = NopAssetLoader{}
	}
	a := &Agent{
		engine:       engine,
		registry:     reg,
		wakeword:     wakewordEngine,
		assets:       assets,
		logger:       slog.Default(),
		pools:        DefaultPools(),
		cacheDir:     "tts_cache",
		wakewordName: "computer",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CacheFilename returns the deterministic cache file name for sentence:
// the first 8 hex characters of its MD5 digest, plus ".mp3".
func CacheFilename(sentence string) string {
	sum := md5.Sum([]byte(sentence))
	return hex.EncodeToString(sum[:])[:8] + ".mp3"
}

func (a *Agent) cachePath(sentence string) string {
	return filepath.Join(a.cacheDir, CacheFilename(sentence))
}

// WarmupCache renders every phrase in every pool that is not already
// present in the cache directory, via the best available TTS backend.
func (a *Agent) WarmupCache(ctx context.Context) error {
	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return fmt.Errorf("speech: create cache dir: %w", err)
	}

	provider := registry.BestAs[tts.Provider](a.registry, registry.CapabilityTTS)
	for _, pool := range [][]string{a.pools.Greeting, a.pools.Affirmation, a.pools.Farewell, a.pools.Abort, a.pools.GarbageInput} {
		for _, phrase := range pool {
			path := a.cachePath(phrase)
			if _, err := os.Stat(path); err == nil {
				continue
			}
			if err := provider.RenderSentence(ctx, phrase, path, tts.FormatMP3); err != nil {
				a.logger.Warn("speech: cache warmup failed for phrase", "err", err)
			}
		}
	}
	return nil
}

func (a *Agent) playAsset(name string) {
	rate, samples, err := a.assets.Load(name)
	if err != nil {
		a.logger.Warn("speech: asset playback skipped", "asset", name, "err", err)
		return
	}
	a.engine.PlayAudio(rate, samples)
}

// EngageInputBeep plays the short chime that signals the assistant is about
// to start listening.
func (a *Agent) EngageInputBeep() { a.playAsset(AssetInputBeep) }

// BeepPositive plays the short chime that signals a successful wake-word
// detection.
func (a *Agent) BeepPositive() { a.playAsset(AssetPositiveBeep) }

// BeepError plays the short chime that signals a rejected (insane) input.
func (a *Agent) BeepError() { a.playAsset(AssetErrorBeep) }

// ProcessingSound plays the "thinking" loop while an LLM response streams.
func (a *Agent) ProcessingSound() { a.playAsset(AssetProcessingLoop) }

// Say submits sentence to the best TTS backend's speak queue, bypassing the
// phrase pools entirely — used for dynamic LLM-generated content.
func (a *Agent) Say(ctx context.Context, sentence string) error {
	provider := registry.BestAs[tts.Provider](a.registry, registry.CapabilityTTS)
	return provider.Speak(ctx, sentence)
}

// playCached decodes phrase's cached rendering and enqueues it on the Audio
// Engine, reporting false on a cache miss so the caller can fall back to
// live synthesis.
func (a *Agent) playCached(phrase string) bool {
	rate, samples, err := a.assets.Load(a.cachePath(phrase))
	if err != nil {
		a.logger.Debug("speech: phrase cache miss", "phrase", phrase, "err", err)
		return false
	}
	a.engine.PlayAudio(rate, samples)
	return true
}

// sayCached plays phrase from the cache; on a miss (cache not yet warmed,
// decoder unavailable) it degrades to live synthesis via Say.
func (a *Agent) sayCached(ctx context.Context, phrase string) error {
	if a.playCached(phrase) {
		return nil
	}
	return a.Say(ctx, phrase)
}

// SkipAllAndSay aborts anything currently playing or queued, then submits
// sentence for immediate synthesis: it sets the TTS stop signal,
// drains the audio engine's playback queue, waits for the backend to settle,
// clears the stop signal, then speaks.
func (a *Agent) SkipAllAndSay(ctx context.Context, sentence string) error {
	provider := registry.BestAs[tts.Provider](a.registry, registry.CapabilityTTS)
	provider.SetStopSignal()
	a.engine.StopPlayback()
	if err := provider.WaitUntilDone(ctx); err != nil {
		a.logger.Warn("speech: wait for tts settle failed", "err", err)
	}
	provider.ClearStopSignal()
	return provider.Speak(ctx, sentence)
}

// SayHi plays the cached rendering of a random greeting-pool phrase.
func (a *Agent) SayHi(ctx context.Context) error {
	phrase := pick(a.pools.Greeting)
	a.logger.Info("speech: say_hi", "phrase", phrase)
	return a.sayCached(ctx, phrase)
}

// SayInitGreeting plays the cached startup greeting, then announces the
// active wake word through the TTS backend and waits for both the speak
// queue and the playback queue to drain, so the assistant is silent before
// it starts listening.
func (a *Agent) SayInitGreeting(ctx context.Context) error {
	if err := a.sayCached(ctx, pick(a.pools.Greeting)); err != nil {
		return err
	}
	provider := registry.BestAs[tts.Provider](a.registry, registry.CapabilityTTS)
	if err := provider.Speak(ctx, fmt.Sprintf("Ich höre auf den Namen %s", a.wakewordName)); err != nil {
		return err
	}
	if err := provider.WaitUntilDone(ctx); err != nil {
		return err
	}
	return a.engine.WaitUntilPlaybackFinished(ctx)
}

// SayBye speaks msg (dynamic content, live TTS) if non-empty, waits for the
// speak queue to settle, then plays the cached rendering of a random
// farewell-pool phrase.
func (a *Agent) SayBye(ctx context.Context, msg string) error {
	provider := registry.BestAs[tts.Provider](a.registry, registry.CapabilityTTS)
	phrase := pick(a.pools.Farewell)
	a.logger.Info("speech: say_bye", "message", msg, "phrase", phrase)
	if msg != "" {
		if err := provider.Speak(ctx, msg); err != nil {
			return err
		}
	}
	if err := provider.WaitUntilDone(ctx); err != nil {
		return err
	}
	return a.sayCached(ctx, phrase)
}

// SayDidNotUnderstand plays the cached rendering of a random
// garbage-input-pool phrase.
func (a *Agent) SayDidNotUnderstand(ctx context.Context) error {
	return a.sayCached(ctx, pick(a.pools.GarbageInput))
}

// SayAbortSpeech acknowledges a wake-word interrupt: it stops the TTS
// backend and the playback queue, lets the backend settle, then plays the
// cached abort phrase so the acknowledgement is the next audible item. The
// stop signal is cleared before returning so subsequent speak calls are
// processed again.
func (a *Agent) SayAbortSpeech(ctx context.Context) error {
	provider := registry.BestAs[tts.Provider](a.registry, registry.CapabilityTTS)
	provider.SetStopSignal()
	a.engine.StopPlayback()
	if err := provider.WaitUntilDone(ctx); err != nil {
		a.logger.Warn("speech: wait for tts settle failed", "err", err)
	}
	provider.ClearStopSignal()
	return a.sayCached(ctx, pick(a.pools.Abort))
}

// GetHumanInput yields streaming STT deltas for the next utterance. If
// waitForWakeword is true, it first drains playback to silence, plays the
// input beep, blocks on the wake-word listener, and plays the positive beep
// before opening the STT stream. Deltas are delivered on the returned
// channel, which closes when the session ends or ctx is cancelled.
func (a *Agent) GetHumanInput(ctx context.Context, waitForWakeword bool) (<-chan string, error) {
	if waitForWakeword {
		if err := a.engine.WaitUntilPlaybackFinished(ctx); err != nil {
			return nil, fmt.Errorf("speech: drain playback before wake-word wait: %w", err)
		}
		a.EngageInputBeep()

		wakeCtx, cancel := context.WithCancel(ctx)
		frames := a.engine.RecordStream(wakeCtx)
		detected, err := a.wakeword.Listen(wakeCtx, frames, ctx.Done())
		cancel()
		if err != nil {
			return nil, fmt.Errorf("speech: wake-word listener: %w", err)
		}
		if !detected {
			return nil, ctx.Err()
		}
		a.BeepPositive()
	}

	sttProvider := registry.BestAs[stt.Provider](a.registry, registry.CapabilitySTT)
	session, err := sttProvider.StartStream(ctx, stt.StreamConfig{SampleRate: audio.SampleRate, Channels: 1})
	if err != nil {
		return nil, fmt.Errorf("speech: start stt stream: %w", err)
	}

	frames := a.engine.RecordStream(ctx)
	go func() {
		for frame := range frames {
			if err := session.SendAudio(frame); err != nil {
				a.logger.Warn("speech: send audio to stt session failed", "err", err)
				return
			}
		}
		session.Close()
	}()

	return session.Deltas(), nil
}

// StartSpeechInterruptThread launches a background watcher that listens for
// the wake word while speech is playing; on detection it invokes onInterrupt
// (typically a call to [Agent.SayAbortSpeech]) and exits. Call
// StopSpeechInterruptThread to stop it early. Only one interrupt thread may
// be active at a time.
func (a *Agent) StartSpeechInterruptThread(ctx context.Context, onInterrupt func()) {
	a.interruptMu.Lock()
	defer a.interruptMu.Unlock()
	if a.interruptStop != nil {
		return
	}
	a.interruptStop = make(chan struct{})
	a.interruptDone = make(chan struct{})
	stop := a.interruptStop
	done := a.interruptDone

	go func() {
		defer close(done)
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		frames := a.engine.RecordStream(watchCtx)
		detected, err := a.wakeword.Listen(watchCtx, frames, stop)
		if err != nil {
			a.logger.Warn("speech: interrupt watcher error", "err", err)
			return
		}
		if detected {
			onInterrupt()
		}
	}()
}

// StopSpeechInterruptThread signals the interrupt watcher to exit and
// blocks until it does. Idempotent; safe to call even if no watcher is
// running.
func (a *Agent) StopSpeechInterruptThread() {
	a.interruptMu.Lock()
	stop, done := a.interruptStop, a.interruptDone
	a.interruptStop, a.interruptDone = nil, nil
	a.interruptMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
