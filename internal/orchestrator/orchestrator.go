// Package orchestrator implements the assistant's outermost turn loop: wake
// word gating, human input capture, LLM streaming with per-sentence TTS
// handoff, and sane-input filtering.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mrwong99/lokutor/internal/history"
	"github.com/mrwong99/lokutor/internal/observe"
	"github.com/mrwong99/lokutor/internal/registry"
	"github.com/mrwong99/lokutor/internal/speech"
	"github.com/mrwong99/lokutor/internal/textutil"
	"github.com/mrwong99/lokutor/pkg/provider/llm"
)

// saneInputThreshold is the default (non-relaxed) threshold forwarded to
// textutil.IsSaneInput for each captured utterance.
const saneInputThreshold = 0.15

// Orchestrator runs the conversational turn loop over an already-constructed
// Speech Agent, History Manager, and Service Registry.
type Orchestrator struct {
	registry *registry.Registry
	history  *history.Manager
	speech   *speech.Agent
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithLogger overrides the orchestrator's logger.
func WithLogger(logger *slog.Logger) Option { return func(o *Orchestrator) { o.logger = logger } }

// WithMetrics attaches a metrics instance; turn latency, sanity-filter
// rejections, and wake-word interrupts are recorded against it.
func WithMetrics(m *observe.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// New constructs an Orchestrator. reg must already be started
// ([registry.Registry.Start]) before [Orchestrator.Run] is called.
func New(reg *registry.Registry, historyMgr *history.Manager, speechAgent *speech.Agent, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		history:  historyMgr,
		speech:   speechAgent,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the assistant's main loop until ctx is cancelled or the user
// ends the conversation. Step 1 (constructing the Audio
// Engine, History Manager, and Registry, and calling Registry.Start) is the
// caller's responsibility — Run assumes all three are already live.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.warmupAndGreet(ctx); err != nil {
		o.logger.Warn("orchestrator: warmup/greeting failed, continuing", "err", err)
	}

	wakeWordRequired := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		next, done := o.turn(ctx, wakeWordRequired)
		if done {
			return ctx.Err()
		}
		wakeWordRequired = next
	}
}

// turn runs a single conversational turn: capture, sanity filter,
// conversation-ending check, then the LLM exchange. It returns whether the
// next turn must wait for the wake word, and whether the conversation is over
// (goodbye detected or ctx cancelled).
func (o *Orchestrator) turn(ctx context.Context, wakeWordRequired bool) (nextWakeRequired, done bool) {
	captureStart := time.Now()
	fullText, err := o.captureUtterance(ctx, wakeWordRequired)
	if err == nil && o.metrics != nil {
		o.metrics.STTDuration.Record(ctx, time.Since(captureStart).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			return wakeWordRequired, true
		}
		o.logger.Warn("orchestrator: failed to capture human input", "err", err)
		return wakeWordRequired, false
	}

	if !textutil.IsSaneInput(fullText, saneInputThreshold) {
		o.speech.BeepError()
		if o.metrics != nil {
			o.metrics.RecordSaneInputRejection(ctx)
		}
		return false, false
	}

	if textutil.IsConversationEnding(fullText) {
		if err := o.speech.SayBye(ctx, ""); err != nil {
			o.logger.Warn("orchestrator: farewell failed", "err", err)
		}
		return true, true
	}

	o.processTurn(ctx, fullText)
	return true, false
}

// warmupAndGreet runs the phrase-cache warmup and the initial greeting
// concurrently and waits for both.
func (o *Orchestrator) warmupAndGreet(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.speech.WarmupCache(gctx) })
	g.Go(func() error { return o.speech.SayInitGreeting(gctx) })
	return g.Wait()
}

// captureUtterance opens a human-input session and accumulates every delta
// into the full utterance text.
func (o *Orchestrator) captureUtterance(ctx context.Context, waitForWakeword bool) (string, error) {
	deltas, err := o.speech.GetHumanInput(ctx, waitForWakeword)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for delta := range deltas {
		b.WriteString(delta)
	}
	return b.String(), nil
}

// SwitchMode interprets reply as the output of a MODUS_SELECTION exchange and
// switches the history manager to the parsed mode, falling back to CHAT for
// unrecognised replies. Mode auto-switching is not part of the default turn
// loop; callers that run a MODUS_SELECTION turn invoke this explicitly with
// its result.
func (o *Orchestrator) SwitchMode(reply string) history.Mode {
	mode := history.ParseModeSwitch(reply)
	if err := o.history.SetMode(mode); err != nil {
		// ParseModeSwitch only returns enumerated modes; reaching this is a
		// programmer error worth surfacing loudly in logs.
		o.logger.Error("orchestrator: mode switch rejected", "mode", mode, "err", err)
		return o.history.Mode()
	}
	return mode
}

// processTurn runs processing_sound concurrently with the LLM exchange,
// speaking each completed sentence as it arrives. A
// speech interrupt watcher runs for the duration of the turn; if the wake
// word fires mid-playback it aborts the in-flight utterance and any
// remaining sentences from this turn are drained without being spoken, so
// the turn returns promptly to the outer loop.
func (o *Orchestrator) processTurn(ctx context.Context, text string) {
	turnID := uuid.NewString()
	logger := o.logger.With("turn_id", turnID)
	turnStart := time.Now()

	var g errgroup.Group
	g.Go(func() error {
		o.speech.ProcessingSound()
		return nil
	})

	var interrupted atomic.Bool
	watchCtx, cancelWatch := context.WithCancel(ctx)
	o.speech.StartSpeechInterruptThread(watchCtx, func() {
		interrupted.Store(true)
		if o.metrics != nil {
			o.metrics.RecordInterrupt(ctx)
		}
		if err := o.speech.SayAbortSpeech(ctx); err != nil {
			logger.Warn("orchestrator: abort speech failed", "err", err)
		}
	})

	spoken := 0
	sentences, errs := o.askLLM(ctx, text, true)
	for sentence := range sentences {
		if interrupted.Load() {
			continue
		}
		if err := o.speech.Say(ctx, sentence); err != nil {
			logger.Warn("orchestrator: speak failed", "err", err)
			continue
		}
		spoken++
	}
	if err := <-errs; err != nil {
		logger.Warn("orchestrator: llm exchange failed", "err", err)
	}

	cancelWatch()
	o.speech.StopSpeechInterruptThread()

	if err := g.Wait(); err != nil {
		logger.Warn("orchestrator: processing sound task failed", "err", err)
	}

	if o.metrics != nil {
		o.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
		if spoken > 0 {
			o.metrics.RecordTurnCompleted(ctx)
		}
	}
}

// askLLM appends text as a user entry, streams the best LLM backend's reply,
// and emits complete sentences on the returned channel as soon as each is
// recognized. The error channel receives exactly one value
// (nil on success) once the exchange completes; both channels close when
// done.
func (o *Orchestrator) askLLM(ctx context.Context, text string, streamSentences bool) (<-chan string, <-chan error) {
	sentences := make(chan string)
	errc := make(chan error, 1)

	o.history.AddUserEntry(text)

	go func() {
		defer close(sentences)
		errc <- o.runLLMExchange(ctx, streamSentences, sentences)
		close(errc)
	}()

	return sentences, errc
}

func (o *Orchestrator) runLLMExchange(ctx context.Context, streamSentences bool, sentences chan<- string) error {
	provider := registry.BestAs[llm.Provider](o.registry, registry.CapabilityLLM)

	llmStart := time.Now()
	chunks, err := provider.Chat(ctx, o.history.History())
	if err != nil {
		return err
	}

	var full strings.Builder
	var buffer string
	for chunk := range chunks {
		cleaned := textutil.CleanMarkdown(chunk.Text)
		full.WriteString(cleaned)

		if streamSentences && cleaned != "" {
			buffer += cleaned
			tokenized := textutil.TokenizeSentences(buffer)
			if len(tokenized) > 1 {
				for _, s := range tokenized[:len(tokenized)-1] {
					emitSentence(sentences, s)
				}
				buffer = tokenized[len(tokenized)-1]
			}
		}
	}

	if streamSentences && buffer != "" {
		for _, s := range textutil.TokenizeSentences(buffer) {
			emitSentence(sentences, s)
		}
	}

	if o.metrics != nil {
		o.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	}

	o.history.AddAssistantEntry(full.String())
	return nil
}

// emitSentence strips punctuation-only residue and discards sentences with
// no alphanumeric content before sending to the sentences channel.
func emitSentence(sentences chan<- string, s string) {
	s = strings.TrimSpace(s)
	if s == "" || !textutil.HasAlphanumeric(s) {
		return
	}
	sentences <- s
}
