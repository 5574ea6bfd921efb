package speech

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mrwong99/lokutor/internal/registry"
	"github.com/mrwong99/lokutor/pkg/audio"
	sttmock "github.com/mrwong99/lokutor/pkg/provider/stt/mock"
	ttsmock "github.com/mrwong99/lokutor/pkg/provider/tts/mock"
	wakemock "github.com/mrwong99/lokutor/pkg/provider/wakeword/mock"
)

// fakeStream is a no-op audio.Stream.
type fakeStream struct{}

func (fakeStream) Start() error { return nil }
func (fakeStream) Stop() error  { return nil }
func (fakeStream) Close() error { return nil }

// fakeBackend is a minimal synchronous audio.Backend double.
type fakeBackend struct {
	mu       sync.Mutex
	onInput  audio.DataCallback
	onOutput audio.DataCallback
}

func (b *fakeBackend) ListDevices() ([]audio.Device, []audio.Device, error) {
	in := []audio.Device{{Index: 0, Name: "default", MaxInputChannels: 1, DefaultSampleRate: audio.SampleRate}}
	out := []audio.Device{{Index: 0, Name: "default", MaxOutputChannels: 1, DefaultSampleRate: audio.SampleRate}}
	return in, out, nil
}

func (b *fakeBackend) OpenInput(_ audio.Device, _, _ int, cb audio.DataCallback) (audio.Stream, error) {
	b.mu.Lock()
	b.onInput = cb
	b.mu.Unlock()
	return fakeStream{}, nil
}

func (b *fakeBackend) OpenOutput(_ audio.Device, _, _ int, cb audio.DataCallback) (audio.Stream, error) {
	b.mu.Lock()
	b.onOutput = cb
	b.mu.Unlock()
	return fakeStream{}, nil
}

func (b *fakeBackend) Close() error { return nil }

// deliverCapture invokes the registered capture callback with frame, as the
// device thread would.
func (b *fakeBackend) deliverCapture(frame []byte) {
	b.mu.Lock()
	cb := b.onInput
	b.mu.Unlock()
	cb(nil, frame, len(frame)/2)
}

// pumpPlayback repeatedly invokes the registered playback callback until
// stop closes, standing in for the device thread draining the engine.
func (b *fakeBackend) pumpPlayback(stop <-chan struct{}) {
	buf := make([]byte, audio.FrameSamples*2)
	for {
		select {
		case <-stop:
			return
		default:
		}
		b.mu.Lock()
		cb := b.onOutput
		b.mu.Unlock()
		if cb != nil {
			cb(buf, nil, audio.FrameSamples)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestEngine(t *testing.T) *audio.Engine {
	t.Helper()
	dev := audio.Device{Index: 0, Name: "default"}
	e, err := audio.New(&fakeBackend{}, dev, dev, nil)
	if err != nil {
		t.Fatalf("audio.New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// stubAssetLoader always succeeds with a short silent clip, recording which
// asset names were requested.
type stubAssetLoader struct {
	mu     sync.Mutex
	loaded []string
}

func (s *stubAssetLoader) Load(name string) (int, []int16, error) {
	s.mu.Lock()
	s.loaded = append(s.loaded, name)
	s.mu.Unlock()
	return audio.SampleRate, []int16{1, 2, 3}, nil
}

func (s *stubAssetLoader) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.loaded))
	copy(out, s.loaded)
	return out
}

func newTestAgent(t *testing.T, tp *ttsmock.Provider, sp *sttmock.Provider, we *wakemock.Engine) (*Agent, *stubAssetLoader) {
	t.Helper()
	reg := registry.New(nil)
	if tp != nil {
		tp.AvailableResult = true
		reg.Register(registry.CapabilityTTS, "mock-tts", 10, tp, "mock://tts")
	}
	if sp != nil {
		sp.AvailableResult = true
		reg.Register(registry.CapabilitySTT, "mock-stt", 10, sp, "mock://stt")
	}
	reg.Start(context.Background())
	t.Cleanup(reg.Stop)

	assets := &stubAssetLoader{}
	agent := New(newTestEngine(t), reg, we, assets, WithCacheDir(t.TempDir()))
	return agent, assets
}

func TestCacheFilename_DeterministicAndMP3(t *testing.T) {
	a := CacheFilename("hallo welt")
	b := CacheFilename("hallo welt")
	if a != b {
		t.Fatalf("CacheFilename not deterministic: %q vs %q", a, b)
	}
	if filepath.Ext(a) != ".mp3" {
		t.Fatalf("CacheFilename(%q) = %q, want .mp3 extension", "hallo welt", a)
	}
	if CacheFilename("hallo welt") == CacheFilename("tschüss") {
		t.Fatal("distinct phrases must not collide")
	}
}

func TestWarmupCache_RendersMissingPhrasesOnly(t *testing.T) {
	tp := &ttsmock.Provider{}
	agent, _ := newTestAgent(t, tp, nil, nil)
	agent.pools = Pools{Greeting: []string{"hallo"}, Farewell: []string{"tschüss"}}

	if err := agent.WarmupCache(context.Background()); err != nil {
		t.Fatalf("WarmupCache: %v", err)
	}
	if len(tp.RenderSentenceCalls) != 2 {
		t.Fatalf("got %d RenderSentence calls, want 2", len(tp.RenderSentenceCalls))
	}

	// Pre-create one cache file; a second warmup should skip it.
	tp.Reset()
	path := agent.cachePath("hallo")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed cache file: %v", err)
	}
	if err := agent.WarmupCache(context.Background()); err != nil {
		t.Fatalf("WarmupCache: %v", err)
	}
	if len(tp.RenderSentenceCalls) != 1 {
		t.Fatalf("got %d RenderSentence calls on second pass, want 1 (hallo already cached)", len(tp.RenderSentenceCalls))
	}
	if tp.RenderSentenceCalls[0].Sentence != "tschüss" {
		t.Fatalf("expected only tschüss re-rendered, got %+v", tp.RenderSentenceCalls[0])
	}
}

func TestSayHi_PlaysCachedGreeting(t *testing.T) {
	tp := &ttsmock.Provider{}
	agent, assets := newTestAgent(t, tp, nil, nil)
	agent.pools = Pools{Greeting: []string{"einzige begrüßung"}}

	if err := agent.SayHi(context.Background()); err != nil {
		t.Fatalf("SayHi: %v", err)
	}
	if len(tp.SpeakCalls) != 0 {
		t.Fatalf("cached phrase must not hit the TTS backend, got %+v", tp.SpeakCalls)
	}
	names := assets.names()
	if len(names) != 1 || names[0] != agent.cachePath("einzige begrüßung") {
		t.Fatalf("loaded assets = %v, want the phrase's cache file", names)
	}
}

func TestSayHi_CacheMissFallsBackToLiveTTS(t *testing.T) {
	tp := &ttsmock.Provider{AvailableResult: true}
	reg := registry.New(nil)
	reg.Register(registry.CapabilityTTS, "mock-tts", 10, tp, "mock://tts")
	reg.Start(context.Background())
	t.Cleanup(reg.Stop)

	agent := New(newTestEngine(t), reg, nil, NopAssetLoader{},
		WithPools(Pools{Greeting: []string{"einzige begrüßung"}}))

	if err := agent.SayHi(context.Background()); err != nil {
		t.Fatalf("SayHi: %v", err)
	}
	if len(tp.SpeakCalls) != 1 || tp.SpeakCalls[0].Sentence != "einzige begrüßung" {
		t.Fatalf("SpeakCalls = %+v, want a live-synthesis fallback", tp.SpeakCalls)
	}
}

func TestSayBye_SpeaksMessageThenCachedFarewell(t *testing.T) {
	tp := &ttsmock.Provider{}
	agent, assets := newTestAgent(t, tp, nil, nil)
	agent.pools = Pools{Farewell: []string{"bis bald"}}

	if err := agent.SayBye(context.Background(), "Es war schön mit dir zu reden."); err != nil {
		t.Fatalf("SayBye: %v", err)
	}
	if len(tp.SpeakCalls) != 1 || tp.SpeakCalls[0].Sentence != "Es war schön mit dir zu reden." {
		t.Fatalf("SpeakCalls = %+v, want only the dynamic message", tp.SpeakCalls)
	}
	if tp.WaitUntilDoneCalls == 0 {
		t.Fatal("SayBye must wait for the speak queue before the farewell")
	}
	names := assets.names()
	if len(names) != 1 || names[0] != agent.cachePath("bis bald") {
		t.Fatalf("loaded assets = %v, want the farewell's cache file", names)
	}
}

func TestSayInitGreeting_AnnouncesWakeword(t *testing.T) {
	backend := &fakeBackend{}
	dev := audio.Device{Index: 0, Name: "default"}
	eng, err := audio.New(backend, dev, dev, nil)
	if err != nil {
		t.Fatalf("audio.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	stop := make(chan struct{})
	go backend.pumpPlayback(stop)
	defer close(stop)

	tp := &ttsmock.Provider{AvailableResult: true}
	reg := registry.New(nil)
	reg.Register(registry.CapabilityTTS, "mock-tts", 10, tp, "mock://tts")
	reg.Start(context.Background())
	t.Cleanup(reg.Stop)

	assets := &stubAssetLoader{}
	agent := New(eng, reg, nil, assets,
		WithPools(Pools{Greeting: []string{"hallo"}}), WithWakeword("jarvis"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := agent.SayInitGreeting(ctx); err != nil {
		t.Fatalf("SayInitGreeting: %v", err)
	}

	names := assets.names()
	if len(names) != 1 || names[0] != agent.cachePath("hallo") {
		t.Fatalf("loaded assets = %v, want the greeting's cache file", names)
	}
	if len(tp.SpeakCalls) != 1 || tp.SpeakCalls[0].Sentence != "Ich höre auf den Namen jarvis" {
		t.Fatalf("SpeakCalls = %+v, want the wake-word announcement", tp.SpeakCalls)
	}
	if tp.WaitUntilDoneCalls == 0 {
		t.Fatal("SayInitGreeting must wait for the announcement to finish synthesizing")
	}
}

func TestSkipAllAndSay_ClearsStopSignalAfterDraining(t *testing.T) {
	tp := &ttsmock.Provider{}
	agent, _ := newTestAgent(t, tp, nil, nil)

	if err := agent.SkipAllAndSay(context.Background(), "neuer satz"); err != nil {
		t.Fatalf("SkipAllAndSay: %v", err)
	}
	if tp.SetStopSignalCalls != 1 || tp.ClearStopSignalCalls != 1 {
		t.Fatalf("stop signal set/clear calls = %d/%d, want 1/1", tp.SetStopSignalCalls, tp.ClearStopSignalCalls)
	}
	if tp.StopSignalSet() {
		t.Fatal("stop signal must be cleared before returning")
	}
	if len(tp.SpeakCalls) != 1 || tp.SpeakCalls[0].Sentence != "neuer satz" {
		t.Fatalf("SpeakCalls = %+v", tp.SpeakCalls)
	}
}

func TestEngageInputBeep_UsesAssetLoader(t *testing.T) {
	agent, assets := newTestAgent(t, nil, nil, nil)
	agent.EngageInputBeep()
	agent.BeepPositive()
	agent.BeepError()

	got := assets.names()
	want := []string{AssetInputBeep, AssetPositiveBeep, AssetErrorBeep}
	if len(got) != len(want) {
		t.Fatalf("loaded assets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("asset %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBeep_MissingAssetDoesNotPanic(t *testing.T) {
	reg := registry.New(nil)
	agent := New(newTestEngine(t), reg, nil, NopAssetLoader{})
	agent.EngageInputBeep() // must not panic even though NopAssetLoader always errors
}

// Without DetectAfterFrames the mock wakeword engine has no detection
// trigger of its own; it only resolves once ctx or its stop channel closes, returning whatever
// DetectResult was configured regardless of which fired. With stop wired to
// ctx.Done() here, the deadline below both terminates the wait and supplies
// the "detected" outcome, so the timeout must clear playback drain
// (silenceGrace) with room left over.
func TestGetHumanInput_WakewordGatedFlow(t *testing.T) {
	sp := &sttmock.Provider{Session: &sttmock.Session{DeltasCh: make(chan string, 4)}}
	we := &wakemock.Engine{DetectResult: true}
	agent, assets := newTestAgent(t, nil, sp, we)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deltas, err := agent.GetHumanInput(ctx, true)
	if err != nil {
		t.Fatalf("GetHumanInput: %v", err)
	}
	if deltas == nil {
		t.Fatal("expected a non-nil delta channel")
	}

	names := assets.names()
	if len(names) != 2 || names[0] != AssetInputBeep || names[1] != AssetPositiveBeep {
		t.Fatalf("beep sequence = %v, want [%s %s]", names, AssetInputBeep, AssetPositiveBeep)
	}
	if len(sp.StartStreamCalls) != 1 {
		t.Fatalf("StartStream calls = %d, want 1", len(sp.StartStreamCalls))
	}
}

func TestGetHumanInput_NoWakewordDetectedReturnsError(t *testing.T) {
	sp := &sttmock.Provider{}
	we := &wakemock.Engine{DetectResult: false}
	agent, _ := newTestAgent(t, nil, sp, we)

	// The deadline must clear the playback drain (silenceGrace) so the
	// wake-word listener is reached and reports no detection.
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	_, err := agent.GetHumanInput(ctx, true)
	if err == nil {
		t.Fatal("expected an error when the wake-word listener reports no detection")
	}
	if len(sp.StartStreamCalls) != 0 {
		t.Fatal("STT stream must not start when the wake word was never detected")
	}
}

// When the wake-word listener reports a detection, StopSpeechInterruptThread
// is what unblocks the mock listener in this test (standing in for the
// listener's own internal detection trigger); the watcher goroutine must
// still invoke onInterrupt before the call returns.
func TestSpeechInterruptThread_FiresCallbackOnDetection(t *testing.T) {
	we := &wakemock.Engine{DetectResult: true}
	agent, _ := newTestAgent(t, nil, nil, we)

	fired := make(chan struct{})
	agent.StartSpeechInterruptThread(context.Background(), func() { close(fired) })
	agent.StopSpeechInterruptThread()

	select {
	case <-fired:
	default:
		t.Fatal("interrupt callback must have fired by the time StopSpeechInterruptThread returns")
	}
}

// The wake word is detected while speech is playing. The
// watcher must invoke the abort path promptly: playback stops, the TTS stop
// signal is set and cleared, and the abort phrase is the next submission.
func TestSpeechInterruptThread_WakeWordAbortsSpeech(t *testing.T) {
	backend := &fakeBackend{}
	dev := audio.Device{Index: 0, Name: "default"}
	eng, err := audio.New(backend, dev, dev, nil)
	if err != nil {
		t.Fatalf("audio.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	tp := &ttsmock.Provider{AvailableResult: true}
	reg := registry.New(nil)
	reg.Register(registry.CapabilityTTS, "mock-tts", 10, tp, "mock://tts")
	reg.Start(context.Background())
	t.Cleanup(reg.Stop)

	we := &wakemock.Engine{DetectResult: true, DetectAfterFrames: 1}
	agent := New(eng, reg, we, NopAssetLoader{}, WithPools(Pools{Abort: []string{"ja?"}}))

	fired := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	agent.StartSpeechInterruptThread(ctx, func() {
		if err := agent.SayAbortSpeech(ctx); err != nil {
			t.Errorf("SayAbortSpeech: %v", err)
		}
		close(fired)
	})

	// A single capture frame stands in for the spoken wake word.
	backend.deliverCapture([]byte{1, 0})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the interrupt callback")
	}
	agent.StopSpeechInterruptThread()

	if tp.SetStopSignalCalls != 1 || tp.ClearStopSignalCalls != 1 {
		t.Fatalf("stop signal set/clear = %d/%d, want 1/1", tp.SetStopSignalCalls, tp.ClearStopSignalCalls)
	}
	if len(tp.SpeakCalls) != 1 || tp.SpeakCalls[0].Sentence != "ja?" {
		t.Fatalf("expected the abort phrase to be the next submission, got %+v", tp.SpeakCalls)
	}
}

func TestSpeechInterruptThread_StopWithoutDetection(t *testing.T) {
	we := &wakemock.Engine{DetectResult: false}
	agent, _ := newTestAgent(t, nil, nil, we)

	called := false
	agent.StartSpeechInterruptThread(context.Background(), func() { called = true })
	agent.StopSpeechInterruptThread()

	if called {
		t.Fatal("interrupt callback must not fire when the watcher was stopped first")
	}
}
