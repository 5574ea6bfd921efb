package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mrwong99/lokutor/internal/history"
	"github.com/mrwong99/lokutor/internal/registry"
	"github.com/mrwong99/lokutor/internal/speech"
	"github.com/mrwong99/lokutor/pkg/audio"
	"github.com/mrwong99/lokutor/pkg/provider/llm"
	llmmock "github.com/mrwong99/lokutor/pkg/provider/llm/mock"
	sttmock "github.com/mrwong99/lokutor/pkg/provider/stt/mock"
	ttsmock "github.com/mrwong99/lokutor/pkg/provider/tts/mock"
	wakewordmock "github.com/mrwong99/lokutor/pkg/provider/wakeword/mock"
)

// fakeStream is a no-op [audio.Stream] for fakeBackend.
type fakeStream struct{}

func (fakeStream) Start() error { return nil }
func (fakeStream) Stop() error  { return nil }
func (fakeStream) Close() error { return nil }

// fakeBackend is a minimal [audio.Backend] whose device callbacks are never
// invoked — sufficient for exercising the orchestrator's text-processing
// paths without real device I/O.
type fakeBackend struct{}

func (fakeBackend) ListDevices() ([]audio.Device, []audio.Device, error) {
	in := []audio.Device{{Index: 0, Name: "default", MaxInputChannels: 1, DefaultSampleRate: audio.SampleRate}}
	out := []audio.Device{{Index: 0, Name: "default", MaxOutputChannels: 1, DefaultSampleRate: audio.SampleRate}}
	return in, out, nil
}

func (fakeBackend) OpenInput(audio.Device, int, int, audio.DataCallback) (audio.Stream, error) {
	return fakeStream{}, nil
}

func (fakeBackend) OpenOutput(audio.Device, int, int, audio.DataCallback) (audio.Stream, error) {
	return fakeStream{}, nil
}

func (fakeBackend) Close() error { return nil }

// countingAssetLoader records which beep assets were requested.
type countingAssetLoader struct {
	mu     sync.Mutex
	loaded []string
}

func (l *countingAssetLoader) Load(name string) (int, []int16, error) {
	l.mu.Lock()
	l.loaded = append(l.loaded, name)
	l.mu.Unlock()
	return audio.SampleRate, []int16{1}, nil
}

func (l *countingAssetLoader) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, a := range l.loaded {
		if a == name {
			n++
		}
	}
	return n
}

// countPrefix counts loads whose name starts with prefix, used to match
// phrase-cache files without knowing which pool phrase was picked.
func (l *countingAssetLoader) countPrefix(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, a := range l.loaded {
		if strings.HasPrefix(a, prefix) {
			n++
		}
	}
	return n
}

// testRig bundles an Orchestrator with its mock providers for assertions.
type testRig struct {
	orch   *Orchestrator
	llm    *llmmock.Provider
	stt    *sttmock.Provider
	tts    *ttsmock.Provider
	hist   *history.Manager
	assets *countingAssetLoader
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	eng, err := audio.New(fakeBackend{}, audio.Device{Index: 0, Name: "default"}, audio.Device{Index: 0, Name: "default"}, nil)
	if err != nil {
		t.Fatalf("audio.New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	reg := registry.New(nil)
	llmP := &llmmock.Provider{AvailableResult: true}
	sttP := &sttmock.Provider{AvailableResult: true}
	ttsP := &ttsmock.Provider{AvailableResult: true}
	reg.Register(registry.CapabilityLLM, "test-llm", 1, llmP, "")
	reg.Register(registry.CapabilitySTT, "test-stt", 1, sttP, "")
	reg.Register(registry.CapabilityTTS, "test-tts", 1, ttsP, "")
	reg.Start(context.Background())
	t.Cleanup(reg.Stop)

	hist, err := history.New(history.ModeChat)
	if err != nil {
		t.Fatalf("history.New: %v", err)
	}

	assets := &countingAssetLoader{}
	agent := speech.New(eng, reg, &wakewordmock.Engine{}, assets)
	orch := New(reg, hist, agent)

	return &testRig{orch: orch, llm: llmP, stt: sttP, tts: ttsP, hist: hist, assets: assets}
}

// preloadTranscript queues STT deltas whose concatenation is the next
// utterance the orchestrator will capture.
func (r *testRig) preloadTranscript(deltas ...string) {
	ch := make(chan string, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	r.stt.Session = &sttmock.Session{DeltasCh: ch}
}

func TestAskLLM_SplitsChunksIntoSentences(t *testing.T) {
	rig := newTestRig(t)
	rig.llm.ChatChunks = []llm.Chunk{
		{Text: "Hello there. "},
		{Text: "How are you? "},
		{Text: "Fine.", FinishReason: "stop"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sentences, errc := rig.orch.askLLM(ctx, "hi", true)

	var got []string
	for s := range sentences {
		got = append(got, s)
	}
	if err := <-errc; err != nil {
		t.Fatalf("askLLM errc: %v", err)
	}

	if len(got) == 0 {
		t.Fatal("expected at least one sentence")
	}

	full := rig.hist.History()
	if len(full) != 3 {
		t.Fatalf("expected 3 history entries (system+user+assistant), got %d", len(full))
	}
	if full[1].Content != "hi" {
		t.Errorf("expected user entry %q, got %q", "hi", full[1].Content)
	}
}

// Cumulative transcripts "hallo" → "hallo welt" pass the sanity
// check, the stub LLM streams ["Guten ", "Tag!", " Wie geht es?"], and
// exactly the sentences "Guten Tag!" and "Wie geht es?" reach the TTS queue
// while the assistant history gains one entry with the full response.
func TestTurn_HappyPath(t *testing.T) {
	rig := newTestRig(t)
	rig.preloadTranscript("hallo", " welt")
	rig.llm.ChatChunks = []llm.Chunk{
		{Text: "Guten "},
		{Text: "Tag!"},
		{Text: " Wie geht es?", FinishReason: "stop"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nextWake, done := rig.orch.turn(ctx, false)
	if done {
		t.Fatal("turn reported the conversation as over")
	}
	if !nextWake {
		t.Fatal("a successful turn must restore the wake-word requirement")
	}

	var spoken []string
	for _, c := range rig.tts.SpeakCalls {
		spoken = append(spoken, c.Sentence)
	}
	want := []string{"Guten Tag!", "Wie geht es?"}
	if len(spoken) != len(want) {
		t.Fatalf("spoken sentences = %v, want %v", spoken, want)
	}
	for i := range want {
		if spoken[i] != want[i] {
			t.Fatalf("sentence %d = %q, want %q", i, spoken[i], want[i])
		}
	}

	hist := rig.hist.History()
	last := hist[len(hist)-1]
	if last.Role != "assistant" || last.Content != "Guten Tag! Wie geht es?" {
		t.Fatalf("assistant entry = %+v, want full accumulated response", last)
	}
	if hist[len(hist)-2].Content != "hallo welt" {
		t.Fatalf("user entry = %q, want %q", hist[len(hist)-2].Content, "hallo welt")
	}
}

// A garbage transcript is rejected by the sanity filter, the
// error beep plays exactly once, and the next turn runs without the
// wake-word requirement.
func TestTurn_GarbageInput(t *testing.T) {
	rig := newTestRig(t)
	rig.preloadTranscript("xxx qqq zzz")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nextWake, done := rig.orch.turn(ctx, false)
	if done {
		t.Fatal("garbage input must not end the conversation")
	}
	if nextWake {
		t.Fatal("wake-word requirement must be dropped after a rejected input")
	}
	if n := rig.assets.count(speech.AssetErrorBeep); n != 1 {
		t.Fatalf("error beep enqueued %d times, want exactly 1", n)
	}
	if len(rig.llm.ChatCalls) != 0 {
		t.Fatal("the LLM must not be called for rejected input")
	}
}

func TestTurn_ConversationEndingSaysBye(t *testing.T) {
	rig := newTestRig(t)
	rig.preloadTranscript("tschüss")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, done := rig.orch.turn(ctx, false)
	if !done {
		t.Fatal("a goodbye utterance must end the conversation")
	}
	// A goodbye without a dynamic message plays only the cached farewell.
	if len(rig.tts.SpeakCalls) != 0 {
		t.Fatalf("expected no live synthesis for the farewell, got %+v", rig.tts.SpeakCalls)
	}
	if n := rig.assets.countPrefix("tts_cache"); n != 1 {
		t.Fatalf("farewell cache file loaded %d times, want exactly 1", n)
	}
	if len(rig.llm.ChatCalls) != 0 {
		t.Fatal("the LLM must not be consulted for a goodbye")
	}
}

func TestAskLLM_PropagatesChatError(t *testing.T) {
	rig := newTestRig(t)
	wantErr := errBoom
	rig.llm.ChatErr = wantErr

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sentences, errc := rig.orch.askLLM(ctx, "hi", true)
	for range sentences {
	}
	if err := <-errc; err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestCaptureUtterance_AccumulatesDeltas(t *testing.T) {
	rig := newTestRig(t)
	rig.preloadTranscript("hello ", "world")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := rig.orch.captureUtterance(ctx, false)
	if err != nil {
		t.Fatalf("captureUtterance: %v", err)
	}
	if got != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", got)
	}
}

func TestSwitchMode(t *testing.T) {
	rig := newTestRig(t)

	if got := rig.orch.SwitchMode("STATUS"); got != history.ModeStatus {
		t.Fatalf("SwitchMode = %q, want %q", got, history.ModeStatus)
	}
	if rig.hist.Mode() != history.ModeStatus {
		t.Fatalf("history mode = %q, want %q", rig.hist.Mode(), history.ModeStatus)
	}

	if got := rig.orch.SwitchMode("no idea"); got != history.ModeChat {
		t.Fatalf("SwitchMode fallback = %q, want %q", got, history.ModeChat)
	}
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}
