package wsstt

import (
	"strings"
	"testing"
)

func TestDeltaSuffix_ConcatenationEqualsFinalTranscript(t *testing.T) {
	// Successive cumulative transcripts as a recognizer would emit them; the
	// plain concatenation of all yielded deltas must reproduce the final
	// cumulative transcript exactly.
	cumulatives := []string{"hallo", "hallo welt", "hallo welt wie geht es"}

	var prev string
	var b strings.Builder
	for _, cur := range cumulatives {
		b.WriteString(deltaSuffix(prev, cur))
		prev = cur
	}

	want := cumulatives[len(cumulatives)-1]
	if got := b.String(); got != want {
		t.Fatalf("concatenated deltas = %q, want %q", got, want)
	}
}

func TestDeltaSuffix_HypothesisRevisionYieldsWholeTranscript(t *testing.T) {
	// When the recognizer revises its hypothesis instead of appending, the
	// whole new cumulative is the delta.
	if got := deltaSuffix("hallo walt", "hallo welt"); got != "hallo welt" {
		t.Fatalf("deltaSuffix = %q, want the full revised transcript", got)
	}
}

func TestDeltaSuffix_NoChangeYieldsEmpty(t *testing.T) {
	if got := deltaSuffix("hallo welt", "hallo welt"); got != "" {
		t.Fatalf("deltaSuffix = %q, want empty for an unchanged transcript", got)
	}
}

func TestStripHallucinations(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Untertitelung des ZDF für funk", ""},
		{"hallo welt Vielen Dank fürs Zuschauen", "hallo welt"},
		{"wie ist das wetter heute", "wie ist das wetter heute"},
		{"Thanks for watching thanks for watching", ""},
	}
	for _, tt := range tests {
		if got := stripHallucinations(tt.in); got != tt.want {
			t.Errorf("stripHallucinations(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWsHostPort(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"ws://localhost:9000/stream", "localhost:9000"},
		{"wss://stt.example.com/v1", "stt.example.com:80"},
		{"ws://10.0.0.5:8765", "10.0.0.5:8765"},
		{"http://not-a-websocket", ""},
	}
	for _, tt := range tests {
		if got := wsHostPort(tt.url); got != tt.want {
			t.Errorf("wsHostPort(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
