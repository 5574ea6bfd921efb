package provider_test

import (
	"context"
	"testing"

	"github.com/mrwong99/lokutor/internal/config"
	"github.com/mrwong99/lokutor/internal/provider"
)

// fakeSink is a no-op tts.AudioSink for exercising BuildTTS.
type fakeSink struct{}

func (fakeSink) PlayAudio(context.Context, []byte) error { return nil }

func TestBuildLLM_OllamaCompatible(t *testing.T) {
	entry := config.ServiceEntry{
		Name:        "local-ollama",
		BaseClass:   provider.BaseClassLLMOllamaCompatible,
		Endpoint:    "http://localhost:11434",
		OllamaModel: "llama3.1",
	}
	p, err := provider.BuildLLM(entry)
	if err != nil {
		t.Fatalf("BuildLLM: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestBuildLLM_OllamaCompatible_RequiresModel(t *testing.T) {
	entry := config.ServiceEntry{
		Name:      "local-ollama",
		BaseClass: provider.BaseClassLLMOllamaCompatible,
		Endpoint:  "http://localhost:11434",
	}
	if _, err := provider.BuildLLM(entry); err == nil {
		t.Fatal("expected error when ollama_model is missing")
	}
}

func TestBuildLLM_OpenAICompatible_RequiresModelOption(t *testing.T) {
	entry := config.ServiceEntry{
		Name:      "cloud-llm",
		BaseClass: provider.BaseClassLLMOpenAICompatible,
	}
	if _, err := provider.BuildLLM(entry); err == nil {
		t.Fatal("expected error when options.model is missing")
	}
}

func TestBuildLLM_UnknownBaseClass(t *testing.T) {
	entry := config.ServiceEntry{Name: "x", BaseClass: "llm.Nonexistent"}
	if _, err := provider.BuildLLM(entry); err == nil {
		t.Fatal("expected error for unknown base_class")
	}
}

func TestBuildSTT_WebSocket(t *testing.T) {
	entry := config.ServiceEntry{
		Name:      "local-stt",
		BaseClass: provider.BaseClassSTTWebSocket,
		Endpoint:  "ws://localhost:9000/stream",
	}
	p, err := provider.BuildSTT(entry)
	if err != nil {
		t.Fatalf("BuildSTT: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestBuildSTT_RequiresEndpoint(t *testing.T) {
	entry := config.ServiceEntry{Name: "local-stt", BaseClass: provider.BaseClassSTTWebSocket}
	if _, err := provider.BuildSTT(entry); err == nil {
		t.Fatal("expected error when endpoint is missing")
	}
}

func TestBuildTTS_OpenAICompatible_DefaultsModelAndVoice(t *testing.T) {
	entry := config.ServiceEntry{
		Name:      "local-tts",
		BaseClass: provider.BaseClassTTSOpenAICompatible,
		Endpoint:  "http://localhost:8000/v1",
	}
	p, err := provider.BuildTTS(entry, fakeSink{})
	if err != nil {
		t.Fatalf("BuildTTS: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestBuildTTS_UnknownBaseClass(t *testing.T) {
	entry := config.ServiceEntry{Name: "x", BaseClass: "tts.Nonexistent"}
	if _, err := provider.BuildTTS(entry, fakeSink{}); err == nil {
		t.Fatal("expected error for unknown base_class")
	}
}
