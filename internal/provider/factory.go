// Package provider builds concrete capability adapters from a
// [config.ServiceEntry]'s base_class field, the Go analogue of the original
// assistant's dotted-path import-and-instantiate scheme
// (original_source/mate/services/services_loader.py).
package provider

import (
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/mrwong99/lokutor/internal/config"
	"github.com/mrwong99/lokutor/internal/registry"
	"github.com/mrwong99/lokutor/pkg/provider/llm/anyllm"
	"github.com/mrwong99/lokutor/pkg/provider/stt/wsstt"
	"github.com/mrwong99/lokutor/pkg/provider/tts"
	"github.com/mrwong99/lokutor/pkg/provider/tts/openaicompat"
)

// Known base_class values a manifest entry may select. New adapter shapes
// are added here, not to the manifest schema.
const (
	BaseClassLLMOllamaCompatible = "llm.OllamaCompatible"
	BaseClassLLMOpenAICompatible = "llm.OpenAICompatible"
	BaseClassSTTWebSocket        = "stt.WebSocket"
	BaseClassTTSOpenAICompatible = "tts.OpenAICompatible"
)

// BuildLLM constructs a concrete llm.Provider for entry.
func BuildLLM(entry config.ServiceEntry) (registry.Prober, error) {
	switch entry.BaseClass {
	case BaseClassLLMOllamaCompatible:
		if entry.Endpoint == "" {
			return nil, fmt.Errorf("provider: llm entry %q requires an endpoint", entry.Name)
		}
		model := entry.OllamaModel
		if model == "" {
			return nil, fmt.Errorf("provider: llm entry %q requires ollama_model", entry.Name)
		}
		p, err := anyllm.NewOllama(model, anyllmlib.WithBaseURL(entry.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("provider: build llm %q: %w", entry.Name, err)
		}
		return p.WithModelsURL(entry.Endpoint + "/api/tags"), nil

	case BaseClassLLMOpenAICompatible:
		model, _ := entry.Options["model"].(string)
		if model == "" {
			return nil, fmt.Errorf("provider: llm entry %q requires options.model", entry.Name)
		}
		apiKey, _ := entry.Options["api_key"].(string)
		opts := []anyllmlib.Option{anyllmlib.WithAPIKey(apiKey)}
		if entry.Endpoint != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.Endpoint))
		}
		p, err := anyllm.NewOpenAI(model, opts...)
		if err != nil {
			return nil, fmt.Errorf("provider: build llm %q: %w", entry.Name, err)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("provider: unknown llm base_class %q for entry %q", entry.BaseClass, entry.Name)
	}
}

// BuildSTT constructs a concrete stt.Provider for entry.
func BuildSTT(entry config.ServiceEntry) (registry.Prober, error) {
	switch entry.BaseClass {
	case BaseClassSTTWebSocket:
		if entry.Endpoint == "" {
			return nil, fmt.Errorf("provider: stt entry %q requires an endpoint", entry.Name)
		}
		return wsstt.New(entry.Endpoint), nil
	default:
		return nil, fmt.Errorf("provider: unknown stt base_class %q for entry %q", entry.BaseClass, entry.Name)
	}
}

// BuildTTS constructs a concrete tts.Provider for entry. sink receives
// synthesized audio (typically the Audio Engine's playback queue); opts are
// forwarded to the adapter constructor.
func BuildTTS(entry config.ServiceEntry, sink tts.AudioSink, opts ...openaicompat.Option) (registry.Prober, error) {
	switch entry.BaseClass {
	case BaseClassTTSOpenAICompatible:
		if entry.Endpoint == "" {
			return nil, fmt.Errorf("provider: tts entry %q requires an endpoint", entry.Name)
		}
		model, _ := entry.Options["model"].(string)
		if model == "" {
			model = "tts-1"
		}
		apiKey, _ := entry.Options["api_key"].(string)
		voice := entry.Voice
		if voice == "" {
			voice = "alloy"
		}
		if speed, ok := entry.Options["speed"].(float64); ok && speed > 0 {
			opts = append(opts, openaicompat.WithSpeed(speed))
		}
		return openaicompat.New(entry.Endpoint, apiKey, model, voice, sink, opts...), nil
	default:
		return nil, fmt.Errorf("provider: unknown tts base_class %q for entry %q", entry.BaseClass, entry.Name)
	}
}
