// Package config provides the service manifest schema and environment
// contract for the lokutor voice assistant.
package config

import (
	"errors"
	"fmt"
)

// LogLevel mirrors the LOG_LEVEL environment contract: one of
// DEBUG|INFO|WARNING|ERROR|CRITICAL.
type LogLevel string

const (
	LogLevelDebug    LogLevel = "DEBUG"
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARNING"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical:
		return true
	}
	return false
}

// Manifest is the root of the service manifest file (default path
// remote_services.yml): lists of candidate service entries per
// capability, loaded once at startup and handed to the service registry.
type Manifest struct {
	LLM []ServiceEntry `yaml:"LLM"`
	STT []ServiceEntry `yaml:"STT"`
	TTS []ServiceEntry `yaml:"TTS"`
}

// ServiceEntry describes one candidate backend for a capability. Fields
// beyond the common ones are adapter-specific and passed through verbatim
// via Options so new adapter shapes never require a manifest schema change.
type ServiceEntry struct {
	// Name uniquely identifies this entry within its capability list; used
	// in logs and the registry's status table.
	Name string `yaml:"name"`

	// Priority orders candidates within a capability; higher wins ties
	// broken only by insertion order.
	Priority int `yaml:"priority"`

	// BaseClass is a dotted path selecting the adapter shape to construct
	// (e.g. "llm.OllamaCompatible", "tts.OpenAICompatible").
	BaseClass string `yaml:"base_class"`

	// Endpoint is the backend's base URL, when applicable.
	Endpoint string `yaml:"endpoint"`

	// OllamaModel names the model to request from an Ollama-compatible LLM
	// endpoint.
	OllamaModel string `yaml:"ollama_model,omitempty"`

	// Voice selects a TTS voice identifier for OpenAI-compatible endpoints.
	Voice string `yaml:"voice,omitempty"`

	// Options carries any adapter-specific keys not covered above, passed
	// through to the adapter constructor unchanged.
	Options map[string]any `yaml:",inline"`
}

// Validate checks manifest-level invariants: within each capability list,
// entry names must be unique and base_class must be set.
func (m *Manifest) Validate() error {
	var errs []error
	errs = append(errs, validateEntries("LLM", m.LLM)...)
	errs = append(errs, validateEntries("STT", m.STT)...)
	errs = append(errs, validateEntries("TTS", m.TTS)...)
	return errors.Join(errs...)
}

func validateEntries(capability string, entries []ServiceEntry) []error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("%s[%d]", capability, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates %s[%d]", prefix, e.Name, capability, prev))
		} else {
			seen[e.Name] = i
		}
		if e.BaseClass == "" {
			errs = append(errs, fmt.Errorf("%s.base_class is required", prefix))
		}
	}
	return errs
}
