package config

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultManifestPath is the service manifest's default filename.
const DefaultManifestPath = "remote_services.yml"

// Load reads the YAML service manifest at path and returns a validated
// [Manifest]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	m, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return m, nil
}

// LoadFromReader decodes a YAML manifest from r and validates the result.
// Useful in tests where manifests are constructed from string literals.
func LoadFromReader(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Env holds the process environment contract, parsed once at
// startup. Missing required credentials surface as fatal configuration
// errors at adapter construction time, not here — Env itself never fails
// to load since every field has a documented default.
type Env struct {
	MicrophoneDevice int
	PlaybackDevice   int

	Wakeword          string
	WakewordThreshold int

	LLMEndpoint string
	STTEndpoint string
	TTSEndpoint string

	PicovoiceAccessKey string
	OpenRouterAPIKey   string

	LogLevel LogLevel
}

// LoadEnv reads the process environment, applying the
// documented defaults for every unset or unparsable variable.
func LoadEnv(getenv func(string) string) Env {
	if getenv == nil {
		getenv = os.Getenv
	}
	e := Env{
		MicrophoneDevice:   envInt(getenv, "AUDIO_MICROPHONE_DEVICE", -1),
		PlaybackDevice:     envInt(getenv, "AUDIO_PLAYBACK_DEVICE", -1),
		Wakeword:           envString(getenv, "WAKEWORD", "computer"),
		WakewordThreshold:  envInt(getenv, "WAKEWORD_THRESHOLD", 250),
		LLMEndpoint:        getenv("LLM_ENDPOINT"),
		STTEndpoint:        getenv("STT_ENDPOINT"),
		TTSEndpoint:        getenv("TTS_ENDPOINT"),
		PicovoiceAccessKey: getenv("PICOVOICE_ACCESS_KEY"),
		OpenRouterAPIKey:   getenv("OPENROUTER_API_KEY"),
		LogLevel:           LogLevel(envString(getenv, "LOG_LEVEL", string(LogLevelInfo))),
	}
	if !e.LogLevel.IsValid() {
		e.LogLevel = LogLevelInfo
	}
	if e.WakewordThreshold < 0 || e.WakewordThreshold > 500 {
		e.WakewordThreshold = 250
	}
	return e
}

// WakewordSensitivity derives the wakeword.Config sensitivity fraction from
// WakewordThreshold: sensitivity = value/500.
func (e Env) WakewordSensitivity() float64 {
	return float64(e.WakewordThreshold) / 500
}

func envString(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) int {
	v := getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
