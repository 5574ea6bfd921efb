package config

import "testing"

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		m       Manifest
		wantErr bool
	}{
		{
			name: "valid",
			m: Manifest{
				LLM: []ServiceEntry{{Name: "local-ollama", Priority: 10, BaseClass: "llm.OllamaCompatible"}},
				TTS: []ServiceEntry{{Name: "local-tts", Priority: 10, BaseClass: "tts.OpenAICompatible"}},
			},
		},
		{
			name: "missing name",
			m: Manifest{
				LLM: []ServiceEntry{{BaseClass: "llm.OllamaCompatible"}},
			},
			wantErr: true,
		},
		{
			name: "missing base_class",
			m: Manifest{
				STT: []ServiceEntry{{Name: "whisper"}},
			},
			wantErr: true,
		},
		{
			name: "duplicate name",
			m: Manifest{
				TTS: []ServiceEntry{
					{Name: "a", BaseClass: "tts.OpenAICompatible"},
					{Name: "a", BaseClass: "tts.OpenAICompatible"},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	for _, l := range []LogLevel{LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if LogLevel("TRACE").IsValid() {
		t.Error(`"TRACE" should not be valid`)
	}
}
