// Command lokutor is the main entry point for the lokutor voice assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrwong99/lokutor/internal/app"
	"github.com/mrwong99/lokutor/internal/config"
	"github.com/mrwong99/lokutor/internal/observe"
	"github.com/mrwong99/lokutor/pkg/audio"
	"github.com/mrwong99/lokutor/pkg/provider/wakeword"
)

func main() {
	os.Exit(run())
}

func run() int {
	manifestPath := flag.String("manifest", config.DefaultManifestPath, "path to the service manifest YAML file")
	healthAddr := flag.String("health-addr", ":8080", "listen address for the health/readiness/metrics HTTP server")
	flag.Parse()

	env := config.LoadEnv(nil)
	logger := newLogger(env.LogLevel)
	slog.SetDefault(logger)

	manifest, err := config.Load(*manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lokutor: manifest %q not found\n", *manifestPath)
		} else {
			fmt.Fprintf(os.Stderr, "lokutor: %v\n", err)
		}
		return 1
	}

	slog.Info("lokutor starting",
		"manifest", *manifestPath,
		"health_addr", *healthAddr,
		"log_level", env.LogLevel,
		"llm_candidates", len(manifest.LLM),
		"stt_candidates", len(manifest.STT),
		"tts_candidates", len(manifest.TTS),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	backend, err := audio.NewMalgoBackend()
	if err != nil {
		slog.Error("failed to initialise audio backend", "err", err)
		return 1
	}
	defer backend.Close()

	wakewordEngine, err := newWakewordEngine(env)
	if err != nil {
		slog.Error("failed to initialise wake-word engine", "err", err)
		return 1
	}

	application, err := app.New(ctx, manifest, env, backend, wakewordEngine, app.WithHealthAddr(*healthAddr))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("lokutor ready — say the wake word to start a turn, Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newWakewordEngine constructs the configured wake-word detector. Concrete
// vendor bindings (Porcupine, openWakeWord, …) are deliberately out of this
// module's scope — only the [wakeword.Engine] interface and a test mock
// ship here. A production build links one in by replacing this function (or
// building with a vendor-specific file under a build tag) before the
// PICOVOICE_ACCESS_KEY / WAKEWORD environment contract can be honoured.
func newWakewordEngine(env config.Env) (wakeword.Engine, error) {
	return nil, fmt.Errorf("lokutor: no wake-word engine compiled in for keyword %q (sensitivity %.2f) — "+
		"vendor bindings are an external collaborator this build does not include", env.Wakeword, env.WakewordSensitivity())
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarning:
		lvl = slog.LevelWarn
	case config.LogLevelError, config.LogLevelCritical:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
