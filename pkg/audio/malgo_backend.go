package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoBackend is the reference [Backend] implementation, wrapping
// github.com/gen2brain/malgo (miniaudio) for callback-mode duplex audio I/O.
// This is the concrete device binding the rest of the pack's voice-agent
// examples (team-hashing-lokutor-orchestrator, agalue-sherpa-voice-assistant)
// use for their capture/playback loop.
type MalgoBackend struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoBackend initialises the miniaudio context. Call Close when done.
func NewMalgoBackend() (*MalgoBackend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init miniaudio context: %w", err)
	}
	return &MalgoBackend{ctx: ctx}, nil
}

// ListDevices enumerates capture and playback devices known to miniaudio.
func (b *MalgoBackend) ListDevices() (inputs, outputs []Device, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	captureInfos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, nil, fmt.Errorf("audio: enumerate capture devices: %w", err)
	}
	playbackInfos, err := b.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, nil, fmt.Errorf("audio: enumerate playback devices: %w", err)
	}

	for i, info := range captureInfos {
		inputs = append(inputs, Device{
			Index:             i,
			Name:              strings.TrimSpace(info.Name()),
			MaxInputChannels:  1,
			MaxOutputChannels: 0,
			DefaultSampleRate: SampleRate,
		})
	}
	for i, info := range playbackInfos {
		outputs = append(outputs, Device{
			Index:             i,
			Name:              strings.TrimSpace(info.Name()),
			MaxInputChannels:  0,
			MaxOutputChannels: 1,
			DefaultSampleRate: SampleRate,
		})
	}
	return inputs, outputs, nil
}

// malgoStream adapts a *malgo.Device to the [Stream] interface.
type malgoStream struct {
	device *malgo.Device
}

func (s *malgoStream) Start() error { return s.device.Start() }
func (s *malgoStream) Stop() error  { return s.device.Stop() }
func (s *malgoStream) Close() error {
	s.device.Uninit()
	return nil
}

// OpenInput opens device in capture-only mode.
func (b *MalgoBackend) OpenInput(device Device, sampleRate, frameSamples int, cb DataCallback) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(frameSamples)
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			cb(nil, pInput, int(frameCount))
		},
	}

	dev, err := malgo.InitDevice(b.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("audio: open capture device %q: %w", device.Name, err)
	}
	return &malgoStream{device: dev}, nil
}

// OpenOutput opens device in playback-only mode.
func (b *MalgoBackend) OpenOutput(device Device, sampleRate, frameSamples int, cb DataCallback) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(frameSamples)
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			cb(pOutput, nil, int(frameCount))
		},
	}

	dev, err := malgo.InitDevice(b.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("audio: open playback device %q: %w", device.Name, err)
	}
	return &malgoStream{device: dev}, nil
}

// Close releases the miniaudio context. Idempotent.
func (b *MalgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

var _ Backend = (*MalgoBackend)(nil)
