package audio

// SampleRate is the engine's fixed capture and playback rate in Hz. Capture
// frames are immutable buffers of signed 16-bit little-endian PCM samples,
// single-channel, at this rate; they flow from the device callback to the
// consumer unchanged.
const SampleRate = 16000

// FrameSamples is the device callback's fixed buffer size in samples.
const FrameSamples = 1024

// PlaybackItem is a unit of audio enqueued for playback: a source sample
// rate and a sequence of 16-bit signed samples at that rate. Items are
// consumed FIFO; after each item drains, the engine injects exactly one
// second of silence before accepting the next.
type PlaybackItem struct {
	SourceSampleRate int
	Samples          []int16
}

// Device describes one audio input or output device as reported by the
// platform's audio subsystem.
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate int
}

// IsInput reports whether d can be used as a capture device.
func (d Device) IsInput() bool { return d.MaxInputChannels >= 1 }

// IsOutput reports whether d can be used as a playback device.
func (d Device) IsOutput() bool { return d.MaxOutputChannels >= 1 }
