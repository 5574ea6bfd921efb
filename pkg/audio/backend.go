package audio

// DataCallback is invoked by a [Backend] stream on its real-time audio
// thread for every device buffer. output, if non-nil, must be filled with
// exactly len(output) bytes of little-endian int16 PCM to play. input, if
// non-nil, carries newly captured little-endian int16 PCM bytes.
// Implementations must never block or allocate unbounded memory inside this
// callback.
type DataCallback func(output, input []byte, frameCount int)

// Stream is a single open input or output device stream.
type Stream interface {
	// Start begins delivering/consuming audio via the registered
	// [DataCallback].
	Start() error

	// Stop halts the stream without releasing its resources.
	Stop() error

	// Close releases all resources held by the stream. Idempotent.
	Close() error
}

// Backend abstracts the platform audio subsystem the Engine drives. The
// reference implementation ([NewMalgoBackend]) wraps
// github.com/gen2brain/malgo (a Go binding for miniaudio); tests substitute
// a fake backend that invokes callbacks synchronously and deterministically.
type Backend interface {
	// ListDevices enumerates the available input and output devices.
	ListDevices() (inputs, outputs []Device, err error)

	// OpenInput opens device in capture mode at the given sample rate and
	// callback frame size, invoking cb with freshly captured frames.
	OpenInput(device Device, sampleRate, frameSamples int, cb DataCallback) (Stream, error)

	// OpenOutput opens device in playback mode at the given sample rate and
	// callback frame size, invoking cb to request output frames.
	OpenOutput(device Device, sampleRate, frameSamples int, cb DataCallback) (Stream, error)

	// Close releases backend-wide resources (e.g. the miniaudio context).
	// Idempotent.
	Close() error
}
