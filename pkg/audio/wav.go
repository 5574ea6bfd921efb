package audio

import (
	"encoding/binary"
	"fmt"
)

// wavFormatPCM is the WAVE fmt-chunk audio format tag for uncompressed PCM.
const wavFormatPCM = 1

// IsWAV reports whether blob starts with a RIFF/WAVE container header.
func IsWAV(blob []byte) bool {
	return len(blob) >= 12 &&
		string(blob[0:4]) == "RIFF" &&
		string(blob[8:12]) == "WAVE"
}

// DecodeWAV parses a RIFF/WAV container and returns its sample rate and
// samples as mono int16. Only uncompressed 16-bit PCM data is accepted;
// multi-channel audio is downmixed by averaging the channels. Chunks other
// than "fmt " and "data" are skipped.
func DecodeWAV(blob []byte) (sampleRate int, samples []int16, err error) {
	if !IsWAV(blob) {
		return 0, nil, fmt.Errorf("not a RIFF/WAVE container")
	}

	var (
		channels      int
		bitsPerSample int
		data          []byte
		haveFmt       bool
	)

	pos := 12
	for pos+8 <= len(blob) {
		chunkID := string(blob[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(blob[pos+4 : pos+8]))
		body := blob[pos+8:]
		if chunkLen > len(body) {
			chunkLen = len(body) // tolerate a truncated final chunk
		}
		body = body[:chunkLen]

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return 0, nil, fmt.Errorf("fmt chunk too short (%d bytes)", chunkLen)
			}
			format := int(binary.LittleEndian.Uint16(body[0:2]))
			if format != wavFormatPCM {
				return 0, nil, fmt.Errorf("unsupported audio format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			data = body
		}

		// Chunks are word-aligned: odd lengths carry one pad byte.
		pos += 8 + chunkLen + chunkLen%2
	}

	if !haveFmt {
		return 0, nil, fmt.Errorf("missing fmt chunk")
	}
	if data == nil {
		return 0, nil, fmt.Errorf("missing data chunk")
	}
	if bitsPerSample != 16 {
		return 0, nil, fmt.Errorf("unsupported bit depth %d (want 16)", bitsPerSample)
	}
	if channels < 1 {
		return 0, nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if sampleRate <= 0 {
		return 0, nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	frameBytes := channels * 2
	frames := len(data) / frameBytes
	samples = make([]int16, frames)
	for i := range frames {
		if channels == 1 {
			samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
			continue
		}
		sum := 0
		for c := range channels {
			sum += int(int16(binary.LittleEndian.Uint16(data[i*frameBytes+c*2:])))
		}
		samples[i] = int16(sum / channels)
	}
	return sampleRate, samples, nil
}
