package audio

import (
	"fmt"
	"strings"
)

// DefaultDeviceIndex is the sentinel configuration value meaning "pick the
// first device whose lowercased name equals \"default\"" rather than an
// explicit index, per the AUDIO_MICROPHONE_DEVICE / AUDIO_PLAYBACK_DEVICE
// environment contract.
const DefaultDeviceIndex = -1

// SelectDevice resolves a device from devices using the configuration rule:
// an explicit non-negative index selects that device's Index field; any
// other value (notably [DefaultDeviceIndex]) selects the first device whose
// lowercased name equals "default". Returns an error carrying the full
// device table when no device matches — the caller should treat this as a
// fatal configuration error.
func SelectDevice(devices []Device, index int) (Device, error) {
	if index >= 0 {
		for _, d := range devices {
			if d.Index == index {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("audio: no device with index %d\n%s", index, FormatDeviceTable(devices))
	}

	for _, d := range devices {
		if strings.ToLower(d.Name) == "default" {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("audio: no device named \"default\" found\n%s", FormatDeviceTable(devices))
}

// FormatDeviceTable renders devices as a human-readable table for fatal
// configuration diagnostics; the service registry's status table uses the
// same texture.
func FormatDeviceTable(devices []Device) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %-40s %-6s %-7s %-10s\n", "INDEX", "NAME", "IN", "OUT", "RATE")
	for _, d := range devices {
		fmt.Fprintf(&b, "%-5d %-40s %-6v %-7v %-10d\n", d.Index, d.Name, d.IsInput(), d.IsOutput(), d.DefaultSampleRate)
	}
	return b.String()
}
