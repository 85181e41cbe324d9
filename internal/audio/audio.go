package audio

import "errors"

// Typed errors for the device capability boundary.
var (
	// ErrUnsupportedPlatform means audio capture is not available at all
	// (no usable host API or no input-capable device).
	ErrUnsupportedPlatform = errors.New("audio capture not supported on this platform")
	// ErrDeviceUnavailable means the platform refused to open or start the
	// requested input device.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
)

// Device represents an audio input device
type Device struct {
	ID        int
	Name      string
	IsDefault bool
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// Config holds audio capture configuration
type Config struct {
	DeviceID    int
	SampleRates []int // ordered preference, first rate the device supports wins
	Channels    int
	Latency     LatencyMode
}

// DefaultConfig returns the default capture configuration.
// Sample rate preference starts at 16kHz (voice), channels: 1 (mono).
// The platform's default input processing chain (echo cancellation, noise
// suppression where the OS provides them) applies to the opened stream.
func DefaultConfig() Config {
	return Config{
		DeviceID:    -1, // -1 means use default device
		SampleRates: []int{16000, 44100, 48000},
		Channels:    1,
		Latency:     HighStability,
	}
}

// Format is the capture format actually negotiated with the device. It may
// differ from the requested preference list and is recorded on the raw
// capture so downstream conversion knows the true input type.
type Format struct {
	SampleRate int
	Channels   int
}

// AudioDriver is the interface for audio input.
// This abstraction allows for replacement of PortAudio with other backends
// and for driving the capture controller with a fake in tests.
type AudioDriver interface {
	// ListDevices returns a list of available audio input devices
	ListDevices() ([]Device, error)

	// Initialize opens the input device and negotiates the capture format
	Initialize(config Config) (Format, error)

	// Start begins accumulating samples from the device
	Start() error

	// DrainChunk returns the samples accumulated since the previous drain.
	// Chunks are strictly ordered by arrival.
	DrainChunk() []int16

	// Stop halts the device and returns the final, not-yet-drained samples
	Stop() ([]int16, error)

	// Close releases all resources
	Close() error
}
