package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDriver implements AudioDriver using PortAudio
type PortAudioDriver struct {
	config      Config
	format      Format
	stream      *portaudio.Stream
	buffer      []int16
	mu          sync.Mutex
	capturing   bool
	initialized bool
}

// NewPortAudioDriver creates a new PortAudio driver
func NewPortAudioDriver() (*PortAudioDriver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}

	return &PortAudioDriver{
		buffer: make([]int16, 0, 1024*1024),
	}, nil
}

// ListDevices returns a list of available audio input devices
func (d *PortAudioDriver) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		// No default device; continue without marking any as default
		defaultInput = nil
	}

	var result []Device
	for i, dev := range devices {
		if dev.MaxInputChannels > 0 {
			isDefault := defaultInput != nil && dev.Name == defaultInput.Name
			result = append(result, Device{
				ID:        i,
				Name:      dev.Name,
				IsDefault: isDefault,
			})
		}
	}

	return result, nil
}

// Initialize opens the input device and negotiates the capture format.
// The configured sample rates are tried in order; the first the device
// accepts wins, with the device's default rate as fallback.
func (d *PortAudioDriver) Initialize(config Config) (Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capturing {
		return Format{}, fmt.Errorf("cannot initialize while capturing")
	}

	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			return Format{}, fmt.Errorf("failed to close existing stream: %w", err)
		}
		d.stream = nil
	}

	device, err := d.selectDevice(config.DeviceID)
	if err != nil {
		return Format{}, err
	}

	if device.MaxInputChannels <= 0 {
		return Format{}, fmt.Errorf("%w: device %q has no input channels", ErrUnsupportedPlatform, device.Name)
	}

	var latency time.Duration
	switch config.Latency {
	case LowLatency:
		latency = device.DefaultLowInputLatency
	default:
		latency = device.DefaultHighInputLatency
	}

	channels := config.Channels
	if channels <= 0 {
		channels = 1
	}

	rates := append([]int(nil), config.SampleRates...)
	rates = append(rates, int(device.DefaultSampleRate))

	var lastErr error
	for _, rate := range rates {
		streamParams := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   device,
				Channels: channels,
				Latency:  latency,
			},
			SampleRate:      float64(rate),
			FramesPerBuffer: 1024,
		}

		stream, err := portaudio.OpenStream(streamParams, d.callback)
		if err != nil {
			lastErr = err
			continue
		}

		d.stream = stream
		d.config = config
		d.format = Format{SampleRate: rate, Channels: channels}
		d.initialized = true
		return d.format, nil
	}

	return Format{}, fmt.Errorf("%w: no supported capture format: %v", ErrDeviceUnavailable, lastErr)
}

// selectDevice resolves the configured device ID to a device info.
func (d *PortAudioDriver) selectDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == -1 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrUnsupportedPlatform, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("%w: invalid device ID: %d", ErrDeviceUnavailable, deviceID)
	}

	return devices[deviceID], nil
}

// callback is called by PortAudio when audio data is available
func (d *PortAudioDriver) callback(in []int16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capturing {
		d.buffer = append(d.buffer, in...)
	}
}

// Start begins accumulating samples from the device
func (d *PortAudioDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return fmt.Errorf("driver not initialized")
	}

	if d.capturing {
		return fmt.Errorf("already capturing")
	}

	d.buffer = d.buffer[:0]

	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("%w: failed to start stream: %v", ErrDeviceUnavailable, err)
	}

	d.capturing = true
	return nil
}

// DrainChunk returns the samples accumulated since the previous drain
func (d *PortAudioDriver) DrainChunk() []int16 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.buffer) == 0 {
		return nil
	}

	chunk := make([]int16, len(d.buffer))
	copy(chunk, d.buffer)
	d.buffer = d.buffer[:0]
	return chunk
}

// Stop halts the device and returns the final, not-yet-drained samples
func (d *PortAudioDriver) Stop() ([]int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.capturing {
		return nil, fmt.Errorf("not capturing")
	}

	if err := d.stream.Stop(); err != nil {
		return nil, fmt.Errorf("failed to stop stream: %w", err)
	}

	d.capturing = false

	final := make([]int16, len(d.buffer))
	copy(final, d.buffer)
	d.buffer = d.buffer[:0]

	return final, nil
}

// Close releases all resources
func (d *PortAudioDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capturing {
		if err := d.stream.Stop(); err != nil {
			return fmt.Errorf("failed to stop stream: %w", err)
		}
		d.capturing = false
	}

	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			return fmt.Errorf("failed to close stream: %w", err)
		}
		d.stream = nil
	}

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}

	d.initialized = false
	return nil
}
