// Package capture drives chunked recording from an audio input device and
// finalizes each capture session into a single contiguous raw audio object.
package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/memovox/memovox/internal/audio"
)

// DefaultChunkInterval is the cadence at which accumulated samples are
// drained into one ordered chunk. It doubles as the elapsed-time tick.
const DefaultChunkInterval = time.Second

// RawAudio is the immutable result of a finalized capture session.
type RawAudio struct {
	Data     []byte // WAV container
	MimeType string
	Format   audio.Format
	Seconds  int
}

// Result delivers the finalized session, or the error that ended it, to the
// orchestrator.
type Result struct {
	Raw *RawAudio
	Err error
}

// Config holds capture controller configuration.
type Config struct {
	Audio         audio.Config
	ChunkInterval time.Duration
	// OnTick, if set, is invoked once per elapsed second while capturing.
	OnTick func(seconds int)
}

// DefaultConfig returns the default capture controller configuration.
func DefaultConfig() Config {
	return Config{
		Audio:         audio.DefaultConfig(),
		ChunkInterval: DefaultChunkInterval,
	}
}

// Controller owns the capture session: the device handle, the ordered chunk
// buffer, and the elapsed-time counter. At most one session is hot at a time.
type Controller struct {
	driver audio.AudioDriver

	mu       sync.Mutex
	active   bool
	chunks   [][]int16
	elapsed  int
	format   audio.Format
	stopChan chan struct{}
	wg       sync.WaitGroup

	resultChan chan Result
}

// New creates a capture controller on top of an audio driver.
func New(driver audio.AudioDriver) *Controller {
	return &Controller{
		driver:     driver,
		resultChan: make(chan Result, 1),
	}
}

// Results returns the channel on which finalized sessions are delivered.
func (c *Controller) Results() <-chan Result {
	return c.resultChan
}

// Active reports whether a capture session is in progress.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Elapsed returns the elapsed seconds of the current session.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Start acquires the input device and begins chunked capture. Device errors
// surface as audio.ErrDeviceUnavailable or audio.ErrUnsupportedPlatform.
func (c *Controller) Start(config Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return fmt.Errorf("capture session already active")
	}

	format, err := c.driver.Initialize(config.Audio)
	if err != nil {
		return err
	}

	if err := c.driver.Start(); err != nil {
		return err
	}

	interval := config.ChunkInterval
	if interval <= 0 {
		interval = DefaultChunkInterval
	}

	c.active = true
	c.chunks = nil
	c.elapsed = 0
	c.format = format
	c.stopChan = make(chan struct{})

	c.wg.Add(1)
	go c.tickLoop(interval, config.OnTick)

	return nil
}

// tickLoop drains one chunk per interval and advances the elapsed counter.
// It exits as soon as the session's stop channel closes, so no tick ever
// fires after a stop is requested.
func (c *Controller) tickLoop(interval time.Duration, onTick func(int)) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// The drain happens under the session lock: a stop that lands
			// here must either see the chunk appended or leave it in the
			// driver for finalize's driver.Stop to flush.
			c.mu.Lock()
			if !c.active {
				c.mu.Unlock()
				return
			}
			if chunk := c.driver.DrainChunk(); len(chunk) > 0 {
				c.chunks = append(c.chunks, chunk)
			}
			c.elapsed++
			elapsed := c.elapsed
			c.mu.Unlock()

			if onTick != nil {
				onTick(elapsed)
			}

		case <-c.stopChan:
			return
		}
	}
}

// Stop ends the session. It is a no-op when not capturing. The request is
// accepted synchronously; device teardown and the final chunk flush run
// asynchronously and the finalized RawAudio arrives on Results.
func (c *Controller) Stop() {
	c.mu.Lock()

	if !c.active {
		c.mu.Unlock()
		return
	}

	c.active = false
	close(c.stopChan)
	seconds := c.elapsed
	c.mu.Unlock()

	go c.finalize(seconds)
}

// finalize flushes the last chunk, releases the device and folds the chunk
// buffer into one contiguous WAV.
func (c *Controller) finalize(seconds int) {
	c.wg.Wait()

	final, err := c.driver.Stop()
	if err != nil {
		c.deliver(Result{Err: fmt.Errorf("failed to stop audio device: %w", err)})
		return
	}

	c.mu.Lock()
	if len(final) > 0 {
		c.chunks = append(c.chunks, final)
	}

	total := 0
	for _, chunk := range c.chunks {
		total += len(chunk)
	}

	samples := make([]int16, 0, total)
	for _, chunk := range c.chunks {
		samples = append(samples, chunk...)
	}
	c.chunks = nil
	format := c.format
	c.mu.Unlock()

	data, err := audio.EncodeWAV(samples, format)
	if err != nil {
		c.deliver(Result{Err: fmt.Errorf("failed to encode capture: %w", err)})
		return
	}

	c.deliver(Result{Raw: &RawAudio{
		Data:     data,
		MimeType: audio.MimeWAV,
		Format:   format,
		Seconds:  seconds,
	}})
}

func (c *Controller) deliver(res Result) {
	select {
	case c.resultChan <- res:
	default:
		// A stale, never-collected result is dropped in favor of the new one.
		select {
		case <-c.resultChan:
		default:
		}
		c.resultChan <- res
	}
}

// Teardown releases the session if one is hot. Unlike Stop it discards the
// buffered chunks instead of finalizing them.
func (c *Controller) Teardown() {
	c.mu.Lock()

	if !c.active {
		c.mu.Unlock()
		return
	}

	c.active = false
	close(c.stopChan)
	c.mu.Unlock()

	c.wg.Wait()

	_, _ = c.driver.Stop()

	c.mu.Lock()
	c.chunks = nil
	c.elapsed = 0
	c.mu.Unlock()
}
