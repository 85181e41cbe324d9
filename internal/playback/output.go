package playback

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Canonical PCM format for the audio output. oto supports one context per
// process, so every media type is decoded to this format before playback.
const (
	pcmSampleRate   = 44100
	pcmChannelCount = 2
	pcmBytesPerSec  = pcmSampleRate * pcmChannelCount * 2 // s16le
)

// sink is the audio output behind the playback slot.
type sink interface {
	// start begins playing the canonical-format PCM buffer
	start(pcm []byte)
	// done is closed at natural end of media
	done() <-chan struct{}
	// halt stops output immediately
	halt()
}

var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// newOtoSink returns a sink backed by the shared oto context, creating the
// context on first use.
func newOtoSink() (sink, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   pcmSampleRate,
			ChannelCount: pcmChannelCount,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("failed to create audio context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
	})
	if otoErr != nil {
		return nil, otoErr
	}
	return &otoSink{doneCh: make(chan struct{})}, nil
}

type otoSink struct {
	player *oto.Player
	doneCh chan struct{}
	once   sync.Once
}

func (s *otoSink) start(pcm []byte) {
	s.player = otoCtx.NewPlayer(bytes.NewReader(pcm))
	s.player.Play()

	go func() {
		for s.player.IsPlaying() {
			time.Sleep(100 * time.Millisecond)
		}
		s.once.Do(func() { close(s.doneCh) })
	}()
}

func (s *otoSink) done() <-chan struct{} {
	return s.doneCh
}

func (s *otoSink) halt() {
	if s.player != nil {
		s.player.Close()
	}
	s.once.Do(func() { close(s.doneCh) })
}
