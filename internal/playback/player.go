// Package playback owns the single shared playback slot. It can play either
// the most recent local transcoding result or a remote library entry's
// selected variant, never both.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PlaybackError reports a failure to begin playback: resolution, decode or
// transport. The slot is left detached.
type PlaybackError struct {
	Detail string
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback failed: %s", e.Detail)
}

// SourceKind discriminates what is attached to the playback slot.
type SourceKind int

const (
	// SourceNone means the slot is detached
	SourceNone SourceKind = iota
	// SourceLocal is the just-recorded local artifact
	SourceLocal
	// SourceLibrary is a remote library entry's variant
	SourceLibrary
)

// Source identifies what to play.
type Source struct {
	Kind       SourceKind
	EntryID    string // set for SourceLibrary
	VariantTag string // set for SourceLibrary
}

// LocalSource is the source for the current local artifact.
func LocalSource() Source {
	return Source{Kind: SourceLocal}
}

// LibrarySource is the source for one entry variant.
func LibrarySource(entryID, variantTag string) Source {
	return Source{Kind: SourceLibrary, EntryID: entryID, VariantTag: variantTag}
}

// Media is a resolved audio payload ready for decoding.
type Media struct {
	Bytes    []byte
	MimeType string
}

// ResolveFunc resolves a source into its media. The orchestrator supplies
// one per play request (local artifact bytes, or a library fetch).
type ResolveFunc func(ctx context.Context) (Media, error)

// Converter is the slice of the codec engine used to decode non-mp3 media
// to raw PCM.
type Converter interface {
	Convert(ctx context.Context, input []byte, inputName string, args []string, outputName string) ([]byte, error)
}

// Slot is the process-wide playback state.
type Slot struct {
	Source  Source
	Playing bool
	Elapsed int
}

// Player enforces the single-playback-slot invariant: at most one source is
// ever attached to the underlying output at a time.
type Player struct {
	conv Converter

	newSink func() (sink, error)
	tick    time.Duration

	mu       sync.Mutex
	slot     Slot
	sink     sink
	stopChan chan struct{}
	gen      int
}

// New creates the player. conv decodes compressed media through the codec
// engine.
func New(conv Converter) *Player {
	return &Player{
		conv:    conv,
		newSink: newOtoSink,
		tick:    time.Second,
	}
}

// Slot returns a snapshot of the playback slot.
func (p *Player) Slot() Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slot
}

// Play attaches and starts the given source. If a different source is
// currently attached it is fully stopped first: output halted, elapsed time
// reset to zero, source detached.
func (p *Player) Play(ctx context.Context, source Source, resolve ResolveFunc) error {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()

	media, err := resolve(ctx)
	if err != nil {
		return &PlaybackError{Detail: fmt.Sprintf("cannot resolve source: %v", err)}
	}

	pcm, err := p.decode(ctx, media)
	if err != nil {
		return err
	}

	snk, err := p.newSink()
	if err != nil {
		return &PlaybackError{Detail: fmt.Sprintf("cannot open audio output: %v", err)}
	}

	p.mu.Lock()
	// A sink attached while the lock was released (a concurrent Play that
	// completed first) must be halted before this source takes the slot.
	p.stopLocked()
	p.gen++
	gen := p.gen
	stopChan := make(chan struct{})
	p.stopChan = stopChan
	p.sink = snk
	p.slot = Slot{Source: source, Playing: true}
	p.mu.Unlock()

	snk.start(pcm)
	go p.watch(gen, snk, stopChan)

	return nil
}

// Stop halts output, resets elapsed time to zero and detaches the source.
// Calling Stop when nothing is playing is a no-op.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// StopEntry stops playback if the given library entry is the attached
// source. Used when the entry's selected variant changes: variant switches
// never hot-swap mid-stream.
func (p *Player) StopEntry(entryID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.slot.Source.Kind == SourceLibrary && p.slot.Source.EntryID == entryID {
		p.stopLocked()
	}
}

// StopLocal stops playback if the local artifact is the attached source.
func (p *Player) StopLocal() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.slot.Source.Kind == SourceLocal {
		p.stopLocked()
	}
}

// stopLocked detaches the current source. Callers must hold p.mu.
func (p *Player) stopLocked() {
	if p.stopChan == nil && p.sink == nil && p.slot.Source.Kind == SourceNone {
		return
	}

	if p.stopChan != nil {
		close(p.stopChan)
		p.stopChan = nil
	}
	if p.sink != nil {
		p.sink.halt()
		p.sink = nil
	}
	p.gen++
	p.slot = Slot{}
}

// watch advances the elapsed counter once per second and detaches the slot
// at natural end-of-media, which is handled identically to Stop but is not
// an error.
func (p *Player) watch(gen int, snk sink, stopChan chan struct{}) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if p.gen == gen && p.slot.Playing {
				p.slot.Elapsed++
			}
			p.mu.Unlock()

		case <-snk.done():
			p.mu.Lock()
			if p.gen == gen {
				p.stopChan = nil
				p.sink = nil
				p.gen++
				p.slot = Slot{}
			}
			p.mu.Unlock()
			return

		case <-stopChan:
			return
		}
	}
}
