// Package orchestrator coordinates capture, transcoding, playback and the
// remote library behind one session state machine. It is the sole mutator of
// session state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/memovox/memovox/internal/capture"
	"github.com/memovox/memovox/internal/engine"
	"github.com/memovox/memovox/internal/library"
	"github.com/memovox/memovox/internal/logger"
	"github.com/memovox/memovox/internal/playback"
	"github.com/memovox/memovox/internal/transcode"
)

// ErrBusy means the operation was refused because a capture or conversion is
// in progress. The session state is left unchanged.
var ErrBusy = errors.New("session busy")

// EngineGateway is the slice of the codec engine the orchestrator drives.
type EngineGateway interface {
	Load(ctx context.Context) error
	Ready() bool
}

// Transcoder produces encoded artifacts from a finalized capture.
type Transcoder interface {
	Transcode(ctx context.Context, raw *capture.RawAudio, specs []transcode.TargetSpec) []transcode.Result
}

// PlaybackSlot is the single shared playback slot.
type PlaybackSlot interface {
	Play(ctx context.Context, source playback.Source, resolve playback.ResolveFunc) error
	Stop()
	StopLocal()
	StopEntry(entryID string)
	Slot() playback.Slot
}

// LibraryGateway talks to the remote recording library.
type LibraryGateway interface {
	List(ctx context.Context) ([]library.Entry, error)
	Upload(ctx context.Context, displayName, mimeType string, data []byte) error
	Fetch(ctx context.Context, address string) ([]byte, error)
}

// Config holds orchestrator configuration.
type Config struct {
	Capture           capture.Config
	Targets           []transcode.TargetSpec
	PreferredVariants []string
	MaxRecordTime     time.Duration
	// OnTick, if set, is invoked once per elapsed recording second.
	OnTick func(seconds int)
}

// Orchestrator owns the session state machine.
type Orchestrator struct {
	log     *logger.Logger
	engine  EngineGateway
	capture *capture.Controller
	pipe    Transcoder
	player  PlaybackSlot
	client  LibraryGateway
	config  Config

	mu        sync.Mutex
	state     State
	lastErr   error
	artifacts []*transcode.Artifact
	results   []transcode.Result
	entries   []library.Entry
	selected  map[string]string // entry id -> chosen variant tag
	stopTimer *time.Timer
}

// New creates an orchestrator. Initialize must be called before recording.
func New(log *logger.Logger, eng EngineGateway, cap *capture.Controller, pipe Transcoder, player PlaybackSlot, client LibraryGateway, config Config) *Orchestrator {
	return &Orchestrator{
		log:      log,
		engine:   eng,
		capture:  cap,
		pipe:     pipe,
		player:   player,
		client:   client,
		config:   config,
		state:    Idle,
		selected: make(map[string]string),
	}
}

// GetState returns the current session state.
func (o *Orchestrator) GetState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the error that ended the last session attempt, if any.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Artifacts returns the artifacts of the last successful conversion.
func (o *Orchestrator) Artifacts() []*transcode.Artifact {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*transcode.Artifact(nil), o.artifacts...)
}

// Results returns the per-target outcome of the last conversion.
func (o *Orchestrator) Results() []transcode.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]transcode.Result(nil), o.results...)
}

// Initialize loads the codec engine. Safe to call more than once.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.engine.Load(ctx); err != nil {
		o.log.Error("Engine load failed: %v", err)
		return err
	}
	o.log.Info("Codec engine ready")
	return nil
}

// BeginRecording starts a new capture session. It is refused with ErrBusy
// while a session is already capturing or converting, and with
// engine.ErrNotReady while the codec engine is not loaded. Starting over
// from Ready discards the previous take: its playback is stopped and its
// playable addresses are revoked.
func (o *Orchestrator) BeginRecording(ctx context.Context) error {
	o.mu.Lock()

	switch o.state {
	case AcquiringDevice, Recording, Converting:
		o.mu.Unlock()
		return ErrBusy
	}

	if !o.engine.Ready() {
		o.mu.Unlock()
		return fmt.Errorf("cannot record: %w", engine.ErrNotReady)
	}

	prior := o.artifacts
	o.artifacts = nil
	o.results = nil
	o.lastErr = nil
	o.state = AcquiringDevice
	o.mu.Unlock()

	if len(prior) > 0 {
		o.player.StopLocal()
		for _, a := range prior {
			_ = a.Release()
		}
		o.log.Info("Discarded previous take (%d artifacts)", len(prior))
	}

	cfg := o.config.Capture
	cfg.OnTick = o.config.OnTick
	// A denied or missing device is not fatal to the session: report it
	// and return to Idle so the next attempt needs no explicit recovery.
	if err := o.capture.Start(cfg); err != nil {
		o.mu.Lock()
		o.state = Idle
		o.lastErr = err
		o.mu.Unlock()
		o.log.Error("Failed to acquire input device: %v", err)
		return err
	}

	o.mu.Lock()
	o.state = Recording
	if o.config.MaxRecordTime > 0 {
		o.stopTimer = time.AfterFunc(o.config.MaxRecordTime, func() {
			o.log.Warn("Max recording time reached, stopping")
			if err := o.EndRecording(context.Background()); err != nil {
				o.log.Error("Auto-stop failed: %v", err)
			}
		})
	}
	o.mu.Unlock()

	o.log.Info("Recording started")
	return nil
}

// EndRecording stops the capture and transcodes it into every configured
// target. On at least one success the session lands in Ready; if every
// target fails the attempt is discarded and the session returns to Idle.
func (o *Orchestrator) EndRecording(ctx context.Context) error {
	o.mu.Lock()

	if o.state != Recording {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("not recording (current state: %s)", state)
	}

	if o.stopTimer != nil {
		o.stopTimer.Stop()
		o.stopTimer = nil
	}
	o.state = Converting
	o.mu.Unlock()

	o.capture.Stop()
	res := <-o.capture.Results()
	if res.Err != nil {
		o.mu.Lock()
		o.state = Failed
		o.lastErr = res.Err
		o.mu.Unlock()
		o.log.Error("Capture finalization failed: %v", res.Err)
		return res.Err
	}

	o.log.Info("Captured %d seconds, converting to %d targets", res.Raw.Seconds, len(o.config.Targets))

	results := o.pipe.Transcode(ctx, res.Raw, o.config.Targets)
	succeeded := transcode.Succeeded(results)

	o.mu.Lock()
	defer o.mu.Unlock()

	if len(succeeded) == 0 {
		transcode.ReleaseAll(results)
		o.state = Idle
		o.results = results

		for _, r := range results {
			if r.Err != nil {
				o.log.Error("Conversion to %s failed: %v", r.Spec.Codec, r.Err)
			}
		}
		return fmt.Errorf("all conversions failed: %w", firstErr(results))
	}

	for _, r := range results {
		if r.Err != nil {
			o.log.Warn("Conversion to %s failed: %v", r.Spec.Codec, r.Err)
		}
	}

	o.artifacts = succeeded
	o.results = results
	o.state = Ready
	o.log.Info("Conversion complete: %d/%d targets succeeded", len(succeeded), len(results))
	return nil
}

func firstErr(results []transcode.Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// Recover moves the session from Failed back to Idle. No-op otherwise.
func (o *Orchestrator) Recover() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == Failed {
		o.state = Idle
		o.lastErr = nil
	}
}

// PlayLocal plays the first artifact of the current take.
func (o *Orchestrator) PlayLocal(ctx context.Context) error {
	o.mu.Lock()

	switch o.state {
	case AcquiringDevice, Recording, Converting:
		o.mu.Unlock()
		return ErrBusy
	}

	var artifact *transcode.Artifact
	for _, a := range o.artifacts {
		if !a.Released() {
			artifact = a
			break
		}
	}
	o.mu.Unlock()

	if artifact == nil {
		return &playback.PlaybackError{Detail: "no local recording available"}
	}

	return o.player.Play(ctx, playback.LocalSource(), func(ctx context.Context) (playback.Media, error) {
		return playback.Media{Bytes: artifact.Bytes, MimeType: artifact.MimeType}, nil
	})
}

// PlayEntry plays one library entry. With an empty tag the entry's selected
// variant is used, falling back to the preferred variant order; an absent
// preference silently skips to the next available tag.
func (o *Orchestrator) PlayEntry(ctx context.Context, entryID, tag string) error {
	o.mu.Lock()

	switch o.state {
	case AcquiringDevice, Recording, Converting:
		o.mu.Unlock()
		return ErrBusy
	}

	entry, ok := o.entryLocked(entryID)
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("unknown recording %q", entryID)
	}

	if tag == "" {
		tag = o.selected[entryID]
	}
	o.mu.Unlock()

	if _, ok := entry.Variants[tag]; !ok {
		// Fall back along the preference order.
		tag, ok = library.PreferredVariant(entry, o.config.PreferredVariants)
		if !ok {
			return &playback.PlaybackError{Detail: fmt.Sprintf("recording %q has no playable variant", entryID)}
		}
	}

	variant := entry.Variants[tag]
	return o.player.Play(ctx, playback.LibrarySource(entryID, tag), func(ctx context.Context) (playback.Media, error) {
		data, err := o.client.Fetch(ctx, variant.URL)
		if err != nil {
			return playback.Media{}, err
		}
		return playback.Media{Bytes: data, MimeType: variant.MimeType}, nil
	})
}

// SelectVariant records the variant to use for future plays of the entry.
// If the entry is currently playing it is stopped; variants never hot-swap
// mid-stream.
func (o *Orchestrator) SelectVariant(entryID, tag string) {
	o.mu.Lock()
	o.selected[entryID] = tag
	o.mu.Unlock()

	o.player.StopEntry(entryID)
}

// StopPlayback stops the playback slot. No-op when nothing is playing.
func (o *Orchestrator) StopPlayback() {
	o.player.Stop()
}

// Refresh fetches the library listing and caches it.
func (o *Orchestrator) Refresh(ctx context.Context) ([]library.Entry, error) {
	entries, err := o.client.List(ctx)
	if err != nil {
		o.log.Error("Library list failed: %v", err)
		return nil, err
	}

	o.mu.Lock()
	o.entries = entries
	o.mu.Unlock()

	return entries, nil
}

// Entries returns the cached library listing in upload order.
func (o *Orchestrator) Entries() []library.Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]library.Entry(nil), o.entries...)
}

// Submit uploads every artifact of the current take under one display name
// and refreshes the cached listing. The session stays in Ready.
func (o *Orchestrator) Submit(ctx context.Context, displayName string) error {
	o.mu.Lock()
	if o.state != Ready {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("nothing to submit (current state: %s)", state)
	}
	artifacts := append([]*transcode.Artifact(nil), o.artifacts...)
	o.mu.Unlock()

	for _, a := range artifacts {
		if err := o.client.Upload(ctx, displayName, a.MimeType, a.Bytes); err != nil {
			return err
		}
		o.log.Info("Uploaded %s variant of %q (%d bytes)", a.MimeType, displayName, a.Size)
	}

	if _, err := o.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	State     State
	Elapsed   int
	Slot      playback.Slot
	Artifacts int
	LastErr   error
}

// GetStatus returns a snapshot of the session and the playback slot.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	state := o.state
	artifacts := len(o.artifacts)
	lastErr := o.lastErr
	o.mu.Unlock()

	return Status{
		State:     state,
		Elapsed:   o.capture.Elapsed(),
		Slot:      o.player.Slot(),
		Artifacts: artifacts,
		LastErr:   lastErr,
	}
}

// Teardown releases everything the session holds: any hot capture is
// discarded, playback stops and all playable addresses are revoked.
func (o *Orchestrator) Teardown() {
	o.mu.Lock()
	if o.stopTimer != nil {
		o.stopTimer.Stop()
		o.stopTimer = nil
	}
	artifacts := o.artifacts
	o.artifacts = nil
	o.results = nil
	o.state = Idle
	o.mu.Unlock()

	o.capture.Teardown()
	o.player.Stop()
	for _, a := range artifacts {
		_ = a.Release()
	}
}

// entryLocked finds a cached entry by id. Callers must hold o.mu.
func (o *Orchestrator) entryLocked(entryID string) (library.Entry, bool) {
	for _, e := range o.entries {
		if e.ID == entryID {
			return e, true
		}
	}
	return library.Entry{}, false
}
