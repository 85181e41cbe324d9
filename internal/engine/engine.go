// Package engine owns the lifecycle of the external ffmpeg transcoding
// engine: load it once, invoke it many times, one conversion in flight at a
// time.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrNotReady is returned when a conversion is requested before the engine
// load has completed, or after the engine became unusable.
var ErrNotReady = errors.New("codec engine not ready")

// ConversionError reports a conversion the engine rejected with a non-zero
// outcome.
type ConversionError struct {
	Detail string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed: %s", e.Detail)
}

// LoadState is the engine load lifecycle.
type LoadState int

const (
	// NotLoaded means Load has never been invoked
	NotLoaded LoadState = iota
	// Loading means a load is in progress; concurrent calls wait for it
	Loading
	// Ready means the engine is usable
	Ready
	// Failed means the load failed; retryable by calling Load again
	Failed
)

// String returns the string representation of the state
func (s LoadState) String() string {
	switch s {
	case NotLoaded:
		return "NotLoaded"
	case Loading:
		return "Loading"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Config holds engine configuration.
type Config struct {
	Binary  string // ffmpeg binary name or path
	WorkDir string // private workspace, created on load
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Binary:  "ffmpeg",
		WorkDir: filepath.Join(os.TempDir(), "memovox-engine"),
	}
}

type locateFunc func(name string) (string, error)

// runFunc executes the engine binary and returns its stderr output.
type runFunc func(ctx context.Context, bin string, args []string) ([]byte, error)

// Engine is the gateway to the external codec engine. The engine instance is
// a singleton shared resource; conversions are serialized.
type Engine struct {
	config Config

	locate locateFunc
	run    runFunc

	convertMu sync.Mutex // one conversion in flight at a time

	mu       sync.Mutex
	state    LoadState
	loadErr  error
	loadDone chan struct{}
	binPath  string
}

// New creates an engine gateway. The engine is not usable until Load
// completes.
func New(config Config) *Engine {
	if config.Binary == "" {
		config.Binary = "ffmpeg"
	}
	if config.WorkDir == "" {
		config.WorkDir = DefaultConfig().WorkDir
	}
	return &Engine{
		config: config,
		locate: exec.LookPath,
		run:    execRun,
	}
}

// execRun invokes the binary, capturing stderr for diagnostics.
func execRun(ctx context.Context, bin string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// State returns the current load state.
func (e *Engine) State() LoadState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Ready reports whether the engine is usable.
func (e *Engine) Ready() bool {
	return e.State() == Ready
}

// Load locates and probes the engine binary and creates the private
// workspace. It is idempotent: a completed load returns immediately, an
// in-progress load is waited on rather than re-triggered, and a failed load
// is retried.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()

	switch e.state {
	case Ready:
		e.mu.Unlock()
		return nil

	case Loading:
		done := e.loadDone
		e.mu.Unlock()
		return e.await(ctx, done)

	default: // NotLoaded or Failed
		done := make(chan struct{})
		e.state = Loading
		e.loadDone = done
		e.mu.Unlock()

		// The load outlives any single caller; an impatient caller must not
		// cancel it for the others.
		go e.doLoad(context.Background(), done)
		return e.await(ctx, done)
	}
}

func (e *Engine) await(ctx context.Context, done chan struct{}) error {
	select {
	case <-done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) doLoad(ctx context.Context, done chan struct{}) {
	defer close(done)

	path, err := e.locate(e.config.Binary)
	if err != nil {
		e.settle(Failed, "", fmt.Errorf("engine binary not found: %w", err))
		return
	}

	if _, err := e.run(ctx, path, []string{"-version"}); err != nil {
		e.settle(Failed, "", fmt.Errorf("engine probe failed: %w", err))
		return
	}

	if err := os.MkdirAll(e.config.WorkDir, 0755); err != nil {
		e.settle(Failed, "", fmt.Errorf("failed to create engine workspace: %w", err))
		return
	}

	e.settle(Ready, path, nil)
}

func (e *Engine) settle(state LoadState, binPath string, err error) {
	e.mu.Lock()
	e.state = state
	e.binPath = binPath
	e.loadErr = err
	e.mu.Unlock()
}

// Convert runs one conversion through the engine: the input bytes are staged
// into the workspace under a collision-free job name, the engine is invoked
// with the given arguments, and the named output is read back. Workspace
// files are removed on every exit path.
func (e *Engine) Convert(ctx context.Context, input []byte, inputName string, args []string, outputName string) ([]byte, error) {
	e.mu.Lock()
	if e.state != Ready {
		e.mu.Unlock()
		return nil, ErrNotReady
	}
	binPath := e.binPath
	workDir := e.config.WorkDir
	e.mu.Unlock()

	e.convertMu.Lock()
	defer e.convertMu.Unlock()

	job := uuid.NewString()[:8]
	inPath := filepath.Join(workDir, job+"-"+inputName)
	outPath := filepath.Join(workDir, job+"-"+outputName)
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if err := os.WriteFile(inPath, input, 0644); err != nil {
		return nil, fmt.Errorf("failed to stage engine input: %w", err)
	}

	full := append([]string{"-hide_banner", "-y", "-i", inPath}, args...)
	full = append(full, outPath)

	stderr, err := e.run(ctx, binPath, full)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ConversionError{Detail: stderrTail(stderr, err)}
		}
		// The binary itself could not run: the engine is unusable until a
		// reload succeeds.
		e.settle(Failed, "", fmt.Errorf("engine became unusable: %w", err))
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	output, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &ConversionError{Detail: fmt.Sprintf("engine produced no output: %v", err)}
	}

	return output, nil
}

// Close removes the engine workspace.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = NotLoaded
	e.binPath = ""
	return os.RemoveAll(e.config.WorkDir)
}

// stderrTail keeps the trailing portion of the engine's stderr, which is
// where ffmpeg reports the actual failure.
func stderrTail(stderr []byte, err error) string {
	const max = 400
	s := string(bytes.TrimSpace(stderr))
	if len(s) > max {
		s = s[len(s)-max:]
	}
	if s == "" {
		return err.Error()
	}
	return fmt.Sprintf("%v: %s", err, s)
}
