package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Config{Binary: "ffmpeg", WorkDir: t.TempDir()})
	e.locate = func(name string) (string, error) { return "/opt/fake/" + name, nil }
	e.run = func(ctx context.Context, bin string, args []string) ([]byte, error) { return nil, nil }
	return e
}

func TestConvert_BeforeLoad(t *testing.T) {
	e := testEngine(t)

	_, err := e.Convert(context.Background(), []byte("x"), "in.wav", nil, "out.m4a")
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady, got %v", err)
	}
}

func TestLoad_Idempotent(t *testing.T) {
	e := testEngine(t)

	probes := 0
	e.run = func(ctx context.Context, bin string, args []string) ([]byte, error) {
		probes++
		return nil, nil
	}

	for i := 0; i < 3; i++ {
		if err := e.Load(context.Background()); err != nil {
			t.Fatalf("Load %d failed: %v", i, err)
		}
	}

	if probes != 1 {
		t.Errorf("Expected 1 probe, got %d", probes)
	}
	if e.State() != Ready {
		t.Errorf("Expected state Ready, got %s", e.State())
	}
}

func TestLoad_FailureIsRetryable(t *testing.T) {
	e := testEngine(t)
	e.locate = func(name string) (string, error) { return "", fmt.Errorf("not in PATH") }

	if err := e.Load(context.Background()); err == nil {
		t.Fatal("Expected load failure")
	}
	if e.State() != Failed {
		t.Errorf("Expected state Failed, got %s", e.State())
	}

	e.locate = func(name string) (string, error) { return "/opt/fake/" + name, nil }
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Retry load failed: %v", err)
	}
	if e.State() != Ready {
		t.Errorf("Expected state Ready after retry, got %s", e.State())
	}
}

func TestConvert_Success(t *testing.T) {
	e := testEngine(t)

	var gotArgs []string
	e.run = func(ctx context.Context, bin string, args []string) ([]byte, error) {
		if len(args) == 1 && args[0] == "-version" {
			return nil, nil
		}
		gotArgs = args
		// The output path is the final argument; produce the converted bytes.
		out := args[len(args)-1]
		return nil, os.WriteFile(out, []byte("encoded"), 0644)
	}

	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	output, err := e.Convert(context.Background(), []byte("raw"), "in.wav", []string{"-c:a", "aac"}, "out.m4a")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if string(output) != "encoded" {
		t.Errorf("Expected %q, got %q", "encoded", output)
	}

	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "-c:a aac") {
		t.Errorf("Expected command args to be passed through, got %q", joined)
	}
	if !strings.Contains(joined, "in.wav") || !strings.Contains(joined, "out.m4a") {
		t.Errorf("Expected staged file names in args, got %q", joined)
	}
}

func TestConvert_UniqueJobNames(t *testing.T) {
	e := testEngine(t)

	var inputs []string
	e.run = func(ctx context.Context, bin string, args []string) ([]byte, error) {
		if len(args) == 1 && args[0] == "-version" {
			return nil, nil
		}
		for i, a := range args {
			if a == "-i" {
				inputs = append(inputs, args[i+1])
			}
		}
		return nil, os.WriteFile(args[len(args)-1], []byte("x"), 0644)
	}

	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := e.Convert(context.Background(), []byte("raw"), "in.wav", nil, "out.m4a"); err != nil {
			t.Fatalf("Convert %d failed: %v", i, err)
		}
	}

	if len(inputs) != 2 || inputs[0] == inputs[1] {
		t.Errorf("Expected distinct staged input names, got %v", inputs)
	}
}

func TestConvert_Failure(t *testing.T) {
	e := testEngine(t)

	e.run = func(ctx context.Context, bin string, args []string) ([]byte, error) {
		if len(args) == 1 && args[0] == "-version" {
			return nil, nil
		}
		return []byte("Unknown encoder 'nope'"), fakeExitError()
	}

	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	_, err := e.Convert(context.Background(), []byte("raw"), "in.wav", nil, "out.m4a")
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("Expected *ConversionError, got %v", err)
	}
	if !strings.Contains(convErr.Detail, "Unknown encoder") {
		t.Errorf("Expected stderr detail, got %q", convErr.Detail)
	}
}

func TestConvert_CleansWorkspace(t *testing.T) {
	workDir := t.TempDir()
	e := New(Config{Binary: "ffmpeg", WorkDir: workDir})
	e.locate = func(name string) (string, error) { return "/opt/fake/" + name, nil }
	e.run = func(ctx context.Context, bin string, args []string) ([]byte, error) {
		if len(args) == 1 && args[0] == "-version" {
			return nil, nil
		}
		return nil, os.WriteFile(args[len(args)-1], []byte("x"), 0644)
	}

	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := e.Convert(context.Background(), []byte("raw"), "in.wav", nil, "out.m4a"); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty workspace after convert, found %d entries", len(entries))
	}
}

func TestConvert_EngineBecomesUnusable(t *testing.T) {
	e := testEngine(t)

	e.run = func(ctx context.Context, bin string, args []string) ([]byte, error) {
		if len(args) == 1 && args[0] == "-version" {
			return nil, nil
		}
		return nil, fmt.Errorf("fork/exec: no such file or directory")
	}

	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	_, err := e.Convert(context.Background(), []byte("raw"), "in.wav", nil, "out.m4a")
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("Expected ErrNotReady for a non-exit failure, got %v", err)
	}
	if e.State() != Failed {
		t.Errorf("Expected state Failed, got %s", e.State())
	}
}

// fakeExitError produces a genuine *exec.ExitError by running a command that
// exits non-zero.
func fakeExitError() error {
	cmd := exec.Command("sh", "-c", "exit 1")
	err := cmd.Run()
	if err == nil {
		// Should not happen; fall back to an ordinary error so the test
		// still fails loudly.
		return fmt.Errorf("expected non-zero exit")
	}
	return err
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    LoadState
		expected string
	}{
		{NotLoaded, "NotLoaded"},
		{Loading, "Loading"},
		{Ready, "Ready"},
		{Failed, "Failed"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestClose_RemovesWorkspace(t *testing.T) {
	workDir := filepath.Join(t.TempDir(), "ws")
	e := New(Config{Binary: "ffmpeg", WorkDir: workDir})
	e.locate = func(name string) (string, error) { return "/opt/fake/" + name, nil }
	e.run = func(ctx context.Context, bin string, args []string) ([]byte, error) { return nil, nil }

	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Error("Expected workspace to be removed")
	}
	if e.Ready() {
		t.Error("Expected engine not ready after close")
	}
}
