// Package transcode feeds raw captured audio through the codec engine
// gateway, one target spec at a time, and collects one encoded artifact per
// spec.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/memovox/memovox/internal/capture"
	"github.com/memovox/memovox/internal/engine"
)

// TargetSpec describes one delivery format to produce.
type TargetSpec struct {
	Codec          string // "aac", "opus" or "mp3"
	Bitrate        string // e.g. "128k"
	ContainerFlags []string
}

// target carries the engine arguments and output naming for a codec.
type target struct {
	encoderArgs []string
	ext         string
	mime        string
}

var targets = map[string]target{
	"aac":  {encoderArgs: []string{"-c:a", "aac"}, ext: ".m4a", mime: "audio/mp4"},
	"opus": {encoderArgs: []string{"-c:a", "libopus"}, ext: ".ogg", mime: "audio/ogg"},
	"mp3":  {encoderArgs: []string{"-c:a", "libmp3lame"}, ext: ".mp3", mime: "audio/mpeg"},
}

// MimeForCodec returns the delivery mime type for a known codec tag.
func MimeForCodec(codec string) (string, bool) {
	t, ok := targets[codec]
	return t.mime, ok
}

// Converter is the slice of the engine gateway the pipeline invokes.
type Converter interface {
	Convert(ctx context.Context, input []byte, inputName string, args []string, outputName string) ([]byte, error)
}

// Result pairs a target spec with the artifact it produced or the error
// that failed it.
type Result struct {
	Spec     TargetSpec
	Artifact *Artifact
	Err      error
}

// Pipeline produces encoded artifacts from raw captures.
type Pipeline struct {
	conv        Converter
	artifactDir string
}

// New creates a pipeline writing playable addresses under artifactDir.
func New(conv Converter, artifactDir string) *Pipeline {
	return &Pipeline{conv: conv, artifactDir: artifactDir}
}

// Transcode runs every target spec sequentially. A failed spec does not
// abort the remaining ones unless the engine itself became unusable, in
// which case the remaining specs are marked failed without being attempted.
func (p *Pipeline) Transcode(ctx context.Context, raw *capture.RawAudio, specs []TargetSpec) []Result {
	results := make([]Result, len(specs))

	engineDown := false
	for i, spec := range specs {
		if engineDown {
			results[i] = Result{Spec: spec, Err: engine.ErrNotReady}
			continue
		}

		artifact, err := p.transcodeOne(ctx, raw, spec)
		if errors.Is(err, engine.ErrNotReady) {
			engineDown = true
		}
		results[i] = Result{Spec: spec, Artifact: artifact, Err: err}
	}

	return results
}

func (p *Pipeline) transcodeOne(ctx context.Context, raw *capture.RawAudio, spec TargetSpec) (*Artifact, error) {
	t, ok := targets[spec.Codec]
	if !ok {
		return nil, &engine.ConversionError{Detail: fmt.Sprintf("unknown target codec %q", spec.Codec)}
	}

	args := append([]string(nil), t.encoderArgs...)
	if spec.Bitrate != "" {
		args = append(args, "-b:a", spec.Bitrate)
	}
	args = append(args, spec.ContainerFlags...)

	output, err := p.conv.Convert(ctx, raw.Data, "input"+extForMime(raw.MimeType), args, "output"+t.ext)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.artifactDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	address := filepath.Join(p.artifactDir, uuid.NewString()+t.ext)
	if err := os.WriteFile(address, output, 0644); err != nil {
		os.Remove(address)
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}

	return &Artifact{
		Bytes:    output,
		MimeType: t.mime,
		Size:     int64(len(output)),
		address:  address,
	}, nil
}

// Succeeded returns the artifacts of the successful results, in spec order.
func Succeeded(results []Result) []*Artifact {
	var out []*Artifact
	for _, r := range results {
		if r.Err == nil && r.Artifact != nil {
			out = append(out, r.Artifact)
		}
	}
	return out
}

// ReleaseAll revokes every artifact produced by the given results. Used to
// discard a partially successful attempt.
func ReleaseAll(results []Result) {
	for _, r := range results {
		if r.Artifact != nil {
			_ = r.Artifact.Release()
		}
	}
}

func extForMime(mime string) string {
	switch mime {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
