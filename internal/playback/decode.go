package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// decode turns media into canonical-format PCM. MP3 streams at the canonical
// sample rate decode in-process; everything else goes through the codec
// engine.
func (p *Player) decode(ctx context.Context, media Media) ([]byte, error) {
	if len(media.Bytes) == 0 {
		return nil, &PlaybackError{Detail: "empty media payload"}
	}

	if media.MimeType == "audio/mpeg" {
		pcm, ok, err := decodeMP3(media.Bytes)
		if err != nil {
			return nil, &PlaybackError{Detail: fmt.Sprintf("mp3 decode: %v", err)}
		}
		if ok {
			return pcm, nil
		}
		// Off-rate stream, fall through to the engine resampler.
	}

	pcm, err := p.conv.Convert(ctx, media.Bytes, "input"+extForDecode(media.MimeType), []string{
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", pcmSampleRate),
		"-ac", fmt.Sprintf("%d", pcmChannelCount),
	}, "output.pcm")
	if err != nil {
		return nil, &PlaybackError{Detail: fmt.Sprintf("decode %s: %v", media.MimeType, err)}
	}
	return pcm, nil
}

// decodeMP3 decodes in-process when the stream's rate matches the canonical
// output. go-mp3 always emits 16-bit stereo, so only the rate can mismatch.
func decodeMP3(data []byte) ([]byte, bool, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	if dec.SampleRate() != pcmSampleRate {
		return nil, false, nil
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, false, err
	}
	return pcm, true, nil
}

// extForDecode gives the engine an input filename whose suffix matches the
// container, since it sniffs format from the name.
func extForDecode(mimeType string) string {
	switch mimeType {
	case "audio/mp4":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	default:
		return ".bin"
	}
}
