package ingest

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/franz/speech-corpus/internal/util"
)

// Converter transcodes the audio file at src into a 16-bit mono PCM WAV at
// dst. Both are OS paths.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// FFmpeg converts with the ffmpeg binary
type FFmpeg struct {
	Binary string
}

func (f *FFmpeg) binary() string {
	if f == nil || f.Binary == "" {
		return "ffmpeg"
	}
	return f.Binary
}

// Available reports whether ffmpeg is on PATH
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.binary())
	return err == nil
}

// Version returns the first line of `ffmpeg -version`
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, f.binary(), "-version").Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s -version: %v", util.ErrExternalTool, f.binary(), err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// Convert runs ffmpeg -i src -acodec pcm_s16le -ac 1 dst
func (f *FFmpeg) Convert(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, f.binary(),
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-y",
		"-i", src,
		"-acodec", "pcm_s16le",
		"-ac", "1",
		dst,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: ffmpeg %s: %v (output: %s)", util.ErrExternalTool, src, err, strings.TrimSpace(string(output)))
	}
	return nil
}
