package align

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/util"
)

// Default MFA binary and pretrained models
const (
	DefaultBinary        = "mfa"
	DefaultAcousticModel = "english_us_arpa"
	DefaultDictionary    = "english_us_arpa"
)

// MFA aligns recordings one at a time with the Montreal Forced Aligner
type MFA struct {
	Binary        string
	AcousticModel string
	Dictionary    string
	// TempDir is the parent of per-call working directories; empty means
	// the system default
	TempDir string
}

// NewMFA returns an aligner with the default binary and models
func NewMFA() *MFA {
	return &MFA{
		Binary:        DefaultBinary,
		AcousticModel: DefaultAcousticModel,
		Dictionary:    DefaultDictionary,
	}
}

// Available reports whether the MFA binary is on PATH
func (m *MFA) Available() bool {
	_, err := exec.LookPath(m.binary())
	return err == nil
}

// Version returns the output of `mfa version`
func (m *MFA) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, m.binary(), "version").Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s version: %v", util.ErrExternalTool, m.binary(), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (m *MFA) binary() string {
	if m.Binary == "" {
		return DefaultBinary
	}
	return m.Binary
}

// Align aligns the WAV audio against transcript and returns the first tier
// of the result along with the raw TextGrid. A transcript MFA cannot align
// yields an error wrapping util.ErrExternalTool.
func (m *MFA) Align(ctx context.Context, audio io.Reader, transcript string) ([]corpus.Interval, []byte, error) {
	if _, err := exec.LookPath(m.binary()); err != nil {
		return nil, nil, fmt.Errorf("%w: %s not found in PATH", util.ErrExternalTool, m.binary())
	}

	work, err := os.MkdirTemp(m.TempDir, "spc-mfa-")
	if err != nil {
		return nil, nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	audioPath := filepath.Join(work, "sample.wav")
	textPath := filepath.Join(work, "sample.txt")
	gridPath := filepath.Join(work, "sample.TextGrid")
	tmp := filepath.Join(work, "tmp")

	if err := writeFile(audioPath, audio); err != nil {
		return nil, nil, err
	}
	// MFA treats hyphenated words as one dictionary entry
	text := strings.ReplaceAll(transcript, "-", " ")
	if err := os.WriteFile(textPath, []byte(text), 0o644); err != nil {
		return nil, nil, fmt.Errorf("write transcript: %w", err)
	}

	cmd := exec.CommandContext(ctx, m.binary(), m.args(audioPath, textPath, gridPath, tmp)...)
	output, runErr := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	raw, err := os.ReadFile(gridPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if runErr != nil {
				return nil, nil, fmt.Errorf("%w: mfa align_one: %v (output: %s)", util.ErrExternalTool, runErr, lastLine(output))
			}
			return nil, nil, fmt.Errorf("%w: mfa produced no TextGrid, transcript may not match the audio", util.ErrExternalTool)
		}
		return nil, nil, fmt.Errorf("read TextGrid: %w", err)
	}
	if runErr != nil {
		util.DebugLog("mfa exited with %v but wrote a TextGrid", runErr)
	}

	tg, err := ParseTextGrid(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", util.ErrExternalTool, err)
	}
	if len(tg.Tiers) == 0 {
		return nil, nil, fmt.Errorf("%w: TextGrid has no tiers", util.ErrExternalTool)
	}
	return tg.Tiers[0].Intervals, raw, nil
}

func (m *MFA) args(audio, text, grid, tmp string) []string {
	acoustic := m.AcousticModel
	if acoustic == "" {
		acoustic = DefaultAcousticModel
	}
	dict := m.Dictionary
	if dict == "" {
		dict = DefaultDictionary
	}
	return []string{
		"align_one", "--clean", "-q",
		"--num_jobs", "1",
		"--temporary_directory", tmp,
		"--profile", tmp,
		audio, text, acoustic, dict, grid,
	}
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return lines[len(lines)-1]
}
