// Package wavio decodes and encodes PCM WAV audio.
package wavio

import (
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/franz/speech-corpus/internal/util"
)

// WAVE format tags
const (
	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE
)

// Clip is a decoded recording. Data holds interleaved integer samples.
type Clip struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Format     uint16
	Data       []int
}

// Decode reads a whole WAV stream
func Decode(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV stream", util.ErrCorrupt)
	}
	switch dec.WavAudioFormat {
	case formatPCM, formatExtensible:
	default:
		return nil, fmt.Errorf("%w: WAV format tag %d", util.ErrUnsupported, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrCorrupt, err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate < 1 {
		return nil, fmt.Errorf("%w: missing format chunk", util.ErrCorrupt)
	}

	data := buf.Data
	depth := int(dec.BitDepth)
	if depth == 8 {
		// 8-bit WAV is unsigned
		centered := make([]int, len(data))
		for i, v := range data {
			centered[i] = v - 128
		}
		data = centered
	}

	return &Clip{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		BitDepth:   depth,
		Format:     dec.WavAudioFormat,
		Data:       data,
	}, nil
}

// Frames returns the number of sample frames
func (c *Clip) Frames() int {
	return len(c.Data) / c.Channels
}

// Duration returns the length in seconds
func (c *Clip) Duration() float64 {
	return float64(c.Frames()) / float64(c.SampleRate)
}

// FullScale is the largest representable amplitude
func (c *Clip) FullScale() float64 {
	return math.Exp2(float64(c.BitDepth - 1))
}

// PCMFormat names the sample encoding, e.g. PCM_16
func (c *Clip) PCMFormat() string {
	if c.Format == formatFloat {
		return "FLOAT"
	}
	if c.BitDepth == 8 {
		return "PCM_U8"
	}
	return fmt.Sprintf("PCM_%d", c.BitDepth)
}

// Channel returns the samples of channel ch
func (c *Clip) Channel(ch int) []int {
	out := make([]int, 0, c.Frames())
	for i := ch; i < len(c.Data); i += c.Channels {
		out = append(out, c.Data[i])
	}
	return out
}

// Mono downmixes to one channel by averaging. Amplitudes keep the integer
// sample scale.
func (c *Clip) Mono() []float32 {
	scale := float64(c.Channels)
	out := make([]float32, c.Frames())
	for f := range out {
		var sum float64
		for ch := 0; ch < c.Channels; ch++ {
			sum += float64(c.Data[f*c.Channels+ch])
		}
		out[f] = float32(sum / scale)
	}
	return out
}

// EncodeMono16 writes samples in [-1, 1] as a 16-bit mono PCM WAV
func EncodeMono16(w io.WriteSeeker, samples []float32, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, formatPCM)
	data := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		data[i] = int(math.Max(-32768, math.Min(32767, v)))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}

// EncodeInt writes interleaved integer samples as PCM WAV
func EncodeInt(w io.WriteSeeker, data []int, sampleRate, bitDepth, channels int) error {
	enc := wav.NewEncoder(w, sampleRate, bitDepth, channels, formatPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}

// Resample converts samples from one rate to another by linear
// interpolation
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}

// Buffer runs encode against an in-memory seekable file and returns the
// bytes written
func Buffer(encode func(w io.WriteSeeker) error) ([]byte, error) {
	mem := afero.NewMemMapFs()
	f, err := mem.Create("clip.wav")
	if err != nil {
		return nil, err
	}
	if err := encode(f); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return afero.ReadFile(mem, "clip.wav")
}

// Probe reads the format of a WAV stream without decoding samples. The
// returned clip has no data.
func Probe(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV stream", util.ErrCorrupt)
	}
	return &Clip{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Format:     dec.WavAudioFormat,
	}, nil
}

// Canonical reports whether the clip is 16-bit mono integer PCM
func (c *Clip) Canonical() bool {
	return c.Format == formatPCM && c.Channels == 1 && c.BitDepth == 16
}
