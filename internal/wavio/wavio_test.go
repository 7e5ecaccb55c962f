package wavio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/speech-corpus/internal/util"
)

func TestEncodeDecode_Stereo(t *testing.T) {
	// 4 stereo frames at 8 kHz
	data := []int{100, -100, 200, -200, 300, -300, 400, -400}
	raw, err := Buffer(func(w io.WriteSeeker) error {
		return EncodeInt(w, data, 8000, 16, 2)
	})
	require.NoError(t, err)

	clip, err := Decode(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, 8000, clip.SampleRate)
	assert.Equal(t, 2, clip.Channels)
	assert.Equal(t, 16, clip.BitDepth)
	assert.Equal(t, "PCM_16", clip.PCMFormat())
	assert.Equal(t, data, clip.Data)
	assert.Equal(t, 4, clip.Frames())
	assert.InDelta(t, 0.0005, clip.Duration(), 1e-12)
	assert.Equal(t, []int{100, 200, 300, 400}, clip.Channel(0))

	for _, v := range clip.Mono() {
		assert.Zero(t, v)
	}
}

func TestEncodeMono16(t *testing.T) {
	raw, err := Buffer(func(w io.WriteSeeker) error {
		return EncodeMono16(w, []float32{0, 0.5, -1, 2}, 16000)
	})
	require.NoError(t, err)

	clip, err := Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, clip.Channels)
	assert.Equal(t, []int{0, 16384, -32767, 32767}, clip.Data)
}

func TestMono_AveragesChannels(t *testing.T) {
	clip := &Clip{SampleRate: 8000, Channels: 2, BitDepth: 16, Data: []int{100, 300, -50, -150}}
	assert.Equal(t, []float32{200, -100}, clip.Mono())
}

func TestResample(t *testing.T) {
	in := []float32{0, 1, 2, 3}
	assert.Equal(t, in, Resample(in, 16000, 16000))

	up := Resample(in, 8000, 16000)
	require.Len(t, up, 8)
	assert.Equal(t, []float32{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}, up)

	down := Resample([]float32{0, 1, 2, 3, 4, 5}, 48000, 16000)
	assert.Equal(t, []float32{0, 3}, down)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("definitely not a wav file")))
	assert.ErrorIs(t, err, util.ErrCorrupt)
}
