// Package metrics computes the quality measures stored per recording.
package metrics

import (
	"io"
	"math"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/wavio"
)

// MinDBFS is reported for digital silence, where the level is -Inf
const MinDBFS = -144.0

// AnalyzeWAV decodes a WAV stream and measures it. The fingerprint of the
// returned record is left empty.
func AnalyzeWAV(r io.ReadSeeker) (corpus.AudioMetrics, error) {
	clip, err := wavio.Decode(r)
	if err != nil {
		return corpus.AudioMetrics{}, err
	}
	return Analyze(clip), nil
}

// Analyze measures a decoded clip
func Analyze(clip *wavio.Clip) corpus.AudioMetrics {
	return corpus.AudioMetrics{
		DurationSeconds: clip.Duration(),
		SampleRate:      clip.SampleRate,
		Channels:        clip.Channels,
		PCMFormat:       clip.PCMFormat(),
		SNR:             SignalToNoise(clip.Channel(0)),
		DBFS:            DBFS(clip.Data, clip.FullScale()),
	}
}

// SignalToNoise is the mean of the samples divided by their population
// standard deviation, or 0 when the deviation is 0
func SignalToNoise(samples []int) float64 {
	if len(samples) == 0 {
		return 0
	}
	n := float64(len(samples))
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / n

	var sq float64
	for _, s := range samples {
		d := float64(s) - mean
		sq += d * d
	}
	sd := math.Sqrt(sq / n)
	if sd == 0 {
		return 0
	}
	return mean / sd
}

// DBFS is the RMS level relative to fullScale, floored at MinDBFS
func DBFS(samples []int, fullScale float64) float64 {
	if len(samples) == 0 || fullScale <= 0 {
		return MinDBFS
	}
	var sq float64
	for _, s := range samples {
		sq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sq / float64(len(samples)))
	if rms == 0 {
		return MinDBFS
	}
	return math.Max(MinDBFS, 20*math.Log10(rms/fullScale))
}
