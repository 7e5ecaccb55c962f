package inference

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/franz/speech-corpus/internal/util"
)

// Audio is a mono recording sent to a model
type Audio struct {
	Samples    []float32
	SampleRate int
}

// ASR model contract
const (
	DefaultASRModel = "ensemble_english_stt"
	ASRSampleRate   = 16000
	asrInput        = "AUDIO_SIGNAL"
	asrOutput       = "decoded_texts"
)

// Recognizer transcribes audio with an ASR model. Clips must be mono at
// ASRSampleRate.
type Recognizer struct {
	client *Client
	model  string
}

// NewRecognizer returns a Recognizer for model
func NewRecognizer(client *Client, model string) *Recognizer {
	if model == "" {
		model = DefaultASRModel
	}
	return &Recognizer{client: client, model: model}
}

// Recognize sends every clip concurrently and waits for all of them. The
// first failure cancels the requests still in flight.
func (r *Recognizer) Recognize(ctx context.Context, clips []Audio) ([]string, error) {
	texts := make([]string, len(clips))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, clip := range clips {
		i, clip := i, clip
		p.Go(func(ctx context.Context) error {
			text, err := r.recognizeOne(ctx, clip)
			if err != nil {
				return err
			}
			texts[i] = text
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}

func (r *Recognizer) recognizeOne(ctx context.Context, clip Audio) (string, error) {
	audio, err := NewTensor(asrInput, "FP32", []int{1, len(clip.Samples)}, clip.Samples)
	if err != nil {
		return "", err
	}

	out, err := r.client.Infer(ctx, r.model, []Tensor{audio}, asrOutput)
	if err != nil {
		return "", err
	}
	var texts []string
	if err := json.Unmarshal(out[asrOutput].Data, &texts); err != nil || len(texts) == 0 {
		return "", fmt.Errorf("%w: %s: malformed %s output", util.ErrInference, r.model, asrOutput)
	}
	return texts[0], nil
}

// Enhancement model contract
const (
	DefaultEnhancerModel = "enhancer_ensemble"
	EnhancedSampleRate   = 44100
	enhInput             = "INPUT_AUDIO"
	enhSampleRate        = "SAMPLE_RATE"
	enhChunkDuration     = "CHUNK_DURATION_S"
	enhChunkOverlap      = "CHUNK_OVERLAP_S"
	enhOutput            = "OUTPUT_AUDIOS"
)

// Enhancer denoises audio with an enhancement model. Output is mono at
// EnhancedSampleRate, scaled to [-1, 1].
type Enhancer struct {
	client        *Client
	model         string
	chunkDuration float32
	chunkOverlap  float32
}

// NewEnhancer returns an Enhancer that splits audio into chunks of
// chunkDuration seconds overlapping by chunkOverlap
func NewEnhancer(client *Client, model string, chunkDuration, chunkOverlap float32) *Enhancer {
	if model == "" {
		model = DefaultEnhancerModel
	}
	return &Enhancer{client: client, model: model, chunkDuration: chunkDuration, chunkOverlap: chunkOverlap}
}

// Enhance sends every clip concurrently and waits for all of them
func (e *Enhancer) Enhance(ctx context.Context, clips []Audio) ([][]float32, error) {
	out := make([][]float32, len(clips))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, clip := range clips {
		i, clip := i, clip
		p.Go(func(ctx context.Context) error {
			samples, err := e.enhanceOne(ctx, clip)
			if err != nil {
				return err
			}
			out[i] = samples
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Enhancer) enhanceOne(ctx context.Context, clip Audio) ([]float32, error) {
	audio, err := NewTensor(enhInput, "FP32", []int{1, len(clip.Samples)}, clip.Samples)
	if err != nil {
		return nil, err
	}
	rate, err := NewTensor(enhSampleRate, "INT64", []int{1, 1}, []int{clip.SampleRate})
	if err != nil {
		return nil, err
	}
	chunk, err := NewTensor(enhChunkDuration, "FP32", []int{1, 1}, []float32{e.chunkDuration})
	if err != nil {
		return nil, err
	}
	overlap, err := NewTensor(enhChunkOverlap, "FP32", []int{1, 1}, []float32{e.chunkOverlap})
	if err != nil {
		return nil, err
	}
	inputs := []Tensor{audio, rate, chunk, overlap}

	out, err := e.client.Infer(ctx, e.model, inputs, enhOutput)
	if err != nil {
		return nil, err
	}
	var samples []float32
	if err := json.Unmarshal(out[enhOutput].Data, &samples); err != nil {
		return nil, fmt.Errorf("%w: %s: malformed %s output", util.ErrInference, e.model, enhOutput)
	}
	return samples, nil
}
