package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/inference"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/store"
	"github.com/franz/speech-corpus/internal/util"
	"github.com/franz/speech-corpus/internal/wavio"
)

// Recognizer transcribes mono clips. Results are in input order.
type Recognizer interface {
	Recognize(ctx context.Context, clips []inference.Audio) ([]string, error)
}

// ASRCacheDir replaces the wavs directory for cached recognized texts
const ASRCacheDir = "asr_recognized_texts"

// ASRCachePath maps an audio path to the text file caching its recognized
// text: the last wavs directory becomes ASRCacheDir and the extension .txt
func ASRCachePath(audioPath string) string {
	return siblingPath(audioPath, ASRCacheDir, ".txt")
}

// siblingPath swaps the last "wavs" directory of p for dir (or prefixes dir
// when there is none) and replaces the extension
func siblingPath(p, dir, ext string) string {
	p = storage.Clean(p)
	p = strings.TrimSuffix(p, path.Ext(p)) + ext
	parts := strings.Split(p, "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == "wavs" {
			parts[i] = dir
			return strings.Join(parts, "/")
		}
	}
	return dir + "/" + p
}

// CollectASR transcribes every recording that has audio metrics. Texts
// already cached next to the dataset are reused instead of recognized again.
func (r *Runner) CollectASR(ctx context.Context, table *metadata.Table, rec Recognizer) (*Summary, error) {
	rows := table.UniqueByHash()
	durations, err := r.store.Durations(ctx, fingerprints(rows))
	if err != nil {
		return nil, err
	}
	ready, excluded := r.withPrerequisite(rows, "asr_text", "no audio metrics",
		func(row metadata.Row) bool {
			_, ok := durations[row.Hash]
			return ok
		})

	stage := Stage[metadata.Row, corpus.Transcript]{
		Name:      "asr_text",
		Table:     store.ASRTextTable,
		Key:       func(row metadata.Row) string { return row.Hash },
		BatchSize: r.batchSize,
		Compute: func(ctx context.Context, batch []metadata.Row) ([]corpus.Transcript, error) {
			return r.recognizeBatch(ctx, rec, batch, durations)
		},
	}
	cs, res, err := Run(ctx, r, stage, ready)
	if err != nil {
		return nil, fmt.Errorf("asr texts: %w", err)
	}
	res.Excluded = excluded
	r.report(res)

	cr, err := r.commit(ctx, cs)
	if err != nil {
		return nil, err
	}
	return &Summary{Stages: []*Result{res}, Commit: cr}, nil
}

func (r *Runner) recognizeBatch(ctx context.Context, rec Recognizer, batch []metadata.Row, durations map[string]float64) ([]corpus.Transcript, error) {
	texts := make(map[string]string, len(batch))
	var (
		pending []metadata.Row
		clips   []inference.Audio
	)
	for _, row := range batch {
		cached, ok, err := r.cachedText(ctx, row.Path)
		if err != nil {
			return nil, err
		}
		if ok {
			texts[row.Hash] = cached
			continue
		}

		clip, ok, err := r.loadClip(ctx, "asr_text", row)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		clips = append(clips, inference.Audio{
			Samples:    wavio.Resample(clip.Mono(), clip.SampleRate, inference.ASRSampleRate),
			SampleRate: inference.ASRSampleRate,
		})
		pending = append(pending, row)
	}

	if len(clips) > 0 {
		out, err := rec.Recognize(ctx, clips)
		if err != nil {
			return nil, err
		}
		if len(out) != len(clips) {
			return nil, fmt.Errorf("%w: %d texts for %d clips", util.ErrInference, len(out), len(clips))
		}
		for i, row := range pending {
			texts[row.Hash] = out[i]
			if err := storage.WriteFile(ctx, r.storage, ASRCachePath(row.Path), []byte(out[i])); err != nil {
				return nil, fmt.Errorf("cache recognized text: %w", err)
			}
		}
	}

	result := make([]corpus.Transcript, 0, len(texts))
	for _, row := range batch {
		text, ok := texts[row.Hash]
		if !ok {
			continue
		}
		result = append(result, transcript(row.Hash, text, durations[row.Hash]))
	}
	return result, nil
}

func (r *Runner) cachedText(ctx context.Context, audioPath string) (string, bool, error) {
	cache := ASRCachePath(audioPath)
	ok, err := r.storage.Exists(ctx, cache)
	if err != nil || !ok {
		return "", false, err
	}
	data, err := storage.ReadFile(ctx, r.storage, cache)
	if err != nil {
		return "", false, fmt.Errorf("read cached text %s: %w", r.storage.Resolve(cache), err)
	}
	return string(data), true, nil
}

// loadClip decodes the recording of row. Missing and undecodable files are
// reported as drops.
func (r *Runner) loadClip(ctx context.Context, stage string, row metadata.Row) (*wavio.Clip, bool, error) {
	f, err := r.storage.Open(ctx, row.Path)
	if errors.Is(err, util.ErrNotFound) {
		r.drop(stage, row.Hash, row.Path, "file not found")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	clip, err := wavio.Decode(f)
	if errors.Is(err, util.ErrCorrupt) || errors.Is(err, util.ErrUnsupported) {
		r.drop(stage, row.Hash, row.Path, err.Error())
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", r.storage.Resolve(row.Path), err)
	}
	return clip, true, nil
}
