// Package enhance runs every recording of a dataset through a speech
// enhancement model and writes the result into another storage location.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/franz/speech-corpus/internal/inference"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/report"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/util"
	"github.com/franz/speech-corpus/internal/wavio"
)

// DefaultBatchSize is the number of recordings sent to the model at once
const DefaultBatchSize = 4

// Enhancer turns clips into enhanced mono audio at inference.EnhancedSampleRate
type Enhancer interface {
	Enhance(ctx context.Context, clips []inference.Audio) ([][]float32, error)
}

// Config holds an enhancement pass
type Config struct {
	Source    storage.Storage
	Dest      storage.Storage
	Metadata  string
	BatchSize int
	Overwrite bool
	Enhancer  Enhancer
	Logger    *report.EventLogger
}

// Result summarizes a pass
type Result struct {
	Files    int
	Enhanced int
	Skipped  int // already present in the destination
	Failed   int // missing or undecodable sources
}

// Run enhances every distinct path of the metadata table, then writes the
// table to the destination. Fingerprints are cleared in the copy because
// the enhanced files have different content.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Metadata == "" {
		cfg.Metadata = metadata.DefaultFile
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	table, err := metadata.Load(ctx, cfg.Source, cfg.Metadata)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var pending []string
	res := &Result{}
	for _, row := range table.Rows {
		if seen[row.Path] {
			continue
		}
		seen[row.Path] = true
		res.Files++
		if !cfg.Overwrite {
			exists, err := cfg.Dest.Exists(ctx, row.Path)
			if err != nil {
				return nil, err
			}
			if exists {
				res.Skipped++
				continue
			}
		}
		pending = append(pending, row.Path)
	}
	util.InfoLog("Enhancing %s files (%s already done)", util.FormatCount(len(pending)), util.FormatCount(res.Skipped))

	bar := util.NewProgressBar(len(pending), "Enhancing")
	for start := 0; start < len(pending); start += cfg.BatchSize {
		end := min(start+cfg.BatchSize, len(pending))
		n, failed, err := enhanceBatch(ctx, cfg, pending[start:end])
		if err != nil {
			util.FinishBar(bar)
			return nil, err
		}
		res.Enhanced += n
		res.Failed += failed
		util.Advance(bar, end-start)
	}
	util.FinishBar(bar)

	out := &metadata.Table{HasText: table.HasText, Extra: table.Extra}
	for _, row := range table.Rows {
		row.Hash = ""
		out.Rows = append(out.Rows, row)
	}
	if err := metadata.Save(ctx, cfg.Dest, cfg.Metadata, out); err != nil {
		return nil, err
	}

	util.SuccessLog("Enhanced %d files into %s", res.Enhanced, cfg.Dest.Resolve(""))
	return res, nil
}

func enhanceBatch(ctx context.Context, cfg Config, paths []string) (int, int, error) {
	var clips []inference.Audio
	var kept []string
	failed := 0
	for _, p := range paths {
		clip, err := load(ctx, cfg.Source, p)
		if errors.Is(err, util.ErrNotFound) || errors.Is(err, util.ErrCorrupt) || errors.Is(err, util.ErrUnsupported) {
			failed++
			util.WarnLog("Skipping %s: %v", p, err)
			cfg.Logger.LogError("enhance", p, err)
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		clips = append(clips, inference.Audio{Samples: clip.Mono(), SampleRate: clip.SampleRate})
		kept = append(kept, p)
	}
	if len(clips) == 0 {
		return 0, failed, nil
	}

	enhanced, err := cfg.Enhancer.Enhance(ctx, clips)
	if err != nil {
		return 0, 0, err
	}
	if len(enhanced) != len(clips) {
		return 0, 0, fmt.Errorf("%w: %d outputs for %d clips", util.ErrInference, len(enhanced), len(clips))
	}

	for i, p := range kept {
		data, err := wavio.Buffer(func(w io.WriteSeeker) error {
			return wavio.EncodeMono16(w, enhanced[i], inference.EnhancedSampleRate)
		})
		if err != nil {
			return 0, 0, err
		}
		if err := storage.WriteFile(ctx, cfg.Dest, p, data); err != nil {
			return 0, 0, fmt.Errorf("write enhanced %s: %w", cfg.Dest.Resolve(p), err)
		}
		cfg.Logger.LogEnhance(p, len(enhanced[i]))
	}
	return len(kept), failed, nil
}

func load(ctx context.Context, st storage.Storage, p string) (*wavio.Clip, error) {
	f, err := st.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return wavio.Decode(f)
}
