package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/store"
	"github.com/franz/speech-corpus/internal/util"
)

// Aligner force-aligns a WAV recording with its transcript. It returns the
// word intervals and the raw TextGrid. Errors wrapping util.ErrExternalTool
// mean the recording could not be aligned.
type Aligner interface {
	Align(ctx context.Context, audio io.Reader, transcript string) ([]corpus.Interval, []byte, error)
}

// TextGridDir holds saved TextGrids next to the wavs directory
const TextGridDir = "text_grids"

// TextGridPath maps an audio path to its saved TextGrid
func TextGridPath(audioPath string) string {
	return siblingPath(audioPath, TextGridDir, ".TextGrid")
}

// AlignOptions configures CollectAlignment
type AlignOptions struct {
	// SaveTextGrids writes each TextGrid into the dataset storage
	SaveTextGrids bool
}

// CollectAlignment aligns every recording that has audio metrics and a
// transcript. A non-blank metadata text cell takes precedence over the
// stored original text.
func (r *Runner) CollectAlignment(ctx context.Context, table *metadata.Table, aligner Aligner, opts AlignOptions) (*Summary, error) {
	rows := table.UniqueByHash()
	fps := fingerprints(rows)
	known, err := r.knownAudio(ctx, fps, nil)
	if err != nil {
		return nil, err
	}

	texts, err := r.store.OriginalTexts(ctx, fps)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if strings.TrimSpace(row.Text) != "" {
			texts[row.Hash] = row.Text
		}
	}

	ready, excluded := r.withPrerequisite(rows, "alignment", "needs audio metrics and a transcript",
		func(row metadata.Row) bool {
			_, hasText := texts[row.Hash]
			return known[row.Hash] && hasText
		})

	stage := Stage[metadata.Row, corpus.Alignment]{
		Name:  "alignment",
		Table: store.AlignmentTable,
		Key:   func(row metadata.Row) string { return row.Hash },
		Compute: PerItem(func(ctx context.Context, row metadata.Row) (corpus.Alignment, bool, error) {
			return r.align(ctx, aligner, row, texts[row.Hash], opts)
		}),
	}
	cs, res, err := Run(ctx, r, stage, ready)
	if err != nil {
		return nil, fmt.Errorf("alignment: %w", err)
	}
	res.Excluded = excluded
	r.report(res)

	cr, err := r.commit(ctx, cs)
	if err != nil {
		return nil, err
	}
	return &Summary{Stages: []*Result{res}, Commit: cr}, nil
}

func (r *Runner) align(ctx context.Context, aligner Aligner, row metadata.Row, text string, opts AlignOptions) (corpus.Alignment, bool, error) {
	f, err := r.storage.Open(ctx, row.Path)
	if errors.Is(err, util.ErrNotFound) {
		r.drop("alignment", row.Hash, row.Path, "file not found")
		return corpus.Alignment{}, false, nil
	}
	if err != nil {
		return corpus.Alignment{}, false, err
	}
	defer f.Close()

	intervals, grid, err := aligner.Align(ctx, f, text)
	if errors.Is(err, util.ErrExternalTool) {
		r.drop("alignment", row.Hash, row.Path, err.Error())
		return corpus.Alignment{}, false, nil
	}
	if err != nil {
		return corpus.Alignment{}, false, err
	}

	if opts.SaveTextGrids && len(grid) > 0 {
		if err := storage.WriteFile(ctx, r.storage, TextGridPath(row.Path), grid); err != nil {
			return corpus.Alignment{}, false, fmt.Errorf("save TextGrid: %w", err)
		}
	}
	return corpus.Alignment{Fingerprint: row.Hash, Intervals: intervals}, true, nil
}
