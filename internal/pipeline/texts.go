package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/metrics"
	"github.com/franz/speech-corpus/internal/store"
	"github.com/franz/speech-corpus/internal/util"
)

// CollectTexts stores the reference text of every recording that has audio
// metrics, with its characters per second. Rows with a blank text cell are
// excluded.
func (r *Runner) CollectTexts(ctx context.Context, table *metadata.Table) (*Summary, error) {
	if !table.HasText {
		return nil, fmt.Errorf("%w: metadata has no %s column", util.ErrInvalidConfig, metadata.ColText)
	}
	rows, blank := r.withPrerequisite(table.UniqueByHash(), "original_text", "empty text",
		func(row metadata.Row) bool {
			return strings.TrimSpace(row.Text) != ""
		})
	durations, err := r.store.Durations(ctx, fingerprints(rows))
	if err != nil {
		return nil, err
	}
	ready, excluded := r.withPrerequisite(rows, "original_text", "no audio metrics",
		func(row metadata.Row) bool {
			_, ok := durations[row.Hash]
			return ok
		})
	excluded += blank

	stage := Stage[metadata.Row, corpus.Transcript]{
		Name:  "original_text",
		Table: store.OriginalTextTable,
		Key:   func(row metadata.Row) string { return row.Hash },
		Compute: PerItem(func(_ context.Context, row metadata.Row) (corpus.Transcript, bool, error) {
			return transcript(row.Hash, row.Text, durations[row.Hash]), true, nil
		}),
	}
	cs, res, err := Run(ctx, r, stage, ready)
	if err != nil {
		return nil, fmt.Errorf("original texts: %w", err)
	}
	res.Excluded = excluded
	r.report(res)

	cr, err := r.commit(ctx, cs)
	if err != nil {
		return nil, err
	}
	return &Summary{Stages: []*Result{res}, Commit: cr}, nil
}

// CollectWER compares the ASR text with the reference text of every
// recording that has both
func (r *Runner) CollectWER(ctx context.Context, table *metadata.Table) (*Summary, error) {
	rows := table.UniqueByHash()
	fps := fingerprints(rows)
	originals, err := r.store.OriginalTexts(ctx, fps)
	if err != nil {
		return nil, err
	}
	recognized, err := r.store.ASRTexts(ctx, fps)
	if err != nil {
		return nil, err
	}
	ready, excluded := r.withPrerequisite(rows, "text_comparison", "needs original and ASR text",
		func(row metadata.Row) bool {
			_, hasOriginal := originals[row.Hash]
			_, hasASR := recognized[row.Hash]
			return hasOriginal && hasASR
		})

	stage := Stage[metadata.Row, corpus.TextComparison]{
		Name:  "text_comparison",
		Table: store.TextComparisonTable,
		Key:   func(row metadata.Row) string { return row.Hash },
		Compute: PerItem(func(_ context.Context, row metadata.Row) (corpus.TextComparison, bool, error) {
			ref, hyp := originals[row.Hash], recognized[row.Hash]
			return corpus.TextComparison{
				Fingerprint: row.Hash,
				WER:         metrics.WER(ref, hyp),
				CER:         metrics.CER(ref, hyp),
			}, true, nil
		}),
	}
	cs, res, err := Run(ctx, r, stage, ready)
	if err != nil {
		return nil, fmt.Errorf("text comparison: %w", err)
	}
	res.Excluded = excluded
	r.report(res)

	cr, err := r.commit(ctx, cs)
	if err != nil {
		return nil, err
	}
	return &Summary{Stages: []*Result{res}, Commit: cr}, nil
}

// withPrerequisite splits rows into those satisfying ok and a count of the
// rest. Excluded rows are logged at debug level and recorded as drops.
func (r *Runner) withPrerequisite(rows []metadata.Row, stage, reason string, ok func(metadata.Row) bool) ([]metadata.Row, int) {
	out := make([]metadata.Row, 0, len(rows))
	excluded := 0
	for _, row := range rows {
		if ok(row) {
			out = append(out, row)
			continue
		}
		excluded++
		util.DebugLog("%s: %s: %s", stage, row.Path, reason)
		r.logger.LogDrop(stage, row.Hash, row.Path, fmt.Sprintf("%v: %s", util.ErrMissingPrerequisite, reason))
	}
	if excluded > 0 {
		util.WarnLog("%s: %d recordings lack prerequisites (%s)", stage, excluded, reason)
	}
	return out, excluded
}

func transcript(fp, text string, duration float64) corpus.Transcript {
	t := corpus.Transcript{Fingerprint: fp, Text: text}
	if cps, ok := metrics.CPS(text, duration); ok {
		t.CPS = &cps
	}
	return t
}
