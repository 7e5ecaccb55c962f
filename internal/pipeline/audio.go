package pipeline

import (
	"context"
	"fmt"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/metrics"
	"github.com/franz/speech-corpus/internal/store"
)

// Summary is the outcome of one collect invocation
type Summary struct {
	Stages []*Result
	Commit *store.CommitResult
}

// CollectAudio measures every distinct recording of the table and records
// the dataset membership of every path, in one transaction
func (r *Runner) CollectAudio(ctx context.Context, table *metadata.Table) (*Summary, error) {
	audioStage := Stage[metadata.Row, corpus.AudioMetrics]{
		Name:    "audio",
		Table:   store.AudioMetricsTable,
		Key:     func(row metadata.Row) string { return row.Hash },
		Compute: PerItem(r.measure),
	}
	audio, audioRes, err := Run(ctx, r, audioStage, table.UniqueByHash())
	if err != nil {
		return nil, fmt.Errorf("audio metrics: %w", err)
	}
	r.report(audioRes)

	// Memberships may only reference recordings that are stored or about
	// to be inserted alongside them
	hashed := table.Hashed()
	known, err := r.knownAudio(ctx, fingerprints(hashed), audio.Add)
	if err != nil {
		return nil, err
	}
	var members []metadata.Row
	excluded := 0
	for _, row := range distinct(hashed, func(row metadata.Row) string { return row.Path }) {
		if !known[row.Hash] {
			excluded++
			continue
		}
		members = append(members, row)
	}

	memberStage := Stage[metadata.Row, corpus.Membership]{
		Name:    "membership",
		Table:   store.MembershipTable,
		Scope:   r.dataset,
		Key:     func(row metadata.Row) string { return row.Path },
		Compute: PerItem(r.membership),
	}
	memberships, memberRes, err := Run(ctx, r, memberStage, members)
	if err != nil {
		return nil, fmt.Errorf("memberships: %w", err)
	}
	memberRes.Excluded = excluded
	r.report(memberRes)

	cr, err := r.commit(ctx, audio, memberships)
	if err != nil {
		return nil, err
	}
	return &Summary{Stages: []*Result{audioRes, memberRes}, Commit: cr}, nil
}

func (r *Runner) measure(ctx context.Context, row metadata.Row) (corpus.AudioMetrics, bool, error) {
	clip, ok, err := r.loadClip(ctx, "audio", row)
	if err != nil || !ok {
		return corpus.AudioMetrics{}, false, err
	}
	m := metrics.Analyze(clip)
	m.Fingerprint = row.Hash
	return m, true, nil
}

func (r *Runner) membership(_ context.Context, row metadata.Row) (corpus.Membership, bool, error) {
	return corpus.Membership{
		Fingerprint: row.Hash,
		Dataset:     r.dataset,
		Path:        row.Path,
		SpeakerID:   row.SpeakerID,
	}, true, nil
}

// knownAudio returns the fingerprints that have audio metrics in the store
// or among pending
func (r *Runner) knownAudio(ctx context.Context, fps []string, pending []corpus.AudioMetrics) (map[string]bool, error) {
	known, err := store.AudioMetricsTable.Existing(ctx, r.store, "", fps)
	if err != nil {
		return nil, err
	}
	for _, m := range pending {
		known[m.Fingerprint] = true
	}
	return known, nil
}

func fingerprints(rows []metadata.Row) []string {
	seen := make(map[string]bool, len(rows))
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Hash == "" || seen[row.Hash] {
			continue
		}
		seen[row.Hash] = true
		out = append(out, row.Hash)
	}
	return out
}
