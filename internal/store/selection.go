package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column is a filterable column of the selection join
type Column string

const (
	ColDuration     Column = "am.duration_seconds"
	ColSampleRate   Column = "am.sample_rate"
	ColChannels     Column = "am.channels"
	ColSNR          Column = "am.snr"
	ColDBFS         Column = "am.dbfs"
	ColWER          Column = "tc.wer"
	ColCER          Column = "tc.cer"
	ColSpeaker      Column = "m.speaker_id"
	ColOriginalText Column = "ot.text"
	ColASRText      Column = "asr.text"
)

// Predicate is one condition of the selection query
type Predicate struct {
	Clause string
	Args   []any
}

// AtLeast matches rows where col >= v
func AtLeast(col Column, v float64) Predicate {
	return Predicate{Clause: string(col) + " >= ?", Args: []any{v}}
}

// AtMost matches rows where col <= v
func AtMost(col Column, v float64) Predicate {
	return Predicate{Clause: string(col) + " <= ?", Args: []any{v}}
}

// Equals matches rows where col = v
func Equals(col Column, v any) Predicate {
	return Predicate{Clause: string(col) + " = ?", Args: []any{v}}
}

// NotEquals matches rows where col <> v
func NotEquals(col Column, v any) Predicate {
	return Predicate{Clause: string(col) + " <> ?", Args: []any{v}}
}

// NotNull matches rows where col is present
func NotNull(col Column) Predicate {
	return Predicate{Clause: string(col) + " IS NOT NULL"}
}

// Candidate is a dataset member that satisfies the selection predicates
type Candidate struct {
	MembershipID int64          `db:"id"`
	Path         string         `db:"path_to_file"`
	SpeakerID    int            `db:"speaker_id"`
	Fingerprint  string         `db:"audio_md5_hash"`
	OriginalText sql.NullString `db:"original_text"`
	ASRText      sql.NullString `db:"asr_text"`
}

const selectionQuery = `SELECT m.id, m.path_to_file, m.speaker_id, m.audio_md5_hash,
       ot.text AS original_text, asr.text AS asr_text
FROM audio_to_dataset m
LEFT JOIN audio_metrics am ON am.audio_md5_hash = m.audio_md5_hash
LEFT JOIN text_comparison_metrics tc ON tc.audio_md5_hash = m.audio_md5_hash
LEFT JOIN audio_to_original_text ot ON ot.audio_md5_hash = m.audio_md5_hash
LEFT JOIN audio_to_asr_text asr ON asr.audio_md5_hash = m.audio_md5_hash
WHERE m.dataset_name = ?`

// BuildSelection returns the selection query for dataset with every
// predicate AND-ed, and its arguments
func BuildSelection(dataset string, preds []Predicate) (string, []any) {
	var b strings.Builder
	b.WriteString(selectionQuery)
	args := []any{dataset}
	for _, p := range preds {
		b.WriteString("\n  AND (")
		b.WriteString(p.Clause)
		b.WriteString(")")
		args = append(args, p.Args...)
	}
	b.WriteString("\nORDER BY m.id")
	return b.String(), args
}

// SelectCandidates returns the members of dataset matching all predicates,
// in insertion order
func (s *Store) SelectCandidates(ctx context.Context, dataset string, preds []Predicate) ([]Candidate, error) {
	query, args := BuildSelection(dataset, preds)
	var out []Candidate
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	return out, nil
}

// SpeakerSample is a dataset member with its duration, used by quotas
type SpeakerSample struct {
	MembershipID    int64   `db:"id"`
	Fingerprint     string  `db:"audio_md5_hash"`
	SpeakerID       int     `db:"speaker_id"`
	DurationSeconds float64 `db:"duration_seconds"`
}

// SpeakerSamples returns every member of dataset ordered by speaker, then
// insertion order
func (s *Store) SpeakerSamples(ctx context.Context, dataset string) ([]SpeakerSample, error) {
	var out []SpeakerSample
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT m.id, m.audio_md5_hash, m.speaker_id, am.duration_seconds
		FROM audio_to_dataset m
		JOIN audio_metrics am ON am.audio_md5_hash = m.audio_md5_hash
		WHERE m.dataset_name = ?
		ORDER BY m.speaker_id, m.id`), dataset)
	if err != nil {
		return nil, fmt.Errorf("select speaker samples: %w", err)
	}
	return out, nil
}
