package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/franz/speech-corpus/internal/corpus"
)

// selectIn runs query with its single IN (?) bound to each chunk of keys
func selectIn[T any](ctx context.Context, s *Store, query string, keys []string) ([]T, error) {
	var out []T
	for start := 0; start < len(keys); start += maxInParams {
		end := min(start+maxInParams, len(keys))
		q, args, err := sqlx.In(query, keys[start:end])
		if err != nil {
			return nil, err
		}
		var chunk []T
		if err := s.db.SelectContext(ctx, &chunk, s.db.Rebind(q), args...); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// Durations returns the stored duration of each fingerprint that has audio
// metrics
func (s *Store) Durations(ctx context.Context, fingerprints []string) (map[string]float64, error) {
	type row struct {
		Fingerprint string  `db:"audio_md5_hash"`
		Duration    float64 `db:"duration_seconds"`
	}
	rows, err := selectIn[row](ctx, s,
		"SELECT audio_md5_hash, duration_seconds FROM audio_metrics WHERE audio_md5_hash IN (?)", fingerprints)
	if err != nil {
		return nil, fmt.Errorf("fetch durations: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Fingerprint] = r.Duration
	}
	return out, nil
}

// OriginalTexts returns the reference text of each fingerprint that has one
func (s *Store) OriginalTexts(ctx context.Context, fingerprints []string) (map[string]string, error) {
	return s.texts(ctx, TableOriginalText, fingerprints)
}

// ASRTexts returns the recognized text of each fingerprint that has one
func (s *Store) ASRTexts(ctx context.Context, fingerprints []string) (map[string]string, error) {
	return s.texts(ctx, TableASRText, fingerprints)
}

func (s *Store) texts(ctx context.Context, table string, fingerprints []string) (map[string]string, error) {
	type row struct {
		Fingerprint string `db:"audio_md5_hash"`
		Text        string `db:"text"`
	}
	rows, err := selectIn[row](ctx, s,
		fmt.Sprintf("SELECT audio_md5_hash, text FROM %s WHERE audio_md5_hash IN (?)", table), fingerprints)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Fingerprint] = r.Text
	}
	return out, nil
}

// DatasetFingerprints returns every fingerprint that is a member of dataset
func (s *Store) DatasetFingerprints(ctx context.Context, dataset string) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		"SELECT DISTINCT audio_md5_hash FROM audio_to_dataset WHERE dataset_name = ? ORDER BY audio_md5_hash"), dataset)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset members: %w", err)
	}
	return out, nil
}

// getOne runs query and returns nil, nil when no row matches
func getOne[T any](ctx context.Context, s *Store, query string, args ...any) (*T, error) {
	var row T
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetAudioMetrics returns the audio metrics of a fingerprint, or nil
func (s *Store) GetAudioMetrics(ctx context.Context, fingerprint string) (*corpus.AudioMetrics, error) {
	row, err := getOne[audioMetricsRow](ctx, s, "SELECT audio_md5_hash, duration_seconds, sample_rate, channels, pcm_format, snr, dbfs FROM audio_metrics WHERE audio_md5_hash = ?", fingerprint)
	if err != nil || row == nil {
		return nil, err
	}
	m := audioMetricsFromRow(*row)
	return &m, nil
}

// GetMemberships returns every dataset placement of a fingerprint
func (s *Store) GetMemberships(ctx context.Context, fingerprint string) ([]corpus.Membership, error) {
	var rows []membershipRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT id, audio_md5_hash, dataset_name, path_to_file, speaker_id FROM audio_to_dataset WHERE audio_md5_hash = ? ORDER BY id"),
		fingerprint)
	if err != nil {
		return nil, err
	}
	out := make([]corpus.Membership, len(rows))
	for i, r := range rows {
		out[i] = membershipFromRow(r)
	}
	return out, nil
}

// GetOriginalText returns the reference transcript of a fingerprint, or nil
func (s *Store) GetOriginalText(ctx context.Context, fingerprint string) (*corpus.Transcript, error) {
	return s.getTranscript(ctx, TableOriginalText, fingerprint)
}

// GetASRText returns the recognized transcript of a fingerprint, or nil
func (s *Store) GetASRText(ctx context.Context, fingerprint string) (*corpus.Transcript, error) {
	return s.getTranscript(ctx, TableASRText, fingerprint)
}

func (s *Store) getTranscript(ctx context.Context, table, fingerprint string) (*corpus.Transcript, error) {
	row, err := getOne[transcriptRow](ctx, s,
		fmt.Sprintf("SELECT audio_md5_hash, text, cps FROM %s WHERE audio_md5_hash = ?", table), fingerprint)
	if err != nil || row == nil {
		return nil, err
	}
	t := transcriptFromRow(*row)
	return &t, nil
}

// GetTextComparison returns the WER/CER of a fingerprint, or nil
func (s *Store) GetTextComparison(ctx context.Context, fingerprint string) (*corpus.TextComparison, error) {
	row, err := getOne[comparisonRow](ctx, s,
		"SELECT audio_md5_hash, wer, cer FROM text_comparison_metrics WHERE audio_md5_hash = ?", fingerprint)
	if err != nil || row == nil {
		return nil, err
	}
	c := comparisonFromRow(*row)
	return &c, nil
}

// GetAlignment returns the alignment of a fingerprint, or nil
func (s *Store) GetAlignment(ctx context.Context, fingerprint string) (*corpus.Alignment, error) {
	row, err := getOne[alignmentRow](ctx, s,
		"SELECT audio_md5_hash, alignment_data FROM audio_to_alignment WHERE audio_md5_hash = ?", fingerprint)
	if err != nil || row == nil {
		return nil, err
	}
	a, err := alignmentFromRow(*row)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountRows returns the number of rows of every metrics table
func (s *Store) CountRows(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(AllTables))
	for _, table := range AllTables {
		var n int
		if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// DatasetStat aggregates the metrics of one dataset
type DatasetStat struct {
	Name          string          `db:"dataset_name"`
	Files         int             `db:"files"`
	Speakers      int             `db:"speakers"`
	TotalSeconds  float64         `db:"total_seconds"`
	AvgSNR        sql.NullFloat64 `db:"avg_snr"`
	WithOriginal  int             `db:"with_original"`
	WithASR       int             `db:"with_asr"`
	AvgWER        sql.NullFloat64 `db:"avg_wer"`
	AvgCER        sql.NullFloat64 `db:"avg_cer"`
	WithAlignment int             `db:"with_alignment"`
}

// DatasetStats returns one aggregate per dataset, ordered by name
func (s *Store) DatasetStats(ctx context.Context) ([]DatasetStat, error) {
	var out []DatasetStat
	err := s.db.SelectContext(ctx, &out, `
		SELECT m.dataset_name,
		       COUNT(*) AS files,
		       COUNT(DISTINCT m.speaker_id) AS speakers,
		       COALESCE(SUM(am.duration_seconds), 0) AS total_seconds,
		       AVG(am.snr) AS avg_snr,
		       COUNT(ot.audio_md5_hash) AS with_original,
		       COUNT(asr.audio_md5_hash) AS with_asr,
		       AVG(tc.wer) AS avg_wer,
		       AVG(tc.cer) AS avg_cer,
		       COUNT(al.audio_md5_hash) AS with_alignment
		FROM audio_to_dataset m
		JOIN audio_metrics am ON am.audio_md5_hash = m.audio_md5_hash
		LEFT JOIN audio_to_original_text ot ON ot.audio_md5_hash = m.audio_md5_hash
		LEFT JOIN audio_to_asr_text asr ON asr.audio_md5_hash = m.audio_md5_hash
		LEFT JOIN text_comparison_metrics tc ON tc.audio_md5_hash = m.audio_md5_hash
		LEFT JOIN audio_to_alignment al ON al.audio_md5_hash = m.audio_md5_hash
		GROUP BY m.dataset_name
		ORDER BY m.dataset_name`)
	if err != nil {
		return nil, fmt.Errorf("dataset stats: %w", err)
	}
	return out, nil
}
