package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/franz/speech-corpus/internal/corpus"
)

// Row shapes of the metrics tables. The mapping to and from corpus records
// is explicit so the two can evolve separately.

type audioMetricsRow struct {
	Fingerprint     string  `db:"audio_md5_hash"`
	DurationSeconds float64 `db:"duration_seconds"`
	SampleRate      int     `db:"sample_rate"`
	Channels        int     `db:"channels"`
	PCMFormat       string  `db:"pcm_format"`
	SNR             float64 `db:"snr"`
	DBFS            float64 `db:"dbfs"`
}

type membershipRow struct {
	ID          int64  `db:"id"`
	Fingerprint string `db:"audio_md5_hash"`
	Dataset     string `db:"dataset_name"`
	Path        string `db:"path_to_file"`
	SpeakerID   int    `db:"speaker_id"`
}

type transcriptRow struct {
	Fingerprint string          `db:"audio_md5_hash"`
	Text        string          `db:"text"`
	CPS         sql.NullFloat64 `db:"cps"`
}

type comparisonRow struct {
	Fingerprint string  `db:"audio_md5_hash"`
	WER         float64 `db:"wer"`
	CER         float64 `db:"cer"`
}

type alignmentRow struct {
	Fingerprint string `db:"audio_md5_hash"`
	Data        string `db:"alignment_data"`
}

func audioMetricsToRow(m corpus.AudioMetrics) (any, error) {
	return audioMetricsRow{
		Fingerprint:     m.Fingerprint,
		DurationSeconds: m.DurationSeconds,
		SampleRate:      m.SampleRate,
		Channels:        m.Channels,
		PCMFormat:       m.PCMFormat,
		SNR:             m.SNR,
		DBFS:            m.DBFS,
	}, nil
}

func audioMetricsFromRow(r audioMetricsRow) corpus.AudioMetrics {
	return corpus.AudioMetrics{
		Fingerprint:     r.Fingerprint,
		DurationSeconds: r.DurationSeconds,
		SampleRate:      r.SampleRate,
		Channels:        r.Channels,
		PCMFormat:       r.PCMFormat,
		SNR:             r.SNR,
		DBFS:            r.DBFS,
	}
}

func membershipToRow(m corpus.Membership) (any, error) {
	return membershipRow{
		ID:          m.ID,
		Fingerprint: m.Fingerprint,
		Dataset:     m.Dataset,
		Path:        m.Path,
		SpeakerID:   m.SpeakerID,
	}, nil
}

func membershipFromRow(r membershipRow) corpus.Membership {
	return corpus.Membership{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		Dataset:     r.Dataset,
		Path:        r.Path,
		SpeakerID:   r.SpeakerID,
	}
}

func transcriptToRow(t corpus.Transcript) (any, error) {
	row := transcriptRow{Fingerprint: t.Fingerprint, Text: t.Text}
	if t.CPS != nil {
		row.CPS = sql.NullFloat64{Float64: *t.CPS, Valid: true}
	}
	return row, nil
}

func transcriptFromRow(r transcriptRow) corpus.Transcript {
	t := corpus.Transcript{Fingerprint: r.Fingerprint, Text: r.Text}
	if r.CPS.Valid {
		cps := r.CPS.Float64
		t.CPS = &cps
	}
	return t
}

func comparisonToRow(c corpus.TextComparison) (any, error) {
	return comparisonRow{Fingerprint: c.Fingerprint, WER: c.WER, CER: c.CER}, nil
}

func comparisonFromRow(r comparisonRow) corpus.TextComparison {
	return corpus.TextComparison{Fingerprint: r.Fingerprint, WER: r.WER, CER: r.CER}
}

func alignmentToRow(a corpus.Alignment) (any, error) {
	intervals := a.Intervals
	if intervals == nil {
		intervals = []corpus.Interval{}
	}
	data, err := json.Marshal(intervals)
	if err != nil {
		return nil, fmt.Errorf("encode alignment %s: %w", a.Fingerprint, err)
	}
	return alignmentRow{Fingerprint: a.Fingerprint, Data: string(data)}, nil
}

func alignmentFromRow(r alignmentRow) (corpus.Alignment, error) {
	a := corpus.Alignment{Fingerprint: r.Fingerprint}
	if err := json.Unmarshal([]byte(r.Data), &a.Intervals); err != nil {
		return a, fmt.Errorf("decode alignment %s: %w", r.Fingerprint, err)
	}
	return a, nil
}
