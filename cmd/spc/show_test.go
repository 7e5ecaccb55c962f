package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/store"
)

const showFP = "0123456789abcdef0123456789abcdef"

func TestShowFingerprint(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer db.Close()

	cps := 12.5
	_, err = db.Commit(ctx,
		&store.Changeset[corpus.AudioMetrics]{Table: store.AudioMetricsTable, Add: []corpus.AudioMetrics{
			{Fingerprint: showFP, DurationSeconds: 1.4, SampleRate: 22050, Channels: 1, PCMFormat: "PCM_16", SNR: 31.25, DBFS: -20.5},
		}},
		&store.Changeset[corpus.Membership]{Table: store.MembershipTable, Add: []corpus.Membership{
			{Fingerprint: showFP, Dataset: "ljs", Path: "wavs/a.wav", SpeakerID: 3},
		}},
		&store.Changeset[corpus.Transcript]{Table: store.OriginalTextTable, Add: []corpus.Transcript{
			{Fingerprint: showFP, Text: "hello world", CPS: &cps},
		}},
		&store.Changeset[corpus.Alignment]{Table: store.AlignmentTable, Add: []corpus.Alignment{
			{Fingerprint: showFP, Intervals: []corpus.Interval{
				{Text: "hello", Start: 0, End: 0.5, Duration: 0.5},
				{Text: "", Start: 0.5, End: 0.9, Duration: 0.4},
				{Text: "world", Start: 0.9, End: 1.4, Duration: 0.5},
			}},
		}},
	)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, showFingerprint(ctx, &out, db, showFP, true))
	text := out.String()

	assert.Contains(t, text, "Duration:    1.400 s")
	assert.Contains(t, text, "22050 Hz, 1 ch, PCM_16")
	assert.Contains(t, text, "ljs: wavs/a.wav (speaker 3)")
	assert.Contains(t, text, `Original: "hello world" (cps 12.5)`)
	assert.NotContains(t, text, "ASR:")
	assert.NotContains(t, text, "WER:")
	assert.Contains(t, text, "Alignment (3 intervals)")
	assert.Contains(t, text, "hello. world.")
	assert.Contains(t, text, "<pause>")
}

func TestShowFingerprint_Unknown(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer db.Close()

	var out bytes.Buffer
	require.NoError(t, showFingerprint(context.Background(), &out, db, showFP, false))
	assert.Contains(t, out.String(), "Not in the metrics store.")
}

func TestFingerprintPattern(t *testing.T) {
	assert.True(t, fingerprintPattern.MatchString(showFP))
	assert.True(t, fingerprintPattern.MatchString("0123456789ABCDEF0123456789ABCDEF"))
	assert.False(t, fingerprintPattern.MatchString("wavs/a.wav"))
	assert.False(t, fingerprintPattern.MatchString(showFP[:31]))
}
