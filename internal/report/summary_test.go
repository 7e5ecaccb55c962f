package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/store"
)

func setupTestData(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	audio := &store.Changeset[corpus.AudioMetrics]{Table: store.AudioMetricsTable, Add: []corpus.AudioMetrics{
		{Fingerprint: "aa", DurationSeconds: 1800, SampleRate: 22050, Channels: 1, PCMFormat: "PCM_16", SNR: 20},
		{Fingerprint: "bb", DurationSeconds: 1800, SampleRate: 22050, Channels: 1, PCMFormat: "PCM_16", SNR: 30},
	}}
	members := &store.Changeset[corpus.Membership]{Table: store.MembershipTable, Add: []corpus.Membership{
		{Fingerprint: "aa", Dataset: "ljs", Path: "wavs/a.wav", SpeakerID: 0},
		{Fingerprint: "bb", Dataset: "ljs", Path: "wavs/b.wav", SpeakerID: 1},
		{Fingerprint: "bb", Dataset: "vctk", Path: "wavs/b.wav", SpeakerID: 3},
	}}
	originals := &store.Changeset[corpus.Transcript]{Table: store.OriginalTextTable, Add: []corpus.Transcript{
		{Fingerprint: "aa", Text: "hello"},
	}}
	_, err = db.Commit(context.Background(), audio, members, originals)
	require.NoError(t, err)
	return db
}

func TestGenerateSummaryReport(t *testing.T) {
	db := setupTestData(t)

	report, err := GenerateSummaryReport(context.Background(), db, "")
	require.NoError(t, err)

	counts := map[string]int{}
	for _, tc := range report.Tables {
		counts[tc.Name] = tc.Rows
	}
	assert.Equal(t, 2, counts[store.TableAudioMetrics])
	assert.Equal(t, 3, counts[store.TableMembership])
	assert.Equal(t, 1, counts[store.TableOriginalText])
	assert.Equal(t, 0, counts[store.TableAlignment])
	assert.Len(t, report.Tables, len(store.AllTables))

	require.Len(t, report.Datasets, 2)
	ljs := report.Datasets[0]
	assert.Equal(t, "ljs", ljs.Name)
	assert.Equal(t, 2, ljs.Files)
	assert.Equal(t, 2, ljs.Speakers)
	assert.InDelta(t, 3600, ljs.TotalSeconds, 1e-9)
	assert.True(t, ljs.AvgSNR.Valid)
	assert.InDelta(t, 25, ljs.AvgSNR.Float64, 1e-9)
	assert.Equal(t, 1, ljs.WithOriginal)
	assert.False(t, ljs.AvgWER.Valid)
	assert.Empty(t, report.TopDrops)
}

func TestGenerateSummaryReport_TalliesDrops(t *testing.T) {
	db := setupTestData(t)
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	require.NoError(t, err)
	logger.LogDrop("audio", "cc", "wavs/c.wav", "file not found")
	logger.LogDrop("audio", "dd", "wavs/d.wav", "file not found")
	logger.LogDrop("texts", "ee", "wavs/e.wav", "missing prerequisite")
	logger.LogHash(1, 0, 1)
	require.NoError(t, logger.Close())

	report, err := GenerateSummaryReport(context.Background(), db, logger.Path())
	require.NoError(t, err)
	require.Len(t, report.TopDrops, 2)
	assert.Equal(t, DropSummary{Stage: "audio", Reason: "file not found", Count: 2}, report.TopDrops[0])
	assert.Equal(t, DropSummary{Stage: "texts", Reason: "missing prerequisite", Count: 1}, report.TopDrops[1])
}

func TestGatherTopDrops_Limit(t *testing.T) {
	log := strings.Join([]string{
		`{"event":"drop","stage":"asr","reason":"a"}`,
		`not json`,
		`{"event":"drop","stage":"asr","reason":"b"}`,
		`{"event":"drop","stage":"asr","reason":"b"}`,
		`{"event":"commit"}`,
		`{"event":"drop","stage":"asr","reason":"c"}`,
	}, "\n")
	drops, err := gatherTopDrops(strings.NewReader(log), 2)
	require.NoError(t, err)
	require.Len(t, drops, 2)
	assert.Equal(t, "b", drops[0].Reason)
	assert.Equal(t, "a", drops[1].Reason)
}

func TestWriteMarkdownReport(t *testing.T) {
	db := setupTestData(t)
	report, err := GenerateSummaryReport(context.Background(), db, "")
	require.NoError(t, err)
	report.DatabasePath = "metrics.db"
	report.TopDrops = []DropSummary{{Stage: "audio", Reason: "file not found", Count: 4}}

	out := filepath.Join(t.TempDir(), "nested", "report.md")
	require.NoError(t, WriteMarkdownReport(report, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	md := string(data)
	assert.Contains(t, md, "# Speech Corpus - Metrics Report")
	assert.Contains(t, md, "(sqlite, schema v")
	assert.Contains(t, md, "| audio_metrics | 2 |")
	assert.Contains(t, md, "| ljs | 2 | 2 | 1.00h | 25.0 dB | 1 | 0 | - | - | 0 |")
	assert.Contains(t, md, "| 4 | audio | file not found |")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := strings.Repeat("x", 50)
	got := truncate(long, 20)
	assert.Len(t, got, 19)
	assert.Contains(t, got, "...")
}
