package filter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/store"
	"github.com/franz/speech-corpus/internal/util"
)

func parse(t *testing.T, doc string) Profiles {
	t.Helper()
	ps, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	return ps
}

func TestParse(t *testing.T) {
	ps := parse(t, `
default:
  sample_rate: 22050
  duration: {min: 2, max: 15}
  SNR: {min: 0.5}
  use_unknown_speakers: false
  only_with_Original_texts: true
  samples_per_speaker: {max: 100}
  minutes_per_speaker: {min: 1, max: 30.5}
empty:
`)
	assert.Equal(t, []string{"default", "empty"}, ps.Names())

	p := ps["default"]
	require.NotNil(t, p.SampleRate)
	assert.Equal(t, 22050, *p.SampleRate)
	assert.Nil(t, p.Channels)
	assert.Equal(t, 2.0, *p.Duration.Min)
	assert.Equal(t, 15.0, *p.Duration.Max)
	assert.Nil(t, p.SNR.Max)
	assert.False(t, *p.UseUnknownSpeakers)
	assert.Equal(t, 100, *p.SamplesPerSpeaker.Max)
	assert.Equal(t, 30.5, *p.MinutesPerSpeaker.Max)
	assert.True(t, p.HasQuota())

	assert.Empty(t, ps["empty"].Predicates())
	assert.False(t, ps["empty"].HasQuota())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "default:\n  loudness: {min: 1}\n"},
		{"misspelled case", "default:\n  snr: {min: 1}\n"},
		{"malformed value", "default:\n  sample_rate: fast\n"},
		{"fractional count", "default:\n  samples_per_speaker: {max: 2.5}\n"},
		{"fractional count min", "default:\n  samples_per_speaker: {min: 1.0}\n"},
		{"quoted count", "default:\n  samples_per_speaker: {max: \"3\"}\n"},
		{"unknown quota key", "default:\n  samples_per_speaker: {maximum: 3}\n"},
		{"count list", "default:\n  samples_per_speaker: [1, 2]\n"},
		{"min above max", "default:\n  duration: {min: 10, max: 2}\n"},
		{"count min above max", "default:\n  samples_per_speaker: {min: 5, max: 2}\n"},
		{"negative quota", "default:\n  minutes_per_speaker: {max: -1}\n"},
		{"empty document", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, util.ErrInvalidConfig))
		})
	}
}

func TestResolve(t *testing.T) {
	ps := parse(t, "default:\n  channels: 1\nstrict:\n  channels: 2\n")

	p, name, err := ps.Resolve("strict")
	require.NoError(t, err)
	assert.Equal(t, "strict", name)
	assert.Equal(t, 2, *p.Channels)

	p, name, err = ps.Resolve("missing")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, name)
	assert.Equal(t, 1, *p.Channels)

	_, name, err = ps.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, name)

	noDefault := parse(t, "strict:\n  channels: 2\n")
	_, _, err = noDefault.Resolve("missing")
	assert.True(t, errors.Is(err, util.ErrInvalidConfig))
}

func TestPredicates(t *testing.T) {
	p := parse(t, `
default:
  channels: 1
  duration: {min: 2, max: 15}
  WER: {max: 0.2}
  use_unknown_speakers: false
  only_with_ASR_texts: true
  only_with_Original_texts: false
`)["default"]

	var clauses []string
	var args []any
	for _, pred := range p.Predicates() {
		clauses = append(clauses, pred.Clause)
		args = append(args, pred.Args...)
	}
	assert.Equal(t, []string{
		"am.channels = ?",
		"am.duration_seconds >= ?",
		"am.duration_seconds <= ?",
		"tc.wer <= ?",
		"m.speaker_id <> ?",
		"asr.text IS NOT NULL",
	}, clauses)
	assert.Equal(t, []any{1, 2.0, 15.0, 0.2, corpus.UnknownSpeaker}, args)
}

func samples(speaker int, durations ...float64) []store.SpeakerSample {
	out := make([]store.SpeakerSample, len(durations))
	for i, d := range durations {
		out[i] = store.SpeakerSample{
			MembershipID:    int64(speaker*100 + i),
			Fingerprint:     fmt.Sprintf("s%d-%d", speaker, i),
			SpeakerID:       speaker,
			DurationSeconds: d,
		}
	}
	return out
}

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestSamplesPerSpeaker(t *testing.T) {
	all := append(samples(1, 1, 1, 1, 1, 1), samples(2, 1)...)

	allow := SamplesPerSpeaker(all, CountQuota{Max: intp(2)})
	assert.Equal(t, map[int64]bool{100: true, 101: true, 200: true}, allow)

	allow = SamplesPerSpeaker(all, CountQuota{Min: intp(2), Max: intp(3)})
	assert.Equal(t, map[int64]bool{100: true, 101: true, 102: true}, allow)

	// min applies without max
	allow = SamplesPerSpeaker(all, CountQuota{Min: intp(2)})
	assert.Len(t, allow, 5)
	assert.False(t, allow[200])
}

func TestMinutesPerSpeaker(t *testing.T) {
	all := append(samples(1, 30, 30, 30, 30), samples(2, 20)...)

	// 30 + 30 reaches but does not exceed 60s, the third sample crosses it
	allow := MinutesPerSpeaker(all, Range{Max: floatp(1)})
	assert.Equal(t, map[int64]bool{100: true, 101: true, 102: true, 200: true}, allow)

	allow = MinutesPerSpeaker(all, Range{Min: floatp(0.5), Max: floatp(10)})
	assert.Len(t, allow, 4)
	assert.False(t, allow[200])

	allow = MinutesPerSpeaker(all, Range{Min: floatp(0.25)})
	assert.Len(t, allow, 5)
}

// seed stores one recording per duration, all in dataset "ds"
type seedRow struct {
	speaker  int
	duration float64
	original string
	asr      string
}

func seed(t *testing.T, rows []seedRow) (*store.Store, []string) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	audio := &store.Changeset[corpus.AudioMetrics]{Table: store.AudioMetricsTable}
	members := &store.Changeset[corpus.Membership]{Table: store.MembershipTable}
	originals := &store.Changeset[corpus.Transcript]{Table: store.OriginalTextTable}
	asr := &store.Changeset[corpus.Transcript]{Table: store.ASRTextTable}
	var fps []string
	for i, r := range rows {
		fp := fmt.Sprintf("%032x", i+1)
		fps = append(fps, fp)
		audio.Add = append(audio.Add, corpus.AudioMetrics{
			Fingerprint: fp, DurationSeconds: r.duration, SampleRate: 22050, Channels: 1, PCMFormat: "PCM_16",
		})
		members.Add = append(members.Add, corpus.Membership{
			Fingerprint: fp, Dataset: "ds", Path: fmt.Sprintf("wavs/%02d.wav", i), SpeakerID: r.speaker,
		})
		if r.original != "" {
			originals.Add = append(originals.Add, corpus.Transcript{Fingerprint: fp, Text: r.original})
		}
		if r.asr != "" {
			asr.Add = append(asr.Add, corpus.Transcript{Fingerprint: fp, Text: r.asr})
		}
	}
	_, err = s.Commit(ctx, audio, members, originals, asr)
	require.NoError(t, err)
	return s, fps
}

func TestSelect_DurationAndOriginalText(t *testing.T) {
	rows := []seedRow{
		{0, 1, "a", ""}, {0, 1.5, "b", ""}, {0, 0.5, "c", ""},
		{0, 16, "d", ""}, {0, 20, "e", ""},
		{0, 2, "f", ""}, {0, 5, "g", ""}, {0, 10, "", "asr only"}, {0, 15, "i", ""}, {0, 3, "j", ""},
	}
	s, fps := seed(t, rows)
	p := parse(t, "default:\n  duration: {min: 2, max: 15}\n  only_with_Original_texts: true\n")["default"]

	sel, err := Select(context.Background(), s, "ds", p)
	require.NoError(t, err)
	require.Len(t, sel.Candidates, 4)

	var got []string
	for _, c := range sel.Candidates {
		got = append(got, c.Fingerprint)
	}
	assert.Equal(t, []string{fps[5], fps[6], fps[8], fps[9]}, got)
}

func TestSelect_SamplesPerSpeaker(t *testing.T) {
	rows := []seedRow{
		{7, 1, "a", ""}, {7, 1, "b", ""}, {7, 1, "c", ""}, {7, 1, "d", ""}, {7, 1, "e", ""},
		{8, 1, "f", ""},
	}
	s, fps := seed(t, rows)
	p := parse(t, "default:\n  samples_per_speaker: {max: 2}\n")["default"]

	sel, err := Select(context.Background(), s, "ds", p)
	require.NoError(t, err)
	assert.Equal(t, 6, sel.Matched)

	var got []string
	for _, c := range sel.Candidates {
		got = append(got, c.Fingerprint)
	}
	assert.Equal(t, []string{fps[0], fps[1], fps[5]}, got)
}

func TestSelect_QuotasIntersect(t *testing.T) {
	rows := []seedRow{
		{1, 40, "a", ""}, {1, 40, "b", ""}, {1, 40, "c", ""},
		{2, 10, "d", ""},
		{corpus.UnknownSpeaker, 40, "e", ""},
	}
	s, fps := seed(t, rows)
	p := parse(t, `
default:
  use_unknown_speakers: false
  samples_per_speaker: {max: 1}
  minutes_per_speaker: {min: 0.5}
`)["default"]

	sel, err := Select(context.Background(), s, "ds", p)
	require.NoError(t, err)
	require.Len(t, sel.Candidates, 1)
	assert.Equal(t, fps[0], sel.Candidates[0].Fingerprint)
}

func TestSelect_UnknownDataset(t *testing.T) {
	s, _ := seed(t, []seedRow{{0, 1, "a", ""}})
	sel, err := Select(context.Background(), s, "other", &Profile{})
	require.NoError(t, err)
	assert.Empty(t, sel.Candidates)
}

func TestSelection_TableTextFallback(t *testing.T) {
	sel := &Selection{Candidates: []store.Candidate{
		{Path: "a.wav", SpeakerID: 1, Fingerprint: "fa", OriginalText: sql.NullString{String: "orig", Valid: true}, ASRText: sql.NullString{String: "asr", Valid: true}},
		{Path: "b.wav", SpeakerID: 1, Fingerprint: "fb", ASRText: sql.NullString{String: "asr b", Valid: true}},
		{Path: "c.wav", SpeakerID: -1, Fingerprint: "fc"},
	}}

	withText := sel.Table(true)
	assert.True(t, withText.HasText)
	require.Len(t, withText.Rows, 2)
	assert.Equal(t, "orig", withText.Rows[0].Text)
	assert.Equal(t, "asr b", withText.Rows[1].Text)

	plain := sel.Table(false)
	assert.False(t, plain.HasText)
	require.Len(t, plain.Rows, 3)
	assert.Equal(t, "fc", plain.Rows[2].Hash)
	assert.Empty(t, plain.Rows[0].Text)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func paths(sel *Selection) []string {
	var out []string
	for _, c := range sel.Candidates {
		out = append(out, c.Path)
	}
	return out
}

func TestSelect_QuotasCountPathsNotContent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	h1, h2 := fmt.Sprintf("%032x", 1), fmt.Sprintf("%032x", 2)
	_, err := s.Commit(ctx,
		&store.Changeset[corpus.AudioMetrics]{Table: store.AudioMetricsTable, Add: []corpus.AudioMetrics{
			{Fingerprint: h1, DurationSeconds: 40, SampleRate: 22050, Channels: 1},
			{Fingerprint: h2, DurationSeconds: 40, SampleRate: 22050, Channels: 1},
		}},
		&store.Changeset[corpus.Membership]{Table: store.MembershipTable, Add: []corpus.Membership{
			{Fingerprint: h1, Dataset: "ds", Path: "a.wav", SpeakerID: 1},
			{Fingerprint: h2, Dataset: "ds", Path: "b.wav", SpeakerID: 1},
			{Fingerprint: h1, Dataset: "ds", Path: "c.wav", SpeakerID: 1},
		}},
	)
	require.NoError(t, err)

	p := parse(t, "default:\n  samples_per_speaker: {max: 2}\n")["default"]
	sel, err := Select(ctx, s, "ds", p)
	require.NoError(t, err)
	assert.Equal(t, 3, sel.Matched)
	assert.Equal(t, []string{"a.wav", "b.wav"}, paths(sel))

	// 40s + 40s crosses one minute at b.wav, c.wav shares a.wav's content
	p = parse(t, "default:\n  minutes_per_speaker: {max: 1}\n")["default"]
	sel, err = Select(ctx, s, "ds", p)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.wav", "b.wav"}, paths(sel))
}

func TestSelect_ColumnFilters(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	fp := func(i int) string { return fmt.Sprintf("%032x", i) }
	_, err := s.Commit(ctx,
		&store.Changeset[corpus.AudioMetrics]{Table: store.AudioMetricsTable, Add: []corpus.AudioMetrics{
			{Fingerprint: fp(1), DurationSeconds: 3, SampleRate: 22050, Channels: 1, PCMFormat: "PCM_16", SNR: 10, DBFS: -20},
			{Fingerprint: fp(2), DurationSeconds: 3, SampleRate: 22050, Channels: 2, PCMFormat: "PCM_16", SNR: 30, DBFS: -10},
			{Fingerprint: fp(3), DurationSeconds: 3, SampleRate: 16000, Channels: 1, PCMFormat: "PCM_16", SNR: 5, DBFS: -30},
			{Fingerprint: fp(4), DurationSeconds: 3, SampleRate: 22050, Channels: 1, PCMFormat: "PCM_16", SNR: 20, DBFS: -25},
		}},
		&store.Changeset[corpus.Membership]{Table: store.MembershipTable, Add: []corpus.Membership{
			{Fingerprint: fp(1), Dataset: "ds", Path: "p1.wav", SpeakerID: 0},
			{Fingerprint: fp(2), Dataset: "ds", Path: "p2.wav", SpeakerID: 0},
			{Fingerprint: fp(3), Dataset: "ds", Path: "p3.wav", SpeakerID: 1},
			{Fingerprint: fp(4), Dataset: "ds", Path: "p4.wav", SpeakerID: 1},
		}},
		// p3 and p4 have no comparison row
		&store.Changeset[corpus.TextComparison]{Table: store.TextComparisonTable, Add: []corpus.TextComparison{
			{Fingerprint: fp(1), WER: 0.1, CER: 0.05},
			{Fingerprint: fp(2), WER: 0.5, CER: 0.3},
		}},
	)
	require.NoError(t, err)

	tests := []struct {
		name    string
		profile string
		want    []string
	}{
		{"empty profile keeps rows without comparison", "{}", []string{"p1.wav", "p2.wav", "p3.wav", "p4.wav"}},
		{"sample rate", "{sample_rate: 22050}", []string{"p1.wav", "p2.wav", "p4.wav"}},
		{"channels", "{channels: 1}", []string{"p1.wav", "p3.wav", "p4.wav"}},
		{"SNR min inclusive", "{SNR: {min: 10}}", []string{"p1.wav", "p2.wav", "p4.wav"}},
		{"SNR max inclusive", "{SNR: {max: 10}}", []string{"p1.wav", "p3.wav"}},
		{"SNR both", "{SNR: {min: 10, max: 20}}", []string{"p1.wav", "p4.wav"}},
		{"dBFS both", "{dBFS: {min: -25, max: -10}}", []string{"p1.wav", "p2.wav", "p4.wav"}},
		{"dBFS max", "{dBFS: {max: -25}}", []string{"p3.wav", "p4.wav"}},
		{"WER drops rows without comparison", "{WER: {max: 0.2}}", []string{"p1.wav"}},
		{"WER min zero", "{WER: {min: 0}}", []string{"p1.wav", "p2.wav"}},
		{"CER min", "{CER: {min: 0.1}}", []string{"p2.wav"}},
		{"combined", "{sample_rate: 22050, channels: 1, SNR: {min: 15}}", []string{"p4.wav"}},
		{"nothing matches", "{sample_rate: 8000}", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parse(t, "default: "+tt.profile+"\n")["default"]
			sel, err := Select(ctx, s, "ds", p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(sel))
			assert.Equal(t, len(tt.want), sel.Matched)
		})
	}
}

func TestParse_CountQuotaNull(t *testing.T) {
	p := parse(t, "default:\n  samples_per_speaker: {min: 2, max: ~}\n")["default"]
	require.NotNil(t, p.SamplesPerSpeaker)
	assert.Equal(t, 2, *p.SamplesPerSpeaker.Min)
	assert.Nil(t, p.SamplesPerSpeaker.Max)
}
