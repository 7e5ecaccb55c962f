package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/fingerprint"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/util"
	"github.com/franz/speech-corpus/internal/wavio"
)

func wav(t *testing.T, seed, channels int) []byte {
	t.Helper()
	data := make([]int, 1600*channels)
	for i := range data {
		data[i] = ((i*seed)%100 - 50) * 40
	}
	b, err := wavio.Buffer(func(w io.WriteSeeker) error {
		return wavio.EncodeInt(w, data, 16000, 16, channels)
	})
	require.NoError(t, err)
	return b
}

// fakeConverter writes a fixed mono WAV for every source except those
// whose name contains "broken"
type fakeConverter struct {
	mu     sync.Mutex
	output []byte
	calls  []string
}

func (c *fakeConverter) Convert(_ context.Context, src, dst string) error {
	c.mu.Lock()
	c.calls = append(c.calls, filepath.ToSlash(src))
	c.mu.Unlock()
	if strings.Contains(src, "broken") {
		return fmt.Errorf("%w: ffmpeg exited with status 1", util.ErrExternalTool)
	}
	return os.WriteFile(dst, c.output, 0o644)
}

var mp3Header = []byte("ID3\x03\x00\x00\x00\x00\x00\x00\x00 not really an mp3")

func newSource(t *testing.T, files map[string][]byte) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, data := range files {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join("/src", name), data, 0o644))
	}
	return fsys
}

func TestRun_PerDirectoryLayout(t *testing.T) {
	ctx := context.Background()
	mono := wav(t, 3, 1)
	converted := wav(t, 9, 1)
	src := newSource(t, map[string][]byte{
		"alice/one.wav":     mono,
		"alice/sub/two.mp3": mp3Header,
		"bob/three.wav":     wav(t, 5, 2),
		"root.flac":         []byte("fLaC0000000000"),
		"notes.txt":         []byte("ignored"),
	})
	dest := storage.NewLocalFs(afero.NewMemMapFs(), "/out/alice_and_bob")
	conv := &fakeConverter{output: converted}

	res, err := New(&Config{Source: "/src", SourceFs: src, Dest: dest, Jobs: 2, Converter: conv}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Discovered)
	assert.Equal(t, 1, res.Copied)
	assert.Equal(t, 3, res.Converted)
	assert.Equal(t, 0, res.Failed)
	assert.Len(t, conv.calls, 3)

	monoHash, err := fingerprint.Sum(strings.NewReader(string(mono)))
	require.NoError(t, err)
	convHash, err := fingerprint.Sum(strings.NewReader(string(converted)))
	require.NoError(t, err)

	want := []metadata.Row{
		{Path: "speaker_0/wavs/one.wav", SpeakerID: 0, Hash: monoHash},
		{Path: "speaker_0/wavs/sub/two.wav", SpeakerID: 0, Hash: convHash},
		{Path: "speaker_1/wavs/three.wav", SpeakerID: 1, Hash: convHash},
		{Path: "wavs/root.wav", SpeakerID: corpus.UnknownSpeaker, Hash: convHash},
	}
	assert.Equal(t, want, res.Table.Rows)

	saved, err := metadata.Load(ctx, dest, metadata.DefaultFile)
	require.NoError(t, err)
	assert.Equal(t, want, saved.Rows)

	copied, err := storage.ReadFile(ctx, dest, "speaker_0/wavs/one.wav")
	require.NoError(t, err)
	assert.Equal(t, mono, copied)
}

func TestRun_CollisionKeepsFirst(t *testing.T) {
	src := newSource(t, map[string][]byte{
		"alice/x.mp3": mp3Header,
		"alice/x.wav": wav(t, 3, 1),
	})
	dest := storage.NewLocalFs(afero.NewMemMapFs(), "/out")
	conv := &fakeConverter{output: wav(t, 9, 1)}

	res, err := New(&Config{Source: "/src", SourceFs: src, Dest: dest, Converter: conv}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Collisions)
	require.Len(t, res.Table.Rows, 1)
	assert.Equal(t, "speaker_0/wavs/x.wav", res.Table.Rows[0].Path)
	assert.Equal(t, 1, res.Converted)
	assert.Equal(t, 0, res.Copied)
}

func TestRun_KeepsExistingWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, map[string][]byte{"alice/one.wav": wav(t, 3, 1)})
	dest := storage.NewLocalFs(afero.NewMemMapFs(), "/out")
	existing := wav(t, 11, 1)
	require.NoError(t, storage.WriteFile(ctx, dest, "speaker_0/wavs/one.wav", existing))

	res, err := New(&Config{Source: "/src", SourceFs: src, Dest: dest, Converter: &fakeConverter{}}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Copied)

	sum, err := fingerprint.Sum(strings.NewReader(string(existing)))
	require.NoError(t, err)
	assert.Equal(t, sum, res.Table.Rows[0].Hash)

	res, err = New(&Config{Source: "/src", SourceFs: src, Dest: dest, Overwrite: true, Converter: &fakeConverter{}}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Copied)
	assert.NotEqual(t, sum, res.Table.Rows[0].Hash)
}

func TestRun_ConversionFailureIsNotFatal(t *testing.T) {
	src := newSource(t, map[string][]byte{
		"alice/broken.mp3": mp3Header,
		"alice/good.mp3":   mp3Header,
	})
	dest := storage.NewLocalFs(afero.NewMemMapFs(), "/out")

	res, err := New(&Config{Source: "/src", SourceFs: src, Dest: dest, Converter: &fakeConverter{output: wav(t, 2, 1)}}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Table.Rows, 1)
	assert.Equal(t, "speaker_0/wavs/good.wav", res.Table.Rows[0].Path)
}

func TestDestination_Modes(t *testing.T) {
	speakers := map[string]int{"alice": 0, "bob": 1}
	tests := []struct {
		mode    SpeakerMode
		rel     string
		dest    string
		speaker int
	}{
		{PerDirectory, "bob/ch1/a.flac", "speaker_1/wavs/ch1/a.wav", 1},
		{PerDirectory, "a.wav", "wavs/a.wav", corpus.UnknownSpeaker},
		{SingleSpeaker, "bob/ch1/a.flac", "speaker_0/wavs/bob/ch1/a.wav", 0},
		{SingleSpeaker, "a.wav", "speaker_0/wavs/a.wav", 0},
		{UnknownSpeakers, "bob/a.ogg", "wavs/bob/a.wav", corpus.UnknownSpeaker},
	}
	for _, tt := range tests {
		in := &Ingester{mode: tt.mode}
		it := in.destination(tt.rel, speakers)
		assert.Equal(t, tt.dest, it.dest, tt.rel)
		assert.Equal(t, tt.speaker, it.speaker, tt.rel)
	}
}

func TestSniff(t *testing.T) {
	src := newSource(t, map[string][]byte{
		"a.mp3":  mp3Header,
		"b.flac": []byte("fLaC0000000000"),
		"c.wav":  wav(t, 1, 1),
	})
	in := New(&Config{Source: "/src", SourceFs: src})
	assert.Equal(t, "MP3", in.sniff("/src/a.mp3"))
	assert.Equal(t, "FLAC", in.sniff("/src/b.flac"))
	assert.Equal(t, "WAV", in.sniff("/src/c.wav"))
}
