package fingerprint

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/storage"
)

func TestSum(t *testing.T) {
	sum, err := Sum(strings.NewReader("a"))
	require.NoError(t, err)
	assert.Equal(t, "0cc175b9c0f1b6a831c399e269772661", sum)

	empty, err := Sum(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", empty)
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	st := storage.NewLocalFs(afero.NewMemMapFs(), "/ds")
	require.NoError(t, storage.WriteFile(ctx, st, "wavs/a.wav", []byte("a")))
	require.NoError(t, storage.WriteFile(ctx, st, "wavs/copy.wav", []byte("a")))

	table := &metadata.Table{Rows: []metadata.Row{
		{Path: "wavs/a.wav", SpeakerID: 0},
		{Path: "wavs/copy.wav", SpeakerID: 0},
		{Path: "wavs/gone.wav", SpeakerID: 1},
		{Path: "wavs/known.wav", SpeakerID: 1, Hash: "ffff"},
	}}

	res, err := Backfill(ctx, st, table, BackfillOptions{Jobs: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Hashed)
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, 1, res.Present)
	assert.Equal(t, "0cc175b9c0f1b6a831c399e269772661", table.Rows[0].Hash)
	assert.Equal(t, table.Rows[0].Hash, table.Rows[1].Hash)
	assert.Empty(t, table.Rows[2].Hash)
	assert.Equal(t, "ffff", table.Rows[3].Hash)

	assert.Len(t, table.UniqueByHash(), 2)
}
