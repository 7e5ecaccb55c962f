// Package metadata reads and writes the pipe-delimited metadata table that
// lists the files of a dataset.
package metadata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/util"
)

// Column names
const (
	ColPath    = "path_to_wav"
	ColSpeaker = "speaker_id"
	ColHash    = "hash"
	ColText    = "text"
)

// DefaultFile is the metadata table file name in a dataset root
const DefaultFile = "metadata.csv"

// Row is one line of the metadata table
type Row struct {
	Path      string
	SpeakerID int
	Hash      string
	Text      string
	// Extra holds values of unknown columns, in Table.Extra order
	Extra []string
}

// Table is a parsed metadata table
type Table struct {
	HasText bool
	Extra   []string
	Rows    []Row
}

// Read parses a table. The path column is required. A missing or empty
// speaker id is corpus.UnknownSpeaker. Exact duplicate lines are dropped.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '|'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty metadata table", util.ErrInvalidConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata header: %w", err)
	}

	index := map[string]int{}
	t := &Table{}
	for i, name := range header {
		name = strings.TrimSpace(name)
		index[name] = i
		switch name {
		case ColPath, ColSpeaker, ColHash:
		case ColText:
			t.HasText = true
		default:
			t.Extra = append(t.Extra, name)
		}
	}
	pathIdx, ok := index[ColPath]
	if !ok {
		return nil, fmt.Errorf("%w: metadata table has no %q column", util.ErrInvalidConfig, ColPath)
	}

	field := func(rec []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	seen := map[string]bool{}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read metadata line %d: %w", line, err)
		}
		if pathIdx >= len(rec) || strings.TrimSpace(rec[pathIdx]) == "" {
			continue
		}
		key := strings.Join(rec, "|")
		if seen[key] {
			continue
		}
		seen[key] = true

		row := Row{
			Path:      storage.Clean(field(rec, ColPath)),
			SpeakerID: corpus.UnknownSpeaker,
			Hash:      strings.ToLower(field(rec, ColHash)),
			Text:      field(rec, ColText),
		}
		if s := field(rec, ColSpeaker); s != "" {
			id, err := parseSpeaker(s)
			if err != nil {
				return nil, fmt.Errorf("metadata line %d: bad speaker id %q: %w", line, s, err)
			}
			row.SpeakerID = id
		}
		for _, name := range t.Extra {
			row.Extra = append(row.Extra, field(rec, name))
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// speaker ids written by dataframe tooling may carry a ".0" suffix
func parseSpeaker(s string) (int, error) {
	if id, err := strconv.Atoi(s); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer")
	}
	return int(f), nil
}

// Write serializes t with a header. The hash column is always written.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '|'

	header := []string{ColPath, ColSpeaker, ColHash}
	if t.HasText {
		header = append(header, ColText)
	}
	header = append(header, t.Extra...)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range t.Rows {
		rec := []string{row.Path, strconv.Itoa(row.SpeakerID), row.Hash}
		if t.HasText {
			rec = append(rec, row.Text)
		}
		for i := range t.Extra {
			v := ""
			if i < len(row.Extra) {
				v = row.Extra[i]
			}
			rec = append(rec, v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Hashed returns the rows that carry a fingerprint
func (t *Table) Hashed() []Row {
	out := make([]Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		if row.Hash != "" {
			out = append(out, row)
		}
	}
	return out
}

// UniqueByHash returns the hashed rows with duplicate fingerprints removed.
// The first occurrence of a fingerprint wins.
func (t *Table) UniqueByHash() []Row {
	seen := map[string]bool{}
	var out []Row
	for _, row := range t.Rows {
		if row.Hash == "" || seen[row.Hash] {
			continue
		}
		seen[row.Hash] = true
		out = append(out, row)
	}
	return out
}

// Load reads name from a dataset storage
func Load(ctx context.Context, st storage.Storage, name string) (*Table, error) {
	r, err := st.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open metadata %s: %w", st.Resolve(name), err)
	}
	defer r.Close()
	t, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", st.Resolve(name), err)
	}
	return t, nil
}

// Save writes t to name in a dataset storage
func Save(ctx context.Context, st storage.Storage, name string, t *Table) error {
	w, err := st.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("create metadata %s: %w", st.Resolve(name), err)
	}
	if err := t.Write(w); err != nil {
		w.Close()
		return fmt.Errorf("write metadata %s: %w", st.Resolve(name), err)
	}
	return w.Close()
}
