package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/franz/speech-corpus/internal/corpus"
)

// maxInParams bounds the number of values bound to one IN (...) clause
const maxInParams = 500

// Table describes how records of type R are persisted. Rows are identified
// by KeyColumn, optionally within ScopeColumn.
type Table[R any] struct {
	Name        string
	KeyColumn   string
	ScopeColumn string
	// Columns are the written columns, including key and scope
	Columns []string

	key   func(R) string
	toRow func(R) (any, error)
}

// Key returns the identity of r within its scope
func (t *Table[R]) Key(r R) string {
	return t.key(r)
}

func (t *Table[R]) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (:%s)",
		t.Name, strings.Join(t.Columns, ", "), strings.Join(t.Columns, ", :"))
}

func (t *Table[R]) updateSQL() string {
	var sets []string
	for _, c := range t.Columns {
		if c == t.KeyColumn || c == t.ScopeColumn {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = :%s", c, c))
	}
	where := fmt.Sprintf("%s = :%s", t.KeyColumn, t.KeyColumn)
	if t.ScopeColumn != "" {
		where += fmt.Sprintf(" AND %s = :%s", t.ScopeColumn, t.ScopeColumn)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", t.Name, strings.Join(sets, ", "), where)
}

// Existing returns the subset of keys already stored. scope is ignored for
// tables without a scope column.
func (t *Table[R]) Existing(ctx context.Context, s *Store, scope string, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (?)", t.KeyColumn, t.Name, t.KeyColumn)
	if t.ScopeColumn != "" {
		query += fmt.Sprintf(" AND %s = ?", t.ScopeColumn)
	}

	for start := 0; start < len(keys); start += maxInParams {
		end := min(start+maxInParams, len(keys))
		args := []any{keys[start:end]}
		if t.ScopeColumn != "" {
			args = append(args, scope)
		}
		q, qargs, err := sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("build lookup on %s: %w", t.Name, err)
		}
		var rows []string
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), qargs...); err != nil {
			return nil, fmt.Errorf("lookup existing %s: %w", t.Name, err)
		}
		for _, k := range rows {
			found[k] = true
		}
	}
	return found, nil
}

// Change is a set of writes to one table
type Change interface {
	TableName() string
	apply(ctx context.Context, tx *sqlx.Tx) (inserted, updated int, err error)
}

// Changeset holds records to insert and records to update in place
type Changeset[R any] struct {
	Table  *Table[R]
	Add    []R
	Update []R
}

// TableName returns the target table
func (c *Changeset[R]) TableName() string {
	return c.Table.Name
}

// Empty reports whether there is nothing to write
func (c *Changeset[R]) Empty() bool {
	return c == nil || len(c.Add)+len(c.Update) == 0
}

func (c *Changeset[R]) apply(ctx context.Context, tx *sqlx.Tx) (int, int, error) {
	if err := c.exec(ctx, tx, c.Table.insertSQL(), c.Add); err != nil {
		return 0, 0, fmt.Errorf("insert into %s: %w", c.Table.Name, err)
	}
	if err := c.exec(ctx, tx, c.Table.updateSQL(), c.Update); err != nil {
		return 0, 0, fmt.Errorf("update %s: %w", c.Table.Name, err)
	}
	return len(c.Add), len(c.Update), nil
}

func (c *Changeset[R]) exec(ctx context.Context, tx *sqlx.Tx, query string, records []R) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		row, err := c.Table.toRow(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("%s %s: %w", c.Table.KeyColumn, c.Table.key(r), err)
		}
	}
	return nil
}

// CommitResult summarizes a reconcile transaction
type CommitResult struct {
	Tables   []string
	Inserted int
	Updated  int
	Elapsed  time.Duration
}

// Commit writes every change in a single transaction. Changes are applied in
// order, so parents must precede rows that reference them.
func (s *Store) Commit(ctx context.Context, changes ...Change) (*CommitResult, error) {
	start := time.Now()
	res := &CommitResult{}
	err := s.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, c := range changes {
			if c == nil {
				continue
			}
			ins, upd, err := c.apply(ctx, tx)
			if err != nil {
				return err
			}
			res.Tables = append(res.Tables, c.TableName())
			res.Inserted += ins
			res.Updated += upd
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// Tables of the metrics store
var (
	AudioMetricsTable = &Table[corpus.AudioMetrics]{
		Name:      TableAudioMetrics,
		KeyColumn: "audio_md5_hash",
		Columns:   []string{"audio_md5_hash", "duration_seconds", "sample_rate", "channels", "pcm_format", "snr", "dbfs"},
		key:       func(m corpus.AudioMetrics) string { return m.Fingerprint },
		toRow:     audioMetricsToRow,
	}

	MembershipTable = &Table[corpus.Membership]{
		Name:        TableMembership,
		KeyColumn:   "path_to_file",
		ScopeColumn: "dataset_name",
		Columns:     []string{"audio_md5_hash", "dataset_name", "path_to_file", "speaker_id"},
		key:         func(m corpus.Membership) string { return m.Path },
		toRow:       membershipToRow,
	}

	OriginalTextTable = transcriptTable(TableOriginalText)
	ASRTextTable      = transcriptTable(TableASRText)

	TextComparisonTable = &Table[corpus.TextComparison]{
		Name:      TableTextComparison,
		KeyColumn: "audio_md5_hash",
		Columns:   []string{"audio_md5_hash", "wer", "cer"},
		key:       func(c corpus.TextComparison) string { return c.Fingerprint },
		toRow:     comparisonToRow,
	}

	AlignmentTable = &Table[corpus.Alignment]{
		Name:      TableAlignment,
		KeyColumn: "audio_md5_hash",
		Columns:   []string{"audio_md5_hash", "alignment_data"},
		key:       func(a corpus.Alignment) string { return a.Fingerprint },
		toRow:     alignmentToRow,
	}
)

func transcriptTable(name string) *Table[corpus.Transcript] {
	return &Table[corpus.Transcript]{
		Name:      name,
		KeyColumn: "audio_md5_hash",
		Columns:   []string{"audio_md5_hash", "text", "cps"},
		key:       func(t corpus.Transcript) string { return t.Fingerprint },
		toRow:     transcriptToRow,
	}
}
