// Package fingerprint computes content fingerprints of audio files.
package fingerprint

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/report"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/util"
)

// Sum returns the lowercase hex MD5 digest of everything read from r
func Sum(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File fingerprints the file at p in st
func File(ctx context.Context, st storage.Storage, p string) (string, error) {
	r, err := st.Open(ctx, p)
	if err != nil {
		return "", err
	}
	defer r.Close()
	sum, err := Sum(r)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", st.Resolve(p), err)
	}
	return sum, nil
}

// BackfillOptions configures Backfill
type BackfillOptions struct {
	Jobs   int
	Logger *report.EventLogger
}

// BackfillResult summarizes a backfill pass
type BackfillResult struct {
	Hashed  int // rows that received a fingerprint
	Missing int // rows whose file does not exist
	Present int // rows that already had one
}

// Backfill computes fingerprints for the rows of t that lack one. Rows whose
// file is missing keep an empty hash. Any other read error aborts.
func Backfill(ctx context.Context, st storage.Storage, t *metadata.Table, opts BackfillOptions) (*BackfillResult, error) {
	var todo []int
	for i, row := range t.Rows {
		if row.Hash == "" {
			todo = append(todo, i)
		}
	}
	res := &BackfillResult{Present: len(t.Rows) - len(todo)}
	if len(todo) == 0 {
		return res, nil
	}

	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	bar := util.NewProgressBar(len(todo), "Hashing")
	defer util.FinishBar(bar)

	var hashed, missing atomic.Int64
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(jobs)
	for _, i := range todo {
		i := i
		p.Go(func(ctx context.Context) error {
			defer util.Advance(bar, 1)
			row := &t.Rows[i]
			sum, err := File(ctx, st, row.Path)
			if errors.Is(err, util.ErrNotFound) {
				missing.Add(1)
				util.WarnLog("Missing file, not hashed: %s", st.Resolve(row.Path))
				opts.Logger.LogDrop("hash", "", row.Path, "file not found")
				return nil
			}
			if err != nil {
				return err
			}
			row.Hash = sum
			hashed.Add(1)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	res.Hashed = int(hashed.Load())
	res.Missing = int(missing.Load())
	opts.Logger.LogHash(res.Hashed, res.Missing, res.Present)
	return res, nil
}
