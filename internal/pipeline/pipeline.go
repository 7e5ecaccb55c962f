// Package pipeline runs metrics stages against a dataset and reconciles
// their results with the metrics store.
//
// Every stage follows the same protocol: partition the candidates into new
// and already stored keys, compute records for the new ones (and for the
// stored ones when overwriting), then hand the changeset to a single
// store commit.
package pipeline

import (
	"context"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"github.com/franz/speech-corpus/internal/report"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/store"
	"github.com/franz/speech-corpus/internal/util"
)

// DefaultBatchSize is the number of inputs sent to the inference server by
// one worker
const DefaultBatchSize = 10

// Config holds runner configuration
type Config struct {
	Store   *store.Store
	Storage storage.Storage
	// Dataset names the membership scope; defaults to Storage.Name()
	Dataset   string
	Jobs      int
	BatchSize int
	Overwrite bool
	Logger    *report.EventLogger
}

// Runner executes stages for one dataset
type Runner struct {
	store     *store.Store
	storage   storage.Storage
	dataset   string
	jobs      int
	batchSize int
	overwrite bool
	logger    *report.EventLogger
}

// New creates a Runner
func New(cfg *Config) *Runner {
	if cfg.Jobs <= 0 {
		cfg.Jobs = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Dataset == "" && cfg.Storage != nil {
		cfg.Dataset = cfg.Storage.Name()
	}
	return &Runner{
		store:     cfg.Store,
		storage:   cfg.Storage,
		dataset:   cfg.Dataset,
		jobs:      cfg.Jobs,
		batchSize: cfg.BatchSize,
		overwrite: cfg.Overwrite,
		logger:    cfg.Logger,
	}
}

// Dataset returns the membership scope of the runner
func (r *Runner) Dataset() string {
	return r.dataset
}

// Stage computes records of type R for inputs of type I
type Stage[I, R any] struct {
	Name  string
	Table *store.Table[R]
	// Scope restricts the existence check for scoped tables
	Scope string
	// Key identifies the record an input produces
	Key func(I) string
	// BatchSize is the number of inputs per Compute call; 0 means 1
	BatchSize int
	// Compute returns the records of a batch. Inputs that yield no result
	// are left out of the returned slice.
	Compute func(ctx context.Context, batch []I) ([]R, error)
}

// PerItem adapts a single-input function to Stage.Compute. fn reports false
// when the input has no result.
func PerItem[I, R any](fn func(ctx context.Context, in I) (R, bool, error)) func(context.Context, []I) ([]R, error) {
	return func(ctx context.Context, batch []I) ([]R, error) {
		out := make([]R, 0, len(batch))
		for _, in := range batch {
			rec, ok, err := fn(ctx, in)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, rec)
			}
		}
		return out, nil
	}
}

// Result summarizes one stage
type Result struct {
	Stage      string
	Candidates int // distinct inputs
	ToAdd      int // records to insert
	ToUpdate   int // records to update in place
	Skipped    int // stored and not overwritten
	Dropped    int // computed without a result
	Excluded   int // missing prerequisites, never computed
}

// Run partitions inputs against the stage table, computes the records that
// need writing and returns them as a changeset. Nothing is written.
func Run[I, R any](ctx context.Context, r *Runner, st Stage[I, R], inputs []I) (*store.Changeset[R], *Result, error) {
	inputs = distinct(inputs, st.Key)
	res := &Result{Stage: st.Name, Candidates: len(inputs)}

	keys := make([]string, len(inputs))
	for i, in := range inputs {
		keys[i] = st.Key(in)
	}
	existing, err := st.Table.Existing(ctx, r.store, st.Scope, keys)
	if err != nil {
		return nil, nil, err
	}

	var work []I
	for _, in := range inputs {
		if existing[st.Key(in)] && !r.overwrite {
			res.Skipped++
			continue
		}
		work = append(work, in)
	}

	records, err := compute(ctx, r, st, work)
	if err != nil {
		return nil, nil, err
	}
	res.Dropped = len(work) - len(records)

	cs := &store.Changeset[R]{Table: st.Table}
	for _, rec := range records {
		if existing[st.Table.Key(rec)] {
			cs.Update = append(cs.Update, rec)
		} else {
			cs.Add = append(cs.Add, rec)
		}
	}
	res.ToAdd = len(cs.Add)
	res.ToUpdate = len(cs.Update)
	return cs, res, nil
}

// compute fans batches out over the worker pool. The first error cancels
// the remaining batches. Records keep input order.
func compute[I, R any](ctx context.Context, r *Runner, st Stage[I, R], work []I) ([]R, error) {
	if len(work) == 0 {
		return nil, nil
	}
	batches := chunk(work, st.BatchSize)
	results := make([][]R, len(batches))

	bar := util.NewProgressBar(len(work), st.Name)
	defer util.FinishBar(bar)

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(r.jobs)
	for i, batch := range batches {
		i, batch := i, batch
		p.Go(func(ctx context.Context) error {
			defer util.Advance(bar, len(batch))
			recs, err := st.Compute(ctx, batch)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	var out []R
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}

// report prints a stage result and records it in the event log
func (r *Runner) report(res *Result) {
	util.InfoLog("%s: %d candidates, %d to add, %d to update, %d skipped, %d dropped, %d excluded",
		res.Stage, res.Candidates, res.ToAdd, res.ToUpdate, res.Skipped, res.Dropped, res.Excluded)
	r.logger.LogStage(res.Stage, res.ToAdd, res.ToUpdate, res.Skipped, res.Dropped, res.Excluded)
}

// commit writes the changesets of one invocation in a single transaction
func (r *Runner) commit(ctx context.Context, changes ...store.Change) (*store.CommitResult, error) {
	cr, err := r.store.Commit(ctx, changes...)
	if err != nil {
		r.logger.LogError("commit", "", err)
		return nil, err
	}
	util.SuccessLog("Committed %s inserted, %s updated in %s",
		util.FormatCount(cr.Inserted), util.FormatCount(cr.Updated), util.FormatElapsed(cr.Elapsed))
	r.logger.LogCommit(cr.Tables, cr.Inserted, cr.Updated, cr.Elapsed)
	return cr, nil
}

// drop reports an input that produced no result
func (r *Runner) drop(stage, fingerprint, path, reason string) {
	util.WarnLog("%s: skipping %s: %s", stage, r.storage.Resolve(path), reason)
	r.logger.LogDrop(stage, fingerprint, path, reason)
}

func distinct[I any](inputs []I, key func(I) string) []I {
	seen := make(map[string]bool, len(inputs))
	out := make([]I, 0, len(inputs))
	for _, in := range inputs {
		k := key(in)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, in)
	}
	return out
}

func chunk[I any](items []I, size int) [][]I {
	if size < 1 {
		size = 1
	}
	var out [][]I
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
