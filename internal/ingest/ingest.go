// Package ingest turns a folder of audio files into a dataset with the
// canonical layout and a metadata table.
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dhowden/tag"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/fingerprint"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/report"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/util"
	"github.com/franz/speech-corpus/internal/wavio"
)

// AudioExtensions are the source file extensions picked up by a scan
var AudioExtensions = []string{
	".mp3",
	".mp4",
	".wav",
	".aiff",
	".flac",
	".opus",
	".webm",
	".ogg",
}

// SpeakerMode selects how speaker ids are assigned
type SpeakerMode int

const (
	// PerDirectory assigns one speaker per top-level directory. Files at
	// the source root have an unknown speaker.
	PerDirectory SpeakerMode = iota
	// SingleSpeaker assigns speaker 0 to every file
	SingleSpeaker
	// UnknownSpeakers assigns corpus.UnknownSpeaker to every file
	UnknownSpeakers
)

// Config holds ingester configuration
type Config struct {
	// Source is the folder to scan; SourceFs defaults to the OS filesystem
	Source    string
	SourceFs  afero.Fs
	Dest      storage.Storage
	Mode      SpeakerMode
	Overwrite bool
	Jobs      int
	Converter Converter
	Logger    *report.EventLogger
}

// Ingester copies or converts source audio into a dataset
type Ingester struct {
	source    string
	fs        afero.Fs
	dest      storage.Storage
	mode      SpeakerMode
	overwrite bool
	jobs      int
	converter Converter
	logger    *report.EventLogger
	exts      map[string]bool
}

// New creates an Ingester
func New(cfg *Config) *Ingester {
	if cfg.Jobs <= 0 {
		cfg.Jobs = runtime.NumCPU()
	}
	if cfg.SourceFs == nil {
		cfg.SourceFs = afero.NewOsFs()
	}
	if cfg.Converter == nil {
		cfg.Converter = &FFmpeg{}
	}
	exts := make(map[string]bool, len(AudioExtensions))
	for _, ext := range AudioExtensions {
		exts[ext] = true
	}
	return &Ingester{
		source:    cfg.Source,
		fs:        cfg.SourceFs,
		dest:      cfg.Dest,
		mode:      cfg.Mode,
		overwrite: cfg.Overwrite,
		jobs:      cfg.Jobs,
		converter: cfg.Converter,
		logger:    cfg.Logger,
		exts:      exts,
	}
}

// Result summarizes an ingest run
type Result struct {
	Discovered int
	Copied     int // canonical WAVs copied as is
	Converted  int
	Skipped    int // destination existed and was kept
	Collisions int // sources mapping to an already claimed destination
	Failed     int
	Table      *metadata.Table
}

// item is one source file and its place in the dataset
type item struct {
	src     string
	dest    string
	speaker int
	hash    string
	ok      bool
}

// Run scans the source folder, places every audio file into the dataset
// and writes the metadata table
func (in *Ingester) Run(ctx context.Context) (*Result, error) {
	util.InfoLog("Scanning %s", in.source)
	files, err := in.scan(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Discovered: len(files)}
	if len(files) == 0 {
		util.WarnLog("No audio files found in %s", in.source)
	}

	items, collisions := in.plan(files)
	res.Collisions = collisions

	var copied, converted, skipped, failed atomic.Int64
	bar := util.NewProgressBar(len(items), "Ingesting")
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(in.jobs)
	for i := range items {
		i := i
		p.Go(func(ctx context.Context) error {
			defer util.Advance(bar, 1)
			it := &items[i]
			outcome, err := in.place(ctx, it)
			switch {
			case errors.Is(err, util.ErrExternalTool), errors.Is(err, util.ErrCorrupt):
				failed.Add(1)
				util.WarnLog("Skipping %s: %v", it.src, err)
				in.logger.LogError("ingest", it.src, err)
				return nil
			case err != nil:
				return err
			}
			it.ok = true
			switch outcome {
			case placedCopy:
				copied.Add(1)
			case placedConvert:
				converted.Add(1)
			case placedExisting:
				skipped.Add(1)
			}
			return nil
		})
	}
	err = p.Wait()
	util.FinishBar(bar)
	if err != nil {
		return nil, err
	}

	res.Copied = int(copied.Load())
	res.Converted = int(converted.Load())
	res.Skipped = int(skipped.Load())
	res.Failed = int(failed.Load())

	table := &metadata.Table{}
	for _, it := range items {
		if it.ok {
			table.Rows = append(table.Rows, metadata.Row{Path: it.dest, SpeakerID: it.speaker, Hash: it.hash})
		}
	}
	if err := metadata.Save(ctx, in.dest, metadata.DefaultFile, table); err != nil {
		return nil, err
	}
	res.Table = table

	util.SuccessLog("Ingest complete: %d files, %d copied, %d converted, %d kept, %d failed",
		len(table.Rows), res.Copied, res.Converted, res.Skipped, res.Failed)
	return res, nil
}

// scan returns the audio files under the source, relative to it, sorted
func (in *Ingester) scan(ctx context.Context) ([]string, error) {
	var files []string
	err := afero.Walk(in.fs, in.source, func(p string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			util.WarnLog("Error accessing path %s: %v", p, err)
			return nil
		}
		if info.IsDir() || !in.exts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		rel, err := filepath.Rel(in.source, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", in.source, err)
	}
	sort.Strings(files)
	return files, nil
}

// plan assigns speakers and destination paths. Speakers of PerDirectory
// mode are numbered in sorted directory order.
func (in *Ingester) plan(files []string) ([]item, int) {
	speakers := map[string]int{}
	if in.mode == PerDirectory {
		var dirs []string
		for _, f := range files {
			if top, _, nested := strings.Cut(f, "/"); nested {
				if _, ok := speakers[top]; !ok {
					speakers[top] = 0
					dirs = append(dirs, top)
				}
			}
		}
		sort.Strings(dirs)
		for i, d := range dirs {
			speakers[d] = i
		}
	}

	claimed := map[string]string{}
	collisions := 0
	var items []item
	for _, f := range files {
		it := in.destination(f, speakers)
		if prev, ok := claimed[it.dest]; ok {
			collisions++
			util.WarnLog("%s and %s both map to %s, keeping the first", prev, f, it.dest)
			continue
		}
		claimed[it.dest] = f
		items = append(items, it)
	}
	return items, collisions
}

func (in *Ingester) destination(rel string, speakers map[string]int) item {
	dir, file := path.Split(rel)
	dir = strings.TrimSuffix(dir, "/")
	stem := strings.TrimSuffix(file, path.Ext(file))

	it := item{src: rel}
	switch in.mode {
	case SingleSpeaker:
		it.speaker = 0
		it.dest = path.Join("speaker_0", "wavs", dir, stem+".wav")
	case UnknownSpeakers:
		it.speaker = corpus.UnknownSpeaker
		it.dest = path.Join("wavs", dir, stem+".wav")
	default:
		top, rest, nested := strings.Cut(dir, "/")
		switch {
		case dir == "":
			it.speaker = corpus.UnknownSpeaker
			it.dest = path.Join("wavs", stem+".wav")
		case nested:
			it.speaker = speakers[top]
			it.dest = path.Join(fmt.Sprintf("speaker_%d", it.speaker), "wavs", rest, stem+".wav")
		default:
			it.speaker = speakers[top]
			it.dest = path.Join(fmt.Sprintf("speaker_%d", it.speaker), "wavs", stem+".wav")
		}
	}
	return it
}

type placement int

const (
	placedCopy placement = iota
	placedConvert
	placedExisting
)

// place writes one item into the dataset and records its fingerprint
func (in *Ingester) place(ctx context.Context, it *item) (placement, error) {
	if !in.overwrite {
		exists, err := in.dest.Exists(ctx, it.dest)
		if err != nil {
			return 0, err
		}
		if exists {
			sum, err := fingerprint.File(ctx, in.dest, it.dest)
			if err != nil {
				return 0, err
			}
			it.hash = sum
			util.DebugLog("Keeping existing %s", it.dest)
			return placedExisting, nil
		}
	}

	src := filepath.Join(in.source, filepath.FromSlash(it.src))
	format := in.sniff(src)

	if in.canonical(src) {
		sum, err := in.copy(ctx, in.fs, src, it.dest)
		if err != nil {
			return 0, err
		}
		it.hash = sum
		in.logger.LogIngest(src, it.dest, sum, format, it.speaker, false)
		return placedCopy, nil
	}

	tmp, err := os.MkdirTemp("", "spc-ingest-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)
	converted := filepath.Join(tmp, "converted.wav")

	if err := in.converter.Convert(ctx, src, converted); err != nil {
		return 0, err
	}
	sum, err := in.copy(ctx, afero.NewOsFs(), converted, it.dest)
	if err != nil {
		return 0, err
	}
	it.hash = sum
	in.logger.LogIngest(src, it.dest, sum, format, it.speaker, true)
	return placedConvert, nil
}

// canonical reports whether src is already a 16-bit mono PCM WAV
func (in *Ingester) canonical(src string) bool {
	if strings.ToLower(filepath.Ext(src)) != ".wav" {
		return false
	}
	f, err := in.fs.Open(src)
	if err != nil {
		return false
	}
	defer f.Close()
	clip, err := wavio.Probe(f)
	return err == nil && clip.Canonical()
}

// sniff identifies the container of src from its content
func (in *Ingester) sniff(src string) string {
	f, err := in.fs.Open(src)
	if err != nil {
		return ""
	}
	defer f.Close()
	_, fileType, err := tag.Identify(f)
	if err != nil || fileType == tag.UnknownFileType {
		return strings.TrimPrefix(strings.ToUpper(filepath.Ext(src)), ".")
	}
	return string(fileType)
}

// copy streams src into the dataset and returns the fingerprint of the
// bytes written
func (in *Ingester) copy(ctx context.Context, fsys afero.Fs, src, dest string) (string, error) {
	r, err := fsys.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer r.Close()

	w, err := in.dest.Create(ctx, dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", in.dest.Resolve(dest), err)
	}
	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(w, h), r); err != nil {
		w.Close()
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", in.dest.Resolve(dest), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
