package report

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/franz/speech-corpus/internal/store"
	"github.com/franz/speech-corpus/internal/util"
)

// SummaryReport describes the content of a metrics store
type SummaryReport struct {
	GeneratedAt time.Time

	Driver        string
	DatabasePath  string
	SchemaVersion int
	EventLogPath  string

	Tables   []TableCount
	Datasets []store.DatasetStat

	// Drop reasons from the event log, most frequent first
	TopDrops []DropSummary
}

// TableCount is the row count of one metrics table
type TableCount struct {
	Name string
	Rows int
}

// DropSummary counts drop events sharing a stage and reason
type DropSummary struct {
	Stage  string
	Reason string
	Count  int
}

// GenerateSummaryReport gathers table counts and per-dataset aggregates.
// When eventLogPath is set, drop events from that log are tallied too.
func GenerateSummaryReport(ctx context.Context, db *store.Store, eventLogPath string) (*SummaryReport, error) {
	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		Driver:       db.Driver(),
		EventLogPath: eventLogPath,
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	report.SchemaVersion = version

	counts, err := db.CountRows(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range store.AllTables {
		report.Tables = append(report.Tables, TableCount{Name: name, Rows: counts[name]})
	}

	report.Datasets, err = db.DatasetStats(ctx)
	if err != nil {
		return nil, err
	}

	if eventLogPath != "" {
		f, err := os.Open(eventLogPath)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		defer f.Close()
		report.TopDrops, err = gatherTopDrops(f, 10)
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}

// gatherTopDrops tallies drop events of a JSONL event log. Lines that are
// not JSON objects are ignored.
func gatherTopDrops(r io.Reader, limit int) ([]DropSummary, error) {
	type key struct{ stage, reason string }
	counts := map[key]int{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var ev struct {
			Event  string `json:"event"`
			Stage  string `json:"stage"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.Event != string(EventDrop) {
			continue
		}
		counts[key{ev.Stage, ev.Reason}]++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}

	drops := make([]DropSummary, 0, len(counts))
	for k, n := range counts {
		drops = append(drops, DropSummary{Stage: k.stage, Reason: k.reason, Count: n})
	}
	sort.Slice(drops, func(i, j int) bool {
		if drops[i].Count != drops[j].Count {
			return drops[i].Count > drops[j].Count
		}
		if drops[i].Stage != drops[j].Stage {
			return drops[i].Stage < drops[j].Stage
		}
		return drops[i].Reason < drops[j].Reason
	})
	if len(drops) > limit {
		drops = drops[:limit]
	}
	return drops, nil
}

// RenderMarkdown renders the report as Markdown
func RenderMarkdown(report *SummaryReport) string {
	var md strings.Builder

	md.WriteString("# Speech Corpus - Metrics Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s` (%s, schema v%d)\n\n", report.DatabasePath, report.Driver, report.SchemaVersion))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}
	md.WriteString("---\n\n")

	md.WriteString("## Tables\n\n")
	md.WriteString("| Table | Rows |\n")
	md.WriteString("|-------|------|\n")
	for _, t := range report.Tables {
		md.WriteString(fmt.Sprintf("| %s | %s |\n", t.Name, util.FormatCount(t.Rows)))
	}
	md.WriteString("\n")

	if len(report.Datasets) > 0 {
		md.WriteString("## Datasets\n\n")
		md.WriteString("| Dataset | Files | Speakers | Audio | Avg SNR | Original texts | ASR texts | Avg WER | Avg CER | Aligned |\n")
		md.WriteString("|---------|-------|----------|-------|---------|----------------|-----------|---------|---------|---------|\n")
		for _, d := range report.Datasets {
			md.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s | %s | %s | %s | %s | %s |\n",
				d.Name,
				util.FormatCount(d.Files),
				d.Speakers,
				util.FormatHours(d.TotalSeconds),
				nullable(d.AvgSNR.Valid, d.AvgSNR.Float64, "%.1f dB"),
				util.FormatCount(d.WithOriginal),
				util.FormatCount(d.WithASR),
				nullable(d.AvgWER.Valid, d.AvgWER.Float64, "%.3f"),
				nullable(d.AvgCER.Valid, d.AvgCER.Float64, "%.3f"),
				util.FormatCount(d.WithAlignment),
			))
		}
		md.WriteString("\n")
	}

	if len(report.TopDrops) > 0 {
		md.WriteString("## Top Drop Reasons\n\n")
		md.WriteString("| Count | Stage | Reason |\n")
		md.WriteString("|-------|-------|--------|\n")
		for _, d := range report.TopDrops {
			md.WriteString(fmt.Sprintf("| %d | %s | %s |\n", d.Count, d.Stage, truncate(d.Reason, 80)))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by spc*\n")
	return md.String()
}

// WriteMarkdownReport writes the report as Markdown to outputPath
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outputPath, []byte(RenderMarkdown(report)), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func nullable(valid bool, v float64, format string) string {
	if !valid {
		return "-"
	}
	return fmt.Sprintf(format, v)
}

// truncate shortens s from the middle, keeping start and end
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	start := maxLen/2 - 2
	end := len(s) - (maxLen/2 - 2)
	return s[:start] + "..." + s[end:]
}
