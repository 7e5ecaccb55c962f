package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/speech-corpus/internal/report"
	"github.com/franz/speech-corpus/internal/util"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a summary report of the metrics store",
	Long: `Generate a summary report in Markdown format.

The report includes:
- Row counts of every metrics table
- Per-dataset files, speakers, hours of audio and average metrics
- The most frequent drop reasons of an event log (with --event-log)

The report is saved to <artifacts>/reports/<timestamp>/summary.md`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("out", "", "output directory for report (default: <artifacts>/reports/<timestamp>)")
	reportCmd.Flags().String("event-log", "", "event log file to tally drops from (optional)")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	util.InfoLog("=== Generating Summary Report ===")
	db, err := cfg.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	eventLogPath, _ := cmd.Flags().GetString("event-log")
	summary, err := report.GenerateSummaryReport(ctx, db, eventLogPath)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	if cfg.DBDriver == "" || cfg.DBDriver == "sqlite" {
		summary.DatabasePath = cfg.DB
	}

	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		outputDir = filepath.Join(cfg.Artifacts, "reports", time.Now().Format("20060102-150405"))
	}
	outputPath := filepath.Join(outputDir, "summary.md")

	if err := report.WriteMarkdownReport(summary, outputPath); err != nil {
		return err
	}

	util.SuccessLog("Report saved to: %s", outputPath)
	for _, d := range summary.Datasets {
		util.InfoLog("  %s: %s files, %d speakers, %s",
			d.Name, util.FormatCount(d.Files), d.Speakers, util.FormatHours(d.TotalSeconds))
	}
	return nil
}
