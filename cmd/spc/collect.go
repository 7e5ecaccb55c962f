package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/speech-corpus/internal/align"
	"github.com/franz/speech-corpus/internal/inference"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/pipeline"
	"github.com/franz/speech-corpus/internal/util"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Compute metrics for a dataset and store them",
	Long: `Compute one kind of metric for every recording of a dataset and
reconcile the results with the metrics store. Rows of the metadata table
without a fingerprint are hashed first and the table is written back.

Recordings already present in the store are skipped unless --overwrite is
given. Each invocation commits in a single transaction.`,
}

var collectAudioCmd = &cobra.Command{
	Use:   "audio",
	Short: "Duration, format, SNR and dBFS, plus dataset membership",
	RunE:  collectRunE(collectAudio),
}

var collectTextsCmd = &cobra.Command{
	Use:   "texts",
	Short: "Original transcripts from the metadata text column",
	RunE:  collectRunE(collectTexts),
}

var collectASRCmd = &cobra.Command{
	Use:   "asr",
	Short: "Speech recognition transcripts from the inference server",
	RunE:  collectRunE(collectASR),
}

var collectWERCmd = &cobra.Command{
	Use:   "wer",
	Short: "WER and CER of the ASR transcript against the original",
	RunE:  collectRunE(collectWER),
}

var collectAlignCmd = &cobra.Command{
	Use:   "align",
	Short: "Word alignment with the Montreal Forced Aligner",
	RunE:  collectRunE(collectAlign),
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.PersistentFlags().Bool("overwrite", false, "recompute metrics already in the store")
	collectCmd.PersistentFlags().String("dataset-name", "", "membership scope (default: dataset directory or repository name)")

	collectAlignCmd.Flags().Bool("save-textgrids", false, "keep TextGrid files next to the wavs directory")

	collectCmd.AddCommand(collectAudioCmd, collectTextsCmd, collectASRCmd, collectWERCmd, collectAlignCmd)
}

type collectFunc func(ctx context.Context, cmd *cobra.Command, cfg *appConfig, r *pipeline.Runner, table *metadata.Table) (*pipeline.Summary, error)

// collectRunE opens the store, storage and event log shared by every
// collect command and runs fn
func collectRunE(fn collectFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		datasetName, _ := cmd.Flags().GetString("dataset-name")

		st, err := cfg.datasetStorage(ctx)
		if err != nil {
			return err
		}
		table, err := cfg.loadMetadata(ctx, st)
		if err != nil {
			return err
		}

		logger := cfg.openEventLogger()
		defer logger.Close()

		if unhashed := len(table.Rows) - len(table.Hashed()); unhashed > 0 {
			util.InfoLog("Hashing %s rows without a fingerprint", util.FormatCount(unhashed))
			res, err := backfillHashes(ctx, st, cfg.Metadata, table, jobs(cfg), logger)
			if err != nil {
				return err
			}
			if res.Missing > 0 {
				util.WarnLog("%s rows point at missing files and are ignored", util.FormatCount(res.Missing))
			}
		}

		db, err := cfg.openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		runner := pipeline.New(&pipeline.Config{
			Store:     db,
			Storage:   st,
			Dataset:   datasetName,
			Jobs:      jobs(cfg),
			BatchSize: cfg.BatchSize,
			Overwrite: overwrite,
			Logger:    logger,
		})
		util.InfoLog("=== collect %s: %s ===", cmd.Name(), runner.Dataset())

		start := time.Now()
		summary, err := fn(ctx, cmd, cfg, runner, table)
		if err != nil {
			return fmt.Errorf("collect %s failed: %w", cmd.Name(), err)
		}
		printSummary(summary, time.Since(start))
		return nil
	}
}

func collectAudio(ctx context.Context, _ *cobra.Command, _ *appConfig, r *pipeline.Runner, table *metadata.Table) (*pipeline.Summary, error) {
	return r.CollectAudio(ctx, table)
}

func collectTexts(ctx context.Context, _ *cobra.Command, _ *appConfig, r *pipeline.Runner, table *metadata.Table) (*pipeline.Summary, error) {
	return r.CollectTexts(ctx, table)
}

func collectASR(ctx context.Context, _ *cobra.Command, cfg *appConfig, r *pipeline.Runner, table *metadata.Table) (*pipeline.Summary, error) {
	client := cfg.inferenceClient()
	if err := client.Ready(ctx); err != nil {
		return nil, err
	}
	util.InfoLog("Inference server: %s (model %s)", cfg.TritonURL, cfg.ASRModel)
	return r.CollectASR(ctx, table, inference.NewRecognizer(client, cfg.ASRModel))
}

func collectWER(ctx context.Context, _ *cobra.Command, _ *appConfig, r *pipeline.Runner, table *metadata.Table) (*pipeline.Summary, error) {
	return r.CollectWER(ctx, table)
}

func collectAlign(ctx context.Context, cmd *cobra.Command, cfg *appConfig, r *pipeline.Runner, table *metadata.Table) (*pipeline.Summary, error) {
	mfa := &align.MFA{
		Binary:        cfg.MFABinary,
		AcousticModel: cfg.MFAAcousticModel,
		Dictionary:    cfg.MFADictionary,
	}
	if !mfa.Available() {
		return nil, fmt.Errorf("%w: %s not found in PATH", util.ErrExternalTool, cfg.MFABinary)
	}
	save, _ := cmd.Flags().GetBool("save-textgrids")
	return r.CollectAlignment(ctx, table, mfa, pipeline.AlignOptions{SaveTextGrids: save})
}

func printSummary(s *pipeline.Summary, elapsed time.Duration) {
	util.InfoLog("")
	util.SuccessLog("=== Summary ===")
	for _, st := range s.Stages {
		util.InfoLog("  %-12s %s candidates, %s added, %s updated, %s skipped",
			st.Stage,
			util.FormatCount(st.Candidates),
			util.FormatCount(st.ToAdd),
			util.FormatCount(st.ToUpdate),
			util.FormatCount(st.Skipped))
		if st.Dropped > 0 || st.Excluded > 0 {
			util.WarnLog("  %-12s %s dropped, %s excluded", st.Stage, util.FormatCount(st.Dropped), util.FormatCount(st.Excluded))
		}
	}
	if s.Commit != nil {
		util.InfoLog("  Rows inserted: %s, updated: %s", util.FormatCount(s.Commit.Inserted), util.FormatCount(s.Commit.Updated))
	}
	util.InfoLog("  Total time: %s", util.FormatElapsed(elapsed))
}

func jobs(cfg *appConfig) int {
	if cfg.Jobs > 0 {
		return cfg.Jobs
	}
	return runtime.NumCPU()
}
