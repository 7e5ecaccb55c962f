package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/speech-corpus/internal/enhance"
	"github.com/franz/speech-corpus/internal/inference"
	"github.com/franz/speech-corpus/internal/util"
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance",
	Short: "Run a dataset through the speech enhancement model",
	Long: `Send every recording of the dataset to the enhancement model and write
the result, a 44.1 kHz 16-bit mono WAV, to the same relative path under
--output. The metadata table is copied without its hash column since the
enhanced files have new content; run 'spc hash' on the output afterwards.

With s3 storage, --output names the target branch.`,
	RunE: runEnhance,
}

func init() {
	rootCmd.AddCommand(enhanceCmd)

	enhanceCmd.Flags().StringP("output", "o", "", "output dataset directory or branch (required)")
	enhanceCmd.Flags().Bool("overwrite", false, "replace files already in the output")
	enhanceCmd.Flags().Float32("chunk-duration", 30, "model chunk length in seconds")
	enhanceCmd.Flags().Float32("chunk-overlap", 1, "overlap between chunks in seconds")
}

func runEnhance(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	chunkDuration, _ := cmd.Flags().GetFloat32("chunk-duration")
	chunkOverlap, _ := cmd.Flags().GetFloat32("chunk-overlap")
	if output == "" {
		return fmt.Errorf("%w: --output is required", util.ErrInvalidConfig)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkDuration {
		return fmt.Errorf("%w: chunk overlap must be in [0, chunk duration)", util.ErrInvalidConfig)
	}

	src, err := cfg.datasetStorage(ctx)
	if err != nil {
		return err
	}
	dest, err := cfg.openStorage(ctx, output)
	if err != nil {
		return err
	}

	client := cfg.inferenceClient()
	if err := client.Ready(ctx); err != nil {
		return err
	}

	logger := cfg.openEventLogger()
	defer logger.Close()

	util.InfoLog("Enhancing %s into %s (model %s)", src.Resolve(""), dest.Resolve(""), cfg.EnhancerModel)
	start := time.Now()
	res, err := enhance.Run(ctx, enhance.Config{
		Source:    src,
		Dest:      dest,
		Metadata:  cfg.Metadata,
		BatchSize: cfg.BatchSize,
		Overwrite: overwrite,
		Enhancer:  inference.NewEnhancer(client, cfg.EnhancerModel, chunkDuration, chunkOverlap),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("enhance failed: %w", err)
	}

	util.InfoLog("  Files: %s", util.FormatCount(res.Files))
	util.InfoLog("  Enhanced: %s", util.FormatCount(res.Enhanced))
	util.InfoLog("  Already present: %s", util.FormatCount(res.Skipped))
	if res.Failed > 0 {
		util.WarnLog("  Unreadable: %s", util.FormatCount(res.Failed))
	}
	util.InfoLog("  Total time: %s", util.FormatElapsed(time.Since(start)))
	return nil
}
