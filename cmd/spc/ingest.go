package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/speech-corpus/internal/ingest"
	"github.com/franz/speech-corpus/internal/util"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Turn a folder of audio files into a dataset",
	Long: `Scan a folder for audio files and lay them out as a dataset:

  speaker_<id>/wavs/<subdirs>/<name>.wav

Each top-level directory of the source is one speaker, numbered in sorted
order. Files directly in the source root get the unknown speaker (-1) and go
to wavs/. --single-speaker puts everything under speaker_0,
--unknown-speakers everything under wavs/.

16-bit mono PCM WAV files are copied as they are. Everything else is
converted with ffmpeg. The fingerprint of every written file is recorded in
the metadata table, so 'spc hash' is not needed afterwards.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringP("source", "s", "", "folder to scan (required)")
	ingestCmd.Flags().Bool("single-speaker", false, "assign every file to speaker 0")
	ingestCmd.Flags().Bool("unknown-speakers", false, "assign every file to the unknown speaker")
	ingestCmd.Flags().Bool("overwrite", false, "replace files already in the dataset")
	ingestCmd.Flags().String("ffmpeg", "ffmpeg", "ffmpeg executable")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	source, _ := cmd.Flags().GetString("source")
	single, _ := cmd.Flags().GetBool("single-speaker")
	unknown, _ := cmd.Flags().GetBool("unknown-speakers")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	ffmpegBin, _ := cmd.Flags().GetString("ffmpeg")

	if source == "" {
		return fmt.Errorf("%w: source directory is required (use --source/-s)", util.ErrInvalidConfig)
	}
	if info, err := os.Stat(source); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: source directory does not exist: %s", util.ErrInvalidConfig, source)
	}
	if single && unknown {
		return fmt.Errorf("%w: --single-speaker and --unknown-speakers are exclusive", util.ErrInvalidConfig)
	}
	mode := ingest.PerDirectory
	switch {
	case single:
		mode = ingest.SingleSpeaker
	case unknown:
		mode = ingest.UnknownSpeakers
	}

	dest, err := cfg.datasetStorage(ctx)
	if err != nil {
		return err
	}

	ffmpeg := &ingest.FFmpeg{Binary: ffmpegBin}
	if !ffmpeg.Available() {
		util.WarnLog("%s not found in PATH - only 16-bit mono WAV files can be ingested", ffmpegBin)
	}

	logger := cfg.openEventLogger()
	defer logger.Close()

	util.InfoLog("Source: %s", source)
	util.InfoLog("Dataset: %s", dest.Resolve(""))

	start := time.Now()
	res, err := ingest.New(&ingest.Config{
		Source:    source,
		Dest:      dest,
		Mode:      mode,
		Overwrite: overwrite,
		Jobs:      jobs(cfg),
		Converter: ffmpeg,
		Logger:    logger,
	}).Run(ctx)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	util.InfoLog("  Discovered: %s", util.FormatCount(res.Discovered))
	if res.Collisions > 0 {
		util.WarnLog("  Name collisions: %s", util.FormatCount(res.Collisions))
	}
	if res.Failed > 0 {
		util.WarnLog("  Failed conversions: %s", util.FormatCount(res.Failed))
	}
	util.InfoLog("  Total time: %s", util.FormatElapsed(time.Since(start)))
	util.InfoLog("")
	util.InfoLog("Next step: spc collect audio --dataset %s", cfg.Dataset)
	return nil
}
