package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/speech-corpus/internal/fingerprint"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/report"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/util"
)

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Compute content fingerprints for the metadata table",
	Long: `Compute the MD5 fingerprint of every file listed in the metadata table
that does not have one yet, and write the table back with the hash column.

Rows whose file is missing keep an empty hash and are ignored by the
collect commands, which run the same backfill before computing anything.`,
	RunE: runHash,
}

func init() {
	rootCmd.AddCommand(hashCmd)
}

func runHash(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

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

	start := time.Now()
	res, err := backfillHashes(ctx, st, cfg.Metadata, table, jobs(cfg), logger)
	if err != nil {
		return err
	}

	util.SuccessLog("Hashing complete in %s", util.FormatElapsed(time.Since(start)))
	util.InfoLog("  Hashed: %s", util.FormatCount(res.Hashed))
	util.InfoLog("  Already hashed: %s", util.FormatCount(res.Present))
	if res.Missing > 0 {
		util.WarnLog("  Missing files: %s", util.FormatCount(res.Missing))
	}
	return nil
}

// backfillHashes fingerprints the rows of table without a hash and saves the
// table as name when any row was hashed
func backfillHashes(ctx context.Context, st storage.Storage, name string, table *metadata.Table, jobs int, logger *report.EventLogger) (*fingerprint.BackfillResult, error) {
	res, err := fingerprint.Backfill(ctx, st, table, fingerprint.BackfillOptions{Jobs: jobs, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}
	if res.Hashed > 0 {
		if err := metadata.Save(ctx, st, name, table); err != nil {
			return nil, err
		}
	}
	return res, nil
}
