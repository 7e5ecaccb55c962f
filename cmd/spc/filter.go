package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/franz/speech-corpus/internal/filter"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/util"
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Write a filtered metadata table from a named filter profile",
	Long: `Select the members of a dataset that satisfy a filter profile and write
them as a metadata table.

Profiles live in a YAML document keyed by profile name. Every setting is
optional; an empty profile selects the whole dataset. An unknown profile
name falls back to "default".

With --include-text the output carries a text column holding the original
transcript, or the ASR transcript when there is none. Rows without either
are left out.`,
	RunE: runFilter,
}

func init() {
	rootCmd.AddCommand(filterCmd)

	filterCmd.Flags().String("path-to-config", "", "YAML filter profiles (required)")
	filterCmd.Flags().String("config-name", filter.DefaultProfile, "profile to apply")
	filterCmd.Flags().Bool("include-text", false, "add a text column to the output")
	filterCmd.Flags().String("save-path", "filtered_metadata.csv", "output metadata table")
	filterCmd.Flags().String("dataset-name", "", "membership scope (default: dataset directory or repository name)")
}

func runFilter(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("path-to-config")
	configName, _ := cmd.Flags().GetString("config-name")
	includeText, _ := cmd.Flags().GetBool("include-text")
	savePath, _ := cmd.Flags().GetString("save-path")
	dataset, _ := cmd.Flags().GetString("dataset-name")

	if configPath == "" {
		return fmt.Errorf("%w: --path-to-config is required", util.ErrInvalidConfig)
	}
	profiles, err := filter.LoadFile(configPath)
	if err != nil {
		return err
	}
	profile, name, err := profiles.Resolve(configName)
	if err != nil {
		return err
	}

	if dataset == "" {
		st, err := cfg.datasetStorage(ctx)
		if err != nil {
			return err
		}
		dataset = st.Name()
	}

	db, err := cfg.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := cfg.openEventLogger()
	defer logger.Close()

	util.InfoLog("Filtering %s with profile %q (%s)", dataset, name, profile.Describe())
	sel, err := filter.Select(ctx, db, dataset, profile)
	if err != nil {
		return fmt.Errorf("filter failed: %w", err)
	}
	table := sel.Table(includeText)
	logger.LogFilter(dataset, name, sel.Matched, len(table.Rows))

	abs, err := filepath.Abs(savePath)
	if err != nil {
		return fmt.Errorf("resolve save path: %w", err)
	}
	out, err := storage.NewLocal(filepath.Dir(abs))
	if err != nil {
		return err
	}
	if err := metadata.Save(ctx, out, filepath.Base(abs), table); err != nil {
		return err
	}

	util.SuccessLog("Wrote %s rows to %s", util.FormatCount(len(table.Rows)), abs)
	util.InfoLog("  Matched predicates: %s", util.FormatCount(sel.Matched))
	util.InfoLog("  After quotas: %s", util.FormatCount(len(sel.Candidates)))
	if dropped := len(sel.Candidates) - len(table.Rows); dropped > 0 {
		util.InfoLog("  Without text: %s", util.FormatCount(dropped))
	}
	return nil
}
