package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/franz/speech-corpus/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "spc",
		Short: "Speech Corpus - metrics store and filtering for speech datasets",
		Long: `spc computes per-recording metrics for speech datasets, keeps them in a
relational store keyed by the content fingerprint of each audio file, and
writes filtered metadata tables from named filter profiles.

Typical flow:
  spc ingest --source raw/ --dataset corpora/mine
  spc hash --dataset corpora/mine
  spc collect audio --dataset corpora/mine
  spc filter --dataset corpora/mine --path-to-config filters.yaml`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.SetVerbose(viper.GetBool("verbose"))
			util.SetQuiet(viper.GetBool("quiet"))
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./configs/spc.yaml or ./spc.yaml)")
	pf.String("db-driver", "sqlite", "metrics database driver (sqlite|mysql)")
	pf.String("db", "spc-metrics.db", "sqlite metrics database file")
	pf.String("db-dsn", "", "mysql data source name")
	pf.StringP("dataset", "d", "", "dataset root directory (local) or branch prefix (s3)")
	pf.String("storage", "local", "dataset storage backend (local|s3)")
	pf.String("s3-endpoint", "", "S3 gateway endpoint URL")
	pf.String("s3-region", "", "S3 region")
	pf.String("s3-access-key-id", "", "S3 access key id")
	pf.String("s3-secret-access-key", "", "S3 secret access key")
	pf.String("s3-repository", "", "object store repository (bucket)")
	pf.String("s3-branch", "main", "object store branch")
	pf.String("metadata", "metadata.csv", "metadata table file name in the dataset root")
	pf.IntP("jobs", "j", 0, "worker count (default: number of CPUs)")
	pf.Int("batch-size", 10, "inference batch size")
	pf.String("triton-url", "http://localhost:8000", "inference server base URL")
	pf.String("asr-model", "ensemble_english_stt", "ASR model name")
	pf.String("enhancer-model", "enhancer_ensemble", "enhancement model name")
	pf.Duration("inference-timeout", 0, "per-request inference timeout (default 10m)")
	pf.String("mfa-binary", "mfa", "Montreal Forced Aligner executable")
	pf.String("mfa-acoustic-model", "english_us_arpa", "MFA acoustic model")
	pf.String("mfa-dictionary", "english_us_arpa", "MFA pronunciation dictionary")
	pf.String("artifacts", "artifacts", "directory for event logs and reports")
	pf.BoolP("verbose", "v", false, "verbose output")
	pf.BoolP("quiet", "q", false, "quiet output (errors only)")

	pf.VisitAll(func(f *pflag.Flag) {
		if f.Name != "config" {
			viper.BindPFlag(f.Name, f)
		}
	})
}

func initConfig() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		util.WarnLog("Failed to load .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("spc")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SPC")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if !viper.GetBool("quiet") {
			util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		util.ErrorLog("Failed to read config file %s: %v", cfgFile, err)
		os.Exit(1)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
