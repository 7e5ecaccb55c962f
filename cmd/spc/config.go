package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/franz/speech-corpus/internal/inference"
	"github.com/franz/speech-corpus/internal/metadata"
	"github.com/franz/speech-corpus/internal/report"
	"github.com/franz/speech-corpus/internal/storage"
	"github.com/franz/speech-corpus/internal/store"
	"github.com/franz/speech-corpus/internal/util"
)

// SPC_S3_ENDPOINT sets s3-endpoint
var envKeyReplacer = strings.NewReplacer("-", "_")

// appConfig is the resolved configuration. Precedence: flag, SPC_* env,
// config file, flag default.
type appConfig struct {
	DBDriver string `mapstructure:"db-driver"`
	DB       string `mapstructure:"db"`
	DBDSN    string `mapstructure:"db-dsn"`

	Dataset           string `mapstructure:"dataset"`
	Storage           string `mapstructure:"storage"`
	S3Endpoint        string `mapstructure:"s3-endpoint"`
	S3Region          string `mapstructure:"s3-region"`
	S3AccessKeyID     string `mapstructure:"s3-access-key-id"`
	S3SecretAccessKey string `mapstructure:"s3-secret-access-key"`
	S3Repository      string `mapstructure:"s3-repository"`
	S3Branch          string `mapstructure:"s3-branch"`
	Metadata          string `mapstructure:"metadata"`

	Jobs      int `mapstructure:"jobs"`
	BatchSize int `mapstructure:"batch-size"`

	TritonURL        string        `mapstructure:"triton-url"`
	ASRModel         string        `mapstructure:"asr-model"`
	EnhancerModel    string        `mapstructure:"enhancer-model"`
	InferenceTimeout time.Duration `mapstructure:"inference-timeout"`

	MFABinary        string `mapstructure:"mfa-binary"`
	MFAAcousticModel string `mapstructure:"mfa-acoustic-model"`
	MFADictionary    string `mapstructure:"mfa-dictionary"`

	Artifacts string `mapstructure:"artifacts"`
	Verbose   bool   `mapstructure:"verbose"`
	Quiet     bool   `mapstructure:"quiet"`
}

// loadConfig decodes viper settings strictly: unknown keys in the config
// file are an error
func loadConfig() (*appConfig, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*appConfig, error) {
	var cfg appConfig
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidConfig, err)
	}
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = inference.DefaultTimeout
	}
	if cfg.Metadata == "" {
		cfg.Metadata = metadata.DefaultFile
	}
	if cfg.Artifacts == "" {
		cfg.Artifacts = "artifacts"
	}
	switch cfg.Storage {
	case "", "local", "s3":
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", util.ErrInvalidConfig, cfg.Storage)
	}
	return &cfg, nil
}

func (c *appConfig) openStore(ctx context.Context) (*store.Store, error) {
	opts := &store.OpenOptions{Driver: c.DBDriver, Path: c.DB, DSN: c.DBDSN}
	if c.DBDriver == store.DriverMySQL {
		util.InfoLog("Opening database: mysql")
	} else {
		util.InfoLog("Opening database: %s", c.DB)
	}
	s, err := store.OpenWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return s, nil
}

// openStorage opens a dataset location. For local storage dir is the
// dataset root; for s3 a non-empty dir selects the branch.
func (c *appConfig) openStorage(ctx context.Context, dir string) (storage.Storage, error) {
	if c.Storage == "s3" {
		branch := c.S3Branch
		if dir != "" {
			branch = dir
		}
		return storage.NewS3(ctx, storage.S3Options{
			Endpoint:        c.S3Endpoint,
			Region:          c.S3Region,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
			Repository:      c.S3Repository,
			Branch:          branch,
		})
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: dataset directory is required (use --dataset/-d or set in config)", util.ErrInvalidConfig)
	}
	return storage.NewLocal(dir)
}

func (c *appConfig) datasetStorage(ctx context.Context) (storage.Storage, error) {
	return c.openStorage(ctx, c.Dataset)
}

func (c *appConfig) eventLevel() report.EventLevel {
	switch {
	case c.Quiet:
		return report.LevelWarning
	case c.Verbose:
		return report.LevelDebug
	default:
		return report.LevelInfo
	}
}

// openEventLogger never fails; without a writable artifacts dir events are
// discarded
func (c *appConfig) openEventLogger() *report.EventLogger {
	logger, err := report.NewEventLogger(c.Artifacts, c.eventLevel())
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	util.InfoLog("Event log: %s", logger.Path())
	return logger
}

func (c *appConfig) loadMetadata(ctx context.Context, st storage.Storage) (*metadata.Table, error) {
	table, err := metadata.Load(ctx, st, c.Metadata)
	if err != nil {
		return nil, err
	}
	util.InfoLog("Loaded %s rows from %s", util.FormatCount(len(table.Rows)), st.Resolve(c.Metadata))
	return table, nil
}

func (c *appConfig) inferenceClient() *inference.Client {
	return inference.NewClient(c.TritonURL, c.InferenceTimeout)
}
