package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/speech-corpus/internal/inference"
	"github.com/franz/speech-corpus/internal/util"
)

func viperFrom(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return v
}

func TestDecodeConfig(t *testing.T) {
	v := viperFrom(t, `
db: /data/metrics.db
dataset: /corpora/ljs
jobs: 4
inference-timeout: 30s
triton-url: http://triton:8000
`)
	cfg, err := decodeConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "/data/metrics.db", cfg.DB)
	assert.Equal(t, "/corpora/ljs", cfg.Dataset)
	assert.Equal(t, 4, cfg.Jobs)
	assert.Equal(t, 30*time.Second, cfg.InferenceTimeout)
	assert.Equal(t, "http://triton:8000", cfg.TritonURL)
	assert.Equal(t, "metadata.csv", cfg.Metadata)
	assert.Equal(t, "artifacts", cfg.Artifacts)
}

func TestDecodeConfig_Defaults(t *testing.T) {
	cfg, err := decodeConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, inference.DefaultTimeout, cfg.InferenceTimeout)
}

func TestDecodeConfig_RejectsUnknownKeys(t *testing.T) {
	_, err := decodeConfig(viperFrom(t, "db: x.db\ndatabase-adress: localhost\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "database-adress")
}

func TestDecodeConfig_RejectsUnknownStorage(t *testing.T) {
	_, err := decodeConfig(viperFrom(t, "storage: ftp\n"))
	assert.ErrorIs(t, err, util.ErrInvalidConfig)
}

func TestDecodeConfig_EnvOverride(t *testing.T) {
	t.Setenv("SPC_S3_REPOSITORY", "speech")
	v := viper.New()
	v.SetEnvPrefix("SPC")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	v.SetDefault("s3-repository", "")

	cfg, err := decodeConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "speech", cfg.S3Repository)
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()
	cfg := &appConfig{Storage: "local"}

	_, err := cfg.openStorage(ctx, "")
	assert.ErrorIs(t, err, util.ErrInvalidConfig)

	st, err := cfg.openStorage(ctx, t.TempDir()+"/ljs")
	require.NoError(t, err)
	assert.Equal(t, "ljs", st.Name())

	cfg = &appConfig{Storage: "s3", S3Repository: "speech", S3Branch: "main", S3Region: "us-east-1",
		S3AccessKeyID: "key", S3SecretAccessKey: "secret", S3Endpoint: "http://localhost:8001"}
	st, err = cfg.openStorage(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "speech", st.Name())

	st, err = cfg.openStorage(ctx, "enhanced")
	require.NoError(t, err)
	assert.Equal(t, "speech_enhanced", st.Name())
}
