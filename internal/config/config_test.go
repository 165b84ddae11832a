package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_AppliesDefaults(t *testing.T) {
	p := writeConfig(t, `
postgres:
  dsn: "host=db"
batch:
  max_batch_size: 5
retry:
  backoff: 2s
`)
	t.Setenv("POSTGRES_PASSWORD", "")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "host=db", cfg.Postgres.DSN)
	assert.Equal(t, 5, cfg.Batch.MaxBatchSize)
	assert.Equal(t, 30*time.Second, cfg.Batch.MaxWait())
	assert.Equal(t, LoadAppend, cfg.Batch.LoadMode)
	assert.Equal(t, 2*time.Second, cfg.Retry.Backoff)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
}

func TestLoad_PasswordFromEnv(t *testing.T) {
	p := writeConfig(t, "postgres:\n  dsn: \"host=db\"\n")
	t.Setenv("POSTGRES_PASSWORD", "s3cret")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "host=db password=s3cret", cfg.Postgres.DSN)
}

func TestLoad_BadYAML(t *testing.T) {
	p := writeConfig(t, "batch: [unclosed")
	_, err := Load(p)
	var cerr *ConfigError
	assert.True(t, errors.As(err, &cerr))
}

func TestBatchValidate(t *testing.T) {
	ok := Default().Batch

	assert.NoError(t, ok.Validate(PathFile))
	assert.NoError(t, ok.Validate(PathStream))

	trunc := ok
	trunc.LoadMode = LoadTruncate
	assert.NoError(t, trunc.Validate(PathFile))
	err := trunc.Validate(PathStream)
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "batch.load_mode", cerr.Field)

	cases := map[string]func(b *BatchConfig){
		"zero size":      func(b *BatchConfig) { b.MaxBatchSize = 0 },
		"negative wait":  func(b *BatchConfig) { b.MaxWaitSeconds = -1 },
		"unknown mode":   func(b *BatchConfig) { b.LoadMode = "upsert" },
		"unknown policy": func(b *BatchConfig) { b.UnknownDimensionPolicy = "drop" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := ok
			mutate(&b)
			assert.Error(t, b.Validate(PathFile))
		})
	}
}

func TestRetryValidate(t *testing.T) {
	assert.NoError(t, Default().Retry.Validate())
	assert.Error(t, RetryConfig{MaxAttempts: 0}.Validate())
	assert.Error(t, RetryConfig{MaxAttempts: 1, Backoff: -time.Second}.Validate())
}
