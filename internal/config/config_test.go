package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8081", cfg.HTTP.Addr)
	assert.Equal(t, "predict_request", cfg.Prediction.RequestChannel)
	assert.Equal(t, "predict_reply:", cfg.Prediction.ReplyPrefix)
	assert.Equal(t, 10*time.Second, cfg.PredictionTimeout())
	assert.Equal(t, "", cfg.Database.URL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linewait.yaml")
	body := `
http:
  addr: ":9000"
prediction:
  timeout: 3s
  timezone: UTC
seed:
  - name: Passport
    lines: [Alpha, Beta]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.PredictionTimeout())
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, "predict_request", cfg.Prediction.RequestChannel)
	require.Len(t, cfg.Seed, 1)
	assert.Equal(t, []string{"Alpha", "Beta"}, cfg.Seed[0].Lines)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"DATABASE_URL":       "postgres://localhost/linewait",
		"REDIS_DB":           "2",
		"PREDICTION_TIMEOUT": "250ms",
		"WORKER_CONCURRENCY": "4",
		"LOG_LEVEL":          "debug",
		"DATABASE_MIGRATE":   "false",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres://localhost/linewait", cfg.Database.URL)
	assert.False(t, cfg.Database.Migrate)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 250*time.Millisecond, cfg.PredictionTimeout())
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ApplyEnv(env(map[string]string{"REDIS_DB": "two"})))
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero timeout":     func(c *Config) { c.Prediction.Timeout = "0s" },
		"garbage timeout":  func(c *Config) { c.Prediction.Timeout = "soon" },
		"unknown timezone": func(c *Config) { c.Prediction.Timezone = "Mars/Olympus" },
		"log format":       func(c *Config) { c.Log.Format = "xml" },
		"log level":        func(c *Config) { c.Log.Level = "loud" },
		"concurrency":      func(c *Config) { c.Worker.Concurrency = 0 },
		"reply prefix":     func(c *Config) { c.Prediction.ReplyPrefix = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
