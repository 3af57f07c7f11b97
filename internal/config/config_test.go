package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leadgen.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Worker.FetchMaxAttempts)
	assert.Equal(t, "@every 5m", cfg.Worker.RecoverCron)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, "leadgen:jobs", cfg.Queue.Stream)
	assert.True(t, cfg.Scrape.RespectRobots)
	assert.True(t, cfg.Scrape.JinaFallback)
	assert.Equal(t, int64(2<<20), cfg.Scrape.MaxBodyBytes)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://places.googleapis.com/v1", cfg.Google.BaseURL)
	assert.Equal(t, 50, cfg.Targets.MaxTargets)
	assert.InDelta(t, 0.95, cfg.Extract.EmailConfidence, 0.001)
	assert.Equal(t, "US", cfg.Extract.Region)
	assert.NotEmpty(t, cfg.Extract.NameSelectors)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, int64(10), cfg.Monitoring.DeadLetterThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/leadgen
log:
  level: debug
  format: console
server:
  port: 9090
queue:
  driver: redis
  redis_url: redis://cache:6379/1
extract:
  email_confidence: 0.8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/leadgen", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Queue.Driver)
	assert.Equal(t, "redis://cache:6379/1", cfg.Queue.RedisURL)
	assert.InDelta(t, 0.8, cfg.Extract.EmailConfidence, 0.001)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.9, cfg.Extract.TitleConfidence, 0.001)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9090\n"), 0o644))
	t.Setenv("LEADGEN_SERVER_PORT", "7070")
	t.Setenv("LEADGEN_WORKER_CONCURRENCY", "12")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Worker.Concurrency)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LEADGEN_JINA_KEY=jina-from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LEADGEN_JINA_KEY") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "jina-from-dotenv", cfg.Jina.Key)
}

func TestLoadDotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LEADGEN_GOOGLE_KEY=from-file\n"), 0o600))
	t.Setenv("LEADGEN_GOOGLE_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Google.Key)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store:\n  driver: mysql\n"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: validate")
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidate_PostgresRequiresURL(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	require.Error(t, cfg.Validate())

	cfg.Store.DatabaseURL = "postgres://localhost/leadgen"
	require.NoError(t, cfg.Validate())
}

func TestValidate_RedisRequiresURL(t *testing.T) {
	cfg := validConfig(t)
	cfg.Queue.Driver = "redis"
	cfg.Queue.RedisURL = ""
	require.Error(t, cfg.Validate())
}

func TestValidate_Bounds(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = validConfig(t)
	cfg.Worker.Concurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig(t)
	cfg.Monitoring.FailureRateThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = validConfig(t)
	cfg.Scrape.Proxies = []string{"not a url"}
	assert.Error(t, cfg.Validate())
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))
}

func TestInitLoggerJSON(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
