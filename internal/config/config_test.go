package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigContent = `
[development]
environment = "development"
host = "localhost"
port = 8080
log_level = "trace"
log_to_stdout = true
postgres_host = "localhost"
postgres_port = "5432"
postgres_db_name = "casinoscope_db"
redis_host = "localhost"
redis_port = "6379"
prometheus_metrics_host = "localhost"
prometheus_metrics_port = "2112"
rate_limit_store = "memory"
public_reqs_per_min = 60

[development.rate_limit_admin]
window_minutes = 60
max_requests = 100
base_block_minutes = 15

[development.rate_limit_strict]
window_minutes = 15
max_requests = 10
base_block_minutes = 30

[development.rate_limit_api]
window_minutes = 1
max_requests = 60
base_block_minutes = 5

[production]
environment = "production"
host = "0.0.0.0"
port = 9000
log_level = "debug"
logs_path = "/var/log/casinoscope/service.log"
postgres_host = "db"
postgres_port = "5432"
postgres_db_name = "casinoscope_db"
redis_host = "redis"
redis_port = "6379"
prometheus_metrics_host = "0.0.0.0"
prometheus_metrics_port = "2112"
rate_limit_store = "redis"
public_reqs_per_min = 120

[production.rate_limit_admin]
window_minutes = 60
max_requests = 100
base_block_minutes = 15

[production.rate_limit_strict]
window_minutes = 15
max_requests = 10
base_block_minutes = 30

[production.rate_limit_api]
window_minutes = 1
max_requests = 60
base_block_minutes = 5
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTestConfig(t, testConfigContent)

	cfg, err := Load("development", path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.RateLimitStore)
	assert.Equal(t, 100, cfg.RateLimitAdmin.MaxRequests)
	assert.Equal(t, 15, cfg.RateLimitStrict.WindowMinutes)
	assert.False(t, cfg.IsProduction())

	cfg, err = Load("prod", path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.IsProduction())

	_, err = Load("staging", path)
	require.Error(t, err)
}

func TestLoad_ProductionRefusesMemoryStore(t *testing.T) {
	content := testConfigContent
	path := writeTestConfig(t, content)

	cfg, err := Load("production", path)
	require.NoError(t, err)

	cfg.RateLimitStore = "memory"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed in production")
}

func TestValidate_MissingPolicy(t *testing.T) {
	path := writeTestConfig(t, testConfigContent)
	cfg, err := Load("development", path)
	require.NoError(t, err)

	cfg.RateLimitAPI.MaxRequests = 0
	require.Error(t, cfg.Validate())
}
