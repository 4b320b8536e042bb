package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synget/synget/internal/synapse"
	"github.com/synget/synget/internal/utils"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, synapse.DefaultRepoEndpoint, cfg.RepoEndpoint)
	assert.Equal(t, synapse.DefaultFileEndpoint, cfg.FileEndpoint)
	assert.Equal(t, int64(8*1024*1024), cfg.PartSize)
	assert.Equal(t, 8, cfg.Connections)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, time.Second, cfg.Retry.Backoff)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, 5*time.Second, cfg.URLBuffer)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, "synget.yaml", `
auth_token: abc
workers: 3
connections: 16
part_size: 16MB
rate_limit: 2MB
timeout: 90s
url_buffer: 10s
retry:
  attempts: 7
  backoff: 2s
  max_backoff: 1m
aws:
  direct: true
  profile: research
  region: us-east-1
  expires: 30m
output_dir: downloads
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.AuthToken)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 16, cfg.Connections)
	assert.Equal(t, int64(16*1024*1024), cfg.PartSize)
	assert.Equal(t, int64(2*1024*1024), cfg.RateLimit)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, 10*time.Second, cfg.URLBuffer)
	assert.Equal(t, utils.RetryConfig{Attempts: 7, Backoff: 2 * time.Second, MaxBackoff: time.Minute}, cfg.Retry)
	assert.Equal(t, AWSConfig{Direct: true, Profile: "research", Region: "us-east-1", Expires: 30 * time.Minute}, cfg.AWS)
	assert.Equal(t, "downloads", cfg.OutputDir)
	assert.Equal(t, synapse.DefaultRepoEndpoint, cfg.RepoEndpoint)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "bad.yaml", "part_size: lots\n"))
	assert.ErrorContains(t, err, "part_size")

	_, err = LoadFromFile(writeFile(t, "bad.yaml", "retry:\n  backoff: soon\n"))
	assert.ErrorContains(t, err, "retry.backoff")

	_, err = LoadFromFile(writeFile(t, "bad.yaml", "workers: [1, 2\n"))
	assert.ErrorContains(t, err, "parse config file")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SYNAPSE_AUTH_TOKEN", "env-token")
	t.Setenv("SYNAPSE_REPO_ENDPOINT", "https://repo.example.org/repo/v1")
	t.Setenv("SYNGET_CONNECTIONS", "4")
	t.Setenv("SYNGET_PART_SIZE", "1MB")
	t.Setenv("SYNGET_RETRY_BACKOFF", "250ms")
	t.Setenv("SYNGET_AWS_DIRECT", "1")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "env-token", cfg.AuthToken)
	assert.Equal(t, "https://repo.example.org/repo/v1", cfg.RepoEndpoint)
	assert.Equal(t, 4, cfg.Connections)
	assert.Equal(t, int64(1024*1024), cfg.PartSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Backoff)
	assert.True(t, cfg.AWS.Direct)

	t.Setenv("SYNGET_WORKERS", "many")
	assert.ErrorContains(t, cfg.LoadFromEnv(), "SYNGET_WORKERS")
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	t.Setenv("SYNAPSE_AUTH_TOKEN", "from-shell")
	t.Setenv("SYNGET_CONNECTIONS", "")
	path := writeFile(t, ".env", "SYNAPSE_AUTH_TOKEN=from-file\nSYNGET_CONNECTIONS=2\n")
	t.Cleanup(func() { os.Unsetenv("SYNGET_CONNECTIONS") })
	os.Unsetenv("SYNGET_CONNECTIONS")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-shell", os.Getenv("SYNAPSE_AUTH_TOKEN"))
	assert.Equal(t, "2", os.Getenv("SYNGET_CONNECTIONS"))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestMerge(t *testing.T) {
	base := Default()
	merged := base.Merge(Config{
		Connections: 32,
		PartSize:    1024,
		AuthToken:   "flag-token",
		AWS:         AWSConfig{Direct: true},
	})
	assert.Equal(t, 32, merged.Connections)
	assert.Equal(t, int64(1024), merged.PartSize)
	assert.Equal(t, "flag-token", merged.AuthToken)
	assert.True(t, merged.AWS.Direct)
	assert.Equal(t, base.Workers, merged.Workers)
	assert.Equal(t, base.Retry, merged.Retry)
	assert.Equal(t, 8, base.Connections)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"no connections", func(c *Config) { c.Connections = 0 }},
		{"too many connections", func(c *Config) { c.Connections = utils.MaxConnections + 1 }},
		{"zero part size", func(c *Config) { c.PartSize = 0 }},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }},
		{"no endpoint", func(c *Config) { c.FileEndpoint = "" }},
		{"no attempts", func(c *Config) { c.Retry.Attempts = 0 }},
		{"backoff above max", func(c *Config) { c.Retry.MaxBackoff = c.Retry.Backoff / 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSynapseConfig(t *testing.T) {
	cfg := Default()
	cfg.AuthToken = "tok"
	cfg.Connections = 32
	sc := cfg.SynapseConfig(map[string]string{"X-Test": "1"})
	assert.Equal(t, "tok", sc.AuthToken)
	assert.Equal(t, cfg.Timeout, sc.HTTP.Timeout)
	assert.True(t, sc.HTTP.HighThreadMode)
	assert.Equal(t, "1", sc.HTTP.Headers["X-Test"])
}
