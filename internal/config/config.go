// Package config holds the settings shared by every synget command.
//
// Values are layered: built-in defaults, then the YAML file
// (~/.synget.yaml or --config), then a .env file and SYNAPSE_/SYNGET_
// environment variables, then command-line flags via Merge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/synget/synget/internal/synapse"
	"github.com/synget/synget/internal/utils"
)

const FileName = ".synget.yaml"

type Config struct {
	RepoEndpoint string
	FileEndpoint string
	AuthToken    string
	Workers      int
	Connections  int
	PartSize     int64
	Timeout      time.Duration
	KATimeout    time.Duration
	URLBuffer    time.Duration
	RateLimit    int64
	Retry        utils.RetryConfig
	AWS          AWSConfig
	OutputDir    string
	UserAgent    string
	ProxyURL     string
}

// AWSConfig switches URL signing from Synapse to local S3 presigning.
type AWSConfig struct {
	Direct  bool
	Profile string
	Region  string
	Expires time.Duration
}

func Default() Config {
	return Config{
		RepoEndpoint: synapse.DefaultRepoEndpoint,
		FileEndpoint: synapse.DefaultFileEndpoint,
		Workers:      utils.DefaultWorkers,
		Connections:  utils.DefaultConnections,
		PartSize:     utils.DefaultPartSize,
		Timeout:      utils.DefaultTimeout,
		KATimeout:    utils.DefaultKATimeout,
		URLBuffer:    utils.DefaultURLBuffer,
		Retry: utils.RetryConfig{
			Attempts:   utils.DefaultRetryAttempts,
			Backoff:    utils.DefaultRetryBackoff,
			MaxBackoff: utils.DefaultRetryMax,
		},
	}
}

// yamlConfig mirrors Config with human-readable sizes and durations.
type yamlConfig struct {
	RepoEndpoint string          `yaml:"repo_endpoint"`
	FileEndpoint string          `yaml:"file_endpoint"`
	AuthToken    string          `yaml:"auth_token"`
	Workers      int             `yaml:"workers"`
	Connections  int             `yaml:"connections"`
	PartSize     string          `yaml:"part_size"`
	Timeout      string          `yaml:"timeout"`
	KATimeout    string          `yaml:"keep_alive_timeout"`
	URLBuffer    string          `yaml:"url_buffer"`
	RateLimit    string          `yaml:"rate_limit"`
	Retry        yamlRetryConfig `yaml:"retry"`
	AWS          yamlAWSConfig   `yaml:"aws"`
	OutputDir    string          `yaml:"output_dir"`
	UserAgent    string          `yaml:"user_agent"`
	ProxyURL     string          `yaml:"proxy"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

type yamlAWSConfig struct {
	Direct  bool   `yaml:"direct"`
	Profile string `yaml:"profile"`
	Region  string `yaml:"region"`
	Expires string `yaml:"expires"`
}

// DefaultPath is ~/.synget.yaml, or "" when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, FileName)
}

// Load builds the configuration from defaults, the YAML file at path, a
// .env file in the working directory and the environment. An empty path
// reads DefaultPath when it exists.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if p := DefaultPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv adds variables from a .env file without overriding ones that
// are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	setString(&cfg.RepoEndpoint, yc.RepoEndpoint)
	setString(&cfg.FileEndpoint, yc.FileEndpoint)
	setString(&cfg.AuthToken, yc.AuthToken)
	setString(&cfg.OutputDir, yc.OutputDir)
	setString(&cfg.UserAgent, yc.UserAgent)
	setString(&cfg.ProxyURL, yc.ProxyURL)
	setString(&cfg.AWS.Profile, yc.AWS.Profile)
	setString(&cfg.AWS.Region, yc.AWS.Region)
	cfg.AWS.Direct = yc.AWS.Direct
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.Connections != 0 {
		cfg.Connections = yc.Connections
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}

	for _, f := range []struct {
		name  string
		value string
		dst   *int64
	}{
		{"part_size", yc.PartSize, &cfg.PartSize},
		{"rate_limit", yc.RateLimit, &cfg.RateLimit},
	} {
		if f.value == "" {
			continue
		}
		n, err := utils.ParseBytes(f.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = n
	}

	for _, f := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"timeout", yc.Timeout, &cfg.Timeout},
		{"keep_alive_timeout", yc.KATimeout, &cfg.KATimeout},
		{"url_buffer", yc.URLBuffer, &cfg.URLBuffer},
		{"retry.backoff", yc.Retry.Backoff, &cfg.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff},
		{"aws.expires", yc.AWS.Expires, &cfg.AWS.Expires},
	} {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadFromEnv applies SYNAPSE_AUTH_TOKEN, SYNAPSE_REPO_ENDPOINT,
// SYNAPSE_FILE_ENDPOINT, the AWS_PROFILE/AWS_REGION pair and SYNGET_*
// overrides.
func (c *Config) LoadFromEnv() error {
	setString(&c.AuthToken, os.Getenv("SYNAPSE_AUTH_TOKEN"))
	setString(&c.RepoEndpoint, os.Getenv("SYNAPSE_REPO_ENDPOINT"))
	setString(&c.FileEndpoint, os.Getenv("SYNAPSE_FILE_ENDPOINT"))
	setString(&c.AWS.Profile, os.Getenv("SYNGET_AWS_PROFILE"))
	setString(&c.AWS.Region, os.Getenv("SYNGET_AWS_REGION"))
	setString(&c.OutputDir, os.Getenv("SYNGET_OUTPUT_DIR"))

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"SYNGET_WORKERS", &c.Workers},
		{"SYNGET_CONNECTIONS", &c.Connections},
		{"SYNGET_RETRY_ATTEMPTS", &c.Retry.Attempts},
	} {
		if v := os.Getenv(f.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", f.name, err)
			}
			*f.dst = n
		}
	}
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"SYNGET_PART_SIZE", &c.PartSize},
		{"SYNGET_RATE_LIMIT", &c.RateLimit},
	} {
		if v := os.Getenv(f.name); v != "" {
			n, err := utils.ParseBytes(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", f.name, err)
			}
			*f.dst = n
		}
	}
	for _, f := range []struct {
		name string
		dst  *time.Duration
	}{
		{"SYNGET_TIMEOUT", &c.Timeout},
		{"SYNGET_RETRY_BACKOFF", &c.Retry.Backoff},
		{"SYNGET_RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff},
	} {
		if v := os.Getenv(f.name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", f.name, err)
			}
			*f.dst = d
		}
	}
	if v := os.Getenv("SYNGET_AWS_DIRECT"); v != "" {
		c.AWS.Direct = v == "true" || v == "1"
	}
	return nil
}

func (c *Config) Validate() error {
	if c.RepoEndpoint == "" || c.FileEndpoint == "" {
		return errors.New("config: synapse endpoints are required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Connections <= 0 || c.Connections > utils.MaxConnections {
		return fmt.Errorf("config: connections must be between 1 and %d", utils.MaxConnections)
	}
	if c.PartSize <= 0 {
		return errors.New("config: part_size must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("config: rate_limit must not be negative")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if c.URLBuffer < 0 {
		return errors.New("config: url_buffer must not be negative")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Retry.Backoff <= 0 || c.Retry.MaxBackoff < c.Retry.Backoff {
		return errors.New("config: retry.max_backoff must be at least retry.backoff")
	}
	return nil
}

// Merge returns c with every non-zero field of override applied.
func (c Config) Merge(override Config) Config {
	setString(&c.RepoEndpoint, override.RepoEndpoint)
	setString(&c.FileEndpoint, override.FileEndpoint)
	setString(&c.AuthToken, override.AuthToken)
	setString(&c.OutputDir, override.OutputDir)
	setString(&c.UserAgent, override.UserAgent)
	setString(&c.ProxyURL, override.ProxyURL)
	setString(&c.AWS.Profile, override.AWS.Profile)
	setString(&c.AWS.Region, override.AWS.Region)
	if override.AWS.Direct {
		c.AWS.Direct = true
	}
	if override.AWS.Expires != 0 {
		c.AWS.Expires = override.AWS.Expires
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.Connections != 0 {
		c.Connections = override.Connections
	}
	if override.PartSize != 0 {
		c.PartSize = override.PartSize
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.KATimeout != 0 {
		c.KATimeout = override.KATimeout
	}
	if override.URLBuffer != 0 {
		c.URLBuffer = override.URLBuffer
	}
	if override.RateLimit != 0 {
		c.RateLimit = override.RateLimit
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}

// HTTPClientConfig is the transport setup shared by the Synapse client and
// storage fetches.
func (c Config) HTTPClientConfig(headers map[string]string) utils.HTTPClientConfig {
	return utils.HTTPClientConfig{
		Timeout:        c.Timeout,
		KATimeout:      c.KATimeout,
		ProxyURL:       c.ProxyURL,
		UserAgent:      c.UserAgent,
		Headers:        headers,
		HighThreadMode: c.Connections*c.Workers > 16,
	}
}

func (c Config) SynapseConfig(headers map[string]string) synapse.Config {
	return synapse.Config{
		RepoEndpoint: c.RepoEndpoint,
		FileEndpoint: c.FileEndpoint,
		AuthToken:    c.AuthToken,
		HTTP:         c.HTTPClientConfig(headers),
	}
}
