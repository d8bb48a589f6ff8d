// Package config loads soundshelf configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ErrMissingJWTSecret is returned when no token signing secret is configured.
var ErrMissingJWTSecret = errors.New("missing jwt secret (auth.jwt_secret or SOUNDSHELF_JWT_SECRET)")

// ErrMissingBucket is returned when object storage is configured without a bucket.
var ErrMissingBucket = errors.New("storage.bucket is required when storage.endpoint is set")

// ErrMissingPublicBaseURL is returned when track URLs would have no base to
// resolve against.
var ErrMissingPublicBaseURL = errors.New("storage.public_base_url must be an absolute url")

// Environment overrides.
const (
	EnvAddr        = "SOUNDSHELF_ADDR"
	EnvDatabaseURL = "SOUNDSHELF_DATABASE_URL"
	EnvJWTSecret   = "SOUNDSHELF_JWT_SECRET"
	EnvS3Endpoint  = "SOUNDSHELF_S3_ENDPOINT"
	EnvS3AccessKey = "SOUNDSHELF_S3_ACCESS_KEY"
	EnvS3SecretKey = "SOUNDSHELF_S3_SECRET_KEY"
	EnvLogLevel    = "SOUNDSHELF_LOG_LEVEL"
)

// Config is the full service configuration.
type Config struct {
	Addr        string          `yaml:"addr"`
	DatabaseURL string          `yaml:"database_url"` // empty selects the in-memory catalog
	Auth        AuthConfig      `yaml:"auth"`
	Storage     StorageConfig   `yaml:"storage"`
	Quota       QuotaConfig     `yaml:"quota"`
	Transcode   TranscodeConfig `yaml:"transcode"`
	Sharing     SharingConfig   `yaml:"sharing"`
	Log         LogConfig       `yaml:"log"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"` // optional; checked when set
}

// StorageConfig configures the object store. An empty endpoint selects the
// in-memory store.
type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
	TokenBaseURL  string `yaml:"token_base_url"`
}

// QuotaConfig configures the per-user storage cap.
type QuotaConfig struct {
	Limit      string `yaml:"limit"` // e.g. "100MiB"
	LimitBytes int64  `yaml:"-"`
}

// TranscodeConfig configures the encoder.
type TranscodeConfig struct {
	Binary         string        `yaml:"binary"`
	ScratchDir     string        `yaml:"scratch_dir"`
	Workers        int           `yaml:"workers"`
	MaxFiles       int           `yaml:"max_files"`
	Timeout        string        `yaml:"timeout"`
	TimeoutValue   time.Duration `yaml:"-"`
	MaxUpload      string        `yaml:"max_upload"` // whole multipart body
	MaxUploadBytes int64         `yaml:"-"`
}

// SharingConfig configures the sharing cascade.
type SharingConfig struct {
	Workers int `yaml:"workers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Addr: ":8080",
		Storage: StorageConfig{
			Bucket:        "soundshelf",
			PublicBaseURL: "https://storage.googleapis.com",
			TokenBaseURL:  "https://firebasestorage.googleapis.com",
		},
		Quota: QuotaConfig{Limit: "100MiB"},
		Transcode: TranscodeConfig{
			Binary:    "ffmpeg",
			Workers:   4,
			MaxFiles:  10,
			Timeout:   "2m",
			MaxUpload: "256MiB",
		},
		Sharing: SharingConfig{Workers: 8},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	set(&c.Addr, EnvAddr)
	set(&c.DatabaseURL, EnvDatabaseURL)
	set(&c.Auth.JWTSecret, EnvJWTSecret)
	set(&c.Storage.Endpoint, EnvS3Endpoint)
	set(&c.Storage.AccessKey, EnvS3AccessKey)
	set(&c.Storage.SecretKey, EnvS3SecretKey)
	set(&c.Log.Level, EnvLogLevel)
}

// resolve parses the human readable sizes and durations.
func (c *Config) resolve() error {
	limit, err := humanize.ParseBytes(c.Quota.Limit)
	if err != nil {
		return fmt.Errorf("invalid quota.limit %q: %w", c.Quota.Limit, err)
	}
	c.Quota.LimitBytes = int64(limit)

	maxUpload, err := humanize.ParseBytes(c.Transcode.MaxUpload)
	if err != nil {
		return fmt.Errorf("invalid transcode.max_upload %q: %w", c.Transcode.MaxUpload, err)
	}
	c.Transcode.MaxUploadBytes = int64(maxUpload)

	timeout, err := time.ParseDuration(c.Transcode.Timeout)
	if err != nil {
		return fmt.Errorf("invalid transcode.timeout %q: %w", c.Transcode.Timeout, err)
	}
	c.Transcode.TimeoutValue = timeout
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if c.Storage.Endpoint != "" && c.Storage.Bucket == "" {
		return ErrMissingBucket
	}
	if u, err := url.Parse(c.Storage.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return ErrMissingPublicBaseURL
	}
	if c.Quota.LimitBytes <= 0 {
		return fmt.Errorf("quota.limit must be positive")
	}
	if c.Transcode.Workers <= 0 {
		return fmt.Errorf("transcode.workers must be positive")
	}
	if c.Transcode.MaxFiles <= 0 {
		return fmt.Errorf("transcode.max_files must be positive")
	}
	if c.Transcode.TimeoutValue <= 0 {
		return fmt.Errorf("transcode.timeout must be positive")
	}
	return nil
}

// MemoryCatalog reports whether the in-memory catalog is selected.
func (c *Config) MemoryCatalog() bool {
	return c.DatabaseURL == ""
}

// MemoryStorage reports whether the in-memory object store is selected.
func (c *Config) MemoryStorage() bool {
	return c.Storage.Endpoint == ""
}
