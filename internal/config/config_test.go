package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "soundshelf.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr error
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults with secret from env",
			env:  map[string]string{EnvJWTSecret: "s3cret"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Quota.LimitBytes != 100*1024*1024 {
					t.Errorf("LimitBytes = %d, want 100MiB", cfg.Quota.LimitBytes)
				}
				if cfg.Transcode.TimeoutValue != 2*time.Minute {
					t.Errorf("TimeoutValue = %v, want 2m", cfg.Transcode.TimeoutValue)
				}
				if !cfg.MemoryCatalog() || !cfg.MemoryStorage() {
					t.Error("expected in-memory catalog and storage")
				}
			},
		},
		{
			name: "file values",
			body: `
addr: ":9000"
database_url: postgres://localhost/soundshelf
auth:
  jwt_secret: from-file
storage:
  endpoint: localhost:9000
  bucket: tracks
quota:
  limit: 50MB
transcode:
  workers: 2
  max_files: 3
  timeout: 30s
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Addr != ":9000" {
					t.Errorf("Addr = %q", cfg.Addr)
				}
				if cfg.Quota.LimitBytes != 50_000_000 {
					t.Errorf("LimitBytes = %d, want 50000000", cfg.Quota.LimitBytes)
				}
				if cfg.Transcode.MaxFiles != 3 || cfg.Transcode.Workers != 2 {
					t.Errorf("transcode = %+v", cfg.Transcode)
				}
				if cfg.MemoryCatalog() || cfg.MemoryStorage() {
					t.Error("expected external catalog and storage")
				}
			},
		},
		{
			name: "env overrides file",
			body: "auth:\n  jwt_secret: from-file\naddr: \":9000\"\n",
			env:  map[string]string{EnvJWTSecret: "from-env", EnvAddr: ":7000"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Auth.JWTSecret != "from-env" {
					t.Errorf("JWTSecret = %q, want from-env", cfg.Auth.JWTSecret)
				}
				if cfg.Addr != ":7000" {
					t.Errorf("Addr = %q, want :7000", cfg.Addr)
				}
			},
		},
		{
			name:    "missing secret",
			body:    "addr: \":9000\"\n",
			wantErr: ErrMissingJWTSecret,
		},
		{
			name:    "endpoint without bucket",
			body:    "auth:\n  jwt_secret: x\nstorage:\n  endpoint: localhost:9000\n  bucket: \"\"\n",
			wantErr: ErrMissingBucket,
		},
		{
			name:    "empty public base url",
			body:    "auth:\n  jwt_secret: x\nstorage:\n  public_base_url: \"\"\n",
			wantErr: ErrMissingPublicBaseURL,
		},
		{
			name:    "relative public base url",
			body:    "auth:\n  jwt_secret: x\nstorage:\n  public_base_url: /files\n",
			wantErr: ErrMissingPublicBaseURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{EnvAddr, EnvDatabaseURL, EnvJWTSecret, EnvS3Endpoint, EnvS3AccessKey, EnvS3SecretKey, EnvLogLevel} {
				if v, ok := tt.env[key]; ok {
					t.Setenv(key, v)
				} else {
					t.Setenv(key, "")
					os.Unsetenv(key)
				}
			}

			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}

			cfg, err := Load(path)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if cfg != nil {
					t.Error("Load() returned non-nil config with error")
				}
				return
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv(EnvJWTSecret, "x")

	for _, body := range []string{
		"quota:\n  limit: lots\n",
		"transcode:\n  timeout: soon\n",
		"transcode:\n  workers: 0\n",
		"log: [",
	} {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("Load(%q) succeeded, want error", body)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
