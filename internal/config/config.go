// Package config loads configuration from defaults, an optional YAML file and
// DOCNAV_* environment variables, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCNAV_"

// Config holds client and server configuration.
type Config struct {
	// Client
	APIURL          string        `koanf:"api_url"`
	AppURL          string        `koanf:"app_url"`
	LoginURL        string        `koanf:"login_url"`
	CredentialsDir  string        `koanf:"credentials_dir"`
	SearchDebounce  time.Duration `koanf:"search_debounce"`
	SearchCacheSize int           `koanf:"search_cache_size"`
	Timeout         time.Duration `koanf:"timeout"`
	RetryMax        int           `koanf:"retry_max"`

	// Logging
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Server
	ListenAddr   string `koanf:"listen_addr"`
	MetricsAddr  string `koanf:"metrics_addr"`
	DatabaseURL  string `koanf:"database_url"`
	JWTSecret    string `koanf:"jwt_secret"`
	SeedFile     string `koanf:"seed_file"`
	DevLoginUser string `koanf:"dev_login_user"`

	// Storage backend ("static" or "s3")
	StorageBackend string        `koanf:"storage_backend"`
	StorageBaseURL string        `koanf:"storage_base_url"`
	S3Endpoint     string        `koanf:"s3_endpoint"`
	S3Bucket       string        `koanf:"s3_bucket"`
	S3AccessKey    string        `koanf:"s3_access_key"`
	S3SecretKey    string        `koanf:"s3_secret_key"`
	S3Region       string        `koanf:"s3_region"`
	S3UseSSL       bool          `koanf:"s3_use_ssl"`
	S3PresignTTL   time.Duration `koanf:"s3_presign_ttl"`
}

func defaults() map[string]any {
	return map[string]any{
		"api_url":           "http://localhost:8080",
		"app_url":           "http://localhost:8080",
		"login_url":         "http://localhost:8080/login",
		"credentials_dir":   defaultCredentialsDir(),
		"search_debounce":   "500ms",
		"search_cache_size": 64,
		"timeout":           "30s",
		"retry_max":         3,
		"log_level":         "info",
		"log_format":        "json",
		"listen_addr":       ":8080",
		"metrics_addr":      "",
		"database_url":      "",
		"jwt_secret":        "",
		"seed_file":         "",
		"dev_login_user":    "demo",
		"storage_backend":   "static",
		"storage_base_url":  "http://localhost:8080/files",
		"s3_endpoint":       "http://localhost:9000",
		"s3_bucket":         "docnav",
		"s3_access_key":     "",
		"s3_secret_key":     "",
		"s3_region":         "us-east-1",
		"s3_use_ssl":        false,
		"s3_presign_ttl":    "15m",
	}
}

func defaultCredentialsDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "docnav")
	}
	return ".docnav"
}

// Load builds the configuration. path may be empty, in which case DOCNAV_CONFIG
// is consulted; a missing file is only an error when it was named explicitly.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, errors.Wrapf(err, "default %s", key)
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %s", path)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// ValidateClient checks the keys the navigation client needs.
func (c *Config) ValidateClient() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	if c.AppURL == "" {
		return errors.New("app_url is required")
	}
	if c.LoginURL == "" {
		return errors.New("login_url is required")
	}
	if c.SearchDebounce < 0 {
		return errors.New("search_debounce must not be negative")
	}
	return nil
}

// ValidateServer checks the keys the reference server needs.
func (c *Config) ValidateServer() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	switch c.StorageBackend {
	case "static":
		if c.StorageBaseURL == "" {
			return errors.New("storage_base_url is required for the static backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("s3_bucket is required for the s3 backend")
		}
	default:
		return errors.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	return nil
}
