// Package config loads settings from an optional TOML file overlaid with
// JQL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// MemoryDatabaseURL selects the in-process store.
const MemoryDatabaseURL = "memory://"

type Config struct {
	DatabaseURL string // JQL_DATABASE_URL (required; "memory://" for the in-process store)
	NATSURL     string // JQL_NATS_URL (optional, empty = no events)
	IndexDir    string // JQL_INDEX_DIR (empty = in-memory indexes)
	LogLevel    slog.Level

	MaxClauses      int // JQL_MAX_CLAUSES (default 1024)
	DefaultPageSize int // JQL_DEFAULT_PAGE_SIZE (default 50)
	StreamBatch     int // JQL_STREAM_BATCH (default 100)
	IndexBatch      int // JQL_INDEX_BATCH (default 200)

	// Sync settings
	SyncInterval   time.Duration // JQL_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string        // JQL_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // JQL_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // JQL_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // JQL_SYNC_S3_KEY (default "issuesearch/filters.jsonl")
	SyncGitRepo    string        // JQL_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // JQL_SYNC_GIT_FILE (default "filters.jsonl")
	SyncGitBranch  string        // JQL_SYNC_GIT_BRANCH (default "main")
}

// File is the TOML layout of the file named by JQL_CONFIG_FILE. Durations
// and log levels are strings ("3m", "debug").
type File struct {
	DatabaseURL     string   `toml:"database_url,omitempty"`
	NATSURL         string   `toml:"nats_url,omitempty"`
	IndexDir        string   `toml:"index_dir,omitempty"`
	LogLevel        string   `toml:"log_level,omitempty"`
	MaxClauses      int      `toml:"max_clauses,omitempty"`
	DefaultPageSize int      `toml:"default_page_size,omitempty"`
	StreamBatch     int      `toml:"stream_batch,omitempty"`
	IndexBatch      int      `toml:"index_batch,omitempty"`
	Sync            SyncFile `toml:"sync"`
}

type SyncFile struct {
	Interval   string `toml:"interval,omitempty"`
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Key      string `toml:"s3_key,omitempty"`
	GitRepo    string `toml:"git_repo,omitempty"`
	GitFile    string `toml:"git_file,omitempty"`
	GitBranch  string `toml:"git_branch,omitempty"`
}

func defaults() File {
	return File{
		LogLevel:        "info",
		MaxClauses:      1024,
		DefaultPageSize: 50,
		StreamBatch:     100,
		IndexBatch:      200,
		Sync: SyncFile{
			Interval:  "3m",
			S3Region:  "us-east-1",
			S3Key:     "issuesearch/filters.jsonl",
			GitFile:   "filters.jsonl",
			GitBranch: "main",
		},
	}
}

// Load builds the configuration: defaults, then the TOML file named by
// JQL_CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	f := defaults()
	if path := os.Getenv("JQL_CONFIG_FILE"); path != "" {
		md, err := toml.DecodeFile(path, &f)
		if err != nil {
			return nil, fmt.Errorf("JQL_CONFIG_FILE %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("JQL_CONFIG_FILE %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	f.DatabaseURL = envOrDefault("JQL_DATABASE_URL", f.DatabaseURL)
	f.NATSURL = envOrDefault("JQL_NATS_URL", f.NATSURL)
	f.IndexDir = envOrDefault("JQL_INDEX_DIR", f.IndexDir)
	f.LogLevel = envOrDefault("JQL_LOG_LEVEL", f.LogLevel)
	f.Sync.Interval = envOrDefault("JQL_SYNC_INTERVAL", f.Sync.Interval)
	f.Sync.S3Bucket = envOrDefault("JQL_SYNC_S3_BUCKET", f.Sync.S3Bucket)
	f.Sync.S3Endpoint = envOrDefault("JQL_SYNC_S3_ENDPOINT", f.Sync.S3Endpoint)
	f.Sync.S3Region = envOrDefault("JQL_SYNC_S3_REGION", f.Sync.S3Region)
	f.Sync.S3Key = envOrDefault("JQL_SYNC_S3_KEY", f.Sync.S3Key)
	f.Sync.GitRepo = envOrDefault("JQL_SYNC_GIT_REPO", f.Sync.GitRepo)
	f.Sync.GitFile = envOrDefault("JQL_SYNC_GIT_FILE", f.Sync.GitFile)
	f.Sync.GitBranch = envOrDefault("JQL_SYNC_GIT_BRANCH", f.Sync.GitBranch)

	var errs []error
	for _, v := range []struct {
		key string
		dst *int
	}{
		{"JQL_MAX_CLAUSES", &f.MaxClauses},
		{"JQL_DEFAULT_PAGE_SIZE", &f.DefaultPageSize},
		{"JQL_STREAM_BATCH", &f.StreamBatch},
		{"JQL_INDEX_BATCH", &f.IndexBatch},
	} {
		if err := envInt(v.key, v.dst); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.resolve()
}

// resolve validates f and converts it to a Config.
func (f File) resolve() (*Config, error) {
	c := &Config{
		DatabaseURL:     f.DatabaseURL,
		NATSURL:         f.NATSURL,
		IndexDir:        f.IndexDir,
		MaxClauses:      f.MaxClauses,
		DefaultPageSize: f.DefaultPageSize,
		StreamBatch:     f.StreamBatch,
		IndexBatch:      f.IndexBatch,
		SyncS3Bucket:    f.Sync.S3Bucket,
		SyncS3Endpoint:  f.Sync.S3Endpoint,
		SyncS3Region:    f.Sync.S3Region,
		SyncS3Key:       f.Sync.S3Key,
		SyncGitRepo:     f.Sync.GitRepo,
		SyncGitFile:     f.Sync.GitFile,
		SyncGitBranch:   f.Sync.GitBranch,
	}
	if c.DatabaseURL == "" {
		return nil, errors.New("JQL_DATABASE_URL is required")
	}
	if err := c.LogLevel.UnmarshalText([]byte(f.LogLevel)); err != nil {
		return nil, fmt.Errorf("JQL_LOG_LEVEL: %w", err)
	}
	for name, n := range map[string]int{
		"JQL_MAX_CLAUSES":       c.MaxClauses,
		"JQL_DEFAULT_PAGE_SIZE": c.DefaultPageSize,
		"JQL_STREAM_BATCH":      c.StreamBatch,
		"JQL_INDEX_BATCH":       c.IndexBatch,
	} {
		if n < 1 {
			return nil, fmt.Errorf("%s must be positive, got %d", name, n)
		}
	}
	if f.Sync.Interval != "" {
		d, err := time.ParseDuration(f.Sync.Interval)
		if err != nil {
			return nil, fmt.Errorf("JQL_SYNC_INTERVAL: %w", err)
		}
		c.SyncInterval = d
	}
	return c, nil
}

// File returns the TOML layout of c.
func (c *Config) File() File {
	return File{
		DatabaseURL:     c.DatabaseURL,
		NATSURL:         c.NATSURL,
		IndexDir:        c.IndexDir,
		LogLevel:        strings.ToLower(c.LogLevel.String()),
		MaxClauses:      c.MaxClauses,
		DefaultPageSize: c.DefaultPageSize,
		StreamBatch:     c.StreamBatch,
		IndexBatch:      c.IndexBatch,
		Sync: SyncFile{
			Interval:   c.SyncInterval.String(),
			S3Bucket:   c.SyncS3Bucket,
			S3Endpoint: c.SyncS3Endpoint,
			S3Region:   c.SyncS3Region,
			S3Key:      c.SyncS3Key,
			GitRepo:    c.SyncGitRepo,
			GitFile:    c.SyncGitFile,
			GitBranch:  c.SyncGitBranch,
		},
	}
}

// WriteTOML encodes c in the JQL_CONFIG_FILE format.
func (c *Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c.File())
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
