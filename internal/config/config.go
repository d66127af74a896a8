package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"coursekeeper.ai/internal/course"
	"coursekeeper.ai/internal/persistence/snapshot"
)

const (
	EnvAccessKeyID     = "CK_R2_ACCESS_KEY_ID"
	EnvSecretAccessKey = "CK_R2_SECRET_ACCESS_KEY"
	EnvDataDir         = "CK_DATA_DIR"
	EnvEndpoint        = "CK_R2_ENDPOINT"
	EnvBucket          = "CK_R2_BUCKET"

	IndexSQLite = "sqlite"
	IndexNone   = "none"
)

// Config is the runtime configuration (coursekeeper.yaml). Relative
// directories are resolved against DataDir.
type Config struct {
	DataDir        string   `yaml:"data_dir"`
	LevelsDir      string   `yaml:"levels_dir"`
	CoursesDir     string   `yaml:"courses_dir"`
	HistoryDir     string   `yaml:"history_dir"`
	SnapshotFormat string   `yaml:"snapshot_format"`
	MarkerBlocks   []string `yaml:"marker_blocks"`
	// Worlds lists in-memory worlds registered at startup.
	Worlds []string `yaml:"worlds,omitempty"`

	Index   IndexConfig   `yaml:"index"`
	Journal JournalConfig `yaml:"journal"`
	Mirror  MirrorConfig  `yaml:"mirror"`
}

type IndexConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type MirrorConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Workers       int    `yaml:"workers"`
	QueueCapacity int    `yaml:"queue_capacity"`
	EnqueueWaitMS int    `yaml:"enqueue_wait_ms"`

	// UploadsPerSecond of zero leaves uploads unthrottled.
	UploadsPerSecond float64 `yaml:"uploads_per_second"`

	// Credentials only come from the environment.
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

func (m MirrorConfig) EnqueueWait() time.Duration {
	return time.Duration(m.EnqueueWaitMS) * time.Millisecond
}

// Load reads path (or only defaults when path is empty), applies the
// environment and validates.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		DataDir:        "./data",
		LevelsDir:      "levels",
		CoursesDir:     "courses",
		HistoryDir:     "history",
		SnapshotFormat: snapshot.FormatZstd.String(),
		MarkerBlocks:   append([]string(nil), course.DefaultMarkerBlocks...),
		Index:          IndexConfig{Backend: IndexSQLite},
		Journal:        JournalConfig{Enabled: true},
		Mirror: MirrorConfig{
			Workers:       2,
			QueueCapacity: 2048,
			EnqueueWaitMS: 25,
		},
	}
}

// envOverrides holds the settings that may come from the environment.
type envOverrides struct {
	DataDir         string `env:"CK_DATA_DIR"`
	AccessKeyID     string `env:"CK_R2_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"CK_R2_SECRET_ACCESS_KEY"`
	MirrorEndpoint  string `env:"CK_R2_ENDPOINT"`
	MirrorBucket    string `env:"CK_R2_BUCKET"`
}

// ApplyEnv overlays non-empty environment values.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return nil
	}
	var e envOverrides
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&c.DataDir, e.DataDir)
	set(&c.Mirror.AccessKeyID, e.AccessKeyID)
	set(&c.Mirror.SecretAccessKey, e.SecretAccessKey)
	set(&c.Mirror.Endpoint, e.MirrorEndpoint)
	set(&c.Mirror.Bucket, e.MirrorBucket)
	return nil
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	c.LevelsDir = c.under(c.LevelsDir, "levels")
	c.CoursesDir = c.under(c.CoursesDir, "courses")
	c.HistoryDir = c.under(c.HistoryDir, "history")

	c.Index.Backend = strings.ToLower(strings.TrimSpace(c.Index.Backend))
	switch c.Index.Backend {
	case "", "sqlite":
		c.Index.Backend = IndexSQLite
	case "off", "disabled", "none":
		c.Index.Backend = IndexNone
	}
	c.Index.Path = c.under(c.Index.Path, filepath.Join("index", "courses.sqlite"))
	c.Journal.Dir = c.under(c.Journal.Dir, "journal")

	if strings.TrimSpace(c.SnapshotFormat) == "" {
		c.SnapshotFormat = snapshot.FormatZstd.String()
	}
	if len(c.MarkerBlocks) == 0 {
		c.MarkerBlocks = append([]string(nil), course.DefaultMarkerBlocks...)
	}
	if c.Mirror.Workers <= 0 {
		c.Mirror.Workers = 2
	}
	if c.Mirror.QueueCapacity <= 0 {
		c.Mirror.QueueCapacity = 2048
	}
	if c.Mirror.EnqueueWaitMS <= 0 {
		c.Mirror.EnqueueWaitMS = 25
	}
	if c.Mirror.UploadsPerSecond < 0 {
		c.Mirror.UploadsPerSecond = 0
	}
}

func (c *Config) under(p, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.DataDir, p)
}

func (c Config) Format() snapshot.Format {
	f, err := snapshot.ParseFormat(c.SnapshotFormat)
	if err != nil {
		return snapshot.FormatZstd
	}
	return f
}

func (c Config) Validate() error {
	if _, err := snapshot.ParseFormat(c.SnapshotFormat); err != nil {
		return fmt.Errorf("snapshot_format: %w", err)
	}
	switch c.Index.Backend {
	case IndexSQLite, IndexNone:
	default:
		return fmt.Errorf("unsupported index backend: %s", c.Index.Backend)
	}
	for i, b := range c.MarkerBlocks {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("marker_blocks[%d] is empty", i)
		}
	}
	seen := map[string]bool{}
	for _, w := range c.Worlds {
		if strings.TrimSpace(w) == "" {
			return fmt.Errorf("world id must not be empty")
		}
		if seen[w] {
			return fmt.Errorf("duplicate world id: %s", w)
		}
		seen[w] = true
	}
	if c.Mirror.Enabled {
		if strings.TrimSpace(c.Mirror.Endpoint) == "" || strings.TrimSpace(c.Mirror.Bucket) == "" {
			return fmt.Errorf("mirror enabled but endpoint/bucket are not set")
		}
		if c.Mirror.AccessKeyID == "" || c.Mirror.SecretAccessKey == "" {
			return fmt.Errorf("mirror enabled but %s/%s are not set", EnvAccessKeyID, EnvSecretAccessKey)
		}
	}
	return nil
}
