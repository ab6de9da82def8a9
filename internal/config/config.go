// Package config loads YAML configuration with environment variable
// expansion, applies defaults, and validates the result.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for assistantd.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Engine    EngineConfig    `yaml:"engine"`
	Files     FilesConfig     `yaml:"files"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`

	// MaxUploadBytes caps file upload size.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

type DatabaseConfig struct {
	// URL is a postgres connection string. Empty selects the in-memory store.
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type QueueConfig struct {
	// RedisAddr selects the Redis-backed queue. Empty selects the in-memory queue.
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Namespace     string        `yaml:"namespace"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
	RenewInterval time.Duration `yaml:"renew_interval"`
}

type LLMConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

type RetrievalConfig struct {
	// IndexPath is the on-disk location of the vector index. Empty keeps it
	// in memory.
	IndexPath      string `yaml:"index_path"`
	EmbeddingModel string `yaml:"embedding_model"`
	TopK           int    `yaml:"top_k"`

	// MaxContextBytes bounds the retrieved text injected per run.
	MaxContextBytes int `yaml:"max_context_bytes"`
	MaxRetries      int `yaml:"max_retries"`
}

type SandboxConfig struct {
	Enabled bool          `yaml:"enabled"`
	Command string        `yaml:"command"`
	WorkDir string        `yaml:"work_dir"`
	Timeout time.Duration `yaml:"timeout"`

	// MaxRounds bounds self-correction attempts for interpreter code.
	MaxRounds int `yaml:"max_rounds"`
}

type EngineConfig struct {
	Workers        int           `yaml:"workers"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	RunExpiry      time.Duration `yaml:"run_expiry"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	MaxModelCalls  int           `yaml:"max_model_calls"`
	ActionTimeout  time.Duration `yaml:"action_timeout"`
	MaxToolOutput  int           `yaml:"max_tool_output"`
}

type FilesConfig struct {
	Dir          string `yaml:"dir"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load reads and parses the configuration file. Environment variables in the
// form $VAR or ${VAR} are expanded before parsing. A missing path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 32 << 20
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Queue.Namespace == "" {
		cfg.Queue.Namespace = "assistantd"
	}
	if cfg.Queue.LeaseDuration == 0 {
		cfg.Queue.LeaseDuration = 30 * time.Second
	}
	if cfg.Queue.RenewInterval == 0 {
		cfg.Queue.RenewInterval = 10 * time.Second
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "gpt-4o-mini"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.Retrieval.EmbeddingModel == "" {
		cfg.Retrieval.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MaxContextBytes == 0 {
		cfg.Retrieval.MaxContextBytes = 16 << 10
	}
	if cfg.Retrieval.MaxRetries == 0 {
		cfg.Retrieval.MaxRetries = 2
	}
	if cfg.Sandbox.Command == "" {
		cfg.Sandbox.Command = "python3"
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 30 * time.Second
	}
	if cfg.Sandbox.MaxRounds == 0 {
		cfg.Sandbox.MaxRounds = 3
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 4
	}
	if cfg.Engine.RunTimeout == 0 {
		cfg.Engine.RunTimeout = 5 * time.Minute
	}
	if cfg.Engine.RunExpiry == 0 {
		cfg.Engine.RunExpiry = 10 * time.Minute
	}
	if cfg.Engine.SweepInterval == 0 {
		cfg.Engine.SweepInterval = 30 * time.Second
	}
	if cfg.Engine.MaxModelCalls == 0 {
		cfg.Engine.MaxModelCalls = 10
	}
	if cfg.Engine.ActionTimeout == 0 {
		cfg.Engine.ActionTimeout = 15 * time.Second
	}
	if cfg.Engine.MaxToolOutput == 0 {
		cfg.Engine.MaxToolOutput = 64 << 10
	}
	if cfg.Files.Dir == "" {
		cfg.Files.Dir = "data/files"
	}
	if cfg.Files.ChunkSize == 0 {
		cfg.Files.ChunkSize = 2000
	}
	if cfg.Files.ChunkOverlap == 0 {
		cfg.Files.ChunkOverlap = 200
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	if c.Files.ChunkOverlap >= c.Files.ChunkSize {
		return fmt.Errorf("files: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Files.ChunkOverlap, c.Files.ChunkSize)
	}
	if c.Queue.RenewInterval >= c.Queue.LeaseDuration {
		return fmt.Errorf("queue: renew_interval (%s) must be shorter than lease_duration (%s)",
			c.Queue.RenewInterval, c.Queue.LeaseDuration)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing: endpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing: sample_ratio must be in [0,1]")
	}
	return nil
}
