// Package config loads the application configuration from defaults,
// an optional .env file and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Chunking  ChunkingConfig  `json:"chunking"`
	Search    SearchConfig    `json:"search"`
	Providers ProvidersConfig `json:"providers"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds"`
}

// StorageConfig represents store and filestore configuration.
type StorageConfig struct {
	DatabasePath   string `json:"database_path"`
	BlobDir        string `json:"blob_dir"`
	TranscriptsDir string `json:"transcripts_dir"`
	// MaxUploadBytes caps file uploads (413 above it).
	MaxUploadBytes int64 `json:"max_upload_bytes"`
	// InlineThresholdBytes is the hybrid storage cut-over: content below it
	// is stored inline, content at or above it goes to the blob directory.
	InlineThresholdBytes int64 `json:"inline_threshold_bytes"`
}

// ChunkingConfig represents chunker configuration.
type ChunkingConfig struct {
	LinesPerChunk int `json:"lines_per_chunk"`
}

// SearchConfig represents search behaviour configuration.
type SearchConfig struct {
	MaxLimit     int `json:"max_limit"`
	DefaultLimit int `json:"default_limit"`
}

// ProviderConfig represents the configuration of a single LLM provider.
// Adapters receive these values and never read the environment directly.
type ProviderConfig struct {
	APIKey         string        `json:"-"` // never serialize API keys
	BaseURL        string        `json:"base_url"`
	DefaultModel   string        `json:"default_model"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	RequestTimeout time.Duration `json:"request_timeout"`
	// ReasoningEffort seeds the reasoning options for providers that accept
	// an effort level (OpenAI-like).
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	// ThinkingBudgetTokens seeds the thinking budget for providers that
	// accept one (Anthropic-like).
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`
	// StatePath is the dotted path used to extract opaque provider state
	// from the raw response (Google-like, XAI-like).
	StatePath string `json:"state_path,omitempty"`
	// LatencyMS is the simulated reply latency of the mock adapter.
	LatencyMS int `json:"latency_ms,omitempty"`
}

// ProvidersConfig holds per-provider configuration keyed by family.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
	Google    ProviderConfig `json:"google"`
	XAI       ProviderConfig `json:"xai"`
	Mock      ProviderConfig `json:"mock"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8420,
			ReadTimeout:  30,
			WriteTimeout: 300, // long enough for slow provider streams
		},
		Storage: StorageConfig{
			DatabasePath:         "./data/conclave.db",
			BlobDir:              "./data/blobs",
			TranscriptsDir:       "./data/transcripts",
			MaxUploadBytes:       10 << 20,
			InlineThresholdBytes: 1 << 20,
		},
		Chunking: ChunkingConfig{
			LinesPerChunk: 50,
		},
		Search: SearchConfig{
			MaxLimit:     100,
			DefaultLimit: 20,
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				BaseURL:        "https://api.openai.com/v1",
				DefaultModel:   "gpt-4o",
				RequestTimeout: 120 * time.Second,
			},
			Anthropic: ProviderConfig{
				BaseURL:        "https://api.anthropic.com/v1",
				DefaultModel:   "claude-sonnet-4-20250514",
				MaxTokens:      8192,
				RequestTimeout: 120 * time.Second,
			},
			Google: ProviderConfig{
				BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
				DefaultModel:   "gemini-2.0-flash",
				RequestTimeout: 120 * time.Second,
			},
			XAI: ProviderConfig{
				BaseURL:        "https://api.x.ai/v1",
				DefaultModel:   "grok-3",
				RequestTimeout: 120 * time.Second,
			},
			Mock: ProviderConfig{
				DefaultModel:   "mock-echo",
				RequestTimeout: 10 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from environment variables and defaults.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()
	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(config *Config) {
	loadServerConfig(config)
	loadStorageConfig(config)
	loadProviderConfig(config)
	loadLoggingConfig(config)
}

func loadServerConfig(config *Config) {
	if host := os.Getenv("CONCLAVE_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("CONCLAVE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if readTimeout := os.Getenv("CONCLAVE_READ_TIMEOUT_SECONDS"); readTimeout != "" {
		if rt, err := strconv.Atoi(readTimeout); err == nil {
			config.Server.ReadTimeout = rt
		}
	}
	if writeTimeout := os.Getenv("CONCLAVE_WRITE_TIMEOUT_SECONDS"); writeTimeout != "" {
		if wt, err := strconv.Atoi(writeTimeout); err == nil {
			config.Server.WriteTimeout = wt
		}
	}
}

func loadStorageConfig(config *Config) {
	if dbPath := os.Getenv("CONCLAVE_DB_PATH"); dbPath != "" {
		config.Storage.DatabasePath = dbPath
	}
	if blobDir := os.Getenv("CONCLAVE_BLOB_DIR"); blobDir != "" {
		config.Storage.BlobDir = blobDir
	}
	if transcripts := os.Getenv("CONCLAVE_TRANSCRIPTS_DIR"); transcripts != "" {
		config.Storage.TranscriptsDir = transcripts
	}
	if maxUpload := os.Getenv("CONCLAVE_MAX_UPLOAD_BYTES"); maxUpload != "" {
		if mu, err := strconv.ParseInt(maxUpload, 10, 64); err == nil {
			config.Storage.MaxUploadBytes = mu
		}
	}
	if lines := os.Getenv("CONCLAVE_CHUNK_LINES"); lines != "" {
		if l, err := strconv.Atoi(lines); err == nil {
			config.Chunking.LinesPerChunk = l
		}
	}
}

func loadProviderConfig(config *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.Providers.OpenAI.APIKey = key
	}
	if model := os.Getenv("OPENAI_DEFAULT_MODEL"); model != "" {
		config.Providers.OpenAI.DefaultModel = model
	}
	if effort := os.Getenv("OPENAI_REASONING_EFFORT"); effort != "" {
		config.Providers.OpenAI.ReasoningEffort = effort
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Providers.Anthropic.APIKey = key
	}
	if model := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); model != "" {
		config.Providers.Anthropic.DefaultModel = model
	}
	if maxTokens := os.Getenv("ANTHROPIC_MAX_TOKENS"); maxTokens != "" {
		if mt, err := strconv.Atoi(maxTokens); err == nil {
			config.Providers.Anthropic.MaxTokens = mt
		}
	}
	if budget := os.Getenv("ANTHROPIC_THINKING_BUDGET"); budget != "" {
		if b, err := strconv.Atoi(budget); err == nil {
			config.Providers.Anthropic.ThinkingBudgetTokens = b
		}
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Providers.Google.APIKey = key
	} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		config.Providers.Google.APIKey = key
	}
	if model := os.Getenv("GEMINI_DEFAULT_MODEL"); model != "" {
		config.Providers.Google.DefaultModel = model
	}
	if statePath := os.Getenv("GEMINI_STATE_PATH"); statePath != "" {
		config.Providers.Google.StatePath = statePath
	}

	if key := os.Getenv("XAI_API_KEY"); key != "" {
		config.Providers.XAI.APIKey = key
	}
	if model := os.Getenv("XAI_DEFAULT_MODEL"); model != "" {
		config.Providers.XAI.DefaultModel = model
	}
	if statePath := os.Getenv("XAI_STATE_PATH"); statePath != "" {
		config.Providers.XAI.StatePath = statePath
	}

	if latency := os.Getenv("CONCLAVE_MOCK_LATENCY_MS"); latency != "" {
		if ms, err := strconv.Atoi(latency); err == nil {
			config.Providers.Mock.LatencyMS = ms
		}
	}

	if timeout := os.Getenv("CONCLAVE_PROVIDER_TIMEOUT_SECONDS"); timeout != "" {
		if ts, err := strconv.Atoi(timeout); err == nil {
			d := time.Duration(ts) * time.Second
			config.Providers.OpenAI.RequestTimeout = d
			config.Providers.Anthropic.RequestTimeout = d
			config.Providers.Google.RequestTimeout = d
			config.Providers.XAI.RequestTimeout = d
		}
	}
}

func loadLoggingConfig(config *Config) {
	if level := os.Getenv("CONCLAVE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CONCLAVE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	if c.Storage.InlineThresholdBytes <= 0 {
		return fmt.Errorf("inline threshold must be positive")
	}
	if c.Chunking.LinesPerChunk <= 0 {
		return fmt.Errorf("lines per chunk must be positive")
	}
	if c.Search.MaxLimit <= 0 || c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search limits must be positive")
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("default search limit exceeds max limit")
	}
	return nil
}

// EnsureDirs creates the storage directories if they do not exist.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(c.Storage.DatabasePath),
		c.Storage.BlobDir,
		c.Storage.TranscriptsDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
