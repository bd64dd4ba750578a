// Package config provides configuration loading and structs for the atsume collector.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// AppName is the directory name used under the XDG base directories.
const AppName = "atsume"

// Fetch modes.
const (
	ModeAPI     = "api"
	ModeCapture = "capture"
)

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Extract    ExtractConfig    `yaml:"extract"`
	Categorize CategorizeConfig `yaml:"categorize"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Watch      WatchConfig      `yaml:"watch"`
	Sources    []SourceConfig   `yaml:"sources"`
}

// ServerConfig holds HTTP read API settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database, the prompt index and fetch checkpoints.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexPath    string `yaml:"index_path"`
	// CheckpointDir holds one cursor checkpoint per source. Empty disables checkpointing.
	CheckpointDir string `yaml:"checkpoint_dir"`
}

// FetchConfig describes the upstream source and the client's retry policy.
type FetchConfig struct {
	Mode           string        `yaml:"mode"`
	BaseURL        string        `yaml:"base_url"`
	Endpoint       string        `yaml:"endpoint"`
	PageSize       int           `yaml:"page_size"`
	MaxPages       int           `yaml:"max_pages"`
	InterPageDelay time.Duration `yaml:"inter_page_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryWait      time.Duration `yaml:"retry_wait"`
	RetryMaxWait   time.Duration `yaml:"retry_max_wait"`
	UserAgent      string        `yaml:"user_agent"`
	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv         string `yaml:"token_env"`
	RPCBaseURL       string `yaml:"rpc_base_url"`
	RPCProcedure     string `yaml:"rpc_procedure"`
	SecondaryIDParam string `yaml:"secondary_id_param"`
	CaptureDir       string `yaml:"capture_dir"`
}

// Token returns the bearer token from the configured environment variable, if any.
func (f *FetchConfig) Token() string {
	if f.TokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(f.TokenEnv))
}

// ExtractConfig holds the alias tables used to normalize heterogeneous payloads.
// Earlier entries win.
type ExtractConfig struct {
	ContainerKeys []string `yaml:"container_keys"`
	PromptKeys    []string `yaml:"prompt_keys"`
	NegativeKeys  []string `yaml:"negative_keys"`
	IDKeys        []string `yaml:"id_keys"`
	ModelIDKeys   []string `yaml:"model_id_keys"`
	// MetaKeys name nested objects (e.g. "meta") probed for prompt fields when the item itself has none.
	MetaKeys []string `yaml:"meta_keys"`
}

// CategorizeConfig holds keyword rules and clustering parameters.
type CategorizeConfig struct {
	Rules          map[string][]string `yaml:"rules"`
	DefaultTag     string              `yaml:"default_tag"`
	UseDefaultTag  bool                `yaml:"use_default_tag"`
	MinClusterSize int                 `yaml:"min_cluster_size"`
	Neighbors      int                 `yaml:"neighbors"`
	Components     int                 `yaml:"components"`
	KMeansK        int                 `yaml:"kmeans_k"`
	SummaryWords   int                 `yaml:"summary_words"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Dimensions int    `yaml:"dimensions"`
	ModelPath  string `yaml:"model_path"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// APIKey returns the provider key from the configured environment variable.
func (e *EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(e.APIKeyEnv))
}

// WatchConfig holds drop-directory settings for capture imports.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
}

// SourceConfig is one named collection target. Empty fields inherit from FetchConfig.
type SourceConfig struct {
	Name     string            `yaml:"name"`
	ModelID  string            `yaml:"model_id"`
	Endpoint string            `yaml:"endpoint"`
	Params   map[string]string `yaml:"params"`
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.expandPaths(filepath.Dir(path))
	return &cfg, nil
}

// Default returns the built-in configuration with paths under the XDG data home.
func Default() *Config {
	var cfg Config
	// Defaults always merge cleanly into a zero config.
	_ = ApplyDefaults(&cfg)
	cfg.expandPaths("")
	return &cfg
}

// DefaultPath returns the XDG config file location, e.g. ~/.config/atsume/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Fetch.Mode {
	case ModeAPI, ModeCapture:
	default:
		return fmt.Errorf("invalid fetch mode %q (want %q or %q)", c.Fetch.Mode, ModeAPI, ModeCapture)
	}
	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderONNX, ProviderMock:
	default:
		return fmt.Errorf("invalid embedding provider %q", c.Embedding.Provider)
	}
	if c.Fetch.PageSize <= 0 {
		return fmt.Errorf("fetch.page_size must be positive, got %d", c.Fetch.PageSize)
	}
	if c.Fetch.MaxPages <= 0 {
		return fmt.Errorf("fetch.max_pages must be positive, got %d", c.Fetch.MaxPages)
	}
	if c.Fetch.InterPageDelay < 0 {
		return fmt.Errorf("fetch.inter_page_delay must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// Source returns the named source, or false when none matches.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	c.Storage.IndexPath = expandPath(c.Storage.IndexPath, configDir)
	c.Storage.CheckpointDir = expandPath(c.Storage.CheckpointDir, configDir)
	c.Fetch.CaptureDir = expandPath(c.Fetch.CaptureDir, configDir)
	c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	for i := range c.Watch.Directories {
		c.Watch.Directories[i] = expandPath(c.Watch.Directories[i], configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the XDG data directory for the application.
// Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if configDir != "" && (strings.HasPrefix(path, "./") || path == ".") {
		return filepath.Join(configDir, path)
	}
	return filepath.Join(xdg.DataHome, AppName, path)
}
