// Package config provides configuration loading and structs for the pricematch server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Matching  MatchingConfig  `yaml:"matching"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the session database and uploaded spreadsheets.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	UploadDir    string `yaml:"upload_dir"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	ModelPath    string        `yaml:"model_path"`
	Dimensions   int           `yaml:"dimensions"`
	MaxTokens    int           `yaml:"max_tokens"`
	CacheSize    int           `yaml:"cache_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout Duration      `yaml:"batch_timeout"`
}

// MatchingConfig holds run parameters for the matching engine.
type MatchingConfig struct {
	// Threshold is the minimum cosine similarity for a match, in [-1, 1].
	Threshold float64 `yaml:"threshold"`
	// TieEpsilon is the tolerance within which two best scores count as a tie.
	TieEpsilon float64 `yaml:"tie_epsilon"`
	// SessionTTL is how long an uncompleted session survives before eviction.
	SessionTTL Duration `yaml:"session_ttl"`
}

// WatchConfig holds inbox directory watch settings for auto-registering spreadsheets.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed, or if run parameters
// are out of range.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.UploadDir = expandPath(cfg.Storage.UploadDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks run parameters. An out-of-range threshold or a negative tie
// epsilon is a configuration error, rejected at load time rather than clamped.
func Validate(cfg *Config) error {
	if cfg.Matching.Threshold < -1 || cfg.Matching.Threshold > 1 {
		return fmt.Errorf("matching.threshold %v out of range [-1, 1]", cfg.Matching.Threshold)
	}
	if cfg.Matching.TieEpsilon < 0 {
		return fmt.Errorf("matching.tie_epsilon must not be negative, got %v", cfg.Matching.TieEpsilon)
	}
	if cfg.Matching.SessionTTL <= 0 {
		return fmt.Errorf("matching.session_ttl must be positive, got %v", cfg.Matching.SessionTTL)
	}
	if cfg.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", cfg.Embedding.BatchSize)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
