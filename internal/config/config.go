// Package config provides configuration loading and structs for the omoide server.
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
	Memory    MemoryConfig    `yaml:"memory"`
	Keyword   KeywordConfig   `yaml:"keyword"`
	Skills    SkillsConfig    `yaml:"skills"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// FlushSchedule is a cron spec (e.g. "@every 1m") for periodic snapshot
	// flushes in addition to the request-boundary flush. Empty disables it.
	FlushSchedule string `yaml:"flush_schedule"`
}

// StorageConfig holds paths for the database and snapshot files.
type StorageConfig struct {
	DatabasePath      string `yaml:"database_path"`
	IndexSnapshotPath string `yaml:"index_snapshot_path"`
	PositionMapPath   string `yaml:"position_map_path"`
	KeywordIndexPath  string `yaml:"keyword_index_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
// Provider is one of "http" (remote OpenAI-compatible service), "onnx"
// (local model, requires CGO) or "mock" (deterministic, for development).
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	ServiceURL        string  `yaml:"service_url"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	CacheSize         int64   `yaml:"cache_size"`
	ModelPath         string  `yaml:"model_path"`
	MaxTokens         int     `yaml:"max_tokens"`
}

// MemoryConfig holds retrieval and short-term tier settings.
type MemoryConfig struct {
	DefaultK            int `yaml:"default_k"`
	ShortTermTTLSeconds int `yaml:"short_term_ttl_seconds"`
	MaxConversations    int `yaml:"max_conversations"`
}

// KeywordConfig enables the optional keyword recall index over memory text.
type KeywordConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SkillsConfig holds the skills manifest location.
type SkillsConfig struct {
	ManifestPath  string `yaml:"manifest_path"`
	WatchManifest bool   `yaml:"watch_manifest"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
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

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexSnapshotPath = expandPath(cfg.Storage.IndexSnapshotPath, configDir)
	cfg.Storage.PositionMapPath = expandPath(cfg.Storage.PositionMapPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Skills.ManifestPath != "" {
		cfg.Skills.ManifestPath = expandPath(cfg.Skills.ManifestPath, configDir)
	}

	return &cfg, nil
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
