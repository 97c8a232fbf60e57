// Package config provides configuration loading and structs for the dataforge server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/pipeline"
	"github.com/hyperjump/dataforge/internal/prompts"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the model section.
const (
	EnvModelAPIKey  = "DATAFORGE_MODEL_API_KEY"
	EnvModelBaseURL = "DATAFORGE_MODEL_BASE_URL"
	EnvModelName    = "DATAFORGE_MODEL_NAME"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug" toml:"debug"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Storage  StorageConfig  `yaml:"storage" toml:"storage"`
	Model    llm.Config     `yaml:"model" toml:"model"`
	Pipeline PipelineConfig `yaml:"pipeline" toml:"pipeline"`
	Watch    WatchConfig    `yaml:"watch" toml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// StorageConfig holds paths for the database and the keyword index.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path" toml:"database_path"`
	KeywordIndexPath string `yaml:"keyword_index_path" toml:"keyword_index_path"`
}

// PipelineConfig holds chunking and generation settings.
type PipelineConfig struct {
	TextSplitMinLength       int            `yaml:"text_split_min_length" toml:"text_split_min_length"`
	TextSplitMaxLength       int            `yaml:"text_split_max_length" toml:"text_split_max_length"`
	QuestionGenerationLength int            `yaml:"question_generation_length" toml:"question_generation_length"`
	ConcurrencyLimit         int            `yaml:"concurrency_limit" toml:"concurrency_limit"`
	Language                 string         `yaml:"language" toml:"language"`
	RefineCot                *bool          `yaml:"refine_cot" toml:"refine_cot"`
	Prompts                  prompts.Custom `yaml:"prompts" toml:"prompts"`
}

// RefineCotOrDefault returns whether to refine chains of thought; defaults to true when unset.
func (p *PipelineConfig) RefineCotOrDefault() bool {
	if p.RefineCot != nil {
		return *p.RefineCot
	}
	return true
}

// WatchConfig holds the inbox directory settings. Files dropped into Directory are ingested
// into ProjectID.
type WatchConfig struct {
	Directory  string   `yaml:"directory" toml:"directory"`
	ProjectID  string   `yaml:"project_id" toml:"project_id"`
	Extensions []string `yaml:"extensions" toml:"extensions"`
	Recursive  *bool    `yaml:"recursive" toml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Enabled reports whether an inbox is configured.
func (w *WatchConfig) Enabled() bool {
	return w.Directory != "" && w.ProjectID != ""
}

// Default returns the configuration used when no file exists: defaults plus environment.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

// Load reads and parses the config file at path, applies defaults, expands paths and applies
// environment overrides. Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	if cfg.Watch.Directory != "" {
		cfg.Watch.Directory = expandPath(cfg.Watch.Directory, configDir)
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path in the format chosen by its extension.
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings no pipeline call could run with.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.TextSplitMinLength < 0 || p.TextSplitMaxLength < 1 || p.TextSplitMinLength > p.TextSplitMaxLength {
		return fmt.Errorf("invalid config: text_split_min_length %d must not exceed text_split_max_length %d",
			p.TextSplitMinLength, p.TextSplitMaxLength)
	}
	switch p.Language {
	case prompts.LangEnglish, prompts.LangChinese:
	default:
		return fmt.Errorf("invalid config: unsupported language %q", p.Language)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: port %d out of range", c.Server.Port)
	}
	return nil
}

// Settings returns the per-call pipeline settings derived from the config.
func (c *Config) Settings() pipeline.Settings {
	return pipeline.Settings{
		Model:                    c.Model,
		TextSplitMinLength:       c.Pipeline.TextSplitMinLength,
		TextSplitMaxLength:       c.Pipeline.TextSplitMaxLength,
		QuestionGenerationLength: c.Pipeline.QuestionGenerationLength,
		ConcurrencyLimit:         c.Pipeline.ConcurrencyLimit,
		Language:                 c.Pipeline.Language,
		RefineCot:                c.Pipeline.RefineCotOrDefault(),
		Prompts:                  c.Pipeline.Prompts,
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvModelAPIKey); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv(EnvModelBaseURL); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv(EnvModelName); v != "" {
		cfg.Model.Name = v
	}
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
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
