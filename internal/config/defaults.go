package config

import (
	"github.com/hyperjump/dataforge/internal/extract"
	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/pipeline"
	"github.com/hyperjump/dataforge/internal/prompts"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/dataforge/data/db/dataforge.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/dataforge/data/indices/bleve"
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = llm.ProviderOpenAI
	}
	if cfg.Pipeline.TextSplitMinLength == 0 {
		cfg.Pipeline.TextSplitMinLength = pipeline.DefaultTextSplitMinLength
	}
	if cfg.Pipeline.TextSplitMaxLength == 0 {
		cfg.Pipeline.TextSplitMaxLength = pipeline.DefaultTextSplitMaxLength
	}
	if cfg.Pipeline.QuestionGenerationLength == 0 {
		cfg.Pipeline.QuestionGenerationLength = pipeline.DefaultQuestionGenerationLength
	}
	if cfg.Pipeline.ConcurrencyLimit == 0 {
		cfg.Pipeline.ConcurrencyLimit = pipeline.DefaultConcurrencyLimit
	}
	if cfg.Pipeline.Language == "" {
		cfg.Pipeline.Language = prompts.LangEnglish
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), extract.SupportedExtensions...)
	}
	// Recursive defaults to true when unset (nil).
	if cfg.Watch.Directory != "" && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
