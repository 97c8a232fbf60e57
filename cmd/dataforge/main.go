// Package main is the dataforge CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hyperjump/dataforge/internal/cli"
	"github.com/hyperjump/dataforge/internal/config"
	"github.com/hyperjump/dataforge/internal/extract"
	"github.com/hyperjump/dataforge/internal/keyword"
	"github.com/hyperjump/dataforge/internal/pipeline"
	"github.com/hyperjump/dataforge/internal/storage"
	"github.com/hyperjump/dataforge/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/dataforge/config.yaml"

var (
	configPath   string
	debugFlag    bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "dataforge",
	Short: "Turn documents into question/answer datasets",
	Long: `dataforge splits documents into chunks, builds a domain tag tree, generates
questions per chunk, labels them against the tree and answers them with a language model.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path (.yaml or .toml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text or json")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig loads config from path. When path is the default and does not exist, it looks
// for config.yaml or config.toml in the current directory (for development) and otherwise
// falls back to built-in defaults. Returns the config and the path that was loaded, which is
// empty for built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if cwd, cwdErr := os.Getwd(); cwdErr == nil {
				for _, name := range []string{"config.yaml", "config.toml"} {
					fallback := filepath.Join(cwd, name)
					if _, statErr := os.Stat(fallback); statErr == nil {
						cfg, loadErr := config.Load(fallback)
						if loadErr != nil {
							return nil, "", loadErr
						}
						return cfg, fallback, nil
					}
				}
			}
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// session is the config, logger and output format shared by every command.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	format cli.OutputFormat
}

func newSession() (*session, error) {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved))
	return &session{cfg: cfg, logger: logger, format: format}, nil
}

func (s *session) settings() pipeline.Settings {
	return s.cfg.Settings()
}

// Components holds the long-lived stores and the orchestrator built over them.
type Components struct {
	Storage      *storage.SQLiteStorage
	KeywordIndex *keyword.BleveIndex
	Orchestrator *pipeline.Orchestrator
}

// Close stops background refinements and closes the stores.
func (c *Components) Close() {
	if c.Orchestrator != nil {
		c.Orchestrator.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	orch := pipeline.New(store,
		pipeline.WithKeywordIndex(keywordIndex),
		pipeline.WithExtractor(extract.NewExtractor()),
		pipeline.WithLogger(logger),
	)
	return &Components{Storage: store, KeywordIndex: keywordIndex, Orchestrator: orch}, nil
}

// withComponents opens a session and the stores, runs fn and closes everything.
func withComponents(fn func(s *session, c *Components) error) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.logger.Sync() }()
	c, err := initializeComponents(s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(s, c)
}
