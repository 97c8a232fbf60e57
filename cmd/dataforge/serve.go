package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/dataforge/internal/cli"
	"github.com/hyperjump/dataforge/internal/config"
	"github.com/hyperjump/dataforge/internal/keyword"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/server"
	"github.com/hyperjump/dataforge/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var searchCmd = &cobra.Command{
	Use:   "search <project> <query...>",
	Short: "Search a project's chunks",
	Long: `Searches chunk text and names within one project. The query is all remaining
arguments joined by spaces. When nothing matches, the search is retried with typo tolerance.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	q := &models.SearchQuery{ProjectID: args[0], Query: joinArgs(args[1:]), Limit: searchLimit}
	if searchServer != "" {
		// Use the HTTP API when a server holds the index open.
		format, err := cli.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		resp, err := searchViaHTTP(cmd.Context(), searchServer, q)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
	}
	return withComponents(func(s *session, c *Components) error {
		resp, err := keyword.SearchChunks(cmd.Context(), c.KeywordIndex, q)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		return cli.WriteSearchResults(cmd.OutOrStdout(), resp, s.format)
	})
}

func searchViaHTTP(ctx context.Context, serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(serverURL, "/") + "/api/v1/projects/" + query.ProjectID + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

// newInbox wires the configured inbox directory to file ingestion into the watch project.
func newInbox(cfg *config.Config, c *Components, logger *zap.Logger) *watcher.Inbox {
	projectID := cfg.Watch.ProjectID
	settings := cfg.Settings()
	handler := watcher.HandlerFuncs{
		Changed: func(ctx context.Context, path string) error {
			res, err := c.Orchestrator.IngestFile(ctx, settings, projectID, path, cfg.Watch.Extensions)
			if err != nil {
				return err
			}
			if res != nil {
				logger.Info("inbox file ingested",
					zap.String("path", path),
					zap.String("document_id", res.Document.ID),
					zap.Int("chunks", len(res.Chunks)))
			}
			return nil
		},
		Removed: func(ctx context.Context, path string) error {
			return c.Orchestrator.RemoveFile(ctx, projectID, path)
		},
	}
	return watcher.NewInbox(cfg.Watch.Directory, cfg.Watch.Extensions, cfg.Watch.RecursiveOrDefault(), handler,
		watcher.WithLogger(logger))
}

// startInbox checks the watch project exists, starts watching and queues the files already
// in the directory.
func startInbox(ctx context.Context, cfg *config.Config, c *Components, logger *zap.Logger) (*watcher.Inbox, error) {
	if _, err := c.Storage.GetProject(ctx, cfg.Watch.ProjectID); err != nil {
		return nil, fmt.Errorf("watch project %q: %w", cfg.Watch.ProjectID, err)
	}
	inbox := newInbox(cfg, c, logger)
	if err := inbox.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	inbox.SyncExistingFiles()
	logger.Info("watching inbox",
		zap.String("directory", inbox.Root()),
		zap.String("project_id", cfg.Watch.ProjectID))
	return inbox, nil
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP API (and the inbox watcher when configured)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(func(s *session, c *Components) error {
			ctx := cmd.Context()
			if s.cfg.Watch.Enabled() {
				inbox, err := startInbox(ctx, s.cfg, c, s.logger)
				if err != nil {
					return err
				}
				defer inbox.Stop()
			}

			srv := server.NewServer(c.Orchestrator, c.Storage, c.KeywordIndex, s.cfg, s.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			s.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest files dropped into the configured inbox directory until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(func(s *session, c *Components) error {
			if !s.cfg.Watch.Enabled() {
				return errors.New("watch.directory and watch.project_id must be set in the config")
			}
			inbox, err := startInbox(cmd.Context(), s.cfg, c, s.logger)
			if err != nil {
				return err
			}
			<-cmd.Context().Done()
			inbox.Stop()
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(serverCmd, watchCmd)
}
