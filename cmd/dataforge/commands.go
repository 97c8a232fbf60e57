package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/dataforge/internal/classifier"
	"github.com/hyperjump/dataforge/internal/cli"
	"github.com/hyperjump/dataforge/internal/export"
	"github.com/hyperjump/dataforge/internal/extract"
	"github.com/hyperjump/dataforge/internal/fileid"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/pipeline"
	"github.com/hyperjump/dataforge/internal/splitter"
	"github.com/hyperjump/dataforge/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	projectDescription string
	questionCount      int
	documentID         string
	splitMin           int
	splitMax           int
	searchLimit        int
	searchServer       string
	exportFormat       string
	exportFile         string
	exportConfirmed    bool
	exportCot          bool
	exportSystem       string
	noRefine           bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(s *session, c *Components) error {
			p := &models.Project{ID: uuid.New().String(), Name: args[0], Description: projectDescription}
			if err := c.Storage.CreateProject(cmd.Context(), p); err != nil {
				return err
			}
			return cli.WriteProjects(cmd.OutOrStdout(), []*models.Project{p}, s.format)
		})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(func(s *session, c *Components) error {
			projects, err := c.Storage.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteProjects(cmd.OutOrStdout(), projects, s.format)
		})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <project> <file|dir>",
	Short: "Ingest a file or directory and build the project's domain tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(s *session, c *Components) error {
			projectID, path := args[0], args[1]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				n, err := c.Orchestrator.IngestDirectory(cmd.Context(), s.settings(), projectID, path, extract.SupportedExtensions)
				if err != nil {
					return err
				}
				cmd.Printf("ingested %d files\n", n)
				return nil
			}
			res, err := c.Orchestrator.IngestFile(cmd.Context(), s.settings(), projectID, path, nil)
			if err != nil {
				return err
			}
			if res == nil {
				cmd.Println("unchanged, skipped")
				return nil
			}
			res.Document.Content = ""
			if s.format == cli.OutputJSON {
				return cli.WriteJSON(cmd.OutOrStdout(), res)
			}
			cmd.Printf("document %s: %d chunks, %d tags\n", res.Document.ID, len(res.Chunks), models.CountTags(res.Tags))
			return nil
		})
	},
}

// readDocument extracts the text of a local file.
func readDocument(path string) (string, error) {
	text, err := extract.NewExtractor().Extract(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return splitter.Normalize(text), nil
}

var tocCmd = &cobra.Command{
	Use:   "toc <file>",
	Short: "Print the heading outline of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		text, err := readDocument(args[0])
		if err != nil {
			return err
		}
		return cli.WriteToc(cmd.OutOrStdout(), splitter.BuildToc(text), format)
	},
}

var splitCmd = &cobra.Command{
	Use:   "split <file>",
	Short: "Split a file into chunks without storing anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		text, err := readDocument(args[0])
		if err != nil {
			return err
		}
		chunker, err := splitter.NewChunker(splitMin, splitMax)
		if err != nil {
			return err
		}
		doc := &models.Document{ID: "preview", Name: filepath.Base(args[0]), Content: text}
		return cli.WriteChunks(cmd.OutOrStdout(), chunker.Chunk(doc), format)
	},
}

func stageSettings(s *session) pipeline.Settings {
	st := s.settings()
	if questionCount > 0 {
		st.QuestionCount = questionCount
	}
	if noRefine {
		st.RefineCot = false
	}
	return st
}

var questionsCmd = &cobra.Command{
	Use:   "questions <project> [chunk-id...]",
	Short: "Generate questions for chunks (all of the project's chunks by default)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(s *session, c *Components) error {
			projectID, chunkIDs := args[0], args[1:]
			if len(chunkIDs) == 0 && documentID != "" {
				ids, err := c.Orchestrator.DocumentChunkIDs(cmd.Context(), projectID, documentID)
				if err != nil {
					return err
				}
				chunkIDs = ids
			}
			rep, err := c.Orchestrator.GenerateQuestions(cmd.Context(), stageSettings(s), projectID, chunkIDs)
			if err != nil {
				return err
			}
			return cli.WriteStageReport(cmd.OutOrStdout(), rep, s.format)
		})
	},
}

var labelCmd = &cobra.Command{
	Use:   "label <project> [question-id...]",
	Short: "Label questions against the domain tree (all unlabeled questions by default)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(s *session, c *Components) error {
			rep, err := c.Orchestrator.LabelQuestions(cmd.Context(), stageSettings(s), args[0], args[1:])
			if err != nil {
				return err
			}
			return cli.WriteStageReport(cmd.OutOrStdout(), rep, s.format)
		})
	},
}

var answersCmd = &cobra.Command{
	Use:   "answers <project> [question-id...]",
	Short: "Answer questions (all unanswered questions by default)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(s *session, c *Components) error {
			rep, err := c.Orchestrator.GenerateAnswers(cmd.Context(), stageSettings(s), args[0], args[1:])
			if err != nil {
				return err
			}
			waitForRefinements(cmd, c)
			return cli.WriteStageReport(cmd.OutOrStdout(), rep, s.format)
		})
	},
}

// waitForRefinements lets background refinements finish before the process exits.
func waitForRefinements(cmd *cobra.Command, c *Components) {
	if n := c.Orchestrator.Refiner().Pending(); n > 0 {
		cmd.PrintErrf("waiting for %d refinements\n", n)
		c.Orchestrator.Refiner().Wait()
	}
}

var runCmd = &cobra.Command{
	Use:   "run <project> <file>",
	Short: "Ingest a file and take it through questions, labels and answers",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(s *session, c *Components) error {
			ctx := cmd.Context()
			projectID := args[0]
			st := stageSettings(s)
			res, err := c.Orchestrator.IngestFile(ctx, st, projectID, args[1], nil)
			if err != nil {
				return err
			}
			docID := ""
			if res != nil {
				docID = res.Document.ID
			} else {
				abs, err := filepath.Abs(args[1])
				if err != nil {
					return err
				}
				docID = fileid.DocumentID(projectID, abs)
			}
			rep, err := c.Orchestrator.Run(ctx, st, projectID, docID)
			if rep != nil {
				waitForRefinements(cmd, c)
				if werr := cli.WriteRunReport(cmd.OutOrStdout(), rep, s.format); werr != nil {
					return werr
				}
			}
			return err
		})
	},
}

var tagsCmd = &cobra.Command{
	Use:   "tags <project>",
	Short: "Print the domain tree with question counts per tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(s *session, c *Components) error {
			ctx := cmd.Context()
			tags, err := c.Storage.GetTags(ctx, args[0])
			if err != nil {
				return err
			}
			questions, err := c.Storage.ListQuestions(ctx, storage.QuestionFilter{ProjectID: args[0]})
			if err != nil {
				return err
			}
			return cli.WriteTags(cmd.OutOrStdout(), cli.TagsOutput{Tags: tags, Report: classifier.Tally(questions, tags)}, s.format)
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <project>",
	Short: "Export dataset records as alpaca, sharegpt or jsonl",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		return withComponents(func(s *session, c *Components) error {
			w := cmd.OutOrStdout()
			if exportFile != "" {
				f, err := os.Create(exportFile)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			exporter := export.NewExporter(c.Storage, export.WithLogger(s.logger))
			n, err := exporter.Export(cmd.Context(), w, args[0], export.Options{
				Format:        format,
				ConfirmedOnly: exportConfirmed,
				IncludeCot:    exportCot,
				SystemPrompt:  exportSystem,
			})
			if err != nil {
				return err
			}
			if exportFile != "" {
				cmd.Printf("exported %d records to %s\n", n, exportFile)
			}
			return nil
		})
	},
}

// statusOutput is the project summary printed by status.
type statusOutput struct {
	Project   *models.Project       `json:"project"`
	Stats     *storage.ProjectStats `json:"stats"`
	Documents []*models.Document    `json:"documents"`
	DiskUsage *storage.DiskUsage    `json:"disk_usage,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Show document stages and counts for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(func(s *session, c *Components) error {
			ctx := cmd.Context()
			out, err := projectStatus(ctx, s, c, args[0])
			if err != nil {
				return err
			}
			if s.format == cli.OutputJSON {
				return cli.WriteJSON(cmd.OutOrStdout(), out)
			}
			st := out.Stats
			cmd.Printf("Project: %s (%s)\n", out.Project.Name, out.Project.ID)
			cmd.Printf("Documents: %d  Chunks: %d\n", st.Documents, st.Chunks)
			cmd.Printf("Questions: %d (%d answered)\n", st.Questions, st.AnsweredQuestions)
			cmd.Printf("Records: %d (%d confirmed)\n", st.Records, st.ConfirmedRecords)
			for _, d := range out.Documents {
				cmd.Printf("  %-40s %s\n", d.Name, d.Stage)
			}
			if out.DiskUsage != nil {
				cmd.Printf("Disk usage: %s\n", formatBytes(out.DiskUsage.TotalBytes))
			}
			return nil
		})
	},
}

func projectStatus(ctx context.Context, s *session, c *Components, projectID string) (*statusOutput, error) {
	p, err := c.Storage.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stats, err := c.Storage.ProjectStats(ctx, projectID)
	if err != nil {
		return nil, err
	}
	docs, err := c.Storage.ListDocuments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := &statusOutput{Project: p, Stats: stats, Documents: docs}
	if usage, err := storage.MeasureDiskUsage(s.cfg.Storage.DatabasePath, s.cfg.Storage.KeywordIndexPath); err == nil {
		out.DiskUsage = usage
	} else {
		s.logger.Debug("disk usage failed", zap.Error(err))
	}
	return out, nil
}

// formatBytes renders n with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("dataforge version %s\n", version)
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectDescription, "description", "", "project description")
	projectCmd.AddCommand(projectCreateCmd, projectListCmd)

	splitCmd.Flags().IntVar(&splitMin, "min", pipeline.DefaultTextSplitMinLength, "minimum chunk length in characters")
	splitCmd.Flags().IntVar(&splitMax, "max", pipeline.DefaultTextSplitMaxLength, "maximum chunk length in characters")

	questionsCmd.Flags().IntVar(&questionCount, "count", 0, "questions per chunk (default: derived from chunk length)")
	questionsCmd.Flags().StringVar(&documentID, "document", "", "only chunks of this document")
	runCmd.Flags().IntVar(&questionCount, "count", 0, "questions per chunk (default: derived from chunk length)")

	answersCmd.Flags().BoolVar(&noRefine, "no-refine", false, "skip chain-of-thought refinement")
	runCmd.Flags().BoolVar(&noRefine, "no-refine", false, "skip chain-of-thought refinement")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&searchServer, "server", "", "server URL (empty = use local storage)")

	exportCmd.Flags().StringVar(&exportFormat, "format", "alpaca", "alpaca, sharegpt or jsonl")
	exportCmd.Flags().StringVarP(&exportFile, "file", "f", "", "write to file instead of stdout")
	exportCmd.Flags().BoolVar(&exportConfirmed, "confirmed", false, "only confirmed records")
	exportCmd.Flags().BoolVar(&exportCot, "cot", false, "prefix answers with <think>chain of thought</think>")
	exportCmd.Flags().StringVar(&exportSystem, "system", "", "system prompt to include")

	rootCmd.AddCommand(projectCmd, ingestCmd, tocCmd, splitCmd, questionsCmd, labelCmd, answersCmd,
		runCmd, tagsCmd, searchCmd, exportCmd, statusCmd, versionCmd)
}

// joinArgs joins positional args with spaces so multi-word queries work with or without quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
