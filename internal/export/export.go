// Package export writes dataset records in fine-tuning formats.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/dataforge/internal/classifier"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/storage"
	"go.uber.org/zap"
)

// Format is an output layout.
type Format string

const (
	FormatAlpaca   Format = "alpaca"
	FormatShareGPT Format = "sharegpt"
	FormatJSONL    Format = "jsonl"
)

// ErrUnknownFormat is returned for a format name that is not supported.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat maps a name to a Format. An empty name selects alpaca.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatAlpaca:
		return FormatAlpaca, nil
	case FormatShareGPT:
		return FormatShareGPT, nil
	case FormatJSONL:
		return FormatJSONL, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Options controls which records are written and how.
type Options struct {
	Format        Format `json:"format"`
	ConfirmedOnly bool   `json:"confirmed_only"`
	IncludeCot    bool   `json:"include_cot"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
}

type alpacaItem struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	System      string `json:"system"`
}

type shareGPTTurn struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

type shareGPTItem struct {
	Conversations []shareGPTTurn `json:"conversations"`
}

// output is the answer text, prefixed with the chain of thought when requested.
func output(r *models.DatasetRecord, includeCot bool) string {
	if includeCot && r.Cot != "" {
		return "<think>" + r.Cot + "</think>" + r.Answer
	}
	return r.Answer
}

// Write encodes records to w. Filtering by confirmation is the caller's job.
func Write(w io.Writer, records []*models.DatasetRecord, opts Options) error {
	switch opts.Format {
	case "", FormatAlpaca:
		items := make([]alpacaItem, 0, len(records))
		for _, r := range records {
			items = append(items, alpacaItem{
				Instruction: r.Question,
				Output:      output(r, opts.IncludeCot),
				System:      opts.SystemPrompt,
			})
		}
		return writeArray(w, items)
	case FormatShareGPT:
		items := make([]shareGPTItem, 0, len(records))
		for _, r := range records {
			var turns []shareGPTTurn
			if opts.SystemPrompt != "" {
				turns = append(turns, shareGPTTurn{From: "system", Value: opts.SystemPrompt})
			}
			turns = append(turns,
				shareGPTTurn{From: "human", Value: r.Question},
				shareGPTTurn{From: "gpt", Value: output(r, opts.IncludeCot)},
			)
			items = append(items, shareGPTItem{Conversations: turns})
		}
		return writeArray(w, items)
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("failed to encode record %s: %w", r.ID, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
}

func writeArray(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

// Exporter reads a project's records from storage and writes them out.
type Exporter struct {
	store  storage.Storage
	logger *zap.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// NewExporter creates an exporter over store.
func NewExporter(store storage.Storage, opts ...Option) *Exporter {
	e := &Exporter{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the project's records to w and returns how many were written.
// Record labels are resolved against the project's tag tree before writing.
func (e *Exporter) Export(ctx context.Context, w io.Writer, projectID string, opts Options) (int, error) {
	if projectID == "" {
		return 0, fmt.Errorf("project id is required")
	}
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return 0, err
	}
	records, err := e.store.ListRecords(ctx, storage.RecordFilter{ProjectID: projectID, ConfirmedOnly: opts.ConfirmedOnly})
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}
	tags, err := e.store.GetTags(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to load tags: %w", err)
	}
	for _, r := range records {
		r.Label = classifier.Resolve(r.Label, tags)
	}
	if err := Write(w, records, opts); err != nil {
		return 0, err
	}
	e.logger.Debug("export written",
		zap.String("project_id", projectID),
		zap.String("format", string(opts.Format)),
		zap.Int("records", len(records)))
	return len(records), nil
}
