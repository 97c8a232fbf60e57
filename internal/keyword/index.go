// Package keyword provides full-text search over a project's chunks.
package keyword

import (
	"context"

	"github.com/hyperjump/dataforge/internal/models"
)

// SearchOptions are optional parameters for a search. Nil means use defaults.
type SearchOptions struct {
	// NameBoost multiplies matches in the chunk name. Values <= 1 disable the boost.
	NameBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits (default 2).
	FuzzyEnabled bool
	Fuzziness    int
}

// Index defines chunk search operations.
type Index interface {
	IndexChunks(ctx context.Context, chunks []*models.Chunk) error
	Search(ctx context.Context, projectID, query string, limit int, opts *SearchOptions) ([]*Result, error)
	DeleteDocument(ctx context.Context, documentID string) error
	DeleteProject(ctx context.Context, projectID string) error
	DocCount() (uint64, error)
	Close() error
}

// Result is a single search hit.
type Result struct {
	ChunkID    string
	DocumentID string
	Name       string
	Score      float64
	Snippet    string
}
