// Package storage defines the persistence interface for projects and everything they contain.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/dataforge/internal/models"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleWrite is returned by a versioned write whose expected version no longer matches.
	ErrStaleWrite = errors.New("stale write")
)

// QuestionFilter selects questions of a project. Zero fields do not filter.
type QuestionFilter struct {
	ProjectID  string
	DocumentID string
	ChunkIDs   []string
	IDs        []string
	Unlabeled  bool
	Unanswered bool
}

// RecordFilter selects dataset records of a project.
type RecordFilter struct {
	ProjectID     string
	ConfirmedOnly bool
	Offset        int
	Limit         int
}

// RecordUpdate is a partial edit of a dataset record. Nil fields are left unchanged.
type RecordUpdate struct {
	Answer    *string
	Cot       *string
	Confirmed *bool
}

// ProjectStats counts a project's entities.
type ProjectStats struct {
	Documents         int64 `json:"documents"`
	Chunks            int64 `json:"chunks"`
	Questions         int64 `json:"questions"`
	AnsweredQuestions int64 `json:"answered_questions"`
	Records           int64 `json:"records"`
	ConfirmedRecords  int64 `json:"confirmed_records"`
}

// Storage persists projects, documents, chunks, tag trees, questions and dataset records.
type Storage interface {
	// Project operations
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	DeleteProject(ctx context.Context, id string) error

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error)
	UpdateDocumentStage(ctx context.Context, id string, stage models.Stage) error
	// DeleteDocument removes the document with its chunks and their questions.
	DeleteDocument(ctx context.Context, id string) error
	// ReplaceDocument atomically swaps document id for replacementID: the old document goes away
	// with its chunks and questions, and the replacement with its chunks takes over id.
	ReplaceDocument(ctx context.Context, id, replacementID string) error

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	ListChunks(ctx context.Context, projectID, documentID string) ([]*models.Chunk, error)

	// Tag tree operations
	GetTags(ctx context.Context, projectID string) ([]*models.Tag, error)
	SaveTags(ctx context.Context, projectID string, forest []*models.Tag) error

	// Question operations
	BatchCreateQuestions(ctx context.Context, questions []*models.Question) error
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	ListQuestions(ctx context.Context, f QuestionFilter) ([]*models.Question, error)
	UpdateQuestionLabel(ctx context.Context, id, label string) error
	SetQuestionAnswered(ctx context.Context, id string, answered bool) error
	DeleteQuestion(ctx context.Context, id string) error

	// Dataset record operations
	CreateRecord(ctx context.Context, r *models.DatasetRecord) error
	GetRecord(ctx context.Context, id string) (*models.DatasetRecord, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]*models.DatasetRecord, error)
	// UpdateRecord writes the non-nil fields of u and returns the stored record. The cot version
	// is bumped when cot changes.
	UpdateRecord(ctx context.Context, id string, u RecordUpdate) (*models.DatasetRecord, error)
	// UpdateRecordCot writes cot only if the stored version equals expectedVersion and returns
	// the new version. It returns ErrStaleWrite when the version moved and ErrNotFound when the
	// record is gone.
	UpdateRecordCot(ctx context.Context, id, cot string, expectedVersion int64) (int64, error)
	ConfirmRecord(ctx context.Context, id string, confirmed bool) error
	DeleteRecord(ctx context.Context, id string) error

	// Stats
	ProjectStats(ctx context.Context, projectID string) (*ProjectStats, error)

	Close() error
}
