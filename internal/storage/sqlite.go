// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/dataforge/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		tags TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		stage TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id, created_at);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		name TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		length INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, ordinal);
	CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		text TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		answered INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_questions_project ON questions(project_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_questions_chunk ON questions(chunk_id);

	CREATE TABLE IF NOT EXISTS dataset_records (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		cot TEXT NOT NULL DEFAULT '',
		cot_version INTEGER NOT NULL DEFAULT 0,
		label TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		confirmed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_records_project ON dataset_records(project_id, id);
	`
	_, err := db.Exec(schema)
	return err
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func checkAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

// CreateProject inserts a project.
func (s *SQLiteStorage) CreateProject(ctx context.Context, p *models.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, tags, created_at) VALUES (?, ?, ?, '[]', ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject returns a project by ID.
func (s *SQLiteStorage) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &desc, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, err
	}
	p.Description = desc.String
	return &p, nil
}

// ListProjects returns all projects, newest first.
func (s *SQLiteStorage) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		var p models.Project
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Description = desc.String
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteProject removes a project and everything it contains.
func (s *SQLiteStorage) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"dataset_records", "questions", "chunks", "documents"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkAffected(res, "project", id); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateDocument inserts a document.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.Stage == "" {
		doc.Stage = models.StageIngested
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, project_id, name, content, stage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ProjectID, doc.Name, doc.Content, string(doc.Stage), doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument returns a document by ID, including its content.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var stage string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, content, stage, created_at FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.ProjectID, &doc.Name, &doc.Content, &stage, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, err
	}
	doc.Stage = models.Stage(stage)
	return &doc, nil
}

// ListDocuments returns a project's documents without their content, oldest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, projectID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, stage, created_at FROM documents
		 WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var stage string
		if err := rows.Scan(&doc.ID, &doc.ProjectID, &doc.Name, &stage, &doc.CreatedAt); err != nil {
			return nil, err
		}
		doc.Stage = models.Stage(stage)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStage records a document's pipeline stage.
func (s *SQLiteStorage) UpdateDocumentStage(ctx context.Context, id string, stage models.Stage) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET stage = ? WHERE id = ?`, string(stage), id)
	if err != nil {
		return err
	}
	return checkAffected(res, "document", id)
}

// DeleteDocument removes a document, its chunks and the questions generated from them.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM questions WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, id); err != nil {
		return fmt.Errorf("failed to delete questions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return tx.Commit()
}

// ReplaceDocument removes document id with its chunks and questions, then moves the document
// replacementID and its chunks to id, in one transaction.
func (s *SQLiteStorage) ReplaceDocument(ctx context.Context, id, replacementID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM questions WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, id); err != nil {
		return fmt.Errorf("failed to delete questions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE documents SET id = ? WHERE id = ?`, id, replacementID)
	if err != nil {
		return fmt.Errorf("failed to move document: %w", err)
	}
	if err := checkAffected(res, "document", replacementID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chunks SET document_id = ? WHERE document_id = ?`, id, replacementID); err != nil {
		return fmt.Errorf("failed to move chunks: %w", err)
	}
	return tx.Commit()
}

const chunkColumns = `id, project_id, document_id, name, ordinal, content, length, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (*models.Chunk, error) {
	var c models.Chunk
	if err := row.Scan(&c.ID, &c.ProjectID, &c.DocumentID, &c.Name, &c.Ordinal, &c.Content, &c.Length, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// BatchCreateChunks inserts multiple chunks in a transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (`+chunkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range chunks {
		c.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, c.ID, c.ProjectID, c.DocumentID, c.Name, c.Ordinal, c.Content, c.Length, c.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunk returns a chunk by ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	c, err := scanChunk(s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("chunk", id)
	}
	return c, err
}

// ListChunks returns a project's chunks in document order. An empty documentID lists all.
func (s *SQLiteStorage) ListChunks(ctx context.Context, projectID, documentID string) ([]*models.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE project_id = ?`
	args := []any{projectID}
	if documentID != "" {
		query += ` AND document_id = ?`
		args = append(args, documentID)
	}
	query += ` ORDER BY created_at, document_id, ordinal`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetTags returns the project's tag forest.
func (s *SQLiteStorage) GetTags(ctx context.Context, projectID string) ([]*models.Tag, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT tags FROM projects WHERE id = ?`, projectID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("project", projectID)
	}
	if err != nil {
		return nil, err
	}
	var forest []*models.Tag
	if raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &forest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return forest, nil
}

// SaveTags replaces the project's tag forest.
func (s *SQLiteStorage) SaveTags(ctx context.Context, projectID string, forest []*models.Tag) error {
	if forest == nil {
		forest = []*models.Tag{}
	}
	data, err := json.Marshal(forest)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET tags = ? WHERE id = ?`, string(data), projectID)
	if err != nil {
		return err
	}
	return checkAffected(res, "project", projectID)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
