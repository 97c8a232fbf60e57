// Package models defines core data structures for projects, documents, chunks, questions and dataset records.
package models

import "time"

// Project scopes every other entity.
type Project struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Document is an uploaded source text. Content is immutable once ingested.
type Document struct {
	ID        string    `json:"id" db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Name      string    `json:"name" db:"name"`
	Content   string    `json:"content,omitempty" db:"content"`
	Stage     Stage     `json:"stage" db:"stage"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Chunk is a contiguous, ordered segment of a document's text.
// Length counts Unicode code points.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	ProjectID  string    `json:"project_id" db:"project_id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Name       string    `json:"name" db:"name"`
	Ordinal    int       `json:"ordinal" db:"ordinal"`
	Content    string    `json:"content" db:"content"`
	Length     int       `json:"length" db:"length"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// DocumentInput is the input for uploading a document into a project.
type DocumentInput struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Content string `json:"content"`
}
