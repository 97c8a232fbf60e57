package models

import "fmt"

// SearchQuery is a keyword search over a project's chunks.
type SearchQuery struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
	Fuzzy     bool   `json:"fuzzy,omitempty"`
}

// Validate ensures the query has a project and text, and normalizes the limit.
func (q *SearchQuery) Validate() error {
	if q.ProjectID == "" {
		return fmt.Errorf("project_id cannot be empty")
	}
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}

// ChunkHit is a single search hit.
type ChunkHit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet,omitempty"`
}

// SearchResponse is the response for a chunk search.
type SearchResponse struct {
	Hits      []*ChunkHit `json:"hits"`
	Total     int         `json:"total"`
	QueryTime int64       `json:"query_time_ms"`
	Query     string      `json:"query"`
	// AutoFuzzy is set when the exact search found nothing and fuzzy matching was used instead.
	AutoFuzzy bool `json:"auto_fuzzy,omitempty"`
}
