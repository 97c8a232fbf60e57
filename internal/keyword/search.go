package keyword

import (
	"context"
	"time"

	"github.com/hyperjump/dataforge/internal/models"
)

// SearchChunks validates q and runs it against idx. When an exact search finds nothing it is
// retried once with fuzzy matching.
func SearchChunks(ctx context.Context, idx Index, q *models.SearchQuery) (*models.SearchResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	results, err := idx.Search(ctx, q.ProjectID, q.Query, q.Limit, &SearchOptions{FuzzyEnabled: q.Fuzzy})
	if err != nil {
		return nil, err
	}
	autoFuzzy := false
	if len(results) == 0 && !q.Fuzzy {
		fuzzy, err := idx.Search(ctx, q.ProjectID, q.Query, q.Limit, &SearchOptions{FuzzyEnabled: true})
		if err == nil && len(fuzzy) > 0 {
			results, autoFuzzy = fuzzy, true
		}
	}
	resp := &models.SearchResponse{
		Hits:      make([]*models.ChunkHit, 0, len(results)),
		Query:     q.Query,
		AutoFuzzy: autoFuzzy,
	}
	for _, r := range results {
		resp.Hits = append(resp.Hits, &models.ChunkHit{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Name:       r.Name,
			Score:      r.Score,
			Snippet:    r.Snippet,
		})
	}
	resp.Total = len(resp.Hits)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}
