package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/dataforge/internal/models"
)

const deleteBatchSize = 1000

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

var _ Index = (*BleveIndex)(nil)

type chunkDoc struct {
	ProjectID  string `json:"project_id"`
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

// NewBleveIndex creates or opens a Bleve index at path.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer: lowercase and tokenize without stemming, so terms match as written.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = true
	text.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("content", text)
	docMapping.AddFieldMappingsAt("name", text)

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keywordanalyzer.Name
	exact.Store = true
	docMapping.AddFieldMappingsAt("project_id", exact)
	docMapping.AddFieldMappingsAt("document_id", exact)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// IndexChunks adds or replaces chunks in one batch. Underscores in names are indexed as spaces
// so "annual_report-part-1" matches "annual report".
func (b *BleveIndex) IndexChunks(ctx context.Context, chunks []*models.Chunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := chunkDoc{
			ProjectID:  c.ProjectID,
			DocumentID: c.DocumentID,
			Name:       strings.ReplaceAll(c.Name, "_", " "),
			Content:    c.Content,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search finds chunks of projectID matching query.
func (b *BleveIndex) Search(ctx context.Context, projectID, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	nameBoost := 1.0
	fuzzy := false
	fuzziness := 2
	if opts != nil {
		if opts.NameBoost > 0 {
			nameBoost = opts.NameBoost
		}
		fuzzy = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	contentQ := buildQuery(query, "content", fuzzy, fuzziness, 1)
	nameQ := buildQuery(query, "name", fuzzy, fuzziness, nameBoost)
	scope := bleve.NewTermQuery(projectID)
	scope.SetField("project_id")
	q := bleve.NewConjunctionQuery(scope, bleve.NewDisjunctionQuery(contentQ, nameQ))

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"document_id", "name"}
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.AddField("content")
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := &Result{ChunkID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["document_id"].(string); ok {
			r.DocumentID = v
		}
		if v, ok := hit.Fields["name"].(string); ok {
			r.Name = v
		}
		if frags := hit.Fragments["content"]; len(frags) > 0 {
			r.Snippet = frags[0]
		}
		out = append(out, r)
	}
	return out, nil
}

// buildQuery matches query in field. In fuzzy mode each term becomes a fuzzy query and any
// term may match.
func buildQuery(query, field string, fuzzy bool, fuzziness int, boost float64) blevequery.Query {
	terms := tokenizeQuery(query)
	if !fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// DeleteDocument removes every chunk of a document.
func (b *BleveIndex) DeleteDocument(ctx context.Context, documentID string) error {
	return b.deleteWhere(ctx, "document_id", documentID)
}

// DeleteProject removes every chunk of a project.
func (b *BleveIndex) DeleteProject(ctx context.Context, projectID string) error {
	return b.deleteWhere(ctx, "project_id", projectID)
}

func (b *BleveIndex) deleteWhere(ctx context.Context, field, value string) error {
	for {
		q := bleve.NewTermQuery(value)
		q.SetField(field)
		req := bleve.NewSearchRequestOptions(q, deleteBatchSize, 0, false)
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to find %s=%s: %w", field, value, err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete %s=%s: %w", field, value, err)
		}
	}
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
