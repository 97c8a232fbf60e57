package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/prompts"
	"github.com/hyperjump/dataforge/internal/splitter"
	"go.uber.org/zap"
)

// IngestResult is a stored document with its chunks and outline.
type IngestResult struct {
	Document *models.Document  `json:"document"`
	Chunks   []*models.Chunk   `json:"chunks"`
	Toc      []*models.TocNode `json:"toc"`
	Tags     []*models.Tag     `json:"tags,omitempty"`
}

// IngestDocument stores a document and its chunks. The chunker runs once per document.
func (o *Orchestrator) IngestDocument(ctx context.Context, s Settings, projectID string, in models.DocumentInput) (*IngestResult, error) {
	s = s.WithDefaults()
	if err := requireID("project id", projectID); err != nil {
		return nil, err
	}
	if err := requireID("document name", in.Name); err != nil {
		return nil, err
	}
	content := splitter.Normalize(in.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: document %q has no text", ErrInvalidInput, in.Name)
	}
	chunker, err := splitter.NewChunker(s.TextSplitMinLength, s.TextSplitMaxLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:        in.ID,
		ProjectID: projectID,
		Name:      in.Name,
		Content:   content,
		Stage:     models.StageIngested,
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if err := o.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	chunks := chunker.Chunk(doc)
	if err := o.store.BatchCreateChunks(ctx, chunks); err != nil {
		o.rollback(ctx, doc)
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := o.store.UpdateDocumentStage(ctx, doc.ID, models.StageChunked); err != nil {
		o.rollback(ctx, doc)
		return nil, fmt.Errorf("failed to update document stage: %w", err)
	}
	doc.Stage = models.StageChunked

	if o.index != nil {
		if err := o.index.IndexChunks(ctx, chunks); err != nil {
			o.logger.Warn("chunk indexing failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	o.logger.Info("document ingested",
		zap.String("project_id", projectID),
		zap.String("document_id", doc.ID),
		zap.String("name", doc.Name),
		zap.Int("chunks", len(chunks)))

	return &IngestResult{Document: doc, Chunks: chunks, Toc: splitter.BuildToc(content)}, nil
}

// Upload ingests a document and builds the project's domain tree from it. If the tree cannot
// be built the document is removed again.
func (o *Orchestrator) Upload(ctx context.Context, s Settings, projectID string, in models.DocumentInput) (*IngestResult, error) {
	res, err := o.IngestDocument(ctx, s, projectID, in)
	if err != nil {
		return nil, err
	}
	tags, err := o.BuildDomainTree(ctx, s, projectID, res.Document.ID)
	if err != nil {
		return nil, err
	}
	res.Tags = tags
	res.Document.Stage = models.StageDomainTreeBuilt
	return res, nil
}

// tagResponse accepts both "child" and "children" for nested tags.
type tagResponse struct {
	Label    string        `json:"label"`
	Child    []tagResponse `json:"child"`
	Children []tagResponse `json:"children"`
}

func toTags(in []tagResponse) []*models.Tag {
	out := make([]*models.Tag, 0, len(in))
	for _, t := range in {
		label := strings.TrimSpace(t.Label)
		if label == "" {
			continue
		}
		kids := append(append([]tagResponse(nil), t.Child...), t.Children...)
		tag := &models.Tag{Label: label}
		if len(kids) > 0 {
			tag.Children = toTags(kids)
		}
		out = append(out, tag)
	}
	return out
}

// BuildDomainTree asks the model for a tag forest seeded with the document's outline and the
// project's current tags, and stores it as the project's tree. Any failure deletes the
// document with its chunks and returns ErrDomainTreeFailed.
func (o *Orchestrator) BuildDomainTree(ctx context.Context, s Settings, projectID, documentID string) ([]*models.Tag, error) {
	s = s.WithDefaults()
	if err := requireID("project id", projectID); err != nil {
		return nil, err
	}
	if err := requireID("document id", documentID); err != nil {
		return nil, err
	}
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.ProjectID != projectID {
		return nil, fmt.Errorf("document %s: %w", documentID, ErrProjectMismatch)
	}

	forest, err := o.buildDomainTree(ctx, s, doc)
	if err != nil {
		o.rollback(ctx, doc)
		o.logger.Error("domain tree build failed, document removed",
			zap.String("document_id", doc.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrDomainTreeFailed, err)
	}
	o.advance(ctx, doc.ID, models.StageDomainTreeBuilt)
	o.logger.Info("domain tree built",
		zap.String("project_id", projectID),
		zap.String("document_id", doc.ID),
		zap.Int("tags", models.CountTags(forest)))
	return forest, nil
}

func (o *Orchestrator) buildDomainTree(ctx context.Context, s Settings, doc *models.Document) ([]*models.Tag, error) {
	outline := splitter.RenderOutline(splitter.BuildToc(doc.Content))
	if outline == "" {
		chunks, err := o.store.ListChunks(ctx, doc.ProjectID, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks: %w", err)
		}
		var b strings.Builder
		for _, c := range chunks {
			b.WriteString("- " + c.Name + "\n")
		}
		outline = b.String()
	}
	existing, err := o.store.GetTags(ctx, doc.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	msgs, err := prompts.DomainTree(s.Language, outline, existing, s.Prompts)
	if err != nil {
		return nil, err
	}
	model, err := o.model(s)
	if err != nil {
		return nil, err
	}
	resp, err := model.Generate(ctx, msgs, s.Model.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	parsed, err := llm.Parse[[]tagResponse](resp)
	if err != nil {
		return nil, err
	}
	forest := toTags(parsed)
	if len(forest) == 0 {
		return nil, fmt.Errorf("%w: empty tag tree", ErrEmptyGeneration)
	}
	if err := o.store.SaveTags(ctx, doc.ProjectID, forest); err != nil {
		return nil, fmt.Errorf("failed to save tags: %w", err)
	}
	return forest, nil
}

// rollback removes a document that did not make it through ingestion. It runs even when ctx
// is already cancelled.
func (o *Orchestrator) rollback(ctx context.Context, doc *models.Document) {
	ctx = context.WithoutCancel(ctx)
	if o.index != nil {
		if err := o.index.DeleteDocument(ctx, doc.ID); err != nil {
			o.logger.Warn("rollback: index delete failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	if err := o.store.DeleteDocument(ctx, doc.ID); err != nil {
		o.logger.Error("rollback: document delete failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
}

// DeleteDocument removes a document, its chunks and their questions from the store and index.
func (o *Orchestrator) DeleteDocument(ctx context.Context, projectID, documentID string) error {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.ProjectID != projectID {
		return fmt.Errorf("document %s: %w", documentID, ErrProjectMismatch)
	}
	if o.index != nil {
		if err := o.index.DeleteDocument(ctx, documentID); err != nil {
			return fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	if err := o.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	o.logger.Debug("document deleted", zap.String("document_id", documentID))
	return nil
}

// DocumentToc returns the heading outline of a stored document.
func (o *Orchestrator) DocumentToc(ctx context.Context, documentID string) ([]*models.TocNode, error) {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return splitter.BuildToc(doc.Content), nil
}
