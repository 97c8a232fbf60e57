package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/prompts"
	"github.com/hyperjump/dataforge/internal/tasks"
	"go.uber.org/zap"
)

// StageQuestions names the question generation stage in reports.
const StageQuestions = "questions"

// GenerateQuestions generates questions for each chunk with at most ConcurrencyLimit model
// calls in flight. An empty chunkIDs selects every chunk of the project.
func (o *Orchestrator) GenerateQuestions(ctx context.Context, s Settings, projectID string, chunkIDs []string, opts ...tasks.Option) (*StageReport, error) {
	s = s.WithDefaults()
	if err := requireID("project id", projectID); err != nil {
		return nil, err
	}
	chunks, err := o.selectChunks(ctx, projectID, chunkIDs)
	if err != nil {
		return nil, err
	}
	model, err := o.model(s)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	batch := tasks.NewBatch(len(chunks))
	opts = append([]tasks.Option{tasks.WithBatch(batch)}, opts...)
	results := tasks.RunBounded(ctx, chunks, s.ConcurrencyLimit, func(ctx context.Context, c *models.Chunk) tasks.Result[[]*models.Question] {
		qs, err := o.questionsForChunk(ctx, s, model, c)
		if err != nil {
			o.logger.Warn("question generation failed", zap.String("chunk_id", c.ID), zap.Error(err))
			return tasks.Result[[]*models.Question]{Err: err}
		}
		return tasks.Result[[]*models.Question]{Data: qs}
	}, opts...)

	keys := make([]string, len(chunks))
	var done []string
	for i, c := range chunks {
		keys[i] = c.ID
		if results[i].Err == nil {
			done = append(done, c.ID)
		}
	}
	rep := newReport(StageQuestions, keys, batch, results, started)
	for _, qs := range tasks.Data(results) {
		rep.Created += len(qs)
	}
	o.advanceChunks(ctx, done, models.StageQuestionsGenerated)
	o.logger.Info("questions generated",
		zap.String("project_id", projectID),
		zap.Int("chunks", len(chunks)),
		zap.Int("questions", rep.Created),
		zap.Int("failed", rep.Summary.FailCount))
	return rep, nil
}

func (o *Orchestrator) questionsForChunk(ctx context.Context, s Settings, model llm.Model, c *models.Chunk) ([]*models.Question, error) {
	count := QuestionCount(s, c.Length)
	msgs, err := prompts.Questions(s.Language, c.Content, count, s.Prompts)
	if err != nil {
		return nil, err
	}
	resp, err := model.Generate(ctx, msgs, s.Model.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	texts, err := llm.Parse[[]string](resp)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(texts))
	qs := make([]*models.Question, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		qs = append(qs, &models.Question{
			ID:        uuid.New().String(),
			ProjectID: c.ProjectID,
			ChunkID:   c.ID,
			Text:      t,
		})
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("%w: no questions", ErrEmptyGeneration)
	}
	if err := o.store.BatchCreateQuestions(ctx, qs); err != nil {
		return nil, fmt.Errorf("failed to store questions: %w", err)
	}
	return qs, nil
}

func (o *Orchestrator) selectChunks(ctx context.Context, projectID string, chunkIDs []string) ([]*models.Chunk, error) {
	if len(chunkIDs) == 0 {
		chunks, err := o.store.ListChunks(ctx, projectID, "")
		if err != nil {
			return nil, err
		}
		if len(chunks) == 0 {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, errNoChunks)
		}
		return chunks, nil
	}
	chunks := make([]*models.Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if err := requireID("chunk id", id); err != nil {
			return nil, err
		}
		c, err := o.store.GetChunk(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.ProjectID != projectID {
			return nil, fmt.Errorf("chunk %s: %w", id, ErrProjectMismatch)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// DocumentChunkIDs returns the ids of a document's chunks in order.
func (o *Orchestrator) DocumentChunkIDs(ctx context.Context, projectID, documentID string) ([]string, error) {
	chunks, err := o.store.ListChunks(ctx, projectID, documentID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids, nil
}
