package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/prompts"
	"github.com/hyperjump/dataforge/internal/storage"
	"github.com/hyperjump/dataforge/internal/tasks"
	"go.uber.org/zap"
)

// StageAnswers names the answer generation stage in reports.
const StageAnswers = "answers"

// GenerateAnswers answers each question from its chunk and stores a dataset record per answer.
// With no questionIDs it answers the project's unanswered questions. Reasoning returned in a
// <think> block becomes the record's chain of thought and, when enabled, is refined in the
// background.
func (o *Orchestrator) GenerateAnswers(ctx context.Context, s Settings, projectID string, questionIDs []string, opts ...tasks.Option) (*StageReport, error) {
	s = s.WithDefaults()
	if err := requireID("project id", projectID); err != nil {
		return nil, err
	}
	for _, id := range questionIDs {
		if err := requireID("question id", id); err != nil {
			return nil, err
		}
	}
	filter := storage.QuestionFilter{ProjectID: projectID, IDs: questionIDs}
	if len(questionIDs) == 0 {
		filter.Unanswered = true
	}
	questions, err := o.store.ListQuestions(ctx, filter)
	if err != nil {
		return nil, err
	}
	model, err := o.model(s)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	batch := tasks.NewBatch(len(questions))
	opts = append([]tasks.Option{tasks.WithBatch(batch)}, opts...)
	results := tasks.RunBounded(ctx, questions, s.ConcurrencyLimit, func(ctx context.Context, q *models.Question) tasks.Result[*models.DatasetRecord] {
		rec, err := o.answer(ctx, s, model, q)
		if err != nil {
			o.logger.Warn("answer generation failed", zap.String("question_id", q.ID), zap.Error(err))
			return tasks.Result[*models.DatasetRecord]{Err: err}
		}
		return tasks.Result[*models.DatasetRecord]{Data: rec}
	}, opts...)

	keys := make([]string, len(questions))
	var done []string
	for i, q := range questions {
		keys[i] = q.ID
		if results[i].Err == nil {
			done = append(done, q.ChunkID)
		}
	}
	rep := newReport(StageAnswers, keys, batch, results, started)
	rep.Created = len(done)
	o.advanceChunks(ctx, done, models.StageAnswersGenerated)

	if s.RefineCot {
		for _, rec := range tasks.Data(results) {
			if rec.Cot == "" {
				continue
			}
			if err := o.refiner.Submit(s, *rec); err != nil {
				o.logger.Warn("cot refinement not submitted", zap.String("record_id", rec.ID), zap.Error(err))
			}
		}
	}
	o.logger.Info("answers generated",
		zap.String("project_id", projectID),
		zap.Int("records", rep.Created),
		zap.Int("failed", rep.Summary.FailCount))
	return rep, nil
}

func (o *Orchestrator) answer(ctx context.Context, s Settings, model llm.Model, q *models.Question) (*models.DatasetRecord, error) {
	msgs, chunk, err := o.answerPrompt(ctx, s, q)
	if err != nil {
		return nil, err
	}
	resp, err := model.Generate(ctx, msgs, s.Model.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	return o.saveAnswer(ctx, s, q, chunk, resp)
}

func (o *Orchestrator) answerPrompt(ctx context.Context, s Settings, q *models.Question) ([]llm.Message, *models.Chunk, error) {
	chunk, err := o.store.GetChunk(ctx, q.ChunkID)
	if err != nil {
		return nil, nil, fmt.Errorf("chunk %s: %w", q.ChunkID, err)
	}
	msgs, err := prompts.Answer(s.Language, chunk.Content, q.Text, s.Prompts)
	if err != nil {
		return nil, nil, err
	}
	return msgs, chunk, nil
}

func (o *Orchestrator) saveAnswer(ctx context.Context, s Settings, q *models.Question, chunk *models.Chunk, resp string) (*models.DatasetRecord, error) {
	cot, answer := llm.SplitThink(resp)
	if answer == "" {
		return nil, fmt.Errorf("%w: empty answer", ErrEmptyGeneration)
	}
	rec := &models.DatasetRecord{
		ID:         o.newRecordID(),
		ProjectID:  q.ProjectID,
		QuestionID: q.ID,
		ChunkID:    chunk.ID,
		Question:   q.Text,
		Answer:     answer,
		Cot:        cot,
		Label:      q.Label,
		Model:      s.Model.Name,
	}
	if err := o.store.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store record: %w", err)
	}
	if err := o.store.SetQuestionAnswered(ctx, q.ID, true); err != nil {
		return nil, fmt.Errorf("failed to mark question answered: %w", err)
	}
	return rec, nil
}

// AnswerQuestionStream answers one question, passing each piece of text to onText as it
// arrives, and stores the record once the stream completes.
func (o *Orchestrator) AnswerQuestionStream(ctx context.Context, s Settings, projectID, questionID string, onText func(string)) (*models.DatasetRecord, error) {
	s = s.WithDefaults()
	if err := requireID("project id", projectID); err != nil {
		return nil, err
	}
	if err := requireID("question id", questionID); err != nil {
		return nil, err
	}
	q, err := o.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.ProjectID != projectID {
		return nil, fmt.Errorf("question %s: %w", questionID, ErrProjectMismatch)
	}
	msgs, chunk, err := o.answerPrompt(ctx, s, q)
	if err != nil {
		return nil, err
	}
	model, err := o.model(s)
	if err != nil {
		return nil, err
	}
	stream, err := model.Stream(ctx, msgs, s.Model.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		b.WriteString(stream.Text())
		if onText != nil {
			onText(stream.Text())
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("model stream: %w", err)
	}
	rec, err := o.saveAnswer(ctx, s, q, chunk, b.String())
	if err != nil {
		return nil, err
	}
	o.advance(ctx, chunk.DocumentID, models.StageAnswersGenerated)
	if s.RefineCot && rec.Cot != "" {
		if err := o.refiner.Submit(s, *rec); err != nil {
			o.logger.Warn("cot refinement not submitted", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
	return rec, nil
}
