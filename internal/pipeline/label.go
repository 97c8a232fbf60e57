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

// StageLabel names the labeling stage in reports.
const StageLabel = "label"

type labelResponse struct {
	Question string `json:"question"`
	Label    string `json:"label"`
}

// LabelQuestions assigns a tag label to each question in one batched model call. With no
// questionIDs it labels the project's unlabeled questions. A question the model skipped is an
// item failure; an unparseable response fails the stage.
func (o *Orchestrator) LabelQuestions(ctx context.Context, s Settings, projectID string, questionIDs []string) (*StageReport, error) {
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
		filter.Unlabeled = true
	}
	questions, err := o.store.ListQuestions(ctx, filter)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	batch := tasks.NewBatch(len(questions))
	if len(questions) == 0 {
		return newReport[struct{}](StageLabel, nil, batch, nil, started), nil
	}

	forest, err := o.store.GetTags(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	texts := make([]string, len(questions))
	for i, q := range questions {
		texts[i] = q.Text
	}
	msgs, err := prompts.Label(s.Language, forest, texts, s.Prompts)
	if err != nil {
		return nil, err
	}
	model, err := o.model(s)
	if err != nil {
		return nil, err
	}
	resp, err := model.Generate(ctx, msgs, s.Model.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("label questions: model call: %w", err)
	}
	parsed, err := llm.Parse[[]labelResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("label questions: %w", err)
	}
	labels := make(map[string]string, len(parsed))
	for _, p := range parsed {
		key := strings.TrimSpace(p.Question)
		if _, dup := labels[key]; !dup {
			labels[key] = strings.TrimSpace(p.Label)
		}
	}

	// Labels are persisted one at a time.
	results := tasks.RunBounded(ctx, questions, 1, func(ctx context.Context, q *models.Question) tasks.Result[struct{}] {
		label, ok := labels[strings.TrimSpace(q.Text)]
		if !ok || label == "" {
			return tasks.Result[struct{}]{Err: fmt.Errorf("%w: no label returned", ErrEmptyGeneration)}
		}
		if err := o.store.UpdateQuestionLabel(ctx, q.ID, label); err != nil {
			return tasks.Result[struct{}]{Err: err}
		}
		q.Label = label
		return tasks.Result[struct{}]{}
	}, tasks.WithBatch(batch))

	keys := make([]string, len(questions))
	var done []string
	for i, q := range questions {
		keys[i] = q.ID
		if results[i].Err == nil {
			done = append(done, q.ChunkID)
		}
	}
	rep := newReport(StageLabel, keys, batch, results, started)
	rep.Created = len(done)
	o.advanceChunks(ctx, done, models.StageLabeled)
	o.logger.Info("questions labeled",
		zap.String("project_id", projectID),
		zap.Int("labeled", rep.Created),
		zap.Int("failed", rep.Summary.FailCount))
	return rep, nil
}
