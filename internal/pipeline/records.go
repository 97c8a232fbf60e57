package pipeline

import (
	"context"
	"fmt"

	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/storage"
	"go.uber.org/zap"
)

func (o *Orchestrator) projectRecord(ctx context.Context, projectID, recordID string) (*models.DatasetRecord, error) {
	if err := requireID("project id", projectID); err != nil {
		return nil, err
	}
	if err := requireID("record id", recordID); err != nil {
		return nil, err
	}
	rec, err := o.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.ProjectID != projectID {
		return nil, fmt.Errorf("record %s: %w", recordID, ErrProjectMismatch)
	}
	return rec, nil
}

// RecordEdit holds the fields of a manual record edit. Nil fields are left unchanged.
type RecordEdit struct {
	Answer    *string `json:"answer,omitempty"`
	Cot       *string `json:"cot,omitempty"`
	Confirmed *bool   `json:"confirmed,omitempty"`
}

// UpdateRecord applies a manual edit. A pending refinement of the record is cancelled first.
// Only the edited fields are written, and an edited cot bumps the version so a refinement
// still racing the edit is rejected.
func (o *Orchestrator) UpdateRecord(ctx context.Context, projectID, recordID string, edit RecordEdit) (*models.DatasetRecord, error) {
	if _, err := o.projectRecord(ctx, projectID, recordID); err != nil {
		return nil, err
	}
	o.refiner.Cancel(recordID)
	rec, err := o.store.UpdateRecord(ctx, recordID, storage.RecordUpdate{
		Answer:    edit.Answer,
		Cot:       edit.Cot,
		Confirmed: edit.Confirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	o.logger.Debug("record updated", zap.String("record_id", recordID), zap.Int64("cot_version", rec.CotVersion))
	return rec, nil
}

// ConfirmRecord marks a record as reviewed.
func (o *Orchestrator) ConfirmRecord(ctx context.Context, projectID, recordID string, confirmed bool) error {
	if _, err := o.projectRecord(ctx, projectID, recordID); err != nil {
		return err
	}
	return o.store.ConfirmRecord(ctx, recordID, confirmed)
}

// DeleteRecord removes a record after cancelling its pending refinement.
func (o *Orchestrator) DeleteRecord(ctx context.Context, projectID, recordID string) error {
	if _, err := o.projectRecord(ctx, projectID, recordID); err != nil {
		return err
	}
	o.refiner.Cancel(recordID)
	if err := o.store.DeleteRecord(ctx, recordID); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	o.logger.Debug("record deleted", zap.String("record_id", recordID))
	return nil
}

// RefineRecord submits a background refinement of the record's current chain of thought.
func (o *Orchestrator) RefineRecord(ctx context.Context, s Settings, projectID, recordID string) error {
	rec, err := o.projectRecord(ctx, projectID, recordID)
	if err != nil {
		return err
	}
	if rec.Cot == "" {
		return fmt.Errorf("%w: record %s has no chain of thought", ErrInvalidInput, recordID)
	}
	return o.refiner.Submit(s, *rec)
}

// RunReport collects the stage reports of Run.
type RunReport struct {
	Questions *StageReport `json:"questions"`
	Label     *StageReport `json:"label"`
	Answers   *StageReport `json:"answers"`
}

// Run generates questions, labels them and answers them for one document, strictly in
// sequence. It stops at the first stage error; item failures do not stop it.
func (o *Orchestrator) Run(ctx context.Context, s Settings, projectID, documentID string) (*RunReport, error) {
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
	chunkIDs, err := o.DocumentChunkIDs(ctx, projectID, documentID)
	if err != nil {
		return nil, err
	}
	if len(chunkIDs) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, errNoChunks)
	}

	rep := &RunReport{}
	if rep.Questions, err = o.GenerateQuestions(ctx, s, projectID, chunkIDs); err != nil {
		return rep, fmt.Errorf("questions stage: %w", err)
	}
	ids, err := o.documentQuestionIDs(ctx, projectID, documentID)
	if err != nil {
		return rep, err
	}
	if len(ids) == 0 {
		return rep, nil
	}
	if rep.Label, err = o.LabelQuestions(ctx, s, projectID, ids); err != nil {
		return rep, fmt.Errorf("label stage: %w", err)
	}
	if rep.Answers, err = o.GenerateAnswers(ctx, s, projectID, ids); err != nil {
		return rep, fmt.Errorf("answers stage: %w", err)
	}
	return rep, nil
}

func (o *Orchestrator) documentQuestionIDs(ctx context.Context, projectID, documentID string) ([]string, error) {
	qs, err := o.store.ListQuestions(ctx, storage.QuestionFilter{
		ProjectID:  projectID,
		DocumentID: documentID,
		Unanswered: true,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids, nil
}
