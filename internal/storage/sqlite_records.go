package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/dataforge/internal/models"
)

const questionColumns = `id, project_id, chunk_id, text, label, answered, created_at`

func scanQuestion(row scanner) (*models.Question, error) {
	var q models.Question
	if err := row.Scan(&q.ID, &q.ProjectID, &q.ChunkID, &q.Text, &q.Label, &q.Answered, &q.CreatedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

// BatchCreateQuestions inserts questions in a transaction.
func (s *SQLiteStorage) BatchCreateQuestions(ctx context.Context, questions []*models.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO questions (`+questionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, q := range questions {
		if q.CreatedAt.IsZero() {
			q.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, q.ID, q.ProjectID, q.ChunkID, q.Text, q.Label, q.Answered, q.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert question %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}

// GetQuestion returns a question by ID.
func (s *SQLiteStorage) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("question", id)
	}
	return q, err
}

// ListQuestions returns the questions matching f, oldest first.
func (s *SQLiteStorage) ListQuestions(ctx context.Context, f QuestionFilter) ([]*models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE project_id = ?`
	args := []any{f.ProjectID}
	if f.DocumentID != "" {
		query += ` AND chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`
		args = append(args, f.DocumentID)
	}
	if len(f.ChunkIDs) > 0 {
		query += ` AND chunk_id IN (` + placeholders(len(f.ChunkIDs)) + `)`
		for _, id := range f.ChunkIDs {
			args = append(args, id)
		}
	}
	if len(f.IDs) > 0 {
		query += ` AND id IN (` + placeholders(len(f.IDs)) + `)`
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.Unlabeled {
		query += ` AND label = ''`
	}
	if f.Unanswered {
		query += ` AND answered = 0`
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpdateQuestionLabel sets a question's label.
func (s *SQLiteStorage) UpdateQuestionLabel(ctx context.Context, id, label string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET label = ? WHERE id = ?`, label, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "question", id)
}

// SetQuestionAnswered marks whether a question has a dataset record.
func (s *SQLiteStorage) SetQuestionAnswered(ctx context.Context, id string, answered bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET answered = ? WHERE id = ?`, answered, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "question", id)
}

// DeleteQuestion removes a question.
func (s *SQLiteStorage) DeleteQuestion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "question", id)
}

const recordColumns = `id, project_id, question_id, chunk_id, question, answer, cot, cot_version, label, model, confirmed, created_at`

func scanRecord(row scanner) (*models.DatasetRecord, error) {
	var r models.DatasetRecord
	err := row.Scan(&r.ID, &r.ProjectID, &r.QuestionID, &r.ChunkID, &r.Question, &r.Answer,
		&r.Cot, &r.CotVersion, &r.Label, &r.Model, &r.Confirmed, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRecord inserts a dataset record.
func (s *SQLiteStorage) CreateRecord(ctx context.Context, r *models.DatasetRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dataset_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.QuestionID, r.ChunkID, r.Question, r.Answer,
		r.Cot, r.CotVersion, r.Label, r.Model, r.Confirmed, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// GetRecord returns a dataset record by ID.
func (s *SQLiteStorage) GetRecord(ctx context.Context, id string) (*models.DatasetRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM dataset_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("record", id)
	}
	return r, err
}

// ListRecords returns the records matching f in id order, which is creation order.
func (s *SQLiteStorage) ListRecords(ctx context.Context, f RecordFilter) ([]*models.DatasetRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM dataset_records WHERE project_id = ?`
	args := []any{f.ProjectID}
	if f.ConfirmedOnly {
		query += ` AND confirmed = 1`
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DatasetRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRecord applies the non-nil fields of u in a single statement, so a concurrent cot
// refinement is never overwritten by fields the edit did not touch. The cot version is bumped
// only when the cot actually changes.
func (s *SQLiteStorage) UpdateRecord(ctx context.Context, id string, u RecordUpdate) (*models.DatasetRecord, error) {
	cot := nullable(u.Cot)
	res, err := s.db.ExecContext(ctx, `
		UPDATE dataset_records SET
			answer = COALESCE(?, answer),
			confirmed = COALESCE(?, confirmed),
			cot_version = CASE WHEN ? IS NOT NULL AND ? <> cot THEN cot_version + 1 ELSE cot_version END,
			cot = COALESCE(?, cot)
		WHERE id = ?`,
		nullable(u.Answer), nullable(u.Confirmed), cot, cot, cot, id,
	)
	if err != nil {
		return nil, err
	}
	if err := checkAffected(res, "record", id); err != nil {
		return nil, err
	}
	return s.GetRecord(ctx, id)
}

// nullable turns a nil pointer into SQL NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// UpdateRecordCot compares and swaps a record's cot on its version.
func (s *SQLiteStorage) UpdateRecordCot(ctx context.Context, id, cot string, expectedVersion int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dataset_records SET cot = ?, cot_version = cot_version + 1 WHERE id = ? AND cot_version = ?`,
		cot, id, expectedVersion,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		return expectedVersion + 1, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM dataset_records WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("record", id)
	}
	if err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("record %s at version %d: %w", id, expectedVersion, ErrStaleWrite)
}

// ConfirmRecord sets a record's confirmed flag.
func (s *SQLiteStorage) ConfirmRecord(ctx context.Context, id string, confirmed bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE dataset_records SET confirmed = ? WHERE id = ?`, confirmed, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "record", id)
}

// DeleteRecord removes a record.
func (s *SQLiteStorage) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dataset_records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "record", id)
}

// ProjectStats counts a project's entities.
func (s *SQLiteStorage) ProjectStats(ctx context.Context, projectID string) (*ProjectStats, error) {
	var st ProjectStats
	counts := []struct {
		dest  *int64
		query string
	}{
		{&st.Documents, `SELECT COUNT(*) FROM documents WHERE project_id = ?`},
		{&st.Chunks, `SELECT COUNT(*) FROM chunks WHERE project_id = ?`},
		{&st.Questions, `SELECT COUNT(*) FROM questions WHERE project_id = ?`},
		{&st.AnsweredQuestions, `SELECT COUNT(*) FROM questions WHERE project_id = ? AND answered = 1`},
		{&st.Records, `SELECT COUNT(*) FROM dataset_records WHERE project_id = ?`},
		{&st.ConfirmedRecords, `SELECT COUNT(*) FROM dataset_records WHERE project_id = ? AND confirmed = 1`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, projectID).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}
	return &st, nil
}
