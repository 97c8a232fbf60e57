package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/dataforge/internal/keyword"
	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectID = "p1"

const handbook = `# Handbook

Welcome to the company handbook.

## Leave

Employees get 25 days of paid leave per year.

## Expenses

Travel is reimbursed within 30 days.
`

// script answers model calls by stage. Nil handlers fail the call.
type script struct {
	domain    func(user string) (string, error)
	questions func(user string) (string, error)
	label     func(user string) (string, error)
	answer    func(user string) (string, error)
	refine    func(user string) (string, error)
}

func (s *script) model() *llm.MockModel {
	return &llm.MockModel{Respond: func(msgs []llm.Message) (string, error) {
		system, user := msgs[0].Content, msgs[len(msgs)-1].Content
		var h func(string) (string, error)
		switch {
		case strings.Contains(system, "taxonomy"):
			h = s.domain
		case strings.Contains(system, "You write questions"):
			h = s.questions
		case strings.Contains(system, "You classify questions"):
			h = s.label
		case strings.Contains(system, "You answer questions"):
			h = s.answer
		case strings.Contains(system, "reasoning traces"):
			h = s.refine
		}
		if h == nil {
			return "", errors.New("unexpected model call")
		}
		return h(user)
	}}
}

func fixed(resp string) func(string) (string, error) {
	return func(string) (string, error) { return resp, nil }
}

const domainJSON = `[{"label": "HR", "child": [{"label": "Leave"}, {"label": "Expenses"}]}]`

func testSettings() Settings {
	s := DefaultSettings()
	s.Model = llm.Config{BaseURL: "http://model.test/v1", Name: "test-model"}
	s.ConcurrencyLimit = 2
	return s
}

type fixture struct {
	orch  *Orchestrator
	store *storage.SQLiteStorage
	index *keyword.BleveIndex
}

func newFixture(t *testing.T, model llm.Model) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	index, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	orch := New(store,
		WithKeywordIndex(index),
		WithModelFactory(func(llm.Config) (llm.Model, error) { return model, nil }),
	)
	t.Cleanup(orch.Close)
	require.NoError(t, store.CreateProject(context.Background(), &models.Project{ID: projectID, Name: "Test"}))
	return &fixture{orch: orch, store: store, index: index}
}

func (f *fixture) upload(t *testing.T, name, content string) *IngestResult {
	t.Helper()
	res, err := f.orch.Upload(context.Background(), testSettings(), projectID, models.DocumentInput{Name: name, Content: content})
	require.NoError(t, err)
	return res
}

func TestQuestionCount(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 7, QuestionCount(s, 1800))
	assert.Equal(t, 1, QuestionCount(s, 100))
	assert.Equal(t, 1, QuestionCount(s, 0))
	assert.Equal(t, 8, QuestionCount(s, 1920))

	s.QuestionCount = 3
	assert.Equal(t, 3, QuestionCount(s, 1800))
}

func TestSettings_WithDefaults(t *testing.T) {
	s := Settings{}.WithDefaults()
	assert.Equal(t, 1500, s.TextSplitMinLength)
	assert.Equal(t, 2000, s.TextSplitMaxLength)
	assert.Equal(t, 240, s.QuestionGenerationLength)
	assert.Equal(t, 5, s.ConcurrencyLimit)
	assert.Equal(t, "en", s.Language)
	assert.NoError(t, s.ValidateSplit())

	s.TextSplitMinLength = 3000
	assert.ErrorIs(t, s.ValidateSplit(), ErrInvalidInput)
}

func TestIngestDocument_InvalidInput(t *testing.T) {
	f := newFixture(t, (&script{}).model())
	ctx := context.Background()

	_, err := f.orch.IngestDocument(ctx, testSettings(), "", models.DocumentInput{Name: "a.md", Content: "text"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.orch.IngestDocument(ctx, testSettings(), projectID, models.DocumentInput{Name: "a.md", Content: " \n\n "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad := testSettings()
	bad.TextSplitMinLength, bad.TextSplitMaxLength = 500, 100
	_, err = f.orch.IngestDocument(ctx, bad, projectID, models.DocumentInput{Name: "a.md", Content: "text"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.orch.IngestDocument(ctx, testSettings(), "missing", models.DocumentInput{Name: "a.md", Content: "text"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIngestDocument_ChunksAndIndexes(t *testing.T) {
	f := newFixture(t, (&script{}).model())
	ctx := context.Background()

	para := strings.Repeat("a", 898)
	first := "reimbursement " + strings.Repeat("a", 884)
	text := strings.Join([]string{first, para + "b", para, para + "b"}, "\n\n")
	require.Equal(t, 3600, len([]rune(text)))

	res, err := f.orch.IngestDocument(ctx, testSettings(), projectID, models.DocumentInput{Name: "long.txt", Content: text})
	require.NoError(t, err)
	assert.Equal(t, models.StageChunked, res.Document.Stage)
	assert.Len(t, res.Chunks, 2)
	assert.Equal(t, "long-part-1", res.Chunks[0].Name)

	stored, err := f.store.ListChunks(ctx, projectID, res.Document.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	hits, err := f.index.Search(ctx, projectID, "reimbursement", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, res.Document.ID, hits[0].DocumentID)
}

func TestUpload_BuildsDomainTree(t *testing.T) {
	s := &script{domain: func(user string) (string, error) {
		if !strings.Contains(user, "- Handbook\n  - Leave\n  - Expenses") {
			return "", fmt.Errorf("outline missing from prompt: %q", user)
		}
		return "```json\n" + domainJSON + "\n```", nil
	}}
	f := newFixture(t, s.model())

	res := f.upload(t, "handbook.md", handbook)
	assert.Equal(t, models.StageDomainTreeBuilt, res.Document.Stage)
	require.Len(t, res.Tags, 1)
	assert.Equal(t, "HR", res.Tags[0].Label)
	assert.Len(t, res.Tags[0].Children, 2)
	require.Len(t, res.Toc, 1)
	assert.Len(t, res.Toc[0].Children, 2)

	tags, err := f.store.GetTags(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, 3, models.CountTags(tags))

	doc, err := f.store.GetDocument(context.Background(), res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageDomainTreeBuilt, doc.Stage)
}

func TestUpload_DomainTreeFailureRollsBack(t *testing.T) {
	tests := []struct {
		name   string
		domain func(string) (string, error)
	}{
		{"model error", func(string) (string, error) { return "", errors.New("boom") }},
		{"unparseable", fixed("I cannot help with that.")},
		{"empty forest", fixed(`[]`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, (&script{domain: tt.domain}).model())
			ctx := context.Background()

			_, err := f.orch.Upload(ctx, testSettings(), projectID, models.DocumentInput{ID: "doc1", Name: "handbook.md", Content: handbook})
			require.ErrorIs(t, err, ErrDomainTreeFailed)

			_, err = f.store.GetDocument(ctx, "doc1")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			chunks, err := f.store.ListChunks(ctx, projectID, "doc1")
			require.NoError(t, err)
			assert.Empty(t, chunks)
			n, err := f.index.DocCount()
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestGenerateQuestions_CountFromLength(t *testing.T) {
	var asked atomic.Value
	s := &script{questions: func(user string) (string, error) {
		asked.Store(user)
		qs := make([]string, 7)
		for i := range qs {
			qs[i] = fmt.Sprintf("%q", fmt.Sprintf("Question %d?", i+1))
		}
		return "[" + strings.Join(qs, ",") + "]", nil
	}}
	f := newFixture(t, s.model())
	ctx := context.Background()

	require.NoError(t, f.store.CreateDocument(ctx, &models.Document{ID: "d1", ProjectID: projectID, Name: "d.txt", Content: "x", Stage: models.StageDomainTreeBuilt}))
	content := strings.Repeat("z", 1800)
	require.NoError(t, f.store.BatchCreateChunks(ctx, []*models.Chunk{
		{ID: "c1", ProjectID: projectID, DocumentID: "d1", Name: "d-part-1", Content: content, Length: 1800},
	}))

	rep, err := f.orch.GenerateQuestions(ctx, testSettings(), projectID, nil)
	require.NoError(t, err)
	assert.Contains(t, asked.Load().(string), "Write 7 questions")
	assert.Equal(t, 7, rep.Created)
	assert.Equal(t, 1, rep.Summary.SuccessCount)

	qs, err := f.store.ListQuestions(ctx, storage.QuestionFilter{ProjectID: projectID})
	require.NoError(t, err)
	assert.Len(t, qs, 7)

	doc, err := f.store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StageQuestionsGenerated, doc.Stage)
}

func TestGenerateQuestions_ItemFailureIsolated(t *testing.T) {
	s := &script{questions: func(user string) (string, error) {
		if strings.Contains(user, "broken") {
			return "no json here", nil
		}
		return `["What is kept?", "What is kept?", "  "]`, nil
	}}
	f := newFixture(t, s.model())
	ctx := context.Background()

	require.NoError(t, f.store.CreateDocument(ctx, &models.Document{ID: "d1", ProjectID: projectID, Name: "d.txt", Content: "x", Stage: models.StageChunked}))
	require.NoError(t, f.store.BatchCreateChunks(ctx, []*models.Chunk{
		{ID: "c1", ProjectID: projectID, DocumentID: "d1", Name: "d-part-1", Ordinal: 0, Content: "good text", Length: 9},
		{ID: "c2", ProjectID: projectID, DocumentID: "d1", Name: "d-part-2", Ordinal: 1, Content: "broken text", Length: 11},
	}))

	rep, err := f.orch.GenerateQuestions(ctx, testSettings(), projectID, []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Summary.SuccessCount)
	assert.Equal(t, 1, rep.Summary.FailCount)
	assert.Equal(t, 2, rep.Summary.Total)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "c2", rep.Failed[0].Key)
	assert.Equal(t, 1, rep.Created, "duplicates and blanks are dropped")
}

func TestGenerateQuestions_Validation(t *testing.T) {
	f := newFixture(t, (&script{}).model())
	ctx := context.Background()

	_, err := f.orch.GenerateQuestions(ctx, testSettings(), projectID, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.orch.GenerateQuestions(ctx, testSettings(), projectID, []string{""})
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, f.store.CreateProject(ctx, &models.Project{ID: "p2", Name: "Other"}))
	require.NoError(t, f.store.BatchCreateChunks(ctx, []*models.Chunk{
		{ID: "other", ProjectID: "p2", DocumentID: "dx", Name: "x", Content: "x", Length: 1},
	}))
	_, err = f.orch.GenerateQuestions(ctx, testSettings(), projectID, []string{"other"})
	assert.ErrorIs(t, err, ErrProjectMismatch)
}

func seedQuestions(t *testing.T, f *fixture, texts ...string) []*models.Question {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateDocument(ctx, &models.Document{ID: "d1", ProjectID: projectID, Name: "d.txt", Content: "x", Stage: models.StageQuestionsGenerated}))
	require.NoError(t, f.store.BatchCreateChunks(ctx, []*models.Chunk{
		{ID: "c1", ProjectID: projectID, DocumentID: "d1", Name: "d-part-1", Content: "Employees get 25 days of leave.", Length: 31},
	}))
	qs := make([]*models.Question, len(texts))
	for i, text := range texts {
		qs[i] = &models.Question{ID: fmt.Sprintf("q%d", i+1), ProjectID: projectID, ChunkID: "c1", Text: text}
	}
	require.NoError(t, f.store.BatchCreateQuestions(ctx, qs))
	require.NoError(t, f.store.SaveTags(ctx, projectID, []*models.Tag{{Label: "HR", Children: []*models.Tag{{Label: "Leave"}}}}))
	return qs
}

func TestLabelQuestions(t *testing.T) {
	s := &script{label: fixed(`[
		{"question": "How many leave days?", "label": "Leave"},
		{"question": "Who approves travel?", "label": "Travel"}
	]`)}
	f := newFixture(t, s.model())
	ctx := context.Background()
	seedQuestions(t, f, "How many leave days?", "Who approves travel?", "Is there a gym?")

	rep, err := f.orch.LabelQuestions(ctx, testSettings(), projectID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Summary.SuccessCount)
	assert.Equal(t, 1, rep.Summary.FailCount)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "q3", rep.Failed[0].Key)

	q1, err := f.store.GetQuestion(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "Leave", q1.Label)
	q2, err := f.store.GetQuestion(ctx, "q2")
	require.NoError(t, err)
	assert.Equal(t, "Travel", q2.Label, "unresolved labels are stored as returned")

	doc, err := f.store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StageLabeled, doc.Stage)

	rep, err = f.orch.LabelQuestions(ctx, testSettings(), projectID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Summary.Total, "only the unlabeled question is sent again")
}

func TestLabelQuestions_ParseFailureFailsStage(t *testing.T) {
	f := newFixture(t, (&script{label: fixed("sorry")}).model())
	seedQuestions(t, f, "How many leave days?")

	_, err := f.orch.LabelQuestions(context.Background(), testSettings(), projectID, nil)
	assert.ErrorIs(t, err, llm.ErrParseFailed)
}

func TestGenerateAnswers_WithRefinement(t *testing.T) {
	s := &script{
		answer: fixed("<think>The text says 25 days.</think>Employees get 25 days of paid leave."),
		refine: fixed("Annual leave is fixed at 25 days."),
	}
	f := newFixture(t, s.model())
	ctx := context.Background()
	seedQuestions(t, f, "How many leave days?")
	require.NoError(t, f.store.UpdateQuestionLabel(ctx, "q1", "Leave"))

	rep, err := f.orch.GenerateAnswers(ctx, testSettings(), projectID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)
	f.orch.Refiner().Wait()

	recs, err := f.store.ListRecords(ctx, storage.RecordFilter{ProjectID: projectID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "Employees get 25 days of paid leave.", rec.Answer)
	assert.Equal(t, "Annual leave is fixed at 25 days.", rec.Cot)
	assert.Equal(t, int64(1), rec.CotVersion)
	assert.Equal(t, "Leave", rec.Label)
	assert.Equal(t, "test-model", rec.Model)

	q, err := f.store.GetQuestion(ctx, "q1")
	require.NoError(t, err)
	assert.True(t, q.Answered)

	doc, err := f.store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StageCotRefined, doc.Stage)

	rep, err = f.orch.GenerateAnswers(ctx, testSettings(), projectID, nil)
	require.NoError(t, err)
	assert.Zero(t, rep.Summary.Total, "answered questions are skipped")
}

func TestGenerateAnswers_NoRefinementWithoutCot(t *testing.T) {
	s := &script{answer: fixed("Twenty five.")}
	f := newFixture(t, s.model())
	ctx := context.Background()
	seedQuestions(t, f, "How many leave days?")

	_, err := f.orch.GenerateAnswers(ctx, testSettings(), projectID, nil)
	require.NoError(t, err)
	f.orch.Refiner().Wait()

	recs, err := f.store.ListRecords(ctx, storage.RecordFilter{ProjectID: projectID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Cot)
	assert.Zero(t, recs[0].CotVersion)
}

func TestGenerateAnswers_EmptyAnswerFails(t *testing.T) {
	f := newFixture(t, (&script{answer: fixed("<think>hmm</think>")}).model())
	seedQuestions(t, f, "How many leave days?")

	rep, err := f.orch.GenerateAnswers(context.Background(), testSettings(), projectID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Summary.FailCount)
	assert.Contains(t, rep.Failed[0].Error, ErrEmptyGeneration.Error())
}

func TestAnswerQuestionStream(t *testing.T) {
	s := &script{answer: fixed("Employees get 25 days.")}
	f := newFixture(t, s.model())
	ctx := context.Background()
	seedQuestions(t, f, "How many leave days?")

	var pieces []string
	rec, err := f.orch.AnswerQuestionStream(ctx, testSettings(), projectID, "q1", func(p string) {
		pieces = append(pieces, p)
	})
	require.NoError(t, err)
	assert.Equal(t, "Employees get 25 days.", rec.Answer)
	assert.Equal(t, "Employees get 25 days.", strings.Join(pieces, ""))
	assert.Greater(t, len(pieces), 1)

	_, err = f.orch.AnswerQuestionStream(ctx, testSettings(), "p2", "q1", nil)
	assert.ErrorIs(t, err, ErrProjectMismatch)
}

func TestRun(t *testing.T) {
	s := &script{
		domain:    fixed(domainJSON),
		questions: fixed(`["How many leave days?", "When are expenses paid?"]`),
		label: fixed(`[{"question": "How many leave days?", "label": "Leave"},
			{"question": "When are expenses paid?", "label": "Expenses"}]`),
		answer: fixed("Within the stated limits."),
	}
	f := newFixture(t, s.model())
	ctx := context.Background()
	res := f.upload(t, "handbook.md", handbook)

	rep, err := f.orch.Run(ctx, testSettings(), projectID, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Questions.Created)
	assert.Equal(t, 2, rep.Label.Summary.SuccessCount)
	assert.Equal(t, 2, rep.Answers.Created)

	doc, err := f.store.GetDocument(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageAnswersGenerated, doc.Stage)

	stats, err := f.store.ProjectStats(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Records)
}

func TestRun_StopsAtStageError(t *testing.T) {
	s := &script{
		domain:    fixed(domainJSON),
		questions: fixed(`["How many leave days?"]`),
		label:     fixed("not json"),
	}
	f := newFixture(t, s.model())
	res := f.upload(t, "handbook.md", handbook)

	rep, err := f.orch.Run(context.Background(), testSettings(), projectID, res.Document.ID)
	require.ErrorIs(t, err, llm.ErrParseFailed)
	assert.NotNil(t, rep.Questions)
	assert.Nil(t, rep.Answers)
}
