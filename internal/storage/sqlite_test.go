package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/dataforge/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateProject(ctx, &models.Project{ID: "p1", Name: "Project"}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateDocument(ctx, &models.Document{ID: "d1", ProjectID: "p1", Name: "doc.md", Content: "text"}); err != nil {
		t.Fatal(err)
	}
	chunks := []*models.Chunk{
		{ID: "c1", ProjectID: "p1", DocumentID: "d1", Name: "doc-part-1", Ordinal: 0, Content: "one", Length: 3},
		{ID: "c2", ProjectID: "p1", DocumentID: "d1", Name: "doc-part-2", Ordinal: 1, Content: "two", Length: 3},
	}
	if err := store.BatchCreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteStorage_ProjectsAndDocuments(t *testing.T) {
	store := newTestStorage(t)
	seed(t, store)
	ctx := context.Background()

	p, err := store.GetProject(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Project" || p.CreatedAt.IsZero() {
		t.Errorf("got %+v", p)
	}
	if _, err := store.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	doc, err := store.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Stage != models.StageIngested || doc.Content != "text" {
		t.Errorf("got %+v", doc)
	}
	if err := store.UpdateDocumentStage(ctx, "d1", models.StageChunked); err != nil {
		t.Fatal(err)
	}
	docs, err := store.ListDocuments(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Stage != models.StageChunked || docs[0].Content != "" {
		t.Errorf("unexpected list %+v", docs[0])
	}

	chunks, err := store.ListChunks(ctx, "p1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || chunks[0].ID != "c1" || chunks[1].Ordinal != 1 {
		t.Errorf("unexpected chunks %+v", chunks)
	}
}

func TestSQLiteStorage_Tags(t *testing.T) {
	store := newTestStorage(t)
	seed(t, store)
	ctx := context.Background()

	forest, err := store.GetTags(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(forest) != 0 {
		t.Errorf("expected empty forest, got %v", forest)
	}
	want := []*models.Tag{{Label: "Finance", Children: []*models.Tag{{Label: "Tax"}}}}
	if err := store.SaveTags(ctx, "p1", want); err != nil {
		t.Fatal(err)
	}
	forest, _ = store.GetTags(ctx, "p1")
	if len(forest) != 1 || forest[0].Children[0].Label != "Tax" {
		t.Errorf("round trip failed: %+v", forest)
	}
	if err := store.SaveTags(ctx, "nope", want); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_Questions(t *testing.T) {
	store := newTestStorage(t)
	seed(t, store)
	ctx := context.Background()

	qs := []*models.Question{
		{ID: "q1", ProjectID: "p1", ChunkID: "c1", Text: "What is one?"},
		{ID: "q2", ProjectID: "p1", ChunkID: "c2", Text: "What is two?", Label: "Numbers"},
	}
	if err := store.BatchCreateQuestions(ctx, qs); err != nil {
		t.Fatal(err)
	}
	unlabeled, err := store.ListQuestions(ctx, QuestionFilter{ProjectID: "p1", Unlabeled: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(unlabeled) != 1 || unlabeled[0].ID != "q1" {
		t.Errorf("unexpected unlabeled %+v", unlabeled)
	}
	if err := store.UpdateQuestionLabel(ctx, "q1", "Numbers"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetQuestionAnswered(ctx, "q2", true); err != nil {
		t.Fatal(err)
	}
	open, _ := store.ListQuestions(ctx, QuestionFilter{ProjectID: "p1", Unanswered: true})
	if len(open) != 1 || open[0].ID != "q1" {
		t.Errorf("unexpected unanswered %+v", open)
	}
	byChunk, _ := store.ListQuestions(ctx, QuestionFilter{ProjectID: "p1", ChunkIDs: []string{"c2"}})
	if len(byChunk) != 1 || !byChunk[0].Answered {
		t.Errorf("unexpected by chunk %+v", byChunk)
	}
	byID, _ := store.ListQuestions(ctx, QuestionFilter{ProjectID: "p1", IDs: []string{"q1", "q2"}})
	if len(byID) != 2 {
		t.Errorf("expected 2 by id, got %d", len(byID))
	}

	if err := store.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetQuestion(ctx, "q1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("questions should be removed with their document, got %v", err)
	}
	if _, err := store.GetChunk(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("chunks should be removed with their document, got %v", err)
	}
}

func TestSQLiteStorage_ReplaceDocument(t *testing.T) {
	store := newTestStorage(t)
	seed(t, store)
	ctx := context.Background()

	if err := store.BatchCreateQuestions(ctx, []*models.Question{
		{ID: "q1", ProjectID: "p1", ChunkID: "c1", Text: "What is one?"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateDocument(ctx, &models.Document{ID: "d1-next", ProjectID: "p1", Name: "doc.md", Content: "new text"}); err != nil {
		t.Fatal(err)
	}
	if err := store.BatchCreateChunks(ctx, []*models.Chunk{
		{ID: "c3", ProjectID: "p1", DocumentID: "d1-next", Name: "doc-part-1", Content: "new text", Length: 8},
	}); err != nil {
		t.Fatal(err)
	}

	if err := store.ReplaceDocument(ctx, "d1", "d1-next"); err != nil {
		t.Fatal(err)
	}
	doc, err := store.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "new text" {
		t.Errorf("replacement content not moved: %q", doc.Content)
	}
	if _, err := store.GetDocument(ctx, "d1-next"); !errors.Is(err, ErrNotFound) {
		t.Errorf("replacement id should be gone, got %v", err)
	}
	chunks, _ := store.ListChunks(ctx, "p1", "d1")
	if len(chunks) != 1 || chunks[0].ID != "c3" {
		t.Errorf("unexpected chunks after replace %+v", chunks)
	}
	if _, err := store.GetQuestion(ctx, "q1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old questions should be removed, got %v", err)
	}

	if err := store.ReplaceDocument(ctx, "d1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing replacement, got %v", err)
	}
	if _, err := store.GetDocument(ctx, "d1"); err != nil {
		t.Errorf("failed replace must keep the document: %v", err)
	}
}

func TestSQLiteStorage_RecordCotVersioning(t *testing.T) {
	store := newTestStorage(t)
	seed(t, store)
	ctx := context.Background()

	rec := &models.DatasetRecord{
		ID: "01HZX0000000000000000000A1", ProjectID: "p1", QuestionID: "q1", ChunkID: "c1",
		Question: "q", Answer: "a", Cot: "raw",
	}
	if err := store.CreateRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	v, err := store.UpdateRecordCot(ctx, rec.ID, "refined", 0)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
	if _, err := store.UpdateRecordCot(ctx, rec.ID, "late", 0); !errors.Is(err, ErrStaleWrite) {
		t.Errorf("expected ErrStaleWrite, got %v", err)
	}

	manual := "edited by hand"
	got, err := store.UpdateRecord(ctx, rec.ID, RecordUpdate{Cot: &manual})
	if err != nil {
		t.Fatal(err)
	}
	if got.CotVersion != 2 || got.Cot != manual {
		t.Errorf("manual edit should bump version, got %d %q", got.CotVersion, got.Cot)
	}
	if got, err = store.UpdateRecord(ctx, rec.ID, RecordUpdate{Cot: &manual}); err != nil {
		t.Fatal(err)
	}
	if got.CotVersion != 2 {
		t.Errorf("unchanged cot must not bump version, got %d", got.CotVersion)
	}

	// An answer edit based on an old snapshot leaves a newer cot alone.
	if _, err := store.UpdateRecordCot(ctx, rec.ID, "refined again", 2); err != nil {
		t.Fatal(err)
	}
	answer, confirmed := "new answer", true
	got, err = store.UpdateRecord(ctx, rec.ID, RecordUpdate{Answer: &answer, Confirmed: &confirmed})
	if err != nil {
		t.Fatal(err)
	}
	if got.CotVersion != 3 || got.Cot != "refined again" || got.Answer != "new answer" || !got.Confirmed {
		t.Errorf("answer-only edit touched cot: %+v", got)
	}
	if _, err := store.UpdateRecord(ctx, "missing", RecordUpdate{Answer: &answer}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.DeleteRecord(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpdateRecordCot(ctx, rec.ID, "x", 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteStorage_ListRecordsAndStats(t *testing.T) {
	store := newTestStorage(t)
	seed(t, store)
	ctx := context.Background()

	for i, id := range []string{"01HZX0000000000000000000A1", "01HZX0000000000000000000A2", "01HZX0000000000000000000A3"} {
		r := &models.DatasetRecord{ID: id, ProjectID: "p1", QuestionID: "q", ChunkID: "c1", Question: "q", Answer: "a",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := store.CreateRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.ConfirmRecord(ctx, "01HZX0000000000000000000A2", true); err != nil {
		t.Fatal(err)
	}
	all, err := store.ListRecords(ctx, RecordFilter{ProjectID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "01HZX0000000000000000000A1" {
		t.Errorf("unexpected records %+v", all)
	}
	confirmed, _ := store.ListRecords(ctx, RecordFilter{ProjectID: "p1", ConfirmedOnly: true})
	if len(confirmed) != 1 {
		t.Errorf("expected 1 confirmed, got %d", len(confirmed))
	}
	page, _ := store.ListRecords(ctx, RecordFilter{ProjectID: "p1", Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].ID != "01HZX0000000000000000000A2" {
		t.Errorf("unexpected page %+v", page)
	}

	st, err := store.ProjectStats(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 1 || st.Chunks != 2 || st.Records != 3 || st.ConfirmedRecords != 1 {
		t.Errorf("unexpected stats %+v", st)
	}

	if err := store.DeleteProject(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	st, _ = store.ProjectStats(ctx, "p1")
	if st.Records != 0 || st.Documents != 0 {
		t.Errorf("project delete left rows behind: %+v", st)
	}
}
