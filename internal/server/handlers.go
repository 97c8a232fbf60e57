package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hyperjump/dataforge/internal/classifier"
	"github.com/hyperjump/dataforge/internal/export"
	"github.com/hyperjump/dataforge/internal/keyword"
	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/pipeline"
	"github.com/hyperjump/dataforge/internal/storage"
	"go.uber.org/zap"
)

// settingsOverride is accepted by every model-backed request. Unset fields fall back to the
// server configuration.
type settingsOverride struct {
	Model         *llm.Config `json:"model,omitempty"`
	QuestionCount int         `json:"question_count,omitempty"`
	Language      string      `json:"language,omitempty"`
	RefineCot     *bool       `json:"refine_cot,omitempty"`
}

func (s *Server) settings(o settingsOverride) pipeline.Settings {
	st := s.config.Settings()
	if o.Model != nil {
		st.Model = mergeModel(st.Model, *o.Model)
	}
	if o.QuestionCount > 0 {
		st.QuestionCount = o.QuestionCount
	}
	if o.Language != "" {
		st.Language = o.Language
	}
	if o.RefineCot != nil {
		st.RefineCot = *o.RefineCot
	}
	return st
}

// mergeModel overlays the non-zero fields of override on base.
func mergeModel(base, override llm.Config) llm.Config {
	if override.Provider != "" {
		base.Provider = override.Provider
	}
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Temperature != nil {
		base.Temperature = override.Temperature
	}
	if override.MaxTokens > 0 {
		base.MaxTokens = override.MaxTokens
	}
	if override.Timeout > 0 {
		base.Timeout = override.Timeout
	}
	if override.RequestsPerSecond > 0 {
		base.RequestsPerSecond = override.RequestsPerSecond
	}
	return base
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	p := &models.Project{ID: uuid.New().String(), Name: req.Name, Description: req.Description}
	if err := s.storage.CreateProject(r.Context(), p); err != nil {
		s.fail(w, "create project", err)
		return
	}
	s.logger.Debug("project created", zap.String("project_id", p.ID), zap.String("name", p.Name))
	s.respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.storage.ListProjects(r.Context())
	if err != nil {
		s.fail(w, "list projects", err)
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.storage.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, "get project", err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.storage.DeleteProject(r.Context(), projectID); err != nil {
		s.fail(w, "delete project", err)
		return
	}
	if s.index != nil {
		if err := s.index.DeleteProject(r.Context(), projectID); err != nil {
			s.logger.Warn("keyword index project delete failed", zap.String("project_id", projectID), zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type statusResponse struct {
	Project     *models.Project       `json:"project"`
	Stats       *storage.ProjectStats `json:"stats"`
	Stages      map[models.Stage]int  `json:"document_stages"`
	Refinements int                   `json:"pending_refinements"`
	DiskUsage   *storage.DiskUsage    `json:"disk_usage,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	p, err := s.storage.GetProject(ctx, projectID)
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	stats, err := s.storage.ProjectStats(ctx, projectID)
	if err != nil {
		s.fail(w, "status: project stats", err)
		return
	}
	docs, err := s.storage.ListDocuments(ctx, projectID)
	if err != nil {
		s.fail(w, "status: list documents", err)
		return
	}
	resp := statusResponse{
		Project:     p,
		Stats:       stats,
		Stages:      make(map[models.Stage]int),
		Refinements: s.orch.Refiner().Pending(),
	}
	for _, d := range docs {
		resp.Stages[d.Stage]++
	}
	usage, err := storage.MeasureDiskUsage(s.config.Storage.DatabasePath, s.config.Storage.KeywordIndexPath)
	if err != nil {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	} else {
		resp.DiskUsage = usage
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type uploadRequest struct {
	models.DocumentInput
	settingsOverride
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	projectID := chi.URLParam(r, "projectID")
	s.logger.Debug("upload document request", zap.String("project_id", projectID), zap.String("name", req.Name))
	res, err := s.orch.Upload(r.Context(), s.settings(req.settingsOverride), projectID, req.DocumentInput)
	if err != nil {
		s.fail(w, "upload", err)
		return
	}
	res.Document.Content = ""
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.storage.GetProject(r.Context(), projectID); err != nil {
		s.fail(w, "list documents", err)
		return
	}
	docs, err := s.storage.ListDocuments(r.Context(), projectID)
	if err != nil {
		s.fail(w, "list documents", err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDocumentToc(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, documentID := chi.URLParam(r, "projectID"), chi.URLParam(r, "documentID")
	doc, err := s.storage.GetDocument(ctx, documentID)
	if err != nil {
		s.fail(w, "toc", err)
		return
	}
	if doc.ProjectID != projectID {
		s.fail(w, "toc", pipeline.ErrProjectMismatch)
		return
	}
	toc, err := s.orch.DocumentToc(ctx, documentID)
	if err != nil {
		s.fail(w, "toc", err)
		return
	}
	if toc == nil {
		toc = []*models.TocNode{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"document_id": documentID, "toc": toc})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	projectID, documentID := chi.URLParam(r, "projectID"), chi.URLParam(r, "documentID")
	s.logger.Debug("delete document request", zap.String("document_id", documentID))
	if err := s.orch.DeleteDocument(r.Context(), projectID, documentID); err != nil {
		s.fail(w, "delete document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.storage.ListChunks(r.Context(), chi.URLParam(r, "projectID"), r.URL.Query().Get("document_id"))
	if err != nil {
		s.fail(w, "list chunks", err)
		return
	}
	if chunks == nil {
		chunks = []*models.Chunk{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondError(w, http.StatusNotImplemented, "search not enabled")
		return
	}
	var query models.SearchQuery
	if err := decodeBody(r, &query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	query.ProjectID = chi.URLParam(r, "projectID")
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := keyword.SearchChunks(r.Context(), s.index, &query)
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	tags, err := s.storage.GetTags(ctx, projectID)
	if err != nil {
		s.fail(w, "tags", err)
		return
	}
	questions, err := s.storage.ListQuestions(ctx, storage.QuestionFilter{ProjectID: projectID})
	if err != nil {
		s.fail(w, "tags: list questions", err)
		return
	}
	if tags == nil {
		tags = []*models.Tag{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"tags":   tags,
		"report": classifier.Tally(questions, tags),
	})
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.QuestionFilter{
		ProjectID:  chi.URLParam(r, "projectID"),
		DocumentID: q.Get("document_id"),
		Unlabeled:  q.Get("unlabeled") == "true",
		Unanswered: q.Get("unanswered") == "true",
	}
	questions, err := s.storage.ListQuestions(r.Context(), f)
	if err != nil {
		s.fail(w, "list questions", err)
		return
	}
	if questions == nil {
		questions = []*models.Question{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

type generateQuestionsRequest struct {
	ChunkIDs   []string `json:"chunk_ids"`
	DocumentID string   `json:"document_id"`
	settingsOverride
}

func (s *Server) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	var req generateQuestionsRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	chunkIDs := req.ChunkIDs
	if len(chunkIDs) == 0 && req.DocumentID != "" {
		ids, err := s.orch.DocumentChunkIDs(ctx, projectID, req.DocumentID)
		if err != nil {
			s.fail(w, "generate questions", err)
			return
		}
		chunkIDs = ids
	}
	rep, err := s.orch.GenerateQuestions(ctx, s.settings(req.settingsOverride), projectID, chunkIDs)
	if err != nil {
		s.fail(w, "generate questions", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rep)
}

type questionIDsRequest struct {
	QuestionIDs []string `json:"question_ids"`
	settingsOverride
}

func (s *Server) handleLabelQuestions(w http.ResponseWriter, r *http.Request) {
	var req questionIDsRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rep, err := s.orch.LabelQuestions(r.Context(), s.settings(req.settingsOverride), chi.URLParam(r, "projectID"), req.QuestionIDs)
	if err != nil {
		s.fail(w, "label questions", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGenerateAnswers(w http.ResponseWriter, r *http.Request) {
	var req questionIDsRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rep, err := s.orch.GenerateAnswers(r.Context(), s.settings(req.settingsOverride), chi.URLParam(r, "projectID"), req.QuestionIDs)
	if err != nil {
		s.fail(w, "generate answers", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rep)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// fail maps err to a status code and writes it. Server-side failures are logged.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, pipeline.ErrProjectMismatch):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidInput), errors.Is(err, llm.ErrNoModel),
		errors.Is(err, export.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrRefinerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrDomainTreeFailed), errors.Is(err, pipeline.ErrEmptyGeneration),
		errors.Is(err, llm.ErrParseFailed), errors.Is(err, llm.ErrProvider), errors.Is(err, llm.ErrEmptyResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
