package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/dataforge/internal/export"
	"github.com/hyperjump/dataforge/internal/models"
	"github.com/hyperjump/dataforge/internal/pipeline"
	"github.com/hyperjump/dataforge/internal/storage"
	"go.uber.org/zap"
)

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.storage.ListRecords(r.Context(), storage.RecordFilter{
		ProjectID:     chi.URLParam(r, "projectID"),
		ConfirmedOnly: queryBool(r, "confirmed"),
		Offset:        offset,
		Limit:         limit,
	})
	if err != nil {
		s.fail(w, "list records", err)
		return
	}
	if records == nil {
		records = []*models.DatasetRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.storage.GetRecord(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		s.fail(w, "get record", err)
		return
	}
	if rec.ProjectID != chi.URLParam(r, "projectID") {
		s.fail(w, "get record", pipeline.ErrProjectMismatch)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var edit pipeline.RecordEdit
	if err := decodeBody(r, &edit); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.orch.UpdateRecord(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "recordID"), edit)
	if err != nil {
		s.fail(w, "update record", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

type confirmRequest struct {
	Confirmed *bool `json:"confirmed"`
}

func (s *Server) handleConfirmRecord(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	confirmed := true
	if req.Confirmed != nil {
		confirmed = *req.Confirmed
	}
	recordID := chi.URLParam(r, "recordID")
	if err := s.orch.ConfirmRecord(r.Context(), chi.URLParam(r, "projectID"), recordID, confirmed); err != nil {
		s.fail(w, "confirm record", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"id": recordID, "confirmed": confirmed})
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteRecord(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "recordID")); err != nil {
		s.fail(w, "delete record", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRefineRecord(w http.ResponseWriter, r *http.Request) {
	var req settingsOverride
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	recordID := chi.URLParam(r, "recordID")
	if err := s.orch.RefineRecord(r.Context(), s.settings(req), chi.URLParam(r, "projectID"), recordID); err != nil {
		s.fail(w, "refine record", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"id": recordID, "status": "refining"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := export.Options{
		Format:        format,
		ConfirmedOnly: queryBool(r, "confirmed"),
		IncludeCot:    queryBool(r, "cot"),
		SystemPrompt:  r.URL.Query().Get("system"),
	}
	projectID := chi.URLParam(r, "projectID")
	var buf bytes.Buffer
	n, err := s.exporter.Export(r.Context(), &buf, projectID, opts)
	if err != nil {
		s.fail(w, "export", err)
		return
	}
	contentType, ext := "application/json", "json"
	if format == export.FormatJSONL {
		contentType, ext = "application/x-ndjson", "jsonl"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", projectID+"-"+string(format)+"."+ext))
	w.Header().Set("X-Record-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("export write failed", zap.String("project_id", projectID), zap.Error(err))
	}
}
