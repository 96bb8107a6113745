package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
	"github.com/dotcommander/lore/internal/output"
	"github.com/dotcommander/lore/internal/rag"
)

var (
	errRouteNotFound    = &apperr.AppError{Code: apperr.CodeNotFound, Message: "route not found"}
	errMethodNotAllowed = &apperr.AppError{Code: apperr.CodeValidation, Message: "method not allowed"}
)

func errBodyTooLarge(limit int64) *apperr.AppError {
	return &apperr.AppError{
		Code:    apperr.CodeValidation,
		Message: fmt.Sprintf("request body exceeds %d bytes", limit),
		Details: map[string]string{"field": "body"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := output.PrintWith(output.Config{Writer: w}, v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func errorResponse(err error) output.Response {
	return output.Error(err)
}

// writeError renders err with the status its code maps to.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatusOf(err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
		err = errBodyTooLarge(tooLarge.Limit)
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "request_id", RequestID(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse(err))
}

// decodeJSON reads exactly one JSON object into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return apperr.Validation("body", "is empty")
		}
		return apperr.Validation("body", err.Error())
	}
	if dec.More() {
		return apperr.Validation("body", "must contain a single JSON object")
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse(apperr.Wrap(apperr.CodeUnavailable, "database unreachable", err)))
		return
	}
	writeJSON(w, http.StatusOK, output.Success(map[string]string{"status": "ok"}))
}

type listResponse struct {
	Items  []*models.KnowledgeItem `json:"items"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit,omitempty"`
	Offset int                     `json:"offset"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := models.ListOptions{Tag: q.Get("tag"), Source: q.Get("source")}
	var err error
	if opts.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		writeError(w, r, err)
		return
	}
	if opts.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		writeError(w, r, err)
		return
	}

	items, total, err := s.svc.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.KnowledgeItem{}
	}
	writeJSON(w, http.StatusOK, output.Success(listResponse{Items: items, Total: total, Limit: opts.Limit, Offset: opts.Offset}))
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name, "must be a non-negative integer")
	}
	return n, nil
}

type createRequest struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Source   string            `json:"source"`
	Tags     []string          `json:"tags"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	item, created, err := s.svc.Add(r.Context(), &models.KnowledgeItem{
		Title:    req.Title,
		Content:  req.Content,
		Source:   req.Source,
		Tags:     req.Tags,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", "/api/v1/knowledge/"+item.ID)
	}
	writeJSON(w, status, output.Success(item))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, output.Success(item))
}

// updateRequest patches an item; omitted fields keep their stored value.
type updateRequest struct {
	Version  int                `json:"version"`
	Title    *string            `json:"title"`
	Content  *string            `json:"content"`
	Source   *string            `json:"source"`
	Tags     *[]string          `json:"tags"`
	Metadata *map[string]string `json:"metadata"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Version <= 0 {
		writeError(w, r, apperr.Validation("version", "is required"))
		return
	}

	current, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	next := *current
	if req.Title != nil {
		next.Title = *req.Title
	}
	if req.Content != nil {
		next.Content = *req.Content
	}
	if req.Source != nil {
		next.Source = *req.Source
	}
	if req.Tags != nil {
		next.Tags = *req.Tags
	}
	if req.Metadata != nil {
		next.Metadata = *req.Metadata
	}

	updated, err := s.svc.Update(r.Context(), &next, req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, output.Success(updated))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Query    string   `json:"query"`
	TopK     int      `json:"top_k"`
	MinScore float64  `json:"min_score"`
	Tags     []string `json:"tags"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := s.svc.Retrieve(r.Context(), req.Query, models.SearchOptions{TopK: req.TopK, MinScore: req.MinScore, Tags: req.Tags})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, output.Success(rc))
}

type askRequest struct {
	Question       string               `json:"question"`
	History        []models.ChatMessage `json:"history"`
	TopK           int                  `json:"top_k"`
	MinScore       float64              `json:"min_score"`
	Tags           []string             `json:"tags"`
	IncludeContext bool                 `json:"include_context"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ans, err := s.svc.Ask(r.Context(), req.Question, req.History, rag.AskOptions{
		Search:         models.SearchOptions{TopK: req.TopK, MinScore: req.MinScore, Tags: req.Tags},
		IncludeContext: req.IncludeContext,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, output.Success(ans))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, output.Success(st))
}
