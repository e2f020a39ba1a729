package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/service"
	"github.com/starford/beetle/internal/updater"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// writeError maps a domain error to a status code. Unexpected errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, op string, err error, attrs ...any) {
	var status int
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrAlreadyExists), errors.Is(err, apperr.ErrLockBusy):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrCorruptManifest), errors.Is(err, apperr.ErrSchemaMismatch):
		slog.Warn(op+" needs a full rebuild", append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusConflict, errorBody(err.Error()+"; rebuild with mode=full"))
		return
	default:
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}

// ListIndexes handles GET /api/indexes.
//
//	@Summary		List all indexes
//	@Tags			indexes
//	@Produce		json
//	@Success		200	{object}	IndexListResponse
//	@Router			/indexes [get]
func (h *Handler) ListIndexes(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, "list indexes", err)
		return
	}
	writeJSON(w, http.StatusOK, IndexListResponse{Indexes: items})
}

// CreateIndex handles POST /api/indexes.
//
//	@Summary		Create an index for a repository and build it
//	@Tags			indexes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateIndexRequest	true	"Index to create"
//	@Success		201		{object}	CreateIndexResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/indexes [post]
func (h *Handler) CreateIndex(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name and path are required"))
		return
	}
	info, stats, err := h.svc.Create(r.Context(), req.Name, req.Path)
	if err != nil {
		writeError(w, "create index", err, slog.String("index", req.Name))
		return
	}
	writeJSON(w, http.StatusCreated, CreateIndexResponse{Index: info, Stats: stats})
}

// GetIndex handles GET /api/indexes/{name}.
//
//	@Summary		Get one index
//	@Tags			indexes
//	@Produce		json
//	@Param			name	path		string	true	"Index name"
//	@Success		200		{object}	IndexInfo
//	@Failure		404		{object}	errResponse
//	@Router			/indexes/{name} [get]
func (h *Handler) GetIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := h.svc.Get(r.Context(), name)
	if err != nil {
		writeError(w, "get index", err, slog.String("index", name))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// RemoveIndex handles DELETE /api/indexes/{name}.
//
//	@Summary		Remove an index
//	@Tags			indexes
//	@Param			name	path	string	true	"Index name"
//	@Success		204		"Index removed"
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/indexes/{name} [delete]
func (h *Handler) RemoveIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.Remove(r.Context(), name); err != nil {
		writeError(w, "remove index", err, slog.String("index", name))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateIndex handles POST /api/indexes/{name}/update.
//
//	@Summary		Bring an index up to date with its repository
//	@Tags			indexes
//	@Produce		json
//	@Param			name	path		string	true	"Index name"
//	@Param			mode	query		string	false	"Update mode"	Enums(incremental, full)
//	@Success		200		{object}	models.Stats
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/indexes/{name}/update [post]
func (h *Handler) UpdateIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	mode, err := updater.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, "update index", err)
		return
	}
	stats, err := h.svc.Update(r.Context(), name, mode)
	if err != nil {
		writeError(w, "update index", err, slog.String("index", name), slog.String("mode", mode.String()))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Search handles GET /api/indexes/{name}/search.
//
//	@Summary		Full-text search within an index
//	@Tags			search
//	@Produce		json
//	@Param			name	path		string	true	"Index name"
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/indexes/{name}/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	hits, err := h.svc.Search(r.Context(), name, q, limit)
	if err != nil {
		writeError(w, "search", err, slog.String("index", name), slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: nonNil(hits)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
