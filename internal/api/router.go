package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/beetle/internal/service"
)

// NewRouter creates a chi router with all API routes mounted.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(svc *service.Service, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(RequestLogger)

	r.Get("/indexes", h.ListIndexes)
	r.Post("/indexes", h.CreateIndex)
	r.Route("/indexes/{name}", func(r chi.Router) {
		r.Get("/", h.GetIndex)
		r.Delete("/", h.RemoveIndex)
		r.Post("/update", h.UpdateIndex)
		r.Get("/search", h.Search)
	})

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
