package api

import (
	"github.com/starford/beetle/internal/models"
	"github.com/starford/beetle/internal/service"
)

// CreateIndexRequest is the request body for creating an index.
type CreateIndexRequest struct {
	Name string `json:"name" example:"beetle" validate:"required"`
	Path string `json:"path" example:"/home/me/src/beetle" validate:"required"`
}

// IndexInfo is an index with its committed state (aliased from the domain layer).
type IndexInfo = service.IndexInfo

// IndexListResponse wraps index listings.
type IndexListResponse struct {
	Indexes []IndexInfo `json:"indexes" validate:"required"`
}

// CreateIndexResponse is returned after an index is created and first built.
type CreateIndexResponse struct {
	Index IndexInfo    `json:"index" validate:"required"`
	Stats models.Stats `json:"stats" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []models.Hit `json:"results" validate:"required"`
}
