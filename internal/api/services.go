package api

import (
	"github.com/purescanapp/purescan-server/internal/scanlog"
	"github.com/purescanapp/purescan-server/internal/search"
	"github.com/purescanapp/purescan-server/internal/service"
)

// Services groups the business logic used by the API server.
type Services struct {
	Catalog    *service.CatalogService
	Ingredient *service.IngredientService

	// Search and Lookups are optional; they are only read by the health check.
	Search  *search.SearchIndex
	Lookups *scanlog.Log
}
