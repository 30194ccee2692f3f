package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/purescanapp/purescan-server/internal/search"
)

func (s *Server) registerSearchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "searchProducts",
		Method:      http.MethodGet,
		Path:        "/api/v1/search",
		Summary:     "Search products",
		Description: "Full-text search over product names, brands and barcodes",
		Tags:        []string{"Search"},
	}, s.handleSearchProducts)
}

// SearchProductsInput contains search query parameters.
type SearchProductsInput struct {
	Query     string   `query:"q" doc:"Search text, or a barcode"`
	Colors    []string `query:"color" doc:"Safety colors to include"`
	MinScore  float64  `query:"minScore" default:"0" minimum:"0" maximum:"100" doc:"Lowest safety score"`
	MaxScore  float64  `query:"maxScore" default:"100" minimum:"0" maximum:"100" doc:"Highest safety score"`
	OnlyNew   bool     `query:"onlyNew" doc:"Only placeholder products not edited yet"`
	Limit     int      `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Results per page"`
	Offset    int      `query:"offset" default:"0" minimum:"0" doc:"Pagination offset"`
	SortBy    string   `query:"sort" default:"relevance" enum:"relevance,name,score,recent" doc:"Sort field"`
	SortOrder string   `query:"order" default:"desc" enum:"asc,desc" doc:"Sort direction"`
	Facets    bool     `query:"facets" default:"true" doc:"Include color facets"`
}

// SearchProductsOutput wraps search results for Huma.
type SearchProductsOutput struct {
	Body *search.SearchResult
}

func (s *Server) handleSearchProducts(ctx context.Context, input *SearchProductsInput) (*SearchProductsOutput, error) {
	params := search.DefaultSearchParams()
	params.Query = input.Query
	params.Colors = input.Colors
	params.OnlyNew = input.OnlyNew
	params.Limit = input.Limit
	params.Offset = input.Offset
	params.SortBy = input.SortBy
	params.SortOrder = input.SortOrder
	params.IncludeFacets = input.Facets

	// Only narrow the range when the caller asked for it, so unscored products stay visible.
	if input.MinScore > 0 {
		params.MinScore = &input.MinScore
	}
	if input.MaxScore < 100 {
		params.MaxScore = &input.MaxScore
	}

	result, err := s.services.Catalog.SearchProducts(ctx, params)
	if err != nil {
		return nil, err
	}
	return &SearchProductsOutput{Body: result}, nil
}
