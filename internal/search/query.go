package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/purescanapp/purescan-server/internal/barcode"
)

// SearchParams configures a search query.
type SearchParams struct {
	Query string // User's search query

	// Filters
	Colors   []string // Safety colors to include (empty = all)
	MinScore *float64
	MaxScore *float64
	OnlyNew  bool

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // "relevance", "name", "score", "recent"
	SortOrder string // "asc", "desc"

	// Options
	IncludeFacets bool
	Highlight     bool
}

// DefaultSearchParams returns sensible defaults.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Limit:         20,
		SortBy:        "relevance",
		SortOrder:     "desc",
		IncludeFacets: true,
		Highlight:     true,
	}
}

// SearchResult represents the search results.
type SearchResult struct {
	Query  string       `json:"query"`
	Total  uint64       `json:"total"`
	TookMs int64        `json:"tookMs"`
	Hits   []SearchHit  `json:"hits"`
	Facets SearchFacets `json:"facets,omitzero"`
}

// SearchHit represents a single search result.
type SearchHit struct {
	ID          string            `json:"id"`
	Barcode     string            `json:"barcode"`
	Name        string            `json:"name"`
	Brand       string            `json:"brand,omitempty"`
	SafetyColor string            `json:"safetyColor,omitempty"`
	SafetyScore *float64          `json:"safetyScore,omitempty"`
	IsNew       bool              `json:"isNew"`
	Score       float64           `json:"score"`
	Highlights  map[string]string `json:"highlights,omitempty"`
}

// SearchFacets contains facet counts.
type SearchFacets struct {
	Colors []FacetCount `json:"colors,omitempty"`
}

// FacetCount represents a facet value and its count.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Search executes a search query.
func (s *SearchIndex) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if params.Limit <= 0 {
		params.Limit = DefaultSearchParams().Limit
	}

	searchRequest := bleve.NewSearchRequestOptions(buildSearchQuery(params), params.Limit, params.Offset, false)
	addSorting(searchRequest, params)

	if params.IncludeFacets {
		searchRequest.AddFacet("safety_color", bleve.NewFacetRequest("safety_color", 3))
	}

	if params.Highlight {
		searchRequest.Highlight = bleve.NewHighlight()
		searchRequest.Highlight.AddField("name")
		searchRequest.Highlight.AddField("brand")
	}

	searchRequest.Fields = []string{"barcode", "name", "brand", "safety_color", "safety_score", "is_new"}

	searchResult, err := s.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &SearchResult{
		Query:  params.Query,
		Total:  searchResult.Total,
		TookMs: searchResult.Took.Milliseconds(),
		Hits:   make([]SearchHit, 0, len(searchResult.Hits)),
	}

	for _, hit := range searchResult.Hits {
		searchHit := SearchHit{
			ID:    hit.ID,
			Score: hit.Score,
		}

		if v, ok := hit.Fields["barcode"].(string); ok {
			searchHit.Barcode = v
		}
		if v, ok := hit.Fields["name"].(string); ok {
			searchHit.Name = v
		}
		if v, ok := hit.Fields["brand"].(string); ok {
			searchHit.Brand = v
		}
		if v, ok := hit.Fields["safety_color"].(string); ok {
			searchHit.SafetyColor = v
		}
		if v, ok := hit.Fields["safety_score"].(float64); ok {
			searchHit.SafetyScore = &v
		}
		if v, ok := hit.Fields["is_new"].(bool); ok {
			searchHit.IsNew = v
		}

		if len(hit.Fragments) > 0 {
			searchHit.Highlights = make(map[string]string)
			for field, fragments := range hit.Fragments {
				if len(fragments) > 0 {
					searchHit.Highlights[field] = fragments[0]
				}
			}
		}

		result.Hits = append(result.Hits, searchHit)
	}

	if params.IncludeFacets {
		result.Facets = extractFacets(searchResult)
	}

	return result, nil
}

// buildSearchQuery constructs the Bleve query from params.
func buildSearchQuery(params SearchParams) query.Query {
	var queries []query.Query

	if q := strings.TrimSpace(params.Query); q != "" {
		textQueries := []query.Query{}

		nameMatch := bleve.NewMatchQuery(q)
		nameMatch.SetField("name")
		nameMatch.SetBoost(3.0)
		textQueries = append(textQueries, nameMatch)

		brandMatch := bleve.NewMatchQuery(q)
		brandMatch.SetField("brand")
		brandMatch.SetBoost(1.5)
		textQueries = append(textQueries, brandMatch)

		// Typo tolerance on name
		fuzzyQuery := bleve.NewFuzzyQuery(strings.ToLower(q))
		fuzzyQuery.SetFuzziness(1)
		fuzzyQuery.SetField("name")
		fuzzyQuery.SetBoost(0.8)
		textQueries = append(textQueries, fuzzyQuery)

		// Prefix query for autocomplete (minimum 2 chars)
		if len(q) >= 2 {
			prefixQuery := bleve.NewPrefixQuery(strings.ToLower(q))
			prefixQuery.SetField("name")
			prefixQuery.SetBoost(0.5)
			textQueries = append(textQueries, prefixQuery)
		}

		// Scanned or typed barcodes match exactly
		if strings.Trim(q, "0123456789") == "" {
			if code, ok := barcode.Canonical(q); ok {
				barcodeQuery := bleve.NewTermQuery(code)
				barcodeQuery.SetField("barcode")
				barcodeQuery.SetBoost(5.0)
				textQueries = append(textQueries, barcodeQuery)
			}
		}

		queries = append(queries, bleve.NewDisjunctionQuery(textQueries...))
	}

	if len(params.Colors) > 0 {
		colorQueries := make([]query.Query, len(params.Colors))
		for i, c := range params.Colors {
			cq := bleve.NewTermQuery(strings.ToLower(c))
			cq.SetField("safety_color")
			colorQueries[i] = cq
		}
		queries = append(queries, bleve.NewDisjunctionQuery(colorQueries...))
	}

	if params.MinScore != nil || params.MaxScore != nil {
		inclusive := true
		rangeQuery := bleve.NewNumericRangeInclusiveQuery(params.MinScore, params.MaxScore, &inclusive, &inclusive)
		rangeQuery.SetField("safety_score")
		queries = append(queries, rangeQuery)
	}

	if params.OnlyNew {
		newQuery := bleve.NewBoolFieldQuery(true)
		newQuery.SetField("is_new")
		queries = append(queries, newQuery)
	}

	switch len(queries) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return queries[0]
	default:
		return bleve.NewConjunctionQuery(queries...)
	}
}

// addSorting configures sort order.
func addSorting(req *bleve.SearchRequest, params SearchParams) {
	desc := params.SortOrder == "desc"
	switch params.SortBy {
	case "name":
		if desc {
			req.SortBy([]string{"-name", "id"})
		} else {
			req.SortBy([]string{"name", "id"})
		}
	case "score":
		if desc {
			req.SortBy([]string{"-safety_score", "id"})
		} else {
			req.SortBy([]string{"safety_score", "id"})
		}
	case "recent":
		if params.SortOrder == "asc" {
			req.SortBy([]string{"updated_at"})
		} else {
			req.SortBy([]string{"-updated_at"})
		}
	default:
		// Relevance (score) is default - Bleve handles this
		req.SortBy([]string{"-_score"})
	}
}

// extractFacets converts Bleve facets to our format.
func extractFacets(result *bleve.SearchResult) SearchFacets {
	facets := SearchFacets{}

	if colorFacet, ok := result.Facets["safety_color"]; ok && colorFacet.Terms != nil {
		for _, term := range colorFacet.Terms.Terms() {
			facets.Colors = append(facets.Colors, FacetCount{
				Value: term.Term,
				Count: term.Count,
			})
		}
	}

	return facets
}
