package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/safety"
	"github.com/purescanapp/purescan-server/internal/scanlog"
	"github.com/purescanapp/purescan-server/internal/service"
)

func (s *Server) registerLookupRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "lookupProduct",
		Method:      http.MethodGet,
		Path:        "/lookupProduct",
		Summary:     "Look up a product by barcode",
		Description: "Returns the product for a barcode, creating a placeholder the first time a valid barcode is seen",
		Tags:        []string{"Lookup"},
	}, s.handleLookupProduct)

	huma.Register(s.api, huma.Operation{
		OperationID: "recentLookups",
		Method:      http.MethodGet,
		Path:        "/api/v1/lookups/recent",
		Summary:     "Recent lookups",
		Description: "Returns the newest lookup history entries",
		Tags:        []string{"Lookup"},
	}, s.handleRecentLookups)
}

// === DTOs ===

// LookupInput contains parameters for a barcode lookup.
type LookupInput struct {
	Barcode string `query:"barcode" doc:"EAN-13 barcode, or a 12-digit UPC-A"`
}

// LookupResponse is the lookup body. Product fields are flattened next to status and are
// absent when status is not_found.
type LookupResponse struct {
	Status      string       `json:"status" enum:"existing,new,not_found" doc:"Lookup outcome"`
	Message     string       `json:"message,omitempty" doc:"Explanation for not_found"`
	ID          string       `json:"id,omitempty" doc:"Product ID"`
	Barcode     string       `json:"barcode,omitempty" doc:"Canonical 13-digit barcode"`
	Name        string       `json:"name,omitempty" doc:"Display name"`
	Brand       string       `json:"brand,omitempty" doc:"Brand"`
	ImageRef    string       `json:"imageRef,omitempty" doc:"Image reference"`
	IsNew       *bool        `json:"isNew,omitempty" doc:"True until the product is edited"`
	SafetyScore *float64     `json:"safetyScore,omitempty" doc:"Safety score 0-100"`
	SafetyColor safety.Color `json:"safetyColor,omitempty" doc:"red, yellow or green"`
	CreatedAt   *time.Time   `json:"createdAt,omitempty" doc:"Creation time"`
	UpdatedAt   *time.Time   `json:"updatedAt,omitempty" doc:"Last update time"`
}

// LookupOutput wraps the lookup response for Huma.
type LookupOutput struct {
	Body LookupResponse
}

// RecentLookupsInput contains parameters for the lookup history.
type RecentLookupsInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Number of entries"`
}

// RecentLookupsResponse contains lookup history entries, newest first.
type RecentLookupsResponse struct {
	Lookups []scanlog.Entry `json:"lookups" doc:"Lookup history"`
}

// RecentLookupsOutput wraps the lookup history for Huma.
type RecentLookupsOutput struct {
	Body RecentLookupsResponse
}

// === Handlers ===

func (s *Server) handleLookupProduct(ctx context.Context, input *LookupInput) (*LookupOutput, error) {
	res, err := s.services.Catalog.Lookup(ctx, input.Barcode, clientIP(ctx))
	if err != nil {
		return nil, err
	}
	return &LookupOutput{Body: lookupResponse(res)}, nil
}

func lookupResponse(res *service.LookupResult) LookupResponse {
	resp := LookupResponse{Status: string(res.Status), Message: res.Message}
	if p := res.Product; p != nil {
		resp.fill(p)
	}
	return resp
}

func (r *LookupResponse) fill(p *domain.Product) {
	isNew := p.IsNew
	created, updated := p.CreatedAt, p.UpdatedAt
	r.ID = p.ID
	r.Barcode = p.Barcode
	r.Name = p.Name
	r.Brand = p.Brand
	r.ImageRef = p.ImageRef
	r.IsNew = &isNew
	r.SafetyScore = p.SafetyScore
	r.SafetyColor = p.SafetyColor
	r.CreatedAt = &created
	r.UpdatedAt = &updated
}

func (s *Server) handleRecentLookups(ctx context.Context, input *RecentLookupsInput) (*RecentLookupsOutput, error) {
	entries, err := s.services.Catalog.RecentLookups(ctx, input.Limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []scanlog.Entry{}
	}
	return &RecentLookupsOutput{Body: RecentLookupsResponse{Lookups: entries}}, nil
}
