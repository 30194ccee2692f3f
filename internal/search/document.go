// Package search provides product full-text search using Bleve.
// Products are searchable by name, brand and barcode, and filterable by safety color.
package search

import (
	"github.com/purescanapp/purescan-server/internal/domain"
)

// ProductDocument is the flattened product stored in the Bleve index.
type ProductDocument struct {
	ID          string   `json:"id"`
	Barcode     string   `json:"barcode"`
	Name        string   `json:"name"`
	Brand       string   `json:"brand,omitempty"`
	SafetyColor string   `json:"safety_color,omitempty"`
	SafetyScore *float64 `json:"safety_score,omitempty"`
	IsNew       bool     `json:"is_new"`

	// Unix millis
	UpdatedAt int64 `json:"updated_at"`
}

// ToMap converts the document to a map keyed by the index mapping's field names.
func (d *ProductDocument) ToMap() map[string]any {
	m := map[string]any{
		"id":         d.ID,
		"barcode":    d.Barcode,
		"name":       d.Name,
		"is_new":     d.IsNew,
		"updated_at": d.UpdatedAt,
	}
	if d.Brand != "" {
		m["brand"] = d.Brand
	}
	if d.SafetyColor != "" {
		m["safety_color"] = d.SafetyColor
	}
	if d.SafetyScore != nil {
		m["safety_score"] = *d.SafetyScore
	}
	return m
}

// ProductToDocument converts a domain Product to a ProductDocument.
func ProductToDocument(p *domain.Product) *ProductDocument {
	doc := &ProductDocument{
		ID:          p.ID,
		Barcode:     p.Barcode,
		Name:        p.Name,
		Brand:       p.Brand,
		SafetyColor: string(p.SafetyColor),
		IsNew:       p.IsNew,
		UpdatedAt:   p.UpdatedAt.UnixMilli(),
	}
	if p.SafetyScore != nil {
		v := *p.SafetyScore
		doc.SafetyScore = &v
	}
	return doc
}
