// Package domain contains the catalog entities shared by the server and the scan client.
package domain

import (
	"time"

	"github.com/purescanapp/purescan-server/internal/safety"
)

// PlaceholderName is the display name given to products provisioned from an unknown barcode.
const PlaceholderName = "New product"

// Product is a catalog entry keyed by its barcode.
//
// SafetyScore and SafetyColor are derived fields. Only the recompute engine writes them,
// through Store.UpdateProductScore; every other write path carries them over unchanged.
type Product struct {
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	SafetyScore *float64     `json:"safetyScore,omitempty"`
	ID          string       `json:"id"`
	Barcode     string       `json:"barcode"`
	Name        string       `json:"name"`
	Brand       string       `json:"brand,omitempty"`
	ImageRef    string       `json:"imageRef,omitempty"`
	SafetyColor safety.Color `json:"safetyColor,omitempty"`
	IsNew       bool         `json:"isNew"`
}

// NewPlaceholder builds the record created when a valid barcode is looked up for the first time.
func NewPlaceholder(barcode string, now time.Time) *Product {
	return &Product{
		ID:        barcode,
		Barcode:   barcode,
		Name:      PlaceholderName,
		IsNew:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Score returns the stored score, and false when the product has never been scored.
func (p *Product) Score() (safety.Score, bool) {
	if p == nil || p.SafetyScore == nil || !p.SafetyColor.Valid() {
		return safety.Score{}, false
	}
	return safety.Score{Value: *p.SafetyScore, Color: p.SafetyColor}, true
}

// SetScore stores a computed score on the product.
func (p *Product) SetScore(s safety.Score) {
	v := s.Value
	p.SafetyScore = &v
	p.SafetyColor = s.Color
}

// Clone returns a deep copy.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	if p.SafetyScore != nil {
		v := *p.SafetyScore
		c.SafetyScore = &v
	}
	return &c
}

// Touch bumps UpdatedAt.
func (p *Product) Touch(now time.Time) {
	p.UpdatedAt = now
}

// ProductDetails is the set of user-editable display fields. Nil fields are left unchanged.
type ProductDetails struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Brand    *string `json:"brand,omitempty" validate:"omitempty,max=200"`
	ImageRef *string `json:"imageRef,omitempty" validate:"omitempty,max=2048"`
}

// Apply copies the set fields onto p. Editing any detail clears IsNew.
func (d ProductDetails) Apply(p *Product) bool {
	changed := false
	if d.Name != nil && *d.Name != p.Name {
		p.Name = *d.Name
		changed = true
	}
	if d.Brand != nil && *d.Brand != p.Brand {
		p.Brand = *d.Brand
		changed = true
	}
	if d.ImageRef != nil && *d.ImageRef != p.ImageRef {
		p.ImageRef = *d.ImageRef
		changed = true
	}
	if changed {
		p.IsNew = false
	}
	return changed
}
