package domain

import "time"

// WriteOrigin tags every product write with the path that caused it.
type WriteOrigin string

// Write origins.
const (
	OriginProvision        WriteOrigin = "provision"
	OriginUserEdit         WriteOrigin = "user_edit"
	OriginLinkChange       WriteOrigin = "link_change"
	OriginIngredientChange WriteOrigin = "ingredient_change"
	OriginScoreEngine      WriteOrigin = "score_engine"
)

// WriteKind distinguishes creates, updates and deletes.
type WriteKind string

// Write kinds.
const (
	WriteCreated WriteKind = "created"
	WriteUpdated WriteKind = "updated"
	WriteDeleted WriteKind = "deleted"
)

// ProductWrite is emitted by the store after a product write commits.
//
// Before is nil for creates; After is nil for deletes. Link and ingredient changes emit a
// ProductWrite with Before == After so listeners re-derive anything that depends on them.
type ProductWrite struct {
	At        time.Time   `json:"at"`
	Before    *Product    `json:"before,omitempty"`
	After     *Product    `json:"after,omitempty"`
	ProductID string      `json:"productId"`
	Kind      WriteKind   `json:"kind"`
	Origin    WriteOrigin `json:"origin"`
}

// IsDelete reports whether the write removed the product.
func (w ProductWrite) IsDelete() bool {
	return w.Kind == WriteDeleted || w.After == nil
}

// IngredientWrite is emitted by the store after an ingredient is created or updated.
type IngredientWrite struct {
	At         time.Time   `json:"at"`
	Before     *Ingredient `json:"before,omitempty"`
	After      *Ingredient `json:"after,omitempty"`
	Kind       WriteKind   `json:"kind"`
	ProductIDs []string    `json:"productIds,omitempty"`
}
