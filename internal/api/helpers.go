package api

import (
	"github.com/purescanapp/purescan-server/internal/domain"
)

// MessageResponse is a generic acknowledgement body.
type MessageResponse struct {
	Message string `json:"message" doc:"Result message"`
}

// MessageOutput wraps a message response for Huma.
type MessageOutput struct {
	Body MessageResponse
}

// nonNil keeps empty lists serialized as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// IngredientsResponse contains a list of ingredients.
type IngredientsResponse struct {
	Ingredients []*domain.Ingredient `json:"ingredients" doc:"Ingredients"`
}

// IngredientsOutput wraps an ingredient list for Huma.
type IngredientsOutput struct {
	Body IngredientsResponse
}
