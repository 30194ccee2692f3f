package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/service"
)

func (s *Server) registerIngredientRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listIngredients",
		Method:      http.MethodGet,
		Path:        "/api/v1/ingredients",
		Summary:     "List ingredients",
		Description: "Returns all ingredients",
		Tags:        []string{"Ingredients"},
	}, s.handleListIngredients)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createIngredient",
		Method:        http.MethodPost,
		Path:          "/api/v1/ingredients",
		Summary:       "Create ingredient",
		Description:   "Creates a new ingredient",
		Tags:          []string{"Ingredients"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateIngredient)

	huma.Register(s.api, huma.Operation{
		OperationID: "getIngredient",
		Method:      http.MethodGet,
		Path:        "/api/v1/ingredients/{id}",
		Summary:     "Get ingredient",
		Description: "Returns an ingredient by ID",
		Tags:        []string{"Ingredients"},
	}, s.handleGetIngredient)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateIngredient",
		Method:      http.MethodPatch,
		Path:        "/api/v1/ingredients/{id}",
		Summary:     "Update ingredient",
		Description: "Updates an ingredient. A risk change recomputes every linked product",
		Tags:        []string{"Ingredients"},
	}, s.handleUpdateIngredient)

	huma.Register(s.api, huma.Operation{
		OperationID: "getIngredientProducts",
		Method:      http.MethodGet,
		Path:        "/api/v1/ingredients/{id}/products",
		Summary:     "Get ingredient products",
		Description: "Returns the products an ingredient is linked to",
		Tags:        []string{"Ingredients"},
	}, s.handleGetIngredientProducts)
}

// === DTOs ===

// CreateIngredientRequest is the request body for creating an ingredient.
type CreateIngredientRequest struct {
	Name       string   `json:"name" doc:"Ingredient name"`
	RiskWeight *float64 `json:"riskWeight,omitempty" doc:"Risk weight, 0 or more"`
}

// CreateIngredientInput wraps the create ingredient request for Huma.
type CreateIngredientInput struct {
	Body CreateIngredientRequest
}

// UpdateIngredientRequest is the request body for updating an ingredient.
type UpdateIngredientRequest struct {
	Name       *string  `json:"name,omitempty" doc:"Ingredient name"`
	RiskWeight *float64 `json:"riskWeight,omitempty" doc:"Risk weight, 0 or more"`
}

// UpdateIngredientInput wraps the update ingredient request for Huma.
type UpdateIngredientInput struct {
	ID   string `path:"id" doc:"Ingredient ID"`
	Body UpdateIngredientRequest
}

// IngredientIDInput identifies an ingredient.
type IngredientIDInput struct {
	ID string `path:"id" doc:"Ingredient ID"`
}

// IngredientOutput wraps an ingredient for Huma.
type IngredientOutput struct {
	Body *domain.Ingredient
}

// IngredientProductsResponse contains the products linked to an ingredient.
type IngredientProductsResponse struct {
	Products []*domain.Product `json:"products" doc:"Linked products"`
}

// IngredientProductsOutput wraps the linked products for Huma.
type IngredientProductsOutput struct {
	Body IngredientProductsResponse
}

// === Handlers ===

func (s *Server) handleListIngredients(ctx context.Context, _ *struct{}) (*IngredientsOutput, error) {
	ingredients, err := s.services.Ingredient.ListIngredients(ctx)
	if err != nil {
		return nil, err
	}
	return &IngredientsOutput{Body: IngredientsResponse{Ingredients: nonNil(ingredients)}}, nil
}

func (s *Server) handleCreateIngredient(ctx context.Context, input *CreateIngredientInput) (*IngredientOutput, error) {
	ing, err := s.services.Ingredient.CreateIngredient(ctx, service.CreateIngredientRequest{
		Name:       input.Body.Name,
		RiskWeight: input.Body.RiskWeight,
	})
	if err != nil {
		return nil, err
	}
	return &IngredientOutput{Body: ing}, nil
}

func (s *Server) handleGetIngredient(ctx context.Context, input *IngredientIDInput) (*IngredientOutput, error) {
	ing, err := s.services.Ingredient.GetIngredient(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &IngredientOutput{Body: ing}, nil
}

func (s *Server) handleUpdateIngredient(ctx context.Context, input *UpdateIngredientInput) (*IngredientOutput, error) {
	ing, err := s.services.Ingredient.UpdateIngredient(ctx, input.ID, service.UpdateIngredientRequest{
		Name:       input.Body.Name,
		RiskWeight: input.Body.RiskWeight,
	})
	if err != nil {
		return nil, err
	}
	return &IngredientOutput{Body: ing}, nil
}

func (s *Server) handleGetIngredientProducts(ctx context.Context, input *IngredientIDInput) (*IngredientProductsOutput, error) {
	products, err := s.services.Ingredient.IngredientProducts(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &IngredientProductsOutput{Body: IngredientProductsResponse{Products: nonNil(products)}}, nil
}
