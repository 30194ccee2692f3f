package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/purescanapp/purescan-server/internal/service"
	"github.com/purescanapp/purescan-server/internal/store"
)

func (s *Server) registerProductRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listProducts",
		Method:      http.MethodGet,
		Path:        "/api/v1/products",
		Summary:     "List products",
		Description: "Returns a page of products with their ingredients, ordered by name",
		Tags:        []string{"Products"},
	}, s.handleListProducts)

	huma.Register(s.api, huma.Operation{
		OperationID: "getProduct",
		Method:      http.MethodGet,
		Path:        "/api/v1/products/{id}",
		Summary:     "Get product",
		Description: "Returns a product with its ingredients and stored safety score",
		Tags:        []string{"Products"},
	}, s.handleGetProduct)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateProduct",
		Method:      http.MethodPatch,
		Path:        "/api/v1/products/{id}",
		Summary:     "Update product",
		Description: "Updates display fields. Any edit clears isNew",
		Tags:        []string{"Products"},
	}, s.handleUpdateProduct)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteProduct",
		Method:      http.MethodDelete,
		Path:        "/api/v1/products/{id}",
		Summary:     "Delete product",
		Description: "Deletes a product and its ingredient links",
		Tags:        []string{"Products"},
	}, s.handleDeleteProduct)

	huma.Register(s.api, huma.Operation{
		OperationID: "getProductIngredients",
		Method:      http.MethodGet,
		Path:        "/api/v1/products/{id}/ingredients",
		Summary:     "Get product ingredients",
		Description: "Returns the ingredients linked to a product",
		Tags:        []string{"Products"},
	}, s.handleGetProductIngredients)

	huma.Register(s.api, huma.Operation{
		OperationID: "linkIngredient",
		Method:      http.MethodPut,
		Path:        "/api/v1/products/{id}/ingredients/{ingredientId}",
		Summary:     "Link ingredient",
		Description: "Links an ingredient to a product and schedules a score recompute",
		Tags:        []string{"Products"},
	}, s.handleLinkIngredient)

	huma.Register(s.api, huma.Operation{
		OperationID: "unlinkIngredient",
		Method:      http.MethodDelete,
		Path:        "/api/v1/products/{id}/ingredients/{ingredientId}",
		Summary:     "Unlink ingredient",
		Description: "Removes an ingredient from a product and schedules a score recompute",
		Tags:        []string{"Products"},
	}, s.handleUnlinkIngredient)
}

// === DTOs ===

// ListProductsInput contains pagination parameters for listing products.
type ListProductsInput struct {
	Limit  int    `query:"limit" default:"100" minimum:"1" maximum:"500" doc:"Products per page"`
	Cursor string `query:"cursor" doc:"Cursor from the previous page"`
}

// ListProductsResponse contains one page of products.
type ListProductsResponse struct {
	Products   []*service.ProductView `json:"products" doc:"Products"`
	NextCursor string                 `json:"nextCursor,omitempty" doc:"Cursor for the next page"`
	HasMore    bool                   `json:"hasMore" doc:"Whether more pages exist"`
	Total      int                    `json:"total" doc:"Total number of products"`
}

// ListProductsOutput wraps the list products response for Huma.
type ListProductsOutput struct {
	Body ListProductsResponse
}

// ProductOutput wraps a product for Huma.
type ProductOutput struct {
	Body *service.ProductView
}

// ProductIDInput identifies a product.
type ProductIDInput struct {
	ID string `path:"id" doc:"Product ID (its barcode)"`
}

// UpdateProductRequest is the request body for updating a product.
type UpdateProductRequest struct {
	Name     *string `json:"name,omitempty" doc:"Display name"`
	Brand    *string `json:"brand,omitempty" doc:"Brand"`
	ImageRef *string `json:"imageRef,omitempty" doc:"Image reference"`
}

// UpdateProductInput wraps the update product request for Huma.
type UpdateProductInput struct {
	ID   string `path:"id" doc:"Product ID (its barcode)"`
	Body UpdateProductRequest
}

// ProductIngredientInput identifies a product ingredient link.
type ProductIngredientInput struct {
	ID           string `path:"id" doc:"Product ID (its barcode)"`
	IngredientID string `path:"ingredientId" doc:"Ingredient ID"`
}

// === Handlers ===

func (s *Server) handleListProducts(ctx context.Context, input *ListProductsInput) (*ListProductsOutput, error) {
	page, err := s.services.Catalog.ListProductsPage(ctx, store.PaginationParams{
		Limit:  input.Limit,
		Cursor: input.Cursor,
	})
	if err != nil {
		return nil, err
	}
	return &ListProductsOutput{Body: ListProductsResponse{
		Products:   nonNil(page.Items),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
		Total:      page.Total,
	}}, nil
}

func (s *Server) handleGetProduct(ctx context.Context, input *ProductIDInput) (*ProductOutput, error) {
	p, err := s.services.Catalog.GetProduct(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &ProductOutput{Body: p}, nil
}

func (s *Server) handleUpdateProduct(ctx context.Context, input *UpdateProductInput) (*ProductOutput, error) {
	p, err := s.services.Catalog.UpdateProduct(ctx, input.ID, service.UpdateProductRequest{
		Name:     input.Body.Name,
		Brand:    input.Body.Brand,
		ImageRef: input.Body.ImageRef,
	})
	if err != nil {
		return nil, err
	}
	return &ProductOutput{Body: p}, nil
}

func (s *Server) handleDeleteProduct(ctx context.Context, input *ProductIDInput) (*MessageOutput, error) {
	if err := s.services.Catalog.DeleteProduct(ctx, input.ID); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "Product deleted"}}, nil
}

func (s *Server) handleGetProductIngredients(ctx context.Context, input *ProductIDInput) (*IngredientsOutput, error) {
	ingredients, err := s.services.Ingredient.ProductIngredients(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &IngredientsOutput{Body: IngredientsResponse{Ingredients: nonNil(ingredients)}}, nil
}

func (s *Server) handleLinkIngredient(ctx context.Context, input *ProductIngredientInput) (*IngredientsOutput, error) {
	if err := s.services.Ingredient.LinkIngredient(ctx, input.ID, input.IngredientID); err != nil {
		return nil, err
	}
	return s.handleGetProductIngredients(ctx, &ProductIDInput{ID: input.ID})
}

func (s *Server) handleUnlinkIngredient(ctx context.Context, input *ProductIngredientInput) (*IngredientsOutput, error) {
	if err := s.services.Ingredient.UnlinkIngredient(ctx, input.ID, input.IngredientID); err != nil {
		return nil, err
	}
	return s.handleGetProductIngredients(ctx, &ProductIDInput{ID: input.ID})
}
