package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/id"
	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/store"
	"github.com/purescanapp/purescan-server/internal/validation"
)

// IngredientService orchestrates ingredient and link operations.
// Every write goes through the store, which emits the events that drive score recomputes.
type IngredientService struct {
	store     *store.Store
	logger    *slog.Logger
	validator *validation.Validator
}

// NewIngredientService creates a new ingredient service.
func NewIngredientService(s *store.Store, log *slog.Logger) *IngredientService {
	return &IngredientService{
		store:     s,
		logger:    logger.OrDiscard(log),
		validator: validation.New(),
	}
}

// CreateIngredientRequest contains fields for creating an ingredient.
type CreateIngredientRequest struct {
	Name       string   `json:"name" validate:"notblank,max=200"`
	RiskWeight *float64 `json:"riskWeight,omitempty" validate:"omitempty,gte=0,lte=1000000"`
}

// CreateIngredient creates a new ingredient. Names are unique ignoring case.
func (s *IngredientService) CreateIngredient(ctx context.Context, req CreateIngredientRequest) (*domain.Ingredient, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	ingredientID, err := id.Generate(id.PrefixIngredient)
	if err != nil {
		return nil, err
	}

	ing := &domain.Ingredient{
		ID:         ingredientID,
		Name:       strings.TrimSpace(req.Name),
		RiskWeight: req.RiskWeight,
	}
	if err := s.store.CreateIngredient(ctx, ing); err != nil {
		return nil, err
	}

	s.logger.Info("ingredient created", "id", ing.ID, "name", ing.Name)
	return ing, nil
}

// GetIngredient returns a single ingredient.
func (s *IngredientService) GetIngredient(ctx context.Context, ingredientID string) (*domain.Ingredient, error) {
	return s.store.GetIngredient(ctx, ingredientID)
}

// ListIngredients returns every ingredient ordered by name.
func (s *IngredientService) ListIngredients(ctx context.Context) ([]*domain.Ingredient, error) {
	return s.store.ListIngredients(ctx)
}

// UpdateIngredientRequest contains fields for updating an ingredient. Nil fields are left unchanged.
type UpdateIngredientRequest struct {
	Name       *string  `json:"name,omitempty" validate:"omitempty,notblank,max=200"`
	RiskWeight *float64 `json:"riskWeight,omitempty" validate:"omitempty,gte=0,lte=1000000"`
}

// UpdateIngredient edits an ingredient. A risk change triggers a recompute of every linked product.
func (s *IngredientService) UpdateIngredient(ctx context.Context, ingredientID string, req UpdateIngredientRequest) (*domain.Ingredient, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	ing, err := s.store.UpdateIngredient(ctx, ingredientID, func(ing *domain.Ingredient) error {
		changed := false
		if req.Name != nil {
			if name := strings.TrimSpace(*req.Name); name != ing.Name {
				ing.Name = name
				changed = true
			}
		}
		if req.RiskWeight != nil && (ing.RiskWeight == nil || *ing.RiskWeight != *req.RiskWeight) {
			w := *req.RiskWeight
			ing.RiskWeight = &w
			changed = true
		}
		if !changed {
			return store.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ingredient updated", "id", ingredientID)
	return ing, nil
}

// ProductIngredients returns the ingredients linked to a product.
func (s *IngredientService) ProductIngredients(ctx context.Context, productID string) ([]*domain.Ingredient, error) {
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return linkedIngredients(ctx, s.store, productID)
}

// IngredientProducts returns the products an ingredient is linked to.
func (s *IngredientService) IngredientProducts(ctx context.Context, ingredientID string) ([]*domain.Product, error) {
	if _, err := s.store.GetIngredient(ctx, ingredientID); err != nil {
		return nil, err
	}
	ids, err := s.store.ProductIDsForIngredient(ctx, ingredientID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Product, 0, len(ids))
	for _, pid := range ids {
		p, err := s.store.GetProduct(ctx, pid)
		if errors.Is(err, store.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// LinkIngredient links an ingredient to a product. Linking twice is a no-op.
func (s *IngredientService) LinkIngredient(ctx context.Context, productID, ingredientID string) error {
	if err := s.store.LinkIngredient(ctx, productID, ingredientID); err != nil {
		return err
	}
	s.logger.Info("ingredient linked", "product_id", productID, "ingredient_id", ingredientID)
	return nil
}

// UnlinkIngredient removes a link. Removing a missing link is a no-op.
func (s *IngredientService) UnlinkIngredient(ctx context.Context, productID, ingredientID string) error {
	if err := s.store.UnlinkIngredient(ctx, productID, ingredientID); err != nil {
		return err
	}
	s.logger.Info("ingredient unlinked", "product_id", productID, "ingredient_id", ingredientID)
	return nil
}
