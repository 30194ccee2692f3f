package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/purescanapp/purescan-server/internal/domain"
)

// normalizeName is the lookup key of the ingredient name index.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// CreateIngredient stores a new ingredient. Names are unique, ignoring case and extra spaces.
func (s *Store) CreateIngredient(ctx context.Context, ing *domain.Ingredient) error {
	if ing.ID == "" || strings.TrimSpace(ing.Name) == "" {
		return ErrInvalidInput.WithCause(errors.New("ingredient id and name are required"))
	}
	now := s.now()
	if ing.CreatedAt.IsZero() {
		ing.CreatedAt = now
	}
	ing.UpdatedAt = ing.CreatedAt

	if err := s.Ingredients.Create(ctx, ing.ID, ing); err != nil {
		return err
	}

	s.emit(domain.IngredientWrite{
		Kind:  domain.WriteCreated,
		After: ing.Clone(),
		At:    now,
	})
	return nil
}

// GetIngredient retrieves an ingredient by ID.
func (s *Store) GetIngredient(ctx context.Context, id string) (*domain.Ingredient, error) {
	return s.Ingredients.Get(ctx, id)
}

// GetIngredientByName looks an ingredient up by name, ignoring case and extra spaces.
func (s *Store) GetIngredientByName(ctx context.Context, name string) (*domain.Ingredient, error) {
	return s.Ingredients.GetByIndex(ctx, "name", name)
}

// ListIngredients returns every ingredient ordered by name.
func (s *Store) ListIngredients(ctx context.Context) ([]*domain.Ingredient, error) {
	var out []*domain.Ingredient
	for ing, err := range s.Ingredients.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list ingredients: %w", err)
		}
		out = append(out, ing)
	}
	slices.SortFunc(out, func(a, b *domain.Ingredient) int {
		return strings.Compare(normalizeName(a.Name), normalizeName(b.Name))
	})
	return out, nil
}

// UpdateIngredient applies fn to the stored ingredient. When the effective risk changes every
// linked product gets a ProductWrite with origin ingredient_change.
func (s *Store) UpdateIngredient(ctx context.Context, id string, fn func(*domain.Ingredient) error) (*domain.Ingredient, error) {
	var (
		before, after *domain.Ingredient
		productIDs    []string
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		before, after, err = s.Ingredients.MutateTxn(txn, id, func(ing *domain.Ingredient) error {
			if err := fn(ing); err != nil {
				return err
			}
			ing.ID = id
			ing.UpdatedAt = s.now()
			return nil
		})
		if err != nil {
			return err
		}
		productIDs, err = scanLinkIDs(txn, linkByIngredientPref+id+":")
		return err
	})
	if err != nil {
		return nil, err
	}
	if before == after {
		return after, nil
	}

	s.emit(domain.IngredientWrite{
		Kind:       domain.WriteUpdated,
		Before:     before,
		After:      after.Clone(),
		ProductIDs: productIDs,
		At:         after.UpdatedAt,
	})
	if before.EffectiveRisk() != after.EffectiveRisk() {
		s.touchProducts(ctx, productIDs, domain.OriginIngredientChange)
	}
	return after, nil
}
