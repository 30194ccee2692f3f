package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/safety"
)

// CreateProduct stores a new product. The barcode index is unique, so a second product for the
// same barcode fails with ErrProductExists. Any score fields on p are discarded.
func (s *Store) CreateProduct(ctx context.Context, p *domain.Product, origin domain.WriteOrigin) error {
	if p.ID == "" || p.Barcode == "" {
		return ErrInvalidInput.WithCause(errors.New("product id and barcode are required"))
	}

	created := p.Clone()
	created.SafetyScore = nil
	created.SafetyColor = ""
	now := s.now()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = created.CreatedAt
	}

	if err := s.Products.Create(ctx, created.ID, created); err != nil {
		return err
	}
	*p = *created.Clone()

	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "product created",
			slog.String("id", created.ID),
			slog.String("barcode", created.Barcode),
			slog.String("origin", string(origin)),
		)
	}

	s.emit(domain.ProductWrite{
		ProductID: created.ID,
		Kind:      domain.WriteCreated,
		After:     created,
		Origin:    origin,
		At:        now,
	})
	s.syncSearch(created.ID)
	return nil
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.Products.Get(ctx, id)
}

// GetProductByBarcode retrieves a product through the unique barcode index.
func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.Products.GetByIndex(ctx, "barcode", barcode)
}

// ListProducts returns every product ordered by name, then id.
func (s *Store) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	var out []*domain.Product
	for p, err := range s.Products.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list products: %w", err)
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *domain.Product) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// ListProductsPage returns one page of products in ListProducts order.
func (s *Store) ListProductsPage(ctx context.Context, params PaginationParams) (*PaginatedResult[*domain.Product], error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return paginate(products, productSortKey, params)
}

// productSortKey orders like ListProducts: lowercase name, then id.
func productSortKey(p *domain.Product) string {
	return strings.ToLower(p.Name) + "\x00" + p.ID
}

// UpdateProductDetails applies user edits to the display fields. Score fields are carried over
// untouched. Returns the updated product; no event is emitted when nothing changed.
func (s *Store) UpdateProductDetails(ctx context.Context, id string, details domain.ProductDetails) (*domain.Product, error) {
	before, after, err := s.Products.Mutate(ctx, id, func(p *domain.Product) error {
		if !details.Apply(p) {
			return ErrUnchanged
		}
		p.Touch(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if before == after {
		return after, nil
	}

	s.emit(domain.ProductWrite{
		ProductID: id,
		Kind:      domain.WriteUpdated,
		Before:    before,
		After:     after.Clone(),
		Origin:    domain.OriginUserEdit,
		At:        after.UpdatedAt,
	})
	s.syncSearch(id)
	return after, nil
}

// UpdateProductScore is the only write path for SafetyScore and SafetyColor.
// It is a no-op, returning changed == false and emitting nothing, when the stored score already
// equals score.
func (s *Store) UpdateProductScore(ctx context.Context, id string, score safety.Score) (p *domain.Product, changed bool, err error) {
	if !score.Color.Valid() {
		return nil, false, ErrInvalidInput.WithCause(fmt.Errorf("unknown safety color %q", score.Color))
	}

	before, after, err := s.Products.Mutate(ctx, id, func(p *domain.Product) error {
		if current, ok := p.Score(); ok && current.Equal(score) {
			return ErrUnchanged
		}
		p.SetScore(score)
		p.Touch(s.now())
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if before == after {
		return after, false, nil
	}

	s.emit(domain.ProductWrite{
		ProductID: id,
		Kind:      domain.WriteUpdated,
		Before:    before,
		After:     after.Clone(),
		Origin:    domain.OriginScoreEngine,
		At:        after.UpdatedAt,
	})
	s.syncSearch(id)
	return after, true, nil
}

// DeleteProduct removes a product and all of its ingredient links.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	var deleted *domain.Product
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		deleted, err = s.Products.DeleteTxn(txn, id)
		if err != nil {
			return err
		}
		ingredientIDs, err := scanLinkIDs(txn, linkByProductPrefix+id+":")
		if err != nil {
			return err
		}
		for _, ingID := range ingredientIDs {
			if err := txn.Delete(productLinkKey(id, ingID)); err != nil {
				return err
			}
			if err := txn.Delete(ingredientLinkKey(ingID, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(domain.ProductWrite{
		ProductID: id,
		Kind:      domain.WriteDeleted,
		Before:    deleted,
		Origin:    domain.OriginUserEdit,
		At:        s.now(),
	})
	s.syncSearch(id)
	return nil
}

// touchProducts emits a ProductWrite with the current state of each product so listeners
// re-derive anything computed from links or ingredients. Missing products are skipped.
func (s *Store) touchProducts(ctx context.Context, productIDs []string, origin domain.WriteOrigin) {
	at := s.now()
	for _, pid := range productIDs {
		p, err := s.GetProduct(ctx, pid)
		if err != nil {
			if !errors.Is(err, ErrProductNotFound) && s.logger != nil {
				s.logger.Warn("failed to load product for change event", "product_id", pid, "error", err)
			}
			continue
		}
		s.emit(domain.ProductWrite{
			ProductID: pid,
			Kind:      domain.WriteUpdated,
			Before:    p,
			After:     p.Clone(),
			Origin:    origin,
			At:        at,
		})
	}
}
