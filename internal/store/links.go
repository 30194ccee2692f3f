package store

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/purescanapp/purescan-server/internal/domain"
)

// LinkIngredient links an ingredient to a product. Both must exist. Linking an already linked
// pair is a no-op and emits nothing.
func (s *Store) LinkIngredient(ctx context.Context, productID, ingredientID string) error {
	added := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		added = false
		if _, err := s.Products.GetTxn(txn, productID); err != nil {
			return err
		}
		if _, err := s.Ingredients.GetTxn(txn, ingredientID); err != nil {
			return err
		}
		ok, err := keyExists(txn, productLinkKey(productID, ingredientID))
		if err != nil || ok {
			return err
		}
		if err := txn.Set(productLinkKey(productID, ingredientID), nil); err != nil {
			return err
		}
		if err := txn.Set(ingredientLinkKey(ingredientID, productID), nil); err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil || !added {
		return err
	}

	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "ingredient linked",
			slog.String("product_id", productID),
			slog.String("ingredient_id", ingredientID),
		)
	}
	s.touchProducts(ctx, []string{productID}, domain.OriginLinkChange)
	return nil
}

// UnlinkIngredient removes a link. Removing a link that does not exist is a no-op.
func (s *Store) UnlinkIngredient(ctx context.Context, productID, ingredientID string) error {
	removed := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		removed = false
		ok, err := keyExists(txn, productLinkKey(productID, ingredientID))
		if err != nil || !ok {
			return err
		}
		if err := txn.Delete(productLinkKey(productID, ingredientID)); err != nil {
			return err
		}
		if err := txn.Delete(ingredientLinkKey(ingredientID, productID)); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil || !removed {
		return err
	}

	s.touchProducts(ctx, []string{productID}, domain.OriginLinkChange)
	return nil
}

// IngredientIDsForProduct returns the ids of every ingredient linked to the product, in key order.
func (s *Store) IngredientIDsForProduct(ctx context.Context, productID string) ([]string, error) {
	return s.linkIDs(ctx, linkByProductPrefix+productID+":")
}

// ProductIDsForIngredient returns the ids of every product that links the ingredient.
func (s *Store) ProductIDsForIngredient(ctx context.Context, ingredientID string) ([]string, error) {
	return s.linkIDs(ctx, linkByIngredientPref+ingredientID+":")
}

func (s *Store) linkIDs(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ids, err = scanLinkIDs(txn, prefix)
		return err
	})
	return ids, err
}

// scanLinkIDs returns the key suffixes under prefix. Only keys are read.
func scanLinkIDs(txn *badger.Txn, prefix string) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), prefix))
	}
	return ids, nil
}
