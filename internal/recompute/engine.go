// Package recompute keeps each product's safety score in sync with its linked ingredients.
//
// The Engine is a reducer over domain.ProductWrite events: it reads the product's links and
// ingredients, computes the score with the shared safety formula, and writes it back through
// the store's score-only write path. Its own writes carry origin score_engine and are dropped
// by the guard, so a write never re-triggers itself.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/purescanapp/purescan-server/internal/domain"
	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/safety"
	"github.com/purescanapp/purescan-server/internal/store"
)

// defaultFetchLimit caps concurrent ingredient reads per recompute.
const defaultFetchLimit = 8

// Store is the slice of the store the engine needs.
type Store interface {
	IngredientIDsForProduct(ctx context.Context, productID string) ([]string, error)
	GetIngredient(ctx context.Context, id string) (*domain.Ingredient, error)
	UpdateProductScore(ctx context.Context, id string, score safety.Score) (*domain.Product, bool, error)
}

// Outcome reports what Handle did with an event.
type Outcome int

// Outcomes.
const (
	// OutcomeSkippedDelete: the write removed the product.
	OutcomeSkippedDelete Outcome = iota
	// OutcomeSkippedOwnWrite: the write came from the engine itself.
	OutcomeSkippedOwnWrite
	// OutcomeNoLinks: the product has no ingredients; its score is left as is.
	OutcomeNoLinks
	// OutcomeUnchanged: the computed score equals the one already stored.
	OutcomeUnchanged
	// OutcomeWritten: a new score was written.
	OutcomeWritten
	// OutcomeGone: the product disappeared between the event and the write.
	OutcomeGone
	// OutcomeFailed: a read or the write failed; nothing was written.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkippedDelete:
		return "skipped_delete"
	case OutcomeSkippedOwnWrite:
		return "skipped_own_write"
	case OutcomeNoLinks:
		return "no_links"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeWritten:
		return "written"
	case OutcomeGone:
		return "gone"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Guard is the first step of every recompute. It returns false, with the reason, for events
// the engine must not act on.
func Guard(ev domain.ProductWrite) (Outcome, bool) {
	if ev.IsDelete() {
		return OutcomeSkippedDelete, false
	}
	if ev.Origin == domain.OriginScoreEngine {
		return OutcomeSkippedOwnWrite, false
	}
	return 0, true
}

// Engine recomputes product scores.
type Engine struct {
	store      Store
	logger     *slog.Logger
	fetchLimit int
}

// NewEngine creates an Engine over s.
func NewEngine(s Store, log *slog.Logger) *Engine {
	return &Engine{
		store:      s,
		logger:     logger.OrDiscard(log),
		fetchLimit: defaultFetchLimit,
	}
}

// Handle runs one recompute for ev. Errors leave the stored score untouched; the next write
// event for the product retries.
func (e *Engine) Handle(ctx context.Context, ev domain.ProductWrite) (Outcome, error) {
	if outcome, ok := Guard(ev); !ok {
		return outcome, nil
	}

	log := e.logger.With(
		slog.String("product_id", ev.ProductID),
		slog.String("origin", string(ev.Origin)),
	)

	ingredients, err := e.linkedIngredients(ctx, ev.ProductID)
	if err != nil {
		log.Warn("recompute aborted", slog.String("error", err.Error()))
		return OutcomeFailed, err
	}
	if ingredients == nil {
		log.Debug("no linked ingredients, score left untouched")
		return OutcomeNoLinks, nil
	}

	score := safety.Compute(ingredients)

	if current, ok := ev.After.Score(); ok && current.Equal(score) {
		return OutcomeUnchanged, nil
	}

	if err := ctx.Err(); err != nil {
		return OutcomeFailed, err
	}

	_, changed, err := e.store.UpdateProductScore(ctx, ev.ProductID, score)
	switch {
	case errors.Is(err, store.ErrProductNotFound):
		return OutcomeGone, nil
	case err != nil:
		log.Warn("score write failed", slog.String("error", err.Error()))
		return OutcomeFailed, err
	case !changed:
		return OutcomeUnchanged, nil
	}

	log.Info("safety score updated",
		slog.Float64("score", score.Value),
		slog.String("color", string(score.Color)),
		slog.Int("ingredients", len(ingredients)),
	)
	return OutcomeWritten, nil
}

// linkedIngredients loads every ingredient linked to the product. It returns nil (not an empty
// slice) when there are no links, and skips links whose ingredient no longer exists.
func (e *Engine) linkedIngredients(ctx context.Context, productID string) ([]*domain.Ingredient, error) {
	ids, err := e.store.IngredientIDsForProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	fetched := make([]*domain.Ingredient, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fetchLimit)
	for i, id := range ids {
		g.Go(func() error {
			ing, err := e.store.GetIngredient(gctx, id)
			if errors.Is(err, store.ErrIngredientNotFound) {
				e.logger.Debug("linked ingredient missing, skipped",
					slog.String("product_id", productID),
					slog.String("ingredient_id", id))
				return nil
			}
			if err != nil {
				return fmt.Errorf("load ingredient %s: %w", id, err)
			}
			fetched[i] = ing
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*domain.Ingredient, 0, len(fetched))
	for _, ing := range fetched {
		if ing != nil {
			out = append(out, ing)
		}
	}
	return out, nil
}
