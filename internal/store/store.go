// Package store persists products, ingredients and their links in badger and
// emits a write event after every committed product change.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/purescanapp/purescan-server/internal/domain"
)

// maxTxnRetries bounds how often a transaction is replayed after badger.ErrConflict.
const maxTxnRetries = 8

// ErrUnchanged is returned from a Mutate callback to skip the write.
var ErrUnchanged = errors.New("store: unchanged")

// EventEmitter receives domain.ProductWrite and domain.IngredientWrite values after commit.
// Implementations must not block for long: Emit runs on the writer's goroutine.
type EventEmitter interface {
	Emit(event any)
}

// NoopEmitter is a no-op implementation of EventEmitter for testing.
type NoopEmitter struct{}

// Emit implements EventEmitter.Emit as a no-op.
func (NoopEmitter) Emit(_ any) {}

// NewNoopEmitter creates a new no-op emitter for testing.
func NewNoopEmitter() EventEmitter {
	return NoopEmitter{}
}

// FanOut delivers every event to each emitter in order.
type FanOut []EventEmitter

// Emit implements EventEmitter.
func (f FanOut) Emit(event any) {
	for _, e := range f {
		if e != nil {
			e.Emit(event)
		}
	}
}

// SearchIndexer keeps the product search index in sync with the store.
// Updates run on the writer's goroutine after commit, one at a time.
type SearchIndexer interface {
	IndexProduct(ctx context.Context, p *domain.Product) error
	DeleteProduct(ctx context.Context, productID string) error
}

// Store wraps a Badger database instance.
type Store struct {
	db      *badger.DB
	logger  *slog.Logger
	emitter EventEmitter
	now     func() time.Time

	// Set via SetSearchIndexer after creation; the index is built from the store.
	searchIndexer SearchIndexer
	indexMu       sync.Mutex

	Products    *Entity[domain.Product]
	Ingredients *Entity[domain.Ingredient]
}

// New opens (or creates) the badger database at path. Pass an empty path for an in-memory store.
func New(path string, logger *slog.Logger, emitter EventEmitter) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
		opts.CompactL0OnClose = true
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	if emitter == nil {
		emitter = NoopEmitter{}
	}

	s := &Store{
		db:      db,
		logger:  logger,
		emitter: emitter,
		now:     time.Now,
	}
	s.initProducts()
	s.initIngredients()

	if logger != nil {
		logger.Info("Badger database opened successfully", "path", path)
	}
	return s, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("Closing database connection")
	}
	return s.db.Close()
}

// Ping checks that the database answers a read.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("store closed")
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

// SetEmitter replaces the event emitter. Used during wiring, before traffic starts.
func (s *Store) SetEmitter(emitter EventEmitter) {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	s.emitter = emitter
}

// SetSearchIndexer sets the search indexer for keeping search in sync.
func (s *Store) SetSearchIndexer(indexer SearchIndexer) {
	s.searchIndexer = indexer
}

func (s *Store) initProducts() {
	s.Products = NewEntity[domain.Product](s, productPrefix).
		WithErrors(ErrProductNotFound, ErrProductExists).
		WithIndex("barcode", func(p *domain.Product) []string {
			return []string{p.Barcode}
		})
}

func (s *Store) initIngredients() {
	s.Ingredients = NewEntity[domain.Ingredient](s, ingredientPrefix).
		WithErrors(ErrIngredientNotFound, ErrIngredientExists).
		WithIndexTransform("name",
			func(i *domain.Ingredient) []string {
				return []string{normalizeName(i.Name)}
			},
			normalizeName,
		)
}

// update runs fn in a read-write transaction, replaying it when badger reports a conflict.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if s.logger != nil {
			s.logger.Debug("transaction conflict, retrying", "attempt", attempt+1)
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func (s *Store) emit(event any) {
	s.emitter.Emit(event)
}

// syncSearch brings the search document for productID up to date after a commit.
// It indexes the currently stored version, not the caller's snapshot, so concurrent
// writers cannot leave an older version in the index.
func (s *Store) syncSearch(productID string) {
	if s.searchIndexer == nil {
		return
	}
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	ctx := context.Background()
	p, err := s.Products.Get(ctx, productID)
	switch {
	case errors.Is(err, ErrNotFound):
		err = s.searchIndexer.DeleteProduct(ctx, productID)
	case err == nil:
		err = s.searchIndexer.IndexProduct(ctx, p)
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("failed to sync product search document", "product_id", productID, "error", err)
	}
}
