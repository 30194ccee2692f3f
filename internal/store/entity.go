package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Entity provides generic CRUD operations for a JSON-encoded record type.
//
// Every method has a *Txn variant so callers can compose several entity writes
// (and link keys) inside one badger transaction.
type Entity[T any] struct {
	store    *Store
	prefix   string
	indexes  []Index[T]
	notFound error
	exists   error
}

// Index defines a unique secondary index on an entity.
type Index[T any] struct {
	name            string
	keyGen          func(*T) []string
	lookupTransform func(string) string
}

// NewEntity creates a new Entity instance for type T.
func NewEntity[T any](s *Store, prefix string) *Entity[T] {
	return &Entity[T]{
		store:    s,
		prefix:   prefix,
		notFound: ErrNotFound,
		exists:   ErrAlreadyExists,
	}
}

// WithErrors sets the errors returned for missing and duplicate records.
func (e *Entity[T]) WithErrors(notFound, exists error) *Entity[T] {
	e.notFound = notFound
	e.exists = exists
	return e
}

// WithIndex adds a unique secondary index to the entity.
func (e *Entity[T]) WithIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen})
	return e
}

// WithIndexTransform adds a secondary index whose lookups pass through lookupTransform first.
func (e *Entity[T]) WithIndexTransform(name string, keyGen func(*T) []string, lookupTransform func(string) string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen, lookupTransform: lookupTransform})
	return e
}

// Create stores a new record. Returns the entity's exists error on an id or index clash.
func (e *Entity[T]) Create(ctx context.Context, id string, entity *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.store.update(ctx, func(txn *badger.Txn) error {
		return e.CreateTxn(txn, id, entity)
	})
}

// CreateTxn is Create inside an existing transaction.
func (e *Entity[T]) CreateTxn(txn *badger.Txn, id string, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	if ok, err := keyExists(txn, []byte(e.prefix+id)); err != nil {
		return fmt.Errorf("failed to check existing key: %w", err)
	} else if ok {
		return e.exists
	}

	for _, idx := range e.indexes {
		for _, value := range idx.keyGen(entity) {
			ok, err := keyExists(txn, []byte(indexKey(e.prefix, idx.name, value)))
			if err != nil {
				return fmt.Errorf("failed to check index key: %w", err)
			}
			if ok {
				return fmt.Errorf("index %s conflict on key %s: %w", idx.name, value, e.exists)
			}
		}
	}

	if err := txn.Set([]byte(e.prefix+id), data); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return e.setIndexes(txn, id, entity)
}

// Get retrieves a record by ID.
func (e *Entity[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *T
	err := e.store.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = e.GetTxn(txn, id)
		return err
	})
	return out, err
}

// GetTxn is Get inside an existing transaction.
func (e *Entity[T]) GetTxn(txn *badger.Txn, id string) (*T, error) {
	key := buildKey(e.prefix, id)
	defer releaseKey(key)

	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, e.notFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	var entity T
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entity)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return &entity, nil
}

// GetByIndex retrieves a record through a secondary index.
func (e *Entity[T]) GetByIndex(ctx context.Context, indexName, value string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, idx := range e.indexes {
		if idx.name == indexName && idx.lookupTransform != nil {
			value = idx.lookupTransform(value)
			break
		}
	}

	var out *T
	err := e.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey(e.prefix, indexName, value)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return e.notFound
		}
		if err != nil {
			return err
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		out, err = e.GetTxn(txn, id)
		return err
	})
	return out, err
}

// Mutate applies fn to the stored record inside one transaction and returns the record before
// and after. If fn returns ErrUnchanged nothing is written and after equals before.
func (e *Entity[T]) Mutate(ctx context.Context, id string, fn func(*T) error) (before, after *T, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	err = e.store.update(ctx, func(txn *badger.Txn) error {
		before, after, err = e.MutateTxn(txn, id, fn)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// MutateTxn is Mutate inside an existing transaction.
func (e *Entity[T]) MutateTxn(txn *badger.Txn, id string, fn func(*T) error) (before, after *T, err error) {
	before, err = e.GetTxn(txn, id)
	if err != nil {
		return nil, nil, err
	}
	// Decode a second copy so fn cannot alias the before image.
	after, err = e.GetTxn(txn, id)
	if err != nil {
		return nil, nil, err
	}

	if err := fn(after); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return before, before, nil
		}
		return nil, nil, err
	}

	if err := e.ReplaceTxn(txn, id, before, after); err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// ReplaceTxn overwrites a record whose previous value is old, moving its index keys.
func (e *Entity[T]) ReplaceTxn(txn *badger.Txn, id string, old, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	for _, idx := range e.indexes {
		oldKeys := make(map[string]bool)
		for _, k := range idx.keyGen(old) {
			oldKeys[k] = true
		}
		newKeys := idx.keyGen(entity)
		for _, k := range newKeys {
			if oldKeys[k] {
				delete(oldKeys, k)
				continue
			}
			ok, err := keyExists(txn, []byte(indexKey(e.prefix, idx.name, k)))
			if err != nil {
				return fmt.Errorf("failed to check index key: %w", err)
			}
			if ok {
				return fmt.Errorf("index %s conflict on key %s: %w", idx.name, k, e.exists)
			}
		}
		for k := range oldKeys {
			if err := txn.Delete([]byte(indexKey(e.prefix, idx.name, k))); err != nil {
				return fmt.Errorf("failed to delete old index key: %w", err)
			}
		}
	}

	if err := txn.Set([]byte(e.prefix+id), data); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return e.setIndexes(txn, id, entity)
}

// DeleteTxn removes a record and its index keys. Returns the deleted record,
// or the not-found error when there was nothing to delete.
func (e *Entity[T]) DeleteTxn(txn *badger.Txn, id string) (*T, error) {
	old, err := e.GetTxn(txn, id)
	if err != nil {
		return nil, err
	}
	for _, idx := range e.indexes {
		for _, k := range idx.keyGen(old) {
			if err := txn.Delete([]byte(indexKey(e.prefix, idx.name, k))); err != nil {
				return nil, fmt.Errorf("failed to delete index key: %w", err)
			}
		}
	}
	if err := txn.Delete([]byte(e.prefix + id)); err != nil {
		return nil, fmt.Errorf("failed to delete key: %w", err)
	}
	return old, nil
}

// List returns an iterator over all records.
func (e *Entity[T]) List(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		_ = e.store.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(e.prefix)

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return err
				}

				key := string(it.Item().Key())
				if strings.HasPrefix(key[len(e.prefix):], indexSegment) {
					continue
				}

				var entity T
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &entity)
				}); err != nil {
					yield(nil, err)
					return err
				}

				if !yield(&entity, nil) {
					return nil
				}
			}
			return nil
		})
	}
}

func (e *Entity[T]) setIndexes(txn *badger.Txn, id string, entity *T) error {
	for _, idx := range e.indexes {
		for _, value := range idx.keyGen(entity) {
			if err := txn.Set([]byte(indexKey(e.prefix, idx.name, value)), []byte(id)); err != nil {
				return fmt.Errorf("failed to set index key: %w", err)
			}
		}
	}
	return nil
}

func keyExists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}
