package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purescanapp/purescan-server/internal/domain"
	domainerrors "github.com/purescanapp/purescan-server/internal/errors"
	"github.com/purescanapp/purescan-server/internal/scanlog"
	"github.com/purescanapp/purescan-server/internal/search"
	"github.com/purescanapp/purescan-server/internal/store"
)

const testBarcode = "4006381333931"

type testEnv struct {
	store   *store.Store
	lookups *scanlog.Log
	index   *search.SearchIndex
	catalog *CatalogService
	ingreds *IngredientService
}

// setupTestEnv creates services over a temporary store, lookup log and in-memory search index.
func setupTestEnv(t *testing.T, provisionUnknown bool) *testEnv {
	t.Helper()

	s, err := store.New(t.TempDir(), nil, store.NewNoopEmitter())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	lookups, err := scanlog.Open(filepath.Join(t.TempDir(), "lookups.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lookups.Close() })

	index, err := search.NewSearchIndex(search.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	s.SetSearchIndexer(index)

	return &testEnv{
		store:   s,
		lookups: lookups,
		index:   index,
		catalog: NewCatalogService(s, CatalogOptions{
			Searcher:         index,
			Lookups:          lookups,
			ProvisionUnknown: provisionUnknown,
		}),
		ingreds: NewIngredientService(s, nil),
	}
}

func TestCatalogService_Lookup_ProvisionsThenFinds(t *testing.T) {
	env := setupTestEnv(t, true)
	ctx := context.Background()

	res, err := env.catalog.Lookup(ctx, testBarcode, "127.0.0.1:1")
	require.NoError(t, err)
	assert.Equal(t, LookupNew, res.Status)
	require.NotNil(t, res.Product)
	assert.Equal(t, testBarcode, res.Product.ID)
	assert.Equal(t, testBarcode, res.Product.Barcode)
	assert.Equal(t, domain.PlaceholderName, res.Product.Name)
	assert.True(t, res.Product.IsNew)
	assert.Nil(t, res.Product.SafetyScore)

	res, err = env.catalog.Lookup(ctx, testBarcode, "127.0.0.1:1")
	require.NoError(t, err)
	assert.Equal(t, LookupExisting, res.Status)
	assert.Equal(t, testBarcode, res.Product.ID)
}

func TestCatalogService_Lookup_NormalizesUPC(t *testing.T) {
	env := setupTestEnv(t, true)

	res, err := env.catalog.Lookup(context.Background(), " 590123412345 ", "")
	require.NoError(t, err)
	assert.Equal(t, "5901234123457", res.Product.Barcode)
}

func TestCatalogService_Lookup_Errors(t *testing.T) {
	env := setupTestEnv(t, true)
	ctx := context.Background()

	tests := []struct {
		raw     string
		message string
		status  scanlog.Status
	}{
		{"", MsgMissingBarcode, scanlog.StatusMissing},
		{"   ", MsgMissingBarcode, scanlog.StatusMissing},
		{"4006381333932", MsgInvalidBarcode, scanlog.StatusInvalid},
		{"12345", MsgInvalidBarcode, scanlog.StatusInvalid},
	}

	for _, tt := range tests {
		_, err := env.catalog.Lookup(ctx, tt.raw, "")
		require.Error(t, err, "raw %q", tt.raw)

		var domainErr *domainerrors.Error
		require.True(t, errors.As(err, &domainErr))
		assert.Equal(t, domainerrors.CodeValidation, domainErr.Code)
		assert.Equal(t, tt.message, domainErr.Message)
	}

	entries, err := env.lookups.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, len(tests))
	for i, e := range entries {
		assert.Equal(t, tests[len(tests)-1-i].status, e.Status)
	}

	products, err := env.store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestCatalogService_Lookup_ProvisioningDisabled(t *testing.T) {
	env := setupTestEnv(t, false)
	ctx := context.Background()

	res, err := env.catalog.Lookup(ctx, testBarcode, "")
	require.NoError(t, err)
	assert.Equal(t, LookupNotFound, res.Status)
	assert.Equal(t, MsgNotInDatabase, res.Message)
	assert.Nil(t, res.Product)

	_, err = env.store.GetProduct(ctx, testBarcode)
	assert.ErrorIs(t, err, store.ErrProductNotFound)
}

func TestCatalogService_Lookup_ConcurrentCreatesOnePlaceholder(t *testing.T) {
	rec := &countingEmitter{}
	s, err := store.New(t.TempDir(), nil, rec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	catalog := NewCatalogService(s, CatalogOptions{ProvisionUnknown: true})

	const callers = 16
	var wg sync.WaitGroup
	statuses := make(chan LookupStatus, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := catalog.Lookup(context.Background(), testBarcode, "")
			if assert.NoError(t, err) {
				assert.Equal(t, testBarcode, res.Product.ID)
				statuses <- res.Status
			}
		}()
	}
	wg.Wait()
	close(statuses)

	for st := range statuses {
		assert.Contains(t, []LookupStatus{LookupNew, LookupExisting}, st)
	}
	assert.Equal(t, 1, rec.created())

	products, err := s.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestCatalogService_Lookup_ExistingFromOtherWriter(t *testing.T) {
	env := setupTestEnv(t, true)
	ctx := context.Background()

	// A product already stored under another id is found by its barcode.
	p := domain.NewPlaceholder(testBarcode, time.Now())
	p.ID = "prod-imported"
	p.Name = "Imported"
	require.NoError(t, env.store.CreateProduct(ctx, p, domain.OriginUserEdit))

	res, err := env.catalog.Lookup(ctx, testBarcode, "")
	require.NoError(t, err)
	assert.Equal(t, LookupExisting, res.Status)
	assert.Equal(t, "prod-imported", res.Product.ID)
}

func TestCatalogService_GetAndUpdateProduct(t *testing.T) {
	env := setupTestEnv(t, true)
	ctx := context.Background()

	_, err := env.catalog.Lookup(ctx, testBarcode, "")
	require.NoError(t, err)

	ing, err := env.ingreds.CreateIngredient(ctx, CreateIngredientRequest{Name: "Sugar", RiskWeight: ptr(2.0)})
	require.NoError(t, err)
	require.NoError(t, env.ingreds.LinkIngredient(ctx, testBarcode, ing.ID))

	view, err := env.catalog.GetProduct(ctx, testBarcode)
	require.NoError(t, err)
	require.Len(t, view.Ingredients, 1)
	assert.Equal(t, "Sugar", view.Ingredients[0].Name)

	view, err = env.catalog.UpdateProduct(ctx, testBarcode, UpdateProductRequest{Name: ptr("  Sparkling Water "), Brand: ptr("Aqua")})
	require.NoError(t, err)
	assert.Equal(t, "Sparkling Water", view.Name)
	assert.Equal(t, "Aqua", view.Brand)
	assert.False(t, view.IsNew)
	assert.Len(t, view.Ingredients, 1)

	_, err = env.catalog.UpdateProduct(ctx, testBarcode, UpdateProductRequest{Name: ptr("  ")})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = env.catalog.UpdateProduct(ctx, "missing", UpdateProductRequest{Name: ptr("x")})
	assert.ErrorIs(t, err, store.ErrProductNotFound)
}

func TestCatalogService_ListAndDelete(t *testing.T) {
	env := setupTestEnv(t, true)
	ctx := context.Background()

	for _, code := range []string{testBarcode, "5901234123457"} {
		_, err := env.catalog.Lookup(ctx, code, "")
		require.NoError(t, err)
	}

	views, err := env.catalog.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, views, 2)

	require.NoError(t, env.catalog.DeleteProduct(ctx, testBarcode))
	views, err = env.catalog.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "5901234123457", views[0].ID)

	assert.ErrorIs(t, env.catalog.DeleteProduct(ctx, testBarcode), store.ErrProductNotFound)
}

func TestCatalogService_SearchProducts(t *testing.T) {
	env := setupTestEnv(t, true)
	ctx := context.Background()

	_, err := env.catalog.Lookup(ctx, testBarcode, "")
	require.NoError(t, err)
	_, err = env.catalog.UpdateProduct(ctx, testBarcode, UpdateProductRequest{Name: ptr("Sparkling Water")})
	require.NoError(t, err)

	// The edit right after provisioning must win over the placeholder document.
	res, err := env.catalog.SearchProducts(ctx, search.SearchParams{Query: "sparkling"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, testBarcode, res.Hits[0].ID)

	res, err = env.catalog.SearchProducts(ctx, search.SearchParams{Query: "new product"})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestCatalogService_SearchUnavailable(t *testing.T) {
	s, err := store.New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = NewCatalogService(s, CatalogOptions{}).SearchProducts(context.Background(), search.SearchParams{Query: "x"})
	assert.ErrorIs(t, err, domainerrors.ErrUnavailable)
}

func TestCatalogService_RecentLookups(t *testing.T) {
	env := setupTestEnv(t, true)
	ctx := context.Background()

	_, err := env.catalog.Lookup(ctx, testBarcode, "10.1.1.1:4000")
	require.NoError(t, err)
	_, err = env.catalog.Lookup(ctx, testBarcode, "10.1.1.1:4000")
	require.NoError(t, err)

	entries, err := env.catalog.RecentLookups(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, scanlog.StatusExisting, entries[0].Status)
	assert.Equal(t, scanlog.StatusNew, entries[1].Status)
	assert.Equal(t, testBarcode, entries[0].ProductID)
	assert.Equal(t, "10.1.1.1:4000", entries[0].RemoteAddr)
}

func ptr[T any](v T) *T { return &v }

// countingEmitter counts product creations.
type countingEmitter struct {
	mu      sync.Mutex
	creates int
}

func (c *countingEmitter) Emit(event any) {
	if ev, ok := event.(domain.ProductWrite); ok && ev.Kind == domain.WriteCreated {
		c.mu.Lock()
		c.creates++
		c.mu.Unlock()
	}
}

func (c *countingEmitter) created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}
