package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purescanapp/purescan-server/internal/recompute"
	"github.com/purescanapp/purescan-server/internal/scanlog"
	"github.com/purescanapp/purescan-server/internal/search"
	"github.com/purescanapp/purescan-server/internal/service"
	"github.com/purescanapp/purescan-server/internal/sse"
	"github.com/purescanapp/purescan-server/internal/store"
)

const testBarcode = "4006381333931"

// testServer wraps the API server for testing.
type testServer struct {
	*Server
	api humatest.TestAPI
}

type testOptions struct {
	provisionUnknown bool
	rateLimit        int
}

// setupTestServer creates a server over a temporary store with the recompute worker,
// search index, lookup history and SSE manager all wired as in production.
func setupTestServer(t *testing.T, opts ...func(*testOptions)) *testServer {
	t.Helper()

	o := testOptions{provisionUnknown: true}
	for _, fn := range opts {
		fn(&o)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := store.New(t.TempDir(), logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	lookups, err := scanlog.Open(filepath.Join(t.TempDir(), "lookups.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lookups.Close() })

	index, err := search.NewSearchIndex(search.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	st.SetSearchIndexer(index)

	sseManager := sse.NewManager(logger)
	go sseManager.Start(context.Background())

	worker := recompute.NewWorker(recompute.NewEngine(st, logger), recompute.WorkerConfig{Workers: 2, QueueSize: 16}, logger)
	worker.Start(context.Background())
	st.SetEmitter(store.FanOut{worker, sseManager})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = worker.Shutdown(ctx)
		_ = sseManager.Shutdown(ctx)
	})

	services := &Services{
		Catalog: service.NewCatalogService(st, service.CatalogOptions{
			Searcher:         index,
			Lookups:          lookups,
			Logger:           logger,
			ProvisionUnknown: o.provisionUnknown,
		}),
		Ingredient: service.NewIngredientService(st, logger),
		Search:     index,
		Lookups:    lookups,
	}

	s := NewServer(st, services, sseManager, Options{Name: "PureScan API Test", RateLimit: o.rateLimit}, logger)
	t.Cleanup(func() { _ = s.Shutdown() })

	return &testServer{Server: s, api: humatest.Wrap(t, s.API())}
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &v), "body: %s", resp.Body.String())
	return v
}

func TestLookupProduct_ProvisionsThenFinds(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/lookupProduct?barcode=0000000000017")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "new", body["status"])
	assert.Equal(t, "0000000000017", body["id"])
	assert.Equal(t, "New product", body["name"])
	assert.Equal(t, true, body["isNew"])
	assert.NotContains(t, body, "safetyScore")
	assert.NotContains(t, body, "safetyColor")

	resp = ts.api.Get("/lookupProduct?barcode=0000000000017")
	require.Equal(t, http.StatusOK, resp.Code)
	body = decode[map[string]any](t, resp)
	assert.Equal(t, "existing", body["status"])
	assert.Equal(t, "0000000000017", body["id"])
}

func TestLookupProduct_UPCIsCanonicalized(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/lookupProduct?barcode=036000291452")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	body := decode[LookupResponse](t, resp)
	assert.Equal(t, "new", body.Status)
	assert.Equal(t, "0036000291452", body.ID)
}

func TestLookupProduct_BadInput(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"missing", "/lookupProduct", "Missing barcode"},
		{"empty", "/lookupProduct?barcode=", "Missing barcode"},
		{"bad checksum", "/lookupProduct?barcode=4006381333932", "Invalid barcode"},
		{"not digits", "/lookupProduct?barcode=hello", "Invalid barcode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.api.Get(tt.query)
			assert.Equal(t, http.StatusBadRequest, resp.Code)

			body := decode[map[string]any](t, resp)
			assert.Equal(t, tt.want, body["error"])
			assert.Equal(t, "VALIDATION", body["code"])
		})
	}
}

func TestLookupProduct_LegacyNotFound(t *testing.T) {
	ts := setupTestServer(t, func(o *testOptions) { o.provisionUnknown = false })

	resp := ts.api.Get("/lookupProduct?barcode=" + testBarcode)
	require.Equal(t, http.StatusOK, resp.Code)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "not_found", body["status"])
	assert.Equal(t, service.MsgNotInDatabase, body["message"])
	assert.NotContains(t, body, "id")

	resp = ts.api.Get("/api/v1/products/" + testBarcode)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRecentLookups(t *testing.T) {
	ts := setupTestServer(t)

	ts.api.Get("/lookupProduct?barcode=" + testBarcode)
	ts.api.Get("/lookupProduct?barcode=" + testBarcode)
	ts.api.Get("/lookupProduct?barcode=123")

	resp := ts.api.Get("/api/v1/lookups/recent?limit=10")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	body := decode[RecentLookupsResponse](t, resp)
	require.Len(t, body.Lookups, 3)
	assert.Equal(t, scanlog.StatusInvalid, body.Lookups[0].Status)
	assert.Equal(t, scanlog.StatusExisting, body.Lookups[1].Status)
	assert.Equal(t, scanlog.StatusNew, body.Lookups[2].Status)
	assert.Equal(t, testBarcode, body.Lookups[2].ProductID)
	assert.NotEmpty(t, body.Lookups[2].RemoteAddr)
}

func TestListProducts_Paginates(t *testing.T) {
	ts := setupTestServer(t)
	for _, code := range []string{"0036000291452", "4006381333931", "5901234123457"} {
		require.Equal(t, http.StatusOK, ts.api.Get("/lookupProduct?barcode="+code).Code)
	}

	resp := ts.api.Get("/api/v1/products?limit=2")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	page := decode[ListProductsResponse](t, resp)
	require.Len(t, page.Products, 2)
	assert.Equal(t, "0036000291452", page.Products[0].ID)
	assert.True(t, page.HasMore)
	assert.Equal(t, 3, page.Total)
	require.NotEmpty(t, page.NextCursor)

	resp = ts.api.Get("/api/v1/products?limit=2&cursor=" + page.NextCursor)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	page = decode[ListProductsResponse](t, resp)
	require.Len(t, page.Products, 1)
	assert.Equal(t, "5901234123457", page.Products[0].ID)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)

	resp = ts.api.Get("/api/v1/products?cursor=%25%25")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION", decode[map[string]any](t, resp)["code"])
}

func TestGetProduct_NotFound(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/api/v1/products/" + testBarcode)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "NOT_FOUND", body["code"])
	assert.Equal(t, "product not found", body["error"])
}

func TestUpdateProduct_ClearsIsNew(t *testing.T) {
	ts := setupTestServer(t)
	ts.api.Get("/lookupProduct?barcode=" + testBarcode)

	resp := ts.api.Patch("/api/v1/products/"+testBarcode, map[string]any{
		"name":  "  Oat Drink ",
		"brand": "Oatly",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	body := decode[service.ProductView](t, resp)
	assert.Equal(t, "Oat Drink", body.Name)
	assert.Equal(t, "Oatly", body.Brand)
	assert.False(t, body.IsNew)
	assert.Empty(t, body.Ingredients)

	resp = ts.api.Patch("/api/v1/products/"+testBarcode, map[string]any{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestDeleteProduct(t *testing.T) {
	ts := setupTestServer(t)
	ts.api.Get("/lookupProduct?barcode=" + testBarcode)

	resp := ts.api.Delete("/api/v1/products/" + testBarcode)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/api/v1/products/" + testBarcode)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.api.Delete("/api/v1/products/" + testBarcode)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestIngredients_CreateAndValidate(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Post("/api/v1/ingredients", map[string]any{"name": "Sugar", "riskWeight": 3})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	sugar := decode[map[string]any](t, resp)
	assert.Regexp(t, `^ing-`, sugar["id"])
	assert.Equal(t, "Sugar", sugar["name"])

	resp = ts.api.Post("/api/v1/ingredients", map[string]any{"name": " "})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.api.Post("/api/v1/ingredients", map[string]any{"name": "Salt", "riskWeight": -1})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.api.Get("/api/v1/ingredients")
	require.Equal(t, http.StatusOK, resp.Code)
	list := decode[IngredientsResponse](t, resp)
	require.Len(t, list.Ingredients, 1)

	resp = ts.api.Get("/api/v1/ingredients/ing-missing")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

// waitForColor polls the product until its safety color matches want.
func (ts *testServer) waitForColor(t *testing.T, id, want string) service.ProductView {
	t.Helper()
	var view service.ProductView
	require.Eventually(t, func() bool {
		resp := ts.api.Get("/api/v1/products/" + id)
		if resp.Code != http.StatusOK {
			return false
		}
		view = decode[service.ProductView](t, resp)
		return string(view.SafetyColor) == want
	}, 5*time.Second, 20*time.Millisecond, "product %s never became %s", id, want)
	return view
}

func TestLinkIngredient_RecomputesScore(t *testing.T) {
	ts := setupTestServer(t)
	ts.api.Get("/lookupProduct?barcode=" + testBarcode)

	resp := ts.api.Post("/api/v1/ingredients", map[string]any{"name": "Sugar", "riskWeight": 3})
	require.Equal(t, http.StatusCreated, resp.Code)
	sugarID := decode[map[string]any](t, resp)["id"].(string)

	resp = ts.api.Put("/api/v1/products/" + testBarcode + "/ingredients/" + sugarID)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	linked := decode[IngredientsResponse](t, resp)
	require.Len(t, linked.Ingredients, 1)

	view := ts.waitForColor(t, testBarcode, "yellow")
	require.NotNil(t, view.SafetyScore)
	assert.InDelta(t, 72.274, *view.SafetyScore, 0.001)
	require.Len(t, view.Ingredients, 1)

	// Raising the weight recomputes every linked product.
	resp = ts.api.Patch("/api/v1/ingredients/"+sugarID, map[string]any{"riskWeight": 200})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	ts.waitForColor(t, testBarcode, "red")

	resp = ts.api.Get("/api/v1/ingredients/" + sugarID + "/products")
	require.Equal(t, http.StatusOK, resp.Code)
	products := decode[IngredientProductsResponse](t, resp)
	require.Len(t, products.Products, 1)
	assert.Equal(t, testBarcode, products.Products[0].ID)

	// Removing the last link leaves the stored score as it was.
	resp = ts.api.Delete("/api/v1/products/" + testBarcode + "/ingredients/" + sugarID)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decode[IngredientsResponse](t, resp).Ingredients)
	ts.waitForColor(t, testBarcode, "red")
}

func TestLinkIngredient_UnknownIDs(t *testing.T) {
	ts := setupTestServer(t)
	ts.api.Get("/lookupProduct?barcode=" + testBarcode)

	resp := ts.api.Put("/api/v1/products/" + testBarcode + "/ingredients/ing-missing")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.api.Get("/api/v1/products/0000000000017/ingredients")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSearchProducts(t *testing.T) {
	ts := setupTestServer(t)
	ts.api.Get("/lookupProduct?barcode=" + testBarcode)
	ts.api.Patch("/api/v1/products/"+testBarcode, map[string]any{"name": "Chocolate Spread", "brand": "Nutty"})
	ts.api.Get("/lookupProduct?barcode=0000000000017")

	resp := ts.api.Get("/api/v1/search?q=chocolate")
	require.Equal(t, http.StatusOK, resp.Code)
	res := decode[search.SearchResult](t, resp)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, testBarcode, res.Hits[0].ID)

	resp = ts.api.Get("/api/v1/search?onlyNew=true")
	require.Equal(t, http.StatusOK, resp.Code)
	res = decode[search.SearchResult](t, resp)
	require.Equal(t, uint64(1), res.Total)
	assert.Equal(t, "0000000000017", res.Hits[0].ID)

	resp = ts.api.Get("/api/v1/search?sort=sideways")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	for _, name := range []string{"database", "search", "sse", "lookups"} {
		assert.Equal(t, "healthy", health.Components[name].Status, name)
	}
}

func TestHealthCheck_DegradedWithoutOptionalComponents(t *testing.T) {
	st, err := store.New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	s := NewServer(st, &Services{}, nil, Options{}, nil)
	api := humatest.Wrap(t, s.API())

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "healthy", health.Components["database"].Status)
}

func TestRateLimit(t *testing.T) {
	ts := setupTestServer(t, func(o *testOptions) { o.rateLimit = 1 })

	resp := ts.api.Get("/health")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = ts.api.Get("/health")
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "RATE_LIMITED", body["code"])
	assert.NotEmpty(t, body["error"])
}

func TestCORSPreflight(t *testing.T) {
	ts := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/lookupProduct?barcode="+testBarcode, nil)
	req.Header.Set("Origin", "http://scanner.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", getClientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.8")
	assert.Equal(t, "10.0.0.8", getClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(r))
}
