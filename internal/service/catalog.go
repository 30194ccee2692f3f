package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/purescanapp/purescan-server/internal/barcode"
	"github.com/purescanapp/purescan-server/internal/domain"
	domainerrors "github.com/purescanapp/purescan-server/internal/errors"
	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/scanlog"
	"github.com/purescanapp/purescan-server/internal/search"
	"github.com/purescanapp/purescan-server/internal/store"
	"github.com/purescanapp/purescan-server/internal/validation"
)

// Lookup response messages. Clients match on these strings.
const (
	MsgMissingBarcode = "Missing barcode"
	MsgInvalidBarcode = "Invalid barcode"
	MsgNotInDatabase  = "Product not yet in database"
)

// LookupStatus is the outcome of a barcode lookup.
type LookupStatus string

// Lookup statuses.
const (
	LookupExisting LookupStatus = "existing"
	LookupNew      LookupStatus = "new"
	LookupNotFound LookupStatus = "not_found"
)

// LookupResult is the success shape of a lookup. Product is nil for LookupNotFound.
type LookupResult struct {
	Product *domain.Product
	Status  LookupStatus
	Message string
}

// LookupRecorder persists lookup history.
type LookupRecorder interface {
	Record(ctx context.Context, e scanlog.Entry) error
	Recent(ctx context.Context, limit int) ([]scanlog.Entry, error)
}

// ProductSearcher runs product searches.
type ProductSearcher interface {
	Search(ctx context.Context, params search.SearchParams) (*search.SearchResult, error)
}

// CatalogOptions configures the catalog service.
type CatalogOptions struct {
	Searcher ProductSearcher
	Lookups  LookupRecorder
	Logger   *slog.Logger

	// ProvisionUnknown creates a placeholder product for unknown valid barcodes.
	// When false, unknown barcodes answer with the not_found status instead.
	ProvisionUnknown bool
}

// CatalogService resolves barcodes and serves product reads and edits.
type CatalogService struct {
	store            *store.Store
	searcher         ProductSearcher
	lookups          LookupRecorder
	logger           *slog.Logger
	validator        *validation.Validator
	provision        singleflight.Group
	provisionUnknown bool
	now              func() time.Time
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(s *store.Store, opts CatalogOptions) *CatalogService {
	return &CatalogService{
		store:            s,
		searcher:         opts.Searcher,
		lookups:          opts.Lookups,
		logger:           logger.OrDiscard(opts.Logger),
		validator:        validation.New(),
		provisionUnknown: opts.ProvisionUnknown,
		now:              time.Now,
	}
}

// Lookup resolves a raw barcode to a product, creating a placeholder for unknown codes.
//
// Concurrent lookups of the same unknown barcode share one placeholder creation; if another
// process wins the race, the stored product is returned as existing.
func (s *CatalogService) Lookup(ctx context.Context, raw, remoteAddr string) (*LookupResult, error) {
	start := s.now()
	entry := scanlog.Entry{Raw: raw, RemoteAddr: remoteAddr, At: start}

	res, err := s.lookup(ctx, raw, &entry)
	switch {
	case err == nil:
		entry.Status = scanlog.Status(res.Status)
		if res.Product != nil {
			entry.ProductID = res.Product.ID
		}
	case entry.Status == "":
		entry.Status = scanlog.StatusFailed
	}
	entry.Duration = s.now().Sub(start)
	s.record(ctx, entry)

	return res, err
}

func (s *CatalogService) lookup(ctx context.Context, raw string, entry *scanlog.Entry) (*LookupResult, error) {
	if strings.TrimSpace(raw) == "" {
		entry.Status = scanlog.StatusMissing
		return nil, domainerrors.Validation(MsgMissingBarcode)
	}

	code, ok := barcode.Canonical(raw)
	if !ok {
		entry.Status = scanlog.StatusInvalid
		return nil, domainerrors.Validation(MsgInvalidBarcode)
	}
	entry.Barcode = code

	p, err := s.store.GetProductByBarcode(ctx, code)
	if err == nil {
		return &LookupResult{Status: LookupExisting, Product: p}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "lookup failed")
	}

	if !s.provisionUnknown {
		return &LookupResult{Status: LookupNotFound, Message: MsgNotInDatabase}, nil
	}

	v, err, shared := s.provision.Do(code, func() (any, error) {
		return s.provisionPlaceholder(context.WithoutCancel(ctx), code)
	})
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "lookup failed")
	}
	res := v.(*LookupResult)
	if shared {
		s.logger.Debug("joined in-flight provisioning", "barcode", code)
	}
	return &LookupResult{Status: res.Status, Product: res.Product.Clone()}, nil
}

func (s *CatalogService) provisionPlaceholder(ctx context.Context, code string) (*LookupResult, error) {
	p := domain.NewPlaceholder(code, s.now())
	err := s.store.CreateProduct(ctx, p, domain.OriginProvision)
	if errors.Is(err, store.ErrAlreadyExists) {
		existing, getErr := s.store.GetProductByBarcode(ctx, code)
		if getErr != nil {
			return nil, getErr
		}
		return &LookupResult{Status: LookupExisting, Product: existing}, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("provisioned placeholder product", "barcode", code)
	return &LookupResult{Status: LookupNew, Product: p}, nil
}

func (s *CatalogService) record(ctx context.Context, e scanlog.Entry) {
	if s.lookups == nil {
		return
	}
	if err := s.lookups.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to record lookup", "barcode", e.Barcode, "error", err)
	}
}

// RecentLookups returns the newest lookup history entries.
func (s *CatalogService) RecentLookups(ctx context.Context, limit int) ([]scanlog.Entry, error) {
	if s.lookups == nil {
		return nil, domainerrors.Unavailable("lookup history is disabled")
	}
	return s.lookups.Recent(ctx, limit)
}

// ProductView is a product with its linked ingredients.
type ProductView struct {
	domain.Product
	Ingredients []*domain.Ingredient `json:"ingredients"`
}

// GetProduct returns a product with its ingredients.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*ProductView, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, p)
}

// ListProducts returns every product with its ingredients, ordered by name.
func (s *CatalogService) ListProducts(ctx context.Context) ([]*ProductView, error) {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*ProductView, 0, len(products))
	for _, p := range products {
		v, err := s.view(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ListProductsPage returns one page of products with their ingredients.
func (s *CatalogService) ListProductsPage(ctx context.Context, params store.PaginationParams) (*store.PaginatedResult[*ProductView], error) {
	page, err := s.store.ListProductsPage(ctx, params)
	if err != nil {
		return nil, err
	}
	out := &store.PaginatedResult[*ProductView]{
		Items:      make([]*ProductView, 0, len(page.Items)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
		Total:      page.Total,
	}
	for _, p := range page.Items {
		v, err := s.view(ctx, p)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, v)
	}
	return out, nil
}

func (s *CatalogService) view(ctx context.Context, p *domain.Product) (*ProductView, error) {
	ingredients, err := linkedIngredients(ctx, s.store, p.ID)
	if err != nil {
		return nil, err
	}
	return &ProductView{Product: *p, Ingredients: ingredients}, nil
}

// UpdateProductRequest contains the editable product fields. Nil fields are left unchanged.
type UpdateProductRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,notblank,max=200"`
	Brand    *string `json:"brand,omitempty" validate:"omitempty,max=200"`
	ImageRef *string `json:"imageRef,omitempty" validate:"omitempty,max=2048"`
}

// UpdateProduct edits a product's display fields. Any edit clears isNew.
func (s *CatalogService) UpdateProduct(ctx context.Context, id string, req UpdateProductRequest) (*ProductView, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	details := domain.ProductDetails{Name: trimmed(req.Name), Brand: trimmed(req.Brand), ImageRef: trimmed(req.ImageRef)}
	p, err := s.store.UpdateProductDetails(ctx, id, details)
	if err != nil {
		return nil, err
	}

	s.logger.Info("product updated", "id", id)
	return s.view(ctx, p)
}

// DeleteProduct removes a product and its links.
func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	if err := s.store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logger.Info("product deleted", "id", id)
	return nil
}

// SearchProducts runs a full-text product search.
func (s *CatalogService) SearchProducts(ctx context.Context, params search.SearchParams) (*search.SearchResult, error) {
	if s.searcher == nil {
		return nil, domainerrors.Unavailable("search is not available")
	}
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = search.DefaultSearchParams().Limit
	}
	return s.searcher.Search(ctx, params)
}

// linkedIngredients loads a product's ingredients, skipping dangling links.
func linkedIngredients(ctx context.Context, s *store.Store, productID string) ([]*domain.Ingredient, error) {
	ids, err := s.IngredientIDsForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Ingredient, 0, len(ids))
	for _, id := range ids {
		ing, err := s.GetIngredient(ctx, id)
		if errors.Is(err, store.ErrIngredientNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
