package providers

import (
	"github.com/samber/do/v2"

	"github.com/purescanapp/purescan-server/internal/config"
	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/service"
)

// ProvideCatalogService provides the lookup and product service.
func ProvideCatalogService(i do.Injector) (*service.CatalogService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	scanLog := do.MustInvoke[*ScanLogHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewCatalogService(storeHandle.Store, service.CatalogOptions{
		Searcher:         indexHandle.SearchIndex,
		Lookups:          scanLog.Log,
		Logger:           log.Component("catalog"),
		ProvisionUnknown: cfg.Catalog.ProvisionUnknown,
	}), nil
}

// ProvideIngredientService provides the ingredient service.
func ProvideIngredientService(i do.Injector) (*service.IngredientService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewIngredientService(storeHandle.Store, log.Component("ingredients")), nil
}
