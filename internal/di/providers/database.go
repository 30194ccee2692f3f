package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/purescanapp/purescan-server/internal/config"
	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/scanlog"
	"github.com/purescanapp/purescan-server/internal/sse"
	"github.com/purescanapp/purescan-server/internal/store"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Manager.Shutdown(ctx)
	h.cancel()
	return err
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.Component("sse"))

	// Start in background
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the database store. Write events are wired to listeners by
// ProvideRecomputeWorker once both the worker and the SSE manager exist.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	dbPath := cfg.Data.StorePath()
	db, err := store.New(dbPath, log.Component("store"), nil)
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", "path", dbPath)

	return &StoreHandle{Store: db}, nil
}

// ScanLogHandle wraps the lookup history database with shutdown capability.
type ScanLogHandle struct {
	*scanlog.Log
}

// Shutdown implements do.Shutdownable.
func (h *ScanLogHandle) Shutdown() error {
	return h.Close()
}

// ProvideScanLog provides the SQLite lookup history.
func ProvideScanLog(i do.Injector) (*ScanLogHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	path := cfg.Data.ScanLogPath()
	l, err := scanlog.Open(path, log.Component("scanlog"))
	if err != nil {
		return nil, err
	}

	log.Info("Lookup history opened", "path", path)

	return &ScanLogHandle{Log: l}, nil
}
