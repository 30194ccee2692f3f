package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/purescanapp/purescan-server/internal/config"
	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/recompute"
	"github.com/purescanapp/purescan-server/internal/store"
)

// RecomputeWorkerHandle wraps the score recompute worker with shutdown capability.
type RecomputeWorkerHandle struct {
	*recompute.Worker
}

// Shutdown implements do.Shutdownable.
func (h *RecomputeWorkerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Worker.Shutdown(ctx)
}

// ProvideRecomputeWorker provides the safety score recompute worker and subscribes it, with
// the SSE manager, to store write events.
func ProvideRecomputeWorker(i do.Injector) (*RecomputeWorkerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	workerLog := log.Component("recompute")
	engine := recompute.NewEngine(storeHandle.Store, workerLog)
	w := recompute.NewWorker(engine, recompute.WorkerConfig{
		Workers:   cfg.Recompute.Workers,
		QueueSize: cfg.Recompute.QueueSize,
	}, workerLog)

	w.Start(context.Background())
	storeHandle.SetEmitter(store.FanOut{w, sseHandle.Manager})

	return &RecomputeWorkerHandle{Worker: w}, nil
}

// LookupPruneJob periodically deletes lookup history past its retention.
type LookupPruneJob struct {
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (j *LookupPruneJob) Shutdown() error {
	j.cancel()
	return nil
}

// ProvideLookupPruneJob provides the periodic lookup history cleanup job.
func ProvideLookupPruneJob(i do.Injector) (*LookupPruneJob, error) {
	cfg := do.MustInvoke[*config.Config](i)
	scanLog := do.MustInvoke[*ScanLogHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	ctx, cancel := context.WithCancel(context.Background())

	retention := cfg.Catalog.LookupRetention
	if retention == 0 {
		log.Info("Lookup history retention disabled")
		return &LookupPruneJob{cancel: cancel}, nil
	}

	jobLog := log.WithField("retention", retention.String())
	prune := func() {
		count, err := scanLog.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			jobLog.WithError(err).Warn("Lookup history cleanup failed")
		} else if count > 0 {
			jobLog.Info("Lookup history cleanup completed", "deleted", count)
		}
	}

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		// Initial cleanup on startup
		prune()

		for {
			select {
			case <-ticker.C:
				prune()
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Lookup history cleanup job started", "retention", retention)

	return &LookupPruneJob{cancel: cancel}, nil
}
