package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/audiarr/audiarr/internal/catalog"
	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/events"
)

// CatalogSyncWorker refreshes the item catalog from the upstream service.
// Catalog syncs are singletons: admission never runs two concurrently.
type CatalogSyncWorker struct {
	cat    catalog.Catalog
	logger *slog.Logger
}

// NewCatalogSyncWorker wires a CatalogSyncWorker.
func NewCatalogSyncWorker(cat catalog.Catalog, logger *slog.Logger) *CatalogSyncWorker {
	return &CatalogSyncWorker{
		cat:    cat,
		logger: logger.With("component", "catalog_sync_worker"),
	}
}

// Class implements Worker.
func (w *CatalogSyncWorker) Class() domain.TaskClass { return domain.ClassCatalogSync }

// Run implements Worker.
func (w *CatalogSyncWorker) Run(ctx context.Context, h *Handle) error {
	count, err := w.cat.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("catalog refresh failed: %w", err)
	}

	h.Update(func(t *domain.Task) {
		if meta, ok := t.Meta.(*domain.SyncMeta); ok {
			meta.ItemsSeen = count
		}
	})

	w.logger.Info("catalog refreshed", "task_id", h.ID(), "items", count)
	h.Emit(events.CatalogRefreshed)
	return nil
}

// CredentialRefresher renews the upstream session credentials before they
// expire. The platform layer supplies the implementation.
type CredentialRefresher interface {
	Refresh(ctx context.Context) error
}

// CredentialRefreshWorker runs the recurring credential renewal. Like
// catalog sync, it is a singleton class.
type CredentialRefreshWorker struct {
	refresher CredentialRefresher
	logger    *slog.Logger
}

// NewCredentialRefreshWorker wires a CredentialRefreshWorker.
func NewCredentialRefreshWorker(r CredentialRefresher, logger *slog.Logger) *CredentialRefreshWorker {
	return &CredentialRefreshWorker{
		refresher: r,
		logger:    logger.With("component", "credential_refresh_worker"),
	}
}

// Class implements Worker.
func (w *CredentialRefreshWorker) Class() domain.TaskClass { return domain.ClassCredentialRefresh }

// Run implements Worker.
func (w *CredentialRefreshWorker) Run(ctx context.Context, h *Handle) error {
	if err := w.refresher.Refresh(ctx); err != nil {
		return fmt.Errorf("credential refresh failed: %w", err)
	}
	w.logger.Info("credentials refreshed", "task_id", h.ID())
	return nil
}

// ScheduleConfig holds the recurring job cadences. A zero interval disables
// that job.
type ScheduleConfig struct {
	CatalogSyncInterval       time.Duration
	CredentialRefreshInterval time.Duration
	PolicyScanInterval        time.Duration
}

// Scheduler enqueues the recurring singleton tasks on fixed intervals. The
// coordinator's live-task deduplication makes overlapping fires harmless: a
// tick that lands while the previous run is still queued or running is a
// no-op.
type Scheduler struct {
	coord  *Coordinator
	cfg    ScheduleConfig
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler wires a Scheduler.
func NewScheduler(coord *Coordinator, cfg ScheduleConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		coord:  coord,
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
	}
}

// Start launches the interval loop. Each enabled job also fires once
// shortly after startup, so a long interval does not delay the first sync.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
}

// Stop halts the interval loop.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	fire := func(spec EnqueueSpec) {
		if _, err := s.coord.Enqueue(ctx, spec); err != nil {
			s.logger.Warn("failed to enqueue recurring task",
				"class", spec.Class, "error", err)
		}
	}

	catalogSpec := func() EnqueueSpec {
		return EnqueueSpec{
			Class:       domain.ClassCatalogSync,
			BusinessKey: "catalog",
			Priority:    domain.PriorityRecurring,
			Meta:        &domain.SyncMeta{Kind: "catalog"},
		}
	}
	credentialSpec := func() EnqueueSpec {
		return EnqueueSpec{
			Class:       domain.ClassCredentialRefresh,
			BusinessKey: "credentials",
			Priority:    domain.PriorityRecurring,
			Meta:        &domain.SyncMeta{Kind: "credentials"},
		}
	}
	scanSpec := func() EnqueueSpec {
		return EnqueueSpec{
			Class:       domain.ClassPolicyScan,
			BusinessKey: "policy-scan",
			Priority:    domain.PriorityRecurring,
			Meta:        &domain.ScanMeta{},
		}
	}

	tick := func(interval time.Duration) <-chan time.Time {
		if interval <= 0 {
			return nil
		}
		t := time.NewTicker(interval)
		go func() {
			<-ctx.Done()
			t.Stop()
		}()
		return t.C
	}

	catalogC := tick(s.cfg.CatalogSyncInterval)
	credentialC := tick(s.cfg.CredentialRefreshInterval)
	scanC := tick(s.cfg.PolicyScanInterval)

	if catalogC != nil {
		fire(catalogSpec())
	}
	if credentialC != nil {
		fire(credentialSpec())
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-catalogC:
			fire(catalogSpec())
		case <-credentialC:
			fire(credentialSpec())
		case <-scanC:
			fire(scanSpec())
		}
	}
}
