package task

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/audiarr/audiarr/internal/catalog"
	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/engine"
	"github.com/audiarr/audiarr/internal/events"
)

// Loader rebuilds acquisition tasks for transfers that survived a process
// restart inside the download engine. The engine owns transfer persistence;
// the orchestrator's in-memory tables are gone, so each surviving sub-task
// is mapped back to its catalog item and re-adopted before the first
// admission tick. Decryption keys are never persisted, so a re-adopted
// pipeline negotiates its license again when it reaches the decrypt stage.
type Loader struct {
	coord  *Coordinator
	engine engine.Engine
	cat    catalog.Catalog
	logger *slog.Logger
}

// NewLoader wires a Loader.
func NewLoader(coord *Coordinator, eng engine.Engine, cat catalog.Catalog, logger *slog.Logger) *Loader {
	return &Loader{
		coord:  coord,
		engine: eng,
		cat:    cat,
		logger: logger.With("component", "recovery"),
	}
}

// Recover implements RecoveryLoader. Running transfers re-enter the active
// table holding an admission slot; paused transfers re-enter paused, holding
// none. Terminal sub-tasks are left to the engine's own bookkeeping: the
// tasks that owned them already retired into history before the restart, or
// never will.
func (l *Loader) Recover(ctx context.Context) error {
	statuses, err := l.engine.List(ctx,
		engine.StateQueued, engine.StateTransferring, engine.StatePaused)
	if err != nil {
		return fmt.Errorf("failed to list surviving transfers: %w", err)
	}

	seen := make(map[string]bool)
	for _, st := range statuses {
		itemID := itemIDFromDestination(st.Destination)
		if itemID == "" {
			l.logger.Warn("surviving transfer has no usable destination, skipping",
				"sub_task_id", st.SubTaskID,
				"destination", st.Destination)
			continue
		}
		if seen[itemID] {
			l.logger.Warn("duplicate surviving transfer for item, skipping",
				"sub_task_id", st.SubTaskID,
				"item_id", itemID)
			continue
		}
		seen[itemID] = true

		if err := l.adopt(ctx, st, itemID); err != nil {
			l.logger.Error("failed to adopt surviving transfer",
				"sub_task_id", st.SubTaskID,
				"item_id", itemID,
				"error", err)
		}
	}

	l.logger.Info("recovery finished", "adopted", len(seen))
	return nil
}

// adopt rebuilds one acquisition task around a surviving transfer.
func (l *Loader) adopt(ctx context.Context, st engine.Status, itemID string) error {
	meta := &domain.AcquisitionMeta{
		ItemID:       itemID,
		Stage:        domain.StageDownloading,
		SubTaskID:    st.SubTaskID,
		DownloadPath: st.Destination,
		BytesDone:    st.BytesDone,
		BytesTotal:   st.BytesTotal,
	}
	if item, err := l.cat.Item(ctx, itemID); err == nil {
		meta.Title = item.Title
	}
	meta.Percentage = meta.Progress()

	task, err := domain.NewTask(
		domain.ClassAcquisition, itemID, domain.PriorityUserAcquisition, meta)
	if err != nil {
		return err
	}

	if err := task.Transition(domain.TaskStatusRunning); err != nil {
		return err
	}
	paused := st.State == engine.StatePaused
	if paused {
		if err := task.Transition(domain.TaskStatusPaused); err != nil {
			return err
		}
	}

	h := l.coord.insertRecovered(task)

	if paused {
		l.logger.Info("adopted paused transfer",
			"task_id", task.ID, "sub_task_id", st.SubTaskID)
		return nil
	}

	h.Emit(events.TaskResumed)
	l.coord.dispatch(h)
	l.logger.Info("adopted running transfer",
		"task_id", task.ID, "sub_task_id", st.SubTaskID)
	return nil
}

// itemIDFromDestination recovers the catalog item ID from a transfer's
// destination path. Download destinations are always workdir/<itemID>.<ext>.
func itemIDFromDestination(dest string) string {
	base := filepath.Base(dest)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
