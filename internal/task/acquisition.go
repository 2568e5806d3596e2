package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/audiarr/audiarr/internal/catalog"
	"github.com/audiarr/audiarr/internal/convert"
	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/engine"
	"github.com/audiarr/audiarr/internal/events"
	"github.com/audiarr/audiarr/internal/license"
	"github.com/audiarr/audiarr/internal/media"
	"github.com/audiarr/audiarr/internal/metrics"
)

// defaultPollInterval is how often the acquisition worker polls the download
// engine for transfer progress.
const defaultPollInterval = 2 * time.Second

// AcquisitionWorker drives the full acquisition pipeline for one catalog
// item: license negotiation, the engine-managed download, decryption through
// the conversion queue, integrity validation, and placement into the
// library. The pipeline records its position in the task's metadata after
// every stage boundary, so a re-dispatched task (after pause/resume or a
// process restart) re-enters where it left off instead of starting over.
type AcquisitionWorker struct {
	engine    engine.Engine
	license   license.Service
	conv      *convert.Queue
	validator *media.Validator
	library   Library
	catalog   catalog.Catalog
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// WorkDir holds in-flight artifacts (encrypted payloads and decrypted
	// outputs awaiting validation).
	WorkDir string

	// PollInterval overrides the engine poll cadence, used by tests.
	PollInterval time.Duration
}

// NewAcquisitionWorker wires an AcquisitionWorker.
func NewAcquisitionWorker(
	eng engine.Engine,
	lic license.Service,
	conv *convert.Queue,
	validator *media.Validator,
	lib Library,
	cat catalog.Catalog,
	m *metrics.Metrics,
	logger *slog.Logger,
	workDir string,
) *AcquisitionWorker {
	return &AcquisitionWorker{
		engine:    eng,
		license:   lic,
		conv:      conv,
		validator: validator,
		library:   lib,
		catalog:   cat,
		metrics:   m,
		logger:    logger.With("component", "acquisition_worker"),
		WorkDir:   workDir,
	}
}

// Class implements Worker.
func (w *AcquisitionWorker) Class() domain.TaskClass { return domain.ClassAcquisition }

// Run implements Worker. It resumes from the recorded stage and runs the
// remaining stages in order.
func (w *AcquisitionWorker) Run(ctx context.Context, h *Handle) error {
	meta := h.Acquisition()
	if meta == nil {
		return fmt.Errorf("acquisition task %s has no acquisition metadata", h.ID())
	}

	log := w.logger.With("task_id", h.ID(), "item_id", meta.ItemID)

	stage := meta.Stage
	if stage == "" {
		stage = domain.StageDownloading
	}

	switch stage {
	case domain.StageDownloading:
		if err := w.runDownload(ctx, h, log); err != nil {
			return err
		}
		fallthrough
	case domain.StageDecrypting:
		if err := w.runDecrypt(ctx, h, log); err != nil {
			return err
		}
		fallthrough
	case domain.StageValidating:
		if err := w.runValidate(ctx, h, log); err != nil {
			return err
		}
		fallthrough
	case domain.StageCopying:
		return w.runPlace(ctx, h, log)
	default:
		return fmt.Errorf("unknown acquisition stage %q", stage)
	}
}

// runDownload negotiates the license (unless a transfer already exists),
// submits the transfer, and monitors it to completion.
func (w *AcquisitionWorker) runDownload(ctx context.Context, h *Handle, log *slog.Logger) error {
	h.SetStage(domain.StageDownloading)
	meta := h.Acquisition()

	if meta.SubTaskID == "" {
		lic, err := w.license.Negotiate(ctx, meta.ItemID)
		if err != nil {
			// License denial is not retryable within this task; the
			// pipeline fails and a later attempt is a new task.
			return fmt.Errorf("license negotiation failed for %s: %w", meta.ItemID, err)
		}

		dest := w.downloadPath(meta.ItemID, lic.ContentURL)
		subTaskID, err := w.engine.Submit(ctx, engine.Request{
			URL:          lic.ContentURL,
			Destination:  dest,
			ExpectedSize: lic.ExpectedSize,
			Headers:      lic.Headers,
		})
		if err != nil {
			return fmt.Errorf("failed to submit transfer for %s: %w", meta.ItemID, err)
		}

		h.Update(func(t *domain.Task) {
			m := t.Meta.(*domain.AcquisitionMeta)
			m.SubTaskID = subTaskID
			m.DownloadPath = dest
			m.Key = lic.Key
			m.IV = lic.IV
			m.BytesTotal = lic.ExpectedSize
		})
		log.Info("transfer submitted", "sub_task_id", subTaskID, "destination", dest)
	}

	return w.monitorTransfer(ctx, h, log)
}

// monitorTransfer polls the engine until the transfer reaches a terminal
// state, mirroring byte counters into the task metadata as it goes.
func (w *AcquisitionWorker) monitorTransfer(ctx context.Context, h *Handle, log *slog.Logger) error {
	interval := w.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	subTaskID := h.Acquisition().SubTaskID
	var lastDone int64 = h.Acquisition().BytesDone

	for {
		st, err := w.engine.Status(ctx, subTaskID)
		if err != nil {
			return fmt.Errorf("failed to poll transfer %s: %w", subTaskID, err)
		}

		switch st.State {
		case engine.StateCompleted:
			w.recordBytes(h, st, &lastDone)
			log.Info("transfer completed", "sub_task_id", subTaskID, "bytes", st.BytesDone)
			return nil
		case engine.StateFailed:
			return fmt.Errorf("transfer %s failed: %s", subTaskID, st.Err)
		case engine.StateCancelled:
			// Cancelled engine-side, out of band or by our own cancel
			// hook. Either way the task is cancelled, not failed.
			h.Update(func(t *domain.Task) {
				_ = t.Transition(domain.TaskStatusCancelled)
			})
			w.cleanupArtifacts(h)
			return nil
		case engine.StateTransferring, engine.StateQueued, engine.StatePaused:
			w.recordBytes(h, st, &lastDone)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// recordBytes mirrors engine byte counters into the task and publishes a
// progress event when the counters moved.
func (w *AcquisitionWorker) recordBytes(h *Handle, st engine.Status, lastDone *int64) {
	if st.BytesDone == *lastDone && st.BytesDone != st.BytesTotal {
		return
	}

	delta := st.BytesDone - *lastDone
	if delta > 0 && w.metrics != nil {
		w.metrics.DownloadBytes.Add(float64(delta))
	}
	*lastDone = st.BytesDone

	var pct float64
	h.Update(func(t *domain.Task) {
		m := t.Meta.(*domain.AcquisitionMeta)
		m.BytesDone = st.BytesDone
		if st.BytesTotal > 0 {
			m.BytesTotal = st.BytesTotal
		}
		m.Percentage = m.Progress()
		pct = m.Percentage
	})

	h.EmitProgress(events.DownloadProgress, events.Progress{
		BytesDone:  st.BytesDone,
		BytesTotal: st.BytesTotal,
		Percentage: pct,
	})
}

// runDecrypt hands the encrypted payload to the conversion queue and waits
// for the result. After a restart the key material is gone (it is never
// persisted), so the license is negotiated again first.
func (w *AcquisitionWorker) runDecrypt(ctx context.Context, h *Handle, log *slog.Logger) error {
	h.SetStage(domain.StageDecrypting)
	meta := h.Acquisition()

	if meta.ConvertID == "" {
		if meta.Key == "" {
			lic, err := w.license.Negotiate(ctx, meta.ItemID)
			if err != nil {
				return fmt.Errorf("license re-negotiation failed for %s: %w", meta.ItemID, err)
			}
			h.Update(func(t *domain.Task) {
				m := t.Meta.(*domain.AcquisitionMeta)
				m.Key = lic.Key
				m.IV = lic.IV
			})
			meta = h.Acquisition()
		}

		outputPath := w.outputPath(meta.ItemID)
		convertID, err := w.conv.Enqueue(ctx, convert.Spec{
			ItemID:     meta.ItemID,
			Title:      meta.Title,
			InputPath:  meta.DownloadPath,
			OutputPath: outputPath,
			Key:        meta.Key,
			IV:         meta.IV,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue decrypt for %s: %w", meta.ItemID, err)
		}

		h.Update(func(t *domain.Task) {
			m := t.Meta.(*domain.AcquisitionMeta)
			m.ConvertID = convertID
			m.OutputPath = outputPath
		})
		log.Info("decrypt enqueued", "convert_id", convertID)
		meta = h.Acquisition()
	}

	st, err := w.conv.Wait(ctx, meta.ConvertID)
	if err != nil {
		return err
	}

	switch st.Status {
	case convert.StatusCompleted:
		log.Info("decrypt completed", "convert_id", st.ID)
		return nil
	case convert.StatusFailed:
		return fmt.Errorf("decrypt of %s failed: %s", meta.ItemID, st.Error)
	case convert.StatusCancelled:
		h.Update(func(t *domain.Task) {
			_ = t.Transition(domain.TaskStatusCancelled)
		})
		w.cleanupArtifacts(h)
		return nil
	default:
		return fmt.Errorf("decrypt of %s ended in unexpected status %s", meta.ItemID, st.Status)
	}
}

// runValidate checks the decrypted artifact for corruption. A corrupt
// artifact fails the task and removes the intermediates, so the next attempt
// starts clean.
func (w *AcquisitionWorker) runValidate(ctx context.Context, h *Handle, log *slog.Logger) error {
	h.SetStage(domain.StageValidating)
	meta := h.Acquisition()

	if err := w.validator.Validate(ctx, meta.OutputPath); err != nil {
		var corrupt *media.CorruptionError
		if errors.As(err, &corrupt) {
			log.Warn("integrity validation rejected artifact",
				"path", meta.OutputPath,
				"decode_errors", corrupt.Total)
			w.cleanupArtifacts(h)
		}
		return fmt.Errorf("validation of %s failed: %w", meta.ItemID, err)
	}

	log.Info("integrity validation passed", "path", meta.OutputPath)
	return nil
}

// runPlace copies the validated artifact into the library, removes the
// intermediates, and marks the catalog item acquired.
func (w *AcquisitionWorker) runPlace(ctx context.Context, h *Handle, log *slog.Logger) error {
	h.SetStage(domain.StageCopying)
	meta := h.Acquisition()

	item, err := w.catalog.Item(ctx, meta.ItemID)
	if err != nil {
		// Place with what the task knows; a missing catalog row should not
		// discard a fully validated book.
		item = catalog.Item{ID: meta.ItemID, Title: meta.Title}
	}

	finalPath, err := w.library.Place(ctx, item, meta.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to place %s into library: %w", meta.ItemID, err)
	}

	w.cleanupArtifacts(h)

	h.Update(func(t *domain.Task) {
		m := t.Meta.(*domain.AcquisitionMeta)
		m.FinalPath = finalPath
		m.Percentage = 100
	})

	if err := w.catalog.MarkAcquired(ctx, meta.ItemID); err != nil {
		// Best effort: the book is on disk either way, and the next
		// catalog sync reconciles the flag.
		log.Warn("failed to mark item acquired", "error", err)
	}

	log.Info("acquisition finished", "final_path", finalPath)
	return nil
}

// Pause implements Pauser. Only the downloading and decrypting stages hold
// interruptible external work; validation and copying finish in seconds and
// decline.
func (w *AcquisitionWorker) Pause(ctx context.Context, h *Handle) bool {
	meta := h.Acquisition()
	if meta == nil {
		return false
	}

	switch meta.Stage {
	case domain.StageDownloading:
		if meta.SubTaskID == "" {
			return false
		}
		if err := w.engine.Pause(ctx, meta.SubTaskID); err != nil {
			var terminal *engine.TerminalStateError
			if errors.As(err, &terminal) {
				// Finished between polls; nothing to pause. The monitor
				// loop observes the terminal state and moves on.
				return false
			}
			w.logger.Warn("engine pause failed", "sub_task_id", meta.SubTaskID, "error", err)
			return false
		}
		return true
	case domain.StageDecrypting:
		if meta.ConvertID == "" {
			return false
		}
		if err := w.conv.Pause(ctx, meta.ConvertID); err != nil {
			w.logger.Warn("conversion pause failed", "convert_id", meta.ConvertID, "error", err)
			return false
		}
		return true
	default:
		return false
	}
}

// Resume implements Pauser. A transfer that completed while paused resumes
// successfully: the re-dispatched run observes the terminal engine state and
// carries the pipeline forward.
func (w *AcquisitionWorker) Resume(ctx context.Context, h *Handle) bool {
	meta := h.Acquisition()
	if meta == nil {
		return false
	}

	switch meta.Stage {
	case domain.StageDownloading:
		if err := w.engine.Resume(ctx, meta.SubTaskID); err != nil {
			var terminal *engine.TerminalStateError
			if errors.As(err, &terminal) {
				return true
			}
			w.logger.Warn("engine resume failed", "sub_task_id", meta.SubTaskID, "error", err)
			return false
		}
		return true
	case domain.StageDecrypting:
		if err := w.conv.Resume(ctx, meta.ConvertID); err != nil {
			w.logger.Warn("conversion resume failed", "convert_id", meta.ConvertID, "error", err)
			return false
		}
		return true
	default:
		// Paused metadata in a non-pausable stage should not happen; let
		// the run re-enter and finish.
		return true
	}
}

// Cancel implements Canceller. It aborts the external work and removes the
// pipeline's local artifacts. Cleanup cannot be left to the run goroutine: a
// running monitor usually exits on its cancelled context before it ever
// observes the engine's cancelled state, and a paused task has no run
// goroutine at all.
func (w *AcquisitionWorker) Cancel(ctx context.Context, h *Handle) bool {
	meta := h.Acquisition()
	if meta == nil {
		return false
	}

	if meta.SubTaskID != "" {
		if err := w.engine.Cancel(ctx, meta.SubTaskID); err != nil {
			w.logger.Warn("engine cancel failed", "sub_task_id", meta.SubTaskID, "error", err)
		}
	}
	if meta.ConvertID != "" {
		if err := w.conv.Cancel(ctx, meta.ConvertID); err != nil && !errors.Is(err, convert.ErrSubTaskUnknown) {
			w.logger.Warn("conversion cancel failed", "convert_id", meta.ConvertID, "error", err)
		}
	}

	w.cleanupArtifacts(h)
	return true
}

// cleanupArtifacts removes the pipeline's intermediate files. The final
// library copy, once placed, is never touched.
func (w *AcquisitionWorker) cleanupArtifacts(h *Handle) {
	meta := h.Acquisition()
	if meta == nil {
		return
	}
	for _, p := range []string{meta.DownloadPath, meta.OutputPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("failed to remove artifact", "path", p, "error", err)
		}
	}
}

// downloadPath builds the engine destination for an item. The file name is
// the item ID plus the payload's extension, which recovery relies on to map
// surviving transfers back to items.
func (w *AcquisitionWorker) downloadPath(itemID, contentURL string) string {
	ext := ".aaxc"
	if u, err := url.Parse(contentURL); err == nil {
		if e := path.Ext(u.Path); e != "" {
			ext = e
		}
	}
	return filepath.Join(w.WorkDir, itemID+ext)
}

// outputPath builds the decrypted artifact path for an item.
func (w *AcquisitionWorker) outputPath(itemID string) string {
	return filepath.Join(w.WorkDir, itemID+".m4b")
}
