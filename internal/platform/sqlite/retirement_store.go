package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/store"
)

// RetirementStore is the coordinator's history store. It extends the plain
// HistoryStore so that retiring an acquisition also prunes the conversion
// sub-task row the pipeline leaves behind, in one transaction: either the
// task lands in history and its conversion record is gone, or neither.
// Without the prune, paused or terminal conversion rows would accumulate and
// a stale paused row could be resumed long after its task was cancelled.
type RetirementStore struct {
	*HistoryStore
	db          *sql.DB
	conversions *ConversionStore
}

// NewRetirementStore creates a RetirementStore over both tables.
func NewRetirementStore(db *sql.DB) *RetirementStore {
	return &RetirementStore{
		HistoryStore: NewHistoryStore(db),
		db:           db,
		conversions:  NewConversionStore(db),
	}
}

// Save appends the terminal task to history and deletes its conversion row,
// if the task ever enqueued one.
func (s *RetirementStore) Save(ctx context.Context, task *domain.Task) error {
	meta, ok := task.Meta.(*domain.AcquisitionMeta)
	if !ok || meta.ConvertID == "" {
		return s.HistoryStore.Save(ctx, task)
	}

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.HistoryStore.WithTx(tx).Save(ctx, task); err != nil {
			return err
		}
		err := s.conversions.WithTx(tx).Delete(ctx, meta.ConvertID)
		if errors.Is(err, store.ErrNotFound) {
			// Already pruned by an earlier retire of the same task.
			return nil
		}
		return err
	})
}
