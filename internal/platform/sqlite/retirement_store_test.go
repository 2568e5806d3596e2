package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiarr/audiarr/internal/convert"
	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/store"
)

// retiredAcquisition builds a terminal acquisition task bound to a
// conversion sub-task.
func retiredAcquisition(t *testing.T, itemID, convertID string) *domain.Task {
	t.Helper()

	task := retiredTask(t, itemID, domain.TaskStatusCompleted)
	task.Meta.(*domain.AcquisitionMeta).ConvertID = convertID
	return task
}

func TestRetirementStorePrunesConversionRow(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := NewRetirementStore(db)
	conversions := NewConversionStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, conversions.Save(ctx,
		subTask("conv-1", "B00TEST", convert.StatusCompleted, now)))

	task := retiredAcquisition(t, "B00TEST", "conv-1")
	require.NoError(t, s.Save(ctx, task))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)

	_, err = conversions.Get(ctx, "conv-1")
	assert.ErrorIs(t, err, store.ErrNotFound,
		"the retired task's conversion row must not linger")
}

func TestRetirementStoreWithoutConversion(t *testing.T) {
	t.Parallel()

	s := NewRetirementStore(newTestDB(t))
	ctx := context.Background()

	task := retiredTask(t, "B00TEST", domain.TaskStatusFailed)
	require.NoError(t, s.Save(ctx, task))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
}

func TestRetirementStoreToleratesMissingConversionRow(t *testing.T) {
	t.Parallel()

	s := NewRetirementStore(newTestDB(t))
	ctx := context.Background()

	// Cancelled mid-pipeline: the queue may never have persisted the row, or
	// an earlier retire already pruned it.
	task := retiredAcquisition(t, "B00TEST", "conv-ghost")
	require.NoError(t, s.Save(ctx, task))

	_, err := s.Get(ctx, task.ID)
	assert.NoError(t, err)
}

func TestRetirementStoreRollsBackOnDuplicate(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	s := NewRetirementStore(db)
	conversions := NewConversionStore(db)
	ctx := context.Background()

	first := retiredTask(t, "B00TEST", domain.TaskStatusCompleted)
	require.NoError(t, s.Save(ctx, first))

	now := time.Now().UTC()
	require.NoError(t, conversions.Save(ctx,
		subTask("conv-1", "B00TEST", convert.StatusCompleted, now)))

	duplicate := retiredAcquisition(t, "B00TEST", "conv-1")
	duplicate.ID = first.ID
	require.ErrorIs(t, s.Save(ctx, duplicate), store.ErrDuplicate)

	// The history insert failed, so the prune rolled back with it.
	_, err := conversions.Get(ctx, "conv-1")
	assert.NoError(t, err)
}
