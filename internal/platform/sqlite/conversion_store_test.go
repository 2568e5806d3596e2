package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiarr/audiarr/internal/convert"
	"github.com/audiarr/audiarr/internal/store"
)

func subTask(id, itemID string, status convert.Status, createdAt time.Time) *convert.SubTask {
	return &convert.SubTask{
		ID:         id,
		ItemID:     itemID,
		Title:      "Title " + itemID,
		InputPath:  "/work/" + itemID + ".aaxc",
		OutputPath: "/work/" + itemID + ".m4b",
		Key:        "0011223344556677",
		IV:         "8899aabbccddeeff",
		Status:     status,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestConversionStoreSaveAndGet(t *testing.T) {
	t.Parallel()

	s := NewConversionStore(newTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	st := subTask("conv-1", "B00TEST", convert.StatusQueued, now)
	require.NoError(t, s.Save(ctx, st))

	got, err := s.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "B00TEST", got.ItemID)
	assert.Equal(t, convert.StatusQueued, got.Status)
	assert.Equal(t, "/work/B00TEST.aaxc", got.InputPath)
	assert.Equal(t, "0011223344556677", got.Key)
	assert.WithinDuration(t, now, got.CreatedAt, time.Second)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConversionStoreUpdate(t *testing.T) {
	t.Parallel()

	s := NewConversionStore(newTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	st := subTask("conv-1", "B00TEST", convert.StatusQueued, now)
	require.NoError(t, s.Save(ctx, st))

	st.Status = convert.StatusFailed
	st.PositionMs = 120000
	st.DurationMs = 3600000
	st.Error = "ffmpeg exited 1"
	st.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.Update(ctx, st))

	got, err := s.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, convert.StatusFailed, got.Status)
	assert.Equal(t, int64(120000), got.PositionMs)
	assert.Equal(t, "ffmpeg exited 1", got.Error)

	missing := subTask("ghost", "B00GHOST", convert.StatusQueued, now)
	assert.ErrorIs(t, s.Update(ctx, missing), store.ErrNotFound)
}

func TestConversionStoreNextQueued(t *testing.T) {
	t.Parallel()

	s := NewConversionStore(newTestDB(t))
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, s.Save(ctx, subTask("conv-new", "B00NEW", convert.StatusQueued, base.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, subTask("conv-old", "B00OLD", convert.StatusQueued, base)))
	require.NoError(t, s.Save(ctx, subTask("conv-done", "B00DONE", convert.StatusCompleted, base.Add(-time.Minute))))

	next, err := s.NextQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, "conv-old", next.ID, "oldest queued wins; terminal rows never surface")
}

func TestConversionStoreNextQueuedEmpty(t *testing.T) {
	t.Parallel()

	s := NewConversionStore(newTestDB(t))
	_, err := s.NextQueued(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConversionStoreDemoteConverting(t *testing.T) {
	t.Parallel()

	s := NewConversionStore(newTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.Save(ctx, subTask("conv-1", "B001", convert.StatusConverting, now)))
	require.NoError(t, s.Save(ctx, subTask("conv-2", "B002", convert.StatusConverting, now)))
	require.NoError(t, s.Save(ctx, subTask("conv-3", "B003", convert.StatusPaused, now)))

	demoted, err := s.DemoteConverting(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), demoted)

	for _, id := range []string{"conv-1", "conv-2"} {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, convert.StatusQueued, got.Status)
	}

	paused, err := s.Get(ctx, "conv-3")
	require.NoError(t, err)
	assert.Equal(t, convert.StatusPaused, paused.Status, "paused rows are deliberate, not orphans")
}

func TestConversionStoreDelete(t *testing.T) {
	t.Parallel()

	s := NewConversionStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, subTask("conv-1", "B00TEST", convert.StatusCompleted, time.Now().UTC())))
	require.NoError(t, s.Delete(ctx, "conv-1"))

	_, err := s.Get(ctx, "conv-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "conv-1"), store.ErrNotFound)
}

func TestConversionStoreList(t *testing.T) {
	t.Parallel()

	s := NewConversionStore(newTestDB(t))
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"conv-a", "conv-b", "conv-c"} {
		require.NoError(t, s.Save(ctx,
			subTask(id, "B00"+id, convert.StatusQueued, base.Add(time.Duration(i)*time.Second))))
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "conv-a", all[0].ID)
	assert.Equal(t, "conv-c", all[2].ID)
}
