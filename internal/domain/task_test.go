package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	t.Run("creates pending task with identity", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(ClassAcquisition, "B00ITEM", PriorityUserAcquisition,
			&AcquisitionMeta{ItemID: "B00ITEM"})
		require.NoError(t, err)

		assert.Equal(t, TaskStatusPending, task.Status)
		assert.Equal(t, ClassAcquisition, task.Class)
		assert.Equal(t, "B00ITEM", task.BusinessKey())
		assert.NotEmpty(t, task.ID)
		assert.False(t, task.CreatedAt.IsZero())
		assert.True(t, task.StartedAt.IsZero())
	})

	t.Run("rejects unknown class", func(t *testing.T) {
		t.Parallel()

		_, err := NewTask(TaskClass("bogus"), "key", 0, nil)
		assert.ErrorIs(t, err, ErrTaskClassInvalid)
	})

	t.Run("IDs are unique across attempts for the same item", func(t *testing.T) {
		t.Parallel()

		a := NewTaskID(ClassAcquisition, "B00ITEM")
		b := NewTaskID(ClassAcquisition, "B00ITEM")
		assert.NotEqual(t, a, b)
	})
}

func TestTaskTransition(t *testing.T) {
	t.Parallel()

	t.Run("follows the state machine through a full lifecycle", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(ClassAcquisition, "B00ITEM", 10, &AcquisitionMeta{ItemID: "B00ITEM"})
		require.NoError(t, err)

		require.NoError(t, task.Transition(TaskStatusRunning))
		assert.False(t, task.StartedAt.IsZero())

		require.NoError(t, task.Transition(TaskStatusPaused))
		require.NoError(t, task.Transition(TaskStatusRunning))
		require.NoError(t, task.Transition(TaskStatusCompleted))
		assert.False(t, task.EndedAt.IsZero())
	})

	t.Run("rejects skipping pending to paused", func(t *testing.T) {
		t.Parallel()

		task, _ := NewTask(ClassCatalogSync, "catalog", 100, &SyncMeta{Kind: "catalog"})
		err := task.Transition(TaskStatusPaused)
		assert.ErrorIs(t, err, ErrTaskTransitionInvalid)
	})

	t.Run("rejects transitions out of terminal states", func(t *testing.T) {
		t.Parallel()

		for _, terminal := range []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled} {
			task, _ := NewTask(ClassAcquisition, "B00ITEM", 10, &AcquisitionMeta{ItemID: "B00ITEM"})
			require.NoError(t, task.Transition(TaskStatusRunning))
			require.NoError(t, task.Transition(terminal))

			err := task.Transition(TaskStatusRunning)
			assert.ErrorIs(t, err, ErrTaskTerminal, "from %s", terminal)
		}
	})

	t.Run("running start time is recorded once", func(t *testing.T) {
		t.Parallel()

		task, _ := NewTask(ClassAcquisition, "B00ITEM", 10, &AcquisitionMeta{ItemID: "B00ITEM"})
		require.NoError(t, task.Transition(TaskStatusRunning))
		first := task.StartedAt

		require.NoError(t, task.Transition(TaskStatusPaused))
		time.Sleep(time.Millisecond)
		require.NoError(t, task.Transition(TaskStatusRunning))

		assert.Equal(t, first, task.StartedAt)
	})
}

func TestTaskFail(t *testing.T) {
	t.Parallel()

	t.Run("records the first cause", func(t *testing.T) {
		t.Parallel()

		task, _ := NewTask(ClassAcquisition, "B00ITEM", 10, &AcquisitionMeta{ItemID: "B00ITEM"})
		require.NoError(t, task.Transition(TaskStatusRunning))

		task.Fail(errors.New("first cause"))
		assert.Equal(t, TaskStatusFailed, task.Status)
		assert.Equal(t, "first cause", task.Error)

		task.Fail(errors.New("second cause"))
		assert.Equal(t, "first cause", task.Error)
	})
}

func TestTaskClone(t *testing.T) {
	t.Parallel()

	task, _ := NewTask(ClassAcquisition, "B00ITEM", 10,
		&AcquisitionMeta{ItemID: "B00ITEM", Stage: StageDownloading})

	clone := task.Clone()
	cloneMeta := clone.Meta.(*AcquisitionMeta)
	cloneMeta.Stage = StageCopying

	assert.Equal(t, StageDownloading, task.Meta.(*AcquisitionMeta).Stage,
		"mutating a clone must not touch the original")
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusRunning.Terminal())
	assert.False(t, TaskStatusPaused.Terminal())
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusCancelled.Terminal())
}

func TestAcquisitionProgress(t *testing.T) {
	t.Parallel()

	meta := &AcquisitionMeta{BytesDone: 50, BytesTotal: 0}
	assert.Zero(t, meta.Progress(), "unknown total must not divide by zero")

	meta.BytesTotal = 200
	assert.InDelta(t, 25.0, meta.Progress(), 0.001)
}
