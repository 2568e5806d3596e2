package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiarr/audiarr/internal/domain"
)

func queuedTask(t *testing.T, itemID string, priority int) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.ClassAcquisition, itemID, priority,
		&domain.AcquisitionMeta{ItemID: itemID})
	require.NoError(t, err)
	return task
}

func TestPriorityQueueOrdering(t *testing.T) {
	t.Parallel()

	q := newPriorityQueue()
	q.Push(queuedTask(t, "recurring", domain.PriorityRecurring))
	q.Push(queuedTask(t, "policy", domain.PriorityPolicyAcquisition))
	q.Push(queuedTask(t, "user", domain.PriorityUserAcquisition))

	assert.Equal(t, "user", q.Pop().BusinessKey())
	assert.Equal(t, "policy", q.Pop().BusinessKey())
	assert.Equal(t, "recurring", q.Pop().BusinessKey())
	assert.Nil(t, q.Pop())
}

func TestPriorityQueueFIFOWithinPriority(t *testing.T) {
	t.Parallel()

	q := newPriorityQueue()
	for _, id := range []string{"first", "second", "third"} {
		q.Push(queuedTask(t, id, domain.PriorityPolicyAcquisition))
	}

	assert.Equal(t, "first", q.Pop().BusinessKey())
	assert.Equal(t, "second", q.Pop().BusinessKey())
	assert.Equal(t, "third", q.Pop().BusinessKey())
}

func TestPriorityQueuePeekDoesNotRemove(t *testing.T) {
	t.Parallel()

	q := newPriorityQueue()
	assert.Nil(t, q.Peek())

	q.Push(queuedTask(t, "only", 10))
	assert.Equal(t, "only", q.Peek().BusinessKey())
	assert.Equal(t, 1, q.Len())
}

func TestPriorityQueueRemove(t *testing.T) {
	t.Parallel()

	q := newPriorityQueue()
	keep := queuedTask(t, "keep", 10)
	drop := queuedTask(t, "drop", 10)
	q.Push(keep)
	q.Push(drop)

	removed := q.Remove(drop.ID)
	require.NotNil(t, removed)
	assert.Equal(t, drop.ID, removed.ID)
	assert.Nil(t, q.Remove(drop.ID))
	assert.Nil(t, q.Get(drop.ID))

	assert.Equal(t, keep.ID, q.Pop().ID)
}

func TestPriorityQueueFind(t *testing.T) {
	t.Parallel()

	q := newPriorityQueue()
	q.Push(queuedTask(t, "B00ITEM", 10))

	assert.NotNil(t, q.Find(domain.ClassAcquisition, "B00ITEM"))
	assert.Nil(t, q.Find(domain.ClassAcquisition, "other"))
	assert.Nil(t, q.Find(domain.ClassPolicyScan, "B00ITEM"))
}
