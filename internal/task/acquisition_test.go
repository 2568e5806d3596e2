package task

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiarr/audiarr/internal/catalog"
	"github.com/audiarr/audiarr/internal/convert"
	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/engine"
	"github.com/audiarr/audiarr/internal/license"
	"github.com/audiarr/audiarr/internal/media"
	"github.com/audiarr/audiarr/internal/store"
)

// memConvStore is an in-memory convert.Store for pipeline tests.
type memConvStore struct {
	mu    sync.Mutex
	order []string
	tasks map[string]convert.SubTask
}

func newMemConvStore() *memConvStore {
	return &memConvStore{tasks: make(map[string]convert.SubTask)}
}

func (m *memConvStore) Save(ctx context.Context, st *convert.SubTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, st.ID)
	m.tasks[st.ID] = *st
	return nil
}

func (m *memConvStore) Update(ctx context.Context, st *convert.SubTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[st.ID]; !ok {
		return store.ErrNotFound
	}
	m.tasks[st.ID] = *st
	return nil
}

func (m *memConvStore) Get(ctx context.Context, id string) (*convert.SubTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := st
	return &out, nil
}

func (m *memConvStore) NextQueued(ctx context.Context) (*convert.SubTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if st := m.tasks[id]; st.Status == convert.StatusQueued {
			out := st
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memConvStore) List(ctx context.Context) ([]*convert.SubTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*convert.SubTask, 0, len(m.order))
	for _, id := range m.order {
		st := m.tasks[id]
		out = append(out, &st)
	}
	return out, nil
}

func (m *memConvStore) DemoteConverting(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, st := range m.tasks {
		if st.Status == convert.StatusConverting {
			st.Status = convert.StatusQueued
			m.tasks[id] = st
			n++
		}
	}
	return n, nil
}

// acquisitionHarness wires a full pipeline against in-memory collaborators.
type acquisitionHarness struct {
	coord   *Coordinator
	history *memHistory
	eng     *engine.MockEngine
	lic     *license.MockService
	cat     *catalog.MockCatalog
	tool    *media.MockTool
	workDir string
	libDir  string
}

func newAcquisitionHarness(t *testing.T) *acquisitionHarness {
	t.Helper()

	h := &acquisitionHarness{
		eng:     engine.NewMockEngine(),
		lic:     license.NewMockService(),
		cat:     catalog.NewMockCatalog(catalog.Item{ID: "B00TEST", Title: "The Stand", Author: "Stephen King"}),
		tool:    media.NewMockTool(),
		workDir: t.TempDir(),
		libDir:  t.TempDir(),
	}

	// The decrypt step materializes its output, which validation and
	// placement then consume.
	converter := convert.NewMockConverter()
	converter.ConvertFn = func(ctx context.Context, st *convert.SubTask, progress func(convert.Progress)) error {
		return os.WriteFile(st.OutputPath, []byte("decoded audio"), 0o600)
	}

	queue := convert.NewQueue(newMemConvStore(), converter, testLogger(), nil)
	require.NoError(t, queue.Start(context.Background()))
	t.Cleanup(queue.Stop)

	validator := media.NewValidator(h.tool, testLogger())
	library := NewFSLibrary(h.libDir)

	worker := NewAcquisitionWorker(
		h.eng, h.lic, queue, validator, library, h.cat, nil, testLogger(), h.workDir)
	worker.PollInterval = 5 * time.Millisecond

	h.coord, h.history, _ = newTestCoordinator(t, Config{AcquisitionLimit: 3})
	h.coord.RegisterWorker(worker)
	require.NoError(t, h.coord.Start(context.Background()))
	t.Cleanup(h.coord.Stop)

	return h
}

// waitSubTask blocks until the task has submitted its transfer and returns
// the engine sub-task ID.
func (h *acquisitionHarness) waitSubTask(t *testing.T, taskID string) string {
	t.Helper()
	var subTaskID string
	require.Eventually(t, func() bool {
		task, ok := h.coord.GetTask(context.Background(), taskID)
		if !ok {
			return false
		}
		meta, ok := task.Meta.(*domain.AcquisitionMeta)
		if !ok || meta.SubTaskID == "" {
			return false
		}
		subTaskID = meta.SubTaskID
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return subTaskID
}

func TestAcquisitionHappyPath(t *testing.T) {
	t.Parallel()

	h := newAcquisitionHarness(t)
	ctx := context.Background()

	taskID, err := h.coord.Enqueue(ctx, acquisitionSpec("B00TEST", domain.PriorityUserAcquisition))
	require.NoError(t, err)

	subTaskID := h.waitSubTask(t, taskID)
	h.eng.AdvanceBytes(subTaskID, 1<<20, 1<<20)

	waitStatus(t, h.coord, taskID, domain.TaskStatusCompleted)

	retired, err := h.history.Get(ctx, taskID)
	require.NoError(t, err)
	meta := retired.Meta.(*domain.AcquisitionMeta)

	finalPath := filepath.Join(h.libDir, "Stephen King", "The Stand.m4b")
	assert.Equal(t, finalPath, meta.FinalPath)
	assert.FileExists(t, finalPath)
	assert.InDelta(t, 100.0, meta.Percentage, 0.001)

	// Intermediates are gone and key material never reaches history.
	assert.NoFileExists(t, filepath.Join(h.workDir, "B00TEST.m4b"))
	assert.Empty(t, meta.Key)
	assert.Empty(t, meta.IV)

	item, err := h.cat.Item(ctx, "B00TEST")
	require.NoError(t, err)
	assert.True(t, item.Acquired)

	assert.Equal(t, []string{"B00TEST"}, h.lic.Requests(),
		"license is negotiated exactly once on the happy path")
}

func TestAcquisitionCorruptArtifactFails(t *testing.T) {
	t.Parallel()

	h := newAcquisitionHarness(t)
	ctx := context.Background()

	outputPath := filepath.Join(h.workDir, "B00TEST.m4b")
	h.tool.InjectErrors(outputPath, 30*time.Second, 60)

	taskID, err := h.coord.Enqueue(ctx, acquisitionSpec("B00TEST", domain.PriorityUserAcquisition))
	require.NoError(t, err)

	subTaskID := h.waitSubTask(t, taskID)
	h.eng.AdvanceBytes(subTaskID, 1<<20, 1<<20)

	waitStatus(t, h.coord, taskID, domain.TaskStatusFailed)

	retired, err := h.history.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Contains(t, retired.Error, "validation")

	// The corrupt artifact must not linger for the next attempt.
	assert.NoFileExists(t, outputPath)

	item, err := h.cat.Item(ctx, "B00TEST")
	require.NoError(t, err)
	assert.False(t, item.Acquired)
}

func TestAcquisitionLicenseDenied(t *testing.T) {
	t.Parallel()

	h := newAcquisitionHarness(t)
	h.lic.NegotiateFn = func(ctx context.Context, itemID string) (*license.License, error) {
		return nil, license.ErrDenied
	}

	ctx := context.Background()
	taskID, err := h.coord.Enqueue(ctx, acquisitionSpec("B00TEST", domain.PriorityUserAcquisition))
	require.NoError(t, err)

	waitStatus(t, h.coord, taskID, domain.TaskStatusFailed)

	retired, err := h.history.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Contains(t, retired.Error, "license negotiation failed")
}

func TestAcquisitionResumeAfterTransferCompletedWhilePaused(t *testing.T) {
	t.Parallel()

	h := newAcquisitionHarness(t)
	ctx := context.Background()

	taskID, err := h.coord.Enqueue(ctx, acquisitionSpec("B00TEST", domain.PriorityUserAcquisition))
	require.NoError(t, err)
	subTaskID := h.waitSubTask(t, taskID)

	require.True(t, h.coord.Pause(ctx, taskID))
	waitStatus(t, h.coord, taskID, domain.TaskStatusPaused)

	// The engine finishes the transfer while the task sits paused. Resume
	// must reconcile rather than fail on the terminal sub-task.
	h.eng.AdvanceBytes(subTaskID, 1<<20, 1<<20)

	require.True(t, h.coord.Resume(ctx, taskID))
	waitStatus(t, h.coord, taskID, domain.TaskStatusCompleted)

	retired, err := h.history.Get(ctx, taskID)
	require.NoError(t, err)
	meta := retired.Meta.(*domain.AcquisitionMeta)
	assert.FileExists(t, meta.FinalPath)
}

func TestAcquisitionCancelDuringDownload(t *testing.T) {
	t.Parallel()

	h := newAcquisitionHarness(t)
	ctx := context.Background()

	taskID, err := h.coord.Enqueue(ctx, acquisitionSpec("B00TEST", domain.PriorityUserAcquisition))
	require.NoError(t, err)
	h.waitSubTask(t, taskID)

	// The engine has written part of the payload by the time the user
	// cancels.
	task, ok := h.coord.GetTask(ctx, taskID)
	require.True(t, ok)
	downloadPath := task.Meta.(*domain.AcquisitionMeta).DownloadPath
	require.NotEmpty(t, downloadPath)
	require.NoError(t, os.WriteFile(downloadPath, []byte("partial payload"), 0o600))

	require.True(t, h.coord.Cancel(ctx, taskID))
	waitStatus(t, h.coord, taskID, domain.TaskStatusCancelled)

	retired, err := h.history.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Empty(t, retired.Error)

	// The partial payload is gone with the task.
	assert.NoFileExists(t, downloadPath)

	// The engine-side transfer is gone too.
	st, err := h.eng.Status(ctx, retired.Meta.(*domain.AcquisitionMeta).SubTaskID)
	require.NoError(t, err)
	assert.Equal(t, engine.StateCancelled, st.State)
}
