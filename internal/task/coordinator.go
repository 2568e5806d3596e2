package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/events"
	"github.com/audiarr/audiarr/internal/metrics"
	"github.com/audiarr/audiarr/internal/store"
)

// Config holds coordinator tuning knobs.
type Config struct {
	// TickInterval is how often the admission loop advances the queue.
	TickInterval time.Duration

	// AcquisitionLimit caps concurrently running acquisition pipelines.
	// Each pipeline competes for network and storage bandwidth, so the
	// default is deliberately small. The other classes are singletons.
	AcquisitionLimit int

	// HistoryMaxAge is how long retired tasks stay queryable before the
	// age sweep removes them.
	HistoryMaxAge time.Duration

	// HistorySweepInterval is how often the age sweep runs.
	HistorySweepInterval time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:         time.Second,
		AcquisitionLimit:     3,
		HistoryMaxAge:        30 * 24 * time.Hour,
		HistorySweepInterval: time.Hour,
	}
}

// capFor returns the admission cap for a class. Everything except
// acquisition runs as a singleton: never two concurrent catalog syncs.
func (c Config) capFor(class domain.TaskClass) int {
	if class == domain.ClassAcquisition {
		if c.AcquisitionLimit > 0 {
			return c.AcquisitionLimit
		}
		return 3
	}
	return 1
}

// HistoryStore persists retired tasks across restarts.
type HistoryStore interface {
	Save(ctx context.Context, task *domain.Task) error
	Get(ctx context.Context, taskID string) (*domain.Task, error)
	List(ctx context.Context, limit int) ([]*domain.Task, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// RecoveryLoader reconciles external-engine state with the coordinator's
// tables on start, before the first admission tick.
type RecoveryLoader interface {
	Recover(ctx context.Context) error
}

// EnqueueSpec describes one task to enqueue.
type EnqueueSpec struct {
	Class       domain.TaskClass
	BusinessKey string
	Priority    int
	Meta        domain.Metadata
}

// Coordinator is the orchestrator's top level: it owns the priority queue,
// the active and history tables, per-class admission control, and the tick
// loop that dispatches admitted tasks to their workers. It is constructed
// explicitly and passed by reference, so tests build a fresh instance each.
type Coordinator struct {
	cfg     Config
	bus     *events.Bus
	history HistoryStore
	metrics *metrics.Metrics
	logger  *slog.Logger

	workers map[domain.TaskClass]Worker
	loader  RecoveryLoader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex   sync.Mutex
	started bool
	stopped bool
	queue   *priorityQueue
	active  map[string]*Handle
	running map[domain.TaskClass]int
}

// New creates a Coordinator. Workers are registered afterwards, before
// Start.
func New(
	cfg Config,
	bus *events.Bus,
	history HistoryStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Coordinator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.HistorySweepInterval <= 0 {
		cfg.HistorySweepInterval = time.Hour
	}
	if cfg.HistoryMaxAge <= 0 {
		cfg.HistoryMaxAge = 30 * 24 * time.Hour
	}

	return &Coordinator{
		cfg:     cfg,
		bus:     bus,
		history: history,
		metrics: m,
		logger:  logger.With("component", "coordinator"),
		workers: make(map[domain.TaskClass]Worker),
		queue:   newPriorityQueue(),
		active:  make(map[string]*Handle),
		running: make(map[domain.TaskClass]int),
	}
}

// RegisterWorker installs the worker for its class, replacing any previous
// registration.
func (c *Coordinator) RegisterWorker(w Worker) {
	c.workers[w.Class()] = w
}

// SetRecoveryLoader installs the recovery pass run by Start.
func (c *Coordinator) SetRecoveryLoader(loader RecoveryLoader) {
	c.loader = loader
}

// Start runs the recovery loader and then the admission tick loop. It
// returns once the loop is running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mutex.Lock()
	if c.started {
		c.mutex.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mutex.Unlock()

	if c.loader != nil {
		if err := c.loader.Recover(c.ctx); err != nil {
			return fmt.Errorf("recovery failed: %w", err)
		}
	}

	c.wg.Add(1)
	go c.tickLoop()

	c.logger.Info("coordinator started",
		"tick_interval", c.cfg.TickInterval,
		"acquisition_limit", c.cfg.capFor(domain.ClassAcquisition))
	return nil
}

// Stop cancels the tick loop and waits for in-flight dispatch goroutines to
// observe the cancellation. Persisted state is left untouched: transfers
// managed by the external engine keep running, and the in-memory tables are
// rebuilt by recovery on the next Start.
func (c *Coordinator) Stop() {
	c.mutex.Lock()
	if !c.started || c.stopped {
		c.mutex.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mutex.Unlock()

	cancel()
	c.wg.Wait()
	c.logger.Info("coordinator stopped")
}

// Enqueue inserts a task into the priority queue. When a task with the same
// class and business key is already queued or active, the call is a no-op
// returning the existing task's ID. Enqueue never blocks on admission.
func (c *Coordinator) Enqueue(ctx context.Context, spec EnqueueSpec) (string, error) {
	task, err := domain.NewTask(spec.Class, spec.BusinessKey, spec.Priority, spec.Meta)
	if err != nil {
		return "", err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing := c.findLive(spec.Class, spec.BusinessKey); existing != "" {
		c.logger.Debug("enqueue deduplicated against live task",
			"class", spec.Class,
			"business_key", spec.BusinessKey,
			"existing_id", existing)
		return existing, nil
	}

	c.queue.Push(task)
	c.observeQueueDepth()

	c.logger.Info("task enqueued",
		"task_id", task.ID,
		"class", task.Class,
		"priority", task.Priority)
	return task.ID, nil
}

// findLive returns the ID of a queued or active task matching class and
// business key, or "". Caller holds the mutex.
func (c *Coordinator) findLive(class domain.TaskClass, businessKey string) string {
	if t := c.queue.Find(class, businessKey); t != nil {
		return t.ID
	}
	for _, h := range c.active {
		if h.task.Class == class && h.task.BusinessKey() == businessKey {
			return h.task.ID
		}
	}
	return ""
}

// GetTask returns a snapshot of a task by ID, consulting the queue, the
// active table, and then history. Safe to call from any goroutine.
func (c *Coordinator) GetTask(ctx context.Context, taskID string) (domain.Task, bool) {
	c.mutex.Lock()
	if t := c.queue.Get(taskID); t != nil {
		out := t.Clone()
		c.mutex.Unlock()
		return out, true
	}
	if h, ok := c.active[taskID]; ok {
		out := h.task.Clone()
		c.mutex.Unlock()
		return out, true
	}
	c.mutex.Unlock()

	retired, err := c.history.Get(ctx, taskID)
	if err != nil {
		return domain.Task{}, false
	}
	return *retired, true
}

// ActiveTasks returns snapshots of all running and paused tasks, oldest
// first. Safe to call from any goroutine.
func (c *Coordinator) ActiveTasks() []domain.Task {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	out := make([]domain.Task, 0, len(c.active))
	for _, h := range c.active {
		out = append(out, h.task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// QueuedTasks returns snapshots of all pending tasks, best priority first.
func (c *Coordinator) QueuedTasks() []domain.Task {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	out := make([]domain.Task, 0, c.queue.Len())
	for _, t := range c.queue.All() {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// History returns retired tasks, newest first, up to limit.
func (c *Coordinator) History(ctx context.Context, limit int) ([]*domain.Task, error) {
	return c.history.List(ctx, limit)
}

// Pause suspends a running task. Returns false when the ID is unknown, the
// task is not running, or its worker has no pause semantics.
func (c *Coordinator) Pause(ctx context.Context, taskID string) bool {
	h, worker := c.lookupActive(taskID)
	if h == nil {
		return false
	}
	pauser, ok := worker.(Pauser)
	if !ok {
		return false
	}

	if !pauser.Pause(ctx, h) {
		return false
	}

	c.mutex.Lock()
	if h.task.Status != domain.TaskStatusRunning {
		c.mutex.Unlock()
		return false
	}
	if err := h.task.Transition(domain.TaskStatusPaused); err != nil {
		c.mutex.Unlock()
		return false
	}
	c.running[h.task.Class]--
	c.observeActive(h.task.Class)
	c.mutex.Unlock()

	// The worker observes the interrupt at its next poll boundary; the
	// paused status is already visible to it and to observers.
	h.signal(domain.TaskStatusPaused)
	h.Emit(events.TaskPaused)

	c.logger.Info("task paused", "task_id", taskID)
	return true
}

// Resume restarts a paused task. Returns false when the ID is unknown, the
// task is not paused, the worker declines, or the class is at its admission
// cap (the freed slot has been taken; retry after a pipeline finishes).
func (c *Coordinator) Resume(ctx context.Context, taskID string) bool {
	h, worker := c.lookupActive(taskID)
	if h == nil {
		return false
	}
	pauser, ok := worker.(Pauser)
	if !ok {
		return false
	}

	// Decline before touching external state: a declined resume must not
	// leave an engine transfer running with nobody monitoring it.
	c.mutex.Lock()
	if h.task.Status != domain.TaskStatusPaused {
		c.mutex.Unlock()
		return false
	}
	if c.running[h.task.Class] >= c.cfg.capFor(h.task.Class) {
		c.mutex.Unlock()
		c.logger.Warn("resume declined, class at admission cap",
			"task_id", taskID,
			"class", h.task.Class)
		return false
	}
	c.mutex.Unlock()

	if !pauser.Resume(ctx, h) {
		return false
	}

	c.mutex.Lock()
	if h.task.Status != domain.TaskStatusPaused ||
		c.running[h.task.Class] >= c.cfg.capFor(h.task.Class) {
		// Lost the race between the check and the worker resume; put the
		// external work back on hold.
		c.mutex.Unlock()
		pauser.Pause(ctx, h)
		return false
	}
	if err := h.task.Transition(domain.TaskStatusRunning); err != nil {
		c.mutex.Unlock()
		return false
	}
	c.running[h.task.Class]++
	c.observeActive(h.task.Class)
	c.mutex.Unlock()

	h.Emit(events.TaskResumed)
	c.dispatch(h)

	c.logger.Info("task resumed", "task_id", taskID)
	return true
}

// Cancel aborts a task in any non-terminal state. Returns false when the ID
// is unknown or already terminal.
func (c *Coordinator) Cancel(ctx context.Context, taskID string) bool {
	// Queued tasks never started; they retire directly.
	c.mutex.Lock()
	if t := c.queue.Remove(taskID); t != nil {
		_ = t.Transition(domain.TaskStatusCancelled)
		c.observeQueueDepth()
		snapshot := t.Clone()
		c.mutex.Unlock()
		c.retire(snapshot)
		return true
	}
	c.mutex.Unlock()

	h, worker := c.lookupActive(taskID)
	if h == nil {
		return false
	}

	if canceller, ok := worker.(Canceller); ok {
		if !canceller.Cancel(ctx, h) {
			return false
		}
	}

	c.mutex.Lock()
	switch h.task.Status {
	case domain.TaskStatusPaused:
		// No run goroutine to settle; retire here.
		if err := h.task.Transition(domain.TaskStatusCancelled); err != nil {
			c.mutex.Unlock()
			return false
		}
		delete(c.active, h.task.ID)
		snapshot := h.task.Clone()
		c.mutex.Unlock()
		c.retire(snapshot)
		return true
	case domain.TaskStatusRunning:
		c.mutex.Unlock()
		// The run goroutine observes the intent and settles the task.
		h.signal(domain.TaskStatusCancelled)
		return true
	default:
		c.mutex.Unlock()
		return false
	}
}

// lookupActive returns the handle and owning worker for an active task.
func (c *Coordinator) lookupActive(taskID string) (*Handle, Worker) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	h, ok := c.active[taskID]
	if !ok {
		return nil, nil
	}
	return h, c.workers[h.task.Class]
}

// tickLoop advances the queue on a fixed interval and sweeps aged history.
func (c *Coordinator) tickLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	sweeper := time.NewTicker(c.cfg.HistorySweepInterval)
	defer sweeper.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("tick loop stopping")
			return
		case <-ticker.C:
			c.admit()
		case <-sweeper.C:
			if _, err := c.history.DeleteOlderThan(c.ctx, c.cfg.HistoryMaxAge); err != nil {
				c.logger.Error("history sweep failed", "error", err)
			}
		}
	}
}

// admit pops admissible tasks off the queue head and dispatches them. When
// the head's class is at its cap, admission stops for this tick rather than
// skipping ahead: that preserves priority ordering at the cost of a short
// head-of-line block, which is acceptable because ticks are cheap and
// frequent.
func (c *Coordinator) admit() {
	start := time.Now()

	for {
		c.mutex.Lock()
		head := c.queue.Peek()
		if head == nil {
			c.mutex.Unlock()
			break
		}
		if c.running[head.Class] >= c.cfg.capFor(head.Class) {
			c.mutex.Unlock()
			break
		}

		task := c.queue.Pop()
		c.observeQueueDepth()

		worker, ok := c.workers[task.Class]
		if !ok {
			task.Fail(fmt.Errorf("no worker registered for class %s", task.Class))
			snapshot := task.Clone()
			c.mutex.Unlock()
			c.retire(snapshot)
			continue
		}

		if err := task.Transition(domain.TaskStatusRunning); err != nil {
			c.mutex.Unlock()
			c.logger.Error("failed to admit task", "task_id", task.ID, "error", err)
			continue
		}

		h := &Handle{coord: c, task: task}
		c.active[task.ID] = h
		c.running[task.Class]++
		c.observeActive(task.Class)
		c.mutex.Unlock()

		h.Emit(events.TaskStarted)
		c.logger.Info("task admitted",
			"task_id", task.ID,
			"class", task.Class,
			"worker", fmt.Sprintf("%T", worker))
		c.dispatch(h)
	}

	if c.metrics != nil {
		c.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// dispatch runs the task's worker on its own goroutine, so a slow pipeline
// never stalls the tick loop or sibling tasks.
func (c *Coordinator) dispatch(h *Handle) {
	worker := c.workers[h.task.Class]

	runCtx, cancel := context.WithCancel(c.ctx)
	gen := h.setRun(cancel)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		var runErr error
		func() {
			defer func() {
				if p := recover(); p != nil {
					runErr = fmt.Errorf("worker panic: %v", p)
				}
			}()
			runErr = worker.Run(runCtx, h)
		}()

		c.settle(h, gen, runErr)
	}()
}

// settle decides a finished run's disposition and retires the task. A task
// whose status is paused stays in the active table with its slot already
// freed; everything else retires into history.
func (c *Coordinator) settle(h *Handle, gen uint64, runErr error) {
	c.mutex.Lock()

	if gen != h.runGen() {
		// A resume re-dispatched the task before this run's goroutine wound
		// down. The newer run owns the task now; its own settle accounts for
		// the slot and the disposition.
		c.mutex.Unlock()
		return
	}

	if c.stopped && !h.task.Status.Terminal() {
		// Shutdown interrupted the run. Leave the task alone: engine-side
		// work survives, and recovery rebuilds the table on next start.
		c.mutex.Unlock()
		return
	}

	if h.task.Status == domain.TaskStatusPaused {
		c.mutex.Unlock()
		return
	}

	if !h.task.Status.Terminal() {
		switch {
		case h.Intent() == domain.TaskStatusCancelled:
			_ = h.task.Transition(domain.TaskStatusCancelled)
		case runErr != nil:
			h.task.Fail(runErr)
		default:
			_ = h.task.Transition(domain.TaskStatusCompleted)
		}
	}

	c.running[h.task.Class]--
	c.observeActive(h.task.Class)
	delete(c.active, h.task.ID)
	snapshot := h.task.Clone()
	c.mutex.Unlock()

	c.retire(snapshot)
}

// retire publishes the terminal event and appends the task to history.
func (c *Coordinator) retire(snapshot domain.Task) {
	var evType events.EventType
	switch snapshot.Status {
	case domain.TaskStatusCompleted:
		evType = events.TaskCompleted
	case domain.TaskStatusFailed:
		evType = events.TaskFailed
	case domain.TaskStatusCancelled:
		evType = events.TaskCancelled
	default:
		c.logger.Error("refusing to retire non-terminal task",
			"task_id", snapshot.ID,
			"status", snapshot.Status)
		return
	}

	ev := events.New(evType, &snapshot)
	c.bus.Publish(ev)

	if c.metrics != nil {
		c.metrics.TasksRetired.
			WithLabelValues(string(snapshot.Class), string(snapshot.Status)).
			Inc()
	}

	// Scrub key material before the record becomes long-lived.
	if meta, ok := snapshot.Meta.(*domain.AcquisitionMeta); ok {
		meta.Key = ""
		meta.IV = ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch err := c.history.Save(ctx, &snapshot); {
	case errors.Is(err, store.ErrDuplicate):
		// Already recorded by an earlier retire of the same task ID.
		c.logger.Debug("retired task already in history", "task_id", snapshot.ID)
	case err != nil:
		c.logger.Error("failed to persist retired task",
			"task_id", snapshot.ID,
			"error", err)
	}

	c.logger.Info("task retired",
		"task_id", snapshot.ID,
		"status", snapshot.Status,
		"error", snapshot.Error)
}

// insertRecovered places a rebuilt task directly into the active table,
// used only by the recovery loader before the tick loop starts. Running
// tasks take an admission slot; paused ones do not.
func (c *Coordinator) insertRecovered(task *domain.Task) *Handle {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	h := &Handle{coord: c, task: task}
	c.active[task.ID] = h
	if task.Status == domain.TaskStatusRunning {
		c.running[task.Class]++
		c.observeActive(task.Class)
	}
	return h
}

// observeQueueDepth updates the queue depth gauge. Caller holds the mutex.
func (c *Coordinator) observeQueueDepth() {
	if c.metrics != nil {
		c.metrics.QueueDepth.Set(float64(c.queue.Len()))
	}
}

// observeActive updates the active gauge for a class. Caller holds the
// mutex.
func (c *Coordinator) observeActive(class domain.TaskClass) {
	if c.metrics != nil {
		c.metrics.ActiveTasks.
			WithLabelValues(string(class)).
			Set(float64(c.running[class]))
	}
}
