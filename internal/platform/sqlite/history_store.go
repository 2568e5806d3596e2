package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/platform/logger"
	"github.com/audiarr/audiarr/internal/store"
)

// HistoryStore persists retired tasks. History rows are append-only: a task
// is written exactly once, on its terminal transition, and removed only by
// the age-based sweep.
type HistoryStore struct {
	db store.DBTX
}

// NewHistoryStore creates a HistoryStore on the given connection or
// transaction.
func NewHistoryStore(db store.DBTX) *HistoryStore {
	return &HistoryStore{db: db}
}

// WithTx returns a HistoryStore bound to the provided transaction.
func (s *HistoryStore) WithTx(tx *sql.Tx) *HistoryStore {
	return &HistoryStore{db: tx}
}

// Save appends a terminal task to history.
func (s *HistoryStore) Save(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if !task.Status.Terminal() {
		return fmt.Errorf("refusing to retire non-terminal task %s (%s)", task.ID, task.Status)
	}

	meta, err := domain.MarshalMeta(task.Meta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO task_history (id, class, priority, status, meta, error, created_at, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var startedAt any
	if !task.StartedAt.IsZero() {
		startedAt = task.StartedAt
	}

	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		string(task.Class),
		task.Priority,
		string(task.Status),
		meta,
		task.Error,
		task.CreatedAt,
		startedAt,
		task.EndedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: task %s", store.ErrDuplicate, task.ID)
		}
		log.Error("failed to save task history row",
			"task_id", task.ID,
			"error", err)
		return fmt.Errorf("failed to save task history: %w", err)
	}

	return nil
}

// Get returns one retired task by ID.
func (s *HistoryStore) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	query := `
		SELECT id, class, priority, status, meta, error, created_at, started_at, ended_at
		FROM task_history
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, taskID)

	task, err := scanHistoryRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return task, err
}

// List returns retired tasks, newest first, up to limit (0 means no limit).
func (s *HistoryStore) List(ctx context.Context, limit int) ([]*domain.Task, error) {
	query := `
		SELECT id, class, priority, status, meta, error, created_at, started_at, ended_at
		FROM task_history
		ORDER BY ended_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list task history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Task
	for rows.Next() {
		task, err := scanHistoryRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task history: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes history rows whose terminal transition is older
// than the cutoff and returns how many were removed.
func (s *HistoryStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	log := logger.FromContext(ctx)

	cutoff := time.Now().UTC().Add(-age)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM task_history WHERE ended_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep task history: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept history rows: %w", err)
	}
	if removed > 0 {
		log.Debug("swept aged task history", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// scanHistoryRow lifts one task_history row into a domain task.
func scanHistoryRow(scan func(dest ...any) error) (*domain.Task, error) {
	var (
		task      domain.Task
		class     string
		status    string
		meta      []byte
		startedAt sql.NullTime
	)

	err := scan(
		&task.ID,
		&class,
		&task.Priority,
		&status,
		&meta,
		&task.Error,
		&task.CreatedAt,
		&startedAt,
		&task.EndedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Class = domain.TaskClass(class)
	task.Status = domain.TaskStatus(status)
	if startedAt.Valid {
		task.StartedAt = startedAt.Time
	}

	task.Meta, err = domain.UnmarshalMeta(task.Class, meta)
	if err != nil {
		return nil, err
	}
	return &task, nil
}
