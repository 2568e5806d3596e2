package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/audiarr/audiarr/internal/convert"
	"github.com/audiarr/audiarr/internal/platform/logger"
	"github.com/audiarr/audiarr/internal/store"
)

// ConversionStore implements convert.Store on the conversions table.
type ConversionStore struct {
	db store.DBTX
}

// Interface conformance check.
var _ convert.Store = (*ConversionStore)(nil)

// NewConversionStore creates a ConversionStore on the given connection or
// transaction.
func NewConversionStore(db store.DBTX) *ConversionStore {
	return &ConversionStore{db: db}
}

// WithTx returns a ConversionStore bound to the provided transaction.
func (s *ConversionStore) WithTx(tx *sql.Tx) *ConversionStore {
	return &ConversionStore{db: tx}
}

const conversionColumns = `
	id, item_id, title, input_path, output_path, key, iv,
	status, position_ms, duration_ms, error, created_at, updated_at
`

// Save inserts a new conversion sub-task.
func (s *ConversionStore) Save(ctx context.Context, st *convert.SubTask) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO conversions (` + conversionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		st.ID, st.ItemID, st.Title, st.InputPath, st.OutputPath, st.Key, st.IV,
		string(st.Status), st.PositionMs, st.DurationMs, st.Error,
		st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save conversion sub-task",
			"sub_task_id", st.ID,
			"error", err)
		return fmt.Errorf("failed to save conversion: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a sub-task.
func (s *ConversionStore) Update(ctx context.Context, st *convert.SubTask) error {
	query := `
		UPDATE conversions
		SET status = ?, position_ms = ?, duration_ms = ?, error = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(st.Status), st.PositionMs, st.DurationMs, st.Error, st.UpdatedAt, st.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversion: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated conversion rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: conversion %s", store.ErrNotFound, st.ID)
	}
	return nil
}

// Get returns one sub-task by ID.
func (s *ConversionStore) Get(ctx context.Context, id string) (*convert.SubTask, error) {
	query := `SELECT ` + conversionColumns + ` FROM conversions WHERE id = ?`
	st, err := scanConversion(s.db.QueryRowContext(ctx, query, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return st, err
}

// NextQueued returns the oldest queued sub-task.
func (s *ConversionStore) NextQueued(ctx context.Context) (*convert.SubTask, error) {
	query := `
		SELECT ` + conversionColumns + `
		FROM conversions
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT 1
	`
	st, err := scanConversion(
		s.db.QueryRowContext(ctx, query, string(convert.StatusQueued)).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return st, err
}

// Delete removes a sub-task's row. Used by task retirement: once the owning
// task is terminal, the conversion record has nothing left to recover.
func (s *ConversionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversion: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted conversion rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: conversion %s", store.ErrNotFound, id)
	}
	return nil
}

// DemoteConverting resets interrupted conversions back to queued.
func (s *ConversionStore) DemoteConverting(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversions SET status = ? WHERE status = ?`,
		string(convert.StatusQueued), string(convert.StatusConverting))
	if err != nil {
		return 0, fmt.Errorf("failed to demote interrupted conversions: %w", err)
	}
	return result.RowsAffected()
}

// List returns all sub-tasks, oldest first.
func (s *ConversionStore) List(ctx context.Context) ([]*convert.SubTask, error) {
	query := `SELECT ` + conversionColumns + ` FROM conversions ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*convert.SubTask
	for rows.Next() {
		st, err := scanConversion(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversions: %w", err)
	}
	return out, nil
}

func scanConversion(scan func(dest ...any) error) (*convert.SubTask, error) {
	var (
		st     convert.SubTask
		status string
	)
	err := scan(
		&st.ID, &st.ItemID, &st.Title, &st.InputPath, &st.OutputPath, &st.Key, &st.IV,
		&status, &st.PositionMs, &st.DurationMs, &st.Error, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Status = convert.Status(status)
	return &st, nil
}
