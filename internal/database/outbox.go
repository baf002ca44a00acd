package database

import (
	"context"
	"fmt"
	"time"

	"tourbook/internal/models"
)

const outboxColumns = `id, event_type, target, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateOutboxTask(ctx context.Context, task *models.OutboxTask) error {
	now := time.Now().UTC()
	if task.Status == "" {
		task.Status = models.OutboxStatusPending
	}
	query := `INSERT INTO outbox (event_type, target, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	err := db.QueryRowxContext(ctx, db.Rebind(query),
		task.EventType,
		task.Target,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	).Scan(&task.ID)
	if err != nil {
		return classify("create outbox task", fmt.Errorf("failed to create outbox task: %w", err))
	}
	task.CreatedAt = now
	return nil
}

func (db *DB) GetOutboxTask(ctx context.Context, id int64) (*models.OutboxTask, error) {
	var t models.OutboxTask
	if err := db.GetContext(ctx, &t, db.Rebind(`SELECT `+outboxColumns+` FROM outbox WHERE id = ?`), id); err != nil {
		return nil, classify("get outbox task", fmt.Errorf("failed to get outbox task: %w", err))
	}
	return &t, nil
}

// GetPendingOutboxTasks returns tasks due for delivery, oldest first.
func (db *DB) GetPendingOutboxTasks(ctx context.Context, limit int) ([]*models.OutboxTask, error) {
	query := db.Rebind(`SELECT ` + outboxColumns + ` FROM outbox
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`)
	var tasks []*models.OutboxTask
	err := db.SelectContext(ctx, &tasks, query, models.OutboxStatusPending, models.OutboxStatusRetry, time.Now().UTC(), limit)
	if err != nil {
		return nil, classify("get pending outbox tasks", fmt.Errorf("failed to get pending outbox tasks: %w", err))
	}
	return tasks, nil
}

func (db *DB) UpdateOutboxTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var (
		query string
		args  []any
	)
	now := time.Now().UTC()

	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}

	switch status {
	case models.OutboxStatusRetry:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, id}
	case models.OutboxStatusCompleted, models.OutboxStatusFailed:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, now, id}
	default:
		query = `UPDATE outbox SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, db.Rebind(query), args...); err != nil {
		return classify("update outbox task", fmt.Errorf("failed to update outbox task status: %w", err))
	}
	return nil
}

// GetFailedOutboxTasks returns tasks that ran out of retries, newest first.
func (db *DB) GetFailedOutboxTasks(ctx context.Context) ([]*models.OutboxTask, error) {
	var tasks []*models.OutboxTask
	query := db.Rebind(`SELECT ` + outboxColumns + ` FROM outbox WHERE status = ? ORDER BY created_at DESC`)
	if err := db.SelectContext(ctx, &tasks, query, models.OutboxStatusFailed); err != nil {
		return nil, classify("get failed outbox tasks", fmt.Errorf("failed to get failed outbox tasks: %w", err))
	}
	return tasks, nil
}
