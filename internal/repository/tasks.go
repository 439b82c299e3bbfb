package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/models"
)

// EnqueueTask inserts a durable outbox task
func (r *Repository) EnqueueTask(ctx context.Context, t *models.Task) error {
	query := `
		INSERT INTO market.tasks (id, task_type, payload, attempts, max_attempts, next_run_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		t.ID, t.TaskType, t.Payload, t.MaxAttempts, t.NextRunAt, t.Status).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// ListDueTasks returns pending tasks whose next run time has passed
func (r *Repository) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	query := `
		SELECT id, task_type, payload, attempts, max_attempts, next_run_at, status, COALESCE(last_error, ''), created_at, updated_at
		FROM market.tasks
		WHERE status = $1 AND next_run_at <= $2
		ORDER BY next_run_at LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, models.TaskStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t := &models.Task{}
		err := rows.Scan(&t.ID, &t.TaskType, &t.Payload, &t.Attempts, &t.MaxAttempts,
			&t.NextRunAt, &t.Status, &t.LastError, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkTaskDone completes a task
func (r *Repository) MarkTaskDone(ctx context.Context, id string) error {
	query := `UPDATE market.tasks SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, models.TaskStatusDone, id); err != nil {
		return fmt.Errorf("failed to mark task done: %w", err)
	}
	return nil
}

// RescheduleTask records a failed attempt and the next run time
func (r *Repository) RescheduleTask(ctx context.Context, id string, attempts int, nextRun time.Time, lastErr string) error {
	query := `
		UPDATE market.tasks
		SET attempts = $1, next_run_at = $2, last_error = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $4`
	if _, err := r.db.ExecContext(ctx, query, attempts, nextRun, lastErr, id); err != nil {
		return fmt.Errorf("failed to reschedule task: %w", err)
	}
	return nil
}

// MarkTaskManual flags a task whose retries are exhausted for operator attention
func (r *Repository) MarkTaskManual(ctx context.Context, id string, lastErr string) error {
	query := `
		UPDATE market.tasks
		SET status = $1, last_error = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, models.TaskStatusManual, lastErr, id); err != nil {
		return fmt.Errorf("failed to mark task manual: %w", err)
	}
	return nil
}
