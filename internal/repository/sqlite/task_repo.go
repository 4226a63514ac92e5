package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/repository"
)

// TaskRepo implements [repository.TaskRepository] backed by SQLite.
type TaskRepo struct {
	DB *sql.DB
}

var _ repository.TaskRepository = (*TaskRepo)(nil)

func (r *TaskRepo) PutTask(ctx context.Context, task domain.ProvisioningTask) error {
	status := task.LastKnownStatus
	if status == "" {
		status = domain.TaskPending
	}
	updatedAt := task.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO provisioning_tasks (resource_id, external_task_id, last_known_status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (resource_id) DO UPDATE SET
			external_task_id = excluded.external_task_id,
			last_known_status = excluded.last_known_status,
			updated_at = excluded.updated_at`,
		task.ResourceID, task.ExternalTaskID, string(status), updatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (r *TaskRepo) GetTask(ctx context.Context, resourceID string) (*domain.ProvisioningTask, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT resource_id, external_task_id, last_known_status, updated_at
		FROM provisioning_tasks WHERE resource_id = ?`,
		resourceID,
	)
	var task domain.ProvisioningTask
	var status, updatedAt string
	if err := row.Scan(&task.ResourceID, &task.ExternalTaskID, &status, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.LastKnownStatus = domain.TaskStatus(status)
	parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	task.UpdatedAt = parsed
	return &task, nil
}

func (r *TaskRepo) UpdateTaskStatus(ctx context.Context, resourceID string, status domain.TaskStatus) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE provisioning_tasks SET last_known_status = ?, updated_at = ? WHERE resource_id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), resourceID,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *TaskRepo) DeleteTask(ctx context.Context, resourceID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM provisioning_tasks WHERE resource_id = ?`, resourceID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
