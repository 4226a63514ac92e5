package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var _ repository.TaskRepository = (*Repository)(nil)

// PutTask stores the job handle for a resource, replacing any previous one.
func (r *Repository) PutTask(ctx context.Context, task domain.ProvisioningTask) error {
	const query = `INSERT INTO provisioning_tasks (resource_id, external_task_id, last_known_status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource_id) DO UPDATE
		SET external_task_id = EXCLUDED.external_task_id,
			last_known_status = EXCLUDED.last_known_status,
			updated_at = EXCLUDED.updated_at`
	status := task.LastKnownStatus
	if status == "" {
		status = domain.TaskPending
	}
	updatedAt := task.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, query, task.ResourceID, task.ExternalTaskID, string(status), updatedAt)
	return err
}

// GetTask fetches the stored job handle for a resource.
func (r *Repository) GetTask(ctx context.Context, resourceID string) (*domain.ProvisioningTask, error) {
	const query = `SELECT resource_id, external_task_id, last_known_status, updated_at
		FROM provisioning_tasks WHERE resource_id = $1`
	row := r.pool.QueryRow(ctx, query, resourceID)
	var task domain.ProvisioningTask
	var status string
	if err := row.Scan(&task.ResourceID, &task.ExternalTaskID, &status, &task.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	task.LastKnownStatus = domain.TaskStatus(strings.ToUpper(status))
	return &task, nil
}

// UpdateTaskStatus records the last status observed for a resource's job.
func (r *Repository) UpdateTaskStatus(ctx context.Context, resourceID string, status domain.TaskStatus) error {
	const query = `UPDATE provisioning_tasks SET last_known_status = $2, updated_at = NOW() WHERE resource_id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, resourceID, string(status))
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteTask removes the job pointer for a resource.
func (r *Repository) DeleteTask(ctx context.Context, resourceID string) error {
	const query = `DELETE FROM provisioning_tasks WHERE resource_id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, resourceID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
