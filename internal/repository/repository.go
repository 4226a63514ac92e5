package repository

import (
	"context"

	"github.com/splax/agentdeploy/internal/domain"
)

// TaskRepository persists the pointer from a resource to its gateway job.
// Rows are written by one registration at a time per resource and read by
// unrelated status checks.
type TaskRepository interface {
	PutTask(ctx context.Context, task domain.ProvisioningTask) error
	GetTask(ctx context.Context, resourceID string) (*domain.ProvisioningTask, error)
	UpdateTaskStatus(ctx context.Context, resourceID string, status domain.TaskStatus) error
	DeleteTask(ctx context.Context, resourceID string) error
}
