package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/repository"
)

const (
	defaultPrefix = "agentdeploy:task:"
	maxTxRetries  = 3
)

// Repository stores provisioning tasks as one hash per resource.
type Repository struct {
	client *goredis.Client
	prefix string
}

var _ repository.TaskRepository = (*Repository)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Repository, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Repository{client: client, prefix: defaultPrefix}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client) *Repository {
	return &Repository{client: client, prefix: defaultPrefix}
}

func (r *Repository) key(resourceID string) string {
	return r.prefix + resourceID
}

// PutTask stores the job handle for a resource, replacing any previous one.
func (r *Repository) PutTask(ctx context.Context, task domain.ProvisioningTask) error {
	status := task.LastKnownStatus
	if status == "" {
		status = domain.TaskPending
	}
	updatedAt := task.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return r.client.HSet(ctx, r.key(task.ResourceID),
		"external_task_id", task.ExternalTaskID,
		"last_known_status", string(status),
		"updated_at", updatedAt.Format(time.RFC3339Nano),
	).Err()
}

// GetTask fetches the stored job handle for a resource.
func (r *Repository) GetTask(ctx context.Context, resourceID string) (*domain.ProvisioningTask, error) {
	fields, err := r.client.HGetAll(ctx, r.key(resourceID)).Result()
	if err != nil {
		return nil, err
	}
	handle, ok := fields["external_task_id"]
	if !ok {
		return nil, repository.ErrNotFound
	}
	task := &domain.ProvisioningTask{
		ResourceID:      resourceID,
		ExternalTaskID:  handle,
		LastKnownStatus: domain.TaskStatus(fields["last_known_status"]),
	}
	if raw := fields["updated_at"]; raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			task.UpdatedAt = parsed
		}
	}
	return task, nil
}

// UpdateTaskStatus records the last status observed for a resource's job.
// The existence check and the write run under WATCH so a concurrent delete
// cannot leave a hash without a handle behind.
func (r *Repository) UpdateTaskStatus(ctx context.Context, resourceID string, status domain.TaskStatus) error {
	key := r.key(resourceID)
	update := func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"last_known_status", string(status),
				"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
			)
			return nil
		})
		return err
	}
	for range maxTxRetries {
		err := r.client.Watch(ctx, update, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update task status %s: %w", resourceID, goredis.TxFailedErr)
}

// DeleteTask removes the job pointer for a resource.
func (r *Repository) DeleteTask(ctx context.Context, resourceID string) error {
	n, err := r.client.Del(ctx, r.key(resourceID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Close releases the underlying client.
func (r *Repository) Close() error {
	return r.client.Close()
}
