// Package tasktest provides contract tests for [repository.TaskRepository]
// implementations.
package tasktest

import (
	"context"
	"errors"
	"testing"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/repository"
)

// Factory creates a fresh [repository.TaskRepository] for each test invocation.
type Factory func(t *testing.T) repository.TaskRepository

// Run exercises the [repository.TaskRepository] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("PutAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.PutTask(ctx, domain.ProvisioningTask{ResourceID: "a1", ExternalTaskID: "t1"}); err != nil {
			t.Fatalf("PutTask: %v", err)
		}

		got, err := repo.GetTask(ctx, "a1")
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if got.ExternalTaskID != "t1" {
			t.Errorf("ExternalTaskID = %q, want %q", got.ExternalTaskID, "t1")
		}
		if got.LastKnownStatus != domain.TaskPending {
			t.Errorf("LastKnownStatus = %q, want %q", got.LastKnownStatus, domain.TaskPending)
		}
	})

	t.Run("PutReplacesHandle", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.PutTask(ctx, domain.ProvisioningTask{ResourceID: "a1", ExternalTaskID: "t1", LastKnownStatus: domain.TaskFailed}); err != nil {
			t.Fatalf("first PutTask: %v", err)
		}
		if err := repo.PutTask(ctx, domain.ProvisioningTask{ResourceID: "a1", ExternalTaskID: "t2"}); err != nil {
			t.Fatalf("second PutTask: %v", err)
		}

		got, err := repo.GetTask(ctx, "a1")
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if got.ExternalTaskID != "t2" {
			t.Errorf("ExternalTaskID = %q, want %q", got.ExternalTaskID, "t2")
		}
		if got.LastKnownStatus != domain.TaskPending {
			t.Errorf("LastKnownStatus = %q, want %q", got.LastKnownStatus, domain.TaskPending)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.GetTask(context.Background(), "missing")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("GetTask: got %v, want ErrNotFound", err)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("GetTask: got %v, want domain.ErrNotFound", err)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.PutTask(ctx, domain.ProvisioningTask{ResourceID: "a1", ExternalTaskID: "t1"}); err != nil {
			t.Fatalf("PutTask: %v", err)
		}
		if err := repo.UpdateTaskStatus(ctx, "a1", domain.TaskSuccess); err != nil {
			t.Fatalf("UpdateTaskStatus: %v", err)
		}
		got, err := repo.GetTask(ctx, "a1")
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if got.LastKnownStatus != domain.TaskSuccess {
			t.Errorf("LastKnownStatus = %q, want %q", got.LastKnownStatus, domain.TaskSuccess)
		}
		if got.ExternalTaskID != "t1" {
			t.Errorf("ExternalTaskID = %q, want %q", got.ExternalTaskID, "t1")
		}
	})

	t.Run("UpdateStatusNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.UpdateTaskStatus(context.Background(), "missing", domain.TaskSuccess)
		if !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("UpdateTaskStatus: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.PutTask(ctx, domain.ProvisioningTask{ResourceID: "a1", ExternalTaskID: "t1"}); err != nil {
			t.Fatalf("PutTask: %v", err)
		}
		if err := repo.DeleteTask(ctx, "a1"); err != nil {
			t.Fatalf("DeleteTask: %v", err)
		}
		if _, err := repo.GetTask(ctx, "a1"); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("GetTask after delete: got %v, want ErrNotFound", err)
		}
		if err := repo.DeleteTask(ctx, "a1"); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("second DeleteTask: got %v, want ErrNotFound", err)
		}
	})
}
