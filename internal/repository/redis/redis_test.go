package redis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/repository"
	redisrepo "github.com/splax/agentdeploy/internal/repository/redis"
	"github.com/splax/agentdeploy/internal/repository/tasktest"
)

func newTestRepo(t *testing.T) (*redisrepo.Repository, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisrepo.NewWithClient(client), srv
}

func TestTaskRepo(t *testing.T) {
	tasktest.Run(t, func(t *testing.T) repository.TaskRepository {
		repo, _ := newTestRepo(t)
		return repo
	})
}

func TestGetTaskIgnoresHashWithoutHandle(t *testing.T) {
	repo, srv := newTestRepo(t)
	srv.HSet("agentdeploy:task:a1", "last_known_status", "SUCCESS")

	if _, err := repo.GetTask(context.Background(), "a1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTaskStatusDoesNotRecreateDeletedTask(t *testing.T) {
	repo, srv := newTestRepo(t)
	ctx := context.Background()
	if err := repo.PutTask(ctx, domain.ProvisioningTask{ResourceID: "a1", ExternalTaskID: "t1"}); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	if err := repo.DeleteTask(ctx, "a1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	if err := repo.UpdateTaskStatus(ctx, "a1", domain.TaskSuccess); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if srv.Exists("agentdeploy:task:a1") {
		t.Fatal("status update recreated a deleted task")
	}
}

func TestUpdateTaskStatusKeepsHandle(t *testing.T) {
	repo, srv := newTestRepo(t)
	ctx := context.Background()
	if err := repo.PutTask(ctx, domain.ProvisioningTask{ResourceID: "a1", ExternalTaskID: "t1"}); err != nil {
		t.Fatalf("PutTask: %v", err)
	}
	if err := repo.UpdateTaskStatus(ctx, "a1", domain.TaskFailed); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if got := srv.HGet("agentdeploy:task:a1", "external_task_id"); got != "t1" {
		t.Fatalf("handle = %q, want t1", got)
	}
	if got := srv.HGet("agentdeploy:task:a1", "last_known_status"); got != string(domain.TaskFailed) {
		t.Fatalf("status = %q, want FAILED", got)
	}
}
