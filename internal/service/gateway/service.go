package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/metrics"
	"github.com/splax/agentdeploy/internal/repository"
)

// Gateway status codes reported by the job status endpoint.
const (
	CodePending    = 0
	CodeProcessing = 1
	CodeSuccess    = 2
	CodeFailed     = 3
)

// Provisioner is the remote gateway job API.
type Provisioner interface {
	Register(ctx context.Context, reg domain.RouteRegistration) (domain.GatewayJob, error)
	GetTaskStatus(ctx context.Context, jobHandle string) (int, error)
	FindRoute(ctx context.Context, apiID string) (domain.Route, bool, error)
	Retry(ctx context.Context, jobHandle string) (string, error)
	DeleteRoute(ctx context.Context, apiID string) error
}

// Service registers gateway routes and reconciles their provisioning status.
type Service struct {
	gateway Provisioner
	tasks   repository.TaskRepository
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// New constructs a gateway Service.
func New(gateway Provisioner, tasks repository.TaskRepository, logger *slog.Logger, rec *metrics.Recorder) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		gateway: gateway,
		tasks:   tasks,
		logger:  logger.With("component", "gateway"),
		metrics: rec,
		now:     time.Now,
	}
}

// Register submits a route registration and stores the returned job handle
// under the resource id. It does not wait for the route to become live.
func (s Service) Register(ctx context.Context, reg domain.RouteRegistration) (domain.ProvisioningTask, error) {
	if strings.TrimSpace(reg.ResourceID) == "" {
		return domain.ProvisioningTask{}, domain.Invalid("resource id is required")
	}
	job, err := s.gateway.Register(ctx, reg)
	if err != nil {
		return domain.ProvisioningTask{}, fmt.Errorf("register route: %w", err)
	}
	task := domain.ProvisioningTask{
		ResourceID:      reg.ResourceID,
		ExternalTaskID:  job.JobHandle,
		LastKnownStatus: domain.TaskPending,
		UpdatedAt:       s.now().UTC(),
	}
	if err := s.tasks.PutTask(ctx, task); err != nil {
		return task, fmt.Errorf("store provisioning task: %w", err)
	}
	s.logger.Info("route registration submitted", "resource_id", reg.ResourceID, "task_id", job.JobHandle, "work_status", job.WorkStatus)
	return task, nil
}

// CheckStatus reports the provisioning status of a resource's route. When the
// status feed says FAILED or gives no answer, the route lookup decides: a
// route that exists is SUCCESS. If the lookup itself errors the status is
// PROCESSING and marked ambiguous.
func (s Service) CheckStatus(ctx context.Context, resourceID string) (domain.ProvisioningStatus, error) {
	if strings.TrimSpace(resourceID) == "" {
		return domain.ProvisioningStatus{}, domain.Invalid("resource id is required")
	}
	result := domain.ProvisioningStatus{ResourceID: resourceID, Status: domain.TaskFailed}

	task, err := s.tasks.GetTask(ctx, resourceID)
	switch {
	case err == nil:
		result.ExternalTaskID = task.ExternalTaskID
	case errors.Is(err, repository.ErrNotFound):
		s.logger.Debug("no provisioning task stored", "resource_id", resourceID)
	default:
		s.logger.Warn("provisioning task lookup failed", "resource_id", resourceID, "error", err)
	}

	if result.ExternalTaskID != "" {
		code, err := s.gateway.GetTaskStatus(ctx, result.ExternalTaskID)
		if err != nil {
			s.logger.Warn("gateway task status unavailable", "resource_id", resourceID, "task_id", result.ExternalTaskID, "error", err)
		} else {
			result.Status = MapStatusCode(code)
		}
	}

	if result.Status == domain.TaskFailed {
		result = s.reconcile(ctx, result)
	}

	if task != nil && task.LastKnownStatus != result.Status && !result.Ambiguous {
		if err := s.tasks.UpdateTaskStatus(ctx, resourceID, result.Status); err != nil {
			s.logger.Warn("record provisioning status failed", "resource_id", resourceID, "error", err)
		}
	}
	return result, nil
}

func (s Service) reconcile(ctx context.Context, result domain.ProvisioningStatus) domain.ProvisioningStatus {
	_, found, err := s.gateway.FindRoute(ctx, result.ResourceID)
	switch {
	case err != nil:
		s.logger.Warn("route lookup failed, status unknown", "resource_id", result.ResourceID, "task_id", result.ExternalTaskID, "error", err)
		s.metrics.Reconciliation("ambiguous")
		result.Status = domain.TaskProcessing
		result.Ambiguous = true
	case found:
		s.logger.Info("route exists, upgrading status", "resource_id", result.ResourceID, "task_id", result.ExternalTaskID)
		s.metrics.Reconciliation("upgraded")
		result.Status = domain.TaskSuccess
		result.Reconciled = true
	default:
		s.metrics.Reconciliation("failed")
	}
	return result
}

// Retry resubmits the stored job and replaces the stored handle with the new
// one. Gateway errors are returned unchanged.
func (s Service) Retry(ctx context.Context, resourceID string) (domain.ProvisioningTask, error) {
	if strings.TrimSpace(resourceID) == "" {
		return domain.ProvisioningTask{}, domain.Invalid("resource id is required")
	}
	task, err := s.tasks.GetTask(ctx, resourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ProvisioningTask{}, fmt.Errorf("resource %s: %w", resourceID, domain.ErrNoProvisioningTask)
		}
		return domain.ProvisioningTask{}, err
	}
	handle, err := s.gateway.Retry(ctx, task.ExternalTaskID)
	if err != nil {
		return domain.ProvisioningTask{}, err
	}
	next := domain.ProvisioningTask{
		ResourceID:      resourceID,
		ExternalTaskID:  handle,
		LastKnownStatus: domain.TaskPending,
		UpdatedAt:       s.now().UTC(),
	}
	if err := s.tasks.PutTask(ctx, next); err != nil {
		return next, fmt.Errorf("store provisioning task: %w", err)
	}
	s.logger.Info("route registration retried", "resource_id", resourceID, "previous_task_id", task.ExternalTaskID, "task_id", handle)
	return next, nil
}

// Teardown deletes the route and forgets the stored job handle. Both steps
// run; the first error is returned.
func (s Service) Teardown(ctx context.Context, resourceID string) error {
	if strings.TrimSpace(resourceID) == "" {
		return domain.Invalid("resource id is required")
	}
	var errs []error
	if err := s.gateway.DeleteRoute(ctx, resourceID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete route: %w", err))
	}
	if err := s.tasks.DeleteTask(ctx, resourceID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete provisioning task: %w", err))
	}
	return errors.Join(errs...)
}

// MapStatusCode maps the gateway's numeric job status. Unknown codes count
// as FAILED so that the route lookup decides.
func MapStatusCode(code int) domain.TaskStatus {
	switch code {
	case CodePending, CodeProcessing:
		return domain.TaskProcessing
	case CodeSuccess:
		return domain.TaskSuccess
	default:
		return domain.TaskFailed
	}
}
