package deploy

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/metrics"
	"github.com/splax/agentdeploy/internal/service/bulk"
	"github.com/splax/agentdeploy/internal/service/policy"
)

// ResourceType is the gateway and lineage type of a deployed agent.
const ResourceType = "agent"

// Advisory step names, used in logs and metrics.
const (
	StepLineage = "lineage"
	StepGateway = "gateway"
	StepPolicy  = "policy"
)

// Registry creates the runtime entity behind a deployment.
type Registry interface {
	Create(ctx context.Context, req domain.DeploymentRequest) (domain.RegistryResult, error)
	Update(ctx context.Context, resourceID string, patch domain.DeploymentPatch) error
	Delete(ctx context.Context, resourceID string) error
}

// Lineage records how deployments relate to their targets.
type Lineage interface {
	Record(ctx context.Context, edge domain.LineageEdge) error
	Delete(ctx context.Context, resourceID string) error
}

// Provisioning registers gateway routes and tracks them.
type Provisioning interface {
	Register(ctx context.Context, reg domain.RouteRegistration) (domain.ProvisioningTask, error)
	CheckStatus(ctx context.Context, resourceID string) (domain.ProvisioningStatus, error)
	Retry(ctx context.Context, resourceID string) (domain.ProvisioningTask, error)
	Teardown(ctx context.Context, resourceID string) error
}

// Policies resolves owners and grants access to resources.
type Policies interface {
	Resolve(owner domain.OwnerContext, session *domain.Session) domain.Grantee
	Grant(ctx context.Context, resourceURL string, owner domain.OwnerContext) (domain.Grantee, error)
	ListGrants(ctx context.Context, resourceURL string) ([]domain.PolicyGrant, error)
}

// Groups manages grouped resources.
type Groups interface {
	CreateGroup(ctx context.Context, parent domain.GroupSpec, members domain.MemberSpec) (domain.GroupedResource, error)
	DeleteGroup(ctx context.Context, parentID string) error
	DeleteGroups(ctx context.Context, ids []string) (bulk.Outcome, error)
}

// Orchestrator sequences deployment creation across the registry and the
// advisory collaborators. Registry failures abort the call. Lineage, gateway
// and policy failures are logged and dropped.
type Orchestrator struct {
	registry  Registry
	lineage   Lineage
	gateway   Provisioning
	policies  Policies
	groups    Groups
	urlPrefix string
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = rec }
}

// WithResourceURLPrefix sets the prefix used to build policy resource URLs.
func WithResourceURLPrefix(prefix string) Option {
	return func(o *Orchestrator) { o.urlPrefix = prefix }
}

// New constructs an Orchestrator.
func New(registry Registry, lineage Lineage, gateway Provisioning, policies Policies, groups Groups, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:  registry,
		lineage:   lineage,
		gateway:   gateway,
		policies:  policies,
		groups:    groups,
		urlPrefix: "agents://",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o
}

// ResourceURL is the policy URL of a deployed resource.
func (o *Orchestrator) ResourceURL(resourceID string) string {
	return o.urlPrefix + resourceID
}

// CreateDeployment creates the runtime entity and then, independently, records
// lineage, registers a gateway route and grants access. The result depends
// only on the registry call.
func (o *Orchestrator) CreateDeployment(ctx context.Context, req domain.DeploymentRequest) (domain.DeploymentResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.DeploymentResult{}, domain.Invalid("deployment name is required")
	}
	if _, err := domain.IdentifierOf(req.Target); err != nil {
		return domain.DeploymentResult{}, domain.Invalid("deployment target id is required")
	}

	grantee := o.policies.Resolve(req.Owner, domain.SessionFrom(ctx))

	created, err := o.registry.Create(ctx, req)
	if err != nil {
		return domain.DeploymentResult{}, &domain.PrimaryError{Op: "create", Err: err}
	}
	resourceID, err := domain.IdentifierOf(created)
	if err != nil {
		return domain.DeploymentResult{}, &domain.PrimaryError{Op: "create", Err: err}
	}
	result := domain.DeploymentResult{
		ResourceID:   resourceID,
		ServingID:    created.ServingID,
		DeploymentID: created.DeploymentID,
		Status:       domain.DeploymentCreated,
	}
	logger := o.requestLogger(ctx).With("resource_id", resourceID)
	logger.Info("deployment created", "name", req.Name, "target_id", req.Target.ID, "grantee_source", grantee.Source)

	o.advise(ctx, logger, resourceID,
		advisoryStep{name: StepLineage, run: func(ctx context.Context) error {
			return o.lineage.Record(ctx, domain.LineageEdge{
				SourceID:   req.Target.ID,
				SourceType: req.Target.Type,
				TargetID:   resourceID,
				TargetType: ResourceType,
				Action:     "deploy",
			})
		}},
		advisoryStep{name: StepGateway, run: func(ctx context.Context) error {
			task, err := o.gateway.Register(ctx, domain.RouteRegistration{
				ResourceType: ResourceType,
				ResourceID:   resourceID,
				Name:         req.Name,
				Description:  req.Description,
				ProjectID:    grantee.ProjectID,
			})
			if err == nil {
				logger.Debug("gateway registration accepted", "task_id", task.ExternalTaskID)
			}
			return err
		}},
		advisoryStep{name: StepPolicy, run: func(ctx context.Context) error {
			_, err := o.policies.Grant(ctx, o.ResourceURL(resourceID), req.Owner)
			return err
		}},
	)
	return result, nil
}

// DeleteDeployment deletes the runtime entity. Lineage and gateway cleanup
// follow and never fail the call.
func (o *Orchestrator) DeleteDeployment(ctx context.Context, resourceID string) (domain.DeploymentResult, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return domain.DeploymentResult{}, domain.Invalid("resource id is required")
	}
	if err := o.registry.Delete(ctx, resourceID); err != nil {
		return domain.DeploymentResult{}, &domain.PrimaryError{Op: "delete", Err: err}
	}
	logger := o.requestLogger(ctx).With("resource_id", resourceID)
	logger.Info("deployment deleted")

	o.advise(ctx, logger, resourceID,
		advisoryStep{name: StepLineage, run: func(ctx context.Context) error {
			return o.lineage.Delete(ctx, resourceID)
		}},
		advisoryStep{name: StepGateway, run: func(ctx context.Context) error {
			return o.gateway.Teardown(ctx, resourceID)
		}},
	)
	return domain.DeploymentResult{ResourceID: resourceID, Status: domain.DeploymentDeleted}, nil
}

// UpdateDeployment patches the runtime entity.
func (o *Orchestrator) UpdateDeployment(ctx context.Context, resourceID string, patch domain.DeploymentPatch) (domain.DeploymentResult, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return domain.DeploymentResult{}, domain.Invalid("resource id is required")
	}
	if patch.Empty() {
		return domain.DeploymentResult{}, domain.Invalid("patch has no changes")
	}
	if err := o.registry.Update(ctx, resourceID, patch); err != nil {
		return domain.DeploymentResult{}, &domain.PrimaryError{Op: "update", Err: err}
	}
	o.requestLogger(ctx).Info("deployment updated", "resource_id", resourceID)
	return domain.DeploymentResult{ResourceID: resourceID, Status: domain.DeploymentUpdated}, nil
}

// SetPolicy grants access on an existing deployment. A grant that already
// exists is a success.
func (o *Orchestrator) SetPolicy(ctx context.Context, resourceID string, owner domain.OwnerContext) (domain.Grantee, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return domain.Grantee{}, domain.Invalid("resource id is required")
	}
	grantee, err := o.policies.Grant(ctx, o.ResourceURL(resourceID), owner)
	if err != nil && !errors.Is(err, policy.ErrDuplicateGrant) {
		return domain.Grantee{}, err
	}
	return grantee, nil
}

// ListGrants returns the direct grants on a deployment.
func (o *Orchestrator) ListGrants(ctx context.Context, resourceID string) ([]domain.PolicyGrant, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return nil, domain.Invalid("resource id is required")
	}
	return o.policies.ListGrants(ctx, o.ResourceURL(resourceID))
}

// CheckStatus reports the gateway provisioning status of a deployment.
func (o *Orchestrator) CheckStatus(ctx context.Context, resourceID string) (domain.ProvisioningStatus, error) {
	return o.gateway.CheckStatus(ctx, resourceID)
}

// RetryProvisioning resubmits the gateway registration of a deployment.
func (o *Orchestrator) RetryProvisioning(ctx context.Context, resourceID string) (domain.ProvisioningTask, error) {
	return o.gateway.Retry(ctx, resourceID)
}

// CreateGroup creates a grouped resource as a unit.
func (o *Orchestrator) CreateGroup(ctx context.Context, parent domain.GroupSpec, members domain.MemberSpec) (domain.GroupedResource, error) {
	return o.groups.CreateGroup(ctx, parent, members)
}

// DeleteGroup deletes a grouped resource.
func (o *Orchestrator) DeleteGroup(ctx context.Context, parentID string) error {
	return o.groups.DeleteGroup(ctx, parentID)
}

// DeleteGroups deletes many grouped resources and reports the counts.
func (o *Orchestrator) DeleteGroups(ctx context.Context, ids []string) (bulk.Outcome, error) {
	return o.groups.DeleteGroups(ctx, ids)
}

func (o *Orchestrator) requestLogger(ctx context.Context) *slog.Logger {
	if call := domain.CallFrom(ctx); call != nil {
		return o.logger.With("request_id", call.RequestID)
	}
	return o.logger
}
