package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/splax/agentdeploy/internal/domain"
)

// RegistryClient talks to the resource registry that owns runtime entities
// and grouped resources.
type RegistryClient struct {
	t *transport
}

// NewRegistryClient constructs a RegistryClient.
func NewRegistryClient(baseURL string, opts ...Option) (*RegistryClient, error) {
	t, err := newTransport("registry", baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &RegistryClient{t: t}, nil
}

type resourceLimits struct {
	CPUMin      float64 `json:"cpu_min,omitempty"`
	CPUMax      float64 `json:"cpu_max,omitempty"`
	MemoryMinMB int     `json:"memory_min_mb,omitempty"`
	MemoryMaxMB int     `json:"memory_max_mb,omitempty"`
	ReplicasMin int     `json:"replicas_min,omitempty"`
	ReplicasMax int     `json:"replicas_max,omitempty"`
}

func toWireLimits(l domain.ResourceLimits) resourceLimits {
	return resourceLimits{
		CPUMin:      l.CPUMin,
		CPUMax:      l.CPUMax,
		MemoryMinMB: l.MemoryMinMB,
		MemoryMaxMB: l.MemoryMaxMB,
		ReplicasMin: l.ReplicasMin,
		ReplicasMax: l.ReplicasMax,
	}
}

type createResourceRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	TargetID    string         `json:"target_id"`
	TargetType  string         `json:"target_type"`
	Limits      resourceLimits `json:"limits"`
	Attachment  *attachment    `json:"attachment,omitempty"`
}

type attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

type createResourceResponse struct {
	ResourceID   string `json:"resource_id"`
	ServingID    string `json:"serving_id,omitempty"`
	DeploymentID string `json:"deployment_id,omitempty"`
}

func (r createResourceResponse) GetID() (string, bool) {
	return r.ResourceID, r.ResourceID != ""
}

// Create registers the runtime entity for req.
func (c *RegistryClient) Create(ctx context.Context, req domain.DeploymentRequest) (domain.RegistryResult, error) {
	body := createResourceRequest{
		Name:        req.Name,
		Description: req.Description,
		TargetID:    req.Target.ID,
		TargetType:  req.Target.Type,
		Limits:      toWireLimits(req.Limits),
	}
	if req.Attachment != nil {
		body.Attachment = &attachment{
			Name:        req.Attachment.Name,
			ContentType: req.Attachment.ContentType,
			Data:        req.Attachment.Data,
		}
	}
	var resp createResourceResponse
	if err := c.t.do(ctx, http.MethodPost, "/v1/resources", body, &resp); err != nil {
		return domain.RegistryResult{}, err
	}
	id, err := domain.IdentifierOf(resp)
	if err != nil {
		return domain.RegistryResult{}, fmt.Errorf("registry create: %w", err)
	}
	return domain.RegistryResult{ResourceID: id, ServingID: resp.ServingID, DeploymentID: resp.DeploymentID}, nil
}

type updateResourceRequest struct {
	Description *string         `json:"description,omitempty"`
	Limits      *resourceLimits `json:"limits,omitempty"`
}

// Update applies patch to an existing resource.
func (c *RegistryClient) Update(ctx context.Context, resourceID string, patch domain.DeploymentPatch) error {
	body := updateResourceRequest{Description: patch.Description}
	if patch.Limits != nil {
		limits := toWireLimits(*patch.Limits)
		body.Limits = &limits
	}
	return c.t.do(ctx, http.MethodPatch, "/v1/resources/"+escape(resourceID), body, nil)
}

// Delete removes a resource.
func (c *RegistryClient) Delete(ctx context.Context, resourceID string) error {
	return c.t.do(ctx, http.MethodDelete, "/v1/resources/"+escape(resourceID), nil, nil)
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
}

type createGroupResponse struct {
	GroupID string `json:"group_id"`
}

func (r createGroupResponse) GetID() (string, bool) {
	return r.GroupID, r.GroupID != ""
}

// CreateGroup creates the parent entity of a grouped resource.
func (c *RegistryClient) CreateGroup(ctx context.Context, spec domain.GroupSpec) (string, error) {
	var resp createGroupResponse
	body := createGroupRequest{Name: spec.Name, Description: spec.Description, ProjectID: spec.ProjectID}
	if err := c.t.do(ctx, http.MethodPost, "/v1/groups", body, &resp); err != nil {
		return "", err
	}
	id, err := domain.IdentifierOf(resp)
	if err != nil {
		return "", fmt.Errorf("registry create group: %w", err)
	}
	return id, nil
}

type groupMember struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

type addMembersRequest struct {
	Members []groupMember `json:"members"`
}

type addMembersResponse struct {
	Members []groupMember `json:"members"`
}

// AddMembers attaches the child collection to parentID.
func (c *RegistryClient) AddMembers(ctx context.Context, parentID string, spec domain.MemberSpec) ([]domain.GroupMember, error) {
	body := addMembersRequest{Members: make([]groupMember, 0, len(spec.Members))}
	for _, m := range spec.Members {
		body.Members = append(body.Members, groupMember{Name: m.Name, Value: m.Value})
	}
	var resp addMembersResponse
	if err := c.t.do(ctx, http.MethodPost, "/v1/groups/"+escape(parentID)+"/members", body, &resp); err != nil {
		return nil, err
	}
	members := make([]domain.GroupMember, 0, len(resp.Members))
	for _, m := range resp.Members {
		members = append(members, domain.GroupMember{ID: m.ID, Name: m.Name, Value: m.Value})
	}
	return members, nil
}

// DeleteGroup removes a parent; the registry cascades to its members.
func (c *RegistryClient) DeleteGroup(ctx context.Context, parentID string) error {
	return c.t.do(ctx, http.MethodDelete, "/v1/groups/"+escape(parentID), nil, nil)
}
