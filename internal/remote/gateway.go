package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/splax/agentdeploy/internal/domain"
)

// GatewayClient drives the API gateway's asynchronous route provisioning.
type GatewayClient struct {
	t *transport
}

// NewGatewayClient constructs a GatewayClient.
func NewGatewayClient(baseURL string, opts ...Option) (*GatewayClient, error) {
	t, err := newTransport("gateway", baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &GatewayClient{t: t}, nil
}

type registerRouteRequest struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
}

type registerRouteResponse struct {
	WorkStatus  string `json:"work_status"`
	WorkMessage string `json:"work_message"`
	JobHandle   string `json:"job_handle"`
}

// Register submits a route registration job and returns its handle.
func (c *GatewayClient) Register(ctx context.Context, reg domain.RouteRegistration) (domain.GatewayJob, error) {
	body := registerRouteRequest{
		ResourceType: reg.ResourceType,
		ResourceID:   reg.ResourceID,
		Name:         reg.Name,
		Description:  reg.Description,
		ProjectID:    reg.ProjectID,
	}
	var resp registerRouteResponse
	if err := c.t.do(ctx, http.MethodPost, "/v1/routes/registrations", body, &resp); err != nil {
		return domain.GatewayJob{}, err
	}
	job := domain.GatewayJob{WorkStatus: resp.WorkStatus, WorkMessage: resp.WorkMessage, JobHandle: resp.JobHandle}
	if _, err := domain.IdentifierOf(job); err != nil {
		return domain.GatewayJob{}, fmt.Errorf("gateway register: %w", err)
	}
	return job, nil
}

type taskStatusResponse struct {
	Code int `json:"code"`
}

// GetTaskStatus returns the gateway's numeric status code for a job.
func (c *GatewayClient) GetTaskStatus(ctx context.Context, jobHandle string) (int, error) {
	var resp taskStatusResponse
	if err := c.t.do(ctx, http.MethodGet, "/v1/tasks/"+escape(jobHandle), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Code, nil
}

type routeResponse struct {
	APIID string `json:"api_id"`
	Path  string `json:"path"`
}

// FindRoute looks up a route by api id. A missing route is not an error.
func (c *GatewayClient) FindRoute(ctx context.Context, apiID string) (domain.Route, bool, error) {
	var resp routeResponse
	if err := c.t.do(ctx, http.MethodGet, "/v1/routes/"+escape(apiID), nil, &resp); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Route{}, false, nil
		}
		return domain.Route{}, false, err
	}
	route := domain.Route{APIID: resp.APIID, Path: resp.Path}
	_, found := route.GetID()
	return route, found, nil
}

type retryResponse struct {
	JobHandle string `json:"job_handle"`
}

// Retry resubmits a job and returns the new handle.
func (c *GatewayClient) Retry(ctx context.Context, jobHandle string) (string, error) {
	var resp retryResponse
	if err := c.t.do(ctx, http.MethodPost, "/v1/tasks/"+escape(jobHandle)+"/retry", nil, &resp); err != nil {
		return "", err
	}
	if resp.JobHandle == "" {
		return "", fmt.Errorf("gateway retry: %w: empty job handle", domain.ErrInvalidArgument)
	}
	return resp.JobHandle, nil
}

// DeleteRoute tears down a route.
func (c *GatewayClient) DeleteRoute(ctx context.Context, apiID string) error {
	return c.t.do(ctx, http.MethodDelete, "/v1/routes/"+escape(apiID), nil, nil)
}
